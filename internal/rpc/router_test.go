package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/daemon/internal/platform/apperr"
)

func TestRouter_UnknownMethodReturnsMethodNotFound(t *testing.T) {
	r := NewRouter(nil)
	resp := r.Handle(context.Background(), Request{JSONRPC: "2.0", ID: 1, Method: "no.such.method"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, apperr.CodeMethodNotFound, resp.Error.Code)
}

func TestRouter_BadJSONRPCVersionRejected(t *testing.T) {
	r := NewRouter(nil)
	resp := r.Handle(context.Background(), Request{JSONRPC: "1.0", ID: 1, Method: "anything"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, apperr.CodeInvalidRequest, resp.Error.Code)
}

func TestRouter_MissingMethodRejected(t *testing.T) {
	r := NewRouter(nil)
	resp := r.Handle(context.Background(), Request{JSONRPC: "2.0", ID: 1})
	require.NotNil(t, resp.Error)
	assert.Equal(t, apperr.CodeInvalidRequest, resp.Error.Code)
}

func TestRouter_BadParamsMapsToInvalidParams(t *testing.T) {
	r := NewRouter(nil)
	r.Register("echo", func(_ context.Context, params json.RawMessage) (interface{}, error) {
		var p struct {
			X int `json:"x"`
		}
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return p, nil
	})
	resp := r.Handle(context.Background(), Request{JSONRPC: "2.0", ID: 1, Method: "echo"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, apperr.CodeInvalidParams, resp.Error.Code)
}

func TestRouter_NotFoundErrorMapsToServerError(t *testing.T) {
	r := NewRouter(nil)
	r.Register("boom", func(context.Context, json.RawMessage) (interface{}, error) {
		return nil, apperr.NotFound("task", "t1")
	})
	resp := r.Handle(context.Background(), Request{JSONRPC: "2.0", ID: 1, Method: "boom"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, apperr.CodeServerError, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "t1")
}

func TestRouter_ParseErrorOnMalformedJSON(t *testing.T) {
	r := NewRouter(nil)
	resp := r.HandleRaw(context.Background(), []byte("{not json"))
	require.NotNil(t, resp.Error)
	assert.Equal(t, apperr.CodeParseError, resp.Error.Code)
}

func TestRouter_SuccessfulCallReturnsResult(t *testing.T) {
	r := NewRouter(nil)
	r.Register("ping", func(context.Context, json.RawMessage) (interface{}, error) {
		return map[string]string{"pong": "ok"}, nil
	})
	resp := r.Handle(context.Background(), Request{JSONRPC: "2.0", ID: 7, Method: "ping"})
	require.Nil(t, resp.Error)
	assert.Equal(t, 7, resp.ID)
	var result map[string]string
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.Equal(t, "ok", result["pong"])
}

func TestRouter_HandlerPanicRecoveredAsInternalError(t *testing.T) {
	r := NewRouter(nil)
	r.Register("panics", func(context.Context, json.RawMessage) (interface{}, error) {
		panic(errors.New("boom"))
	})
	resp := r.Handle(context.Background(), Request{JSONRPC: "2.0", ID: 1, Method: "panics"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, apperr.CodeServerError, resp.Error.Code)
}
