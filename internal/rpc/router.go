// Package rpc implements the JSON-RPC 2.0 dispatcher that fronts every
// transport (HTTP, WebSocket, unix socket), per spec §4.2/§6/§7.
package rpc

import (
	"context"
	"encoding/json"

	"github.com/kandev/daemon/internal/platform/apperr"
	"github.com/kandev/daemon/internal/platform/logger"
)

// Request is one JSON-RPC 2.0 request object.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is one JSON-RPC 2.0 response object.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Handler processes one method call and returns a result to be marshaled,
// or an error.
type Handler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Router dispatches requests to registered method handlers.
type Router struct {
	handlers map[string]Handler
	log      *logger.Logger
}

// NewRouter constructs an empty Router.
func NewRouter(log *logger.Logger) *Router {
	if log == nil {
		log = logger.Default()
	}
	return &Router{handlers: make(map[string]Handler), log: log}
}

// Register adds a method handler. Registering the same method twice
// overwrites the previous handler; callers register once at startup.
func (r *Router) Register(method string, h Handler) {
	r.handlers[method] = h
}

// HandleRaw parses, validates, and dispatches a single JSON-RPC request
// frame, returning the Response to send on the wire. A handler panic is
// recovered during dispatch and reported as a -32000 server error.
func (r *Router) HandleRaw(ctx context.Context, raw []byte) Response {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return errorResponse(nil, apperr.CodeParseError, "invalid JSON")
	}
	return r.Handle(ctx, req)
}

// Handle validates and dispatches a parsed Request.
func (r *Router) Handle(ctx context.Context, req Request) Response {
	if req.JSONRPC != "2.0" {
		return errorResponse(req.ID, apperr.CodeInvalidRequest, "jsonrpc must be \"2.0\"")
	}
	if req.Method == "" {
		return errorResponse(req.ID, apperr.CodeInvalidRequest, "method is required")
	}

	h, ok := r.handlers[req.Method]
	if !ok {
		return errorResponse(req.ID, apperr.CodeMethodNotFound, "method not found: "+req.Method)
	}

	result, err := invoke(ctx, h, req.Params)
	if err != nil {
		if ve, ok := err.(*validationError); ok {
			return errorResponse(req.ID, apperr.CodeInvalidParams, ve.msg)
		}
		return errorResponse(req.ID, apperr.RPCCode(err), err.Error())
	}

	resultJSON, merr := json.Marshal(result)
	if merr != nil {
		return errorResponse(req.ID, apperr.CodeInternalError, merr.Error())
	}
	return Response{JSONRPC: "2.0", ID: req.ID, Result: resultJSON}
}

func invoke(ctx context.Context, h Handler, params json.RawMessage) (result interface{}, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = apperr.Internal(panicError{rec})
		}
	}()
	return h(ctx, params)
}

type panicError struct{ v interface{} }

func (p panicError) Error() string { return "handler panic" }

// validationError marks a bad-params failure the router reports directly
// as -32602, bypassing apperr.RPCCode's blanket -32000 mapping.
type validationError struct{ msg string }

func (v *validationError) Error() string { return v.msg }

// BadParams constructs a -32602-mapped error for use inside method
// handlers when decoding or validating params fails.
func BadParams(msg string) error { return &validationError{msg: msg} }

func errorResponse(id interface{}, code int, msg string) Response {
	return Response{JSONRPC: "2.0", ID: id, Error: &Error{Code: code, Message: msg}}
}

// decodeParams unmarshals params into v, returning a BadParams error on
// failure so the router reports -32602 instead of -32000.
func decodeParams(params json.RawMessage, v interface{}) error {
	if len(params) == 0 {
		return BadParams("params is required")
	}
	if err := json.Unmarshal(params, v); err != nil {
		return BadParams("invalid params: " + err.Error())
	}
	return nil
}
