package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	v1 "github.com/kandev/daemon/pkg/api/v1"
)

// SQLiteStore is the production Store implementation, grounded on the
// teacher's jmoiron/sqlx usage. The row schema is not part of the external
// contract (spec §6); nested fields are serialised as JSON columns rather
// than normalised tables, keeping the migration surface small.
type SQLiteStore struct {
	db *sqlx.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS agent_instances (
	id TEXT PRIMARY KEY,
	role TEXT,
	team_id TEXT,
	server_id TEXT,
	state TEXT,
	data TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	swim_lane_id TEXT,
	data TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS swim_lanes (
	id TEXT PRIMARY KEY,
	data TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS teams (
	id TEXT PRIMARY KEY,
	data TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS pipelines (
	id TEXT PRIMARY KEY,
	data TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS pipeline_runs (
	id TEXT PRIMARY KEY,
	status TEXT,
	data TEXT NOT NULL
);
`

// NewSQLiteStore opens (creating if necessary) the SQLite database at path
// and ensures the schema exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sqlx.Connect("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) SaveAgent(ctx context.Context, a *v1.AgentInstance) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agent_instances (id, role, team_id, server_id, state, data)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET role=excluded.role, team_id=excluded.team_id,
			server_id=excluded.server_id, state=excluded.state, data=excluded.data
	`, a.ID, string(a.Role), a.TeamID, a.ServerID, string(a.State), string(data))
	return err
}

func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*v1.AgentInstance, error) {
	var data string
	err := s.db.GetContext(ctx, &data, `SELECT data FROM agent_instances WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var a v1.AgentInstance
	if err := json.Unmarshal([]byte(data), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *SQLiteStore) ListAgents(ctx context.Context, filter AgentFilter) ([]*v1.AgentInstance, error) {
	query := `SELECT data FROM agent_instances WHERE 1=1`
	var args []interface{}
	if filter.Status != "" {
		query += ` AND state = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Role != "" {
		query += ` AND role = ?`
		args = append(args, string(filter.Role))
	}
	if filter.TeamID != "" {
		query += ` AND team_id = ?`
		args = append(args, filter.TeamID)
	}
	if filter.Runtime != "" {
		query += ` AND server_id = ?`
		args = append(args, filter.Runtime)
	}

	var rows []string
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]*v1.AgentInstance, 0, len(rows))
	for _, r := range rows {
		var a v1.AgentInstance
		if err := json.Unmarshal([]byte(r), &a); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, nil
}

func (s *SQLiteStore) DeleteAgent(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM agent_instances WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) SaveTask(ctx context.Context, t *v1.Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, swim_lane_id, data) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET swim_lane_id=excluded.swim_lane_id, data=excluded.data
	`, t.ID, t.SwimLaneID, string(data))
	return err
}

func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*v1.Task, error) {
	var data string
	err := s.db.GetContext(ctx, &data, `SELECT data FROM tasks WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var t v1.Task
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *SQLiteStore) ListTasks(ctx context.Context, swimLaneID string) ([]*v1.Task, error) {
	query := `SELECT data FROM tasks`
	var args []interface{}
	if swimLaneID != "" {
		query += ` WHERE swim_lane_id = ?`
		args = append(args, swimLaneID)
	}
	var rows []string
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]*v1.Task, 0, len(rows))
	for _, r := range rows {
		var t v1.Task
		if err := json.Unmarshal([]byte(r), &t); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, nil
}

func (s *SQLiteStore) DeleteTask(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) SaveLane(ctx context.Context, l *v1.SwimLane) error {
	data, err := json.Marshal(l)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO swim_lanes (id, data) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET data=excluded.data
	`, l.ID, string(data))
	return err
}

func (s *SQLiteStore) GetLane(ctx context.Context, id string) (*v1.SwimLane, error) {
	var data string
	err := s.db.GetContext(ctx, &data, `SELECT data FROM swim_lanes WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var l v1.SwimLane
	if err := json.Unmarshal([]byte(data), &l); err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *SQLiteStore) ListLanes(ctx context.Context) ([]*v1.SwimLane, error) {
	var rows []string
	if err := s.db.SelectContext(ctx, &rows, `SELECT data FROM swim_lanes`); err != nil {
		return nil, err
	}
	out := make([]*v1.SwimLane, 0, len(rows))
	for _, r := range rows {
		var l v1.SwimLane
		if err := json.Unmarshal([]byte(r), &l); err != nil {
			return nil, err
		}
		out = append(out, &l)
	}
	return out, nil
}

func (s *SQLiteStore) DeleteLane(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM swim_lanes WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) SaveTeam(ctx context.Context, tm *v1.Team) error {
	data, err := json.Marshal(tm)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO teams (id, data) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET data=excluded.data
	`, tm.ID, string(data))
	return err
}

func (s *SQLiteStore) GetTeam(ctx context.Context, id string) (*v1.Team, error) {
	var data string
	err := s.db.GetContext(ctx, &data, `SELECT data FROM teams WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var tm v1.Team
	if err := json.Unmarshal([]byte(data), &tm); err != nil {
		return nil, err
	}
	return &tm, nil
}

func (s *SQLiteStore) ListTeams(ctx context.Context) ([]*v1.Team, error) {
	var rows []string
	if err := s.db.SelectContext(ctx, &rows, `SELECT data FROM teams`); err != nil {
		return nil, err
	}
	out := make([]*v1.Team, 0, len(rows))
	for _, r := range rows {
		var tm v1.Team
		if err := json.Unmarshal([]byte(r), &tm); err != nil {
			return nil, err
		}
		out = append(out, &tm)
	}
	return out, nil
}

func (s *SQLiteStore) DeleteTeam(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM teams WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) SavePipeline(ctx context.Context, p *v1.Pipeline) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pipelines (id, data) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET data=excluded.data
	`, p.ID, string(data))
	return err
}

func (s *SQLiteStore) GetPipeline(ctx context.Context, id string) (*v1.Pipeline, error) {
	var data string
	err := s.db.GetContext(ctx, &data, `SELECT data FROM pipelines WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var p v1.Pipeline
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SQLiteStore) ListPipelines(ctx context.Context) ([]*v1.Pipeline, error) {
	var rows []string
	if err := s.db.SelectContext(ctx, &rows, `SELECT data FROM pipelines`); err != nil {
		return nil, err
	}
	out := make([]*v1.Pipeline, 0, len(rows))
	for _, r := range rows {
		var p v1.Pipeline
		if err := json.Unmarshal([]byte(r), &p); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, nil
}

func (s *SQLiteStore) SaveRun(ctx context.Context, r *v1.PipelineRun) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pipeline_runs (id, status, data) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status=excluded.status, data=excluded.data
	`, r.ID, string(r.Status), string(data))
	return err
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*v1.PipelineRun, error) {
	var data string
	err := s.db.GetContext(ctx, &data, `SELECT data FROM pipeline_runs WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var r v1.PipelineRun
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *SQLiteStore) ListActiveRuns(ctx context.Context) ([]*v1.PipelineRun, error) {
	var rows []string
	if err := s.db.SelectContext(ctx, &rows, `SELECT data FROM pipeline_runs WHERE status IN (?, ?)`,
		string(v1.RunRunning), string(v1.RunPaused)); err != nil {
		return nil, err
	}
	out := make([]*v1.PipelineRun, 0, len(rows))
	for _, r := range rows {
		var run v1.PipelineRun
		if err := json.Unmarshal([]byte(r), &run); err != nil {
			return nil, err
		}
		out = append(out, &run)
	}
	return out, nil
}
