// Package store provides deliverable and audit run persistence. The SQLite
// backend is the production store; the in-memory backend serves tests and
// single-shot CLI runs.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/apexmarketing/contentpipeline/pipeline/audit"
	"github.com/apexmarketing/contentpipeline/pipeline/deliverable"
)

const schema = `
CREATE TABLE IF NOT EXISTS deliverables (
	id               TEXT PRIMARY KEY,
	client_id        TEXT NOT NULL DEFAULT '',
	engagement_id    TEXT NOT NULL DEFAULT '',
	kind             TEXT NOT NULL,
	title            TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL,
	body             TEXT NOT NULL DEFAULT '',
	score_history    TEXT NOT NULL DEFAULT '[]',
	versions         TEXT NOT NULL DEFAULT '[]',
	iteration_count  INTEGER NOT NULL DEFAULT 0,
	review_notes     TEXT NOT NULL DEFAULT '',
	agent_used       TEXT NOT NULL DEFAULT '',
	model_used       TEXT NOT NULL DEFAULT '',
	cost_accumulated REAL NOT NULL DEFAULT 0,
	language         TEXT NOT NULL DEFAULT 'en',
	created_at       TIMESTAMP NOT NULL,
	updated_at       TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS usage_records (
	id             TEXT PRIMARY KEY,
	deliverable_id TEXT NOT NULL,
	agent_name     TEXT NOT NULL,
	model          TEXT NOT NULL,
	input_tokens   INTEGER NOT NULL,
	output_tokens  INTEGER NOT NULL,
	cost           REAL NOT NULL,
	created_at     TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_runs (
	id             TEXT PRIMARY KEY,
	client_id      TEXT NOT NULL,
	client_profile TEXT NOT NULL DEFAULT '',
	state          TEXT NOT NULL,
	stages         TEXT NOT NULL DEFAULT '[]',
	gate_score     REAL NOT NULL DEFAULT 0,
	created_at     TIMESTAMP NOT NULL,
	updated_at     TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_deliverables_client ON deliverables(client_id);
CREATE INDEX IF NOT EXISTS idx_usage_deliverable ON usage_records(deliverable_id);
`

// SQLite persists deliverables and audit runs in a single SQLite database.
// History columns hold JSON; they are read-modify-write under the pipeline's
// one-in-flight-stage-per-record guarantee.
type SQLite struct {
	db *sql.DB
}

var _ deliverable.Store = (*SQLite)(nil)
var _ audit.RunStore = (*SQLite)(nil)

// OpenSQLite opens (creating if needed) the database at path and applies the
// schema.
func OpenSQLite(path string) (*SQLite, error) {
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error { return s.db.Close() }

// =============================================================================
// DELIVERABLES
// =============================================================================

func (s *SQLite) CreateDeliverable(ctx context.Context, d *deliverable.Deliverable) error {
	scores, versions, err := marshalHistory(d)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO deliverables
			(id, client_id, engagement_id, kind, title, status, body,
			 score_history, versions, iteration_count, review_notes,
			 agent_used, model_used, cost_accumulated, language,
			 created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		d.ID, d.ClientID, d.EngagementID, string(d.Kind), d.Title, string(d.Status), d.Body,
		scores, versions, d.IterationCount, d.ReviewNotes,
		d.AgentUsed, d.ModelUsed, d.CostAccumulated, d.Language,
		d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert deliverable %s: %w", d.ID, err)
	}
	return nil
}

func (s *SQLite) GetDeliverable(ctx context.Context, id string) (*deliverable.Deliverable, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, client_id, engagement_id, kind, title, status, body,
		       score_history, versions, iteration_count, review_notes,
		       agent_used, model_used, cost_accumulated, language,
		       created_at, updated_at
		FROM deliverables WHERE id = ?`, id)
	return scanDeliverable(row)
}

func (s *SQLite) UpdateDeliverable(ctx context.Context, d *deliverable.Deliverable) error {
	scores, versions, err := marshalHistory(d)
	if err != nil {
		return err
	}
	d.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE deliverables SET
			client_id = ?, engagement_id = ?, kind = ?, title = ?, status = ?,
			body = ?, score_history = ?, versions = ?, iteration_count = ?,
			review_notes = ?, agent_used = ?, model_used = ?,
			cost_accumulated = ?, language = ?, updated_at = ?
		WHERE id = ?`,
		d.ClientID, d.EngagementID, string(d.Kind), d.Title, string(d.Status),
		d.Body, scores, versions, d.IterationCount,
		d.ReviewNotes, d.AgentUsed, d.ModelUsed,
		d.CostAccumulated, d.Language, d.UpdatedAt, d.ID)
	if err != nil {
		return fmt.Errorf("update deliverable %s: %w", d.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return deliverable.ErrNotFound
	}
	return nil
}

// UpdateStatuses sets every listed deliverable's status inside one
// transaction, so audit gate propagation is all-or-nothing.
func (s *SQLite) UpdateStatuses(ctx context.Context, ids []string, status deliverable.Status) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin status update: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, id := range ids {
		res, err := tx.ExecContext(ctx,
			`UPDATE deliverables SET status = ?, updated_at = ? WHERE id = ?`,
			string(status), now, id)
		if err != nil {
			return fmt.Errorf("update status of %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("update status of %s: %w", id, deliverable.ErrNotFound)
		}
	}
	return tx.Commit()
}

func (s *SQLite) AppendUsage(ctx context.Context, u deliverable.UsageRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_records
			(id, deliverable_id, agent_name, model, input_tokens, output_tokens, cost, created_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		u.ID, u.DeliverableID, u.AgentName, u.Model, u.InputTokens, u.OutputTokens, u.Cost, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

func marshalHistory(d *deliverable.Deliverable) (scores, versions []byte, err error) {
	scores, err = json.Marshal(emptySlice(d.ScoreHistory))
	if err != nil {
		return nil, nil, fmt.Errorf("marshal score history: %w", err)
	}
	versions, err = json.Marshal(emptySlice(d.Versions))
	if err != nil {
		return nil, nil, fmt.Errorf("marshal versions: %w", err)
	}
	return scores, versions, nil
}

func emptySlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func scanDeliverable(row *sql.Row) (*deliverable.Deliverable, error) {
	var d deliverable.Deliverable
	var kind, status string
	var scores, versions []byte
	err := row.Scan(&d.ID, &d.ClientID, &d.EngagementID, &kind, &d.Title, &status, &d.Body,
		&scores, &versions, &d.IterationCount, &d.ReviewNotes,
		&d.AgentUsed, &d.ModelUsed, &d.CostAccumulated, &d.Language,
		&d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, deliverable.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan deliverable: %w", err)
	}
	d.Kind = deliverable.Kind(kind)
	d.Status = deliverable.Status(status)
	if err := json.Unmarshal(scores, &d.ScoreHistory); err != nil {
		return nil, fmt.Errorf("decode score history: %w", err)
	}
	if err := json.Unmarshal(versions, &d.Versions); err != nil {
		return nil, fmt.Errorf("decode versions: %w", err)
	}
	return &d, nil
}

// =============================================================================
// AUDIT RUNS
// =============================================================================

func (s *SQLite) CreateRun(ctx context.Context, r *audit.Run) error {
	stages, err := json.Marshal(r.Stages)
	if err != nil {
		return fmt.Errorf("marshal stages: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_runs (id, client_id, client_profile, state, stages, gate_score, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		r.ID, r.ClientID, r.ClientProfile, string(r.State), stages, r.GateScore, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert audit run %s: %w", r.ID, err)
	}
	return nil
}

func (s *SQLite) GetRun(ctx context.Context, id string) (*audit.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, client_id, client_profile, state, stages, gate_score, created_at, updated_at FROM audit_runs WHERE id = ?`, id)
	var r audit.Run
	var state string
	var stages []byte
	err := row.Scan(&r.ID, &r.ClientID, &r.ClientProfile, &state, &stages, &r.GateScore, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, audit.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan audit run: %w", err)
	}
	r.State = audit.RunState(state)
	if err := json.Unmarshal(stages, &r.Stages); err != nil {
		return nil, fmt.Errorf("decode stages: %w", err)
	}
	return &r, nil
}

func (s *SQLite) UpdateRun(ctx context.Context, r *audit.Run) error {
	stages, err := json.Marshal(r.Stages)
	if err != nil {
		return fmt.Errorf("marshal stages: %w", err)
	}
	r.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE audit_runs SET client_id = ?, client_profile = ?, state = ?, stages = ?, gate_score = ?, updated_at = ?
		WHERE id = ?`,
		r.ClientID, r.ClientProfile, string(r.State), stages, r.GateScore, r.UpdatedAt, r.ID)
	if err != nil {
		return fmt.Errorf("update audit run %s: %w", r.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return audit.ErrRunNotFound
	}
	return nil
}
