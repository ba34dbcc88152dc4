// Package sqlite keeps flow-run telemetry in a local SQLite database. Only
// flow names, providers, outcomes, token counts and timings are stored.
package sqlite

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"labinsight/internal/domain"
)

func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS flow_runs (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		flow          TEXT NOT NULL,
		provider      TEXT DEFAULT '',
		model         TEXT DEFAULT '',
		outcome       TEXT NOT NULL,
		input_tokens  INTEGER DEFAULT 0,
		output_tokens INTEGER DEFAULT 0,
		cache_creation_tokens INTEGER DEFAULT 0,
		cache_read_tokens     INTEGER DEFAULT 0,
		duration_ms   INTEGER DEFAULT 0,
		error         TEXT DEFAULT '',
		ran_at        DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_flow_runs_ran_at ON flow_runs(ran_at);
	CREATE INDEX IF NOT EXISTS idx_flow_runs_flow ON flow_runs(flow);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}

	// Columns added after the first release; errors mean they already exist.
	_, _ = db.Exec(`ALTER TABLE flow_runs ADD COLUMN cache_creation_tokens INTEGER DEFAULT 0`)
	_, _ = db.Exec(`ALTER TABLE flow_runs ADD COLUMN cache_read_tokens INTEGER DEFAULT 0`)
	return db, nil
}

func InsertFlowRun(ctx context.Context, db *sql.DB, run domain.FlowRun) (int64, error) {
	if run.RanAt.IsZero() {
		run.RanAt = time.Now()
	}
	res, err := db.ExecContext(ctx,
		`INSERT INTO flow_runs (flow, provider, model, outcome, input_tokens, output_tokens,
		                        cache_creation_tokens, cache_read_tokens, duration_ms, error, ran_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.Flow, run.Provider, run.Model, run.Outcome, run.InputTokens, run.OutputTokens,
		run.CacheCreationTokens, run.CacheReadTokens, run.Duration.Milliseconds(), run.Error, run.RanAt.UTC(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func GetRecentFlowRuns(db *sql.DB, limit int) ([]domain.FlowRun, error) {
	rows, err := db.Query(
		`SELECT id, flow, provider, model, outcome, input_tokens, output_tokens,
		        cache_creation_tokens, cache_read_tokens, duration_ms, error, ran_at
		 FROM flow_runs ORDER BY ran_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.FlowRun
	for rows.Next() {
		var (
			run        domain.FlowRun
			durationMS int64
		)
		if err := rows.Scan(&run.ID, &run.Flow, &run.Provider, &run.Model, &run.Outcome,
			&run.InputTokens, &run.OutputTokens, &run.CacheCreationTokens, &run.CacheReadTokens,
			&durationMS, &run.Error, &run.RanAt); err != nil {
			return nil, err
		}
		run.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, run)
	}
	return out, rows.Err()
}

// GetFlowStats aggregates runs at or after since, one row per flow, ordered
// by flow name.
func GetFlowStats(db *sql.DB, since time.Time) ([]domain.FlowStats, error) {
	rows, err := db.Query(
		`SELECT flow, COUNT(*),
		        COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0),
		        COALESCE(AVG(duration_ms), 0),
		        COALESCE(SUM(input_tokens), 0),
		        COALESCE(SUM(output_tokens), 0),
		        COALESCE(SUM(cache_read_tokens), 0)
		 FROM flow_runs
		 WHERE ran_at >= ?
		 GROUP BY flow
		 ORDER BY flow`,
		domain.OutcomeOK, domain.OutcomeSchemaViolation, domain.OutcomeModelError, since.UTC(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.FlowStats
	for rows.Next() {
		var s domain.FlowStats
		if err := rows.Scan(&s.Flow, &s.TotalRuns, &s.Succeeded, &s.SchemaViolations,
			&s.ModelErrors, &s.AvgDurationMS, &s.InputTokens, &s.OutputTokens, &s.CacheReadTokens); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// PruneFlowRuns deletes runs older than before and reports how many went.
func PruneFlowRuns(db *sql.DB, before time.Time) (int64, error) {
	res, err := db.Exec(`DELETE FROM flow_runs WHERE ran_at < ?`, before.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Telemetry adapts a database handle to the flow runner's recorder and the
// stats endpoint.
type Telemetry struct {
	DB *sql.DB
}

func (t Telemetry) RecordFlowRun(ctx context.Context, run domain.FlowRun) error {
	_, err := InsertFlowRun(ctx, t.DB, run)
	return err
}

func (t Telemetry) FlowStats(since time.Time) ([]domain.FlowStats, error) {
	return GetFlowStats(t.DB, since)
}

func (t Telemetry) RecentFlowRuns(limit int) ([]domain.FlowRun, error) {
	return GetRecentFlowRuns(t.DB, limit)
}
