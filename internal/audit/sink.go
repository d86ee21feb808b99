// Package audit persists plan failures and emergency post-mortems to a local
// SQLite database so failure patterns survive process restarts and can feed
// later model training.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"goalforge/internal/contingency"
	"goalforge/internal/logging"
)

// Sink is the SQLite-backed contingency.AuditSink.
type Sink struct {
	db     *sql.DB
	dbPath string
	log    *zap.Logger
}

// Open creates or opens the audit database under dataDir.
func Open(dataDir string) (*Sink, error) {
	dbPath := filepath.Join(dataDir, "audit.db")
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}

	s := &Sink{db: db, dbPath: dbPath, log: logging.Get(logging.CategoryAudit)}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize audit schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Sink) Close() error { return s.db.Close() }

// Path returns the database file path.
func (s *Sink) Path() string { return s.dbPath }

func (s *Sink) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS plan_failures (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		goal_id TEXT NOT NULL,
		goal_name TEXT NOT NULL,
		plan TEXT NOT NULL,
		reason TEXT NOT NULL,
		attempt INTEGER NOT NULL,
		timestamp DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_plan_failures_goal ON plan_failures(goal_id);

	CREATE TABLE IF NOT EXISTS post_mortems (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		goal_id TEXT NOT NULL,
		goal_name TEXT NOT NULL,
		goal_type TEXT NOT NULL,
		final_reason TEXT NOT NULL,
		total_attempts INTEGER NOT NULL,
		total_failures INTEGER NOT NULL,
		report_json TEXT NOT NULL,
		timestamp DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_post_mortems_goal ON post_mortems(goal_id);
	CREATE INDEX IF NOT EXISTS idx_post_mortems_time ON post_mortems(timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

// RecordPlanFailure stores one failed plan attempt.
func (s *Sink) RecordPlanFailure(ctx context.Context, rec contingency.FailureRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO plan_failures (goal_id, goal_name, plan, reason, attempt, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.GoalID, rec.GoalName, string(rec.Plan), rec.Reason, rec.Attempt, rec.Timestamp)
	if err != nil {
		return fmt.Errorf("record plan failure: %w", err)
	}
	return nil
}

// RecordPostMortem stores a full abort analysis. The report body is kept as
// JSON alongside the queryable columns.
func (s *Sink) RecordPostMortem(ctx context.Context, pm contingency.PostMortem) error {
	report, err := json.Marshal(pm)
	if err != nil {
		return fmt.Errorf("marshal post-mortem: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO post_mortems (goal_id, goal_name, goal_type, final_reason,
		 total_attempts, total_failures, report_json, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		pm.GoalID, pm.GoalName, pm.GoalType, pm.FinalReason,
		pm.TotalAttempts, pm.TotalFailures, string(report), pm.Timestamp)
	if err != nil {
		return fmt.Errorf("record post-mortem: %w", err)
	}
	s.log.Info("post-mortem recorded",
		zap.String("goal", pm.GoalName),
		zap.String("reason", pm.FinalReason))
	return nil
}

// RecentPostMortems returns the newest post-mortems, most recent first.
func (s *Sink) RecentPostMortems(ctx context.Context, limit int) ([]contingency.PostMortem, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT report_json FROM post_mortems ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query post-mortems: %w", err)
	}
	defer rows.Close()

	var out []contingency.PostMortem
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan post-mortem: %w", err)
		}
		var pm contingency.PostMortem
		if err := json.Unmarshal([]byte(raw), &pm); err != nil {
			s.log.Warn("skipping unparseable post-mortem row", zap.Error(err))
			continue
		}
		out = append(out, pm)
	}
	return out, rows.Err()
}

// FailureCounts returns failure totals per plan severity since the cutoff.
func (s *Sink) FailureCounts(ctx context.Context, since time.Time) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT plan, COUNT(*) FROM plan_failures WHERE timestamp >= ? GROUP BY plan`, since)
	if err != nil {
		return nil, fmt.Errorf("query failure counts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var plan string
		var n int
		if err := rows.Scan(&plan, &n); err != nil {
			return nil, fmt.Errorf("scan failure count: %w", err)
		}
		out[plan] = n
	}
	return out, rows.Err()
}
