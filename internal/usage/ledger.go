// Package usage persists per-model operation metrics in an append-only SQLite table
// and answers aggregate queries over it.
package usage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"modelconsole/pkg/types"
)

// ErrInvalidRecord is returned by Log for records without a model name.
var ErrInvalidRecord = errors.New("usage record requires a model name")

// Ledger is the usage log. It is safe for concurrent use.
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the ledger database at path and applies pending migrations.
func Open(ctx context.Context, path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// One writer; WAL lets readers proceed alongside it.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %q: %w", path, err)
	}
	for _, p := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Ledger{db: db, now: time.Now}, nil
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Log appends rec and returns it with ID and Timestamp filled in.
// A zero Timestamp is replaced by the current time.
func (l *Ledger) Log(ctx context.Context, rec types.UsageRecord) (types.UsageRecord, error) {
	rec.ModelName = strings.TrimSpace(rec.ModelName)
	if rec.ModelName == "" {
		return rec, ErrInvalidRecord
	}
	rec.Operation = types.ParseOperationKind(string(rec.Operation))
	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.now()
	}
	rec.Timestamp = rec.Timestamp.UTC()

	res, err := l.db.ExecContext(ctx,
		`INSERT INTO model_usage (model_name, operation, prompt_tokens, completion_tokens, duration_seconds, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ModelName, string(rec.Operation), rec.PromptTokens, rec.CompletionTokens, rec.DurationSeconds,
		rec.Timestamp.Format(time.RFC3339Nano),
	)
	if err != nil {
		return rec, fmt.Errorf("insert usage record: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		rec.ID = id
	}
	return rec, nil
}

// Stats aggregates the records of model, or of all models when model is empty.
// No matching records yields zero totals and an empty breakdown.
func (l *Ledger) Stats(ctx context.Context, model string) (types.UsageStats, error) {
	stats := types.UsageStats{OperationsByType: map[string]int64{}}

	query := `SELECT operation, COUNT(*), COALESCE(SUM(prompt_tokens), 0), COALESCE(SUM(completion_tokens), 0),
		COALESCE(SUM(duration_seconds), 0) FROM model_usage`
	var args []any
	if model = strings.TrimSpace(model); model != "" {
		query += " WHERE model_name = ?"
		args = append(args, model)
	}
	query += " GROUP BY operation"

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return stats, fmt.Errorf("query usage stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			op                         string
			count, prompt, completion int64
			duration                   float64
		)
		if err := rows.Scan(&op, &count, &prompt, &completion, &duration); err != nil {
			return stats, fmt.Errorf("scan usage stats: %w", err)
		}
		stats.TotalOperations += count
		stats.TotalPromptTokens += prompt
		stats.TotalCompletionTokens += completion
		stats.TotalDuration += duration
		stats.OperationsByType[op] += count
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("iterate usage stats: %w", err)
	}
	return stats, nil
}

// Recent returns up to limit records, newest first, optionally filtered by model.
func (l *Ledger) Recent(ctx context.Context, model string, limit int) ([]types.UsageRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, model_name, operation, prompt_tokens, completion_tokens, duration_seconds, timestamp
		FROM model_usage`
	var args []any
	if model = strings.TrimSpace(model); model != "" {
		query += " WHERE model_name = ?"
		args = append(args, model)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query usage records: %w", err)
	}
	defer rows.Close()

	out := []types.UsageRecord{}
	for rows.Next() {
		var (
			rec types.UsageRecord
			op  string
			ts  string
		)
		if err := rows.Scan(&rec.ID, &rec.ModelName, &op, &rec.PromptTokens, &rec.CompletionTokens, &rec.DurationSeconds, &ts); err != nil {
			return nil, fmt.Errorf("scan usage record: %w", err)
		}
		rec.Operation = types.OperationKind(op)
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			rec.Timestamp = t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
