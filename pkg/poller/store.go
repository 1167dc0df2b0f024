// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package poller

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/sqgate/internal/sqlitedriver"
)

// Execution statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Execution is one recorded poll cycle.
type Execution struct {
	ExecutionID string
	Handle      string
	StartedAt   time.Time
	CompletedAt time.Time
	Status      string
	Error       string
	Records     int
	Duration    time.Duration
}

// QueryStats aggregates the executions of one standing query.
type QueryStats struct {
	Handle          string
	View            string
	Expression      string
	CreatedAt       time.Time
	LastExecutionAt time.Time
	NextExecutionAt time.Time
	Total           int64
	Successful      int64
	Failed          int64
	Skipped         int64
	Records         int64
}

// Store persists standing query execution history to SQLite. Buffered results are never
// persisted; only the audit trail of poll cycles is.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	logger *zap.Logger
}

// NewStore opens (creating when needed) the history database at dbPath.
func NewStore(ctx context.Context, dbPath string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sqlitedriver.Open(ctx, dbPath, sqlitedriver.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	store := &Store{db: db, logger: logger}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	logger.Debug("Opened history database",
		zap.String("path", dbPath),
		zap.String("driver", sqlitedriver.Variant()))
	return store, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS standing_queries (
		handle TEXT PRIMARY KEY,
		view TEXT NOT NULL,
		expression TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		removed_at INTEGER DEFAULT 0,
		last_execution_at INTEGER DEFAULT 0,
		next_execution_at INTEGER DEFAULT 0,
		total_executions INTEGER DEFAULT 0,
		successful_executions INTEGER DEFAULT 0,
		failed_executions INTEGER DEFAULT 0,
		skipped_executions INTEGER DEFAULT 0,
		total_records INTEGER DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS poll_executions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		handle TEXT NOT NULL,
		execution_id TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		completed_at INTEGER DEFAULT 0,
		status TEXT NOT NULL,
		error TEXT,
		records INTEGER DEFAULT 0,
		duration_ms INTEGER DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_poll_handle ON poll_executions(handle);
	CREATE INDEX IF NOT EXISTS idx_poll_started_at ON poll_executions(started_at);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// RegisterQuery records a new standing query.
func (s *Store) RegisterQuery(ctx context.Context, handle, view, expression string, createdAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO standing_queries (handle, view, expression, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(handle) DO UPDATE SET view = excluded.view, expression = excluded.expression, removed_at = 0
	`, handle, view, expression, createdAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to register query %s: %w", handle, err)
	}
	return nil
}

// MarkRemoved stamps the query as no longer polled. History is kept.
func (s *Store) MarkRemoved(ctx context.Context, handle string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `UPDATE standing_queries SET removed_at = ? WHERE handle = ?`, at.UnixMilli(), handle)
	if err != nil {
		return fmt.Errorf("failed to mark query %s removed: %w", handle, err)
	}
	return nil
}

// RecordExecution stores a poll cycle and folds it into the query's counters.
func (s *Store) RecordExecution(ctx context.Context, exec Execution, next time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO poll_executions (handle, execution_id, started_at, completed_at, status, error, records, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, exec.Handle, exec.ExecutionID, exec.StartedAt.UnixMilli(), exec.CompletedAt.UnixMilli(),
		exec.Status, exec.Error, exec.Records, exec.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to record execution: %w", err)
	}

	var success, failed, skipped int
	switch exec.Status {
	case StatusSuccess:
		success = 1
	case StatusFailed:
		failed = 1
	case StatusSkipped:
		skipped = 1
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE standing_queries SET
			last_execution_at = ?,
			next_execution_at = ?,
			total_executions = total_executions + 1,
			successful_executions = successful_executions + ?,
			failed_executions = failed_executions + ?,
			skipped_executions = skipped_executions + ?,
			total_records = total_records + ?
		WHERE handle = ?
	`, exec.StartedAt.UnixMilli(), next.UnixMilli(), success, failed, skipped, exec.Records, exec.Handle)
	if err != nil {
		return fmt.Errorf("failed to update query stats: %w", err)
	}

	return tx.Commit()
}

// History returns the most recent executions of handle, newest first.
func (s *Store) History(ctx context.Context, handle string, limit int) ([]Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT execution_id, started_at, completed_at, status, error, records, duration_ms
		FROM poll_executions
		WHERE handle = ?
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, handle, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution history: %w", err)
	}
	defer rows.Close()

	executions := make([]Execution, 0)
	for rows.Next() {
		var (
			exec               Execution
			started, completed int64
			durationMs         int64
			errorMsg           sql.NullString
		)
		if err := rows.Scan(&exec.ExecutionID, &started, &completed, &exec.Status, &errorMsg, &exec.Records, &durationMs); err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		exec.Handle = handle
		exec.StartedAt = time.UnixMilli(started)
		exec.CompletedAt = time.UnixMilli(completed)
		exec.Duration = time.Duration(durationMs) * time.Millisecond
		if errorMsg.Valid {
			exec.Error = errorMsg.String
		}
		executions = append(executions, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}
	return executions, nil
}

// Stats returns the counters for handle.
func (s *Store) Stats(ctx context.Context, handle string) (QueryStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		st                  QueryStats
		created, last, next int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT handle, view, expression, created_at, last_execution_at, next_execution_at,
			total_executions, successful_executions, failed_executions, skipped_executions, total_records
		FROM standing_queries WHERE handle = ?
	`, handle).Scan(&st.Handle, &st.View, &st.Expression, &created, &last, &next,
		&st.Total, &st.Successful, &st.Failed, &st.Skipped, &st.Records)
	if err == sql.ErrNoRows {
		return QueryStats{}, fmt.Errorf("standing query not found: %s", handle)
	}
	if err != nil {
		return QueryStats{}, fmt.Errorf("failed to read query stats: %w", err)
	}

	st.CreatedAt = time.UnixMilli(created)
	if last > 0 {
		st.LastExecutionAt = time.UnixMilli(last)
	}
	if next > 0 {
		st.NextExecutionAt = time.UnixMilli(next)
	}
	return st, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
