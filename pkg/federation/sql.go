// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package federation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// SQLConfig configures a SQLSource.
type SQLConfig struct {
	ID string

	// Driver is a registered database/sql driver name: sqlite3, postgres or mysql.
	Driver string
	DSN    string

	// Table defaults to "records".
	Table string

	Logger *zap.Logger
}

// SQLSource queries a relational catalog table with the columns
// id, title, modified (unix millis), deleted, versioned and attributes (JSON object).
type SQLSource struct {
	id     string
	db     *sql.DB
	driver string
	table  string
	logger *zap.Logger
}

// OpenSQLSource opens the database and verifies the connection.
func OpenSQLSource(ctx context.Context, cfg SQLConfig) (*SQLSource, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("sql source id is required")
	}
	if cfg.Driver == "" {
		return nil, fmt.Errorf("sql source %s: driver is required", cfg.ID)
	}
	if cfg.Table == "" {
		cfg.Table = "records"
	}
	if !validIdentifier(cfg.Table) {
		return nil, fmt.Errorf("sql source %s: invalid table name %q", cfg.ID, cfg.Table)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s source %s: %w", cfg.Driver, cfg.ID, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to %s source %s: %w", cfg.Driver, cfg.ID, err)
	}

	return &SQLSource{
		id:     cfg.ID,
		db:     db,
		driver: cfg.Driver,
		table:  cfg.Table,
		logger: cfg.Logger.With(zap.String("source", cfg.ID)),
	}, nil
}

// ID returns the source id.
func (s *SQLSource) ID() string {
	return s.id
}

// Close closes the database.
func (s *SQLSource) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the catalog table when missing.
func (s *SQLSource) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id VARCHAR(255) NOT NULL,
		title TEXT NOT NULL,
		modified BIGINT NOT NULL,
		deleted BOOLEAN NOT NULL DEFAULT FALSE,
		versioned BOOLEAN NOT NULL DEFAULT FALSE,
		attributes TEXT
	)`, s.table)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create table %s: %w", s.table, err)
	}
	return nil
}

// Insert stores a record version.
func (s *SQLSource) Insert(ctx context.Context, r Result) error {
	attrs, err := json.Marshal(r.Attributes)
	if err != nil {
		return fmt.Errorf("failed to encode attributes of %s: %w", r.ID, err)
	}

	query := fmt.Sprintf("INSERT INTO %s (id, title, modified, deleted, versioned, attributes) VALUES (%s)",
		s.table, s.placeholders(6))
	_, err = s.db.ExecContext(ctx, query, r.ID, r.Title, r.Modified.UnixMilli(), r.Deleted, r.Versioned, string(attrs))
	if err != nil {
		return fmt.Errorf("failed to insert %s: %w", r.ID, err)
	}
	return nil
}

// Query selects rows modified after req.Since, then merges versions and applies the
// keyword expression in process. Paging is left to the Federator.
func (s *SQLSource) Query(ctx context.Context, req Request) (Response, error) {
	query := fmt.Sprintf("SELECT id, title, modified, deleted, versioned, attributes FROM %s WHERE modified > %s ORDER BY modified",
		s.table, s.placeholders(1))

	var since int64
	if !req.Since.IsZero() {
		since = req.Since.UnixMilli()
	}

	rows, err := s.db.QueryContext(ctx, query, since)
	if err != nil {
		return Response{}, fmt.Errorf("failed to query %s: %w", s.id, err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var (
			r        Result
			modified int64
			attrs    sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Title, &modified, &r.Deleted, &r.Versioned, &attrs); err != nil {
			return Response{}, fmt.Errorf("failed to scan %s row: %w", s.id, err)
		}
		r.SourceID = s.id
		r.Modified = time.UnixMilli(modified)
		if attrs.Valid && attrs.String != "" && attrs.String != "null" {
			if err := json.Unmarshal([]byte(attrs.String), &r.Attributes); err != nil {
				s.logger.Debug("Skipping record with malformed attributes",
					zap.String("record_id", r.ID),
					zap.Error(err))
				continue
			}
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return Response{}, fmt.Errorf("failed to read %s rows: %w", s.id, err)
	}

	merged := filter(Merge(results), req)
	return Response{Results: merged, Hits: len(merged)}, nil
}

// placeholders renders n bind parameters in the driver's dialect.
func (s *SQLSource) placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		if s.driver == "postgres" {
			parts[i] = fmt.Sprintf("$%d", i+1)
		} else {
			parts[i] = "?"
		}
	}
	return strings.Join(parts, ", ")
}

func validIdentifier(name string) bool {
	for _, r := range name {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return name != ""
}
