// Copyright (c) 2025 VibeForge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists local invocation history and the error log.
package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/vibeforge/forge-go/internal/apierror"
	"github.com/vibeforge/forge-go/internal/client"
)

var ErrDatabaseError = errors.New("database error")

// maxErrorLogEntries bounds the error log; older entries are dropped as new
// ones arrive.
const maxErrorLogEntries = 50

const schema = `
CREATE TABLE IF NOT EXISTS invocations (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id  TEXT NOT NULL,
	skill_id    TEXT NOT NULL,
	skill_name  TEXT NOT NULL,
	status      TEXT NOT NULL,
	model       TEXT NOT NULL DEFAULT '',
	tokens_used INTEGER NOT NULL DEFAULT 0,
	cost        REAL NOT NULL DEFAULT 0,
	latency     REAL NOT NULL DEFAULT 0,
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_invocations_skill ON invocations(skill_id);

CREATE TABLE IF NOT EXISTS error_log (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	error_id    TEXT NOT NULL,
	category    TEXT NOT NULL,
	severity    TEXT NOT NULL,
	message     TEXT NOT NULL,
	context     TEXT NOT NULL DEFAULT '{}',
	created_at  TEXT NOT NULL
);
`

// InvocationRecord is one row of local invocation history.
type InvocationRecord struct {
	SessionID  string
	SkillID    string
	SkillName  string
	Status     string
	Model      string
	TokensUsed int
	Cost       float64
	Latency    float64
	CreatedAt  time.Time
}

// ErrorRecord is one row of the persisted error log.
type ErrorRecord struct {
	ErrorID   string
	Category  apierror.Category
	Severity  apierror.Severity
	Message   string
	Context   map[string]string
	CreatedAt time.Time
}

// Store wraps the local SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// =============================================================================
// INVOCATION HISTORY
// =============================================================================

// RecordInvocation appends one invocation result to history.
func (s *Store) RecordInvocation(resp *client.InvokeResponse) error {
	if resp == nil {
		return errors.New("invocation response cannot be nil")
	}
	_, err := s.db.Exec(
		`INSERT INTO invocations (session_id, skill_id, skill_name, status, model, tokens_used, cost, latency, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		resp.SessionID,
		resp.Metadata.SkillID,
		resp.Metadata.SkillName,
		resp.Status,
		resp.Metadata.Model,
		resp.Metadata.TokensUsed,
		resp.Metadata.Cost,
		resp.Metadata.Latency,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return nil
}

// History returns the most recent invocations, newest first.
func (s *Store) History(limit int) ([]InvocationRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT session_id, skill_id, skill_name, status, model, tokens_used, cost, latency, created_at
		 FROM invocations ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	var records []InvocationRecord
	for rows.Next() {
		var rec InvocationRecord
		var createdAt string
		if err := rows.Scan(&rec.SessionID, &rec.SkillID, &rec.SkillName, &rec.Status,
			&rec.Model, &rec.TokensUsed, &rec.Cost, &rec.Latency, &createdAt); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// =============================================================================
// ERROR LOG
// =============================================================================

// RecordError appends a classified error to the log and trims the log to
// its capacity.
func (s *Store) RecordError(appErr *apierror.Error) error {
	if appErr == nil {
		return nil
	}

	contextJSON := "{}"
	if len(appErr.Context) > 0 {
		if data, err := json.Marshal(appErr.Context); err == nil {
			contextJSON = string(data)
		}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO error_log (error_id, category, severity, message, context, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		appErr.ID, string(appErr.Category), string(appErr.Severity),
		appErr.Message, contextJSON,
		appErr.Timestamp.UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}

	if _, err := tx.Exec(
		`DELETE FROM error_log WHERE id NOT IN (SELECT id FROM error_log ORDER BY id DESC LIMIT ?)`,
		maxErrorLogEntries,
	); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}

	return tx.Commit()
}

// Errors returns the logged errors, newest first.
func (s *Store) Errors() ([]ErrorRecord, error) {
	rows, err := s.db.Query(
		`SELECT error_id, category, severity, message, context, created_at
		 FROM error_log ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	var records []ErrorRecord
	for rows.Next() {
		var rec ErrorRecord
		var category, severity, contextJSON, createdAt string
		if err := rows.Scan(&rec.ErrorID, &category, &severity, &rec.Message, &contextJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		rec.Category = apierror.Category(category)
		rec.Severity = apierror.Severity(severity)
		rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		if contextJSON != "" && contextJSON != "{}" {
			json.Unmarshal([]byte(contextJSON), &rec.Context)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ClearErrors empties the error log.
func (s *Store) ClearErrors() error {
	if _, err := s.db.Exec(`DELETE FROM error_log`); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return nil
}
