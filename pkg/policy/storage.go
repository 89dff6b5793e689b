// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package policy

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/execguard/agent/pkg/rule"
	_ "github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"
)

// Storage defines the interface for rule persistence
type Storage interface {
	// SaveRule inserts or replaces a rule and advances the ID counter past it
	SaveRule(id rule.ID, r rule.Rule) error

	// DeleteRule removes a rule from persistent storage
	DeleteRule(id rule.ID) error

	// LoadRules loads all rules ordered by ID
	LoadRules() ([]rule.WithID, error)

	// NextRuleID returns the first ID never handed out
	NextRuleID() (rule.ID, error)

	// ReserveRuleID advances the ID counter to at least next
	ReserveRuleID(next rule.ID) error

	// Close closes the storage connection
	Close() error
}

// SQLiteStorage implements Storage using SQLite database
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer; the store actor is the only caller anyway.
	db.SetMaxOpenConns(1)

	storage := &SQLiteStorage{db: db}

	if err := storage.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Infof("Rule storage initialized: %s", dbPath)
	return storage, nil
}

// initSchema creates the rules and counter tables if they don't exist
func (s *SQLiteStorage) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS rules (
		rule_id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		is_active INTEGER NOT NULL,
		body TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_rules_name ON rules(name);

	CREATE TABLE IF NOT EXISTS counters (
		name TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);

	INSERT OR IGNORE INTO counters (name, value) VALUES ('next_rule_id', 0);
	`

	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// SaveRule saves a rule to the database
func (s *SQLiteStorage) SaveRule(id rule.ID, r rule.Rule) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode rule: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
	INSERT INTO rules (rule_id, name, is_active, body)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(rule_id) DO UPDATE SET
		name = excluded.name,
		is_active = excluded.is_active,
		body = excluded.body,
		updated_at = CURRENT_TIMESTAMP
	`
	if _, err := tx.Exec(query, int64(id), r.Name, r.IsActive, string(body)); err != nil {
		return fmt.Errorf("failed to save rule: %w", err)
	}

	counter := `UPDATE counters SET value = MAX(value, ?) WHERE name = 'next_rule_id'`
	if _, err := tx.Exec(counter, int64(id)+1); err != nil {
		return fmt.Errorf("failed to advance rule id counter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rule: %w", err)
	}

	log.Debugf("Rule saved to storage: rule_id=%d", id)
	return nil
}

// DeleteRule removes a rule from the database
func (s *SQLiteStorage) DeleteRule(id rule.ID) error {
	query := `DELETE FROM rules WHERE rule_id = ?`

	result, err := s.db.Exec(query, int64(id))
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("%w in storage: rule_id=%d", ErrRuleNotFound, id)
	}

	log.Debugf("Rule deleted from storage: rule_id=%d", id)
	return nil
}

// LoadRules loads all rules from the database
func (s *SQLiteStorage) LoadRules() ([]rule.WithID, error) {
	query := `SELECT rule_id, body FROM rules ORDER BY rule_id ASC`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var rules []rule.WithID
	for rows.Next() {
		var (
			id   int64
			body string
		)
		if err := rows.Scan(&id, &body); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}

		var r rule.Rule
		if err := json.Unmarshal([]byte(body), &r); err != nil {
			return nil, fmt.Errorf("failed to decode rule rule_id=%d: %w", id, err)
		}
		rules = append(rules, rule.WithID{ID: rule.ID(id), Rule: r})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}

	log.Infof("Loaded %d rules from storage", len(rules))
	return rules, nil
}

// NextRuleID returns the persisted ID counter
func (s *SQLiteStorage) NextRuleID() (rule.ID, error) {
	var next int64
	err := s.db.QueryRow(`SELECT value FROM counters WHERE name = 'next_rule_id'`).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("failed to read rule id counter: %w", err)
	}
	return rule.ID(next), nil
}

// ReserveRuleID moves the persisted ID counter forward to next. It never
// moves it back.
func (s *SQLiteStorage) ReserveRuleID(next rule.ID) error {
	counter := `UPDATE counters SET value = MAX(value, ?) WHERE name = 'next_rule_id'`
	if _, err := s.db.Exec(counter, int64(next)); err != nil {
		return fmt.Errorf("failed to reserve rule id %d: %w", next, err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
