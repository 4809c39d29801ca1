// Package transcript persists conversation turns in SQLite so a chat can be
// replayed into a fresh history log on the next start.
package transcript

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/samcharles93/parley/internal/history"
)

type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path. ":memory:" gives a private
// in-memory store.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and serialises
	// writers.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode = WAL`,
		`CREATE TABLE IF NOT EXISTS turn (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			id         TEXT    NOT NULL UNIQUE,
			role       TEXT    NOT NULL,
			content    TEXT    NOT NULL,
			created_ts INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate transcript: %w", err)
		}
	}
	return nil
}

func (s *Store) Append(ctx context.Context, t history.Turn) error {
	if !t.Role.Valid() {
		return fmt.Errorf("append turn: invalid role %q", t.Role)
	}
	if t.ID == "" {
		return errors.New("append turn: missing id")
	}
	created := t.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turn (id, role, content, created_ts) VALUES (?, ?, ?, ?)`,
		t.ID, string(t.Role), t.Content, created.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

// List returns every stored turn, oldest first.
func (s *Store) List(ctx context.Context) ([]history.Turn, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, role, content, created_ts FROM turn ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()

	var turns []history.Turn
	for rows.Next() {
		var (
			t       history.Turn
			role    string
			created int64
		)
		if err := rows.Scan(&t.ID, &role, &t.Content, &created); err != nil {
			return nil, fmt.Errorf("list turns: %w", err)
		}
		if t.Role, err = history.ParseRole(role); err != nil {
			return nil, fmt.Errorf("list turns: turn %s: %w", t.ID, err)
		}
		t.CreatedAt = time.UnixMilli(created).UTC()
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM turn`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count turns: %w", err)
	}
	return n, nil
}

func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM turn`); err != nil {
		return fmt.Errorf("clear turns: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Replay loads every stored turn into log.
func (s *Store) Replay(ctx context.Context, log *history.Log) (int, error) {
	turns, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	for _, t := range turns {
		log.AppendTurn(t)
	}
	return len(turns), nil
}
