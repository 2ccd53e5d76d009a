package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/lexcodex/toolrelay/framework"
)

// SQLiteMessageStore persists transcripts in a single SQLite database.
type SQLiteMessageStore struct {
	db *sql.DB
}

// NewSQLiteMessageStore opens or creates the database at dbPath.
func NewSQLiteMessageStore(dbPath string) (*SQLiteMessageStore, error) {
	if dbPath == "" {
		return nil, errors.New("sqlite path required")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	// A single connection keeps :memory: databases coherent and serialises
	// writers.
	db.SetMaxOpenConns(1)
	store := &SQLiteMessageStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteMessageStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		name TEXT,
		created_at TIMESTAMP NOT NULL,
		metadata TEXT,
		PRIMARY KEY (session_id, seq)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Append inserts interactions after the last stored entry of the session.
func (s *SQLiteMessageStore) Append(ctx context.Context, sessionID string, interactions ...framework.Interaction) error {
	if err := validateSessionID(sessionID); err != nil {
		return err
	}
	if len(interactions) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var next int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM messages WHERE session_id = ?`, sessionID).Scan(&next); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO messages (session_id, seq, role, content, name, created_at, metadata)
	VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, in := range interactions {
		next++
		var meta sql.NullString
		if len(in.Metadata) > 0 {
			data, err := json.Marshal(in.Metadata)
			if err != nil {
				return fmt.Errorf("encode metadata: %w", err)
			}
			meta = sql.NullString{String: string(data), Valid: true}
		}
		ts := in.Timestamp
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx, sessionID, next, in.Role, in.Content, in.Name, ts.UTC(), meta); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// History returns the transcript in insertion order.
func (s *SQLiteMessageStore) History(ctx context.Context, sessionID string) ([]framework.Interaction, error) {
	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
	SELECT seq, role, content, name, created_at, metadata
	FROM messages WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []framework.Interaction
	for rows.Next() {
		var (
			in   framework.Interaction
			name sql.NullString
			meta sql.NullString
		)
		if err := rows.Scan(&in.ID, &in.Role, &in.Content, &name, &in.Timestamp, &meta); err != nil {
			return nil, err
		}
		in.Name = name.String
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &in.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// Sessions lists session ids that have at least one message.
func (s *SQLiteMessageStore) Sessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT session_id FROM messages ORDER BY session_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Clear deletes a session's messages.
func (s *SQLiteMessageStore) Clear(ctx context.Context, sessionID string) error {
	if err := validateSessionID(sessionID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID)
	return err
}

// Close releases the underlying database handle.
func (s *SQLiteMessageStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
