package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// SQLiteStore keeps sessions in a single sqlite table, one JSON document per
// row. Suited to hosts that already carry a database file around.
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewSQLiteStore opens (and if needed initializes) the database at path.
func NewSQLiteStore(path string, logger zerolog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}

	// Single writer; serialized access keeps sqlite happy.
	db.SetMaxOpenConns(1)

	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			id         TEXT PRIMARY KEY,
			model      TEXT NOT NULL,
			document   TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize session schema: %w", err)
	}

	logger.Info().Str("path", path).Msg("Session sqlite store initialized")

	return &SQLiteStore{db: db, logger: logger}, nil
}

// Close closes the database.
func (ss *SQLiteStore) Close() error {
	return ss.db.Close()
}

// Create inserts a new session row.
func (ss *SQLiteStore) Create(ctx context.Context, sess *Session) error {
	if err := validateID(sess.ID); err != nil {
		return err
	}
	doc, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	_, err = ss.db.ExecContext(ctx,
		`INSERT INTO sessions (id, model, document, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		sess.ID, sess.Model, string(doc), sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// Save upserts the session row.
func (ss *SQLiteStore) Save(ctx context.Context, sess *Session) error {
	if err := validateID(sess.ID); err != nil {
		return err
	}
	doc, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	_, err = ss.db.ExecContext(ctx,
		`INSERT INTO sessions (id, model, document, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   model = excluded.model,
		   document = excluded.document,
		   updated_at = excluded.updated_at`,
		sess.ID, sess.Model, string(doc), sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	ss.logger.Debug().Str("session_id", sess.ID).Msg("Session saved")
	return nil
}

// Load reads and decodes a session row.
func (ss *SQLiteStore) Load(ctx context.Context, id string) (*Session, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	var doc string
	err := ss.db.QueryRowContext(ctx,
		`SELECT document FROM sessions WHERE id = ?`, id,
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal([]byte(doc), &sess); err != nil {
		return nil, fmt.Errorf("failed to parse session document: %w", err)
	}
	return &sess, nil
}

// Delete removes a session row.
func (ss *SQLiteStore) Delete(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	if _, err := ss.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// List returns summaries ordered by most recent update.
func (ss *SQLiteStore) List(ctx context.Context) ([]Summary, error) {
	rows, err := ss.db.QueryContext(ctx,
		`SELECT document FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var summaries []Summary
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		var sess Session
		if err := json.Unmarshal([]byte(doc), &sess); err != nil {
			ss.logger.Warn().Err(err).Msg("Skipping unparseable session row")
			continue
		}
		summaries = append(summaries, sess.summary())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return summaries, nil
}
