// Package postgres persists health documents as one JSONB row per user.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/healthscoreai/healthscore/internal/core/domain"
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across instance startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026083001)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS health_documents (
	user_key TEXT PRIMARY KEY,
	doc JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// storageKey derives the row key from the user id. Kept distinct from the
// raw id so the keyspace can host other per-user records later.
func storageKey(userID string) string {
	return "doc:" + userID
}

func (s *Store) Get(ctx context.Context, userID string) (*domain.HealthDocument, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT doc FROM health_documents WHERE user_key = $1`, storageKey(userID))

	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "get health document",
				fmt.Errorf("user %s", userID))
		}
		return nil, fmt.Errorf("scan health document: %w", err)
	}

	var doc domain.HealthDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal health document: %w", err)
	}
	return &doc, nil
}

func (s *Store) Put(ctx context.Context, userID string, doc *domain.HealthDocument) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal health document: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO health_documents (user_key, doc, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (user_key) DO UPDATE SET doc = EXCLUDED.doc, updated_at = EXCLUDED.updated_at
`, storageKey(userID), raw, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert health document: %w", err)
	}
	return nil
}

func (s *Store) Merge(ctx context.Context, userID string, patch domain.DocumentPatch) error {
	raw, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("marshal document patch: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
UPDATE health_documents
SET doc = doc || $2::jsonb, updated_at = $3
WHERE user_key = $1
`, storageKey(userID), raw, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("merge health document: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("merge rows affected: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrDocumentNotFound, "merge health document",
			fmt.Errorf("user %s", userID))
	}
	return nil
}
