package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/irfndi/tradepilot/internal/database"
	"github.com/jackc/pgx/v5"
)

const schema = `CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	id TEXT NOT NULL,
	owner TEXT NOT NULL DEFAULT '',
	data TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (collection, id)
)`

const ownerIndex = `CREATE INDEX IF NOT EXISTS idx_documents_owner ON documents (collection, owner)`

// SQLStore keeps documents in a single table on SQLite or PostgreSQL.
type SQLStore struct {
	db  database.DBPool
	now func() time.Time
}

var _ Store = (*SQLStore)(nil)

func NewSQLStore(db database.DBPool) *SQLStore {
	return &SQLStore{db: db, now: time.Now}
}

// Migrate creates the documents table and its owner index.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range []string{schema, ownerIndex} {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate documents table: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) q(query string) string {
	return s.db.Dialect().Rebind(query)
}

func (s *SQLStore) Upsert(ctx context.Context, collection, id, owner string, doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", collection, id, err)
	}

	_, err = s.db.Exec(ctx, s.q(`INSERT INTO documents (collection, id, owner, data, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (collection, id) DO UPDATE SET owner = excluded.owner, data = excluded.data, updated_at = excluded.updated_at`),
		collection, id, owner, string(data), s.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, collection, id string, dest any) error {
	var data string
	err := s.db.QueryRow(ctx, s.q(`SELECT data FROM documents WHERE collection = ? AND id = ?`), collection, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load %s/%s: %w", collection, id, err)
	}
	return json.Unmarshal([]byte(data), dest)
}

func (s *SQLStore) Delete(ctx context.Context, collection, id string) error {
	if _, err := s.db.Exec(ctx, s.q(`DELETE FROM documents WHERE collection = ? AND id = ?`), collection, id); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *SQLStore) List(ctx context.Context, collection, owner string) ([]json.RawMessage, error) {
	query := `SELECT data FROM documents WHERE collection = ? ORDER BY id`
	args := []any{collection}
	if owner != "" {
		query = `SELECT data FROM documents WHERE collection = ? AND owner = ? ORDER BY id`
		args = append(args, owner)
	}

	rows, err := s.db.Query(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", collection, err)
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", collection, err)
		}
		out = append(out, json.RawMessage(data))
	}
	return out, rows.Err()
}
