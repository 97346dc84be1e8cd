package kvstore

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// Postgres implements Store on the kv_state table (see migrations/).
type Postgres struct {
	db *sql.DB
}

// NewPostgres creates a PostgreSQL-backed Store
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Get retrieves a value by scope and key
func (s *Postgres) Get(ctx context.Context, scope, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT value
		FROM kv_state
		WHERE scope = $1 AND key = $2
	`, scope, key).Scan(&value)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s: %w", scope, key, err)
	}

	return value, nil
}

// Set upserts a value
func (s *Postgres) Set(ctx context.Context, scope, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv_state (scope, key, value, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (scope, key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`, scope, key, value)
	if err != nil {
		return fmt.Errorf("failed to set %s/%s: %w", scope, key, err)
	}

	return nil
}

// Delete removes a value; deleting a missing key is not an error
func (s *Postgres) Delete(ctx context.Context, scope, key string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM kv_state
		WHERE scope = $1 AND key = $2
	`, scope, key)
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", scope, key, err)
	}

	return nil
}
