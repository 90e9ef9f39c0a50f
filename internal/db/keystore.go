package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spoolworks/mediaspool/internal/apikeys"
	"github.com/spoolworks/mediaspool/internal/jobs"
)

// KeyStore implements apikeys.Store on Postgres.
type KeyStore struct {
	db *DatabaseConnection
}

func NewKeyStore(db *DatabaseConnection) *KeyStore {
	return &KeyStore{db: db}
}

const keyColumns = `id, name, secret_hash, scopes, created_at, expires_at, last_used_at, revoked`

func scanKey(row pgx.Row) (*apikeys.Record, error) {
	var r apikeys.Record
	err := row.Scan(
		&r.ID, &r.Name, &r.SecretHash, &r.Scopes, &r.CreatedAt,
		&r.ExpiresAt, &r.LastUsedAt, &r.Revoked,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, jobs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan api key: %w", err)
	}
	return &r, nil
}

func (s *KeyStore) InsertKey(ctx context.Context, r *apikeys.Record) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO api_keys (`+keyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.ID, r.Name, r.SecretHash, r.Scopes, r.CreatedAt,
		r.ExpiresAt, r.LastUsedAt, r.Revoked,
	)
	if err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

func (s *KeyStore) GetKey(ctx context.Context, id string) (*apikeys.Record, error) {
	row := s.db.QueryRow(ctx, `SELECT `+keyColumns+` FROM api_keys WHERE id = $1`, id)
	return scanKey(row)
}

func (s *KeyStore) ListKeys(ctx context.Context) ([]*apikeys.Record, error) {
	rows, err := s.db.Query(ctx, `SELECT `+keyColumns+` FROM api_keys ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	out := make([]*apikeys.Record, 0)
	for rows.Next() {
		r, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *KeyStore) UpdateKey(ctx context.Context, r *apikeys.Record) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE api_keys
		SET name = $2, secret_hash = $3, scopes = $4, expires_at = $5, revoked = $6
		WHERE id = $1`,
		r.ID, r.Name, r.SecretHash, r.Scopes, r.ExpiresAt, r.Revoked,
	)
	if err != nil {
		return fmt.Errorf("update api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return jobs.ErrNotFound
	}
	return nil
}

func (s *KeyStore) TouchKey(ctx context.Context, id string, at time.Time) error {
	tag, err := s.db.Exec(ctx, `UPDATE api_keys SET last_used_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("touch api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return jobs.ErrNotFound
	}
	return nil
}
