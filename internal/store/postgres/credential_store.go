package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xcoinalgo/strategy-engine/internal/domain"
)

// CredentialStore implements domain.CredentialStore using PostgreSQL. It
// stores only opaque, already-sealed blobs; decryption happens in
// internal/credentials, never here.
type CredentialStore struct {
	pool *pgxpool.Pool
}

// NewCredentialStore creates a new CredentialStore backed by the given pool.
func NewCredentialStore(pool *pgxpool.Pool) *CredentialStore {
	return &CredentialStore{pool: pool}
}

// Create inserts a new sealed credential blob.
func (s *CredentialStore) Create(ctx context.Context, id, sealedBlob string) error {
	const query = `INSERT INTO broker_credentials (id, sealed_blob) VALUES ($1, $2)`
	if _, err := s.pool.Exec(ctx, query, id, sealedBlob); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create credential %s: %w", id, err)
	}
	return nil
}

// Get retrieves a sealed credential blob by ID.
func (s *CredentialStore) Get(ctx context.Context, id string) (string, error) {
	var blob string
	err := s.pool.QueryRow(ctx, `SELECT sealed_blob FROM broker_credentials WHERE id = $1`, id).Scan(&blob)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", domain.ErrNotFound
		}
		return "", fmt.Errorf("postgres: get credential %s: %w", id, err)
	}
	return blob, nil
}

// Delete removes a sealed credential blob.
func (s *CredentialStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM broker_credentials WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete credential %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Compile-time interface check.
var _ domain.CredentialStore = (*CredentialStore)(nil)
