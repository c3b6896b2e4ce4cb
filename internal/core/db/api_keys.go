package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/solatis/endpointrules/internal/types"
)

// APIKeyRecord describes an issued API key. The key itself is never stored.
type APIKeyRecord struct {
	ID         types.APIKeyID `db:"api_key_id"`
	Name       string         `db:"name"`
	SecretID   string         `db:"secret_id"`
	CreatedAt  string         `db:"created_at"`
	RevokedAt  sql.NullString `db:"revoked_at"`
	LastUsedAt sql.NullString `db:"last_used_at"`
}

// Revoked reports whether the key has been revoked.
func (r APIKeyRecord) Revoked() bool { return r.RevokedAt.Valid }

// Queries exposes the named statements, for the authenticator.
func (s *Store) Queries() *Queries { return s.queries }

// CreateAPIKey records a key issued to name under secretID.
func (s *Store) CreateAPIKey(ctx context.Context, name, secretID, keyHash string) (APIKeyRecord, error) {
	if name == "" {
		return APIKeyRecord{}, fmt.Errorf("API key name cannot be empty")
	}
	now := time.Now()
	rec := APIKeyRecord{
		ID:        types.NewAPIKeyID(),
		Name:      name,
		SecretID:  secretID,
		CreatedAt: now.UTC().Truncate(time.Second).Format(time.RFC3339),
	}
	if _, err := s.queries.Exec(ctx, "insert-api-key",
		rec.ID, rec.Name, rec.SecretID, keyHash, timestampArg(s.db.DriverName(), now),
	); err != nil {
		return APIKeyRecord{}, fmt.Errorf("failed to insert API key: %w", err)
	}
	return rec, nil
}

// RevokeAPIKey marks an active key revoked. Revoking twice is ErrAPIKeyNotFound.
func (s *Store) RevokeAPIKey(ctx context.Context, id types.APIKeyID) error {
	res, err := s.queries.Exec(ctx, "revoke-api-key", time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("failed to revoke API key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to revoke API key: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: id %s", types.ErrAPIKeyNotFound, id)
	}
	return nil
}

// ListAPIKeys returns all issued keys, oldest first.
func (s *Store) ListAPIKeys(ctx context.Context) ([]APIKeyRecord, error) {
	var out []APIKeyRecord
	if err := s.queries.Select(ctx, "list-api-keys", &out); err != nil {
		return nil, fmt.Errorf("failed to list API keys: %w", err)
	}
	return out, nil
}
