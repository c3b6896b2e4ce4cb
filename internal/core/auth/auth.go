// Package auth provides HMAC-based API key authentication for the resolver's
// gRPC surface.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type contextKey string

const clientKey = contextKey("client")

// lastUsedInterval throttles last_used_at writes for busy clients.
const lastUsedInterval = time.Minute

// MetadataKey is the gRPC metadata header carrying the API key.
const MetadataKey = "x-api-key"

// healthPrefix exempts the standard health service so liveness checks need no key.
const healthPrefix = "/grpc.health.v1.Health/"

// Queries is the subset of *db.Queries the authenticator needs.
type Queries interface {
	Get(ctx context.Context, name string, dest any, args ...any) error
	Exec(ctx context.Context, name string, args ...any) (sql.Result, error)
}

// Authenticator validates API keys against HMAC hashes held in the database.
type Authenticator struct {
	secrets map[string][]byte
	queries Queries
	now     func() time.Time
}

// NewAuthenticator creates an authenticator over secret_id -> secret.
func NewAuthenticator(secrets map[string][]byte, queries Queries) *Authenticator {
	return &Authenticator{
		secrets: secrets,
		queries: queries,
		now:     time.Now,
	}
}

type keyRow struct {
	APIKeyID   string         `db:"api_key_id"`
	Name       string         `db:"name"`
	RevokedAt  sql.NullString `db:"revoked_at"`
	LastUsedAt sql.NullString `db:"last_used_at"`
}

// Authenticate validates apiKey and returns the client name it was issued to.
func (a *Authenticator) Authenticate(ctx context.Context, apiKey string) (string, error) {
	secretID, _, err := ParseAPIKey(apiKey)
	if err != nil {
		return "", err
	}
	secret, ok := a.secrets[secretID]
	if !ok {
		return "", ErrUnknownKey
	}

	var row keyRow
	err = a.queries.Get(ctx, "get-api-key-by-hash", &row, KeyHash(secret, apiKey))
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrInvalidKey
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrKeyLookup, err)
	}
	if row.RevokedAt.Valid {
		return "", ErrKeyRevoked
	}

	now := a.now().UTC()
	if shouldUpdateLastUsed(row.LastUsedAt, now) {
		// Best effort; a failed touch must not fail the request.
		_, _ = a.queries.Exec(ctx, "touch-api-key", now.Format(time.RFC3339), row.APIKeyID)
	}
	return row.Name, nil
}

func shouldUpdateLastUsed(lastUsed sql.NullString, now time.Time) bool {
	if !lastUsed.Valid {
		return true
	}
	t, err := time.Parse(time.RFC3339, lastUsed.String)
	if err != nil {
		return true
	}
	return now.Sub(t) > lastUsedInterval
}

// UnaryInterceptor authenticates every unary call except health checks.
func (a *Authenticator) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if strings.HasPrefix(info.FullMethod, healthPrefix) {
			return handler(ctx, req)
		}

		md, _ := metadata.FromIncomingContext(ctx)
		keys := md.Get(MetadataKey)
		if len(keys) == 0 {
			return nil, status.Error(codes.Unauthenticated, ErrMissingKey.Error())
		}

		client, err := a.Authenticate(ctx, keys[0])
		switch {
		case err == nil:
			return handler(context.WithValue(ctx, clientKey, client), req)
		case errors.Is(err, ErrKeyRevoked):
			return nil, status.Error(codes.PermissionDenied, err.Error())
		case errors.Is(err, ErrKeyLookup):
			return nil, status.Error(codes.Unavailable, err.Error())
		default:
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
	}
}

// ClientFromContext returns the authenticated client name, or "" when the
// request was not authenticated.
func ClientFromContext(ctx context.Context) string {
	if client, ok := ctx.Value(clientKey).(string); ok {
		return client
	}
	return ""
}

// WithAPIKey attaches apiKey to outgoing calls made with ctx.
func WithAPIKey(ctx context.Context, apiKey string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, MetadataKey, apiKey)
}
