package auth

import "errors"

// Missing, malformed and unknown keys all map to UNAUTHENTICATED so callers
// cannot learn which keys exist. Only a revoked key confirms existence.
var (
	ErrMissingKey       = errors.New("API key required in x-api-key metadata")
	ErrInvalidKeyFormat = errors.New("invalid API key format")
	ErrUnknownKey       = errors.New("unknown secret ID")
	ErrInvalidKey       = errors.New("invalid API key")
	ErrKeyRevoked       = errors.New("API key has been revoked")
	ErrKeyLookup        = errors.New("API key lookup failed")
)
