package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"
)

// maxNumberedSecrets bounds the ER_HMAC_SECRET_N scan.
const maxNumberedSecrets = 16

// HMACSecrets reads API key secrets from the environment.
// ER_HMAC_SECRET holds one <secret_id>:<base64_secret> pair; ER_HMAC_SECRET_1
// .. ER_HMAC_SECRET_16 add more so keys can rotate. Secrets never come from
// config files.
func HMACSecrets() (map[string][]byte, error) {
	secrets := make(map[string][]byte)

	add := func(envKey string) error {
		val := os.Getenv(envKey)
		if val == "" {
			return nil
		}
		secretID, decoded, err := ParseHMACSecretWithID(val)
		if err != nil {
			return fmt.Errorf("%s: %w", envKey, err)
		}
		if _, exists := secrets[secretID]; exists {
			return fmt.Errorf("duplicate secret_id '%s' in %s (check ER_HMAC_SECRET and ER_HMAC_SECRET_* for conflicts)", secretID, envKey)
		}
		secrets[secretID] = decoded
		return nil
	}

	if err := add("ER_HMAC_SECRET"); err != nil {
		return nil, err
	}
	for i := 1; i <= maxNumberedSecrets; i++ {
		if err := add(fmt.Sprintf("ER_HMAC_SECRET_%d", i)); err != nil {
			return nil, err
		}
	}
	return secrets, nil
}

// ParseHMACSecretWithID parses <secret_id>:<base64_secret>. The secret ID is
// 32 lowercase hex chars (a UUID without hyphens); the secret at least 32 bytes.
func ParseHMACSecretWithID(envValue string) (secretID string, secret []byte, err error) {
	id, encoded, ok := strings.Cut(strings.TrimSpace(envValue), ":")
	if !ok {
		return "", nil, fmt.Errorf("format must be <secret_id>:<base64_secret>")
	}
	if len(id) != 32 {
		return "", nil, fmt.Errorf("secret_id must be 32 hex chars (UUID without hyphens)")
	}
	for _, c := range id {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return "", nil, fmt.Errorf("secret_id must be hex chars only")
		}
	}

	secret, err = base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", nil, fmt.Errorf("invalid base64 encoding: %w", err)
	}
	if len(secret) < 32 {
		return "", nil, fmt.Errorf("secret must be at least 32 bytes, got %d", len(secret))
	}
	return id, secret, nil
}
