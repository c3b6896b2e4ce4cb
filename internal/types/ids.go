package types

import "github.com/google/uuid"

// NewRuleSetID generates a UUIDv7 rule-set identifier.
// Time-ordered IDs make "latest revision for a service" an index range scan.
// Panics on clock regression (uuid.Must); acceptable for ID generation.
func NewRuleSetID() RuleSetID {
	return RuleSetID(uuid.Must(uuid.NewV7()).String())
}

// NewSuiteID generates a UUIDv7 test-suite identifier.
// Panics on clock regression (uuid.Must); acceptable for ID generation.
func NewSuiteID() SuiteID {
	return SuiteID(uuid.Must(uuid.NewV7()).String())
}

// NewAPIKeyID generates a UUIDv7 API key identifier.
func NewAPIKeyID() APIKeyID {
	return APIKeyID(uuid.Must(uuid.NewV7()).String())
}

// ParseRuleSetID validates and converts a string to RuleSetID.
func ParseRuleSetID(s string) (RuleSetID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", err
	}
	return RuleSetID(u.String()), nil
}
