// Package types provides the wire-format models shared across endpointrules components.
//
// Zero-dependency design: types.go, rules.go and errors.go use only encoding/json so
// the document model can be embedded by generated clients without pulling in the
// evaluator. ID utilities in ids.go import uuid but are isolated for selective inclusion.
//
// Separation from evaluation: these are the declarative rule-set and test-suite
// documents as authored. internal/rules compiles them into typed, immutable rule-sets.
package types

import "encoding/json"

// RuleSetID represents a UUIDv7 identifier for a stored rule-set revision.
// String alias enables type safety while maintaining JSON string serialization.
type RuleSetID string

// SuiteID represents a UUIDv7 identifier for a stored test suite.
type SuiteID string

// APIKeyID represents a UUIDv7 identifier for an issued API key.
type APIKeyID string

// RawExpression is an unparsed expression from a rule-set document.
// Strings are templates, booleans are literals, objects are references ({"ref"})
// or function calls ({"fn", "argv"}). Parsing is deferred to the loader so that
// errors can be reported with their document location.
type RawExpression = json.RawMessage

// Resource limits enforced by the loader so that a rule-set's evaluation cost is
// bounded by its size, never by its input.
const (
	// MaxDocumentSize caps a rule-set or test-suite document.
	// Real service rule-sets stay well under 2MB; 8MB leaves headroom for generated ones.
	MaxDocumentSize = 8 * 1024 * 1024

	// MaxParameters limits declared parameters per rule-set.
	MaxParameters = 128

	// MaxRuleDepth bounds tree rule nesting, and with it evaluator recursion.
	MaxRuleDepth = 32

	// MaxConditionsPerRule bounds the condition list of a single rule.
	MaxConditionsPerRule = 32

	// MaxPathDepth bounds a getAttr path (e.g. "resourceId[2]" is two steps).
	MaxPathDepth = 16

	// MaxTemplateParts bounds literal + embedded parts of one template string.
	MaxTemplateParts = 64
)
