package types

import "errors"

// Sentinel errors for endpointrules operations.
var (
	// ErrMalformedRuleSet indicates a rule-set document that cannot be parsed.
	ErrMalformedRuleSet = errors.New("malformed rule-set document")

	// ErrMalformedSuite indicates a test-suite document that cannot be parsed.
	ErrMalformedSuite = errors.New("malformed test-suite document")

	// ErrDocumentTooLarge indicates a document exceeds MaxDocumentSize.
	ErrDocumentTooLarge = errors.New("document exceeds maximum size")

	// ErrTooManyParameters indicates a rule-set exceeds MaxParameters.
	ErrTooManyParameters = errors.New("rule-set declares too many parameters")

	// ErrRuleTooDeep indicates tree rules nest beyond MaxRuleDepth.
	ErrRuleTooDeep = errors.New("rule tree exceeds maximum depth")

	// ErrTooManyConditions indicates a rule exceeds MaxConditionsPerRule.
	ErrTooManyConditions = errors.New("rule has too many conditions")

	// ErrPathTooDeep indicates a getAttr path exceeds MaxPathDepth.
	ErrPathTooDeep = errors.New("getAttr path exceeds maximum depth")

	// ErrInvalidPath indicates a getAttr path that cannot be parsed.
	ErrInvalidPath = errors.New("invalid getAttr path")

	// ErrTooManyTemplateParts indicates a template exceeds MaxTemplateParts.
	ErrTooManyTemplateParts = errors.New("template has too many parts")

	// ErrInvalidTemplate indicates unbalanced braces or an empty placeholder.
	ErrInvalidTemplate = errors.New("invalid template string")

	// ErrUnknownFunction indicates a condition names a function the engine doesn't provide.
	ErrUnknownFunction = errors.New("unknown function")

	// ErrTypeMismatch indicates a typecheck failure.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrUnboundReference indicates a reference to a name not in scope.
	ErrUnboundReference = errors.New("unbound reference")

	// ErrMissingParameter indicates a required parameter has no value and no default.
	ErrMissingParameter = errors.New("missing required parameter")

	// ErrInvalidParameter indicates an undeclared parameter or a value of the wrong kind.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrEndpointError indicates an error rule matched.
	ErrEndpointError = errors.New("endpoint resolution error")

	// ErrNoRulesMatched indicates every rule fell through.
	ErrNoRulesMatched = errors.New("no rules matched")

	// ErrInvariantViolation indicates an evaluator defect (e.g. a reference typecheck should have rejected).
	ErrInvariantViolation = errors.New("internal invariant violation")

	// ErrRuleSetNotFound indicates no stored rule-set matches the lookup.
	ErrRuleSetNotFound = errors.New("rule-set not found")

	// ErrServiceIDRequired indicates a rule-set without serviceId was offered to the store.
	ErrServiceIDRequired = errors.New("rule-set document has no serviceId")

	// ErrAPIKeyNotFound indicates no active API key has the given ID.
	ErrAPIKeyNotFound = errors.New("API key not found or already revoked")
)
