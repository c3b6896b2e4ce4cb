// internal/types/rules.go
package types

/*
 * Document types for endpoint rule-sets and their test suites.
 *
 * These mirror the declarative JSON format one-to-one. They carry no behaviour;
 * internal/rules loads them into a typechecked RuleSet.
 *
 * Key types:
 *   - Document: serviceId + parameters + ordered top-level rules
 *   - ParameterDoc: declared input (type, required, builtIn, default)
 *   - RuleDoc: conditions plus exactly one of endpoint / error / rules
 *   - ConditionDoc: function call with optional result binding ("assign")
 *   - SuiteDoc / CaseDoc: test cases with expected endpoint or error
 *   - PathSegment: one step of a getAttr path (key or index)
 */

// Document is a complete rule-set definition.
type Document struct {
	Version    string                  `json:"version,omitempty"`
	ServiceID  string                  `json:"serviceId"`
	Parameters map[string]ParameterDoc `json:"parameters"`
	Rules      []RuleDoc               `json:"rules"`
}

// ParameterDoc declares one rule-set input.
type ParameterDoc struct {
	Type          string          `json:"type"` // "string" or "boolean" (case-insensitive)
	Required      bool            `json:"required,omitempty"`
	BuiltIn       string          `json:"builtIn,omitempty"`
	Documentation string          `json:"documentation,omitempty"`
	Default       any             `json:"default,omitempty"` // string or bool literal
	Deprecated    *DeprecationDoc `json:"deprecated,omitempty"`
}

// DeprecationDoc marks a parameter as deprecated.
type DeprecationDoc struct {
	Message string `json:"message,omitempty"`
	Since   string `json:"since,omitempty"`
}

// ConditionDoc is one entry of a rule's conditions list.
type ConditionDoc struct {
	Fn     string          `json:"fn"`
	Argv   []RawExpression `json:"argv"`
	Assign string          `json:"assign,omitempty"`
}

// EndpointDoc is the body of an endpoint rule.
type EndpointDoc struct {
	URL         RawExpression              `json:"url"`
	AuthSchemes []string                   `json:"authSchemes,omitempty"`
	AuthParams  map[string]RawExpression   `json:"authParams,omitempty"`
	Properties  map[string]RawExpression   `json:"properties,omitempty"`
	Headers     map[string][]RawExpression `json:"headers,omitempty"`
}

// RuleDoc is one rule. Exactly one of Endpoint, Error or Rules must be set.
// Type is optional ("endpoint", "error", "tree") and cross-checked when present.
type RuleDoc struct {
	Type          string         `json:"type,omitempty"`
	Documentation string         `json:"documentation,omitempty"`
	Conditions    []ConditionDoc `json:"conditions"`
	Endpoint      *EndpointDoc   `json:"endpoint,omitempty"`
	Error         RawExpression  `json:"error,omitempty"`
	Rules         []RuleDoc      `json:"rules,omitempty"`
}

// SuiteDoc is an ordered list of test cases for one rule-set.
type SuiteDoc struct {
	TestCases []CaseDoc `json:"testCases"`
}

// CaseDoc is one test case: bound parameters and the expected terminal outcome.
type CaseDoc struct {
	Documentation string         `json:"documentation,omitempty"`
	Params        map[string]any `json:"params"`
	Expect        ExpectationDoc `json:"expect"`
}

// ExpectationDoc holds exactly one of Endpoint or Error.
type ExpectationDoc struct {
	Endpoint *ExpectedEndpointDoc `json:"endpoint,omitempty"`
	Error    *string              `json:"error,omitempty"`
}

// ExpectedEndpointDoc is the endpoint a test case must resolve to.
// Omitted maps/lists compare equal to empty ones.
type ExpectedEndpointDoc struct {
	URL         string              `json:"url"`
	AuthSchemes []string            `json:"authSchemes,omitempty"`
	AuthParams  map[string]string   `json:"authParams,omitempty"`
	Properties  map[string]any      `json:"properties,omitempty"`
	Headers     map[string][]string `json:"headers,omitempty"`
}

// PathSegment represents one step of a getAttr path.
// Key for record fields, Index for array elements.
type PathSegment struct {
	Key     string // record key (mutually exclusive with Index)
	Index   int    // array index (mutually exclusive with Key)
	IsIndex bool   // disambiguates Index=0 from unset
}
