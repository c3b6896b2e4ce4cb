// internal/rules/ruleset.go
package rules

import (
	"sort"
)

/*
 * Compiled rule-set model.
 *
 * A RuleSet is produced only by Load, after a successful typecheck, and is
 * immutable afterwards: every evaluation allocates its own scope and reads the
 * rule tree without synchronization.
 *
 * Rules form a closed variant set (EndpointRule, ErrorRule, TreeRule). Sibling
 * order and condition order are significant: first match wins, conditions
 * short-circuit left to right.
 */

// Params binds parameter names to values for one resolution.
type Params map[string]Value

// Parameter is a declared rule-set input.
type Parameter struct {
	Name               string
	Type               Type // StringType or BoolType
	Required           bool
	BuiltIn            string
	Documentation      string
	Default            *Value
	DeprecationMessage string
}

// StaticType is the type references to the parameter see before narrowing.
func (p Parameter) StaticType() Type {
	if p.Required || p.Default != nil {
		return p.Type
	}
	return OptionalOf(p.Type)
}

// Condition is one entry of a rule's condition list.
type Condition struct {
	Fn         Expr
	Assign     string
	ResultType Type
	truthiness truthiness
}

// Rule is an EndpointRule, ErrorRule or TreeRule.
type Rule interface {
	header() *RuleHeader
}

// RuleHeader holds what every rule kind shares.
type RuleHeader struct {
	Conditions    []Condition
	Documentation string
}

func (h *RuleHeader) header() *RuleHeader { return h }

// EndpointRule terminates resolution with an endpoint.
type EndpointRule struct {
	RuleHeader
	Endpoint EndpointTemplate
}

// ErrorRule terminates resolution with a user-facing error.
type ErrorRule struct {
	RuleHeader
	Message Expr
}

// TreeRule nests rules under its conditions.
type TreeRule struct {
	RuleHeader
	Rules []Rule
}

// EndpointTemplate is the unevaluated body of an endpoint rule.
type EndpointTemplate struct {
	URL         Expr
	AuthSchemes []string
	AuthParams  map[string]Expr
	Properties  map[string]Expr
	Headers     map[string][]Expr
}

// ResolvedEndpoint is the result of a successful resolution.
type ResolvedEndpoint struct {
	URL         string              `json:"url"`
	AuthSchemes []string            `json:"authSchemes,omitempty"`
	AuthParams  map[string]string   `json:"authParams,omitempty"`
	Properties  map[string]Value    `json:"properties,omitempty"`
	Headers     map[string][]string `json:"headers,omitempty"`
}

// clone returns a deep copy so cached results can't be mutated through callers.
func (e ResolvedEndpoint) clone() ResolvedEndpoint {
	out := ResolvedEndpoint{URL: e.URL}
	if e.AuthSchemes != nil {
		out.AuthSchemes = append([]string(nil), e.AuthSchemes...)
	}
	if e.AuthParams != nil {
		out.AuthParams = make(map[string]string, len(e.AuthParams))
		for k, v := range e.AuthParams {
			out.AuthParams[k] = v
		}
	}
	if e.Properties != nil {
		// Values are immutable; copying the map is enough.
		out.Properties = make(map[string]Value, len(e.Properties))
		for k, v := range e.Properties {
			out.Properties[k] = v
		}
	}
	if e.Headers != nil {
		out.Headers = make(map[string][]string, len(e.Headers))
		for k, v := range e.Headers {
			out.Headers[k] = append([]string(nil), v...)
		}
	}
	return out
}

// RuleSet is a loaded, typechecked rule-set.
type RuleSet struct {
	ServiceID   string
	Version     string
	Parameters  []Parameter // sorted by name
	Rules       []Rule
	params      map[string]int
	fingerprint string
}

// Parameter looks up a declared parameter by name.
func (rs *RuleSet) Parameter(name string) (Parameter, bool) {
	i, ok := rs.params[name]
	if !ok {
		return Parameter{}, false
	}
	return rs.Parameters[i], true
}

// Fingerprint is a SHA-256 over the canonical source document.
// Equal fingerprints imply identical resolution behaviour.
func (rs *RuleSet) Fingerprint() string { return rs.fingerprint }

// BindBuiltIns returns a copy of params with built-in parameters filled from
// builtins (keyed by built-in name, e.g. "AWS::Region") where the caller did
// not supply a value. Explicit params always win.
func (rs *RuleSet) BindBuiltIns(builtins map[string]Value, params Params) Params {
	out := make(Params, len(params))
	for k, v := range params {
		out[k] = v
	}
	for _, p := range rs.Parameters {
		if p.BuiltIn == "" {
			continue
		}
		if v, ok := out[p.Name]; ok && v.IsSet() {
			continue
		}
		if v, ok := builtins[p.BuiltIn]; ok && v.IsSet() {
			out[p.Name] = v
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
