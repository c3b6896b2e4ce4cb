// internal/rules/compile.go
package rules

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/solatis/endpointrules/internal/types"
)

/*
 * Rule-set loading.
 *
 * Load turns a decoded document into a RuleSet in two passes:
 *   1. build: parameters and the rule tree are parsed into the closed
 *      expression AST, enforcing resource limits (parameter count, rule depth,
 *      conditions per rule, path depth, template parts)
 *   2. typecheck: see typecheck.go
 *
 * Either pass failing returns an error and no RuleSet; a rule-set is never
 * partially loaded. Structural problems are *LoadError, typing problems are
 * *TypeError.
 *
 * Expression encoding in documents:
 *   "text {Ref} {Ref#path}"         template (plain string if no placeholders)
 *   true / false                    boolean literal
 *   {"ref": "Name"}                 reference
 *   {"fn": "name", "argv": [...]}   function call
 *   {...} / [...]                   record / array literal (endpoint properties)
 *
 * Limits are checked here rather than at evaluation so a loaded rule-set has
 * bounded evaluation cost regardless of input.
 */

// Load builds and typechecks a rule-set from its decoded document.
func Load(doc *types.Document) (*RuleSet, error) {
	if doc == nil {
		return nil, &LoadError{Err: fmt.Errorf("nil document")}
	}
	if len(doc.Parameters) > types.MaxParameters {
		return nil, &LoadError{Path: "parameters", Err: types.ErrTooManyParameters}
	}

	rs := &RuleSet{
		ServiceID: doc.ServiceID,
		Version:   doc.Version,
		params:    make(map[string]int, len(doc.Parameters)),
	}

	for _, name := range sortedKeys(doc.Parameters) {
		p, err := buildParameter(name, doc.Parameters[name])
		if err != nil {
			return nil, err
		}
		rs.params[name] = len(rs.Parameters)
		rs.Parameters = append(rs.Parameters, p)
	}

	if len(doc.Rules) == 0 {
		return nil, &LoadError{Path: "rules", Err: fmt.Errorf("rule-set has no rules")}
	}
	rules, err := buildRules(doc.Rules, "rules", 1)
	if err != nil {
		return nil, err
	}
	rs.Rules = rules

	if err := typecheck(rs); err != nil {
		return nil, err
	}

	fp, err := fingerprint(doc)
	if err != nil {
		return nil, &LoadError{Err: err}
	}
	rs.fingerprint = fp
	return rs, nil
}

// LoadJSON decodes a JSON rule-set document and loads it.
func LoadJSON(data []byte) (*RuleSet, error) {
	doc, err := DecodeDocument(data, FormatJSON)
	if err != nil {
		return nil, err
	}
	return Load(doc)
}

func buildParameter(name string, pd types.ParameterDoc) (Parameter, error) {
	path := "parameters." + name
	if name == "" {
		return Parameter{}, &LoadError{Path: "parameters", Err: fmt.Errorf("empty parameter name")}
	}

	p := Parameter{
		Name:          name,
		Required:      pd.Required,
		BuiltIn:       pd.BuiltIn,
		Documentation: pd.Documentation,
	}
	switch strings.ToLower(pd.Type) {
	case "string":
		p.Type = StringType
	case "boolean", "bool":
		p.Type = BoolType
	default:
		return Parameter{}, &LoadError{Path: path + ".type", Err: fmt.Errorf("unsupported parameter type %q", pd.Type)}
	}

	if pd.Default != nil {
		v, err := ValueOf(pd.Default)
		if err != nil || !v.Conforms(p.Type) {
			return Parameter{}, &LoadError{
				Path: path + ".default",
				Err:  fmt.Errorf("default %v does not match parameter type %s", pd.Default, p.Type),
			}
		}
		p.Default = &v
	}
	if pd.Deprecated != nil {
		p.DeprecationMessage = pd.Deprecated.Message
		if p.DeprecationMessage == "" {
			p.DeprecationMessage = "deprecated"
		}
	}
	return p, nil
}

func buildRules(docs []types.RuleDoc, path string, depth int) ([]Rule, error) {
	if depth > types.MaxRuleDepth {
		return nil, &LoadError{Path: path, Err: types.ErrRuleTooDeep}
	}
	rules := make([]Rule, 0, len(docs))
	for i := range docs {
		r, err := buildRule(&docs[i], fmt.Sprintf("%s[%d]", path, i), depth)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

func buildRule(rd *types.RuleDoc, path string, depth int) (Rule, error) {
	if len(rd.Conditions) > types.MaxConditionsPerRule {
		return nil, &LoadError{Path: path + ".conditions", Err: types.ErrTooManyConditions}
	}

	head := RuleHeader{
		Conditions:    make([]Condition, 0, len(rd.Conditions)),
		Documentation: rd.Documentation,
	}
	for i, cd := range rd.Conditions {
		cpath := fmt.Sprintf("%s.conditions[%d]", path, i)
		if cd.Argv == nil {
			return nil, &LoadError{Path: cpath + ".argv", Err: fmt.Errorf("argv must be an array")}
		}
		fn, err := buildCall(cd.Fn, cd.Argv, cpath)
		if err != nil {
			return nil, err
		}
		head.Conditions = append(head.Conditions, Condition{Fn: fn, Assign: cd.Assign})
	}

	kind, err := ruleKind(rd)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}

	switch kind {
	case "endpoint":
		ep, err := buildEndpoint(rd.Endpoint, path+".endpoint")
		if err != nil {
			return nil, err
		}
		return &EndpointRule{RuleHeader: head, Endpoint: ep}, nil

	case "error":
		msg, err := buildRaw(rd.Error, path+".error")
		if err != nil {
			return nil, err
		}
		return &ErrorRule{RuleHeader: head, Message: msg}, nil

	default:
		if len(rd.Rules) == 0 {
			return nil, &LoadError{Path: path + ".rules", Err: fmt.Errorf("tree rule has no rules")}
		}
		children, err := buildRules(rd.Rules, path+".rules", depth+1)
		if err != nil {
			return nil, err
		}
		return &TreeRule{RuleHeader: head, Rules: children}, nil
	}
}

// ruleKind determines the variant from the explicit "type" field, or from the
// single body field present when "type" is omitted.
func ruleKind(rd *types.RuleDoc) (string, error) {
	var present []string
	if rd.Endpoint != nil {
		present = append(present, "endpoint")
	}
	if len(rd.Error) > 0 {
		present = append(present, "error")
	}
	if rd.Rules != nil {
		present = append(present, "tree")
	}
	if len(present) != 1 {
		return "", fmt.Errorf("rule must have exactly one of endpoint, error or rules (found %d)", len(present))
	}
	if rd.Type != "" && rd.Type != present[0] {
		return "", fmt.Errorf("rule type %q does not match its %s body", rd.Type, present[0])
	}
	return present[0], nil
}

func buildEndpoint(ed *types.EndpointDoc, path string) (EndpointTemplate, error) {
	url, err := buildRaw(ed.URL, path+".url")
	if err != nil {
		return EndpointTemplate{}, err
	}
	ep := EndpointTemplate{URL: url}

	if ed.AuthSchemes != nil {
		ep.AuthSchemes = append([]string(nil), ed.AuthSchemes...)
	}
	if len(ed.AuthParams) > 0 {
		ep.AuthParams = make(map[string]Expr, len(ed.AuthParams))
		for _, k := range sortedKeys(ed.AuthParams) {
			x, err := buildRaw(ed.AuthParams[k], path+".authParams."+k)
			if err != nil {
				return EndpointTemplate{}, err
			}
			ep.AuthParams[k] = x
		}
	}
	if len(ed.Properties) > 0 {
		ep.Properties = make(map[string]Expr, len(ed.Properties))
		for _, k := range sortedKeys(ed.Properties) {
			x, err := buildRaw(ed.Properties[k], path+".properties."+k)
			if err != nil {
				return EndpointTemplate{}, err
			}
			ep.Properties[k] = x
		}
	}
	if len(ed.Headers) > 0 {
		ep.Headers = make(map[string][]Expr, len(ed.Headers))
		for _, k := range sortedKeys(ed.Headers) {
			values := make([]Expr, 0, len(ed.Headers[k]))
			for i, raw := range ed.Headers[k] {
				x, err := buildRaw(raw, fmt.Sprintf("%s.headers.%s[%d]", path, k, i))
				if err != nil {
					return EndpointTemplate{}, err
				}
				values = append(values, x)
			}
			ep.Headers[k] = values
		}
	}
	return ep, nil
}

func buildRaw(raw types.RawExpression, path string) (Expr, error) {
	if len(raw) == 0 {
		return nil, &LoadError{Path: path, Err: fmt.Errorf("missing expression")}
	}
	var node any
	if err := json.Unmarshal(raw, &node); err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	return buildExpr(node, path)
}

func buildExpr(node any, path string) (Expr, error) {
	switch n := node.(type) {
	case string:
		x, err := ParseTemplate(n)
		if err != nil {
			return nil, &LoadError{Path: path, Err: err}
		}
		return x, nil

	case bool:
		return Literal{Value: Bool(n)}, nil

	case map[string]any:
		if ref, ok := n["ref"]; ok {
			name, isString := ref.(string)
			if !isString || name == "" || len(n) != 1 {
				return nil, &LoadError{Path: path, Err: fmt.Errorf("malformed reference %v", n)}
			}
			return Ref{Name: name}, nil
		}
		if fn, ok := n["fn"]; ok {
			name, isString := fn.(string)
			if !isString {
				return nil, &LoadError{Path: path, Err: fmt.Errorf("fn must be a string, got %T", fn)}
			}
			argv, isArray := n["argv"].([]any)
			if !isArray {
				return nil, &LoadError{Path: path + ".argv", Err: fmt.Errorf("argv must be an array, got %T", n["argv"])}
			}
			for _, k := range sortedKeys(n) {
				if k != "fn" && k != "argv" {
					return nil, &LoadError{Path: path + "." + k, Err: fmt.Errorf("unexpected key %q in nested function call", k)}
				}
			}
			return buildCall(name, argv, path)
		}
		fields := make(map[string]Expr, len(n))
		for _, k := range sortedKeys(n) {
			x, err := buildExpr(n[k], path+"."+k)
			if err != nil {
				return nil, err
			}
			fields[k] = x
		}
		return RecordLit{Fields: fields}, nil

	case []any:
		elems := make([]Expr, len(n))
		for i, el := range n {
			x, err := buildExpr(el, path+"["+strconv.Itoa(i)+"]")
			if err != nil {
				return nil, err
			}
			elems[i] = x
		}
		return ArrayLit{Elems: elems}, nil

	case nil:
		return nil, &LoadError{Path: path, Err: fmt.Errorf("null is not an expression")}

	default:
		return nil, &LoadError{Path: path, Err: fmt.Errorf("unsupported literal of type %T", node)}
	}
}

// buildCall builds a function call node. argv elements are either decoded JSON
// values or raw document expressions.
func buildCall[A any](fn string, argv []A, path string) (Expr, error) {
	if canonical, ok := functionAliases[fn]; ok {
		fn = canonical
	}

	args := make([]any, len(argv))
	for i, a := range argv {
		switch x := any(a).(type) {
		case types.RawExpression:
			if err := json.Unmarshal(x, &args[i]); err != nil {
				return nil, &LoadError{Path: fmt.Sprintf("%s.argv[%d]", path, i), Err: err}
			}
		default:
			args[i] = x
		}
	}

	arity := func(lo, hi int) error {
		if len(args) < lo || len(args) > hi {
			want := strconv.Itoa(lo)
			if hi != lo {
				want += "-" + strconv.Itoa(hi)
			}
			return &LoadError{Path: path, Err: fmt.Errorf("%s takes %s arguments, got %d", fn, want, len(args))}
		}
		return nil
	}
	arg := func(i int) (Expr, error) {
		return buildExpr(args[i], fmt.Sprintf("%s.argv[%d]", path, i))
	}

	switch fn {
	case FnIsSet, FnNot, FnParseArn, FnPartition:
		if err := arity(1, 1); err != nil {
			return nil, err
		}
		x, err := arg(0)
		if err != nil {
			return nil, err
		}
		switch fn {
		case FnIsSet:
			return IsSet{Target: x}, nil
		case FnNot:
			return Not{Target: x}, nil
		case FnParseArn:
			return ParseArn{Target: x}, nil
		default:
			return PartitionLookup{Region: x}, nil
		}

	case FnStringEquals, FnBooleanEquals:
		if err := arity(2, 2); err != nil {
			return nil, err
		}
		l, err := arg(0)
		if err != nil {
			return nil, err
		}
		r, err := arg(1)
		if err != nil {
			return nil, err
		}
		if fn == FnStringEquals {
			return StringEquals{Left: l, Right: r}, nil
		}
		return BooleanEquals{Left: l, Right: r}, nil

	case FnGetAttr:
		if err := arity(2, 2); err != nil {
			return nil, err
		}
		target, err := arg(0)
		if err != nil {
			return nil, err
		}
		// The path is a raw string, not a template.
		raw, ok := args[1].(string)
		if !ok {
			return nil, &LoadError{Path: path + ".argv[1]", Err: fmt.Errorf("%w: getAttr path must be a string", types.ErrInvalidPath)}
		}
		segs, err := ParsePath(raw)
		if err != nil {
			return nil, &LoadError{Path: path + ".argv[1]", Err: err}
		}
		return GetAttr{Target: target, Path: segs, RawPath: raw}, nil

	case FnIsValidHostLabel:
		if err := arity(1, 2); err != nil {
			return nil, err
		}
		target, err := arg(0)
		if err != nil {
			return nil, err
		}
		var allowDots Expr = Literal{Value: Bool(false)}
		if len(args) == 2 {
			if allowDots, err = arg(1); err != nil {
				return nil, err
			}
		}
		return IsValidHostLabel{Target: target, AllowDots: allowDots}, nil

	default:
		return nil, &LoadError{Path: path, Err: fmt.Errorf("%w: %q", types.ErrUnknownFunction, fn)}
	}
}

// fingerprint hashes the document after a decode/encode round trip, which
// sorts object keys and drops insignificant whitespace.
func fingerprint(doc *types.Document) (string, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to encode document: %w", err)
	}
	var canonical any
	if err := json.Unmarshal(data, &canonical); err != nil {
		return "", fmt.Errorf("failed to decode document: %w", err)
	}
	if data, err = json.Marshal(canonical); err != nil {
		return "", fmt.Errorf("failed to encode document: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
