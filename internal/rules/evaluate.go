// internal/rules/evaluate.go
package rules

import (
	"fmt"
	"strings"
)

/*
 * Rule tree evaluation.
 *
 * Resolve walks a typechecked RuleSet against bound parameters:
 *   1. bind parameters (supplied value, else default, else None if optional)
 *   2. walk top-level rules in order; a rule whose conditions all pass is
 *      terminal (endpoint or error) or recurses into its children
 *   3. a tree rule whose children all fall through counts as not matched and
 *      the walk continues with its next sibling
 *   4. nothing matched: ErrNoRulesMatched
 *
 * The walk returns (outcome, matched) rather than unwinding on first match.
 * Conditions short-circuit left to right and each passing "assign" extends a
 * persistent scope, so bindings are visible to later conditions and nested
 * rules of the same branch only.
 *
 * Evaluation is pure: no I/O, no shared mutable state, bounded by the size of
 * the rule tree. A typechecked rule-set cannot produce a runtime type error;
 * if one happens anyway it is an InvariantViolation panic, never a wrong
 * endpoint.
 */

// outcome is the terminal result of a matched endpoint or error rule.
type outcome struct {
	endpoint ResolvedEndpoint
	err      *ResolutionError
}

type evaluator struct {
	partitions *PartitionTable
}

// Resolve evaluates rs against params using the given partition table
// (DefaultPartitions when nil).
func Resolve(rs *RuleSet, partitions *PartitionTable, params Params) (ResolvedEndpoint, error) {
	if partitions == nil {
		partitions = DefaultPartitions()
	}
	sc, err := bindParams(rs, params)
	if err != nil {
		return ResolvedEndpoint{}, err
	}

	ev := evaluator{partitions: partitions}
	out, matched := ev.walk(rs.Rules, sc)
	if !matched {
		return ResolvedEndpoint{}, ErrNoRulesMatched
	}
	if out.err != nil {
		return ResolvedEndpoint{}, out.err
	}
	return out.endpoint, nil
}

// bindParams builds the initial scope. Every declared parameter is bound,
// absent optional ones to None.
func bindParams(rs *RuleSet, params Params) (*scope, error) {
	for _, name := range sortedKeys(params) {
		if _, ok := rs.params[name]; !ok {
			return nil, &InvalidParameterError{Name: name, Reason: "not declared by the rule-set"}
		}
	}

	var sc *scope
	for _, p := range rs.Parameters {
		v, supplied := params[p.Name]
		switch {
		case supplied && v.IsSet():
			if !v.Conforms(p.Type) {
				return nil, &InvalidParameterError{
					Name:   p.Name,
					Reason: fmt.Sprintf("expected %s, got %s", p.Type, v.Kind()),
				}
			}
		case p.Default != nil:
			v = *p.Default
		case p.Required:
			return nil, &MissingRequiredParameterError{Name: p.Name}
		default:
			v = None()
		}
		sc = sc.with(p.Name, v)
	}
	return sc, nil
}

func (ev evaluator) walk(rules []Rule, sc *scope) (outcome, bool) {
	for _, r := range rules {
		inner, ok := ev.evaluateConditions(r.header().Conditions, sc)
		if !ok {
			continue
		}
		switch r := r.(type) {
		case *EndpointRule:
			return outcome{endpoint: ev.endpoint(&r.Endpoint, inner)}, true
		case *ErrorRule:
			return outcome{err: &ResolutionError{Message: ev.stringOf(r.Message, inner)}}, true
		case *TreeRule:
			if out, matched := ev.walk(r.Rules, inner); matched {
				return out, true
			}
		default:
			invariant("unknown rule kind %T", r)
		}
	}
	return outcome{}, false
}

// evaluateConditions returns the extended scope when every condition holds.
func (ev evaluator) evaluateConditions(conds []Condition, sc *scope) (*scope, bool) {
	for i := range conds {
		c := &conds[i]
		v := ev.evalExpr(c.Fn, sc)
		if !isTruthy(v, c.truthiness) {
			return nil, false
		}
		if c.Assign != "" {
			sc = sc.with(c.Assign, v)
		}
	}
	return sc, true
}

func (ev evaluator) endpoint(t *EndpointTemplate, sc *scope) ResolvedEndpoint {
	out := ResolvedEndpoint{URL: ev.stringOf(t.URL, sc)}

	if len(t.AuthSchemes) > 0 {
		out.AuthSchemes = append([]string(nil), t.AuthSchemes...)
	}
	if len(t.AuthParams) > 0 {
		out.AuthParams = make(map[string]string, len(t.AuthParams))
		for k, x := range t.AuthParams {
			out.AuthParams[k] = ev.stringOf(x, sc)
		}
	}
	if len(t.Properties) > 0 {
		out.Properties = make(map[string]Value, len(t.Properties))
		for k, x := range t.Properties {
			out.Properties[k] = ev.evalExpr(x, sc)
		}
	}
	if len(t.Headers) > 0 {
		out.Headers = make(map[string][]string, len(t.Headers))
		for k, xs := range t.Headers {
			values := make([]string, len(xs))
			for i, x := range xs {
				values[i] = ev.stringOf(x, sc)
			}
			out.Headers[k] = values
		}
	}
	return out
}

func (ev evaluator) evalExpr(e Expr, sc *scope) Value {
	switch e := e.(type) {
	case Literal:
		return e.Value

	case Ref:
		v, ok := sc.lookup(e.Name)
		if !ok {
			invariant("unbound reference %q", e.Name)
		}
		return v

	case Template:
		var b strings.Builder
		for _, part := range e.Parts {
			if part.Expr == nil {
				b.WriteString(part.Text)
				continue
			}
			b.WriteString(templateString(ev.evalExpr(part.Expr, sc)))
		}
		return String(b.String())

	case IsSet:
		return Bool(ev.evalExpr(e.Target, sc).IsSet())

	case Not:
		return Bool(!ev.boolOf(e.Target, sc))

	case StringEquals:
		return Bool(ev.stringOf(e.Left, sc) == ev.stringOf(e.Right, sc))

	case BooleanEquals:
		return Bool(ev.boolOf(e.Left, sc) == ev.boolOf(e.Right, sc))

	case GetAttr:
		return Walk(ev.evalExpr(e.Target, sc), e.Path)

	case ParseArn:
		arn, ok := parseArnString(ev.stringOf(e.Target, sc))
		if !ok {
			return None()
		}
		return arn.Value()

	case PartitionLookup:
		out, ok := ev.partitions.Lookup(ev.stringOf(e.Region, sc))
		if !ok {
			return None()
		}
		return out.Value()

	case IsValidHostLabel:
		return Bool(IsValidHostLabelString(ev.stringOf(e.Target, sc), ev.boolOf(e.AllowDots, sc)))

	case RecordLit:
		fields := make(map[string]Value, len(e.Fields))
		for k, x := range e.Fields {
			fields[k] = ev.evalExpr(x, sc)
		}
		return Value{kind: KindRecord, rec: fields}

	case ArrayLit:
		elems := make([]Value, len(e.Elems))
		for i, x := range e.Elems {
			elems[i] = ev.evalExpr(x, sc)
		}
		return Value{kind: KindArray, arr: elems}

	default:
		invariant("unknown expression %T", e)
		return None()
	}
}

func (ev evaluator) stringOf(e Expr, sc *scope) string {
	v := ev.evalExpr(e, sc)
	s, ok := v.AsString()
	if !ok {
		invariant("%s evaluated to %s, want string", e, v.Kind())
	}
	return s
}

func (ev evaluator) boolOf(e Expr, sc *scope) bool {
	v := ev.evalExpr(e, sc)
	b, ok := v.AsBool()
	if !ok {
		invariant("%s evaluated to %s, want bool", e, v.Kind())
	}
	return b
}
