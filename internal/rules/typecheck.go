// internal/rules/typecheck.go
package rules

import (
	"fmt"

	"github.com/solatis/endpointrules/internal/types"
)

/*
 * Static typing of a built rule-set.
 *
 * Every expression node gets a Type from parameter declarations, condition
 * bindings and function signatures. The environment is a persistent chain so
 * bindings and narrowings made inside one branch never leak to its siblings,
 * mirroring how evaluation scopes work.
 *
 * Narrowing: once isSet(ref X) passes, X has its unwrapped type for the rest
 * of the branch. Together with "assign" (which binds the unwrapped result)
 * this is the only way an Optional can be consumed by a function that wants T.
 *
 * Reachability: isSet on a non-optional argument is rejected, its false branch
 * could never be taken.
 *
 * Each condition's truthiness policy is fixed here from its result type.
 */

func typecheck(rs *RuleSet) error {
	var env *typeEnv
	for _, p := range rs.Parameters {
		env = env.with(p.Name, p.StaticType())
	}
	return checkRules(rs.Rules, env, "rules")
}

func checkRules(rules []Rule, env *typeEnv, path string) error {
	for i, r := range rules {
		if err := checkRule(r, env, fmt.Sprintf("%s[%d]", path, i)); err != nil {
			return err
		}
	}
	return nil
}

func checkRule(r Rule, env *typeEnv, path string) error {
	env, err := checkConditions(r.header().Conditions, env, path+".conditions")
	if err != nil {
		return err
	}

	switch r := r.(type) {
	case *EndpointRule:
		return checkEndpoint(&r.Endpoint, env, path+".endpoint")
	case *ErrorRule:
		return expect(r.Message, env, path+".error", StringType)
	case *TreeRule:
		return checkRules(r.Rules, env, path+".rules")
	default:
		return &TypeError{Path: path, Expr: fmt.Sprintf("%T", r), Reason: "unknown rule kind"}
	}
}

func checkConditions(conds []Condition, env *typeEnv, path string) (*typeEnv, error) {
	for i := range conds {
		c := &conds[i]
		cpath := fmt.Sprintf("%s[%d]", path, i)

		t, err := typeOf(c.Fn, env, cpath)
		if err != nil {
			return nil, err
		}
		policy := truthinessFor(t)
		if policy == truthInvalid {
			return nil, &TypeError{
				Path:     cpath,
				Expr:     c.Fn.String(),
				Expected: "Bool, String or Option<T>",
				Actual:   t.String(),
				Reason:   "condition result has no truth value",
			}
		}
		c.ResultType = t
		c.truthiness = policy

		if fn, ok := c.Fn.(IsSet); ok {
			if ref, ok := fn.Target.(Ref); ok {
				rt, _ := env.lookup(ref.Name)
				env = env.with(ref.Name, rt.Unwrap())
			}
		}

		if c.Assign != "" {
			if _, exists := env.lookup(c.Assign); exists {
				return nil, &TypeError{
					Path:   cpath + ".assign",
					Expr:   c.Assign,
					Reason: "binding shadows an existing name",
				}
			}
			env = env.with(c.Assign, t.Unwrap())
		}
	}
	return env, nil
}

func checkEndpoint(ep *EndpointTemplate, env *typeEnv, path string) error {
	if err := expect(ep.URL, env, path+".url", StringType); err != nil {
		return err
	}
	for _, k := range sortedKeys(ep.AuthParams) {
		if err := expect(ep.AuthParams[k], env, path+".authParams."+k, StringType); err != nil {
			return err
		}
	}
	for _, k := range sortedKeys(ep.Properties) {
		t, err := typeOf(ep.Properties[k], env, path+".properties."+k)
		if err != nil {
			return err
		}
		if t.IsOptional() {
			return &TypeError{
				Path:   path + ".properties." + k,
				Expr:   ep.Properties[k].String(),
				Actual: t.String(),
				Reason: "endpoint properties cannot be optional",
			}
		}
	}
	for _, k := range sortedKeys(ep.Headers) {
		for i, x := range ep.Headers[k] {
			if err := expect(x, env, fmt.Sprintf("%s.headers.%s[%d]", path, k, i), StringType); err != nil {
				return err
			}
		}
	}
	return nil
}

// expect typechecks e and requires exactly want.
func expect(e Expr, env *typeEnv, path string, want Type) error {
	got, err := typeOf(e, env, path)
	if err != nil {
		return err
	}
	if !got.Equal(want) {
		te := &TypeError{Path: path, Expr: e.String(), Expected: want.String(), Actual: got.String()}
		if got.IsOptional() && got.Unwrap().Equal(want) {
			te.Reason = "optional value must be checked with isSet first"
		}
		return te
	}
	return nil
}

func typeOf(e Expr, env *typeEnv, path string) (Type, error) {
	switch e := e.(type) {
	case Literal:
		switch e.Value.Kind() {
		case KindString:
			return StringType, nil
		case KindBool:
			return BoolType, nil
		default:
			return Type{}, &TypeError{Path: path, Expr: e.String(), Reason: "unsupported literal"}
		}

	case Ref:
		t, ok := env.lookup(e.Name)
		if !ok {
			return Type{}, &TypeError{
				Path:   path,
				Expr:   e.String(),
				Reason: fmt.Sprintf("%q is not a parameter or a binding in scope", e.Name),
				Err:    types.ErrUnboundReference,
			}
		}
		return t, nil

	case Template:
		for _, part := range e.Parts {
			if part.Expr == nil {
				continue
			}
			t, err := typeOf(part.Expr, env, path)
			if err != nil {
				return Type{}, err
			}
			if t.Kind != TypeString && t.Kind != TypeBool {
				te := &TypeError{Path: path, Expr: part.Expr.String(), Expected: "String or Bool", Actual: t.String()}
				if t.IsOptional() {
					te.Reason = "optional value must be checked with isSet first"
				}
				return Type{}, te
			}
		}
		return StringType, nil

	case IsSet:
		t, err := typeOf(e.Target, env, path)
		if err != nil {
			return Type{}, err
		}
		if !t.IsOptional() {
			return Type{}, &TypeError{
				Path:     path,
				Expr:     e.String(),
				Expected: "Option<T>",
				Actual:   t.String(),
				Reason:   "argument is always set",
			}
		}
		return BoolType, nil

	case Not:
		if err := expect(e.Target, env, path, BoolType); err != nil {
			return Type{}, err
		}
		return BoolType, nil

	case StringEquals:
		if err := expect(e.Left, env, path, StringType); err != nil {
			return Type{}, err
		}
		if err := expect(e.Right, env, path, StringType); err != nil {
			return Type{}, err
		}
		return BoolType, nil

	case BooleanEquals:
		if err := expect(e.Left, env, path, BoolType); err != nil {
			return Type{}, err
		}
		if err := expect(e.Right, env, path, BoolType); err != nil {
			return Type{}, err
		}
		return BoolType, nil

	case GetAttr:
		t, err := typeOf(e.Target, env, path)
		if err != nil {
			return Type{}, err
		}
		if t.Kind != TypeRecord && t.Kind != TypeArray {
			te := &TypeError{Path: path, Expr: e.String(), Expected: "Record or Array", Actual: t.String()}
			if t.IsOptional() {
				te.Reason = "optional value must be checked with isSet first"
			}
			return Type{}, te
		}
		rt, err := pathType(t, e.Path)
		if err != nil {
			return Type{}, &TypeError{Path: path, Expr: e.String(), Reason: err.Error(), Err: types.ErrInvalidPath}
		}
		return rt, nil

	case ParseArn:
		if err := expect(e.Target, env, path, StringType); err != nil {
			return Type{}, err
		}
		return OptionalOf(arnType), nil

	case PartitionLookup:
		if err := expect(e.Region, env, path, StringType); err != nil {
			return Type{}, err
		}
		return OptionalOf(partitionType), nil

	case IsValidHostLabel:
		if err := expect(e.Target, env, path, StringType); err != nil {
			return Type{}, err
		}
		if err := expect(e.AllowDots, env, path, BoolType); err != nil {
			return Type{}, err
		}
		return BoolType, nil

	case RecordLit:
		fields := make(map[string]Type, len(e.Fields))
		for _, k := range sortedKeys(e.Fields) {
			ft, err := typeOf(e.Fields[k], env, path+"."+k)
			if err != nil {
				return Type{}, err
			}
			if ft.IsOptional() {
				return Type{}, &TypeError{
					Path:   path + "." + k,
					Expr:   e.Fields[k].String(),
					Actual: ft.String(),
					Reason: "record fields cannot be optional",
				}
			}
			fields[k] = ft
		}
		return RecordOf("", fields), nil

	case ArrayLit:
		return arrayLitType(e, env, path)

	default:
		return Type{}, &TypeError{Path: path, Expr: fmt.Sprintf("%T", e), Reason: "unknown expression kind"}
	}
}

// arrayLitType requires homogeneous elements. Records of differing shape
// widen to an open record, which permits no key access.
func arrayLitType(e ArrayLit, env *typeEnv, path string) (Type, error) {
	if len(e.Elems) == 0 {
		return ArrayOf(StringType), nil
	}
	elemTypes := make([]Type, len(e.Elems))
	for i, el := range e.Elems {
		t, err := typeOf(el, env, fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return Type{}, err
		}
		if t.IsOptional() {
			return Type{}, &TypeError{
				Path:   fmt.Sprintf("%s[%d]", path, i),
				Expr:   el.String(),
				Actual: t.String(),
				Reason: "array elements cannot be optional",
			}
		}
		elemTypes[i] = t
	}

	first := elemTypes[0]
	uniform, records := true, true
	for _, t := range elemTypes {
		uniform = uniform && t.Equal(first)
		records = records && t.Kind == TypeRecord
	}
	switch {
	case uniform:
		return ArrayOf(first), nil
	case records:
		return ArrayOf(RecordOf("Record", nil)), nil
	default:
		return Type{}, &TypeError{Path: path, Expr: e.String(), Reason: "array elements must share one type"}
	}
}
