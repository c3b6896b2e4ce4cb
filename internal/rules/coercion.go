// internal/rules/coercion.go
package rules

import "strconv"

/*
 * Condition truthiness and template coercion.
 *
 * Truthiness is chosen once per condition from its statically inferred result
 * type, never from the runtime value:
 *   - Bool         -> the value itself
 *   - Optional(T)  -> present (not None); the unwrapped value is what "assign" binds
 *   - String       -> non-empty
 * Any other result type is rejected by the typechecker.
 *
 * Template coercion renders String verbatim and Bool as "true"/"false".
 */

type truthiness int

const (
	truthInvalid truthiness = iota
	truthBool
	truthPresent
	truthNonEmpty
)

// truthinessFor returns the policy for a condition of static type t.
func truthinessFor(t Type) truthiness {
	switch t.Kind {
	case TypeBool:
		return truthBool
	case TypeOptional:
		return truthPresent
	case TypeString:
		return truthNonEmpty
	default:
		return truthInvalid
	}
}

// isTruthy applies policy to v.
func isTruthy(v Value, policy truthiness) bool {
	switch policy {
	case truthBool:
		b, ok := v.AsBool()
		if !ok {
			invariant("boolean condition produced %s", v.Kind())
		}
		return b
	case truthPresent:
		return v.IsSet()
	case truthNonEmpty:
		s, ok := v.AsString()
		if !ok {
			invariant("string condition produced %s", v.Kind())
		}
		return s != ""
	default:
		invariant("condition without truthiness policy")
		return false
	}
}

// templateString coerces an embedded template value to text.
func templateString(v Value) string {
	switch v.Kind() {
	case KindString:
		s, _ := v.AsString()
		return s
	case KindBool:
		b, _ := v.AsBool()
		return strconv.FormatBool(b)
	default:
		invariant("template part produced %s", v.Kind())
		return ""
	}
}
