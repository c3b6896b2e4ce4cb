// internal/rules/path.go
package rules

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/solatis/endpointrules/internal/types"
)

/*
 * getAttr path parsing and resolution.
 *
 * Path syntax: dot-separated keys, each optionally followed by one or more
 * [n] index steps, e.g. "resourceId[2]" or "a.b[0][1]". A path may start with
 * an index step when the target is an array ("[0]").
 *
 * Resolution never fails: a missing key, an out-of-range index or a step
 * applied to the wrong kind yields None, which callers surface as an absent
 * Optional. MaxPathDepth is enforced at parse time so resolution cost is
 * bounded by the rule-set, not by the input.
 */

// ParsePath parses a getAttr path into segments.
func ParsePath(raw string) ([]types.PathSegment, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: empty path", types.ErrInvalidPath)
	}

	var path []types.PathSegment
	for i, part := range strings.Split(raw, ".") {
		key := part
		rest := ""
		if idx := strings.IndexByte(part, '['); idx >= 0 {
			key, rest = part[:idx], part[idx:]
		}
		if key == "" && !(i == 0 && rest != "") {
			return nil, fmt.Errorf("%w: empty key in %q", types.ErrInvalidPath, raw)
		}
		if key != "" {
			path = append(path, types.PathSegment{Key: key})
		}
		for rest != "" {
			end := strings.IndexByte(rest, ']')
			if rest[0] != '[' || end < 0 {
				return nil, fmt.Errorf("%w: unbalanced brackets in %q", types.ErrInvalidPath, raw)
			}
			n, err := strconv.Atoi(rest[1:end])
			if err != nil || n < 0 {
				return nil, fmt.Errorf("%w: bad index %q in %q", types.ErrInvalidPath, rest[1:end], raw)
			}
			path = append(path, types.PathSegment{Index: n, IsIndex: true})
			rest = rest[end+1:]
		}
	}

	if len(path) > types.MaxPathDepth {
		return nil, types.ErrPathTooDeep
	}
	return path, nil
}

// Walk follows path through v. Returns None if any step does not resolve.
func Walk(v Value, path []types.PathSegment) Value {
	current := v
	for _, seg := range path {
		switch current.Kind() {
		case KindRecord:
			if seg.IsIndex {
				// Cannot index into record with integer
				return None()
			}
			current = current.Field(seg.Key)
		case KindArray:
			if !seg.IsIndex {
				// Cannot use string key on array
				return None()
			}
			current = current.Index(seg.Index)
		default:
			// None or scalar but path continues
			return None()
		}
	}
	return current
}

// pathType computes the static result type of walking path through t.
// Any index step makes the result Optional; key steps must name a declared field.
func pathType(t Type, path []types.PathSegment) (Type, error) {
	current := t
	optional := false
	for _, seg := range path {
		switch current.Kind {
		case TypeRecord:
			if seg.IsIndex {
				return Type{}, fmt.Errorf("cannot index %s with [%d]", current, seg.Index)
			}
			ft, ok := current.Fields[seg.Key]
			if !ok {
				return Type{}, fmt.Errorf("%s has no field %q", current, seg.Key)
			}
			current = ft
		case TypeArray:
			if !seg.IsIndex {
				return Type{}, fmt.Errorf("cannot access key %q on %s", seg.Key, current)
			}
			current = *current.Elem
			optional = true
		default:
			return Type{}, fmt.Errorf("cannot walk into %s", current)
		}
	}
	if optional {
		return OptionalOf(current), nil
	}
	return current, nil
}

// formatPath renders segments back to path syntax.
func formatPath(path []types.PathSegment) string {
	var b strings.Builder
	for i, seg := range path {
		if seg.IsIndex {
			b.WriteString("[" + strconv.Itoa(seg.Index) + "]")
			continue
		}
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(seg.Key)
	}
	return b.String()
}
