// internal/rules/template.go
package rules

import (
	"fmt"
	"strings"

	"github.com/solatis/endpointrules/internal/types"
)

/*
 * Template string parsing.
 *
 * Every string in a rule-set document is a template: "{Name}" embeds a
 * reference, "{Name#path}" embeds getAttr(ref Name, path), "{{" and "}}" are
 * literal braces. A string without placeholders parses to a plain Literal.
 *
 * Evaluation concatenates parts strictly left to right (see evalTemplate).
 */

// ParseTemplate parses s into a Literal or a Template expression.
func ParseTemplate(s string) (Expr, error) {
	var parts []TemplatePart
	var text strings.Builder
	hasExpr := false

	flush := func() {
		if text.Len() > 0 {
			parts = append(parts, TemplatePart{Text: text.String()})
			text.Reset()
		}
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '{' && i+1 < len(s) && s[i+1] == '{':
			text.WriteByte('{')
			i++
		case c == '}' && i+1 < len(s) && s[i+1] == '}':
			text.WriteByte('}')
			i++
		case c == '{':
			end := strings.IndexByte(s[i+1:], '}')
			if end < 0 {
				return nil, fmt.Errorf("%w: unclosed '{' in %q", types.ErrInvalidTemplate, s)
			}
			placeholder := s[i+1 : i+1+end]
			expr, err := parsePlaceholder(placeholder)
			if err != nil {
				return nil, fmt.Errorf("%w in %q", err, s)
			}
			flush()
			parts = append(parts, TemplatePart{Expr: expr})
			hasExpr = true
			i += end + 1
		case c == '}':
			return nil, fmt.Errorf("%w: unmatched '}' in %q", types.ErrInvalidTemplate, s)
		default:
			text.WriteByte(c)
		}
	}
	flush()

	if len(parts) > types.MaxTemplateParts {
		return nil, types.ErrTooManyTemplateParts
	}
	if !hasExpr {
		literal := ""
		if len(parts) == 1 {
			literal = parts[0].Text
		}
		return Literal{Value: String(literal)}, nil
	}
	return Template{Parts: parts}, nil
}

// parsePlaceholder parses the content between braces: "Name" or "Name#path".
func parsePlaceholder(p string) (Expr, error) {
	name, rawPath, hasPath := strings.Cut(p, "#")
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, "{ ") {
		return nil, fmt.Errorf("%w: bad placeholder {%s}", types.ErrInvalidTemplate, p)
	}
	if !hasPath {
		return Ref{Name: name}, nil
	}
	path, err := ParsePath(rawPath)
	if err != nil {
		return nil, err
	}
	return GetAttr{Target: Ref{Name: name}, Path: path, RawPath: rawPath}, nil
}
