// internal/rules/expr.go
package rules

import (
	"strings"

	"github.com/solatis/endpointrules/internal/types"
)

/*
 * Expression AST.
 *
 * Closed variant set: every node implements the unexported exprNode marker, so
 * no package outside rules can add cases. Typecheck and evaluation dispatch with
 * a type switch over the concrete node types; an unhandled case is an invariant
 * violation, never a silent fallthrough.
 *
 * Node kinds:
 *   - Literal, Ref: leaves
 *   - Template: literal text interleaved with embedded expressions
 *   - IsSet, Not, StringEquals, BooleanEquals: boolean functions
 *   - GetAttr: key/index path walk over records and arrays
 *   - ParseArn, PartitionLookup, IsValidHostLabel: AWS library functions
 *   - RecordLit, ArrayLit: endpoint property structure
 */

// Expr is an expression node.
type Expr interface {
	exprNode()
	// String renders the expression in rule-set document notation for diagnostics.
	String() string
}

// Function names as they appear in the "fn" field of a rule-set document.
const (
	FnIsSet            = "isSet"
	FnNot              = "not"
	FnStringEquals     = "stringEquals"
	FnBooleanEquals    = "booleanEquals"
	FnGetAttr          = "getAttr"
	FnParseArn         = "aws.parseArn"
	FnPartition        = "aws.partition"
	FnIsValidHostLabel = "isValidHostLabel"
)

// functionAliases maps accepted alternative spellings to canonical names.
var functionAliases = map[string]string{
	"parseArn":  FnParseArn,
	"partition": FnPartition,
}

// Literal is a constant value.
type Literal struct {
	Value Value
}

// Ref reads a parameter or a condition binding from scope.
type Ref struct {
	Name string
}

// TemplatePart is either literal text or an embedded expression.
type TemplatePart struct {
	Text string
	Expr Expr // nil for literal text
}

// Template concatenates its parts left to right.
type Template struct {
	Parts []TemplatePart
}

// IsSet is true iff Target is present.
type IsSet struct {
	Target Expr
}

// Not negates a boolean.
type Not struct {
	Target Expr
}

// StringEquals compares two strings.
type StringEquals struct {
	Left, Right Expr
}

// BooleanEquals compares two booleans.
type BooleanEquals struct {
	Left, Right Expr
}

// GetAttr walks Path through Target.
type GetAttr struct {
	Target  Expr
	Path    []types.PathSegment
	RawPath string
}

// ParseArn parses Target as an ARN record.
type ParseArn struct {
	Target Expr
}

// PartitionLookup maps a region to partition metadata.
type PartitionLookup struct {
	Region Expr
}

// IsValidHostLabel validates Target as a DNS host label.
type IsValidHostLabel struct {
	Target    Expr
	AllowDots Expr
}

// RecordLit builds a record from field expressions.
type RecordLit struct {
	Fields map[string]Expr
}

// ArrayLit builds an array from element expressions.
type ArrayLit struct {
	Elems []Expr
}

func (Literal) exprNode()          {}
func (Ref) exprNode()              {}
func (Template) exprNode()         {}
func (IsSet) exprNode()            {}
func (Not) exprNode()              {}
func (StringEquals) exprNode()     {}
func (BooleanEquals) exprNode()    {}
func (GetAttr) exprNode()          {}
func (ParseArn) exprNode()         {}
func (PartitionLookup) exprNode()  {}
func (IsValidHostLabel) exprNode() {}
func (RecordLit) exprNode()        {}
func (ArrayLit) exprNode()         {}

func (e Literal) String() string { return e.Value.String() }

func (e Ref) String() string { return "{ref: " + e.Name + "}" }

func (e Template) String() string {
	var b strings.Builder
	b.WriteByte('"')
	for _, p := range e.Parts {
		if p.Expr == nil {
			b.WriteString(strings.NewReplacer("{", "{{", "}", "}}").Replace(p.Text))
			continue
		}
		b.WriteByte('{')
		switch x := p.Expr.(type) {
		case Ref:
			b.WriteString(x.Name)
		case GetAttr:
			if r, ok := x.Target.(Ref); ok {
				b.WriteString(r.Name + "#" + x.RawPath)
			} else {
				b.WriteString(x.String())
			}
		default:
			b.WriteString(x.String())
		}
		b.WriteByte('}')
	}
	b.WriteByte('"')
	return b.String()
}

func (e IsSet) String() string { return call(FnIsSet, e.Target) }

func (e Not) String() string { return call(FnNot, e.Target) }

func (e StringEquals) String() string { return call(FnStringEquals, e.Left, e.Right) }

func (e BooleanEquals) String() string { return call(FnBooleanEquals, e.Left, e.Right) }

func (e GetAttr) String() string {
	return call(FnGetAttr, e.Target, Literal{Value: String(e.RawPath)})
}

func (e ParseArn) String() string { return call(FnParseArn, e.Target) }

func (e PartitionLookup) String() string { return call(FnPartition, e.Region) }

func (e IsValidHostLabel) String() string { return call(FnIsValidHostLabel, e.Target, e.AllowDots) }

func (e RecordLit) String() string {
	keys := sortedKeys(e.Fields)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + e.Fields[k].String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func (e ArrayLit) String() string {
	parts := make([]string, len(e.Elems))
	for i, el := range e.Elems {
		parts[i] = el.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func call(fn string, args ...Expr) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.String()
	}
	return fn + "(" + strings.Join(parts, ", ") + ")"
}
