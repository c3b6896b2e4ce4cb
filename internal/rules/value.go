// internal/rules/value.go
package rules

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

/*
 * Runtime values and static types.
 *
 * Value is a tagged union over String, Bool, Array, Record and None. Optionality
 * is a static property: a present Optional(T) is represented at runtime by its
 * inner value, an absent one by None. This keeps "unwrap" free at bind time.
 *
 * Type is the static type assigned by the typechecker. Records are closed
 * (field set known at load time) so getAttr key access is checked statically
 * and only index access can produce absence.
 *
 * Invariant: a value produced by a well-typed expression conforms to the
 * expression's static type (Conforms). Property tests check this.
 */

// Kind tags a runtime Value.
type Kind int

const (
	KindNone Kind = iota
	KindString
	KindBool
	KindArray
	KindRecord
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindArray:
		return "array"
	case KindRecord:
		return "record"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is an immutable runtime value. The zero Value is None.
type Value struct {
	kind Kind
	str  string
	b    bool
	arr  []Value
	rec  map[string]Value
}

// None returns the absent value.
func None() Value { return Value{} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Array returns an array value. The slice is copied.
func Array(elems ...Value) Value {
	cp := make([]Value, len(elems))
	copy(cp, elems)
	return Value{kind: KindArray, arr: cp}
}

// Record returns a record value. The map is copied.
func Record(fields map[string]Value) Value {
	cp := make(map[string]Value, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return Value{kind: KindRecord, rec: cp}
}

// Kind returns the runtime tag.
func (v Value) Kind() Kind { return v.kind }

// IsSet reports whether v is present (not None).
func (v Value) IsSet() bool { return v.kind != KindNone }

// AsString returns the string payload.
func (v Value) AsString() (string, bool) {
	return v.str, v.kind == KindString
}

// AsBool returns the boolean payload.
func (v Value) AsBool() (bool, bool) {
	return v.b, v.kind == KindBool
}

// Len returns the number of array elements or record fields.
func (v Value) Len() int {
	switch v.kind {
	case KindArray:
		return len(v.arr)
	case KindRecord:
		return len(v.rec)
	default:
		return 0
	}
}

// Index returns the i-th array element, or None when out of range or not an array.
func (v Value) Index(i int) Value {
	if v.kind != KindArray || i < 0 || i >= len(v.arr) {
		return None()
	}
	return v.arr[i]
}

// Field returns a record field, or None when absent or not a record.
func (v Value) Field(key string) Value {
	if v.kind != KindRecord {
		return None()
	}
	f, ok := v.rec[key]
	if !ok {
		return None()
	}
	return f
}

// Keys returns record keys in sorted order.
func (v Value) Keys() []string {
	if v.kind != KindRecord {
		return nil
	}
	keys := make([]string, 0, len(v.rec))
	for k := range v.rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Equal reports structural equality.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNone:
		return true
	case KindString:
		return v.str == o.str
	case KindBool:
		return v.b == o.b
	case KindArray:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
		return true
	case KindRecord:
		if len(v.rec) != len(o.rec) {
			return false
		}
		for k, fv := range v.rec {
			ov, ok := o.rec[k]
			if !ok || !fv.Equal(ov) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Interface converts to plain Go values: nil, string, bool, []any, map[string]any.
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindBool:
		return v.b
	case KindArray:
		out := make([]any, len(v.arr))
		for i, e := range v.arr {
			out[i] = e.Interface()
		}
		return out
	case KindRecord:
		out := make(map[string]any, len(v.rec))
		for k, f := range v.rec {
			out[k] = f.Interface()
		}
		return out
	default:
		return nil
	}
}

// ValueOf converts a JSON-decoded Go value to a Value.
// Numbers are rejected: the rule language has no numeric type.
func ValueOf(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return None(), nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case []any:
		elems := make([]Value, len(t))
		for i, e := range t {
			ev, err := ValueOf(e)
			if err != nil {
				return Value{}, err
			}
			elems[i] = ev
		}
		return Value{kind: KindArray, arr: elems}, nil
	case map[string]any:
		fields := make(map[string]Value, len(t))
		for k, e := range t {
			ev, err := ValueOf(e)
			if err != nil {
				return Value{}, err
			}
			fields[k] = ev
		}
		return Value{kind: KindRecord, rec: fields}, nil
	default:
		return Value{}, fmt.Errorf("unsupported value of type %T", x)
	}
}

// MarshalJSON implements json.Marshaler. None encodes as null.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// String renders v for diagnostics.
func (v Value) String() string {
	switch v.kind {
	case KindNone:
		return "<none>"
	case KindString:
		return strconv.Quote(v.str)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindArray:
		parts := make([]string, len(v.arr))
		for i, e := range v.arr {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindRecord:
		keys := v.Keys()
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + ": " + v.rec[k].String()
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return "<invalid>"
	}
}

// TypeKind tags a static Type.
type TypeKind int

const (
	TypeInvalid TypeKind = iota
	TypeString
	TypeBool
	TypeArray
	TypeRecord
	TypeOptional
)

// Type is a static expression type.
type Type struct {
	Kind   TypeKind
	Elem   *Type           // Array element or Optional inner type
	Fields map[string]Type // Record fields (closed)
	Name   string          // Record name for diagnostics
}

var (
	StringType = Type{Kind: TypeString}
	BoolType   = Type{Kind: TypeBool}
)

// ArrayOf returns Array(elem).
func ArrayOf(elem Type) Type {
	e := elem
	return Type{Kind: TypeArray, Elem: &e}
}

// OptionalOf returns Optional(t). Optional does not nest.
func OptionalOf(t Type) Type {
	if t.Kind == TypeOptional {
		return t
	}
	inner := t
	return Type{Kind: TypeOptional, Elem: &inner}
}

// RecordOf returns a closed record type.
func RecordOf(name string, fields map[string]Type) Type {
	return Type{Kind: TypeRecord, Name: name, Fields: fields}
}

// IsOptional reports whether t is Optional(_).
func (t Type) IsOptional() bool { return t.Kind == TypeOptional }

// Unwrap strips one Optional layer.
func (t Type) Unwrap() Type {
	if t.Kind == TypeOptional && t.Elem != nil {
		return *t.Elem
	}
	return t
}

// Equal reports structural type equality.
func (t Type) Equal(o Type) bool {
	if t.Kind != o.Kind {
		return false
	}
	switch t.Kind {
	case TypeArray, TypeOptional:
		if t.Elem == nil || o.Elem == nil {
			return t.Elem == o.Elem
		}
		return t.Elem.Equal(*o.Elem)
	case TypeRecord:
		if len(t.Fields) != len(o.Fields) {
			return false
		}
		for k, ft := range t.Fields {
			ot, ok := o.Fields[k]
			if !ok || !ft.Equal(ot) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

func (t Type) String() string {
	switch t.Kind {
	case TypeString:
		return "String"
	case TypeBool:
		return "Bool"
	case TypeArray:
		return "Array<" + t.Elem.String() + ">"
	case TypeOptional:
		return "Option<" + t.Elem.String() + ">"
	case TypeRecord:
		if t.Name != "" {
			return t.Name
		}
		return "Record"
	default:
		return "Invalid"
	}
}

// Conforms reports whether v is a valid runtime value for static type t.
func (v Value) Conforms(t Type) bool {
	switch t.Kind {
	case TypeOptional:
		return v.kind == KindNone || v.Conforms(*t.Elem)
	case TypeString:
		return v.kind == KindString
	case TypeBool:
		return v.kind == KindBool
	case TypeArray:
		if v.kind != KindArray {
			return false
		}
		for _, e := range v.arr {
			if !e.Conforms(*t.Elem) {
				return false
			}
		}
		return true
	case TypeRecord:
		if v.kind != KindRecord {
			return false
		}
		for k, ft := range t.Fields {
			if !v.Field(k).Conforms(ft) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
