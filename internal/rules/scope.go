// internal/rules/scope.go
package rules

// chain is a persistent association list. with never mutates the receiver, so a
// binding added in one branch of the rule tree is invisible to its siblings,
// which keep the parent chain. Lookups walk newest-first, so a later binding of
// the same name (type narrowing) wins.
type chain[T any] struct {
	name   string
	val    T
	parent *chain[T]
}

func (c *chain[T]) lookup(name string) (T, bool) {
	for n := c; n != nil; n = n.parent {
		if n.name == name {
			return n.val, true
		}
	}
	var zero T
	return zero, false
}

func (c *chain[T]) with(name string, val T) *chain[T] {
	return &chain[T]{name: name, val: val, parent: c}
}

// scope binds names to runtime values during one evaluation.
type scope = chain[Value]

// typeEnv binds names to static types during typecheck.
type typeEnv = chain[Type]
