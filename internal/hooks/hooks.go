// Package hooks provides ordered filter chains. A chain sits at a named point
// of a pipeline and lets callers rewrite the value passing through it.
package hooks

// Filter rewrites a value and returns the result.
type Filter[T any] func(T) T

// Chain is an ordered list of filters. The zero value is an empty chain,
// which returns its input unchanged.
type Chain[T any] struct {
	filters []Filter[T]
}

// Add appends filters to the chain. Nil filters are ignored.
func (c *Chain[T]) Add(filters ...Filter[T]) {
	for _, f := range filters {
		if f != nil {
			c.filters = append(c.filters, f)
		}
	}
}

// Apply runs v through every filter in the order they were added.
func (c *Chain[T]) Apply(v T) T {
	if c == nil {
		return v
	}
	for _, f := range c.filters {
		v = f(v)
	}
	return v
}

// Len returns the number of filters in the chain.
func (c *Chain[T]) Len() int {
	if c == nil {
		return 0
	}
	return len(c.filters)
}
