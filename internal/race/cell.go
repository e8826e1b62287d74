package race

import "sync/atomic"

// Cell is a single-assignment slot. The first Set wins; later calls are
// no-ops. Done is closed exactly once, by the winning writer.
type Cell[T any] struct {
	v    atomic.Pointer[T]
	done chan struct{}
}

func NewCell[T any]() *Cell[T] {
	return &Cell[T]{done: make(chan struct{})}
}

// Set stores v if the cell is empty and reports whether it did.
func (c *Cell[T]) Set(v T) bool {
	if !c.v.CompareAndSwap(nil, &v) {
		return false
	}
	close(c.done)
	return true
}

func (c *Cell[T]) Load() (T, bool) {
	p := c.v.Load()
	if p == nil {
		var zero T
		return zero, false
	}
	return *p, true
}

func (c *Cell[T]) Done() <-chan struct{} { return c.done }
