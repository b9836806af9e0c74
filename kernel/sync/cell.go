// Package sync provides the exclusive-access primitive that guards shared
// kernel state on a single core.
package sync

import (
	"sync/atomic"

	"upkernel/kernel"
	"upkernel/kernel/kfmt"
)

// Cell guards a value of type T so that at most one caller can access it at
// any time. Unlike a lock, a Cell never waits: on a single core where tasks
// switch only at well-defined points, finding a Cell already held means that
// the holder is the caller itself (or a task that was switched out while
// holding it), so Acquire treats contention as a fatal reentrancy error.
//
// Holders must Release the Cell before invoking a context switch.
type Cell[T any] struct {
	name  string
	state uint32
	value T
}

// NewCell returns a Cell that guards value. The name is reported when a
// reentrant access is detected.
func NewCell[T any](name string, value T) *Cell[T] {
	return &Cell[T]{name: name, value: value}
}

// Acquire grants exclusive access to the guarded value. Any attempt to
// acquire a Cell that is already held halts the kernel.
func (c *Cell[T]) Acquire() *T {
	if !atomic.CompareAndSwapUint32(&c.state, 0, 1) {
		kfmt.Panic(kernel.Errorf("sync", "reentrant access to %s", c.name))
	}
	return &c.value
}

// TryToAcquire attempts to acquire the Cell and returns the guarded value and
// true if it could be acquired or nil and false otherwise.
func (c *Cell[T]) TryToAcquire() (*T, bool) {
	if !atomic.CompareAndSwapUint32(&c.state, 0, 1) {
		return nil, false
	}
	return &c.value, true
}

// Release relinquishes a held Cell. Calling Release while the Cell is free
// has no effect.
func (c *Cell[T]) Release() {
	atomic.StoreUint32(&c.state, 0)
}

// Held returns true if the Cell is currently acquired.
func (c *Cell[T]) Held() bool {
	return atomic.LoadUint32(&c.state) == 1
}
