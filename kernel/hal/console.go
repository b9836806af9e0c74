// Package hal implements the hosted hart that executes user tasks together
// with the devices it exposes to the kernel.
package hal

import (
	"fmt"
	"io"
	"sync"

	"upkernel/kernel/kfmt"
)

// Console collects the output of all tasks. Each line written by a task is
// prefixed with the task's id. The tail of the output is kept in a ring
// buffer so that it can be inspected after the kernel halts.
type Console struct {
	mu      sync.Mutex
	sink    io.Writer
	ring    kfmt.RingBuffer
	writers map[int]*kfmt.PrefixWriter
}

// NewConsole returns a Console that writes task output to out.
func NewConsole(out io.Writer) *Console {
	c := &Console{writers: make(map[int]*kfmt.PrefixWriter)}
	c.sink = io.MultiWriter(out, &c.ring)
	return c
}

// Writer returns the output stream for the task with the supplied id.
func (c *Console) Writer(appID int) io.Writer {
	c.mu.Lock()
	defer c.mu.Unlock()

	w, ok := c.writers[appID]
	if !ok {
		w = kfmt.NewPrefixWriter(consoleSink{c}, fmt.Sprintf("[app %d] ", appID))
		c.writers[appID] = w
	}
	return w
}

// Tail returns the output that has been buffered since the last call to
// Tail, up to the capacity of the ring buffer.
func (c *Console) Tail() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.ring.Drain()
}

// consoleSink serializes writes to the console sink.
type consoleSink struct {
	c *Console
}

func (s consoleSink) Write(p []byte) (int, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	return s.c.sink.Write(p)
}
