// Package timer provides the time sources used by the kernel.
package timer

import (
	"sync/atomic"
	"time"
)

const (
	// ClockFreq is the frequency of the hart's cycle counter in Hz.
	ClockFreq = 12_500_000

	// MsecPerSec and UsecPerSec convert between time units.
	MsecPerSec = 1000
	UsecPerSec = 1_000_000
)

// Clock is a monotonic time source.
type Clock interface {
	// Now returns the number of cycles elapsed since the clock started.
	Now() uint64

	// NowMs returns the number of milliseconds elapsed since the clock
	// started.
	NowMs() uint64
}

// UsecOf converts a cycle count to microseconds.
func UsecOf(cycles uint64) uint64 {
	return cycles/ClockFreq*UsecPerSec + cycles%ClockFreq*UsecPerSec/ClockFreq
}

// nsPerCycle is the duration of a single cycle in nanoseconds.
const nsPerCycle = uint64(time.Second) / ClockFreq

// MonotonicClock derives the cycle counter from the host's monotonic clock.
type MonotonicClock struct {
	start time.Time
}

// NewMonotonicClock returns a clock that starts counting now.
func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{start: time.Now()}
}

// Now implements Clock.
func (c *MonotonicClock) Now() uint64 {
	return uint64(time.Since(c.start).Nanoseconds()) / nsPerCycle
}

// NowMs implements Clock.
func (c *MonotonicClock) NowMs() uint64 {
	return uint64(time.Since(c.start).Milliseconds())
}

// ManualClock is a Clock whose time only moves when advanced explicitly.
type ManualClock struct {
	cycles atomic.Uint64
}

// Now implements Clock.
func (c *ManualClock) Now() uint64 {
	return c.cycles.Load()
}

// NowMs implements Clock.
func (c *ManualClock) NowMs() uint64 {
	return c.cycles.Load() / (ClockFreq / MsecPerSec)
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.cycles.Add(uint64(d.Nanoseconds()) / nsPerCycle)
}
