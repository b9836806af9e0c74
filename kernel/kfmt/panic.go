package kfmt

import (
	"upkernel/kernel"
)

// HaltFn stops the kernel after an unrecoverable error. Implementations must
// not return control to their caller.
type HaltFn func(*kernel.Error)

var (
	// haltFn is mocked by tests and replaced by the hal package when the
	// kernel is booted on a hart.
	haltFn HaltFn = haltByPanicking

	errRuntimePanic = &kernel.Error{Module: "rt", Message: "unknown cause"}
)

// SetHaltFn registers the function that Panic invokes to stop the kernel and
// returns the previously registered one.
func SetHaltFn(fn HaltFn) HaltFn {
	prev := haltFn
	haltFn = fn
	return prev
}

// Panic outputs the supplied error (if not nil) to the kernel log and halts
// the kernel. Calls to Panic never return.
func Panic(e interface{}) {
	var err *kernel.Error

	switch t := e.(type) {
	case *kernel.Error:
		err = t
	case string:
		err = &kernel.Error{Module: errRuntimePanic.Module, Message: t}
	case error:
		err = &kernel.Error{Module: errRuntimePanic.Module, Message: t.Error()}
	}

	if err != nil {
		logger.Error("unrecoverable error", "in", err.Module, "err", err.Message)
	}
	logger.Error("*** kernel panic: system halted ***")

	if err == nil {
		err = errRuntimePanic
	}
	haltFn(err)
}

// haltByPanicking is the default halt implementation: it unwinds the calling
// goroutine with the halting error as the panic value.
func haltByPanicking(err *kernel.Error) {
	panic(err)
}
