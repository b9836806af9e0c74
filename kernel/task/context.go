package task

// TrapReturn is the kernel return address installed in the saved context
// of a task that has never run. Switching to such a context enters the
// trap return path, which drops to user mode at the task's entry point.
const TrapReturn = ^uintptr(0) &^ 0xfff

// TaskContext holds the callee-saved registers of a task while it is not
// running. Its contents are only meaningful to the Switcher.
type TaskContext struct {
	// Ra is the address execution resumes at when switched to.
	Ra uintptr

	// Sp is the kernel stack pointer.
	Sp uintptr

	// S holds the callee-saved registers s0-s11.
	S [12]uintptr
}

// GotoTrapReturn returns a context that enters the trap return path on the
// kernel stack whose top is kstackTop.
func GotoTrapReturn(kstackTop uintptr) TaskContext {
	return TaskContext{Ra: TrapReturn, Sp: kstackTop}
}

// Switcher transfers control between tasks.
type Switcher interface {
	// Switch saves the state of the running task into cur and resumes the
	// task whose state is stored in next. Switch does not return until a
	// later call to Switch resumes cur; callers must therefore not hold
	// any guard when calling it.
	Switch(cur, next *TaskContext)
}
