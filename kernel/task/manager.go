// Package task implements task control blocks and the round-robin task
// manager that dispatches them.
package task

import (
	"fmt"

	"upkernel/kernel"
	"upkernel/kernel/kfmt"
	"upkernel/kernel/loader"
	"upkernel/kernel/sync"
	"upkernel/kernel/timer"
	"upkernel/kernel/trap"
)

var (
	// ErrAllTasksCompleted halts the kernel once no task is left to run.
	ErrAllTasksCompleted = &kernel.Error{Module: "task", Message: "all applications completed"}

	errNoApps            = &kernel.Error{Module: "task", Message: "no apps to run"}
	errUnreachable       = &kernel.Error{Module: "task", Message: "unreachable in run_first_task"}
	errAlreadyDispatched = &kernel.Error{Module: "task", Message: "first task already dispatched"}
)

// Manager owns the control blocks of all tasks and schedules them in
// round-robin order.
type Manager struct {
	numApp   int
	inner    *sync.Cell[managerInner]
	switcher Switcher
	clock    timer.Clock
}

type managerInner struct {
	tasks      []ControlBlock
	current    int
	dispatched bool
}

// NewManager builds one task for each app provided by ldr. All tasks are
// Ready when NewManager returns; none of them runs before RunFirstTask is
// invoked.
func NewManager(env Env, ldr loader.Loader, clock timer.Clock, switcher Switcher) (*Manager, error) {
	numApp := ldr.NumApp()
	if numApp == 0 {
		return nil, errNoApps
	}

	kfmt.Log().Info("building tasks", "num_app", numApp)

	tasks := make([]ControlBlock, numApp)
	for i := range tasks {
		tcb, err := NewControlBlock(env, ldr.AppData(i), i)
		if err != nil {
			for j := 0; j < i; j++ {
				tasks[j].release(env.KernelSpace)
			}
			return nil, fmt.Errorf("failed to build task for app %d: %w", i, err)
		}
		tasks[i] = *tcb
	}

	return &Manager{
		numApp:   numApp,
		inner:    sync.NewCell("task manager", managerInner{tasks: tasks}),
		switcher: switcher,
		clock:    clock,
	}, nil
}

// NumApp returns the number of tasks.
func (m *Manager) NumApp() int {
	return m.numApp
}

// RunFirstTask dispatches task 0. It does not return.
func (m *Manager) RunFirstTask() {
	inner := m.inner.Acquire()
	if inner.dispatched {
		m.inner.Release()
		kfmt.Panic(errAlreadyDispatched)
		return
	}

	task0 := &inner.tasks[0]
	task0.markDispatched(m.clock.NowMs())
	inner.current = 0
	inner.dispatched = true
	next := &task0.ctx
	m.inner.Release()

	kfmt.Log().Debug("dispatching first task", "task", 0)

	var unused TaskContext
	m.switcher.Switch(&unused, next)
	kfmt.Panic(errUnreachable)
}

// findNextTask returns the index of the first Ready task after the current
// one in round-robin order.
func (inner *managerInner) findNextTask() (int, bool) {
	numApp := len(inner.tasks)
	for i := inner.current + 1; i <= inner.current+numApp; i++ {
		if id := i % numApp; inner.tasks[id].status == StatusReady {
			return id, true
		}
	}
	return 0, false
}

// runNextTask switches to the next Ready task. If there is none, all tasks
// have exited and the kernel halts with ErrAllTasksCompleted.
func (m *Manager) runNextTask() {
	inner := m.inner.Acquire()
	next, ok := inner.findNextTask()
	if !ok {
		m.inner.Release()
		kfmt.Panic(ErrAllTasksCompleted)
		return
	}

	current := inner.current
	inner.tasks[next].markDispatched(m.clock.NowMs())
	inner.current = next
	curCtx, nextCtx := &inner.tasks[current].ctx, &inner.tasks[next].ctx
	m.inner.Release()

	kfmt.Log().Debug("switching task", "from", current, "to", next)
	m.switcher.Switch(curCtx, nextCtx)
}

// SuspendCurrentAndRunNext moves the running task back to Ready and
// dispatches the next Ready task.
func (m *Manager) SuspendCurrentAndRunNext() {
	inner := m.inner.Acquire()
	inner.tasks[inner.current].status = StatusReady
	m.inner.Release()

	m.runNextTask()
}

// ExitCurrentAndRunNext marks the running task as Exited, releases its user
// memory and dispatches the next Ready task.
func (m *Manager) ExitCurrentAndRunNext() {
	inner := m.inner.Acquire()
	tcb := &inner.tasks[inner.current]
	tcb.status = StatusExited
	tcb.addrSpace.RecycleDataPages()
	m.inner.Release()

	m.runNextTask()
}

// CurrentID returns the index of the running task.
func (m *Manager) CurrentID() int {
	inner := m.inner.Acquire()
	defer m.inner.Release()

	return inner.current
}

// CurrentToken returns the address space token of the running task.
func (m *Manager) CurrentToken() uintptr {
	inner := m.inner.Acquire()
	defer m.inner.Release()

	return inner.tasks[inner.current].Token()
}

// CurrentTrapContext returns the trap context of the running task.
func (m *Manager) CurrentTrapContext() *trap.Context {
	inner := m.inner.Acquire()
	defer m.inner.Release()

	return inner.tasks[inner.current].TrapContext()
}

// CountSyscall records an invocation of the syscall with the supplied id by
// the running task. Ids outside the histogram are ignored.
func (m *Manager) CountSyscall(id uintptr) {
	if id >= MaxSyscallNum {
		return
	}

	inner := m.inner.Acquire()
	inner.tasks[inner.current].syscallTimes[id]++
	m.inner.Release()
}

// SyscallTimes returns a copy of the syscall histogram of the running task.
func (m *Manager) SyscallTimes() [MaxSyscallNum]uint32 {
	inner := m.inner.Acquire()
	defer m.inner.Release()

	return inner.tasks[inner.current].syscallTimes
}

// CurrentStatus returns the status of the running task.
func (m *Manager) CurrentStatus() Status {
	inner := m.inner.Acquire()
	defer m.inner.Release()

	return inner.tasks[inner.current].status
}

// CurrentRunTime returns the number of milliseconds elapsed since the
// running task was first dispatched.
func (m *Manager) CurrentRunTime() uint64 {
	inner := m.inner.Acquire()
	tcb := &inner.tasks[inner.current]
	started, startTime := tcb.started, tcb.startTime
	m.inner.Release()

	if !started {
		kfmt.Panic(kernel.Errorf("task", "task %d has not been dispatched", tcb.id))
		return 0
	}
	return m.clock.NowMs() - startTime
}

// Snapshot describes the state of a task at a point in time.
type Snapshot struct {
	ID           int
	Status       Status
	SyscallTotal uint64
}

// Snapshot returns the state of every task.
func (m *Manager) Snapshot() []Snapshot {
	inner := m.inner.Acquire()
	defer m.inner.Release()

	out := make([]Snapshot, len(inner.tasks))
	for i := range inner.tasks {
		tcb := &inner.tasks[i]
		out[i] = Snapshot{ID: tcb.id, Status: tcb.status}
		for _, count := range tcb.syscallTimes {
			out[i].SyscallTotal += uint64(count)
		}
	}
	return out
}
