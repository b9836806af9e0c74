// Package syscall implements the system calls available to user tasks.
package syscall

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"upkernel/kernel"
	"upkernel/kernel/kfmt"
	"upkernel/kernel/ktrace"
	"upkernel/kernel/mm"
	"upkernel/kernel/mm/vmm"
	"upkernel/kernel/task"
	"upkernel/kernel/timer"
)

// Syscall ids.
const (
	SysWrite    = 64
	SysExit     = 93
	SysYield    = 124
	SysGetTime  = 169
	SysMunmap   = 215
	SysMmap     = 222
	SysTaskInfo = 410
)

// FdStdout is the only file descriptor that can be written to.
const FdStdout = 1

var names = map[uintptr]string{
	SysWrite:    "write",
	SysExit:     "exit",
	SysYield:    "yield",
	SysGetTime:  "get_time",
	SysMunmap:   "munmap",
	SysMmap:     "mmap",
	SysTaskInfo: "task_info",
}

// Name returns the name of the syscall with the supplied id.
func Name(id uintptr) string {
	if name, ok := names[id]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", id)
}

var (
	errBadFd          = &kernel.Error{Module: "syscall", Message: "unsupported file descriptor"}
	errBadAddress     = &kernel.Error{Module: "syscall", Message: "bad user address"}
	errUnknownSyscall = &kernel.Error{Module: "syscall", Message: "unsupported syscall"}
)

// TimeVal is the user-visible layout of the get_time result.
type TimeVal struct {
	Sec  uint64
	Usec uint64
}

// TaskInfo is the user-visible layout of the task_info result.
type TaskInfo struct {
	Status       uint32
	SyscallTimes [task.MaxSyscallNum]uint32
	_            uint32
	Time         uint64
}

// TaskManager is the subset of the task manager used by the syscalls.
type TaskManager interface {
	CurrentID() int
	CurrentToken() uintptr
	CountSyscall(id uintptr)
	SyscallTimes() [task.MaxSyscallNum]uint32
	CurrentStatus() task.Status
	CurrentRunTime() uint64
	SuspendCurrentAndRunNext()
	ExitCurrentAndRunNext()
	Mmap(start, length, port uintptr) *kernel.Error
	Munmap(start, length uintptr) *kernel.Error
}

// Console provides the output stream of each task.
type Console interface {
	Writer(appID int) io.Writer
}

// Dispatcher routes syscalls issued by the running task to their
// implementation.
type Dispatcher struct {
	tasks   TaskManager
	mem     *mm.PhysicalMemory
	clock   timer.Clock
	console Console
}

// NewDispatcher returns a Dispatcher for tasks whose memory lives in mem.
func NewDispatcher(tasks TaskManager, mem *mm.PhysicalMemory, clock timer.Clock, console Console) *Dispatcher {
	return &Dispatcher{tasks: tasks, mem: mem, clock: clock, console: console}
}

// Dispatch executes the syscall with the supplied id and arguments on behalf
// of the running task and returns its result. The exit syscall does not
// return; yield returns once the task is dispatched again.
func (d *Dispatcher) Dispatch(ctx context.Context, id uintptr, args [3]uintptr) int64 {
	d.tasks.CountSyscall(id)

	appID := d.tasks.CurrentID()
	_, span := ktrace.StartSpan(ctx, "syscall."+Name(id))
	span.SetInt("syscall.id", int64(id)).SetInt("task.id", int64(appID))

	var (
		ret int64
		err *kernel.Error
	)

	switch id {
	case SysWrite:
		ret, err = d.write(appID, args[0], args[1], args[2])
	case SysExit:
		kfmt.Log().Info("application exited", "task", appID, "code", int32(args[0]))
		ktrace.EndSpan(span, nil)
		d.tasks.ExitCurrentAndRunNext()
		return 0
	case SysYield:
		ktrace.EndSpan(span, nil)
		d.tasks.SuspendCurrentAndRunNext()
		return 0
	case SysGetTime:
		err = d.getTime(args[0])
	case SysTaskInfo:
		err = d.taskInfo(args[0])
	case SysMmap:
		err = d.tasks.Mmap(args[0], args[1], args[2])
	case SysMunmap:
		err = d.tasks.Munmap(args[0], args[1])
	default:
		kfmt.Log().Warn("unsupported syscall", "task", appID, "id", id)
		err = errUnknownSyscall
	}

	if err != nil {
		kfmt.Log().Debug("syscall failed", "task", appID, "syscall", Name(id), "in", err.Module, "err", err.Message)
		ktrace.EndSpan(span, err)
		return -1
	}

	ktrace.EndSpan(span, nil)
	return ret
}

func (d *Dispatcher) write(appID int, fd, buf, length uintptr) (int64, *kernel.Error) {
	if fd != FdStdout {
		return 0, errBadFd
	}

	buffers, ok := vmm.TranslatedByteBuffer(d.mem, d.tasks.CurrentToken(), buf, length, vmm.FlagUser|vmm.FlagRead)
	if !ok {
		return 0, errBadAddress
	}

	w := d.console.Writer(appID)
	for _, b := range buffers {
		if _, werr := w.Write(b); werr != nil {
			return 0, kernel.Errorf("syscall", "console write failed: %v", werr)
		}
	}
	return int64(length), nil
}

func (d *Dispatcher) getTime(ptr uintptr) *kernel.Error {
	us := timer.UsecOf(d.clock.Now())
	return d.copyOut(ptr, &TimeVal{
		Sec:  us / timer.UsecPerSec,
		Usec: us % timer.UsecPerSec,
	})
}

func (d *Dispatcher) taskInfo(ptr uintptr) *kernel.Error {
	return d.copyOut(ptr, &TaskInfo{
		Status:       uint32(d.tasks.CurrentStatus()),
		SyscallTimes: d.tasks.SyscallTimes(),
		Time:         d.tasks.CurrentRunTime(),
	})
}

// copyOut writes the little-endian encoding of v to user memory at ptr.
func (d *Dispatcher) copyOut(ptr uintptr, v interface{}) *kernel.Error {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
		return kernel.Errorf("syscall", "encoding failed: %v", err)
	}

	if !vmm.CopyToUser(d.mem, d.tasks.CurrentToken(), ptr, buf.Bytes()) {
		return errBadAddress
	}
	return nil
}
