package hal

import (
	"runtime"
	"sync"

	"upkernel/kernel"
	"upkernel/kernel/kfmt"
	"upkernel/kernel/task"
)

// thread is the goroutine that executes the kernel flow of a task.
type thread struct {
	wake chan struct{}
}

// Switcher implements task.Switcher by handing the hart over between
// goroutines. Each task context is bound to its own goroutine; at any time
// exactly one of them runs while the others are parked inside Switch.
//
// Every goroutine started through the switcher is tracked so that Wait can
// block until all of them have exited after Stop.
type Switcher struct {
	mu      sync.Mutex
	threads map[*task.TaskContext]*thread
	running sync.WaitGroup

	// entry is executed by the goroutine of a context that is switched to
	// for the first time.
	entry func()

	stop     chan struct{}
	stopOnce sync.Once
}

// NewSwitcher returns a Switcher that runs entry for contexts that have
// never run before.
func NewSwitcher(entry func()) *Switcher {
	return &Switcher{
		threads: make(map[*task.TaskContext]*thread),
		entry:   entry,
		stop:    make(chan struct{}),
	}
}

// Switch implements task.Switcher. The calling goroutine is parked until
// cur is switched to again. If the switcher is stopped while parked, the
// calling goroutine exits.
func (s *Switcher) Switch(cur, next *task.TaskContext) {
	if cur == next {
		return
	}
	s.exitIfStopped()

	s.mu.Lock()
	curThread := s.threadFor(cur)
	nextThread, started := s.threads[next]
	if !started {
		nextThread = s.threadFor(next)
	}
	s.mu.Unlock()

	if started {
		select {
		case nextThread.wake <- struct{}{}:
		case <-s.stop:
			runtime.Goexit()
		}
	} else if next.Ra == task.TrapReturn {
		s.Go(s.entry)
	} else {
		kfmt.Panic(kernel.Errorf("hal", "switch to a context with unknown return address %#x", next.Ra))
		return
	}

	select {
	case <-curThread.wake:
	case <-s.stop:
		runtime.Goexit()
	}
}

// threadFor returns the thread bound to ctx, creating it if needed. The
// switcher lock must be held.
func (s *Switcher) threadFor(ctx *task.TaskContext) *thread {
	t, ok := s.threads[ctx]
	if !ok {
		t = &thread{wake: make(chan struct{}, 1)}
		s.threads[ctx] = t
	}
	return t
}

// Go runs fn on a new goroutine tracked by the switcher.
func (s *Switcher) Go(fn func()) {
	s.running.Add(1)
	go func() {
		defer s.running.Done()
		fn()
	}()
}

// Stop asks every tracked goroutine to exit. Parked goroutines exit at once;
// the goroutine running kernel or user code exits at its next stop check.
func (s *Switcher) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Wait blocks until every tracked goroutine has exited. It must only be
// called after Stop and never from a tracked goroutine.
func (s *Switcher) Wait() {
	s.running.Wait()
}

// exitIfStopped terminates the calling goroutine if Stop has been called.
func (s *Switcher) exitIfStopped() {
	select {
	case <-s.stop:
		runtime.Goexit()
	default:
	}
}
