package future

import (
	"runtime"
	"sync"

	"github.com/wippyai/ffi-runtime/errors"
)

// Executor runs the native calls that drive a future.
type Executor interface {
	Run(fn func()) error
}

// Inline runs polls on the calling goroutine.
type Inline struct{}

func (Inline) Run(fn func()) error {
	fn()
	return nil
}

// ThreadExecutor runs every call on one goroutine locked to its OS thread,
// for libraries whose futures must be polled from the thread that created
// them.
type ThreadExecutor struct {
	jobs   chan func()
	mu     sync.RWMutex
	closed bool
}

// NewThreadExecutor starts the executor goroutine.
func NewThreadExecutor() *ThreadExecutor {
	e := &ThreadExecutor{jobs: make(chan func())}
	started := make(chan struct{})
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		close(started)
		for job := range e.jobs {
			job()
		}
	}()
	<-started
	return e
}

// Run executes fn on the executor thread and waits for it. A panic in fn is
// re-raised on the caller's goroutine.
func (e *ThreadExecutor) Run(fn func()) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return errors.New(errors.PhasePoll, errors.KindClosed).Detail("executor closed").Build()
	}

	done := make(chan any, 1)
	e.jobs <- func() {
		defer func() { done <- recover() }()
		fn()
	}
	if p := <-done; p != nil {
		panic(p)
	}
	return nil
}

// Close stops the executor goroutine. Later Runs fail.
func (e *ThreadExecutor) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.jobs)
	}
}
