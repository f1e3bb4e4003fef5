package future

import (
	"context"
	"sync"

	"code.hybscloud.com/iox"
	"go.uber.org/zap"

	ffiruntime "github.com/wippyai/ffi-runtime"
	"github.com/wippyai/ffi-runtime/call"
	"github.com/wippyai/ffi-runtime/codec"
	"github.com/wippyai/ffi-runtime/errors"
)

// Op describes the entry points of one async operation.
type Op[T any] struct {
	// Result lifts the completed value. Nil for operations without a result.
	Result codec.Converter[T]

	// Errors decodes declared errors from start and poll calls.
	Errors call.ErrorConverter

	Poll string
	Drop string
}

type state uint8

const (
	statePolling state = iota
	stateDone
	stateClosed
)

// Future is a pending native operation.
type Future[T any] struct {
	exec   Executor
	caller *call.Caller
	wakers *Wakers
	wake   chan struct{}
	err    error
	result T
	op     Op[T]
	token  uint64
	wakeID uint64
	mu     sync.Mutex
	drop   sync.Once
	state  state
}

// Options configures how futures are driven.
type Options struct {
	// Executor runs poll and drop calls. Default runs them inline.
	Executor Executor
}

// Start calls the async entry point startSymbol and returns the pending
// operation. Failures of the start call itself are returned directly and
// leave nothing to drop.
func Start[T any](ctx context.Context, caller *call.Caller, wakers *Wakers, op Op[T], startSymbol string, args ...uint64) (*Future[T], error) {
	token, err := caller.Call(ctx, startSymbol, op.Errors, args...)
	if err != nil {
		return nil, err
	}
	return Adopt(caller, wakers, op, token, Options{})
}

// Adopt wraps a future token obtained by other means.
func Adopt[T any](caller *call.Caller, wakers *Wakers, op Op[T], token uint64, opts Options) (*Future[T], error) {
	if token == 0 {
		return nil, errors.NullHandle(errors.PhasePoll, "future")
	}
	exec := opts.Executor
	if exec == nil {
		exec = wakers.exec
	}
	if exec == nil {
		exec = Inline{}
	}
	f := &Future[T]{
		exec:   exec,
		caller: caller,
		wakers: wakers,
		op:     op,
		token:  token,
	}
	f.wakeID, f.wake = wakers.register(f.Close)
	return f, nil
}

// WithExecutor sets the executor for subsequent polls. It must be called
// before the first poll.
func (f *Future[T]) WithExecutor(e Executor) *Future[T] {
	f.mu.Lock()
	f.exec = e
	f.mu.Unlock()
	return f
}

// Token returns the native future token.
func (f *Future[T]) Token() uint64 { return f.token }

// Poll makes one non-blocking step. It returns iox.ErrWouldBlock while the
// operation is pending. Once finished it keeps returning the same outcome.
func (f *Future[T]) Poll(ctx context.Context) (T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch f.state {
	case stateDone:
		return f.result, f.err
	case stateClosed:
		var zero T
		return zero, errors.New(errors.PhasePoll, errors.KindClosed).
			Path(f.op.Poll).
			Detail("future already closed").
			Build()
	}

	var (
		ready bool
		v     T
		err   error
	)
	if runErr := f.exec.Run(func() { ready, v, err = f.pollOnce(ctx) }); runErr != nil {
		err = runErr
	}
	if err == nil && !ready {
		Logger().Debug("future pending", zap.String("symbol", f.op.Poll), zap.Uint64("token", f.token))
		var zero T
		return zero, iox.ErrWouldBlock
	}

	f.state = stateDone
	f.result, f.err = v, err
	f.dropLocked(context.WithoutCancel(ctx))
	return v, err
}

// Await polls until the operation finishes or ctx is done. Between polls it
// waits for the native waker. Cancellation drops the native future.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	for {
		v, err := f.Poll(ctx)
		if !iox.IsWouldBlock(err) {
			return v, err
		}
		select {
		case <-f.wake:
		case <-ctx.Done():
			_ = f.Close(context.WithoutCancel(ctx))
			var zero T
			return zero, ctx.Err()
		}
	}
}

// Close abandons the operation and drops the native future. It is a no-op
// once the future has finished.
func (f *Future[T]) Close(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != statePolling {
		return nil
	}
	f.state = stateClosed
	err := f.dropLocked(ctx)
	// a concurrent Await re-polls and sees the closed state
	select {
	case f.wake <- struct{}{}:
	default:
	}
	return err
}

func (f *Future[T]) pollOnce(ctx context.Context) (bool, T, error) {
	var zero T
	heap := f.caller.Heap()

	waker, err := f.wakers.Pointer()
	if err != nil {
		return false, zero, err
	}

	var out ffiruntime.Ptr
	if f.op.Result != nil {
		out, err = heap.Alloc(ffiruntime.SlotSize, ffiruntime.SlotSize)
		if err != nil {
			return false, zero, errors.AllocationFailed(errors.PhasePoll, ffiruntime.SlotSize, ffiruntime.SlotSize, err)
		}
		defer heap.Free(out, ffiruntime.SlotSize, ffiruntime.SlotSize)
		if err := heap.WriteU64(out, 0); err != nil {
			return false, zero, err
		}
	}

	ready, err := f.caller.Call(ctx, f.op.Poll, f.op.Errors, f.token, waker, f.wakeID, out)
	if err != nil {
		return false, zero, err
	}
	if ready == 0 {
		return false, zero, nil
	}
	if f.op.Result == nil {
		return true, zero, nil
	}

	slot, err := heap.ReadU64(out)
	if err != nil {
		return false, zero, err
	}
	v, err := f.op.Result.Lift(heap, slot)
	if err != nil {
		return false, zero, err
	}
	return true, v, nil
}

func (f *Future[T]) dropLocked(ctx context.Context) error {
	var err error
	f.drop.Do(func() {
		f.wakers.unregister(f.wakeID)
		drop := func() { _, err = f.caller.Call(ctx, f.op.Drop, nil, f.token) }
		if runErr := f.exec.Run(drop); runErr != nil {
			// the token is released even when the executor is gone
			Logger().Warn("executor rejected drop, dropping inline",
				zap.String("symbol", f.op.Drop),
				zap.Error(runErr))
			drop()
		}
		if err != nil {
			Logger().Warn("failed to drop native future",
				zap.String("symbol", f.op.Drop),
				zap.Uint64("token", f.token),
				zap.Error(err))
		}
	})
	return err
}
