package call

import (
	"context"
	"sync"

	"go.uber.org/zap"

	ffiruntime "github.com/wippyai/ffi-runtime"
	"github.com/wippyai/ffi-runtime/codec"
	"github.com/wippyai/ffi-runtime/errors"
	"github.com/wippyai/ffi-runtime/native"
)

// Caller invokes native entry points through the status channel.
// Resolved symbols are cached. Safe for concurrent use.
type Caller struct {
	lib   native.Library
	funcs map[string]native.Func
	mu    sync.RWMutex
}

// NewCaller creates a caller for lib.
func NewCaller(lib native.Library) *Caller {
	return &Caller{
		lib:   lib,
		funcs: make(map[string]native.Func),
	}
}

// Library returns the underlying library.
func (c *Caller) Library() native.Library { return c.lib }

// Heap returns the library's heap.
func (c *Caller) Heap() ffiruntime.Heap { return c.lib }

// Func resolves symbol, caching the result.
func (c *Caller) Func(symbol string) (native.Func, error) {
	c.mu.RLock()
	fn, ok := c.funcs[symbol]
	c.mu.RUnlock()
	if ok {
		return fn, nil
	}

	fn, err := c.lib.Func(symbol)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if cached, ok := c.funcs[symbol]; ok {
		fn = cached
	} else {
		c.funcs[symbol] = fn
	}
	c.mu.Unlock()
	return fn, nil
}

// CallRaw invokes an entry point that takes no status cell.
func (c *Caller) CallRaw(ctx context.Context, symbol string, args ...uint64) (uint64, error) {
	fn, err := c.Func(symbol)
	if err != nil {
		return 0, c.internal(symbol, err)
	}
	ret, err := fn.Call(ctx, args...)
	if err != nil {
		return 0, c.internal(symbol, errors.Trap(errors.PhaseCall, symbol, err))
	}
	return ret, nil
}

// Call invokes symbol with args followed by a fresh status cell.
// On success the native return value is passed through unchanged. A declared
// error is decoded with conv and returned as the host error value; any other
// failure is an internal error.
func (c *Caller) Call(ctx context.Context, symbol string, conv ErrorConverter, args ...uint64) (uint64, error) {
	fn, status, err := c.prepare(symbol)
	if err != nil {
		return 0, err
	}
	return c.call(ctx, symbol, conv, fn, status, args)
}

// Invoke finishes args and calls symbol with the lowered slots. If any
// argument failed to lower, the call is not made and that error is returned.
// Lowered buffers are freed if the call cannot be made.
func (c *Caller) Invoke(ctx context.Context, symbol string, conv ErrorConverter, args *codec.Args) (uint64, error) {
	if err := args.Err(); err != nil {
		_, err = args.Done()
		return 0, err
	}
	fn, status, err := c.prepare(symbol)
	if err != nil {
		args.Abort()
		return 0, err
	}
	slots, err := args.Done()
	if err != nil {
		c.lib.Free(status, ffiruntime.StatusCellSize, 8)
		return 0, err
	}
	return c.call(ctx, symbol, conv, fn, status, slots)
}

// prepare resolves symbol and allocates its status cell.
func (c *Caller) prepare(symbol string) (native.Func, ffiruntime.Ptr, error) {
	fn, err := c.Func(symbol)
	if err != nil {
		return nil, 0, c.internal(symbol, err)
	}
	status, err := newStatus(c.lib)
	if err != nil {
		return nil, 0, c.internal(symbol, err)
	}
	return fn, status, nil
}

func (c *Caller) call(ctx context.Context, symbol string, conv ErrorConverter, fn native.Func, status ffiruntime.Ptr, args []uint64) (uint64, error) {
	full := make([]uint64, len(args)+1)
	copy(full, args)
	full[len(args)] = status

	ret, callErr := fn.Call(ctx, full...)
	st, err := takeStatus(c.lib, status)
	if callErr != nil {
		return 0, c.internal(symbol, errors.Trap(errors.PhaseCall, symbol, callErr))
	}
	if err != nil {
		return 0, c.internal(symbol, err)
	}

	if err := st.Err(symbol, conv); err != nil {
		if st.Code != CodeError || errors.IsInternal(err) {
			return 0, c.internal(symbol, err)
		}
		return 0, err
	}
	return ret, nil
}

func (c *Caller) internal(symbol string, err error) error {
	Logger().Error("native call failed",
		zap.String("symbol", symbol),
		zap.Error(err))
	return err
}
