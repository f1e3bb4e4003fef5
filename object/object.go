package object

import (
	"context"
	"runtime"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/ffi-runtime/call"
	"github.com/wippyai/ffi-runtime/errors"
	"github.com/wippyai/ffi-runtime/handle"
)

// Class describes one exported native type.
type Class struct {
	caller *call.Caller
	table  *handle.Table
	name   string
	free   string
}

// NewClass creates a class whose instances are freed with freeSymbol.
// Instances are tracked in table; nil creates a private table.
func NewClass(caller *call.Caller, name, freeSymbol string, table *handle.Table) *Class {
	if table == nil {
		table = handle.NewTable()
	}
	return &Class{caller: caller, table: table, name: name, free: freeSymbol}
}

// Name returns the class name.
func (c *Class) Name() string { return c.name }

// Table returns the table tracking live instances.
func (c *Class) Table() *handle.Table { return c.table }

// Caller returns the caller used for native calls.
func (c *Class) Caller() *call.Caller { return c.caller }

// New runs a native constructor and wraps the handle it returns. The Ref is
// created only after construct succeeds; a constructor error is returned
// unchanged.
func (c *Class) New(ctx context.Context, construct func(ctx context.Context) (uint64, error)) (*Ref, error) {
	h, err := construct(ctx)
	if err != nil {
		return nil, err
	}
	return c.FromHandle(h)
}

// FromHandle wraps a handle returned by native code. A null handle or a
// handle already owned by a live Ref is an internal error.
func (c *Class) FromHandle(h uint64) (*Ref, error) {
	r := &Ref{class: c, handle: handle.Handle(h)}
	if err := c.table.Insert(c.name, handle.Handle(h), r); err != nil {
		Logger().Error("cannot adopt native handle",
			zap.String("class", c.name),
			zap.Uint64("handle", h),
			zap.Error(err))
		return nil, err
	}
	return r, nil
}

// Live returns the number of instances not yet freed.
func (c *Class) Live() int { return c.table.Len() }

func (c *Class) release(ctx context.Context, h handle.Handle) error {
	_, err := c.caller.Call(ctx, c.free, nil, uint64(h))
	if err != nil {
		Logger().Warn("failed to free native object",
			zap.String("class", c.name),
			zap.Uint64("handle", uint64(h)),
			zap.Error(err))
	}
	return err
}

// Ref is host ownership of one native object.
type Ref struct {
	class   *Class
	cleanup *runtime.Cleanup
	handle  handle.Handle
	mu      sync.Mutex
}

// Class returns the class of the referenced object.
func (r *Ref) Class() *Class { return r.class }

// Handle returns the native pointer, or 0 once the Ref is closed.
func (r *Ref) Handle() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return uint64(r.handle)
}

// Borrow returns the native pointer for the duration of one call. The
// object cannot be freed until release is called. Borrowing a closed Ref
// is a use-after-free error.
func (r *Ref) Borrow() (h uint64, release func(), err error) {
	if r == nil {
		return 0, nil, errors.NullHandle(errors.PhaseHandle, "object")
	}
	r.mu.Lock()
	cur := r.handle
	ok := cur != 0 && r.class.table.Borrow(cur)
	r.mu.Unlock()
	if !ok {
		return 0, nil, errors.UseAfterFree(r.class.name)
	}

	var once sync.Once
	release = func() {
		once.Do(func() {
			if r.class.table.Return(cur) {
				_ = r.class.release(context.Background(), cur)
			}
		})
	}
	return uint64(cur), release, nil
}

// Close frees the native object. It is idempotent and safe to call on a
// Ref whose handle was never attached. With borrows outstanding the free
// happens when the last borrow is released.
func (r *Ref) Close(ctx context.Context) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	h := r.handle
	r.handle = 0
	cleanup := r.cleanup
	r.cleanup = nil
	r.mu.Unlock()

	if cleanup != nil {
		cleanup.Stop()
	}
	if h == 0 {
		return nil
	}
	if !r.class.table.Remove(h) {
		return nil
	}
	return r.class.release(ctx, h)
}

// Consume transfers ownership of the native object to a native call that
// takes self by value. The Ref is closed without freeing.
func (r *Ref) Consume() (uint64, error) {
	r.mu.Lock()
	h := r.handle
	if h == 0 {
		r.mu.Unlock()
		return 0, errors.UseAfterFree(r.class.name)
	}
	if n := r.class.table.Borrows(h); n > 0 {
		r.mu.Unlock()
		return 0, errors.New(errors.PhaseHandle, errors.KindInvalidInput).
			GoType(r.class.name).
			Detail("cannot move object with %d outstanding borrows", n).
			Build()
	}
	r.handle = 0
	cleanup := r.cleanup
	r.cleanup = nil
	r.mu.Unlock()

	if cleanup != nil {
		cleanup.Stop()
	}
	// the native side owns the pointer from here on
	r.class.table.Remove(h)
	return uint64(h), nil
}

// Track frees r's native object when owner becomes unreachable, unless r
// was closed first. owner must not be reachable from r.
func Track[T any](owner *T, r *Ref) {
	c := runtime.AddCleanup(owner, finalize, r)
	r.mu.Lock()
	r.cleanup = &c
	r.mu.Unlock()
}

func finalize(r *Ref) {
	if err := r.Close(context.Background()); err != nil {
		Logger().Warn("cleanup of unreachable object failed",
			zap.String("class", r.class.name),
			zap.Error(err))
	}
}
