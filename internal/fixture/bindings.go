package fixture

import (
	"context"

	"github.com/wippyai/ffi-runtime/call"
	"github.com/wippyai/ffi-runtime/callback"
	"github.com/wippyai/ffi-runtime/codec"
	"github.com/wippyai/ffi-runtime/future"
	"github.com/wippyai/ffi-runtime/native"
	"github.com/wippyai/ffi-runtime/object"
	"github.com/wippyai/ffi-runtime/runtime"
)

var counterErrors = call.Errors(CounterErrorConverter)

var waitForOp = future.Op[int64]{
	Result: codec.Int64,
	Errors: counterErrors,
	Poll:   "counter_wait_for_poll",
	Drop:   "counter_wait_for_drop",
}

// Observer is notified of counter changes. It is implemented by host code
// and called from the native library.
type Observer interface {
	Changed(ctx context.Context, value int64) error
}

// Bindings is the host surface of one loaded counter library.
type Bindings struct {
	rt        *runtime.Runtime
	counters  *object.Class
	conv      object.Converter[*Counter]
	observers *callback.Interface[Observer]
}

// Load checks lib and installs the callback interfaces it needs.
func Load(ctx context.Context, lib native.Library, cfg runtime.Config) (*Bindings, error) {
	cfg.Namespace = Namespace
	if cfg.Checksums == nil {
		cfg.Checksums = Checksums
	}
	rt, err := runtime.Load(ctx, lib, cfg)
	if err != nil {
		return nil, err
	}

	b := &Bindings{
		rt:       rt,
		counters: rt.Class("Counter", "counter_free"),
		observers: callback.NewInterface("counter_observer", callback.Method[Observer]{
			Name:          "changed",
			DeclaredError: callback.Errors(CounterErrorConverter),
			Invoke: func(ctx context.Context, impl Observer, args *codec.Reader, _ *codec.Writer) error {
				value, err := args.ReadI64()
				if err != nil {
					return err
				}
				return impl.Changed(ctx, value)
			},
		}),
	}
	b.conv = object.Converter[*Counter]{
		Class:  b.counters,
		Wrap:   b.wrap,
		Unwrap: func(c *Counter) *object.Ref {
			if c == nil {
				return nil
			}
			return c.ref
		},
	}

	if err := b.observers.Install(ctx, rt.Caller(), "counter_observer_init"); err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}
	return b, nil
}

// Runtime returns the library session.
func (b *Bindings) Runtime() *runtime.Runtime { return b.rt }

// Observers returns the live observer registrations.
func (b *Bindings) Observers() *callback.Interface[Observer] { return b.observers }

// Close closes the library.
func (b *Bindings) Close(ctx context.Context) error { return b.rt.Close(ctx) }

func (b *Bindings) wrap(ref *object.Ref) *Counter {
	c := &Counter{b: b, ref: ref}
	object.Track(c, ref)
	return c
}

// Counter is a native counter object.
type Counter struct {
	b   *Bindings
	ref *object.Ref
}

// NewCounter creates a counter starting at start.
func (b *Bindings) NewCounter(ctx context.Context, start int64) (*Counter, error) {
	caller := b.rt.Caller()
	ref, err := b.counters.New(ctx, func(ctx context.Context) (uint64, error) {
		return caller.Call(ctx, "counter_new", counterErrors, uint64(start))
	})
	if err != nil {
		return nil, err
	}
	return b.wrap(ref), nil
}

// NewCounterWithLabel creates a labelled counter.
func (b *Bindings) NewCounterWithLabel(ctx context.Context, start int64, label string) (*Counter, error) {
	caller := b.rt.Caller()
	ref, err := b.counters.New(ctx, func(ctx context.Context) (uint64, error) {
		args := codec.NewArgs(caller.Heap())
		codec.Arg(args, codec.Int64, start)
		codec.Arg(args, codec.String, label)
		return caller.Invoke(ctx, "counter_new_with_label", counterErrors, args)
	})
	if err != nil {
		return nil, err
	}
	return b.wrap(ref), nil
}

// Handle returns the native pointer, or 0 once closed.
func (c *Counter) Handle() uint64 { return c.ref.Handle() }

// Close frees the native counter. It is safe to call more than once.
func (c *Counter) Close(ctx context.Context) error { return c.ref.Close(ctx) }

// Add adds n and returns the new value.
func (c *Counter) Add(ctx context.Context, n int64) (int64, error) {
	self, release, err := c.ref.Borrow()
	if err != nil {
		return 0, err
	}
	defer release()
	ret, err := c.b.rt.Caller().Call(ctx, "counter_add", counterErrors, self, uint64(n))
	if err != nil {
		return 0, err
	}
	return codec.Int64.Lift(nil, ret)
}

// Value returns the current value.
func (c *Counter) Value(ctx context.Context) (int64, error) {
	self, release, err := c.ref.Borrow()
	if err != nil {
		return 0, err
	}
	defer release()
	ret, err := c.b.rt.Caller().Call(ctx, "counter_value", nil, self)
	if err != nil {
		return 0, err
	}
	return codec.Int64.Lift(nil, ret)
}

// Snapshot copies the counter state.
func (c *Counter) Snapshot(ctx context.Context) (Snapshot, error) {
	self, release, err := c.ref.Borrow()
	if err != nil {
		return Snapshot{}, err
	}
	defer release()
	caller := c.b.rt.Caller()
	ret, err := caller.Call(ctx, "counter_snapshot", nil, self)
	if err != nil {
		return Snapshot{}, err
	}
	return SnapshotConverter.Lift(caller.Heap(), ret)
}

// Fork returns a new counter with the same value.
func (c *Counter) Fork(ctx context.Context) (*Counter, error) {
	self, release, err := c.ref.Borrow()
	if err != nil {
		return nil, err
	}
	defer release()
	ret, err := c.b.rt.Caller().Call(ctx, "counter_fork", nil, self)
	if err != nil {
		return nil, err
	}
	return c.b.conv.Lift(nil, ret)
}

// Merge adds other's value to c. other stays usable.
func (c *Counter) Merge(ctx context.Context, other *Counter) error {
	self, release, err := c.ref.Borrow()
	if err != nil {
		return err
	}
	defer release()
	o, err := c.b.conv.Lower(nil, other)
	if err != nil {
		return err
	}
	_, releaseOther, err := other.ref.Borrow()
	if err != nil {
		return err
	}
	defer releaseOther()
	_, err = c.b.rt.Caller().Call(ctx, "counter_merge", counterErrors, self, o)
	return err
}

// Watch registers obs for change notifications until the counter is freed.
func (c *Counter) Watch(ctx context.Context, obs Observer) error {
	self, release, err := c.ref.Borrow()
	if err != nil {
		return err
	}
	defer release()
	h, err := c.b.observers.Lower(nil, obs)
	if err != nil {
		return err
	}
	if _, err := c.b.rt.Caller().Call(ctx, "counter_watch", nil, self, h); err != nil {
		c.b.observers.Dispatch(ctx, h, callback.MethodFree, nil)
		return err
	}
	return nil
}

// WaitFor waits until the counter reaches target and returns its value.
func (c *Counter) WaitFor(ctx context.Context, target int64) (int64, error) {
	self, release, err := c.ref.Borrow()
	if err != nil {
		return 0, err
	}
	// the native wait keeps using the counter until the future is dropped
	defer release()
	f, err := future.Start(ctx, c.b.rt.Caller(), c.b.rt.Wakers(), waitForOp, "counter_wait_for", self, uint64(target))
	if err != nil {
		return 0, err
	}
	return f.Await(ctx)
}
