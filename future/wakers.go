package future

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/ffi-runtime/handle"
	"github.com/wippyai/ffi-runtime/native"
)

// waiter is one registered future: its wake channel and how to abandon it.
type waiter struct {
	ch      chan struct{}
	abandon func(context.Context) error
}

// WakeSymbol is the name the wake trampoline is exported under.
const WakeSymbol = "ffi_wake"

// Wakers routes native wake calls to waiting futures. One Wakers serves one
// library; the trampoline is exported on first use.
type Wakers struct {
	lib   native.Library
	exec  Executor
	chans *handle.Map[*waiter]
	err   error
	ptr   uint64
	once  sync.Once
}

// NewWakers creates the waker table for lib.
func NewWakers(lib native.Library) *Wakers {
	return &Wakers{lib: lib, chans: handle.NewMap[*waiter]()}
}

// Pointer returns the native-callable wake trampoline.
func (w *Wakers) Pointer() (uint64, error) {
	w.once.Do(func() {
		w.ptr, w.err = w.lib.Export(WakeSymbol, w.trampoline)
	})
	return w.ptr, w.err
}

// SetExecutor sets the default executor of futures started afterwards.
func (w *Wakers) SetExecutor(e Executor) {
	w.exec = e
}

// Executor returns the default executor, or nil if none was set.
func (w *Wakers) Executor() Executor { return w.exec }

func (w *Wakers) register(abandon func(context.Context) error) (uint64, chan struct{}) {
	ch := make(chan struct{}, 1)
	return w.chans.Insert(&waiter{ch: ch, abandon: abandon}), ch
}

func (w *Wakers) unregister(id uint64) {
	w.chans.Remove(id)
}

// Pending returns the number of registered futures.
func (w *Wakers) Pending() int { return w.chans.Len() }

// Wake signals the future registered under id. It reports false if no
// future is waiting on id, which happens for wakes after completion.
func (w *Wakers) Wake(id uint64) bool {
	wt, ok := w.chans.Get(id)
	if !ok {
		Logger().Debug("wake for finished future ignored", zap.Uint64("waker", id))
		return false
	}
	select {
	case wt.ch <- struct{}{}:
	default:
	}
	return true
}

// Close abandons every registered future: each is dropped and its waiting
// Await returns a closed error. It returns how many futures were abandoned.
func (w *Wakers) Close(ctx context.Context) int {
	pending := w.chans.Values()
	for _, wt := range pending {
		if err := wt.abandon(ctx); err != nil {
			Logger().Warn("failed to abandon future", zap.Error(err))
		}
	}
	return len(pending)
}

func (w *Wakers) trampoline(_ context.Context, args []uint64) uint64 {
	if len(args) == 0 {
		return 0
	}
	w.Wake(args[0])
	return 0
}
