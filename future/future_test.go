package future

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"code.hybscloud.com/iox"

	"github.com/wippyai/ffi-runtime/call"
	"github.com/wippyai/ffi-runtime/codec"
	"github.com/wippyai/ffi-runtime/errors"
	"github.com/wippyai/ffi-runtime/native/nativetest"
)

type timeoutError struct{ After uint32 }

func (e *timeoutError) Error() string { return "timed out" }

var timeoutConv = codec.Buffered(
	func(r *codec.Reader) (*timeoutError, error) {
		v, err := r.ReadU32()
		return &timeoutError{After: v}, err
	},
	func(w *codec.Writer, e *timeoutError) error {
		w.WriteU32(e.After)
		return nil
	},
)

// simFuture is the native side of one pending operation.
type simFuture struct {
	value     string
	pending   int // polls that report not ready
	failPoll  bool
	autoWake  bool
	dropCount int
	polls     int
}

type asyncLib struct {
	*nativetest.Library
	mu      sync.Mutex
	futures map[uint64]*simFuture
	next    *simFuture
	outPtrs []uint64
}

func newAsyncLib(t *testing.T) *asyncLib {
	t.Helper()
	lib := &asyncLib{Library: nativetest.New(), futures: map[uint64]*simFuture{}}

	lib.Define("fetch_start", func(ctx context.Context, args []uint64) (uint64, error) {
		if args[0] == 0 {
			payload, _ := codec.Encode(timeoutConv, &timeoutError{After: 0})
			return 0, lib.Fail(nativetest.Status(args), payload)
		}
		p, err := lib.Alloc(16, 8)
		if err != nil {
			return 0, err
		}
		lib.mu.Lock()
		lib.futures[p] = lib.next
		lib.mu.Unlock()
		return p, nil
	})

	lib.Define("fetch_poll", func(ctx context.Context, args []uint64) (uint64, error) {
		token, waker, wctx, out, status := args[0], args[1], args[2], args[3], args[4]
		lib.mu.Lock()
		f := lib.futures[token]
		f.polls++
		lib.outPtrs = append(lib.outPtrs, out)
		lib.mu.Unlock()

		if f.failPoll {
			payload, _ := codec.Encode(timeoutConv, &timeoutError{After: 30})
			return 0, lib.Fail(status, payload)
		}
		if f.pending > 0 {
			f.pending--
			if f.autoWake {
				go func() {
					time.Sleep(time.Millisecond)
					_, _ = lib.Invoke(context.Background(), waker, wctx)
				}()
			}
			return 0, nil
		}
		if out != 0 {
			desc, err := lib.GiveString(f.value)
			if err != nil {
				return 0, err
			}
			if err := lib.WriteU64(out, desc); err != nil {
				return 0, err
			}
		}
		return 1, nil
	})

	lib.Define("fetch_drop", func(ctx context.Context, args []uint64) (uint64, error) {
		lib.mu.Lock()
		defer lib.mu.Unlock()
		f, ok := lib.futures[args[0]]
		if !ok {
			return 0, lib.Panic(nativetest.Status(args), "drop of unknown future")
		}
		f.dropCount++
		if f.dropCount == 1 {
			lib.Free(args[0], 16, 8)
		}
		return 0, nil
	})
	return lib
}

var fetchOp = Op[string]{
	Result: codec.String,
	Errors: call.Errors(timeoutConv),
	Poll:   "fetch_poll",
	Drop:   "fetch_drop",
}

func TestAwait_PendingPendingReady(t *testing.T) {
	lib := newAsyncLib(t)
	sim := &simFuture{value: "done", pending: 2, autoWake: true}
	lib.next = sim
	caller := call.NewCaller(lib)
	wakers := NewWakers(lib)

	f, err := Start(context.Background(), caller, wakers, fetchOp, "fetch_start", 1)
	if err != nil {
		t.Fatal(err)
	}
	v, err := f.Await(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if v != "done" {
		t.Errorf("result = %q", v)
	}
	if sim.polls != 3 {
		t.Errorf("polls = %d, want 3", sim.polls)
	}
	if sim.dropCount != 1 {
		t.Errorf("drops = %d, want 1", sim.dropCount)
	}
	if wakers.Pending() != 0 {
		t.Errorf("waker still registered")
	}
	if lib.Live() != 0 || len(lib.Faults()) != 0 {
		t.Errorf("live=%d faults=%v", lib.Live(), lib.Faults())
	}

	// finished futures keep their outcome and never poll again
	v, err = f.Poll(context.Background())
	if v != "done" || err != nil || sim.polls != 3 {
		t.Errorf("re-poll after ready: %q, %v, polls=%d", v, err, sim.polls)
	}
}

func TestStart_ImmediateFailure(t *testing.T) {
	lib := newAsyncLib(t)
	caller := call.NewCaller(lib)

	f, err := Start(context.Background(), caller, NewWakers(lib), fetchOp, "fetch_start", 0)
	if f != nil {
		t.Fatal("failed start must not return a future")
	}
	var te *timeoutError
	if !stderrors.As(err, &te) {
		t.Fatalf("expected declared error, got %v", err)
	}
	if lib.Calls("fetch_poll") != 0 || lib.Calls("fetch_drop") != 0 {
		t.Error("no poll or drop may follow a failed start")
	}
}

func TestAwait_PollDeclaredError(t *testing.T) {
	lib := newAsyncLib(t)
	sim := &simFuture{failPoll: true}
	lib.next = sim
	caller := call.NewCaller(lib)

	f, err := Start(context.Background(), caller, NewWakers(lib), fetchOp, "fetch_start", 1)
	if err != nil {
		t.Fatal(err)
	}
	_, err = f.Await(context.Background())
	var te *timeoutError
	if !stderrors.As(err, &te) || te.After != 30 {
		t.Fatalf("expected declared poll error, got %v", err)
	}
	if sim.dropCount != 1 {
		t.Errorf("drops = %d, want 1", sim.dropCount)
	}
}

func TestAwait_Cancellation(t *testing.T) {
	lib := newAsyncLib(t)
	sim := &simFuture{pending: 1 << 30}
	lib.next = sim
	caller := call.NewCaller(lib)

	f, err := Start(context.Background(), caller, NewWakers(lib), fetchOp, "fetch_start", 1)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = f.Await(ctx)
	if !stderrors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if sim.dropCount != 1 {
		t.Fatalf("drops = %d, want 1", sim.dropCount)
	}

	polls := sim.polls
	_, err = f.Poll(context.Background())
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Kind != errors.KindClosed {
		t.Errorf("poll after cancel: got %v", err)
	}
	if sim.polls != polls {
		t.Error("native poll after drop")
	}
	if err := f.Close(context.Background()); err != nil || sim.dropCount != 1 {
		t.Errorf("Close after cancel: %v, drops=%d", err, sim.dropCount)
	}
}

func TestPoll_NonBlocking(t *testing.T) {
	lib := newAsyncLib(t)
	sim := &simFuture{value: "x", pending: 1}
	lib.next = sim
	caller := call.NewCaller(lib)
	wakers := NewWakers(lib)

	f, _ := Start(context.Background(), caller, wakers, fetchOp, "fetch_start", 1)
	_, err := f.Poll(context.Background())
	if !iox.IsWouldBlock(err) {
		t.Fatalf("expected would block, got %v", err)
	}
	v, err := f.Poll(context.Background())
	if err != nil || v != "x" {
		t.Fatalf("second poll = %q, %v", v, err)
	}
	if wakers.Wake(f.wakeID) {
		t.Error("wake after completion must be ignored")
	}
}

func TestClose_BeforePoll(t *testing.T) {
	lib := newAsyncLib(t)
	sim := &simFuture{pending: 5}
	lib.next = sim
	f, _ := Start(context.Background(), call.NewCaller(lib), NewWakers(lib), fetchOp, "fetch_start", 1)

	if err := f.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if sim.dropCount != 1 || sim.polls != 0 {
		t.Errorf("drops=%d polls=%d", sim.dropCount, sim.polls)
	}
}

func TestNoResult(t *testing.T) {
	lib := newAsyncLib(t)
	lib.next = &simFuture{}
	op := Op[struct{}]{Poll: "fetch_poll", Drop: "fetch_drop"}

	f, err := Start(context.Background(), call.NewCaller(lib), NewWakers(lib), op, "fetch_start", 1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Await(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(lib.outPtrs) != 1 || lib.outPtrs[0] != 0 {
		t.Errorf("void operations must poll with a null result slot, got %v", lib.outPtrs)
	}
}

func TestThreadExecutor(t *testing.T) {
	exec := NewThreadExecutor()
	defer exec.Close()

	lib := newAsyncLib(t)
	sim := &simFuture{value: "threaded", pending: 1, autoWake: true}
	lib.next = sim
	wakers := NewWakers(lib)
	wakers.SetExecutor(exec)

	f, err := Start(context.Background(), call.NewCaller(lib), wakers, fetchOp, "fetch_start", 1)
	if err != nil {
		t.Fatal(err)
	}
	v, err := f.Await(context.Background())
	if err != nil || v != "threaded" {
		t.Fatalf("got %q, %v", v, err)
	}

	func() {
		defer func() {
			if recover() == nil {
				t.Error("panic not propagated")
			}
		}()
		_ = exec.Run(func() { panic("boom") })
	}()

	exec.Close()
	if err := exec.Run(func() {}); err == nil {
		t.Error("Run after Close must fail")
	}
}

func waitForPoll(t *testing.T, lib *asyncLib) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for lib.Calls("fetch_poll") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("future never polled")
		}
		time.Sleep(time.Millisecond)
	}
}

func awaitInBackground(f *Future[string]) <-chan error {
	done := make(chan error, 1)
	go func() {
		_, err := f.Await(context.Background())
		done <- err
	}()
	return done
}

func TestAwait_ClosedConcurrently(t *testing.T) {
	tests := []struct {
		name  string
		close func(t *testing.T, f *Future[string], w *Wakers)
	}{
		{
			name:  "future close",
			close: func(_ *testing.T, f *Future[string], _ *Wakers) { _ = f.Close(context.Background()) },
		},
		{
			name: "wakers close",
			close: func(t *testing.T, _ *Future[string], w *Wakers) {
				if n := w.Close(context.Background()); n != 1 {
					t.Errorf("abandoned %d futures, want 1", n)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lib := newAsyncLib(t)
			lib.next = &simFuture{pending: 1 << 30}
			wakers := NewWakers(lib)

			f, err := Start(context.Background(), call.NewCaller(lib), wakers, fetchOp, "fetch_start", 1)
			if err != nil {
				t.Fatal(err)
			}
			done := awaitInBackground(f)
			waitForPoll(t, lib)

			tt.close(t, f, wakers)

			select {
			case err := <-done:
				var e *errors.Error
				if !stderrors.As(err, &e) || e.Kind != errors.KindClosed {
					t.Errorf("Await err = %v, want closed", err)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("Await still blocked after close")
			}
			if n := lib.Calls("fetch_drop"); n != 1 {
				t.Errorf("drops = %d, want 1", n)
			}
			if wakers.Pending() != 0 {
				t.Errorf("%d futures still registered", wakers.Pending())
			}
			if lib.Live() != 0 {
				t.Errorf("%d live allocations", lib.Live())
			}
		})
	}
}

func TestAwait_RejectedExecutorStillDrops(t *testing.T) {
	lib := newAsyncLib(t)
	lib.next = &simFuture{value: "never", pending: 1}

	f, err := Start(context.Background(), call.NewCaller(lib), NewWakers(lib), fetchOp, "fetch_start", 1)
	if err != nil {
		t.Fatal(err)
	}
	exec := NewThreadExecutor()
	f.WithExecutor(exec)
	exec.Close()

	_, err = f.Await(context.Background())
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Kind != errors.KindClosed {
		t.Fatalf("err = %v, want executor closed", err)
	}
	if n := lib.Calls("fetch_poll"); n != 0 {
		t.Errorf("polls = %d, want 0", n)
	}
	if n := lib.Calls("fetch_drop"); n != 1 {
		t.Errorf("drops = %d, want 1", n)
	}
	if lib.Live() != 0 || len(lib.Faults()) != 0 {
		t.Errorf("live=%d faults=%v", lib.Live(), lib.Faults())
	}
}
