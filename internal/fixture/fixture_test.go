package fixture

import (
	"context"
	stderrors "errors"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wippyai/ffi-runtime/errors"
	ffirt "github.com/wippyai/ffi-runtime/runtime"
)

func load(t *testing.T) (*Library, *Bindings) {
	t.Helper()
	lib := NewLibrary()
	b, err := Load(context.Background(), lib, ffirt.Config{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return lib, b
}

// checkClean verifies the native side has no leaked memory or misuse.
func checkClean(t *testing.T, lib *Library) {
	t.Helper()
	if n := lib.Live(); n != 0 {
		t.Errorf("%d native allocations leaked: %v", n, lib.LivePointers())
	}
	if f := lib.Faults(); len(f) != 0 {
		t.Errorf("memory faults: %v", f)
	}
}

func TestLoad_ChecksumMismatch(t *testing.T) {
	lib := NewLibrary()
	sums := map[string]uint16{"counter_add": 0xffff}
	_, err := Load(context.Background(), lib, ffirt.Config{Checksums: sums})
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseLoad, Kind: errors.KindIncompatible}) {
		t.Errorf("err = %v, want incompatible", err)
	}
}

// A failing fallible constructor returns the declared error and never
// frees anything.
func TestCounter_FailedConstructorNoFree(t *testing.T) {
	lib, b := load(t)
	ctx := context.Background()

	c, err := b.NewCounter(ctx, -5)
	if c != nil {
		t.Error("constructor returned an object on failure")
	}
	var cerr CounterError
	if !stderrors.As(err, &cerr) {
		t.Fatalf("err = %v, want CounterError", err)
	}
	if cerr.Kind != NegativeStart {
		t.Errorf("kind = %s", cerr.Kind)
	}
	if errors.IsInternal(err) {
		t.Error("declared error classified as internal")
	}
	if lib.Calls("counter_free") != 0 {
		t.Errorf("counter_free called %d times", lib.Calls("counter_free"))
	}
	if b.Runtime().Live() != 0 {
		t.Errorf("Live = %d", b.Runtime().Live())
	}
	checkClean(t, lib)
}

// not ready, not ready, ready: the result arrives after three polls and the
// token is dropped once.
func TestCounter_WaitReadyAfterTwoPending(t *testing.T) {
	lib, b := load(t)
	lib.PendingPolls = 2
	ctx := context.Background()

	c, err := b.NewCounter(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	v, err := c.WaitFor(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	if v != 10 {
		t.Errorf("WaitFor = %d, want 10", v)
	}
	if n := lib.Calls("counter_wait_for_poll"); n != 3 {
		t.Errorf("polls = %d, want 3", n)
	}
	if n := lib.Calls("counter_wait_for_drop"); n != 1 {
		t.Errorf("drops = %d, want 1", n)
	}

	if err := c.Close(ctx); err != nil {
		t.Fatal(err)
	}
	checkClean(t, lib)
}

// Two constructions give distinct handles; freeing one leaves the other
// usable.
func TestCounter_CloseLeavesOthersUsable(t *testing.T) {
	lib, b := load(t)
	ctx := context.Background()

	first, err := b.NewCounter(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	second, err := b.NewCounter(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if first.Handle() == second.Handle() {
		t.Fatal("two objects share a handle")
	}

	h := first.Handle()
	if err := first.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if v, err := second.Add(ctx, 5); err != nil || v != 7 {
		t.Errorf("second.Add = %d, %v", v, err)
	}
	if _, err := first.Add(ctx, 1); !stderrors.Is(err, &errors.Error{Phase: errors.PhaseHandle, Kind: errors.KindUseAfterFree}) {
		t.Errorf("use after close: %v", err)
	}
	if lib.Frees(h) != 1 {
		t.Errorf("first freed %d times", lib.Frees(h))
	}

	if err := second.Close(ctx); err != nil {
		t.Fatal(err)
	}
	checkClean(t, lib)
}

func TestCounter_Overflow(t *testing.T) {
	lib, b := load(t)
	ctx := context.Background()

	c, err := b.NewCounter(ctx, 1<<62)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		_ = c.Close(ctx)
		checkClean(t, lib)
	}()

	_, err = c.Add(ctx, 1<<62)
	var cerr CounterError
	if !stderrors.As(err, &cerr) || cerr.Kind != Overflow {
		t.Fatalf("err = %v, want overflow", err)
	}
	if v, _ := c.Value(ctx); v != 1<<62 {
		t.Errorf("value changed after failed add: %d", v)
	}
}

func TestCounter_LabelAndSnapshot(t *testing.T) {
	lib, b := load(t)
	ctx := context.Background()

	c, err := b.NewCounterWithLabel(ctx, 3, "héllo")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Add(ctx, 2); err != nil {
		t.Fatal(err)
	}

	snap, err := c.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Value != 5 || snap.Label == nil || *snap.Label != "héllo" {
		t.Errorf("snapshot = %+v", snap)
	}
	if len(snap.Tags) != 2 || snap.Tags[0] != "native" {
		t.Errorf("tags = %v", snap.Tags)
	}
	if want := epoch.Add(time.Second); !snap.Updated.Equal(want) {
		t.Errorf("updated = %v, want %v", snap.Updated, want)
	}

	if err := c.Close(ctx); err != nil {
		t.Fatal(err)
	}
	checkClean(t, lib)
}

func TestCounter_InvalidLabel(t *testing.T) {
	lib, b := load(t)

	_, err := b.NewCounterWithLabel(context.Background(), 0, "bad \xff label")
	if !errors.IsEncoding(err) {
		t.Fatalf("err = %v, want encoding error", err)
	}
	if lib.Calls("counter_new_with_label") != 0 {
		t.Error("native constructor called with an unencodable argument")
	}
	checkClean(t, lib)
}

func TestCounter_ForkAndMerge(t *testing.T) {
	lib, b := load(t)
	ctx := context.Background()

	a, err := b.NewCounter(ctx, 4)
	if err != nil {
		t.Fatal(err)
	}
	fork, err := a.Fork(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if fork.Handle() == a.Handle() {
		t.Fatal("fork shares the original handle")
	}
	if err := a.Merge(ctx, fork); err != nil {
		t.Fatal(err)
	}
	if v, _ := a.Value(ctx); v != 8 {
		t.Errorf("merged value = %d, want 8", v)
	}
	if v, _ := fork.Value(ctx); v != 4 {
		t.Errorf("fork value = %d, want 4", v)
	}

	if err := a.Merge(ctx, nil); !stderrors.Is(err, &errors.Error{Phase: errors.PhaseLower, Kind: errors.KindTypeMismatch}) {
		t.Errorf("merge nil: %v", err)
	}

	_ = fork.Close(ctx)
	if err := a.Merge(ctx, fork); !stderrors.Is(err, &errors.Error{Phase: errors.PhaseHandle, Kind: errors.KindUseAfterFree}) {
		t.Errorf("merge closed: %v", err)
	}
	_ = a.Close(ctx)
	if b.Runtime().Live() != 0 {
		t.Errorf("Live = %d", b.Runtime().Live())
	}
	checkClean(t, lib)
}

type recordingObserver struct {
	mu     sync.Mutex
	values []int64
	reject int64
	panics bool
}

func (o *recordingObserver) Changed(_ context.Context, value int64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.panics {
		panic("observer exploded")
	}
	if o.reject != 0 && value >= o.reject {
		return CounterError{Kind: Rejected, Message: "too big"}
	}
	o.values = append(o.values, value)
	return nil
}

func TestCounter_Observer(t *testing.T) {
	lib, b := load(t)
	ctx := context.Background()

	c, err := b.NewCounter(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	obs := &recordingObserver{reject: 10}
	if err := c.Watch(ctx, obs); err != nil {
		t.Fatal(err)
	}
	if b.Observers().Len() != 1 {
		t.Fatalf("observers = %d", b.Observers().Len())
	}

	for _, n := range []int64{1, 2} {
		if _, err := c.Add(ctx, n); err != nil {
			t.Fatal(err)
		}
	}
	if len(obs.values) != 2 || obs.values[1] != 3 {
		t.Errorf("observed %v", obs.values)
	}

	// a declared error crosses both boundaries
	_, err = c.Add(ctx, 20)
	var cerr CounterError
	if !stderrors.As(err, &cerr) || cerr.Kind != Rejected || cerr.Message != "too big" {
		t.Errorf("err = %v, want rejected", err)
	}

	if err := c.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if b.Observers().Len() != 0 {
		t.Errorf("observer not released with its counter: %d left", b.Observers().Len())
	}
	checkClean(t, lib)
}

func TestCounter_ObserverPanic(t *testing.T) {
	lib, b := load(t)
	ctx := context.Background()

	c, err := b.NewCounter(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Watch(ctx, &recordingObserver{panics: true}); err != nil {
		t.Fatal(err)
	}

	_, err = c.Add(ctx, 1)
	if !errors.IsInternal(err) {
		t.Fatalf("err = %v, want internal", err)
	}
	if !strings.Contains(err.Error(), "observer exploded") {
		t.Errorf("panic message lost: %v", err)
	}

	_ = c.Close(ctx)
	checkClean(t, lib)
}

func TestCounter_WaitForWake(t *testing.T) {
	lib, b := load(t)
	ctx := context.Background()

	c, err := b.NewCounter(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	var got int64
	var waitErr error
	go func() {
		defer close(done)
		got, waitErr = c.WaitFor(ctx, 5)
	}()

	// keep adding until the waiter is satisfied
	deadline := time.After(5 * time.Second)
	for added := false; !added; {
		select {
		case <-deadline:
			t.Fatal("wait never completed")
		case <-time.After(5 * time.Millisecond):
			if lib.Calls("counter_wait_for_poll") > 0 {
				if _, err := c.Add(ctx, 5); err != nil {
					t.Fatal(err)
				}
				added = true
			}
		}
	}
	select {
	case <-done:
	case <-deadline:
		t.Fatal("wait never completed")
	}
	if waitErr != nil || got < 5 {
		t.Errorf("WaitFor = %d, %v", got, waitErr)
	}

	_ = c.Close(ctx)
	for _, d := range lib.Drops() {
		if d != 1 {
			t.Errorf("drops = %v", lib.Drops())
		}
	}
	checkClean(t, lib)
}

func TestCounter_WaitForCancel(t *testing.T) {
	lib, b := load(t)

	c, err := b.NewCounter(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.WaitFor(ctx, 100)
	if !stderrors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	polls := lib.Calls("counter_wait_for_poll")

	// later changes must not poll the abandoned future
	if _, err := c.Add(context.Background(), 200); err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)
	if lib.Calls("counter_wait_for_poll") != polls {
		t.Error("abandoned future polled again")
	}
	if d := lib.Drops(); len(d) != 1 || d[0] != 1 {
		t.Errorf("drops = %v, want [1]", d)
	}

	_ = c.Close(context.Background())
	checkClean(t, lib)
}

// A close during a wait is deferred until the wait ends.
func TestCounter_CloseWhileWaiting(t *testing.T) {
	lib, b := load(t)

	c, err := b.NewCounter(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	h := c.Handle()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.WaitFor(ctx, 100)
		done <- err
	}()
	for i := 0; lib.Calls("counter_wait_for_poll") == 0; i++ {
		if i > 500 {
			t.Fatal("wait never polled")
		}
		time.Sleep(2 * time.Millisecond)
	}

	if err := c.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if lib.Frees(h) != 0 {
		t.Fatal("counter freed while a wait still borrows it")
	}

	cancel()
	if err := <-done; !stderrors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want canceled", err)
	}
	if lib.Frees(h) != 1 {
		t.Errorf("frees = %d, want 1", lib.Frees(h))
	}
	checkClean(t, lib)
}

func TestCounter_Finalized(t *testing.T) {
	lib, b := load(t)
	ctx := context.Background()

	func() {
		c, err := b.NewCounter(ctx, 1)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := c.Add(ctx, 1); err != nil {
			t.Fatal(err)
		}
	}()

	deadline := time.Now().Add(5 * time.Second)
	for lib.Counters() != 0 && time.Now().Before(deadline) {
		runtime.GC()
		time.Sleep(10 * time.Millisecond)
	}
	if lib.Counters() != 0 {
		t.Fatal("unreachable counter was never freed")
	}
	if n := lib.Calls("counter_free"); n != 1 {
		t.Errorf("counter_free called %d times, want 1", n)
	}
	checkClean(t, lib)
}

func TestBindings_Close(t *testing.T) {
	lib, b := load(t)
	ctx := context.Background()
	if err := b.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := b.NewCounter(ctx, 1); err == nil {
		t.Error("constructor succeeded on a closed library")
	}
	checkClean(t, lib)
}

func TestBindings_CloseAbandonsWait(t *testing.T) {
	lib, b := load(t)

	c, err := b.NewCounter(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() {
		_, err := c.WaitFor(context.Background(), 100)
		done <- err
	}()
	for i := 0; lib.Calls("counter_wait_for_poll") == 0; i++ {
		if i > 500 {
			t.Fatal("wait never polled")
		}
		time.Sleep(2 * time.Millisecond)
	}

	if err := b.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-done:
		if !stderrors.Is(err, &errors.Error{Phase: errors.PhasePoll, Kind: errors.KindClosed}) {
			t.Errorf("err = %v, want closed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("wait still blocked after library close")
	}
	if d := lib.Drops(); len(d) != 1 || d[0] != 1 {
		t.Errorf("drops = %v, want [1]", d)
	}
}
