package fixture

import (
	"context"
	"math"
	"sync"
	"time"

	ffiruntime "github.com/wippyai/ffi-runtime"
	"github.com/wippyai/ffi-runtime/codec"
	"github.com/wippyai/ffi-runtime/native/nativetest"
)

// epoch is the Updated time of a counter that was never changed.
var epoch = time.Unix(1_700_000_000, 0).UTC()

type counterState struct {
	label     *string
	observers []uint64
	value     int64
	updates   int64
}

type waitState struct {
	counter  uint64
	target   int64
	waker    uint64
	wakerCtx uint64
	pending  int
	drops    int
}

// Library simulates the native counter library.
type Library struct {
	*nativetest.Library

	// PendingPolls forces every wait to report not ready this many times
	// before it checks its target. Each forced pending poll wakes itself.
	PendingPolls int

	counters map[uint64]*counterState
	waits    map[uint64]*waitState
	frees    map[uint64]int
	callback uint64
	mu       sync.Mutex
}

// NewLibrary creates the simulated library with its scaffolding.
func NewLibrary() *Library {
	l := &Library{
		Library:  nativetest.New(),
		counters: make(map[uint64]*counterState),
		waits:    make(map[uint64]*waitState),
		frees:    make(map[uint64]int),
	}

	l.Define("ffi_counter_contract_version", func(context.Context, []uint64) (uint64, error) {
		return uint64(ffiruntime.ContractVersion), nil
	})
	for name, sum := range Checksums {
		sum := sum
		l.Define("ffi_counter_checksum_"+name, func(context.Context, []uint64) (uint64, error) {
			return uint64(sum), nil
		})
	}

	l.Define("counter_new", l.counterNew)
	l.Define("counter_new_with_label", l.counterNewWithLabel)
	l.Define("counter_free", l.counterFree)
	l.Define("counter_add", l.counterAdd)
	l.Define("counter_value", l.counterValue)
	l.Define("counter_snapshot", l.counterSnapshot)
	l.Define("counter_fork", l.counterFork)
	l.Define("counter_merge", l.counterMerge)
	l.Define("counter_watch", l.counterWatch)
	l.Define("counter_observer_init", l.observerInit)
	l.Define("counter_wait_for", l.waitFor)
	l.Define("counter_wait_for_poll", l.waitForPoll)
	l.Define("counter_wait_for_drop", l.waitForDrop)
	return l
}

// Frees returns how many times the counter at h was freed.
func (l *Library) Frees(h uint64) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.frees[h]
}

// Counters returns the number of live native counters.
func (l *Library) Counters() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.counters)
}

// Drops returns the drop count of every wait token ever started.
func (l *Library) Drops() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]int, 0, len(l.waits))
	for _, w := range l.waits {
		out = append(out, w.drops)
	}
	return out
}

func (l *Library) fail(status ffiruntime.Ptr, kind CounterErrorKind, msg string) error {
	payload, err := codec.Encode(CounterErrorConverter, CounterError{Kind: kind, Message: msg})
	if err != nil {
		return err
	}
	return l.Fail(status, payload)
}

func (l *Library) create(s *counterState) (uint64, error) {
	p, err := l.Alloc(16, 8)
	if err != nil {
		return 0, err
	}
	l.mu.Lock()
	l.counters[p] = s
	l.mu.Unlock()
	return p, nil
}

func (l *Library) counter(h uint64) (*counterState, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.counters[h]
	return s, ok
}

func (l *Library) counterNew(_ context.Context, args []uint64) (uint64, error) {
	start, status := int64(args[0]), nativetest.Status(args)
	if start < 0 {
		return 0, l.fail(status, NegativeStart, "start must not be negative")
	}
	return l.create(&counterState{value: start})
}

func (l *Library) counterNewWithLabel(_ context.Context, args []uint64) (uint64, error) {
	start, status := int64(args[0]), nativetest.Status(args)
	// the label buffer belongs to us whatever happens
	label, err := l.TakeString(args[1])
	if err != nil {
		return 0, l.Panic(status, err.Error())
	}
	if start < 0 {
		return 0, l.fail(status, NegativeStart, "start must not be negative")
	}
	return l.create(&counterState{value: start, label: &label})
}

func (l *Library) counterFree(ctx context.Context, args []uint64) (uint64, error) {
	h, status := args[0], nativetest.Status(args)
	l.mu.Lock()
	s, ok := l.counters[h]
	l.frees[h]++
	delete(l.counters, h)
	l.mu.Unlock()
	if !ok {
		return 0, l.Panic(status, "free of unknown counter")
	}
	for _, obs := range s.observers {
		l.callObserver(ctx, obs, 0, nil)
	}
	l.Free(h, 16, 8)
	return 0, nil
}

func (l *Library) counterAdd(ctx context.Context, args []uint64) (uint64, error) {
	h, n, status := args[0], int64(args[1]), nativetest.Status(args)
	s, ok := l.counter(h)
	if !ok {
		return 0, l.Panic(status, "use of unknown counter")
	}

	l.mu.Lock()
	if (n > 0 && s.value > math.MaxInt64-n) || (n < 0 && s.value < math.MinInt64-n) {
		l.mu.Unlock()
		return 0, l.fail(status, Overflow, "counter would overflow")
	}
	s.value += n
	s.updates++
	value := s.value
	observers := append([]uint64(nil), s.observers...)
	var wake []*waitState
	for _, w := range l.waits {
		if w.counter == h && w.waker != 0 && value >= w.target {
			wake = append(wake, w)
		}
	}
	l.mu.Unlock()

	for _, w := range wake {
		go l.wake(w)
	}

	payload, _ := codec.Encode(codec.Int64, value)
	for _, obs := range observers {
		code, out := l.callObserver(ctx, obs, 1, payload)
		switch code {
		case uint64(ffiruntime.StatusSuccess):
		case uint64(ffiruntime.StatusError):
			cerr, err := codec.Decode(CounterErrorConverter, out)
			if err != nil {
				return 0, l.Panic(status, err.Error())
			}
			return 0, l.fail(status, Rejected, cerr.Message)
		default:
			msg, _ := codec.Decode(codec.String, out)
			return 0, l.Panic(status, "observer failed: "+msg)
		}
	}
	return uint64(value), nil
}

func (l *Library) counterValue(_ context.Context, args []uint64) (uint64, error) {
	s, ok := l.counter(args[0])
	if !ok {
		return 0, l.Panic(nativetest.Status(args), "use of unknown counter")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return uint64(s.value), nil
}

func (l *Library) counterSnapshot(_ context.Context, args []uint64) (uint64, error) {
	s, ok := l.counter(args[0])
	if !ok {
		return 0, l.Panic(nativetest.Status(args), "use of unknown counter")
	}
	l.mu.Lock()
	snap := Snapshot{
		Value:   s.value,
		Label:   s.label,
		Tags:    []string{"native", "simulated"},
		Updated: epoch.Add(time.Duration(s.updates) * time.Second),
	}
	l.mu.Unlock()
	return codec.LowerInto(l, SnapshotConverter, snap)
}

func (l *Library) counterFork(_ context.Context, args []uint64) (uint64, error) {
	s, ok := l.counter(args[0])
	if !ok {
		return 0, l.Panic(nativetest.Status(args), "use of unknown counter")
	}
	l.mu.Lock()
	forked := &counterState{value: s.value, label: s.label}
	l.mu.Unlock()
	return l.create(forked)
}

func (l *Library) counterMerge(_ context.Context, args []uint64) (uint64, error) {
	status := nativetest.Status(args)
	s, ok := l.counter(args[0])
	other, okOther := l.counter(args[1])
	if !ok || !okOther {
		return 0, l.Panic(status, "use of unknown counter")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if other.value > 0 && s.value > math.MaxInt64-other.value {
		return 0, l.fail(status, Overflow, "merge would overflow")
	}
	s.value += other.value
	s.updates++
	return 0, nil
}

func (l *Library) counterWatch(_ context.Context, args []uint64) (uint64, error) {
	s, ok := l.counter(args[0])
	if !ok {
		return 0, l.Panic(nativetest.Status(args), "use of unknown counter")
	}
	l.mu.Lock()
	s.observers = append(s.observers, args[1])
	l.mu.Unlock()
	return 0, nil
}

func (l *Library) observerInit(_ context.Context, args []uint64) (uint64, error) {
	l.mu.Lock()
	l.callback = args[0]
	l.mu.Unlock()
	return 0, nil
}

// callObserver calls the host observer interface the way compiled code
// would: arguments in a lent buffer, the result in an out descriptor.
func (l *Library) callObserver(ctx context.Context, h uint64, method uint32, payload []byte) (uint64, []byte) {
	l.mu.Lock()
	fn := l.callback
	l.mu.Unlock()

	argsDesc, err := l.Give(payload)
	if err != nil {
		return uint64(ffiruntime.StatusUnexpected), nil
	}
	defer codec.FreeBuffer(l, argsDesc)

	outDesc, err := l.Alloc(ffiruntime.BufferDescriptorSize, 8)
	if err != nil {
		return uint64(ffiruntime.StatusUnexpected), nil
	}
	if err := l.Write(outDesc, make([]byte, ffiruntime.BufferDescriptorSize)); err != nil {
		return uint64(ffiruntime.StatusUnexpected), nil
	}

	code, err := l.Invoke(ctx, fn, h, uint64(method), argsDesc, outDesc)
	out, liftErr := codec.LiftBuffer(l, outDesc)
	if err != nil || liftErr != nil {
		return uint64(ffiruntime.StatusUnexpected), nil
	}
	return code, out
}

func (l *Library) waitFor(_ context.Context, args []uint64) (uint64, error) {
	h, target := args[0], int64(args[1])
	if _, ok := l.counter(h); !ok {
		return 0, l.Panic(nativetest.Status(args), "use of unknown counter")
	}
	token, err := l.Alloc(32, 8)
	if err != nil {
		return 0, err
	}
	l.mu.Lock()
	l.waits[token] = &waitState{counter: h, target: target, pending: l.PendingPolls}
	l.mu.Unlock()
	return token, nil
}

func (l *Library) waitForPoll(_ context.Context, args []uint64) (uint64, error) {
	token, waker, wakerCtx, out, status := args[0], args[1], args[2], args[3], args[4]

	l.mu.Lock()
	w, ok := l.waits[token]
	if !ok || w.drops > 0 {
		l.mu.Unlock()
		return 0, l.Panic(status, "poll of dropped future")
	}
	w.waker, w.wakerCtx = waker, wakerCtx

	if w.pending > 0 {
		w.pending--
		l.mu.Unlock()
		go l.wake(w)
		return 0, nil
	}

	s, live := l.counters[w.counter]
	if !live {
		l.mu.Unlock()
		return 0, l.fail(status, Rejected, "counter freed while waiting")
	}
	if s.value < w.target {
		l.mu.Unlock()
		return 0, nil
	}
	value := s.value
	l.mu.Unlock()

	return 1, l.WriteU64(out, uint64(value))
}

func (l *Library) wake(w *waitState) {
	l.mu.Lock()
	waker, ctx := w.waker, w.wakerCtx
	l.mu.Unlock()
	if waker != 0 {
		_, _ = l.Invoke(context.Background(), waker, ctx)
	}
}

func (l *Library) waitForDrop(_ context.Context, args []uint64) (uint64, error) {
	token := args[0]
	l.mu.Lock()
	w, ok := l.waits[token]
	if !ok {
		l.mu.Unlock()
		return 0, l.Panic(nativetest.Status(args), "drop of unknown future")
	}
	w.drops++
	first := w.drops == 1
	l.mu.Unlock()
	if first {
		l.Free(token, 32, 8)
	}
	return 0, nil
}
