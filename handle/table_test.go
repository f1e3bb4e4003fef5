package handle

import (
	stderrors "errors"
	"math"
	"sync"
	"testing"

	"github.com/wippyai/ffi-runtime/errors"
)

func TestTable_Basic(t *testing.T) {
	tbl := NewTable()

	if err := tbl.Insert("Counter", 0x1000, "owner"); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	v, ok := tbl.Get(0x1000)
	if !ok || v != "owner" {
		t.Fatalf("Get = %v, %v", v, ok)
	}
	if tbl.Len() != 1 {
		t.Fatalf("Len = %d, want 1", tbl.Len())
	}

	if !tbl.Remove(0x1000) {
		t.Fatal("Remove must report the handle as freed")
	}
	if tbl.Remove(0x1000) {
		t.Fatal("second Remove must not free again")
	}
	if _, ok := tbl.Get(0x1000); ok {
		t.Fatal("Get after Remove must fail")
	}
}

func TestTable_InsertErrors(t *testing.T) {
	tbl := NewTable()

	err := tbl.Insert("Counter", 0, nil)
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Kind != errors.KindNullHandle {
		t.Fatalf("null handle: got %v", err)
	}

	_ = tbl.Insert("Counter", 8, "a")
	err = tbl.Insert("Counter", 8, "b")
	if !stderrors.As(err, &e) || e.Kind != errors.KindDuplicateHandle {
		t.Fatalf("duplicate handle: got %v", err)
	}
	if !errors.IsInternal(err) {
		t.Error("duplicate handle must be internal")
	}
	if v, _ := tbl.Get(8); v != "a" {
		t.Errorf("duplicate insert replaced the owner: %v", v)
	}
}

func TestTable_DeferredRemove(t *testing.T) {
	tbl := NewTable()
	_ = tbl.Insert("Counter", 16, nil)

	if !tbl.Borrow(16) || !tbl.Borrow(16) {
		t.Fatal("Borrow failed")
	}
	if tbl.Remove(16) {
		t.Fatal("Remove with outstanding borrows must defer")
	}
	if tbl.Borrow(16) {
		t.Fatal("Borrow of a closing handle must fail")
	}
	if !tbl.Contains(16) {
		t.Fatal("closing handle must stay tracked until released")
	}
	if tbl.Return(16) {
		t.Fatal("first Return must not release")
	}
	if !tbl.Return(16) {
		t.Fatal("last Return must release")
	}
	if tbl.Contains(16) || tbl.Return(16) {
		t.Fatal("handle must be gone after release")
	}
}

func TestTable_Observers(t *testing.T) {
	tbl := NewTable()
	var events []EventType
	unsubscribe := tbl.Subscribe(ObserverFunc(func(e Event) {
		events = append(events, e.Type)
	}))

	_ = tbl.Insert("Counter", 24, nil)
	tbl.Borrow(24)
	tbl.Remove(24)
	tbl.Return(24)

	want := []EventType{EventCreated, EventBorrowed, EventReturned, EventFreed}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, events[i], want[i])
		}
	}

	unsubscribe()
	_ = tbl.Insert("Counter", 32, nil)
	if len(events) != len(want) {
		t.Error("unsubscribed observer still notified")
	}
}

func TestTable_ConcurrentRemove(t *testing.T) {
	tbl := NewTable()
	_ = tbl.Insert("Counter", 40, nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	frees := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tbl.Remove(40) {
				mu.Lock()
				frees++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if frees != 1 {
		t.Fatalf("frees = %d, want exactly 1", frees)
	}
}

func TestMap(t *testing.T) {
	m := NewMap[string]()
	a := m.Insert("a")
	b := m.Insert("b")
	if a == 0 || b == 0 || a == b {
		t.Fatalf("handles a=%d b=%d", a, b)
	}
	if v, ok := m.Get(a); !ok || v != "a" {
		t.Fatalf("Get(a) = %q, %v", v, ok)
	}
	if _, ok := m.Remove(a); !ok {
		t.Fatal("Remove failed")
	}
	if _, ok := m.Get(a); ok {
		t.Fatal("Get after Remove must fail")
	}
	c := m.Insert("c")
	if c == a {
		t.Fatal("handles must not be reused")
	}
	if m.Len() != 2 {
		t.Fatalf("Len = %d", m.Len())
	}
}

func TestMap_Concurrent(t *testing.T) {
	m := NewMap[int]()
	var wg sync.WaitGroup
	seen := make(chan uint64, 256)
	for i := 0; i < 256; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			seen <- m.Insert(i)
		}(i)
	}
	wg.Wait()
	close(seen)

	unique := map[uint64]bool{}
	for h := range seen {
		if unique[h] {
			t.Fatalf("duplicate handle %d", h)
		}
		unique[h] = true
	}
}

func TestMap_HandlesPastUint32(t *testing.T) {
	m := NewMap[string]()
	m.counter.Store(math.MaxUint32)

	h := m.Insert("big")
	if h != math.MaxUint32+1 {
		t.Fatalf("handle = %d, want %d", h, uint64(math.MaxUint32)+1)
	}
	if v, ok := m.Get(h); !ok || v != "big" {
		t.Fatalf("Get = %q, %v", v, ok)
	}
	if next := m.Insert("next"); next <= h {
		t.Fatalf("handle %d not above %d", next, h)
	}
	if n := len(m.Values()); n != 2 {
		t.Fatalf("Values = %d entries", n)
	}
}
