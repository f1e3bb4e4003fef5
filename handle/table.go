package handle

import (
	"sync"

	"github.com/wippyai/ffi-runtime/errors"
)

// Table is the set of live native handles owned by host wrappers.
type Table struct {
	entries   map[Handle]*entry
	observers []subscription
	nextSub   uint64
	mu        sync.Mutex
	obsMu     sync.RWMutex
}

type subscription struct {
	o  Observer
	id uint64
}

type entry struct {
	value   any
	class   string
	borrows uint32
	closing bool
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{entries: make(map[Handle]*entry, 64)}
}

// Insert records h as owned by value. A null handle or a handle that is
// already live is an internal error.
func (t *Table) Insert(class string, h Handle, value any) error {
	if h == 0 {
		return errors.NullHandle(errors.PhaseHandle, class)
	}

	t.mu.Lock()
	if _, ok := t.entries[h]; ok {
		t.mu.Unlock()
		return errors.New(errors.PhaseHandle, errors.KindDuplicateHandle).
			GoType(class).
			Value(uint64(h)).
			Detail("handle 0x%x is already owned by a live object", uint64(h)).
			Build()
	}
	t.entries[h] = &entry{value: value, class: class}
	t.mu.Unlock()

	t.notify(Event{Type: EventCreated, Handle: h, Class: class, Value: value})
	return nil
}

// Get returns the owner of a live handle.
func (t *Table) Get(h Handle) (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[h]
	if !ok || e.closing {
		return nil, false
	}
	return e.value, true
}

// Contains reports whether h is tracked, including handles whose free is
// deferred until outstanding borrows return.
func (t *Table) Contains(h Handle) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[h]
	return ok
}

// Borrow increments the borrow count. It fails for unknown handles and for
// handles that are being removed.
func (t *Table) Borrow(h Handle) bool {
	t.mu.Lock()
	e, ok := t.entries[h]
	if !ok || e.closing {
		t.mu.Unlock()
		return false
	}
	e.borrows++
	class, value := e.class, e.value
	t.mu.Unlock()

	t.notify(Event{Type: EventBorrowed, Handle: h, Class: class, Value: value})
	return true
}

// Return decrements the borrow count. It reports true when this was the
// last borrow of a handle whose removal was deferred; the caller must then
// free the native object.
func (t *Table) Return(h Handle) bool {
	t.mu.Lock()
	e, ok := t.entries[h]
	if !ok || e.borrows == 0 {
		t.mu.Unlock()
		return false
	}
	e.borrows--
	class, value := e.class, e.value
	release := e.closing && e.borrows == 0
	if release {
		delete(t.entries, h)
	}
	t.mu.Unlock()

	t.notify(Event{Type: EventReturned, Handle: h, Class: class, Value: value})
	if release {
		t.notify(Event{Type: EventFreed, Handle: h, Class: class, Value: value})
	}
	return release
}

// Remove marks h for removal. It reports true if the handle was removed now
// and the caller must free the native object. With borrows outstanding the
// removal is deferred to the last Return and Remove reports false. Removing
// an unknown or already closing handle reports false.
func (t *Table) Remove(h Handle) bool {
	t.mu.Lock()
	e, ok := t.entries[h]
	if !ok || e.closing {
		t.mu.Unlock()
		return false
	}
	e.closing = true
	if e.borrows > 0 {
		t.mu.Unlock()
		return false
	}
	delete(t.entries, h)
	class, value := e.class, e.value
	t.mu.Unlock()

	t.notify(Event{Type: EventFreed, Handle: h, Class: class, Value: value})
	return true
}

// Borrows returns the outstanding borrow count of h.
func (t *Table) Borrows(h Handle) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[h]; ok {
		return e.borrows
	}
	return 0
}

// Len returns the number of tracked handles.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Each iterates over live handles. The table is locked during iteration.
func (t *Table) Each(fn func(Handle, string, any) bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for h, e := range t.entries {
		if e.closing {
			continue
		}
		if !fn(h, e.class, e.value) {
			return
		}
	}
}

// Subscribe adds an observer for lifecycle events. The returned function
// removes it.
func (t *Table) Subscribe(o Observer) (unsubscribe func()) {
	t.obsMu.Lock()
	t.nextSub++
	id := t.nextSub
	t.observers = append(t.observers, subscription{o: o, id: id})
	t.obsMu.Unlock()

	return func() {
		t.obsMu.Lock()
		defer t.obsMu.Unlock()
		for i, s := range t.observers {
			if s.id == id {
				t.observers = append(t.observers[:i:i], t.observers[i+1:]...)
				return
			}
		}
	}
}

func (t *Table) notify(e Event) {
	t.obsMu.RLock()
	observers := t.observers
	t.obsMu.RUnlock()

	for _, s := range observers {
		s.o.OnHandleEvent(e)
	}
}
