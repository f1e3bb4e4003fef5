package codec

import "sync"

// Allocation is one native allocation made while lowering call arguments.
type Allocation struct {
	Ptr   Ptr
	Size  uint32
	Align uint32

	// Buffer marks Ptr as a buffer descriptor; freeing it frees the data too.
	Buffer bool
}

// AllocationList records the native allocations of one call so they can be
// released together if the call never happens.
type AllocationList struct {
	allocations []Allocation
}

var allocationListPool = sync.Pool{
	New: func() any {
		return &AllocationList{allocations: make([]Allocation, 0, 8)}
	},
}

func NewAllocationList() *AllocationList {
	return allocationListPool.Get().(*AllocationList)
}

const maxPooledAllocationCapacity = 128

// Release returns to pool. The list is invalid after Release.
func (al *AllocationList) Release() {
	if cap(al.allocations) > maxPooledAllocationCapacity {
		return
	}
	al.Reset()
	allocationListPool.Put(al)
}

func (al *AllocationList) FreeAndRelease(heap Heap) {
	al.Free(heap)
	al.Release()
}

func (al *AllocationList) Add(ptr Ptr, size, align uint32) {
	al.allocations = append(al.allocations, Allocation{Ptr: ptr, Size: size, Align: align})
}

// AddBuffer records a buffer descriptor returned by LowerBuffer.
func (al *AllocationList) AddBuffer(desc Ptr) {
	al.allocations = append(al.allocations, Allocation{Ptr: desc, Buffer: true})
}

// Free releases every recorded allocation in reverse order.
func (al *AllocationList) Free(heap Heap) {
	if heap == nil {
		return
	}
	for i := len(al.allocations) - 1; i >= 0; i-- {
		a := al.allocations[i]
		if a.Ptr == 0 {
			continue
		}
		if a.Buffer {
			FreeBuffer(heap, a.Ptr)
		} else {
			heap.Free(a.Ptr, a.Size, a.Align)
		}
	}
	al.Reset()
}

func (al *AllocationList) Reset() {
	al.allocations = al.allocations[:0]
}

func (al *AllocationList) Count() int {
	return len(al.allocations)
}

// Args lowers the arguments of one native call. If any argument fails to
// lower, everything lowered so far is freed and the first error is kept.
//
//	args := codec.NewArgs(heap)
//	a := codec.Arg(args, codec.String, name)
//	b := codec.Arg(args, codec.Uint32, count)
//	slots, err := args.Done()
type Args struct {
	heap   Heap
	allocs *AllocationList
	slots  []uint64
	err    error
}

// NewArgs starts lowering arguments into heap.
func NewArgs(heap Heap) *Args {
	return &Args{heap: heap, allocs: NewAllocationList()}
}

// Arg lowers v with c and appends its slot. It is a no-op once an earlier
// argument has failed. The returned slot is only meaningful if Done succeeds.
func Arg[T any](a *Args, c Converter[T], v T) uint64 {
	if a.err != nil || a.allocs == nil {
		return 0
	}
	slot, err := c.Lower(a.heap, v)
	if err != nil {
		a.fail(err)
		return 0
	}
	if IsBuffered(c) {
		a.allocs.AddBuffer(slot)
	}
	a.slots = append(a.slots, slot)
	return slot
}

// Slot appends an already lowered slot value.
func (a *Args) Slot(v uint64) {
	if a.err == nil && a.allocs != nil {
		a.slots = append(a.slots, v)
	}
}

func (a *Args) fail(err error) {
	a.err = err
	a.allocs.Free(a.heap)
}

// Err returns the first lowering error.
func (a *Args) Err() error { return a.err }

// Done returns the lowered slots. Buffers lowered for the call are owned by
// the callee from here on.
func (a *Args) Done() ([]uint64, error) {
	if a.allocs != nil {
		a.allocs.Reset()
		a.allocs.Release()
		a.allocs = nil
	}
	if a.err != nil {
		return nil, a.err
	}
	return a.slots, nil
}

// Abort frees everything lowered so far. It is a no-op after Done.
func (a *Args) Abort() {
	if a.allocs == nil {
		return
	}
	a.allocs.FreeAndRelease(a.heap)
	a.allocs = nil
}
