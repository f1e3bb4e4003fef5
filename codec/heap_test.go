package codec

import (
	"encoding/binary"
	"fmt"
)

// testHeap is a bump allocator over a byte slice that tracks live blocks.
type testHeap struct {
	mem       []byte
	next      uint64
	live      map[uint64]uint32
	failAfter int // fail allocations once this many have succeeded; <0 never
	allocs    int
}

func newTestHeap() *testHeap {
	return &testHeap{mem: make([]byte, 1<<16), next: 16, live: map[uint64]uint32{}, failAfter: -1}
}

func (h *testHeap) Alloc(size, align uint32) (Ptr, error) {
	if h.failAfter >= 0 && h.allocs >= h.failAfter {
		return 0, fmt.Errorf("out of memory")
	}
	if align == 0 {
		align = 1
	}
	p := (h.next + uint64(align) - 1) &^ (uint64(align) - 1)
	if p+uint64(size) > uint64(len(h.mem)) {
		return 0, fmt.Errorf("out of memory")
	}
	h.next = p + uint64(size)
	if size == 0 {
		h.next++
	}
	h.live[p] = size
	h.allocs++
	return p, nil
}

func (h *testHeap) Free(ptr Ptr, size, align uint32) {
	if got, ok := h.live[ptr]; !ok || got != size {
		panic(fmt.Sprintf("bad free of 0x%x size %d", ptr, size))
	}
	delete(h.live, ptr)
}

func (h *testHeap) check(ptr Ptr, n uint32) error {
	if ptr+uint64(n) > uint64(len(h.mem)) || ptr == 0 {
		return fmt.Errorf("out of bounds 0x%x+%d", ptr, n)
	}
	return nil
}

func (h *testHeap) Read(ptr Ptr, n uint32) ([]byte, error) {
	if err := h.check(ptr, n); err != nil {
		return nil, err
	}
	return h.mem[ptr : ptr+uint64(n)], nil
}

func (h *testHeap) Write(ptr Ptr, data []byte) error {
	if err := h.check(ptr, uint32(len(data))); err != nil {
		return err
	}
	copy(h.mem[ptr:], data)
	return nil
}

func (h *testHeap) ReadU8(ptr Ptr) (uint8, error) {
	b, err := h.Read(ptr, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (h *testHeap) ReadU32(ptr Ptr) (uint32, error) {
	b, err := h.Read(ptr, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (h *testHeap) ReadU64(ptr Ptr) (uint64, error) {
	b, err := h.Read(ptr, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (h *testHeap) WriteU8(ptr Ptr, v uint8) error { return h.Write(ptr, []byte{v}) }

func (h *testHeap) WriteU32(ptr Ptr, v uint32) error {
	return h.Write(ptr, binary.LittleEndian.AppendUint32(nil, v))
}

func (h *testHeap) WriteU64(ptr Ptr, v uint64) error {
	return h.Write(ptr, binary.LittleEndian.AppendUint64(nil, v))
}

var _ Heap = (*testHeap)(nil)
