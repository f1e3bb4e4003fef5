package codec

import (
	"math"

	ffiruntime "github.com/wippyai/ffi-runtime"
	"github.com/wippyai/ffi-runtime/errors"
)

type (
	Ptr       = ffiruntime.Ptr
	Memory    = ffiruntime.Memory
	Allocator = ffiruntime.Allocator
	Heap      = ffiruntime.Heap
)

const (
	descriptorAlign = 8
	dataAlign       = 1
)

// Descriptor is the in-memory header of a native buffer.
type Descriptor struct {
	Cap  uint64
	Len  uint64
	Data Ptr
}

// ReadDescriptor reads the buffer descriptor stored at ptr.
func ReadDescriptor(mem Memory, ptr Ptr) (Descriptor, error) {
	if ptr == 0 {
		return Descriptor{}, errors.NullHandle(errors.PhaseLift, "buffer")
	}
	var d Descriptor
	var err error
	if d.Cap, err = mem.ReadU64(ptr); err != nil {
		return Descriptor{}, err
	}
	if d.Len, err = mem.ReadU64(ptr + 8); err != nil {
		return Descriptor{}, err
	}
	if d.Data, err = mem.ReadU64(ptr + 16); err != nil {
		return Descriptor{}, err
	}
	if d.Len > d.Cap {
		return Descriptor{}, errors.InvalidData(errors.PhaseLift, nil, "buffer length exceeds capacity")
	}
	if d.Len > 0 && d.Data == 0 {
		return Descriptor{}, errors.NullHandle(errors.PhaseLift, "buffer data")
	}
	return d, nil
}

// WriteDescriptor stores d at ptr.
func WriteDescriptor(mem Memory, ptr Ptr, d Descriptor) error {
	if err := mem.WriteU64(ptr, d.Cap); err != nil {
		return err
	}
	if err := mem.WriteU64(ptr+8, d.Len); err != nil {
		return err
	}
	return mem.WriteU64(ptr+16, d.Data)
}

// ReadBytes copies the contents of the buffer described at ptr without
// taking ownership of it.
func ReadBytes(mem Memory, ptr Ptr) ([]byte, error) {
	d, err := ReadDescriptor(mem, ptr)
	if err != nil {
		return nil, err
	}
	if d.Len == 0 {
		return nil, nil
	}
	if d.Len > math.MaxUint32 {
		return nil, errors.OversizedLength(nil, int64(d.Len), math.MaxUint32)
	}
	b, err := mem.Read(d.Data, uint32(d.Len))
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// TakeBytes copies the contents of the buffer described at ptr and frees its
// data region. The descriptor itself is left in place and zeroed.
func TakeBytes(heap Heap, ptr Ptr) ([]byte, error) {
	b, err := ReadBytes(heap, ptr)
	if err != nil {
		return nil, err
	}
	d, _ := ReadDescriptor(heap, ptr)
	freeData(heap, d)
	if err := WriteDescriptor(heap, ptr, Descriptor{}); err != nil {
		return nil, err
	}
	return b, nil
}

// GiveBytes allocates a native data region holding data and writes its
// descriptor at ptr. Ownership of the region passes to whoever owns ptr.
func GiveBytes(heap Heap, ptr Ptr, data []byte) error {
	d, err := allocData(heap, data)
	if err != nil {
		return err
	}
	if err := WriteDescriptor(heap, ptr, d); err != nil {
		freeData(heap, d)
		return err
	}
	return nil
}

// LowerBuffer copies data into a newly allocated native buffer and returns
// the address of its descriptor.
func LowerBuffer(heap Heap, data []byte) (Ptr, error) {
	desc, err := heap.Alloc(ffiruntime.BufferDescriptorSize, descriptorAlign)
	if err != nil {
		return 0, errors.AllocationFailed(errors.PhaseLower, ffiruntime.BufferDescriptorSize, descriptorAlign, err)
	}
	if err := GiveBytes(heap, desc, data); err != nil {
		heap.Free(desc, ffiruntime.BufferDescriptorSize, descriptorAlign)
		return 0, err
	}
	return desc, nil
}

// LiftBuffer takes ownership of the native buffer described at ptr, returning
// a copy of its bytes. Both the data region and the descriptor are freed.
func LiftBuffer(heap Heap, ptr Ptr) ([]byte, error) {
	b, err := TakeBytes(heap, ptr)
	if err != nil {
		return nil, err
	}
	heap.Free(ptr, ffiruntime.BufferDescriptorSize, descriptorAlign)
	return b, nil
}

// FreeBuffer releases a buffer and its descriptor without reading it.
func FreeBuffer(heap Heap, ptr Ptr) {
	if ptr == 0 {
		return
	}
	if d, err := ReadDescriptor(heap, ptr); err == nil {
		freeData(heap, d)
	}
	heap.Free(ptr, ffiruntime.BufferDescriptorSize, descriptorAlign)
}

func allocData(heap Heap, data []byte) (Descriptor, error) {
	if len(data) == 0 {
		return Descriptor{}, nil
	}
	if uint64(len(data)) > math.MaxUint32 {
		return Descriptor{}, errors.Overflow(errors.PhaseLower, nil, len(data), "buffer size")
	}
	size := uint32(len(data))
	p, err := heap.Alloc(size, dataAlign)
	if err != nil {
		return Descriptor{}, errors.AllocationFailed(errors.PhaseLower, size, dataAlign, err)
	}
	if err := heap.Write(p, data); err != nil {
		heap.Free(p, size, dataAlign)
		return Descriptor{}, err
	}
	return Descriptor{Cap: uint64(size), Len: uint64(size), Data: p}, nil
}

func freeData(heap Heap, d Descriptor) {
	if d.Data == 0 || d.Cap == 0 || d.Cap > math.MaxUint32 {
		return
	}
	heap.Free(d.Data, uint32(d.Cap), dataAlign)
}
