package ffiruntime

// Ptr is an address in native memory. Zero is the null pointer.
type Ptr = uint64

// Memory represents the native library's memory.
// Multi-byte accessors use little-endian layout, which is the layout of
// buffer descriptors and status cells on every supported target.
type Memory interface {
	Read(ptr Ptr, length uint32) ([]byte, error)
	Write(ptr Ptr, data []byte) error
	ReadU8(ptr Ptr) (uint8, error)
	ReadU32(ptr Ptr) (uint32, error)
	ReadU64(ptr Ptr) (uint64, error)
	WriteU8(ptr Ptr, value uint8) error
	WriteU32(ptr Ptr, value uint32) error
	WriteU64(ptr Ptr, value uint64) error
}

// Allocator allocates memory owned by the native library.
type Allocator interface {
	Alloc(size, align uint32) (Ptr, error)
	Free(ptr Ptr, size, align uint32)
}

// Heap is native memory together with the allocator that owns it.
type Heap interface {
	Memory
	Allocator
}

const (
	// BufferDescriptorSize is the size of a buffer descriptor:
	// capacity u64 @0, len u64 @8, data ptr @16.
	BufferDescriptorSize = 24

	// StatusCellSize is the size of a status cell:
	// code u8 @0 (padded to 8), error buffer descriptor @8.
	StatusCellSize = 8 + BufferDescriptorSize

	// SlotSize is the size of one lowered ABI value in memory.
	SlotSize = 8
)

// Status codes written to the first byte of a status cell.
const (
	StatusSuccess    uint8 = 0 // call returned normally
	StatusError      uint8 = 1 // declared error, payload in the cell's buffer
	StatusUnexpected uint8 = 2 // panic or contract violation, message in the buffer
)
