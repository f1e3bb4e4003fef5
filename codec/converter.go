package codec

import (
	"math"
)

// Converter lowers and lifts values of one declared type.
//
// Lower/Lift move a value through a single 64-bit ABI slot. Read/Write
// encode the value inside a buffer and are what compound converters call
// for their elements.
type Converter[T any] interface {
	Lower(heap Heap, v T) (uint64, error)
	Lift(heap Heap, slot uint64) (T, error)
	Read(r *Reader) (T, error)
	Write(w *Writer, v T) error
}

// BufferBacked is implemented by converters whose slot form is a pointer to
// a native buffer descriptor owned by the receiver.
type BufferBacked interface {
	BufferBacked()
}

// IsBuffered reports whether c lowers values into native buffers.
func IsBuffered(c any) bool {
	_, ok := c.(BufferBacked)
	return ok
}

// Encode serializes v with c into a fresh byte slice.
func Encode[T any](c Converter[T], v T) ([]byte, error) {
	w := NewWriter()
	defer w.Release()
	if err := c.Write(w, v); err != nil {
		return nil, err
	}
	out := make([]byte, w.Len())
	copy(out, w.Bytes())
	return out, nil
}

// Decode reads exactly one value from b. Leftover bytes are an error.
func Decode[T any](c Converter[T], b []byte) (T, error) {
	r := NewReader(b)
	v, err := c.Read(r)
	if err != nil {
		var zero T
		return zero, err
	}
	if err := r.Finish(); err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}

// LowerInto serializes v with c into a newly allocated native buffer.
func LowerInto[T any](heap Heap, c Converter[T], v T) (Ptr, error) {
	w := NewWriter()
	defer w.Release()
	if err := c.Write(w, v); err != nil {
		return 0, err
	}
	return LowerBuffer(heap, w.Bytes())
}

// LiftFrom takes ownership of the native buffer at ptr and decodes one value.
func LiftFrom[T any](heap Heap, c Converter[T], ptr Ptr) (T, error) {
	b, err := LiftBuffer(heap, ptr)
	if err != nil {
		var zero T
		return zero, err
	}
	return Decode(c, b)
}

// buffered adapts a Read/Write pair into a buffer-backed Converter.
type buffered[T any] struct {
	read  func(*Reader) (T, error)
	write func(*Writer, T) error
}

func (c buffered[T]) Lower(heap Heap, v T) (uint64, error) { return LowerInto[T](heap, c, v) }

func (c buffered[T]) Lift(heap Heap, slot uint64) (T, error) { return LiftFrom[T](heap, c, slot) }

func (c buffered[T]) Read(r *Reader) (T, error) { return c.read(r) }

func (c buffered[T]) Write(w *Writer, v T) error { return c.write(w, v) }

func (buffered[T]) BufferBacked() {}

// Buffered builds a buffer-backed converter from a read and a write function.
func Buffered[T any](read func(*Reader) (T, error), write func(*Writer, T) error) Converter[T] {
	return buffered[T]{read: read, write: write}
}

// scalar converters pass values directly in the slot.
type scalar[T any] struct {
	toSlot   func(T) uint64
	fromSlot func(uint64) (T, error)
	read     func(*Reader) (T, error)
	write    func(*Writer, T)
}

func (s scalar[T]) Lower(_ Heap, v T) (uint64, error) { return s.toSlot(v), nil }

func (s scalar[T]) Lift(_ Heap, slot uint64) (T, error) { return s.fromSlot(slot) }

func (s scalar[T]) Read(r *Reader) (T, error) { return s.read(r) }

func (s scalar[T]) Write(w *Writer, v T) error {
	s.write(w, v)
	return nil
}

func liftBool(slot uint64) (bool, error) {
	switch slot {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, invalidBoolSlot(slot)
}

// Scalar converters.
var (
	Bool Converter[bool] = scalar[bool]{
		toSlot: func(v bool) uint64 {
			if v {
				return 1
			}
			return 0
		},
		fromSlot: liftBool,
		read:     (*Reader).ReadBool,
		write:    (*Writer).WriteBool,
	}

	Int8 Converter[int8] = scalar[int8]{
		toSlot:   func(v int8) uint64 { return uint64(int64(v)) },
		fromSlot: func(s uint64) (int8, error) { return int8(s), nil },
		read:     (*Reader).ReadI8,
		write:    (*Writer).WriteI8,
	}

	Int16 Converter[int16] = scalar[int16]{
		toSlot:   func(v int16) uint64 { return uint64(int64(v)) },
		fromSlot: func(s uint64) (int16, error) { return int16(s), nil },
		read:     (*Reader).ReadI16,
		write:    (*Writer).WriteI16,
	}

	Int32 Converter[int32] = scalar[int32]{
		toSlot:   func(v int32) uint64 { return uint64(int64(v)) },
		fromSlot: func(s uint64) (int32, error) { return int32(s), nil },
		read:     (*Reader).ReadI32,
		write:    (*Writer).WriteI32,
	}

	Int64 Converter[int64] = scalar[int64]{
		toSlot:   func(v int64) uint64 { return uint64(v) },
		fromSlot: func(s uint64) (int64, error) { return int64(s), nil },
		read:     (*Reader).ReadI64,
		write:    (*Writer).WriteI64,
	}

	Uint8 Converter[uint8] = scalar[uint8]{
		toSlot:   func(v uint8) uint64 { return uint64(v) },
		fromSlot: func(s uint64) (uint8, error) { return uint8(s), nil },
		read:     (*Reader).ReadU8,
		write:    (*Writer).WriteU8,
	}

	Uint16 Converter[uint16] = scalar[uint16]{
		toSlot:   func(v uint16) uint64 { return uint64(v) },
		fromSlot: func(s uint64) (uint16, error) { return uint16(s), nil },
		read:     (*Reader).ReadU16,
		write:    (*Writer).WriteU16,
	}

	Uint32 Converter[uint32] = scalar[uint32]{
		toSlot:   func(v uint32) uint64 { return uint64(v) },
		fromSlot: func(s uint64) (uint32, error) { return uint32(s), nil },
		read:     (*Reader).ReadU32,
		write:    (*Writer).WriteU32,
	}

	Uint64 Converter[uint64] = scalar[uint64]{
		toSlot:   func(v uint64) uint64 { return v },
		fromSlot: func(s uint64) (uint64, error) { return s, nil },
		read:     (*Reader).ReadU64,
		write:    (*Writer).WriteU64,
	}

	Float32 Converter[float32] = scalar[float32]{
		toSlot:   func(v float32) uint64 { return uint64(math.Float32bits(v)) },
		fromSlot: func(s uint64) (float32, error) { return math.Float32frombits(uint32(s)), nil },
		read:     (*Reader).ReadF32,
		write:    (*Writer).WriteF32,
	}

	Float64 Converter[float64] = scalar[float64]{
		toSlot:   math.Float64bits,
		fromSlot: func(s uint64) (float64, error) { return math.Float64frombits(s), nil },
		read:     (*Reader).ReadF64,
		write:    (*Writer).WriteF64,
	}
)
