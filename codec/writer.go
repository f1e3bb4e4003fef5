package codec

import (
	"encoding/binary"
	"math"
	"sync"
	"unicode/utf8"

	"github.com/wippyai/ffi-runtime/errors"
)

const (
	writerInitCap = 64
	writerMaxCap  = 64 * 1024 // larger buffers are not pooled
)

var writerPool = sync.Pool{
	New: func() any {
		return &Writer{buf: make([]byte, 0, writerInitCap)}
	},
}

// Writer appends encoded values to a growable byte buffer.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty writer from the pool.
// Call Release when the bytes are no longer needed.
func NewWriter() *Writer {
	return writerPool.Get().(*Writer)
}

// Release returns the writer to the pool. Bytes() is invalid afterwards.
func (w *Writer) Release() {
	if w == nil || cap(w.buf) > writerMaxCap {
		return
	}
	w.buf = w.buf[:0]
	writerPool.Put(w)
}

// Bytes returns the encoded bytes. The slice aliases the writer's buffer.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of bytes written.
func (w *Writer) Len() int { return len(w.buf) }

// Reset discards everything written.
func (w *Writer) Reset() { w.buf = w.buf[:0] }

func (w *Writer) WriteU8(v uint8) { w.buf = append(w.buf, v) }

func (w *Writer) WriteU16(v uint16) { w.buf = binary.BigEndian.AppendUint16(w.buf, v) }

func (w *Writer) WriteU32(v uint32) { w.buf = binary.BigEndian.AppendUint32(w.buf, v) }

func (w *Writer) WriteU64(v uint64) { w.buf = binary.BigEndian.AppendUint64(w.buf, v) }

func (w *Writer) WriteI8(v int8) { w.WriteU8(uint8(v)) }

func (w *Writer) WriteI16(v int16) { w.WriteU16(uint16(v)) }

func (w *Writer) WriteI32(v int32) { w.WriteU32(uint32(v)) }

func (w *Writer) WriteI64(v int64) { w.WriteU64(uint64(v)) }

func (w *Writer) WriteF32(v float32) { w.WriteU32(math.Float32bits(v)) }

func (w *Writer) WriteF64(v float64) { w.WriteU64(math.Float64bits(v)) }

func (w *Writer) WriteBool(v bool) {
	if v {
		w.WriteU8(1)
	} else {
		w.WriteU8(0)
	}
}

// WriteLen writes an i32 length or element count.
func (w *Writer) WriteLen(n int) error {
	if n < 0 || n > math.MaxInt32 {
		return errors.Overflow(errors.PhaseLower, nil, n, "i32 length")
	}
	w.WriteI32(int32(n))
	return nil
}

// WriteDiscriminant writes the 1-based discriminant of the case at index.
func (w *Writer) WriteDiscriminant(index int) error {
	if index < 0 || index >= math.MaxInt32 {
		return errors.Overflow(errors.PhaseLower, nil, index, "i32 discriminant")
	}
	w.WriteI32(int32(index + 1))
	return nil
}

// WriteString writes a length-prefixed UTF-8 string.
// Strings that are not valid UTF-8 are rejected before anything is written.
func (w *Writer) WriteString(s string) error {
	if !utf8.ValidString(s) {
		return errors.InvalidUTF8(errors.PhaseLower, nil, []byte(s))
	}
	if err := w.WriteLen(len(s)); err != nil {
		return err
	}
	w.buf = append(w.buf, s...)
	return nil
}

// WriteBytes writes a length-prefixed byte string.
func (w *Writer) WriteBytes(b []byte) error {
	if err := w.WriteLen(len(b)); err != nil {
		return err
	}
	w.buf = append(w.buf, b...)
	return nil
}

// WriteRaw appends b without a length prefix.
func (w *Writer) WriteRaw(b []byte) { w.buf = append(w.buf, b...) }
