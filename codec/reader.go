package codec

import (
	"encoding/binary"
	"math"
	"unicode/utf8"

	"github.com/wippyai/ffi-runtime/errors"
)

// DefaultMaxLength is the largest declared length or count a Reader accepts.
const DefaultMaxLength = math.MaxInt32

// Reader consumes encoded values from a byte buffer.
type Reader struct {
	buf []byte
	pos int

	// MaxLength bounds declared lengths and counts. Zero means DefaultMaxLength.
	MaxLength int
}

// NewReader returns a reader positioned at the start of buf.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

// Offset returns the cursor position.
func (r *Reader) Offset() int { return r.pos }

// Finish fails if any bytes are left unread.
func (r *Reader) Finish() error {
	if n := r.Remaining(); n != 0 {
		return errors.TrailingData(n)
	}
	return nil
}

func (r *Reader) take(n int) ([]byte, error) {
	if rem := r.Remaining(); n > rem {
		return nil, errors.Underrun(nil, n, rem)
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *Reader) ReadU8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) ReadU16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *Reader) ReadU32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *Reader) ReadU64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *Reader) ReadI8() (int8, error) {
	v, err := r.ReadU8()
	return int8(v), err
}

func (r *Reader) ReadI16() (int16, error) {
	v, err := r.ReadU16()
	return int16(v), err
}

func (r *Reader) ReadI32() (int32, error) {
	v, err := r.ReadU32()
	return int32(v), err
}

func (r *Reader) ReadI64() (int64, error) {
	v, err := r.ReadU64()
	return int64(v), err
}

func (r *Reader) ReadF32() (float32, error) {
	v, err := r.ReadU32()
	return math.Float32frombits(v), err
}

func (r *Reader) ReadF64() (float64, error) {
	v, err := r.ReadU64()
	return math.Float64frombits(v), err
}

// ReadBool reads a u8 that must be 0 or 1.
func (r *Reader) ReadBool() (bool, error) {
	v, err := r.ReadU8()
	if err != nil {
		return false, err
	}
	switch v {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, errors.New(errors.PhaseLift, errors.KindInvalidData).
		Value(v).
		Detail("unexpected byte for boolean: %d", v).
		Build()
}

// ReadLen reads an i32 length or count and checks it against MaxLength.
func (r *Reader) ReadLen() (int, error) {
	n, err := r.ReadI32()
	if err != nil {
		return 0, err
	}
	limit := r.MaxLength
	if limit <= 0 {
		limit = DefaultMaxLength
	}
	if n < 0 || int64(n) > int64(limit) {
		return 0, errors.OversizedLength(nil, int64(n), limit)
	}
	return int(n), nil
}

// ReadDiscriminant reads a 1-based discriminant and returns the case index.
// cases is the number of declared cases.
func (r *Reader) ReadDiscriminant(cases int) (int, error) {
	d, err := r.ReadI32()
	if err != nil {
		return 0, err
	}
	if d < 1 || int(d) > cases {
		return 0, errors.InvalidDiscriminant(nil, d, cases)
	}
	return int(d) - 1, nil
}

// ReadString reads a length-prefixed UTF-8 string.
func (r *Reader) ReadString() (string, error) {
	n, err := r.ReadLen()
	if err != nil {
		return "", err
	}
	b, err := r.take(n)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", errors.InvalidUTF8(errors.PhaseLift, nil, b)
	}
	return string(b), nil
}

// ReadBytes reads a length-prefixed byte string. The result is a copy.
func (r *Reader) ReadBytes() ([]byte, error) {
	n, err := r.ReadLen()
	if err != nil {
		return nil, err
	}
	b, err := r.take(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

// ReadRaw reads exactly n bytes without a length prefix.
func (r *Reader) ReadRaw(n int) ([]byte, error) {
	return r.take(n)
}
