package codec

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/wippyai/ffi-runtime/errors"
)

func invalidBoolSlot(slot uint64) error {
	return errors.New(errors.PhaseLift, errors.KindInvalidData).
		WireType("bool").
		Value(slot).
		Detail("unexpected slot value for boolean: %d", slot).
		Build()
}

// at prefixes the path of a structured error with seg.
func at(err error, seg string) error {
	if e, ok := err.(*errors.Error); ok {
		return e.WithPath(seg)
	}
	return err
}

var (
	// String is the converter for UTF-8 strings.
	String Converter[string] = buffered[string]{
		read:  (*Reader).ReadString,
		write: (*Writer).WriteString,
	}

	// Bytes is the converter for opaque byte strings.
	Bytes Converter[[]byte] = buffered[[]byte]{
		read:  (*Reader).ReadBytes,
		write: (*Writer).WriteBytes,
	}

	// Timestamp is the converter for points in time.
	Timestamp Converter[time.Time] = buffered[time.Time]{
		read:  readTimestamp,
		write: writeTimestamp,
	}

	// Duration is the converter for non-negative durations.
	Duration Converter[time.Duration] = buffered[time.Duration]{
		read:  readDuration,
		write: writeDuration,
	}
)

func writeTimestamp(w *Writer, t time.Time) error {
	w.WriteI64(t.Unix())
	w.WriteU32(uint32(t.Nanosecond()))
	return nil
}

func readTimestamp(r *Reader) (time.Time, error) {
	sec, err := r.ReadI64()
	if err != nil {
		return time.Time{}, err
	}
	nsec, err := r.ReadU32()
	if err != nil {
		return time.Time{}, err
	}
	if nsec >= uint32(time.Second) {
		return time.Time{}, errors.InvalidData(errors.PhaseLift, nil, "timestamp nanoseconds out of range: "+strconv.FormatUint(uint64(nsec), 10))
	}
	return time.Unix(sec, int64(nsec)).UTC(), nil
}

func writeDuration(w *Writer, d time.Duration) error {
	if d < 0 {
		return errors.Overflow(errors.PhaseLower, nil, d, "duration")
	}
	w.WriteU64(uint64(d / time.Second))
	w.WriteU32(uint32(d % time.Second))
	return nil
}

func readDuration(r *Reader) (time.Duration, error) {
	sec, err := r.ReadU64()
	if err != nil {
		return 0, err
	}
	nsec, err := r.ReadU32()
	if err != nil {
		return 0, err
	}
	if nsec >= uint32(time.Second) {
		return 0, errors.InvalidData(errors.PhaseLift, nil, "duration nanoseconds out of range: "+strconv.FormatUint(uint64(nsec), 10))
	}
	if sec > uint64(math.MaxInt64/int64(time.Second))-1 {
		return 0, errors.Overflow(errors.PhaseLift, nil, sec, "time.Duration")
	}
	return time.Duration(sec)*time.Second + time.Duration(nsec), nil
}

// Optional returns a converter for values that may be absent. Nil is absent.
func Optional[T any](inner Converter[T]) Converter[*T] {
	return buffered[*T]{
		read: func(r *Reader) (*T, error) {
			tag, err := r.ReadU8()
			if err != nil {
				return nil, err
			}
			switch tag {
			case 0:
				return nil, nil
			case 1:
				v, err := inner.Read(r)
				if err != nil {
					return nil, at(err, "[some]")
				}
				return &v, nil
			}
			return nil, errors.New(errors.PhaseLift, errors.KindInvalidData).
				Value(tag).
				Detail("unexpected byte for optional tag: %d", tag).
				Build()
		},
		write: func(w *Writer, v *T) error {
			if v == nil {
				w.WriteU8(0)
				return nil
			}
			w.WriteU8(1)
			return at(inner.Write(w, *v), "[some]")
		},
	}
}

// Sequence returns a converter for ordered sequences.
func Sequence[T any](elem Converter[T]) Converter[[]T] {
	return buffered[[]T]{
		read: func(r *Reader) ([]T, error) {
			n, err := r.ReadLen()
			if err != nil {
				return nil, err
			}
			out := make([]T, 0, min(n, r.Remaining()))
			for i := 0; i < n; i++ {
				v, err := elem.Read(r)
				if err != nil {
					return nil, at(err, "["+strconv.Itoa(i)+"]")
				}
				out = append(out, v)
			}
			return out, nil
		},
		write: func(w *Writer, vs []T) error {
			if err := w.WriteLen(len(vs)); err != nil {
				return err
			}
			for i, v := range vs {
				if err := elem.Write(w, v); err != nil {
					return at(err, "["+strconv.Itoa(i)+"]")
				}
			}
			return nil
		},
	}
}

// Map returns a converter for maps. Entry order on the wire is unspecified.
func Map[K comparable, V any](key Converter[K], val Converter[V]) Converter[map[K]V] {
	return buffered[map[K]V]{
		read: func(r *Reader) (map[K]V, error) {
			n, err := r.ReadLen()
			if err != nil {
				return nil, err
			}
			out := make(map[K]V, min(n, r.Remaining()))
			for i := 0; i < n; i++ {
				k, err := key.Read(r)
				if err != nil {
					return nil, at(err, "[key "+strconv.Itoa(i)+"]")
				}
				v, err := val.Read(r)
				if err != nil {
					return nil, at(err, fmt.Sprintf("[%v]", k))
				}
				out[k] = v
			}
			return out, nil
		},
		write: func(w *Writer, m map[K]V) error {
			if err := w.WriteLen(len(m)); err != nil {
				return err
			}
			for k, v := range m {
				if err := key.Write(w, k); err != nil {
					return at(err, fmt.Sprintf("[key %v]", k))
				}
				if err := val.Write(w, v); err != nil {
					return at(err, fmt.Sprintf("[%v]", k))
				}
			}
			return nil
		},
	}
}

// Field is one field of a record, encoded in declaration order.
type Field[T any] struct {
	Name  string
	Read  func(r *Reader, rec *T) error
	Write func(w *Writer, rec *T) error
}

// FieldOf builds a record field from a converter and a field accessor.
func FieldOf[T, F any](name string, c Converter[F], get func(*T) *F) Field[T] {
	return Field[T]{
		Name: name,
		Read: func(r *Reader, rec *T) error {
			v, err := c.Read(r)
			if err != nil {
				return err
			}
			*get(rec) = v
			return nil
		},
		Write: func(w *Writer, rec *T) error {
			return c.Write(w, *get(rec))
		},
	}
}

// Record returns a converter for a struct encoded as its fields in order.
func Record[T any](fields ...Field[T]) Converter[T] {
	return buffered[T]{
		read: func(r *Reader) (T, error) {
			var rec T
			for _, f := range fields {
				if err := f.Read(r, &rec); err != nil {
					var zero T
					return zero, at(err, f.Name)
				}
			}
			return rec, nil
		},
		write: func(w *Writer, rec T) error {
			for _, f := range fields {
				if err := f.Write(w, &rec); err != nil {
					return at(err, f.Name)
				}
			}
			return nil
		},
	}
}

// Integer is the set of types usable as enum values.
type Integer interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 | ~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

// Enum returns a converter for a fieldless enumeration whose Go values are
// 0..len(names)-1. On the wire the discriminant is the value plus one.
func Enum[T Integer](names ...string) Converter[T] {
	return buffered[T]{
		read: func(r *Reader) (T, error) {
			idx, err := r.ReadDiscriminant(len(names))
			if err != nil {
				return 0, err
			}
			return T(idx), nil
		},
		write: func(w *Writer, v T) error {
			if v < 0 || uint64(v) >= uint64(len(names)) {
				return errors.New(errors.PhaseLower, errors.KindInvalidDiscriminant).
					GoType(fmt.Sprintf("%T", v)).
					Value(v).
					Detail("enum value %d out of range (0..%d)", v, len(names)-1).
					Build()
			}
			return w.WriteDiscriminant(int(v))
		},
	}
}

// Case is one case of a union.
type Case[T any] struct {
	Name  string
	Match func(v T) bool
	Read  func(r *Reader) (T, error)
	Write func(w *Writer, v T) error
}

// CaseOf builds a union case for values of concrete type C, which must
// implement T.
func CaseOf[T, C any](name string, c Converter[C]) Case[T] {
	return Case[T]{
		Name: name,
		Match: func(v T) bool {
			_, ok := any(v).(C)
			return ok
		},
		Read: func(r *Reader) (T, error) {
			var zero T
			v, err := c.Read(r)
			if err != nil {
				return zero, err
			}
			out, ok := any(v).(T)
			if !ok {
				return zero, errors.TypeMismatch(errors.PhaseLift, nil, fmt.Sprintf("%T", v), name)
			}
			return out, nil
		},
		Write: func(w *Writer, v T) error {
			return c.Write(w, any(v).(C))
		},
	}
}

// Union returns a converter for a tagged union. Values are matched against
// cases in order; the first match wins.
func Union[T any](cases ...Case[T]) Converter[T] {
	return buffered[T]{
		read: func(r *Reader) (T, error) {
			idx, err := r.ReadDiscriminant(len(cases))
			if err != nil {
				var zero T
				return zero, err
			}
			v, err := cases[idx].Read(r)
			if err != nil {
				return v, at(err, cases[idx].Name)
			}
			return v, nil
		},
		write: func(w *Writer, v T) error {
			for i, c := range cases {
				if !c.Match(v) {
					continue
				}
				if err := w.WriteDiscriminant(i); err != nil {
					return err
				}
				return at(c.Write(w, v), c.Name)
			}
			return errors.TypeMismatch(errors.PhaseLower, nil, fmt.Sprintf("%T", v), "union")
		},
	}
}

// Unit returns a converter for a case or record with no fields.
func Unit[T any]() Converter[T] {
	return Record[T]()
}
