package object

import (
	"github.com/wippyai/ffi-runtime/codec"
	"github.com/wippyai/ffi-runtime/errors"
)

// Converter moves wrappers of one class across the boundary as raw
// pointers. Lifting adopts the pointer into a new wrapper; lowering passes
// the pointer of a live wrapper, which the caller keeps alive for the call.
type Converter[T any] struct {
	Class  *Class
	Wrap   func(*Ref) T
	Unwrap func(T) *Ref
}

var _ codec.Converter[any] = Converter[any]{}

func (c Converter[T]) Lower(_ codec.Heap, v T) (uint64, error) {
	return c.pointer(v)
}

func (c Converter[T]) Lift(_ codec.Heap, slot uint64) (T, error) {
	return c.adopt(slot)
}

func (c Converter[T]) Write(w *codec.Writer, v T) error {
	p, err := c.pointer(v)
	if err != nil {
		return err
	}
	w.WriteU64(p)
	return nil
}

func (c Converter[T]) Read(r *codec.Reader) (T, error) {
	p, err := r.ReadU64()
	if err != nil {
		var zero T
		return zero, err
	}
	return c.adopt(p)
}

func (c Converter[T]) pointer(v T) (uint64, error) {
	ref := c.Unwrap(v)
	if ref == nil {
		return 0, errors.TypeMismatch(errors.PhaseLower, nil, "nil", c.Class.name)
	}
	if ref.class != c.Class {
		return 0, errors.TypeMismatch(errors.PhaseLower, nil, ref.class.name, c.Class.name)
	}
	h := ref.Handle()
	if h == 0 {
		return 0, errors.UseAfterFree(c.Class.name)
	}
	return h, nil
}

func (c Converter[T]) adopt(p uint64) (T, error) {
	var zero T
	if p == 0 {
		return zero, errors.NullHandle(errors.PhaseLift, c.Class.name)
	}
	ref, err := c.Class.FromHandle(p)
	if err != nil {
		return zero, err
	}
	return c.Wrap(ref), nil
}
