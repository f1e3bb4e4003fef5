package call

import (
	"strconv"

	ffiruntime "github.com/wippyai/ffi-runtime"
	"github.com/wippyai/ffi-runtime/codec"
	"github.com/wippyai/ffi-runtime/errors"
)

// Code is the completion code stored in a status cell.
type Code uint8

const (
	CodeSuccess    = Code(ffiruntime.StatusSuccess)
	CodeError      = Code(ffiruntime.StatusError)
	CodeUnexpected = Code(ffiruntime.StatusUnexpected)
)

func (c Code) String() string {
	switch c {
	case CodeSuccess:
		return "success"
	case CodeError:
		return "error"
	case CodeUnexpected:
		return "unexpected"
	}
	return "code(" + strconv.Itoa(int(c)) + ")"
}

// Status is the decoded content of a status cell.
type Status struct {
	Payload []byte
	Code    Code
}

// ErrorConverter turns a declared error payload into a host error value.
type ErrorConverter interface {
	ReadError(r *codec.Reader) (error, error)
}

// ErrorConverterFunc adapts a function to ErrorConverter.
type ErrorConverterFunc func(r *codec.Reader) (error, error)

func (f ErrorConverterFunc) ReadError(r *codec.Reader) (error, error) { return f(r) }

type typedErrors[E error] struct {
	conv codec.Converter[E]
}

func (t typedErrors[E]) ReadError(r *codec.Reader) (error, error) {
	e, err := t.conv.Read(r)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Errors adapts a converter for a declared error type.
func Errors[E error](conv codec.Converter[E]) ErrorConverter {
	return typedErrors[E]{conv: conv}
}

// newStatus allocates a zeroed status cell.
func newStatus(heap codec.Heap) (ffiruntime.Ptr, error) {
	p, err := heap.Alloc(ffiruntime.StatusCellSize, 8)
	if err != nil {
		return 0, errors.AllocationFailed(errors.PhaseCall, ffiruntime.StatusCellSize, 8, err)
	}
	if err := heap.Write(p, make([]byte, ffiruntime.StatusCellSize)); err != nil {
		heap.Free(p, ffiruntime.StatusCellSize, 8)
		return 0, err
	}
	return p, nil
}

// takeStatus reads a status cell, takes ownership of its error buffer and
// frees the cell.
func takeStatus(heap codec.Heap, p ffiruntime.Ptr) (Status, error) {
	defer heap.Free(p, ffiruntime.StatusCellSize, 8)

	code, err := heap.ReadU8(p)
	if err != nil {
		return Status{}, err
	}
	st := Status{Code: Code(code)}
	payload, err := codec.TakeBytes(heap, p+8)
	if err != nil {
		return st, err
	}
	st.Payload = payload
	return st, nil
}

// Err converts a non-success status into an error. Declared errors are
// decoded with conv; everything else becomes an internal error.
func (s Status) Err(symbol string, conv ErrorConverter) error {
	switch s.Code {
	case CodeSuccess:
		return nil
	case CodeError:
		if conv == nil {
			return errors.New(errors.PhaseCall, errors.KindUnexpectedStatus).
				Path(symbol).
				Detail("declared error returned by a call site without an error type").
				Build()
		}
		r := codec.NewReader(s.Payload)
		declared, err := conv.ReadError(r)
		if err != nil {
			return err
		}
		if err := r.Finish(); err != nil {
			return err
		}
		if declared == nil {
			return errors.InvalidData(errors.PhaseLift, []string{symbol}, "error converter produced no error")
		}
		return declared
	case CodeUnexpected:
		msg, err := codec.Decode(codec.String, s.Payload)
		if err != nil || msg == "" {
			msg = "native panic without a message"
		}
		return errors.Panic(symbol, msg)
	}
	return errors.New(errors.PhaseCall, errors.KindUnexpectedStatus).
		Path(symbol).
		Value(uint8(s.Code)).
		Detail("unknown status code %d", uint8(s.Code)).
		Build()
}
