package callback

import (
	"context"
	stderrors "errors"
	"fmt"

	"go.uber.org/zap"

	ffiruntime "github.com/wippyai/ffi-runtime"
	"github.com/wippyai/ffi-runtime/call"
	"github.com/wippyai/ffi-runtime/codec"
	"github.com/wippyai/ffi-runtime/errors"
	"github.com/wippyai/ffi-runtime/handle"
)

// Codes returned by the trampoline.
const (
	CodeSuccess    = ffiruntime.StatusSuccess
	CodeError      = ffiruntime.StatusError
	CodeUnexpected = ffiruntime.StatusUnexpected
)

// MethodFree is the reserved method index that releases a handle.
const MethodFree = 0

// ErrorWriter encodes declared errors of a callback method.
type ErrorWriter interface {
	// WriteError encodes err if it is of the declared type and reports
	// whether it did.
	WriteError(w *codec.Writer, err error) (bool, error)
}

type typedErrors[E error] struct {
	conv codec.Converter[E]
}

func (t typedErrors[E]) WriteError(w *codec.Writer, err error) (bool, error) {
	var declared E
	if !stderrors.As(err, &declared) {
		return false, nil
	}
	return true, t.conv.Write(w, declared)
}

// Errors adapts a converter for a declared error type.
func Errors[E error](conv codec.Converter[E]) ErrorWriter {
	return typedErrors[E]{conv: conv}
}

// Method is one entry of a callback interface.
type Method[T any] struct {
	// DeclaredError encodes errors the method is declared to return. Other
	// errors are reported as unexpected.
	DeclaredError ErrorWriter

	// Invoke decodes arguments from args, calls impl and encodes the result
	// into out.
	Invoke func(ctx context.Context, impl T, args *codec.Reader, out *codec.Writer) error

	Name string
}

// Interface is a callback interface and the live host values implementing it.
type Interface[T any] struct {
	impls   *handle.Map[T]
	name    string
	methods []Method[T]
}

// NewInterface creates an interface. Methods are numbered from 1 in order.
func NewInterface[T any](name string, methods ...Method[T]) *Interface[T] {
	return &Interface[T]{
		impls:   handle.NewMap[T](),
		name:    name,
		methods: methods,
	}
}

// Name returns the interface name.
func (i *Interface[T]) Name() string { return i.name }

// Methods returns the declared method names in index order, starting at 1.
func (i *Interface[T]) Methods() []string {
	names := make([]string, len(i.methods))
	for n, m := range i.methods {
		names[n] = m.Name
	}
	return names
}

// Register stores impl and returns the handle native code uses for it.
func (i *Interface[T]) Register(impl T) uint64 {
	return i.impls.Insert(impl)
}

// Lookup returns the value registered under h.
func (i *Interface[T]) Lookup(h uint64) (T, bool) {
	return i.impls.Get(h)
}

// Len returns the number of registered values.
func (i *Interface[T]) Len() int { return i.impls.Len() }

// Dispatch runs one callback and returns the status code and payload
// native code receives.
func (i *Interface[T]) Dispatch(ctx context.Context, h uint64, method uint32, args []byte) (code uint8, payload []byte) {
	if method == MethodFree {
		i.impls.Remove(h)
		return CodeSuccess, nil
	}

	impl, ok := i.impls.Get(h)
	if !ok {
		return i.unexpected(errors.New(errors.PhaseCallback, errors.KindUnknownHandle).
			Path(i.name).
			Value(h).
			Detail("no callback in handle map for handle %d", h).
			Build())
	}
	if int(method) > len(i.methods) {
		return i.unexpected(errors.New(errors.PhaseCallback, errors.KindNotFound).
			Path(i.name).
			Value(method).
			Detail("unknown method index %d", method).
			Build())
	}
	m := i.methods[method-1]

	defer func() {
		if p := recover(); p != nil {
			code, payload = i.unexpected(errors.New(errors.PhaseCallback, errors.KindPanic).
				Path(i.name, m.Name).
				Detail("%v", p).
				Build())
		}
	}()

	r := codec.NewReader(args)
	w := codec.NewWriter()
	defer w.Release()

	if err := m.Invoke(ctx, impl, r, w); err != nil {
		if m.DeclaredError != nil {
			ew := codec.NewWriter()
			defer ew.Release()
			declared, werr := m.DeclaredError.WriteError(ew, err)
			if werr != nil {
				return i.unexpected(werr)
			}
			if declared {
				return CodeError, clone(ew.Bytes())
			}
		}
		return i.unexpected(err)
	}
	if err := r.Finish(); err != nil {
		return i.unexpected(err)
	}
	return CodeSuccess, clone(w.Bytes())
}

func (i *Interface[T]) unexpected(err error) (uint8, []byte) {
	Logger().Error("callback failed",
		zap.String("interface", i.name),
		zap.Error(err))
	msg, encErr := codec.Encode(codec.String, err.Error())
	if encErr != nil {
		msg, _ = codec.Encode(codec.String, fmt.Sprintf("%q", err.Error()))
	}
	return CodeUnexpected, msg
}

func clone(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return append([]byte(nil), b...)
}

// Trampoline returns the host function native code calls for this
// interface. heap is the library memory the descriptors live in.
func (i *Interface[T]) Trampoline(heap ffiruntime.Heap) func(ctx context.Context, args []uint64) uint64 {
	return func(ctx context.Context, args []uint64) uint64 {
		if len(args) < 4 {
			code, _ := i.unexpected(errors.InvalidInput(errors.PhaseCallback, "callback trampoline needs 4 arguments"))
			return uint64(code)
		}
		h, method, argsDesc, outDesc := args[0], uint32(args[1]), args[2], args[3]

		var in []byte
		if argsDesc != 0 {
			b, err := codec.ReadBytes(heap, argsDesc)
			if err != nil {
				code, _ := i.unexpected(err)
				return uint64(code)
			}
			in = b
		}

		code, payload := i.Dispatch(ctx, h, method, in)
		if outDesc != 0 {
			if err := codec.GiveBytes(heap, outDesc, payload); err != nil {
				Logger().Error("cannot return callback result",
					zap.String("interface", i.name),
					zap.Error(err))
				return uint64(CodeUnexpected)
			}
		}
		return uint64(code)
	}
}

// Install exports the trampoline and hands it to native code through
// initSymbol, which is called as initSymbol(callback_ptr, status).
func (i *Interface[T]) Install(ctx context.Context, caller *call.Caller, initSymbol string) error {
	lib := caller.Library()
	ptr, err := lib.Export("ffi_callback_"+i.name, i.Trampoline(lib))
	if err != nil {
		return err
	}
	_, err = caller.Call(ctx, initSymbol, nil, ptr)
	return err
}

// Lower registers v and returns its handle.
func (i *Interface[T]) Lower(_ codec.Heap, v T) (uint64, error) {
	if any(v) == nil {
		return 0, errors.TypeMismatch(errors.PhaseLower, nil, "nil", i.name)
	}
	return i.Register(v), nil
}

// Lift returns the value registered under a handle received from native
// code.
func (i *Interface[T]) Lift(_ codec.Heap, h uint64) (T, error) {
	v, ok := i.impls.Get(h)
	if !ok {
		var zero T
		return zero, errors.New(errors.PhaseCallback, errors.KindUnknownHandle).
			Path(i.name).
			Value(h).
			Detail("no callback in handle map for handle %d", h).
			Build()
	}
	return v, nil
}

func (i *Interface[T]) Write(w *codec.Writer, v T) error {
	h, err := i.Lower(nil, v)
	if err != nil {
		return err
	}
	w.WriteU64(h)
	return nil
}

func (i *Interface[T]) Read(r *codec.Reader) (T, error) {
	h, err := r.ReadU64()
	if err != nil {
		var zero T
		return zero, err
	}
	return i.Lift(nil, h)
}

var _ codec.Converter[any] = (*Interface[any])(nil)
