package callback

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"unicode"

	"github.com/wippyai/ffi-runtime/codec"
	"github.com/wippyai/ffi-runtime/errors"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// Bind builds an interface whose methods dispatch by name to any Go value
// registered with it. A contract method "get-http-status" calls the Go method
// GetHTTPStatus. The Go method may take a context.Context first and may return
// a trailing error; other parameters and results must have the dynamic
// types the codec produces for the declared WIT types.
//
// A registered value that lacks a method reports an unimplemented error to
// native code when that method is called.
func Bind(contract *Contract) *Interface[any] {
	b := &binder{contract: contract}
	methods := make([]Method[any], len(contract.Methods))
	for i, sig := range contract.Methods {
		methods[i] = Method[any]{
			Name:   sig.Name,
			Invoke: b.invoker(sig),
		}
	}
	return NewInterface(contract.Name, methods...)
}

type binder struct {
	contract *Contract
	types    sync.Map // reflect.Type -> map[string]int
}

// methodIndex maps contract method names to Go method indexes for t.
func (b *binder) methodIndex(t reflect.Type) map[string]int {
	if idx, ok := b.types.Load(t); ok {
		return idx.(map[string]int)
	}
	idx := make(map[string]int, t.NumMethod())
	for i := 0; i < t.NumMethod(); i++ {
		idx[toKebabCase(t.Method(i).Name)] = i
	}
	actual, _ := b.types.LoadOrStore(t, idx)
	return actual.(map[string]int)
}

func (b *binder) invoker(sig Signature) func(context.Context, any, *codec.Reader, *codec.Writer) error {
	return func(ctx context.Context, impl any, args *codec.Reader, out *codec.Writer) error {
		rv := reflect.ValueOf(impl)
		if !rv.IsValid() {
			return errors.Unimplemented(b.contract.Name, sig.Name)
		}
		i, ok := b.methodIndex(rv.Type())[sig.Name]
		if !ok {
			return errors.Unimplemented(b.contract.Name, sig.Name)
		}
		fn := rv.Method(i)
		ft := fn.Type()

		in := make([]reflect.Value, 0, ft.NumIn())
		if ft.NumIn() > 0 && ft.In(0) == contextType {
			in = append(in, reflect.ValueOf(ctx))
		}
		if ft.NumIn()-len(in) != len(sig.Params) || ft.IsVariadic() {
			return errors.New(errors.PhaseCallback, errors.KindTypeMismatch).
				Path(b.contract.Name, sig.Name).
				GoType(ft.String()).
				Detail("method takes %d parameters, contract declares %d", ft.NumIn()-len(in), len(sig.Params)).
				Build()
		}

		for _, p := range sig.Params {
			v, err := codec.ReadValue(args, p.Type)
			if err != nil {
				return prefixed(err, b.contract.Name, sig.Name, p.Name)
			}
			pt := ft.In(len(in))
			if v == nil {
				in = append(in, reflect.Zero(pt))
				continue
			}
			av := reflect.ValueOf(v)
			if !av.Type().AssignableTo(pt) {
				return errors.TypeMismatch(errors.PhaseCallback,
					[]string{b.contract.Name, sig.Name, p.Name}, pt.String(), codec.TypeName(p.Type))
			}
			in = append(in, av)
		}

		outs := fn.Call(in)

		if n := len(outs); n > 0 && ft.Out(n-1) == errorType {
			if errv := outs[n-1]; !errv.IsNil() {
				return errv.Interface().(error)
			}
			outs = outs[:n-1]
		}
		if len(outs) != len(sig.Results) {
			return errors.New(errors.PhaseCallback, errors.KindTypeMismatch).
				Path(b.contract.Name, sig.Name).
				GoType(ft.String()).
				Detail("method returns %d values, contract declares %d", len(outs), len(sig.Results)).
				Build()
		}
		for i, t := range sig.Results {
			if err := codec.WriteValue(out, t, outs[i].Interface()); err != nil {
				return prefixed(err, b.contract.Name, sig.Name, fmt.Sprintf("result%d", i))
			}
		}
		return nil
	}
}

func prefixed(err error, path ...string) error {
	if e, ok := err.(*errors.Error); ok {
		return e.WithPath(path...)
	}
	return err
}

// toKebabCase converts a Go method name to a WIT identifier. Runs of
// capitals are kept together as one word: GetHTTPStatus becomes get-http-status
// and HTTPServer becomes http-server.
func toKebabCase(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s) + 4)

	for i, r := range runes {
		if unicode.IsUpper(r) {
			prevLower := i > 0 && !unicode.IsUpper(runes[i-1])
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			startsWord := i > 0 && (prevLower || (unicode.IsUpper(runes[i-1]) && nextLower))
			if startsWord {
				b.WriteByte('-')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
