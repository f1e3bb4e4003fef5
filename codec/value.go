package codec

import (
	"fmt"
	"strconv"
	"unicode/utf8"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/ffi-runtime/errors"
)

// Value returns a buffer-backed converter for untyped values described by t.
func Value(t wit.Type) Converter[any] {
	return buffered[any]{
		read:  func(r *Reader) (any, error) { return ReadValue(r, t) },
		write: func(w *Writer, v any) error { return WriteValue(w, t, v) },
	}
}

// WriteValue encodes v as wire type t. Go types must match exactly.
func WriteValue(w *Writer, t wit.Type, v any) error {
	return writeValue(w, t, v, nil)
}

// ReadValue decodes one value of wire type t.
func ReadValue(r *Reader, t wit.Type) (any, error) {
	return readValue(r, t, nil)
}

// TypeName returns a short name for t used in error messages.
func TypeName(t wit.Type) string {
	switch t := t.(type) {
	case nil:
		return "_"
	case wit.Bool:
		return "bool"
	case wit.U8:
		return "u8"
	case wit.U16:
		return "u16"
	case wit.U32:
		return "u32"
	case wit.U64:
		return "u64"
	case wit.S8:
		return "s8"
	case wit.S16:
		return "s16"
	case wit.S32:
		return "s32"
	case wit.S64:
		return "s64"
	case wit.F32:
		return "f32"
	case wit.F64:
		return "f64"
	case wit.Char:
		return "char"
	case wit.String:
		return "string"
	case *wit.TypeDef:
		switch k := t.Kind.(type) {
		case *wit.Record:
			return "record"
		case *wit.List:
			return "list<" + TypeName(k.Type) + ">"
		case *wit.Option:
			return "option<" + TypeName(k.Type) + ">"
		case *wit.Result:
			return "result<" + TypeName(k.OK) + ", " + TypeName(k.Err) + ">"
		case *wit.Tuple:
			return "tuple"
		case *wit.Enum:
			return "enum"
		case *wit.Variant:
			return "variant"
		case *wit.Flags:
			return "flags"
		case *wit.Own:
			return "own"
		case *wit.Borrow:
			return "borrow"
		case wit.Type:
			return TypeName(k)
		}
	}
	return fmt.Sprintf("%T", t)
}

func child(path []string, seg string) []string {
	return append(append(make([]string, 0, len(path)+1), path...), seg)
}

func mismatch(path []string, v any, t wit.Type) error {
	return errors.TypeMismatch(errors.PhaseLower, path, fmt.Sprintf("%T", v), TypeName(t))
}

func writeValue(w *Writer, t wit.Type, v any, path []string) error {
	switch t := t.(type) {
	case wit.Bool:
		b, ok := v.(bool)
		if !ok {
			return mismatch(path, v, t)
		}
		w.WriteBool(b)
	case wit.U8:
		x, ok := v.(uint8)
		if !ok {
			return mismatch(path, v, t)
		}
		w.WriteU8(x)
	case wit.U16:
		x, ok := v.(uint16)
		if !ok {
			return mismatch(path, v, t)
		}
		w.WriteU16(x)
	case wit.U32:
		x, ok := v.(uint32)
		if !ok {
			return mismatch(path, v, t)
		}
		w.WriteU32(x)
	case wit.U64:
		x, ok := v.(uint64)
		if !ok {
			return mismatch(path, v, t)
		}
		w.WriteU64(x)
	case wit.S8:
		x, ok := v.(int8)
		if !ok {
			return mismatch(path, v, t)
		}
		w.WriteI8(x)
	case wit.S16:
		x, ok := v.(int16)
		if !ok {
			return mismatch(path, v, t)
		}
		w.WriteI16(x)
	case wit.S32:
		x, ok := v.(int32)
		if !ok {
			return mismatch(path, v, t)
		}
		w.WriteI32(x)
	case wit.S64:
		x, ok := v.(int64)
		if !ok {
			return mismatch(path, v, t)
		}
		w.WriteI64(x)
	case wit.F32:
		x, ok := v.(float32)
		if !ok {
			return mismatch(path, v, t)
		}
		w.WriteF32(x)
	case wit.F64:
		x, ok := v.(float64)
		if !ok {
			return mismatch(path, v, t)
		}
		w.WriteF64(x)
	case wit.Char:
		x, ok := v.(rune)
		if !ok {
			return mismatch(path, v, t)
		}
		if !utf8.ValidRune(x) {
			return errors.New(errors.PhaseLower, errors.KindInvalidUTF8).
				Path(path...).
				Value(x).
				Detail("invalid unicode scalar value 0x%x", x).
				Build()
		}
		w.WriteU32(uint32(x))
	case wit.String:
		s, ok := v.(string)
		if !ok {
			return mismatch(path, v, t)
		}
		if err := w.WriteString(s); err != nil {
			return withPath(err, path)
		}
	case *wit.TypeDef:
		return writeTypeDef(w, t, v, path)
	default:
		return errors.New(errors.PhaseLower, errors.KindTypeMismatch).
			Path(path...).
			Detail("unsupported wire type %s", TypeName(t)).
			Build()
	}
	return nil
}

func withPath(err error, path []string) error {
	if e, ok := err.(*errors.Error); ok && len(e.Path) == 0 && len(path) > 0 {
		return e.WithPath(path...)
	}
	return err
}

func writeTypeDef(w *Writer, td *wit.TypeDef, v any, path []string) error {
	switch k := td.Kind.(type) {
	case *wit.Record:
		m, ok := v.(map[string]any)
		if !ok {
			return mismatch(path, v, td)
		}
		for _, f := range k.Fields {
			fv, present := m[f.Name]
			if !present {
				return errors.InvalidData(errors.PhaseLower, child(path, f.Name), "missing record field")
			}
			if err := writeValue(w, f.Type, fv, child(path, f.Name)); err != nil {
				return err
			}
		}
	case *wit.List:
		if _, isU8 := k.Type.(wit.U8); isU8 {
			b, ok := v.([]byte)
			if !ok {
				return mismatch(path, v, td)
			}
			return withPath(w.WriteBytes(b), path)
		}
		items, ok := v.([]any)
		if !ok {
			return mismatch(path, v, td)
		}
		if err := w.WriteLen(len(items)); err != nil {
			return err
		}
		for i, item := range items {
			if err := writeValue(w, k.Type, item, child(path, "["+strconv.Itoa(i)+"]")); err != nil {
				return err
			}
		}
	case *wit.Option:
		if v == nil {
			w.WriteU8(0)
			return nil
		}
		w.WriteU8(1)
		return writeValue(w, k.Type, v, child(path, "[some]"))
	case *wit.Tuple:
		items, ok := v.([]any)
		if !ok || len(items) != len(k.Types) {
			return mismatch(path, v, td)
		}
		for i, et := range k.Types {
			if err := writeValue(w, et, items[i], child(path, "["+strconv.Itoa(i)+"]")); err != nil {
				return err
			}
		}
	case *wit.Enum:
		idx, ok := enumIndex(k, v)
		if !ok {
			return mismatch(path, v, td)
		}
		return w.WriteDiscriminant(idx)
	case *wit.Flags:
		bits, ok := v.(uint64)
		if !ok {
			return mismatch(path, v, td)
		}
		if n := len(k.Flags); n < 64 && bits>>n != 0 {
			return errors.InvalidData(errors.PhaseLower, path, fmt.Sprintf("flags 0x%x set bits beyond %d declared flags", bits, n))
		}
		w.WriteU64(bits)
	case *wit.Variant:
		name, payload, ok := single(v)
		if !ok {
			return mismatch(path, v, td)
		}
		for i, c := range k.Cases {
			if c.Name != name {
				continue
			}
			if err := w.WriteDiscriminant(i); err != nil {
				return err
			}
			if c.Type == nil {
				return nil
			}
			return writeValue(w, c.Type, payload, child(path, name))
		}
		return errors.InvalidData(errors.PhaseLower, path, "unknown variant case "+strconv.Quote(name))
	case *wit.Result:
		name, payload, ok := single(v)
		if !ok {
			return mismatch(path, v, td)
		}
		var (
			idx int
			pt  wit.Type
		)
		switch name {
		case "ok":
			idx, pt = 0, k.OK
		case "err":
			idx, pt = 1, k.Err
		default:
			return errors.InvalidData(errors.PhaseLower, path, "result must have an ok or err key")
		}
		if err := w.WriteDiscriminant(idx); err != nil {
			return err
		}
		if pt == nil {
			return nil
		}
		return writeValue(w, pt, payload, child(path, name))
	case *wit.Own, *wit.Borrow:
		h, ok := v.(uint64)
		if !ok {
			return mismatch(path, v, td)
		}
		w.WriteU64(h)
	case wit.Type:
		return writeValue(w, k, v, path)
	default:
		return errors.New(errors.PhaseLower, errors.KindTypeMismatch).
			Path(path...).
			Detail("unsupported type kind %T", td.Kind).
			Build()
	}
	return nil
}

func enumIndex(e *wit.Enum, v any) (int, bool) {
	var idx int
	switch x := v.(type) {
	case uint32:
		idx = int(x)
	case int:
		idx = x
	case string:
		for i, c := range e.Cases {
			if c.Name == x {
				return i, true
			}
		}
		return 0, false
	default:
		return 0, false
	}
	return idx, idx >= 0 && idx < len(e.Cases)
}

func single(v any) (string, any, bool) {
	m, ok := v.(map[string]any)
	if !ok || len(m) != 1 {
		return "", nil, false
	}
	for k, val := range m {
		return k, val, true
	}
	return "", nil, false
}

func readValue(r *Reader, t wit.Type, path []string) (any, error) {
	v, err := readValueInner(r, t, path)
	if err != nil {
		return nil, withPath(err, path)
	}
	return v, nil
}

func readValueInner(r *Reader, t wit.Type, path []string) (any, error) {
	switch t := t.(type) {
	case wit.Bool:
		return r.ReadBool()
	case wit.U8:
		return r.ReadU8()
	case wit.U16:
		return r.ReadU16()
	case wit.U32:
		return r.ReadU32()
	case wit.U64:
		return r.ReadU64()
	case wit.S8:
		return r.ReadI8()
	case wit.S16:
		return r.ReadI16()
	case wit.S32:
		return r.ReadI32()
	case wit.S64:
		return r.ReadI64()
	case wit.F32:
		return r.ReadF32()
	case wit.F64:
		return r.ReadF64()
	case wit.Char:
		c, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		if !utf8.ValidRune(rune(c)) || c > utf8.MaxRune {
			return nil, errors.New(errors.PhaseLift, errors.KindInvalidUTF8).
				Value(c).
				Detail("invalid unicode scalar value 0x%x", c).
				Build()
		}
		return rune(c), nil
	case wit.String:
		return r.ReadString()
	case *wit.TypeDef:
		return readTypeDef(r, t, path)
	}
	return nil, errors.New(errors.PhaseLift, errors.KindTypeMismatch).
		Detail("unsupported wire type %s", TypeName(t)).
		Build()
}

func readTypeDef(r *Reader, td *wit.TypeDef, path []string) (any, error) {
	switch k := td.Kind.(type) {
	case *wit.Record:
		m := make(map[string]any, len(k.Fields))
		for _, f := range k.Fields {
			v, err := readValue(r, f.Type, child(path, f.Name))
			if err != nil {
				return nil, err
			}
			m[f.Name] = v
		}
		return m, nil
	case *wit.List:
		if _, isU8 := k.Type.(wit.U8); isU8 {
			return r.ReadBytes()
		}
		n, err := r.ReadLen()
		if err != nil {
			return nil, err
		}
		items := make([]any, 0, min(n, r.Remaining()))
		for i := 0; i < n; i++ {
			v, err := readValue(r, k.Type, child(path, "["+strconv.Itoa(i)+"]"))
			if err != nil {
				return nil, err
			}
			items = append(items, v)
		}
		return items, nil
	case *wit.Option:
		tag, err := r.ReadU8()
		if err != nil {
			return nil, err
		}
		switch tag {
		case 0:
			return nil, nil
		case 1:
			return readValue(r, k.Type, child(path, "[some]"))
		}
		return nil, errors.New(errors.PhaseLift, errors.KindInvalidData).
			Value(tag).
			Detail("unexpected byte for optional tag: %d", tag).
			Build()
	case *wit.Tuple:
		items := make([]any, len(k.Types))
		for i, et := range k.Types {
			v, err := readValue(r, et, child(path, "["+strconv.Itoa(i)+"]"))
			if err != nil {
				return nil, err
			}
			items[i] = v
		}
		return items, nil
	case *wit.Enum:
		idx, err := r.ReadDiscriminant(len(k.Cases))
		if err != nil {
			return nil, err
		}
		return uint32(idx), nil
	case *wit.Flags:
		bits, err := r.ReadU64()
		if err != nil {
			return nil, err
		}
		if n := len(k.Flags); n < 64 && bits>>n != 0 {
			return nil, errors.InvalidData(errors.PhaseLift, nil, fmt.Sprintf("flags 0x%x set bits beyond %d declared flags", bits, n))
		}
		return bits, nil
	case *wit.Variant:
		idx, err := r.ReadDiscriminant(len(k.Cases))
		if err != nil {
			return nil, err
		}
		c := k.Cases[idx]
		if c.Type == nil {
			return map[string]any{c.Name: nil}, nil
		}
		v, err := readValue(r, c.Type, child(path, c.Name))
		if err != nil {
			return nil, err
		}
		return map[string]any{c.Name: v}, nil
	case *wit.Result:
		idx, err := r.ReadDiscriminant(2)
		if err != nil {
			return nil, err
		}
		name, pt := "ok", k.OK
		if idx == 1 {
			name, pt = "err", k.Err
		}
		if pt == nil {
			return map[string]any{name: nil}, nil
		}
		v, err := readValue(r, pt, child(path, name))
		if err != nil {
			return nil, err
		}
		return map[string]any{name: v}, nil
	case *wit.Own, *wit.Borrow:
		return r.ReadU64()
	case wit.Type:
		return readValue(r, k, path)
	}
	return nil, errors.New(errors.PhaseLift, errors.KindTypeMismatch).
		Detail("unsupported type kind %T", td.Kind).
		Build()
}
