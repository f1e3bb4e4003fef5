package codec

import (
	"bytes"
	stderrors "errors"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/wippyai/ffi-runtime/errors"
)

func roundTrip[T any](t *testing.T, c Converter[T], v T) T {
	t.Helper()
	b, err := Encode(c, v)
	if err != nil {
		t.Fatalf("encode %v: %v", v, err)
	}
	got, err := Decode(c, b)
	if err != nil {
		t.Fatalf("decode %v: %v", v, err)
	}
	return got
}

func TestScalarRoundTrip(t *testing.T) {
	if got := roundTrip(t, Bool, true); !got {
		t.Error("bool: got false")
	}
	if got := roundTrip(t, Int8, int8(-7)); got != -7 {
		t.Errorf("int8: got %d", got)
	}
	if got := roundTrip(t, Int16, int16(math.MinInt16)); got != math.MinInt16 {
		t.Errorf("int16: got %d", got)
	}
	if got := roundTrip(t, Int32, int32(-123456)); got != -123456 {
		t.Errorf("int32: got %d", got)
	}
	if got := roundTrip(t, Int64, int64(math.MinInt64)); got != math.MinInt64 {
		t.Errorf("int64: got %d", got)
	}
	if got := roundTrip(t, Uint8, uint8(255)); got != 255 {
		t.Errorf("uint8: got %d", got)
	}
	if got := roundTrip(t, Uint16, uint16(65535)); got != 65535 {
		t.Errorf("uint16: got %d", got)
	}
	if got := roundTrip(t, Uint32, uint32(math.MaxUint32)); got != math.MaxUint32 {
		t.Errorf("uint32: got %d", got)
	}
	if got := roundTrip(t, Uint64, uint64(math.MaxUint64)); got != math.MaxUint64 {
		t.Errorf("uint64: got %d", got)
	}
	if got := roundTrip(t, Float32, float32(3.5)); got != 3.5 {
		t.Errorf("float32: got %v", got)
	}
	if got := roundTrip(t, Float64, -0.125); got != -0.125 {
		t.Errorf("float64: got %v", got)
	}
}

func TestScalarSlots(t *testing.T) {
	slot, _ := Int32.Lower(nil, -1)
	if slot != math.MaxUint64 {
		t.Errorf("int32(-1) slot = 0x%x, want sign extension", slot)
	}
	v, _ := Int32.Lift(nil, slot)
	if v != -1 {
		t.Errorf("int32 lift = %d", v)
	}

	slot, _ = Float64.Lower(nil, 1.5)
	if f, _ := Float64.Lift(nil, slot); f != 1.5 {
		t.Errorf("float64 lift = %v", f)
	}

	slot, _ = Float32.Lower(nil, float32(-2.25))
	if slot>>32 != 0 {
		t.Errorf("float32 slot has high bits set: 0x%x", slot)
	}
	if f, _ := Float32.Lift(nil, slot); f != -2.25 {
		t.Errorf("float32 lift = %v", f)
	}

	if _, err := Bool.Lift(nil, 2); !errors.IsDecode(err) {
		t.Errorf("bool lift of 2: expected decode error, got %v", err)
	}
}

func TestBigEndianLayout(t *testing.T) {
	b, err := Encode(Uint32, 0x01020304)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(b, []byte{1, 2, 3, 4}) {
		t.Errorf("got %x, want 01020304", b)
	}

	b, err = Encode(String, "hi")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(b, []byte{0, 0, 0, 2, 'h', 'i'}) {
		t.Errorf("got %x", b)
	}
}

func TestStringAndBytes(t *testing.T) {
	for _, s := range []string{"", "hello", "héllo wörld", "日本語", string(make([]byte, 1000))} {
		if got := roundTrip(t, String, s); got != s {
			t.Errorf("string round trip: got %q, want %q", got, s)
		}
	}
	if got := roundTrip(t, Bytes, []byte{0, 1, 0xff}); !bytes.Equal(got, []byte{0, 1, 0xff}) {
		t.Errorf("bytes: got %x", got)
	}
}

func TestTimeValues(t *testing.T) {
	ts := []time.Time{
		time.Unix(0, 0).UTC(),
		time.Unix(1700000000, 123456789).UTC(),
		time.Unix(-1, 500).UTC(),
		time.Date(1900, 1, 1, 0, 0, 0, 1, time.UTC),
	}
	for _, want := range ts {
		if got := roundTrip(t, Timestamp, want); !got.Equal(want) {
			t.Errorf("timestamp: got %v, want %v", got, want)
		}
	}

	for _, want := range []time.Duration{0, time.Nanosecond, 90 * time.Minute, 3*time.Second + 7} {
		if got := roundTrip(t, Duration, want); got != want {
			t.Errorf("duration: got %v, want %v", got, want)
		}
	}

	if _, err := Encode(Duration, -time.Second); !errors.IsEncoding(err) {
		t.Errorf("negative duration: expected encoding error, got %v", err)
	}

	w := NewWriter()
	defer w.Release()
	w.WriteI64(0)
	w.WriteU32(uint32(time.Second))
	if _, err := Decode(Timestamp, w.Bytes()); !errors.IsDecode(err) {
		t.Errorf("nanos out of range: expected decode error, got %v", err)
	}
}

type point struct {
	X, Y  int32
	Label *string
	Tags  []string
}

var pointConv = Record(
	FieldOf("x", Int32, func(p *point) *int32 { return &p.X }),
	FieldOf("y", Int32, func(p *point) *int32 { return &p.Y }),
	FieldOf("label", Optional(String), func(p *point) **string { return &p.Label }),
	FieldOf("tags", Sequence(String), func(p *point) *[]string { return &p.Tags }),
)

func TestCompoundRoundTrip(t *testing.T) {
	label := "origin"
	p := point{X: 1, Y: -2, Label: &label, Tags: []string{"a", "b"}}
	got := roundTrip(t, pointConv, p)
	if !reflect.DeepEqual(got, p) {
		t.Errorf("record: got %+v, want %+v", got, p)
	}

	p2 := point{Tags: []string{}}
	got = roundTrip(t, pointConv, p2)
	if got.Label != nil || len(got.Tags) != 0 {
		t.Errorf("record with empty fields: got %+v", got)
	}

	m := map[string][]int32{"a": {1, 2}, "b": nil, "c": {3}}
	gotMap := roundTrip(t, Map(String, Sequence(Int32)), m)
	if len(gotMap) != 3 || !reflect.DeepEqual(gotMap["a"], []int32{1, 2}) || len(gotMap["b"]) != 0 {
		t.Errorf("map: got %v", gotMap)
	}

	seq := []*point{&p, nil}
	gotSeq := roundTrip(t, Sequence(Optional(pointConv)), seq)
	if len(gotSeq) != 2 || gotSeq[1] != nil || gotSeq[0].X != 1 {
		t.Errorf("sequence of optional records: got %v", gotSeq)
	}
}

type color int32

const (
	red color = iota
	green
	blue
)

func TestEnum(t *testing.T) {
	c := Enum[color]("red", "green", "blue")
	for _, v := range []color{red, green, blue} {
		if got := roundTrip(t, c, v); got != v {
			t.Errorf("enum: got %d, want %d", got, v)
		}
	}

	b, _ := Encode(c, red)
	if !bytes.Equal(b, []byte{0, 0, 0, 1}) {
		t.Errorf("discriminant must be 1-based, got %x", b)
	}

	if _, err := Encode(c, color(3)); !errors.IsEncoding(err) {
		t.Errorf("out of range enum: expected encoding error, got %v", err)
	}

	for _, disc := range []int32{0, 4, -1} {
		w := NewWriter()
		w.WriteI32(disc)
		_, err := Decode(c, w.Bytes())
		w.Release()
		var e *errors.Error
		if !stderrors.As(err, &e) || e.Kind != errors.KindInvalidDiscriminant {
			t.Errorf("discriminant %d: expected invalid discriminant, got %v", disc, err)
		}
	}
}

type shape interface{ isShape() }

type circle struct{ R float64 }
type square struct{ Side float64 }
type empty struct{}

func (circle) isShape() {}
func (square) isShape() {}
func (empty) isShape()  {}

var shapeConv = Union(
	CaseOf[shape]("circle", Record(FieldOf("r", Float64, func(c *circle) *float64 { return &c.R }))),
	CaseOf[shape]("square", Record(FieldOf("side", Float64, func(s *square) *float64 { return &s.Side }))),
	CaseOf[shape]("empty", Unit[empty]()),
)

type notAShape struct{}

func (notAShape) isShape() {}

func TestUnion(t *testing.T) {
	for _, v := range []shape{circle{R: 2}, square{Side: 3}, empty{}} {
		if got := roundTrip(t, shapeConv, v); got != v {
			t.Errorf("union: got %#v, want %#v", got, v)
		}
	}

	b, _ := Encode(shapeConv, shape(square{Side: 1}))
	if b[3] != 2 {
		t.Errorf("square discriminant = %d, want 2", b[3])
	}

	_, err := Encode(shapeConv, shape(notAShape{}))
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Kind != errors.KindTypeMismatch || e.Phase != errors.PhaseLower {
		t.Errorf("unknown case: expected lower type mismatch, got %v", err)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		dec  func([]byte) error
		kind errors.Kind
	}{
		{"u32 underrun", []byte{1, 2}, func(b []byte) error { _, err := Decode(Uint32, b); return err }, errors.KindBufferUnderrun},
		{"string body underrun", []byte{0, 0, 0, 5, 'a'}, func(b []byte) error { _, err := Decode(String, b); return err }, errors.KindBufferUnderrun},
		{"negative length", []byte{0xff, 0xff, 0xff, 0xff}, func(b []byte) error { _, err := Decode(Bytes, b); return err }, errors.KindOversizedLength},
		{"invalid utf8", []byte{0, 0, 0, 2, 0xc3, 0x28}, func(b []byte) error { _, err := Decode(String, b); return err }, errors.KindInvalidUTF8},
		{"bad bool", []byte{2}, func(b []byte) error { _, err := Decode(Bool, b); return err }, errors.KindInvalidData},
		{"bad optional tag", []byte{7}, func(b []byte) error { _, err := Decode(Optional(Int8), b); return err }, errors.KindInvalidData},
		{"trailing data", []byte{0, 0, 0, 1, 9}, func(b []byte) error { _, err := Decode(Uint32, b); return err }, errors.KindTrailingData},
		{"sequence element underrun", []byte{0, 0, 0, 3, 0, 1}, func(b []byte) error { _, err := Decode(Sequence(Int16), b); return err }, errors.KindBufferUnderrun},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.dec(tt.data)
			var e *errors.Error
			if !stderrors.As(err, &e) {
				t.Fatalf("expected *errors.Error, got %v", err)
			}
			if e.Kind != tt.kind {
				t.Errorf("kind = %s, want %s (%v)", e.Kind, tt.kind, err)
			}
			if !errors.IsDecode(err) || !errors.IsInternal(err) {
				t.Errorf("expected internal decode error, got %v", err)
			}
		})
	}
}

func TestReaderMaxLength(t *testing.T) {
	r := NewReader([]byte{0, 0, 1, 0})
	r.MaxLength = 255
	if _, err := r.ReadLen(); !errors.IsDecode(err) {
		t.Errorf("expected oversized length error, got %v", err)
	}
}

func TestWriteInvalidUTF8(t *testing.T) {
	w := NewWriter()
	defer w.Release()
	err := w.WriteString("ok\xff")
	if !errors.IsEncoding(err) {
		t.Fatalf("expected encoding error, got %v", err)
	}
	if w.Len() != 0 {
		t.Errorf("nothing may be written on failure, got %d bytes", w.Len())
	}
}

func TestErrorPaths(t *testing.T) {
	bad := "\xff"
	p := point{Label: &bad}
	_, err := Encode(pointConv, p)
	var e *errors.Error
	if !stderrors.As(err, &e) {
		t.Fatalf("expected *errors.Error, got %v", err)
	}
	if !reflect.DeepEqual(e.Path, []string{"label", "[some]"}) {
		t.Errorf("path = %v", e.Path)
	}

	w := NewWriter()
	defer w.Release()
	_ = pointConv.Write(w, point{Tags: []string{"x"}})
	data := w.Bytes()[:len(w.Bytes())-1]
	_, err = Decode(pointConv, data)
	if !stderrors.As(err, &e) || len(e.Path) == 0 || e.Path[0] != "tags" {
		t.Errorf("expected error under tags, got %v", err)
	}
}
