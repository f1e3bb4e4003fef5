package fixture

import (
	"fmt"
	"time"

	"github.com/wippyai/ffi-runtime/codec"
)

// Namespace of the counter library's scaffolding symbols.
const Namespace = "counter"

// Checksums the bindings were generated with.
var Checksums = map[string]uint16{
	"counter_new":            0x1c2e,
	"counter_new_with_label": 0x77a1,
	"counter_add":            0x0b13,
	"counter_value":          0x5e02,
	"counter_snapshot":       0x31f9,
	"counter_fork":           0x6d40,
	"counter_merge":          0x2a88,
	"counter_watch":          0x4c17,
	"counter_wait_for":       0x1905,
}

// CounterErrorKind enumerates declared counter failures.
type CounterErrorKind uint8

const (
	NegativeStart CounterErrorKind = iota
	Overflow
	Rejected
)

var counterErrorKinds = []string{"negative-start", "overflow", "rejected"}

func (k CounterErrorKind) String() string {
	if int(k) < len(counterErrorKinds) {
		return counterErrorKinds[k]
	}
	return fmt.Sprintf("CounterErrorKind(%d)", k)
}

// CounterError is the declared error of counter operations.
type CounterError struct {
	Message string
	Kind    CounterErrorKind
}

func (e CounterError) Error() string {
	return fmt.Sprintf("counter %s: %s", e.Kind, e.Message)
}

// CounterErrorConverter encodes CounterError.
var CounterErrorConverter = codec.Record(
	codec.FieldOf("kind", codec.Enum[CounterErrorKind](counterErrorKinds...),
		func(e *CounterError) *CounterErrorKind { return &e.Kind }),
	codec.FieldOf("message", codec.String,
		func(e *CounterError) *string { return &e.Message }),
)

// Snapshot is a point-in-time copy of a counter.
type Snapshot struct {
	Updated time.Time
	Label   *string
	Tags    []string
	Value   int64
}

// SnapshotConverter encodes Snapshot.
var SnapshotConverter = codec.Record(
	codec.FieldOf("value", codec.Int64, func(s *Snapshot) *int64 { return &s.Value }),
	codec.FieldOf("label", codec.Optional(codec.String), func(s *Snapshot) **string { return &s.Label }),
	codec.FieldOf("tags", codec.Sequence(codec.String), func(s *Snapshot) *[]string { return &s.Tags }),
	codec.FieldOf("updated", codec.Timestamp, func(s *Snapshot) *time.Time { return &s.Updated }),
)
