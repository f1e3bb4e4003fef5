// Package codec implements the value exchange protocol between host code and
// the native library.
//
// Values cross the boundary in one of two forms:
//
//	Scalars          - lowered directly into one 64-bit ABI slot
//	Everything else  - serialized into a byte buffer owned by native memory
//	                   and passed as a pointer to a buffer descriptor
//
// # Wire Format
//
// Buffers are written front to back with big-endian fixed widths:
//
//	Type            Encoding
//	──────────────────────────────────────────────────────
//	bool            u8 (0 or 1, anything else is rejected)
//	i8..i64/u8..u64 fixed width
//	f32/f64         IEEE 754 bit pattern
//	string          i32 length + UTF-8 bytes
//	bytes           i32 length + raw bytes
//	sequence/map    i32 count + elements (map: key then value)
//	optional        u8 tag (0 absent, 1 present) + value
//	enum/union      i32 discriminant (1-based) + case fields
//	timestamp       i64 seconds + u32 nanoseconds since the Unix epoch
//	duration        u64 seconds + u32 nanoseconds
//
// Compound values are written recursively in declared field order.
//
// # Buffer Descriptors
//
// A native buffer is described by 24 bytes in native memory:
//
//	capacity u64 @0 | len u64 @8 | data ptr @16
//
// LowerBuffer allocates a buffer and its descriptor with the library's
// allocator and transfers ownership to the native callee. LiftBuffer takes
// ownership of a buffer returned by native code: it copies the bytes out and
// frees both allocations.
//
// # Converters
//
// Converter[T] pairs the four operations generated bindings need for a type:
// Lower/Lift for the slot form and Write/Read for nesting inside buffers.
// Converters compose: Sequence(Optional(String)) is a Converter[[]*string].
//
// # Dynamic Values
//
// WriteValue and ReadValue encode untyped Go values described by WIT types.
// Records decode to map[string]any, lists to []any ([]byte for list<u8>),
// variants and results to single-entry maps keyed by case name, enums to the
// case index and flags to a bitmask.
package codec
