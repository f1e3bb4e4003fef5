package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseLower    Phase = "lower"    // Go to native
	PhaseLift     Phase = "lift"     // native to Go
	PhaseCall     Phase = "call"     // status/error channel
	PhasePoll     Phase = "poll"     // async bridge
	PhaseHandle   Phase = "handle"   // object handle lifecycle
	PhaseCallback Phase = "callback" // native to host calls
	PhaseLoad     Phase = "load"     // library loading and contract checks
)

// Kind categorizes the error
type Kind string

const (
	KindTypeMismatch        Kind = "type_mismatch"
	KindInvalidUTF8         Kind = "invalid_utf8"
	KindOverflow            Kind = "overflow"
	KindBufferUnderrun      Kind = "buffer_underrun"
	KindOversizedLength     Kind = "oversized_length"
	KindTrailingData        Kind = "trailing_data"
	KindInvalidData         Kind = "invalid_data"
	KindInvalidDiscriminant Kind = "invalid_discriminant"
	KindAllocation          Kind = "allocation"
	KindOutOfBounds         Kind = "out_of_bounds"
	KindNullHandle          Kind = "null_handle"
	KindDuplicateHandle     Kind = "duplicate_handle"
	KindUseAfterFree        Kind = "use_after_free"
	KindUnknownHandle       Kind = "unknown_handle"
	KindPanic               Kind = "panic"
	KindUnexpectedStatus    Kind = "unexpected_status"
	KindTrap                Kind = "trap"
	KindUnimplemented       Kind = "unimplemented"
	KindNotFound            Kind = "not_found"
	KindIncompatible        Kind = "incompatible"
	KindInvalidInput        Kind = "invalid_input"
	KindClosed              Kind = "closed"
)

// Error is the structured error type used throughout the runtime
type Error struct {
	Value    any
	Cause    error
	Phase    Phase
	Kind     Kind
	GoType   string
	WireType string
	Detail   string
	Path     []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.GoType != "" || e.WireType != "" {
		b.WriteString(": ")
		if e.GoType != "" && e.WireType != "" {
			b.WriteString("Go type ")
			b.WriteString(e.GoType)
			b.WriteString(", wire type ")
			b.WriteString(e.WireType)
		} else if e.GoType != "" {
			b.WriteString("Go type ")
			b.WriteString(e.GoType)
		} else {
			b.WriteString("wire type ")
			b.WriteString(e.WireType)
		}
	}

	if e.Detail != "" {
		if e.GoType != "" || e.WireType != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Internal reports whether the error is a contract violation between the
// bindings and the native library.
func (e *Error) Internal() bool {
	switch e.Phase {
	case PhaseLift, PhaseCall, PhasePoll, PhaseHandle, PhaseCallback:
		return true
	}
	return false
}

// WithPath returns a copy of e with prefix prepended to its path.
func (e *Error) WithPath(prefix ...string) *Error {
	cp := *e
	cp.Path = append(append(make([]string, 0, len(prefix)+len(e.Path)), prefix...), e.Path...)
	return &cp
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the field path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// GoType sets the Go type name
func (b *Builder) GoType(t string) *Builder {
	b.err.GoType = t
	return b
}

// WireType sets the wire type name
func (b *Builder) WireType(t string) *Builder {
	b.err.WireType = t
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Classification helpers

// IsInternal reports whether err carries an internal (contract violation)
// error anywhere in its chain.
func IsInternal(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Internal()
}

// IsDecode reports whether err is a decode failure: underrun, oversized
// length, trailing data, malformed data or a bad discriminant.
func IsDecode(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Kind {
	case KindBufferUnderrun, KindOversizedLength, KindTrailingData, KindInvalidDiscriminant, KindInvalidData:
		return true
	case KindInvalidUTF8:
		return e.Phase == PhaseLift
	}
	return false
}

// IsEncoding reports whether err was raised while lowering a host value.
func IsEncoding(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Phase == PhaseLower
}

// Convenience constructors for common error patterns

// TypeMismatch creates a type mismatch error
func TypeMismatch(phase Phase, path []string, goType, wireType string) *Error {
	return &Error{
		Phase:    phase,
		Kind:     KindTypeMismatch,
		Path:     path,
		GoType:   goType,
		WireType: wireType,
	}
}

// InvalidUTF8 creates an invalid UTF-8 error
func InvalidUTF8(phase Phase, path []string, data []byte) *Error {
	preview := data
	if len(preview) > 32 {
		preview = preview[:32]
	}
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidUTF8,
		Path:   path,
		Detail: fmt.Sprintf("invalid UTF-8 sequence: %x", preview),
	}
}

// Underrun creates a buffer underrun error
func Underrun(path []string, need, remaining int) *Error {
	return &Error{
		Phase:  PhaseLift,
		Kind:   KindBufferUnderrun,
		Path:   path,
		Detail: fmt.Sprintf("not enough bytes remaining in buffer (%d < %d)", remaining, need),
		Value:  need,
	}
}

// OversizedLength creates an error for a declared length the buffer cannot hold
func OversizedLength(path []string, length int64, limit int) *Error {
	return &Error{
		Phase:  PhaseLift,
		Kind:   KindOversizedLength,
		Path:   path,
		Detail: fmt.Sprintf("declared length %d exceeds limit %d", length, limit),
		Value:  length,
	}
}

// TrailingData creates an error for bytes left after a top-level lift
func TrailingData(remaining int) *Error {
	return &Error{
		Phase:  PhaseLift,
		Kind:   KindTrailingData,
		Detail: fmt.Sprintf("junk data left in buffer after lifting (%d bytes)", remaining),
		Value:  remaining,
	}
}

// AllocationFailed creates an allocation failure error
func AllocationFailed(phase Phase, size, align uint32, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("failed to allocate %d bytes (align %d)", size, align),
		Cause:  cause,
	}
}

// InvalidDiscriminant creates an invalid discriminant error for enums and unions
func InvalidDiscriminant(path []string, disc int32, maxValid int) *Error {
	return &Error{
		Phase:  PhaseLift,
		Kind:   KindInvalidDiscriminant,
		Path:   path,
		Detail: fmt.Sprintf("discriminant %d out of range (1..%d)", disc, maxValid),
		Value:  disc,
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, path []string, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Path:   path,
		Detail: detail,
	}
}

// Overflow creates an overflow error
func Overflow(phase Phase, path []string, value any, targetType string) *Error {
	return &Error{
		Phase:    phase,
		Kind:     KindOverflow,
		Path:     path,
		WireType: targetType,
		Detail:   fmt.Sprintf("value %v overflows %s", value, targetType),
		Value:    value,
	}
}

// OutOfBounds creates a native memory access error
func OutOfBounds(phase Phase, ptr uint64, length int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Detail: fmt.Sprintf("access of %d bytes at 0x%x out of bounds", length, ptr),
		Value:  ptr,
	}
}

// NullHandle creates an error for a null native pointer where a live one was required
func NullHandle(phase Phase, typeName string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNullHandle,
		GoType: typeName,
		Detail: "raw pointer value was null",
	}
}

// UseAfterFree creates an error for a call through an already released handle
func UseAfterFree(typeName string) *Error {
	return &Error{
		Phase:  PhaseHandle,
		Kind:   KindUseAfterFree,
		GoType: typeName,
		Detail: "object handle already freed",
	}
}

// Panic creates an error for a native panic reported through the status cell
func Panic(symbol, message string) *Error {
	return &Error{
		Phase:  PhaseCall,
		Kind:   KindPanic,
		Path:   []string{symbol},
		Detail: message,
	}
}

// Trap creates an error for a native entry point that failed to return normally
func Trap(phase Phase, symbol string, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTrap,
		Path:   []string{symbol},
		Detail: "native call did not return",
		Cause:  cause,
	}
}

// Unimplemented creates an error for a capability method the host value lacks
func Unimplemented(iface, method string) *Error {
	return &Error{
		Phase:  PhaseCallback,
		Kind:   KindUnimplemented,
		Path:   []string{iface, method},
		Detail: fmt.Sprintf("unimplemented capability %s.%s", iface, method),
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// Load creates a library loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidData,
		Detail: detail,
		Cause:  cause,
	}
}

// Incompatible creates a contract mismatch error found while loading
func Incompatible(what string, want, got any) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindIncompatible,
		Detail: fmt.Sprintf("%s mismatch: bindings expect %v, library reports %v", what, want, got),
		Value:  got,
	}
}
