// Package errors provides structured error types for the ffi runtime.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error
// category). The Error type carries the field path, the Go and wire type
// names, and a cause chain.
//
// Phases also sort errors into the taxonomy generated bindings rely on:
//
//   - PhaseLower errors (type mismatch, invalid UTF-8, overflow) are raised
//     locally while lowering host values, before any native call happens.
//   - Lift, call, poll, handle and callback errors are internal: contract
//     violations between the bindings and the native library. They are never
//     part of a declared error type. Use IsInternal to detect them.
//   - Declared errors are not represented here at all. They are host error
//     values produced by the call site's error converter.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseLower, errors.KindTypeMismatch).
//		Path("point", "x").
//		GoType("string").
//		WireType("i32").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.TypeMismatch(errors.PhaseLower, path, "string", "i32")
//	err := errors.Underrun(path, 8, 3)
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
