// Package native defines the boundary every backend implements: a loaded
// library exposing symbols, its heap, and a way to hand host functions to
// native code.
//
// Every ABI slot is a 64-bit integer. Floats travel as their IEEE bit
// patterns, booleans as 0 or 1 and pointers as addresses in the library's
// memory. Backends:
//
//	native/dl          shared libraries loaded with purego (no cgo)
//	native/wasm        wasm32 builds run by wazero
//	native/nativetest  simulated library for tests
package native

import (
	"context"

	ffiruntime "github.com/wippyai/ffi-runtime"
)

// Func is a resolved native entry point.
type Func interface {
	// Call invokes the entry point. An error means the native side did not
	// return normally (trap, crash or a closed library).
	Call(ctx context.Context, args ...uint64) (uint64, error)
}

// HostFunc is host code made callable from native code.
type HostFunc func(ctx context.Context, args []uint64) uint64

// Library is a loaded native library.
type Library interface {
	ffiruntime.Heap

	// Func resolves an exported symbol.
	Func(name string) (Func, error)

	// Export makes fn callable from native code and returns the value native
	// code uses to reach it: a C function pointer for shared libraries, a
	// slot id for wasm.
	Export(name string, fn HostFunc) (uint64, error)

	// Close releases the library. Funcs must not be used afterwards.
	Close(ctx context.Context) error
}

// FuncOf adapts a Go function to Func.
type FuncOf func(ctx context.Context, args ...uint64) (uint64, error)

func (f FuncOf) Call(ctx context.Context, args ...uint64) (uint64, error) {
	return f(ctx, args...)
}
