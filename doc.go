// Package ffiruntime is the Go host runtime for bindings generated against a
// natively compiled library that exports a stable C-style ABI.
//
// Generated wrapper code never talks to the native library directly. It
// lowers arguments through the codec, invokes entry points through the
// status/error channel, and lifts results back into Go values, scalar
// values, owned objects or awaitable futures.
//
// # Architecture Overview
//
//	ffiruntime/          Root package with Ptr, Memory, Allocator and Heap
//	├── codec/           Buffer codec and the per-type Converter contract
//	├── call/            Status/error channel around every native call
//	├── object/          Owned native object handles and their teardown
//	├── handle/          Live-handle tables and host object handle maps
//	├── future/          Poll-driven native futures as Go awaitables
//	├── callback/        Host implementations of native callback interfaces
//	├── native/          Library abstraction and its backends (dl, wasm, nativetest)
//	├── runtime/         Library session: version checks, shared caller and wakers
//	└── errors/          Structured error types
//
// # Quick Start
//
//	lib, err := dl.Open(dl.Config{Path: "libcounter.so"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	rt, err := runtime.Load(ctx, lib, runtime.Config{Namespace: "counter"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	raw, err := rt.Caller().Call(ctx, "counter_fn_add", nil, 1, 2)
//
// # ABI Conventions
//
// Every argument and return slot is a 64-bit integer. Floats travel as their
// IEEE-754 bit patterns, booleans as 0 or 1, pointers and handles as
// addresses. Every entry point takes a trailing pointer to a status cell.
// Compound values travel in buffers laid out by the codec and referenced by
// a buffer descriptor.
//
// # Thread Safety
//
// Runtime, Caller and Wakers are safe for concurrent use. A single object
// handle is driven by one goroutine at a time unless the native library
// documents otherwise.
package ffiruntime
