// Package wasm runs native libraries compiled to wasm32 with wazero.
//
// The module must export its linear memory as "memory" and every ABI entry
// point with i64 parameters and an i64 result. Allocation goes through
// ffi_alloc(size, align) and ffi_free(ptr, size, align); modules built with
// the component toolchain may export cabi_realloc instead.
//
// Host functions are reached through one import:
//
//	(import "ffi_host" "call" (func (param i64 i64 i64 i64 i64 i64 i64) (result i64)))
//
// The first parameter is the id returned by Export, the remaining six are
// the host function's arguments.
package wasm
