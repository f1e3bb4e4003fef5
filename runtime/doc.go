// Package runtime opens a session on a loaded native library.
//
// Load verifies that the library was generated for the same ABI contract as
// the bindings, then builds the pieces generated code shares: one Caller for
// the status/error channel, one Wakers table for futures and one object
// Class per exported type.
//
// Contract checks call two kinds of scaffolding symbols:
//
//	ffi_<namespace>_contract_version() -> u32
//	ffi_<namespace>_checksum_<function>() -> u16
//
// A version or checksum mismatch means the bindings and the library were
// generated from different interface definitions, and Load refuses to
// proceed.
package runtime
