// Package dl loads native libraries built as shared objects and calls them
// through purego, without cgo.
//
// The library must export an allocator pair used for every buffer that
// crosses the boundary:
//
//	ffi_alloc(size, align u64) -> ptr
//	ffi_free(ptr, size, align u64)
//
// Every argument and result travels in an integer register. Floating point
// slots arrive as IEEE-754 bit patterns, so an entry point declared with a
// float or double parameter or result in C would read the wrong register.
// Such symbols need an integer-ABI shim on the native side that takes and
// returns uint64 bits.
//
// Host functions handed to the library become C function pointers created
// with purego.NewCallback. Those can never be released, so Export caches
// them by name and a process should install each callback interface once.
package dl
