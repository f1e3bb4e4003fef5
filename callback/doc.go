// Package callback lets native code call methods on host values.
//
// An Interface describes one capability contract: a name and an ordered
// method table. Host values implementing it are registered in a handle map
// and passed to native code as integer handles. Native code calls back
// through a single trampoline per interface:
//
//	callback(handle, method, args_desc, out_desc) -> code
//
// Method index 0 releases the handle. Index i > 0 invokes the i-th declared
// method with its arguments decoded from args_desc; the result, or the
// error payload, is written to out_desc. Codes:
//
//	0  success, out holds the encoded result
//	1  declared error, out holds the encoded error
//	2  unexpected failure, out holds a string message
//
// Panics in host code, unknown handles and methods the host value does not
// implement all report code 2. They never turn into a silent no-op.
//
// Contracts can also be described with WIT function signatures and bound
// to any Go value by method name with Reflect.
package callback
