// Package call implements the status and error channel of native calls.
//
// Every native entry point takes a pointer to a status cell as its last
// argument:
//
//	code u8 @0 (padded to 8) | error buffer descriptor @8
//
// The code selects how the call completed:
//
//	CodeSuccess     the return value is valid
//	CodeError       the buffer holds a declared error, decoded by the call
//	                site's ErrorConverter into a host error value
//	CodeUnexpected  the native side panicked or broke the contract; the
//	                buffer holds a string message if one could be produced
//
// Declared errors are returned as-is and are meant to be matched with
// errors.As. Everything else is an internal *errors.Error: it is logged at
// error level and returned unmodified.
package call
