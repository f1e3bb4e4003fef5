// Package future bridges poll-driven native futures to Go.
//
// A native async entry point returns a future token through the normal
// status channel. The token is then driven with two more entry points:
//
//	<op>_poll(token, waker_ptr, waker_ctx, out_ptr, status) -> bool
//	<op>_drop(token, status)
//
// Poll returns true once the result has been written to out_ptr. Until
// then native code keeps (waker_ptr, waker_ctx) and calls
//
//	waker_ptr(waker_ctx)
//
// from any thread when progress is possible. The waker only performs a
// non-blocking send on the future's wake channel; the awaiting goroutine
// wakes up and polls again. Polls for one token never overlap.
//
// Whatever way a Future ends (result, declared error, internal error,
// cancellation or Close) its token is dropped exactly once and never
// polled afterwards.
package future
