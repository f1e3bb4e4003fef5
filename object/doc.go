// Package object manages native objects exposed to host code as owned
// wrappers.
//
// A Class describes one exported native type: its name, the symbol that
// frees an instance and the caller used to reach it. A Ref is the host's
// ownership of one live native pointer. Generated wrappers embed a *Ref and
// follow three rules:
//
//   - Constructors go through Class.New, which attaches a handle only after
//     the native constructor returned one. A failed constructor leaves
//     nothing behind to free.
//   - Methods lower self through Ref.Borrow and release the borrow when the
//     native call returns.
//   - Close frees the native object at most once. Closing while a borrow is
//     outstanding defers the free to the last release.
//
// Track attaches a cleanup so that an unreachable wrapper still frees its
// native object exactly once.
package object
