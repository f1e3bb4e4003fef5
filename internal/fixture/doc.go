// Package fixture is a reference rendering of generated bindings for a small
// native "counter" library, together with an in-process simulation of that
// library. Tests drive every runtime component through it the way real
// generated code would.
package fixture
