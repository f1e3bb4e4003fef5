// Package handle tracks handles that cross the native boundary.
//
// Table records native object pointers owned by host wrappers. Each pointer
// is owned by at most one wrapper, carries a borrow count so that an object
// is never freed while a call is using it, and reports lifecycle events to
// observers:
//
//	Insert  → EventCreated
//	Borrow  → EventBorrowed
//	Return  → EventReturned
//	Remove  → EventFreed (immediately, or when the last borrow returns)
//
// Map is the opposite direction: host values handed to native code as
// integer handles. Handles come from a monotonic counter, zero is never
// issued and a removed handle is never issued again.
package handle
