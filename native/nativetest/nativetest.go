// Package nativetest provides an in-process simulated native library.
//
// Symbols are Go functions registered with Define. Memory is a fixed arena
// with a bump allocator that never reuses addresses, so double frees and
// leaks are always detectable through Faults and Live.
package nativetest

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	ffiruntime "github.com/wippyai/ffi-runtime"
	"github.com/wippyai/ffi-runtime/codec"
	"github.com/wippyai/ffi-runtime/errors"
	"github.com/wippyai/ffi-runtime/native"
)

// Symbol is the Go body of a simulated native entry point.
type Symbol func(ctx context.Context, args []uint64) (uint64, error)

// Config configures a simulated library.
type Config struct {
	// MemorySize is the arena size in bytes. Default 4 MiB.
	MemorySize int
}

// Library is a simulated native library.
type Library struct {
	mem        []byte
	live       map[ffiruntime.Ptr]block
	funcs      map[string]Symbol
	calls      map[string]int
	exports    map[uint64]native.HostFunc
	exportIDs  map[string]uint64
	faults     []string
	next       uint64
	nextExport uint64
	failAllocs int
	mu         sync.Mutex
	closed     bool
}

type block struct {
	size  uint32
	align uint32
}

const exportBase = 0x7f00_0000

var _ native.Library = (*Library)(nil)

// New creates a simulated library with the default configuration.
func New() *Library {
	return NewWithConfig(Config{})
}

// NewWithConfig creates a simulated library.
func NewWithConfig(cfg Config) *Library {
	size := cfg.MemorySize
	if size <= 0 {
		size = 4 << 20
	}
	return &Library{
		mem:       make([]byte, size),
		live:      make(map[ffiruntime.Ptr]block),
		funcs:     make(map[string]Symbol),
		calls:     make(map[string]int),
		exports:   make(map[uint64]native.HostFunc),
		exportIDs: make(map[string]uint64),
		next:      64, // keep low addresses unmapped so 0 is never valid
	}
}

// Define registers a native symbol.
func (l *Library) Define(name string, fn Symbol) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.funcs[name] = fn
}

// Calls returns how many times name has been invoked.
func (l *Library) Calls(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[name]
}

// Func resolves a defined symbol.
func (l *Library) Func(name string) (native.Func, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.funcs[name]; !ok {
		return nil, errors.NotFound(errors.PhaseLoad, "symbol", name)
	}
	return native.FuncOf(func(ctx context.Context, args ...uint64) (uint64, error) {
		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			return 0, errors.New(errors.PhaseCall, errors.KindClosed).Detail("library closed").Build()
		}
		fn := l.funcs[name]
		l.calls[name]++
		l.mu.Unlock()
		return fn(ctx, args)
	}), nil
}

// Export registers a host function and returns its id.
func (l *Library) Export(name string, fn native.HostFunc) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id, ok := l.exportIDs[name]; ok {
		l.exports[id] = fn
		return id, nil
	}
	l.nextExport++
	id := exportBase + l.nextExport
	l.exports[id] = fn
	l.exportIDs[name] = id
	return id, nil
}

// Invoke calls an exported host function the way native code would.
// It is safe to call from any goroutine.
func (l *Library) Invoke(ctx context.Context, fnPtr uint64, args ...uint64) (uint64, error) {
	l.mu.Lock()
	fn, ok := l.exports[fnPtr]
	l.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("no host function at 0x%x", fnPtr)
	}
	return fn(ctx, args), nil
}

// Close marks the library closed. Later calls fail.
func (l *Library) Close(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

// FailAllocations makes the next n allocations fail.
func (l *Library) FailAllocations(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failAllocs = n
}

// Alloc allocates from the arena.
func (l *Library) Alloc(size, align uint32) (ffiruntime.Ptr, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.failAllocs > 0 {
		l.failAllocs--
		return 0, fmt.Errorf("simulated allocation failure")
	}
	if align == 0 {
		align = 1
	}
	p := (l.next + uint64(align) - 1) &^ (uint64(align) - 1)
	end := p + uint64(size)
	if size == 0 {
		end++
	}
	if end > uint64(len(l.mem)) {
		return 0, fmt.Errorf("arena exhausted: %d bytes requested", size)
	}
	l.next = end
	l.live[p] = block{size: size, align: align}
	return p, nil
}

// Free releases an allocation. Unknown pointers and mismatched sizes are
// recorded as faults.
func (l *Library) Free(ptr ffiruntime.Ptr, size, align uint32) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.live[ptr]
	if !ok {
		l.faults = append(l.faults, fmt.Sprintf("free of unallocated pointer 0x%x", ptr))
		return
	}
	if b.size != size {
		l.faults = append(l.faults, fmt.Sprintf("free of 0x%x with size %d, allocated %d", ptr, size, b.size))
	}
	delete(l.live, ptr)
}

// Live returns the number of outstanding allocations.
func (l *Library) Live() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.live)
}

// LivePointers returns outstanding allocations in address order.
func (l *Library) LivePointers() []ffiruntime.Ptr {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ffiruntime.Ptr, 0, len(l.live))
	for p := range l.live {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsLive reports whether ptr is an outstanding allocation.
func (l *Library) IsLive(ptr ffiruntime.Ptr) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.live[ptr]
	return ok
}

// Faults returns recorded memory misuse.
func (l *Library) Faults() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.faults...)
}

func (l *Library) bounds(ptr ffiruntime.Ptr, n uint32) error {
	if ptr == 0 || ptr+uint64(n) > uint64(len(l.mem)) {
		return errors.OutOfBounds(errors.PhaseCall, ptr, int(n))
	}
	return nil
}

// Read copies n bytes at ptr.
func (l *Library) Read(ptr ffiruntime.Ptr, n uint32) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.bounds(ptr, n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, l.mem[ptr:])
	return out, nil
}

func (l *Library) Write(ptr ffiruntime.Ptr, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.bounds(ptr, uint32(len(data))); err != nil {
		return err
	}
	copy(l.mem[ptr:], data)
	return nil
}

func (l *Library) ReadU8(ptr ffiruntime.Ptr) (uint8, error) {
	b, err := l.Read(ptr, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (l *Library) ReadU32(ptr ffiruntime.Ptr) (uint32, error) {
	b, err := l.Read(ptr, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (l *Library) ReadU64(ptr ffiruntime.Ptr) (uint64, error) {
	b, err := l.Read(ptr, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (l *Library) WriteU8(ptr ffiruntime.Ptr, v uint8) error {
	return l.Write(ptr, []byte{v})
}

func (l *Library) WriteU32(ptr ffiruntime.Ptr, v uint32) error {
	return l.Write(ptr, binary.LittleEndian.AppendUint32(nil, v))
}

func (l *Library) WriteU64(ptr ffiruntime.Ptr, v uint64) error {
	return l.Write(ptr, binary.LittleEndian.AppendUint64(nil, v))
}

// Native-side helpers. Simulated symbols use these to follow the same
// conventions a compiled library would.

// Status returns the trailing status cell pointer of an entry point call.
func Status(args []uint64) ffiruntime.Ptr {
	if len(args) == 0 {
		return 0
	}
	return args[len(args)-1]
}

// Fail reports a declared error with an encoded payload.
func (l *Library) Fail(status ffiruntime.Ptr, payload []byte) error {
	if err := l.WriteU8(status, ffiruntime.StatusError); err != nil {
		return err
	}
	return codec.GiveBytes(l, status+8, payload)
}

// Panic reports an unexpected failure carrying msg.
func (l *Library) Panic(status ffiruntime.Ptr, msg string) error {
	payload, err := codec.Encode(codec.String, msg)
	if err != nil {
		return err
	}
	if err := l.WriteU8(status, ffiruntime.StatusUnexpected); err != nil {
		return err
	}
	return codec.GiveBytes(l, status+8, payload)
}

// Take consumes a host-lowered buffer argument.
func (l *Library) Take(desc uint64) ([]byte, error) {
	return codec.LiftBuffer(l, desc)
}

// Give returns data to the host as a freshly allocated buffer.
func (l *Library) Give(data []byte) (uint64, error) {
	return codec.LowerBuffer(l, data)
}

// TakeString consumes a host-lowered string argument.
func (l *Library) TakeString(desc uint64) (string, error) {
	return codec.LiftFrom(l, codec.String, desc)
}

// GiveString returns s to the host as a string buffer.
func (l *Library) GiveString(s string) (uint64, error) {
	return codec.LowerInto(l, codec.String, s)
}
