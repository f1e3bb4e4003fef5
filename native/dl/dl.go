//go:build (darwin || freebsd || linux) && (amd64 || arm64)

package dl

import (
	"context"
	"encoding/binary"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
	"go.uber.org/zap"

	ffiruntime "github.com/wippyai/ffi-runtime"
	"github.com/wippyai/ffi-runtime/errors"
	"github.com/wippyai/ffi-runtime/native"
)

// Default allocator symbols.
const (
	DefaultAllocSymbol = "ffi_alloc"
	DefaultFreeSymbol  = "ffi_free"
)

// maxArgs is the widest native signature supported, status cell included.
const maxArgs = 15

// Config configures how a library is opened.
type Config struct {
	Logger      *zap.Logger
	Path        string
	AllocSymbol string
	FreeSymbol  string
	// Flags passed to dlopen. Default RTLD_NOW|RTLD_GLOBAL.
	Flags int
}

// Library is a shared library opened with dlopen.
type Library struct {
	logger  *zap.Logger
	syms    map[string]uintptr
	exports map[string]uint64
	path    string
	handle  uintptr
	alloc   uintptr
	free    uintptr
	mu      sync.Mutex
	closed  bool
}

var _ native.Library = (*Library)(nil)

// Open loads the library at cfg.Path and resolves its allocator.
func Open(cfg Config) (*Library, error) {
	if cfg.Path == "" {
		return nil, errors.InvalidInput(errors.PhaseLoad, "library path is required")
	}
	if cfg.AllocSymbol == "" {
		cfg.AllocSymbol = DefaultAllocSymbol
	}
	if cfg.FreeSymbol == "" {
		cfg.FreeSymbol = DefaultFreeSymbol
	}
	if cfg.Flags == 0 {
		cfg.Flags = purego.RTLD_NOW | purego.RTLD_GLOBAL
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	h, err := purego.Dlopen(cfg.Path, cfg.Flags)
	if err != nil {
		return nil, errors.Load("dlopen "+cfg.Path, err)
	}

	lib := &Library{
		logger:  cfg.Logger,
		syms:    make(map[string]uintptr),
		exports: make(map[string]uint64),
		path:    cfg.Path,
		handle:  h,
	}
	if lib.alloc, err = lib.symbol(cfg.AllocSymbol); err != nil {
		_ = purego.Dlclose(h)
		return nil, err
	}
	if lib.free, err = lib.symbol(cfg.FreeSymbol); err != nil {
		_ = purego.Dlclose(h)
		return nil, err
	}

	lib.logger.Debug("library opened", zap.String("path", cfg.Path))
	return lib, nil
}

func (l *Library) symbol(name string) (uintptr, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return 0, errors.New(errors.PhaseLoad, errors.KindClosed).Detail("library %s closed", l.path).Build()
	}
	if p, ok := l.syms[name]; ok {
		return p, nil
	}
	p, err := purego.Dlsym(l.handle, name)
	if err != nil || p == 0 {
		return 0, errors.NotFound(errors.PhaseLoad, "symbol", name)
	}
	l.syms[name] = p
	return p, nil
}

// Func resolves an exported C function taking and returning 64-bit words.
func (l *Library) Func(name string) (native.Func, error) {
	p, err := l.symbol(name)
	if err != nil {
		return nil, err
	}
	return native.FuncOf(func(_ context.Context, args ...uint64) (uint64, error) {
		if len(args) > maxArgs {
			return 0, errors.InvalidInput(errors.PhaseCall, "too many arguments for "+name)
		}
		var buf [maxArgs]uintptr
		for i, a := range args {
			buf[i] = uintptr(a)
		}
		// integer registers only; float slots are bit patterns
		r1, _, _ := purego.SyscallN(p, buf[:len(args)]...)
		return uint64(r1), nil
	}), nil
}

// Export turns fn into a C function pointer. Native code may call it with up
// to six word arguments.
func (l *Library) Export(name string, fn native.HostFunc) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if p, ok := l.exports[name]; ok {
		l.logger.Warn("host function exported twice, keeping the first",
			zap.String("name", name))
		return p, nil
	}
	p := purego.NewCallback(func(a0, a1, a2, a3, a4, a5 uintptr) uintptr {
		args := []uint64{uint64(a0), uint64(a1), uint64(a2), uint64(a3), uint64(a4), uint64(a5)}
		return uintptr(fn(context.Background(), args))
	})
	l.exports[name] = uint64(p)
	return uint64(p), nil
}

// Close unloads the library.
func (l *Library) Close(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if err := purego.Dlclose(l.handle); err != nil {
		return errors.Wrap(errors.PhaseLoad, errors.KindClosed, err, "dlclose "+l.path)
	}
	return nil
}

func (l *Library) Alloc(size, align uint32) (ffiruntime.Ptr, error) {
	r1, _, _ := purego.SyscallN(l.alloc, uintptr(size), uintptr(align))
	if r1 == 0 {
		return 0, errors.AllocationFailed(errors.PhaseLower, size, align, nil)
	}
	return uint64(r1), nil
}

func (l *Library) Free(ptr ffiruntime.Ptr, size, align uint32) {
	if ptr == 0 {
		return
	}
	purego.SyscallN(l.free, uintptr(ptr), uintptr(size), uintptr(align))
}

// bytes views native memory. The caller must not retain the slice.
func bytes(ptr ffiruntime.Ptr, n uint32) ([]byte, error) {
	if ptr == 0 {
		return nil, errors.OutOfBounds(errors.PhaseLift, ptr, int(n))
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(ptr))), n), nil
}

func (l *Library) Read(ptr ffiruntime.Ptr, n uint32) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	b, err := bytes(ptr, n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

func (l *Library) Write(ptr ffiruntime.Ptr, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	b, err := bytes(ptr, uint32(len(data)))
	if err != nil {
		return err
	}
	copy(b, data)
	return nil
}

func (l *Library) ReadU8(ptr ffiruntime.Ptr) (uint8, error) {
	b, err := bytes(ptr, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (l *Library) ReadU32(ptr ffiruntime.Ptr) (uint32, error) {
	b, err := bytes(ptr, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (l *Library) ReadU64(ptr ffiruntime.Ptr) (uint64, error) {
	b, err := bytes(ptr, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (l *Library) WriteU8(ptr ffiruntime.Ptr, v uint8) error {
	b, err := bytes(ptr, 1)
	if err != nil {
		return err
	}
	b[0] = v
	return nil
}

func (l *Library) WriteU32(ptr ffiruntime.Ptr, v uint32) error {
	b, err := bytes(ptr, 4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b, v)
	return nil
}

func (l *Library) WriteU64(ptr ffiruntime.Ptr, v uint64) error {
	b, err := bytes(ptr, 8)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(b, v)
	return nil
}
