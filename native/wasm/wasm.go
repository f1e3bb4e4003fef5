package wasm

import (
	"context"
	"math"
	"strconv"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	ffiruntime "github.com/wippyai/ffi-runtime"
	"github.com/wippyai/ffi-runtime/errors"
	"github.com/wippyai/ffi-runtime/native"
)

// Allocator exports probed in order.
const (
	AllocSymbol   = "ffi_alloc"
	FreeSymbol    = "ffi_free"
	CabiRealloc   = "cabi_realloc"
	HostModule    = "ffi_host"
	HostCallName  = "call"
	hostCallArity = 6
)

// Config holds configuration for loading a module.
type Config struct {
	Logger *zap.Logger

	// Name of the module instance. Empty instantiates anonymously.
	Name string

	// MemoryLimitPages sets the maximum memory in pages (64KB each).
	// 0 means the wazero default.
	MemoryLimitPages uint32
}

// Library is an instantiated wasm module.
type Library struct {
	logger  *zap.Logger
	runtime wazero.Runtime
	module  api.Module
	memory  api.Memory
	allocFn string
	freeFn  string
	exports map[uint64]native.HostFunc
	names   map[string]uint64
	mu      sync.RWMutex
	closed  bool
}

var _ native.Library = (*Library)(nil)

// Load compiles and instantiates wasmBytes.
func Load(ctx context.Context, wasmBytes []byte, cfg Config) (*Library, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	rt := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)

	lib := &Library{
		logger:  cfg.Logger,
		runtime: rt,
		exports: make(map[uint64]native.HostFunc),
		names:   make(map[string]uint64),
	}

	i64 := api.ValueTypeI64
	params := make([]api.ValueType, 1+hostCallArity)
	for i := range params {
		params[i] = i64
	}
	_, err := rt.NewHostModuleBuilder(HostModule).
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(lib.hostCall), params, []api.ValueType{i64}).
		Export(HostCallName).
		Instantiate(ctx)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, errors.Load("instantiate host module", err)
	}

	compiled, err := rt.CompileModule(ctx, wasmBytes)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, errors.Load("compile module", err)
	}

	mod, err := rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(cfg.Name))
	if err != nil {
		_ = rt.Close(ctx)
		return nil, errors.Load("instantiate module", err)
	}
	lib.module = mod
	lib.memory = mod.Memory()
	if lib.memory == nil {
		_ = rt.Close(ctx)
		return nil, errors.Load("module does not export memory", nil)
	}

	defs := mod.ExportedFunctionDefinitions()
	switch {
	case defs[AllocSymbol] != nil:
		lib.allocFn = AllocSymbol
		if defs[FreeSymbol] != nil {
			lib.freeFn = FreeSymbol
		}
	case defs[CabiRealloc] != nil:
		lib.allocFn = CabiRealloc
	default:
		lib.logger.Debug("module exports no allocator, buffers cannot cross the boundary")
	}
	return lib, nil
}

// hostCall dispatches ffi_host.call to an exported host function.
func (l *Library) hostCall(ctx context.Context, _ api.Module, stack []uint64) {
	l.mu.RLock()
	fn, ok := l.exports[stack[0]]
	l.mu.RUnlock()
	if !ok {
		// surfaces as a trap in the calling wasm function
		panic(errors.NotFound(errors.PhaseCallback, "host function", "#"+strconv.FormatUint(stack[0], 10)))
	}
	args := make([]uint64, hostCallArity)
	copy(args, stack[1:1+hostCallArity])
	stack[0] = fn(ctx, args)
}

// Func resolves an exported function.
func (l *Library) Func(name string) (native.Func, error) {
	l.mu.RLock()
	closed := l.closed
	l.mu.RUnlock()
	if closed {
		return nil, errors.New(errors.PhaseLoad, errors.KindClosed).Detail("module closed").Build()
	}
	if l.module.ExportedFunctionDefinitions()[name] == nil {
		return nil, errors.NotFound(errors.PhaseLoad, "symbol", name)
	}
	return native.FuncOf(func(ctx context.Context, args ...uint64) (uint64, error) {
		// A fresh function per call keeps reentrant calls from host
		// functions off the caller's stack.
		fn := l.module.ExportedFunction(name)
		if fn == nil {
			return 0, errors.New(errors.PhaseCall, errors.KindClosed).Detail("module closed").Build()
		}
		results, err := fn.Call(ctx, args...)
		if err != nil {
			return 0, err
		}
		if len(results) == 0 {
			return 0, nil
		}
		return results[0], nil
	}), nil
}

// Export registers fn and returns the id native code passes to
// ffi_host.call.
func (l *Library) Export(name string, fn native.HostFunc) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id, ok := l.names[name]; ok {
		l.exports[id] = fn
		return id, nil
	}
	id := uint64(len(l.names) + 1)
	l.names[name] = id
	l.exports[id] = fn
	return id, nil
}

// Close closes the module and its runtime.
func (l *Library) Close(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()
	return l.runtime.Close(ctx)
}

func (l *Library) Alloc(size, align uint32) (ffiruntime.Ptr, error) {
	var (
		results []uint64
		err     error
	)
	ctx := context.Background()
	switch l.allocFn {
	case AllocSymbol:
		results, err = l.module.ExportedFunction(AllocSymbol).Call(ctx, uint64(size), uint64(align))
	case CabiRealloc:
		results, err = l.module.ExportedFunction(CabiRealloc).Call(ctx, 0, 0, uint64(align), uint64(size))
	default:
		return 0, errors.AllocationFailed(errors.PhaseLower, size, align,
			errors.NotFound(errors.PhaseLoad, "allocator", AllocSymbol))
	}
	if err != nil {
		return 0, errors.AllocationFailed(errors.PhaseLower, size, align, err)
	}
	if len(results) == 0 || uint32(results[0]) == 0 {
		return 0, errors.AllocationFailed(errors.PhaseLower, size, align, nil)
	}
	return uint64(uint32(results[0])), nil
}

func (l *Library) Free(ptr ffiruntime.Ptr, size, align uint32) {
	if ptr == 0 {
		return
	}
	var err error
	ctx := context.Background()
	switch {
	case l.freeFn != "":
		_, err = l.module.ExportedFunction(l.freeFn).Call(ctx, ptr, uint64(size), uint64(align))
	case l.allocFn == CabiRealloc:
		_, err = l.module.ExportedFunction(CabiRealloc).Call(ctx, ptr, uint64(size), uint64(align), 0)
	default:
		return
	}
	if err != nil {
		l.logger.Warn("free failed",
			zap.Uint64("ptr", ptr),
			zap.Uint32("size", size),
			zap.Error(err))
	}
}

func offset(ptr ffiruntime.Ptr, n int, phase errors.Phase) (uint32, error) {
	if ptr > math.MaxUint32 {
		return 0, errors.OutOfBounds(phase, ptr, n)
	}
	return uint32(ptr), nil
}

func (l *Library) Read(ptr ffiruntime.Ptr, n uint32) ([]byte, error) {
	off, err := offset(ptr, int(n), errors.PhaseLift)
	if err != nil {
		return nil, err
	}
	data, ok := l.memory.Read(off, n)
	if !ok {
		return nil, errors.OutOfBounds(errors.PhaseLift, ptr, int(n))
	}
	out := make([]byte, n)
	copy(out, data)
	return out, nil
}

func (l *Library) Write(ptr ffiruntime.Ptr, data []byte) error {
	off, err := offset(ptr, len(data), errors.PhaseLower)
	if err != nil {
		return err
	}
	if !l.memory.Write(off, data) {
		return errors.OutOfBounds(errors.PhaseLower, ptr, len(data))
	}
	return nil
}

func (l *Library) ReadU8(ptr ffiruntime.Ptr) (uint8, error) {
	off, err := offset(ptr, 1, errors.PhaseLift)
	if err != nil {
		return 0, err
	}
	v, ok := l.memory.ReadByte(off)
	if !ok {
		return 0, errors.OutOfBounds(errors.PhaseLift, ptr, 1)
	}
	return v, nil
}

func (l *Library) ReadU32(ptr ffiruntime.Ptr) (uint32, error) {
	off, err := offset(ptr, 4, errors.PhaseLift)
	if err != nil {
		return 0, err
	}
	v, ok := l.memory.ReadUint32Le(off)
	if !ok {
		return 0, errors.OutOfBounds(errors.PhaseLift, ptr, 4)
	}
	return v, nil
}

func (l *Library) ReadU64(ptr ffiruntime.Ptr) (uint64, error) {
	off, err := offset(ptr, 8, errors.PhaseLift)
	if err != nil {
		return 0, err
	}
	v, ok := l.memory.ReadUint64Le(off)
	if !ok {
		return 0, errors.OutOfBounds(errors.PhaseLift, ptr, 8)
	}
	return v, nil
}

func (l *Library) WriteU8(ptr ffiruntime.Ptr, v uint8) error {
	off, err := offset(ptr, 1, errors.PhaseLower)
	if err != nil {
		return err
	}
	if !l.memory.WriteByte(off, v) {
		return errors.OutOfBounds(errors.PhaseLower, ptr, 1)
	}
	return nil
}

func (l *Library) WriteU32(ptr ffiruntime.Ptr, v uint32) error {
	off, err := offset(ptr, 4, errors.PhaseLower)
	if err != nil {
		return err
	}
	if !l.memory.WriteUint32Le(off, v) {
		return errors.OutOfBounds(errors.PhaseLower, ptr, 4)
	}
	return nil
}

func (l *Library) WriteU64(ptr ffiruntime.Ptr, v uint64) error {
	off, err := offset(ptr, 8, errors.PhaseLower)
	if err != nil {
		return err
	}
	if !l.memory.WriteUint64Le(off, v) {
		return errors.OutOfBounds(errors.PhaseLower, ptr, 8)
	}
	return nil
}
