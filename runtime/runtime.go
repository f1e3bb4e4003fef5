package runtime

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	ffiruntime "github.com/wippyai/ffi-runtime"
	"github.com/wippyai/ffi-runtime/call"
	"github.com/wippyai/ffi-runtime/errors"
	"github.com/wippyai/ffi-runtime/future"
	"github.com/wippyai/ffi-runtime/native"
	"github.com/wippyai/ffi-runtime/object"
)

// Config holds configuration for a library session.
type Config struct {
	// Logger is installed in every runtime package. Nil keeps the
	// current loggers.
	Logger *zap.Logger

	// Executor runs future polls and drops. Nil polls on the awaiting
	// goroutine.
	Executor future.Executor

	// Checksums maps function names to the checksum the bindings were
	// generated with.
	Checksums map[string]uint16

	// Namespace prefixes the scaffolding symbols.
	Namespace string

	// ContractVersion overrides the expected contract version.
	// 0 means ffiruntime.ContractVersion.
	ContractVersion uint32

	// SkipChecks disables the version and checksum checks.
	SkipChecks bool
}

// Runtime is a session on one native library.
type Runtime struct {
	lib       native.Library
	caller    *call.Caller
	wakers    *future.Wakers
	classes   map[string]*object.Class
	logger    *zap.Logger
	namespace string
	mu        sync.Mutex
	closed    bool
}

// Load checks lib against the bindings and opens a session on it.
func Load(ctx context.Context, lib native.Library, cfg Config) (*Runtime, error) {
	if lib == nil {
		return nil, errors.InvalidInput(errors.PhaseLoad, "library is nil")
	}
	if cfg.Logger != nil {
		SetLogger(cfg.Logger)
	}
	if cfg.ContractVersion == 0 {
		cfg.ContractVersion = ffiruntime.ContractVersion
	}

	r := &Runtime{
		lib:       lib,
		caller:    call.NewCaller(lib),
		wakers:    future.NewWakers(lib),
		classes:   make(map[string]*object.Class),
		logger:    Logger(),
		namespace: cfg.Namespace,
	}
	if cfg.Executor != nil {
		r.wakers.SetExecutor(cfg.Executor)
	}

	if !cfg.SkipChecks {
		if err := r.check(ctx, cfg); err != nil {
			r.logger.Error("library rejected",
				zap.String("namespace", cfg.Namespace),
				zap.Error(err))
			return nil, err
		}
	}

	r.logger.Debug("library loaded",
		zap.String("namespace", cfg.Namespace),
		zap.Int("checksums", len(cfg.Checksums)))
	return r, nil
}

func (r *Runtime) check(ctx context.Context, cfg Config) error {
	if cfg.Namespace == "" {
		return errors.InvalidInput(errors.PhaseLoad, "namespace is required for contract checks")
	}

	got, err := r.caller.CallRaw(ctx, r.VersionSymbol())
	if err != nil {
		return errors.Load("read contract version", err)
	}
	if uint32(got) != cfg.ContractVersion {
		return errors.Incompatible("contract version", cfg.ContractVersion, uint32(got))
	}

	names := make([]string, 0, len(cfg.Checksums))
	for name := range cfg.Checksums {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		sum, err := r.caller.CallRaw(ctx, r.ChecksumSymbol(name))
		if err != nil {
			return errors.Load("read checksum of "+name, err)
		}
		if want := cfg.Checksums[name]; uint16(sum) != want {
			return errors.Incompatible("checksum of "+name, want, uint16(sum))
		}
	}
	return nil
}

// VersionSymbol returns the scaffolding symbol reporting the contract
// version.
func (r *Runtime) VersionSymbol() string {
	return "ffi_" + r.namespace + "_contract_version"
}

// ChecksumSymbol returns the scaffolding symbol reporting the checksum of
// function fn.
func (r *Runtime) ChecksumSymbol(fn string) string {
	return "ffi_" + r.namespace + "_checksum_" + fn
}

// Namespace returns the session namespace.
func (r *Runtime) Namespace() string { return r.namespace }

// Library returns the underlying library.
func (r *Runtime) Library() native.Library { return r.lib }

// Caller returns the shared status/error channel.
func (r *Runtime) Caller() *call.Caller { return r.caller }

// Wakers returns the shared waker table for futures.
func (r *Runtime) Wakers() *future.Wakers { return r.wakers }

// Class returns the object class for type name, creating it on first use.
// freeSymbol is only used on creation.
func (r *Runtime) Class(name, freeSymbol string) *object.Class {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.classes[name]; ok {
		return c
	}
	c := object.NewClass(r.caller, name, freeSymbol, nil)
	r.classes[name] = c
	return c
}

// Live returns the number of live objects across all classes.
func (r *Runtime) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.classes {
		n += c.Live()
	}
	return n
}

// Close closes the library. Pending futures are dropped and their waiters
// fail with a closed error. Objects still alive are leaked to native code
// and reported in the log.
func (r *Runtime) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	for name, c := range r.classes {
		if n := c.Live(); n > 0 {
			r.logger.Warn("closing library with live objects",
				zap.String("class", name),
				zap.Int("live", n))
		}
	}
	r.mu.Unlock()

	if n := r.wakers.Close(ctx); n > 0 {
		r.logger.Warn("closed library with pending futures", zap.Int("abandoned", n))
	}
	return r.lib.Close(ctx)
}
