//go:build !((darwin || freebsd || linux) && (amd64 || arm64))

package dl

import (
	"context"

	"go.uber.org/zap"

	ffiruntime "github.com/wippyai/ffi-runtime"
	"github.com/wippyai/ffi-runtime/errors"
	"github.com/wippyai/ffi-runtime/native"
)

const (
	DefaultAllocSymbol = "ffi_alloc"
	DefaultFreeSymbol  = "ffi_free"
)

type Config struct {
	Logger      *zap.Logger
	Path        string
	AllocSymbol string
	FreeSymbol  string
	Flags       int
}

// Library is unavailable on this platform.
type Library struct{}

var _ native.Library = (*Library)(nil)

// Open always fails: shared libraries need a 64-bit unix target.
func Open(Config) (*Library, error) {
	return nil, errors.Load("shared libraries are not supported on this platform", nil)
}

func (*Library) Func(name string) (native.Func, error) {
	return nil, errors.NotFound(errors.PhaseLoad, "symbol", name)
}

func (*Library) Export(string, native.HostFunc) (uint64, error) {
	return 0, errors.Load("shared libraries are not supported on this platform", nil)
}

func (*Library) Close(context.Context) error { return nil }

func (*Library) Alloc(size, align uint32) (ffiruntime.Ptr, error) {
	return 0, errors.AllocationFailed(errors.PhaseLower, size, align, nil)
}

func (*Library) Free(ffiruntime.Ptr, uint32, uint32) {}

func (*Library) Read(ptr ffiruntime.Ptr, n uint32) ([]byte, error) {
	return nil, errors.OutOfBounds(errors.PhaseLift, ptr, int(n))
}

func (*Library) Write(ptr ffiruntime.Ptr, data []byte) error {
	return errors.OutOfBounds(errors.PhaseLower, ptr, len(data))
}

func (*Library) ReadU8(ptr ffiruntime.Ptr) (uint8, error) {
	return 0, errors.OutOfBounds(errors.PhaseLift, ptr, 1)
}

func (*Library) ReadU32(ptr ffiruntime.Ptr) (uint32, error) {
	return 0, errors.OutOfBounds(errors.PhaseLift, ptr, 4)
}

func (*Library) ReadU64(ptr ffiruntime.Ptr) (uint64, error) {
	return 0, errors.OutOfBounds(errors.PhaseLift, ptr, 8)
}

func (*Library) WriteU8(ptr ffiruntime.Ptr, _ uint8) error {
	return errors.OutOfBounds(errors.PhaseLower, ptr, 1)
}

func (*Library) WriteU32(ptr ffiruntime.Ptr, _ uint32) error {
	return errors.OutOfBounds(errors.PhaseLower, ptr, 4)
}

func (*Library) WriteU64(ptr ffiruntime.Ptr, _ uint64) error {
	return errors.OutOfBounds(errors.PhaseLower, ptr, 8)
}
