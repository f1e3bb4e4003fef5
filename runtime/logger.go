package runtime

import (
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/ffi-runtime/call"
	"github.com/wippyai/ffi-runtime/callback"
	"github.com/wippyai/ffi-runtime/future"
	"github.com/wippyai/ffi-runtime/object"
)

var (
	logger     *zap.Logger
	loggerOnce sync.Once
)

// Logger returns the runtime package's logger instance.
// It uses a no-op logger by default.
func Logger() *zap.Logger {
	loggerOnce.Do(func() {
		if logger == nil {
			logger = zap.NewNop()
		}
	})
	return logger
}

// SetLogger configures the logger of every runtime package.
// This must be called before any library is loaded.
func SetLogger(l *zap.Logger) {
	logger = l
	call.SetLogger(l.Named("call"))
	object.SetLogger(l.Named("object"))
	future.SetLogger(l.Named("future"))
	callback.SetLogger(l.Named("callback"))
}
