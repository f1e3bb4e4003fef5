// Command ffiprobe opens a native library and reports whether it speaks the
// contract a set of bindings expects.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	ffiruntime "github.com/wippyai/ffi-runtime"
	"github.com/wippyai/ffi-runtime/native"
	"github.com/wippyai/ffi-runtime/native/dl"
	"github.com/wippyai/ffi-runtime/native/wasm"
	"github.com/wippyai/ffi-runtime/runtime"
)

func main() {
	var (
		libPath   = flag.String("lib", "", "Path to a shared library")
		wasmPath  = flag.String("wasm", "", "Path to a core wasm module")
		namespace = flag.String("ns", "", "Scaffolding namespace of the library")
		checks    = flag.String("check", "", "Expected checksums (fn=sum,fn2=sum2)")
		version   = flag.Uint("contract", uint(ffiruntime.ContractVersion), "Expected contract version")
		verbose   = flag.Bool("v", false, "Verbose logging")
	)
	flag.Parse()

	if (*libPath == "") == (*wasmPath == "") || *namespace == "" {
		fmt.Fprintln(os.Stderr, "Usage: ffiprobe -lib <file.so> -ns <name> [-check fn=sum,...] [-v]")
		fmt.Fprintln(os.Stderr, "       ffiprobe -wasm <file.wasm> -ns <name> [-check fn=sum,...] [-v]")
		os.Exit(2)
	}

	logger := zap.NewNop()
	if *verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		logger = l
	}
	defer func() { _ = logger.Sync() }()
	runtime.SetLogger(logger)

	sums, err := parseChecks(*checks)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	ctx := context.Background()
	lib, err := open(ctx, *libPath, *wasmPath, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ok, err := probe(ctx, os.Stdout, lib, *namespace, uint32(*version), sums)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if !ok {
		os.Exit(1)
	}
}

func open(ctx context.Context, libPath, wasmPath string, logger *zap.Logger) (native.Library, error) {
	if libPath != "" {
		return dl.Open(dl.Config{Path: libPath, Logger: logger})
	}
	data, err := os.ReadFile(wasmPath)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return wasm.Load(ctx, data, wasm.Config{Logger: logger})
}

// parseChecks parses "fn=sum,fn2=sum2". Sums may be decimal or 0x-prefixed.
func parseChecks(s string) (map[string]uint16, error) {
	sums := make(map[string]uint16)
	if s == "" {
		return sums, nil
	}
	for _, entry := range strings.Split(s, ",") {
		fn, raw, found := strings.Cut(strings.TrimSpace(entry), "=")
		if !found || fn == "" {
			return nil, fmt.Errorf("invalid check %q: want fn=sum", entry)
		}
		sum, err := strconv.ParseUint(raw, 0, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid checksum for %s: %w", fn, err)
		}
		sums[fn] = uint16(sum)
	}
	return sums, nil
}

// probe loads lib without checks, reads every scaffolding value and writes
// one line per value. It reports whether everything matched.
func probe(ctx context.Context, w io.Writer, lib native.Library, namespace string, version uint32, sums map[string]uint16) (bool, error) {
	rt, err := runtime.Load(ctx, lib, runtime.Config{Namespace: namespace, SkipChecks: true})
	if err != nil {
		_ = lib.Close(ctx)
		return false, err
	}
	defer func() { _ = rt.Close(ctx) }()

	caller := rt.Caller()
	ok := true

	got, err := caller.CallRaw(ctx, rt.VersionSymbol())
	switch {
	case err != nil:
		ok = false
		fmt.Fprintf(w, "%-32s missing (%v)\n", "contract version", err)
	case uint32(got) != version:
		ok = false
		fmt.Fprintf(w, "%-32s %d, want %d\n", "contract version", uint32(got), version)
	default:
		fmt.Fprintf(w, "%-32s %d ok\n", "contract version", uint32(got))
	}

	names := make([]string, 0, len(sums))
	for name := range sums {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		sum, err := caller.CallRaw(ctx, rt.ChecksumSymbol(name))
		switch {
		case err != nil:
			ok = false
			fmt.Fprintf(w, "%-32s missing\n", name)
		case uint16(sum) != sums[name]:
			ok = false
			fmt.Fprintf(w, "%-32s 0x%04x, want 0x%04x\n", name, uint16(sum), sums[name])
		default:
			fmt.Fprintf(w, "%-32s 0x%04x ok\n", name, uint16(sum))
		}
	}
	return ok, nil
}
