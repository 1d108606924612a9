// Package hostapi provides JavaScript Host APIs for the jsvm sandbox: the
// `pyp` namespace a region's captured code runs against (spec.md §6's
// "interpreter binding contract").
package hostapi

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dop251/goja"
	"github.com/rs/zerolog"

	"pyp/internal/buffer"
	"pyp/internal/jsvmerr"
	"pyp/internal/textenc"
)

// Config holds configuration for Host APIs.
type Config struct {
	// AllowedPaths is the list of allowed file system paths pyp.include
	// may resolve into.
	AllowedPaths []string
	// MaxWriteSize is the maximum cumulative size pyp.write may
	// accumulate in one invocation, in bytes.
	MaxWriteSize int64
	// Codec applies the run's --encoding/--encoding-errors contract to
	// pyp.write's arguments before they're appended to the output
	// buffer. A nil Codec passes values through as UTF-8 unchanged.
	Codec *textenc.Codec
}

// DefaultConfig returns default Host API configuration.
func DefaultConfig() Config {
	return Config{
		AllowedPaths: []string{"~/.pyp/", "/tmp"},
		MaxWriteSize: 10 * 1024 * 1024, // 10MB
	}
}

// Includer recursively preprocesses an included file using the same
// grammar as the invoking run and returns its output. hostapi never
// imports the scanner or grammar packages directly — the caller (jsvm.
// Runtime) supplies this closure, keeping the re-entrant "current
// source directory" state on the Go call stack rather than behind a
// package-level global.
type Includer func(ctx context.Context, resolvedPath string) ([]byte, error)

// Context holds the execution context for one Transform invocation's
// Host APIs.
type Context struct {
	Ctx         context.Context
	Logger      zerolog.Logger
	ScriptName  string
	ExecutionID string
	Config      Config

	// SourceDir is the directory pyp.include's relative paths resolve
	// against — the directory of the file currently being processed,
	// not the process's working directory.
	SourceDir string
	// Include runs the included file through the full preprocessor and
	// returns its output for inlining at the call site.
	Include Includer

	// Output accumulates pyp.write calls; the caller seeds this with
	// the region's output DataBuffer before Register and reads it back
	// afterward.
	Output *buffer.DataBuffer
}

// Register injects the pyp namespace into the given goja.Runtime.
func Register(vm *goja.Runtime, hctx *Context) error {
	pyp := vm.NewObject()

	if err := registerInclude(vm, pyp, hctx); err != nil {
		return err
	}
	if err := registerWrite(vm, pyp, hctx); err != nil {
		return err
	}
	if err := registerLog(vm, pyp, hctx); err != nil {
		return err
	}

	return vm.Set("pyp", pyp)
}

// Unregister removes the pyp namespace and console shim from the VM.
func Unregister(vm *goja.Runtime) {
	_ = vm.GlobalObject().Delete("pyp")
	_ = vm.GlobalObject().Delete("console")
}

// registerInclude wires pyp.include(path): resolve relative to the
// current source directory, run the whole preprocessor against it, and
// inline the result at the call site (spec.md §5).
func registerInclude(vm *goja.Runtime, pyp *goja.Object, hctx *Context) error {
	return pyp.Set("include", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			panic(vm.ToValue("pyp.include: path argument required"))
		}
		raw := call.Arguments[0].String()

		resolved, err := ValidatePathPublic(resolveAgainst(hctx.SourceDir, raw), hctx.Config.AllowedPaths)
		if err != nil {
			panic(vm.ToValue(err.Error()))
		}

		out, err := hctx.Include(hctx.Ctx, resolved)
		if err != nil {
			panic(vm.ToValue(fmt.Sprintf("pyp.include(%s): %v", raw, err)))
		}
		hctx.Output.ExtendWith(out)
		return goja.Undefined()
	})
}

// registerWrite wires pyp.write(value): encode value's string form with
// the run's --encoding/--encoding-errors codec and append the result to
// the region's accumulating output buffer.
func registerWrite(vm *goja.Runtime, pyp *goja.Object, hctx *Context) error {
	return pyp.Set("write", func(call goja.FunctionCall) goja.Value {
		for _, arg := range call.Arguments {
			s := formatValue(arg)
			encoded, err := hctx.Config.Codec.Encode(s)
			if err != nil {
				panic(vm.ToValue(fmt.Sprintf("pyp.write: %v", err)))
			}
			if hctx.Config.MaxWriteSize > 0 && int64(hctx.Output.Size()+len(encoded)) > hctx.Config.MaxWriteSize {
				panic(vm.ToValue("pyp.write: output size limit exceeded"))
			}
			hctx.Output.ExtendWith(encoded)
		}
		return goja.Undefined()
	})
}

// resolveAgainst joins a possibly-relative include path against dir,
// leaving an already-absolute path untouched.
func resolveAgainst(dir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

// ValidatePathPublic checks that path lies within one of allowed
// (after expanding a leading ~), returning the cleaned absolute path.
func ValidatePathPublic(path string, allowed []string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	abs = filepath.Clean(abs)

	for _, a := range allowed {
		a = expandHome(a)
		a, err := filepath.Abs(a)
		if err != nil {
			continue
		}
		a = filepath.Clean(a)
		if abs == a || strings.HasPrefix(abs, a+string(filepath.Separator)) {
			return abs, nil
		}
	}
	return "", &jsvmerr.PathNotAllowedError{Path: path}
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
