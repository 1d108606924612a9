// Package jsvm provides a JavaScript execution engine based on goja: the
// concrete "embedded scripting interpreter and its binding module"
// spec.md §1/§6 keep outside the scanner core.
package jsvm

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dop251/goja"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"pyp/internal/buffer"
	"pyp/internal/grammar"
	"pyp/internal/jsvm/hostapi"
	"pyp/internal/jsvmerr"
	"pyp/internal/position"
	"pyp/internal/scanner"
	"pyp/internal/textenc"
	"pyp/internal/transform"
)

// RuntimeConfig holds configuration for the Runtime.
type RuntimeConfig struct {
	PoolConfig    PoolConfig
	SandboxConfig SandboxConfig
}

// DefaultRuntimeConfig returns default runtime configuration.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		PoolConfig:    DefaultPoolConfig(),
		SandboxConfig: DefaultSandboxConfig(),
	}
}

// Runtime provides JavaScript execution capabilities bound to the
// scanner's transform.Func contract.
type Runtime struct {
	pool   *VMPool
	config RuntimeConfig
	logger zerolog.Logger
	closed bool
}

// NewRuntime creates a new JavaScript runtime.
func NewRuntime(cfg RuntimeConfig, logger zerolog.Logger) *Runtime {
	return &Runtime{
		pool:   NewVMPool(cfg.PoolConfig),
		config: cfg,
		logger: logger,
	}
}

// ExecContext is the per-scan state one evaluator invocation needs
// beyond the captured source text itself: the grammar driving recursive
// pyp.include calls, the reader/writer settings an included file should
// reuse, and the directory its relative include paths resolve against.
// It is threaded through as the scanner's userData (spec.md §6) rather
// than held behind a package-level global — nested includes re-enter on
// the Go call stack, one ExecContext per recursive scanner.Run, instead
// of through shared mutable state (see SPEC_FULL.md §11).
type ExecContext struct {
	Grammar      *grammar.Grammar
	Settings     scanner.Settings
	SourceDir    string
	AllowedPaths []string
	// Codec applies the run's --encoding/--encoding-errors contract to
	// pyp.write's output. Nil means the default "utf-8"/"strict"
	// passthrough.
	Codec *textenc.Codec
}

// TransformBlock implements transform.Func for a `<? ... ?>` region: the
// captured code runs as a script whose output is whatever it accumulates
// through pyp.write.
func (r *Runtime) TransformBlock(input *buffer.DataBuffer, locs position.Chain, userData any) (*buffer.DataBuffer, transform.Status, error) {
	return r.transform(input, locs, userData, false)
}

// TransformExpr implements transform.Func for a `<?= ... ?>` region: the
// captured code runs as a single expression, coerced to a string and
// appended to the output.
func (r *Runtime) TransformExpr(input *buffer.DataBuffer, locs position.Chain, userData any) (*buffer.DataBuffer, transform.Status, error) {
	return r.transform(input, locs, userData, true)
}

func (r *Runtime) transform(input *buffer.DataBuffer, locs position.Chain, userData any, isExpr bool) (*buffer.DataBuffer, transform.Status, error) {
	if r.closed {
		return nil, transform.Abort, fmt.Errorf("jsvm: runtime is closed")
	}

	ec, _ := userData.(*ExecContext)
	code := trimLeadingInlineWhitespace(string(input.Bytes()))

	ctx := context.Background()
	vm, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, transform.Abort, err
	}
	defer r.pool.Release(vm)

	out := buffer.New()
	hctx := &hostapi.Context{
		ScriptName:  regionLabel(locs),
		ExecutionID: uuid.NewString(),
		Output:      out,
	}
	if ec != nil {
		hctx.SourceDir = ec.SourceDir
		hctx.Config.AllowedPaths = ec.AllowedPaths
		hctx.Config.Codec = ec.Codec
		hctx.Include = r.includer(ec)
	}

	sandbox := NewSandbox(r.config.SandboxConfig, r.logger)
	execCtx, err := sandbox.Setup(vm, ctx, hctx)
	if err != nil {
		return nil, transform.Abort, err
	}
	defer sandbox.Cleanup(vm)

	script := code
	if isExpr {
		script = "(" + code + ")"
	}

	val, runErr := vm.RunString(script)
	if runErr == nil {
		select {
		case <-execCtx.Done():
			runErr = execCtx.Err()
		default:
		}
	}
	if runErr != nil {
		failure := buffer.New()
		failure.ExtendWithString(wrapExecutionError(runErr, hctx.ScriptName).Error())
		return failure, transform.ErrCodeExecution, nil
	}

	if isExpr {
		out.ExtendWithString(val.String())
	}
	return out, transform.OK, nil
}

// includer returns the pyp.include resolver bound to the grammar and
// reader settings of the scan ec belongs to.
func (r *Runtime) includer(ec *ExecContext) hostapi.Includer {
	return func(ctx context.Context, resolvedPath string) ([]byte, error) {
		f, err := os.Open(resolvedPath)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("%s: %w", resolvedPath, jsvmerr.ErrIncludeNotFound)
			}
			return nil, err
		}
		defer f.Close()

		childEC := &ExecContext{
			Grammar:      ec.Grammar,
			Settings:     ec.Settings,
			SourceDir:    filepath.Dir(resolvedPath),
			AllowedPaths: ec.AllowedPaths,
			Codec:        ec.Codec,
		}

		var out, errOut bytes.Buffer
		s := scanner.New(f, ec.Grammar, ec.Settings, &out, &errOut, childEC)
		if err := s.Run(); err != nil {
			return nil, err
		}
		if errOut.Len() > 0 {
			return nil, fmt.Errorf("%s", errOut.String())
		}
		return out.Bytes(), nil
	}
}

// trimLeadingInlineWhitespace strips leading space/tab/\v/\f from code
// before it's compiled — spec.md §8 scenario 1 ("leading intra-line
// whitespace is dropped before being fed to the interpreter"), ported
// from the original's pypCharIsWhitespaceNotNewline cutoff. CR/LF are
// deliberately left alone: a region opened on its own line keeps its
// leading blank lines, only the run of spaces/tabs right before the
// first real token is trimmed.
func trimLeadingInlineWhitespace(code string) string {
	i := 0
	for i < len(code) {
		switch code[i] {
		case ' ', '\t', '\v', '\f':
			i++
		default:
			return code[i:]
		}
	}
	return code[i:]
}

// regionLabel builds a short diagnostic label from a region's opener
// location, falling back to "<script>" when locs is empty.
func regionLabel(locs position.Chain) string {
	if len(locs) == 0 {
		return "<script>"
	}
	start := locs[0].Start
	return fmt.Sprintf("line %d, col %d", start.Line+1, start.Col+1)
}

// Execute runs an arbitrary script outside the region-transform contract
// — used by `pyp doctor` to exercise the VM pool without a real scan.
func (r *Runtime) Execute(ctx context.Context, script, scriptName string) (goja.Value, error) {
	if r.closed {
		return nil, fmt.Errorf("jsvm: runtime is closed")
	}

	vm, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer r.pool.Release(vm)

	hctx := &hostapi.Context{
		ScriptName:  scriptName,
		ExecutionID: uuid.NewString(),
		Output:      buffer.New(),
	}
	sandbox := NewSandbox(r.config.SandboxConfig, r.logger)
	execCtx, err := sandbox.Setup(vm, ctx, hctx)
	if err != nil {
		return nil, err
	}
	defer sandbox.Cleanup(vm)

	val, err := vm.RunString(script)
	if err != nil {
		return nil, wrapExecutionError(err, scriptName)
	}
	select {
	case <-execCtx.Done():
		return nil, &jsvmerr.ExecutionError{Script: scriptName, Cause: execCtx.Err()}
	default:
	}
	return val, nil
}

// Stats reports the evaluator VM pool's current load.
func (r *Runtime) Stats() PoolStats {
	return r.pool.Stats()
}

// Close shuts down the runtime and releases resources.
func (r *Runtime) Close() error {
	r.closed = true
	return r.pool.Close()
}

// wrapExecutionError converts goja errors to structured errors.
func wrapExecutionError(err error, scriptName string) error {
	if interrupted, ok := err.(*goja.InterruptedError); ok {
		return &jsvmerr.ExecutionError{
			Script: scriptName,
			Cause:  fmt.Errorf("interrupted: %v", interrupted.Value()),
		}
	}
	if exception, ok := err.(*goja.Exception); ok {
		return &jsvmerr.ExecutionError{
			Script: scriptName,
			Cause:  fmt.Errorf("exception: %s", exception.String()),
		}
	}
	if compileErr, ok := err.(*goja.CompilerSyntaxError); ok {
		return &jsvmerr.ScriptSyntaxError{
			File:    scriptName,
			Message: compileErr.Error(),
		}
	}
	return &jsvmerr.ExecutionError{Script: scriptName, Cause: err}
}
