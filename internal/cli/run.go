package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"pyp/internal/grammar"
	"pyp/internal/jsvm"
	"pyp/internal/scanner"
	"pyp/internal/textenc"
)

// ExitError carries a process exit code alongside its message, letting
// cmd/pyp distinguish spec.md §6's three exit codes: 0 success, 1 a
// runtime error surfaced by a transform, -1 a setup/argument failure.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

func setupError(err error) error {
	return &ExitError{Code: -1, Err: err}
}

// RunOptions holds the flags spec.md §6 defines for the CLI surface.
type RunOptions struct {
	ReadBlockSize      int
	ReadBlockCount     int
	NoContinuations    bool
	InlineErrors       bool
	InlineErrorModifer string
	Encoding           string
	EncodingErrors     string
	GrammarPath        string
}

// NewRunCmd builds the `run` command: the literal spec.md §6 CLI
// surface, positional input/output files with "-" meaning stdio.
func NewRunCmd() *cobra.Command {
	opts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run <input> <output>",
		Short: "Preprocess a template file",
		Long: `Preprocess input through pyp's tag grammar, writing the result to output.
Use "-" for either path to read from stdin or write to stdout.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunPreprocess(cmd, opts, args[0], args[1])
		},
	}

	cmd.Flags().IntVarP(&opts.ReadBlockSize, "read-block-size", "b", scanner.DefaultSettings().BlockSize, "reader block size in bytes")
	cmd.Flags().IntVarP(&opts.ReadBlockCount, "read-block-count", "c", scanner.DefaultSettings().BlockCount, "number of blocks kept for rollback")
	cmd.Flags().BoolVar(&opts.NoContinuations, "no-continuations", false, "disable continuation tag matching")
	cmd.Flags().BoolVar(&opts.InlineErrors, "inline-errors", false, "route diagnostics into the output stream")
	cmd.Flags().StringVar(&opts.InlineErrorModifer, "inline-error-modifer", "none", "inline error formatting: html or none")
	cmd.Flags().StringVar(&opts.Encoding, "encoding", "utf-8", "input/output text encoding")
	cmd.Flags().StringVar(&opts.EncodingErrors, "encoding-errors", "strict", "encoding error handling mode")
	cmd.Flags().StringVar(&opts.GrammarPath, "grammar", "", "custom grammar YAML file (default uses the built-in grammar)")

	return cmd
}

// RunPreprocess implements the spec.md §6 CLI surface: open input/output
// (honoring "-" for stdio), build the grammar, run the scanner, and
// translate the outcome into the documented exit-code taxonomy.
func RunPreprocess(cmd *cobra.Command, opts *RunOptions, inputPath, outputPath string) error {
	cliCtx := GetCLIContext(cmd)

	in, closeIn, err := openInput(inputPath)
	if err != nil {
		return setupError(err)
	}
	defer closeIn()

	out, closeOut, err := openOutput(outputPath)
	if err != nil {
		return setupError(err)
	}
	defer closeOut()

	runtime := jsvm.NewRuntime(jsvm.DefaultRuntimeConfig(), runtimeLogger(cliCtx))
	defer runtime.Close()

	hooks := grammar.Hooks{Block: runtime.TransformBlock, Expr: runtime.TransformExpr}
	continuations := !opts.NoContinuations

	g, err := buildRunGrammar(opts.GrammarPath, hooks, continuations, runtime)
	if err != nil {
		return setupError(fmt.Errorf("build grammar: %w", err))
	}

	codec, err := textenc.New(opts.Encoding, opts.EncodingErrors)
	if err != nil {
		return setupError(err)
	}

	settings := scanner.DefaultSettings()
	settings.BlockSize = opts.ReadBlockSize
	settings.BlockCount = opts.ReadBlockCount
	settings.InlineErrors = opts.InlineErrors
	// Compared against the flag's own value, per spec.md §9/§11 — the
	// original compares this option against the output filename instead.
	settings.InlineErrorHTML = opts.InlineErrorModifer == "html"

	var errOut io.Writer = os.Stderr
	if opts.InlineErrors {
		errOut = out
	}

	ec := &jsvm.ExecContext{Grammar: g, Settings: settings, SourceDir: sourceDirOf(inputPath), Codec: codec}

	var errBuf errCollector
	sc := scanner.New(in, g, settings, out, io.MultiWriter(errOut, &errBuf), ec)
	if err := sc.Run(); err != nil {
		return &ExitError{Code: -1, Err: err}
	}

	if errBuf.n > 0 {
		return &ExitError{Code: 1, Err: fmt.Errorf("pyp: %d diagnostic(s) reported", errBuf.n)}
	}
	return nil
}

// buildRunGrammar resolves the grammar a run uses: the built-in default
// wired to runtime's evaluator, or a custom YAML grammar definition
// wired the same way.
func buildRunGrammar(path string, hooks grammar.Hooks, continuations bool, runtime *jsvm.Runtime) (*grammar.Grammar, error) {
	if path == "" {
		root := grammar.Default(hooks, continuations)
		return grammar.Build(root, continuations)
	}

	spec, err := grammar.LoadFile(path)
	if err != nil {
		return nil, err
	}
	regionHooks := grammar.RegionHooks{}
	for _, r := range spec.Regions {
		regionHooks[r.Name] = runtime.TransformBlock
	}
	root, err := spec.Build(regionHooks, nil)
	if err != nil {
		return nil, err
	}
	return grammar.Build(root, spec.Continuations)
}

// errCollector counts bytes written to the scanner's diagnostic stream
// without duplicating it, so RunPreprocess can tell whether anything
// was reported even when --inline-errors routes the text into output.
type errCollector struct{ n int }

func (e *errCollector) Write(p []byte) (int, error) {
	e.n += len(p)
	return len(p), nil
}

func openInput(path string) (io.Reader, func() error, error) {
	if path == "-" {
		return os.Stdin, func() error { return nil }, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open input: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("stat input: %w", err)
	}
	if info.IsDir() {
		f.Close()
		return nil, nil, fmt.Errorf("input is a directory: %s", path)
	}
	return f, f.Close, nil
}

func openOutput(path string) (io.Writer, func() error, error) {
	if path == "-" {
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create output: %w", err)
	}
	return f, f.Close, nil
}

func sourceDirOf(path string) string {
	if path == "-" {
		wd, _ := os.Getwd()
		return wd
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Dir(path)
	}
	return filepath.Dir(abs)
}

// runtimeLogger returns cliCtx's logger, falling back to a disabled
// logger when RunPreprocess runs outside a cobra-managed CLIContext
// (as NewRunCmd's RunE always provides one, but tests may call
// RunPreprocess directly).
func runtimeLogger(cliCtx *CLIContext) zerolog.Logger {
	if cliCtx != nil && cliCtx.Logger != nil {
		return *cliCtx.Logger
	}
	return zerolog.Nop()
}

// isTerminal reports whether stderr is attached to a terminal.
// RunPreprocess does not call it; diagnostics are written uncolored.
func isTerminal() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}
