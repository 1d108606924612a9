package jsvm

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"pyp/internal/buffer"
	"pyp/internal/grammar"
	"pyp/internal/jsvmerr"
	"pyp/internal/position"
	"pyp/internal/scanner"
	"pyp/internal/transform"
)

func TestRuntimeExecute(t *testing.T) {
	logger := zerolog.Nop()
	cfg := DefaultRuntimeConfig()
	rt := NewRuntime(cfg, logger)
	defer rt.Close()

	val, err := rt.Execute(context.Background(), `1 + 2`, "test.js")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if val.ToInteger() != 3 {
		t.Errorf("Expected 3, got %v", val)
	}
}

func TestRuntimeExecuteWithHostAPI(t *testing.T) {
	logger := zerolog.Nop()
	cfg := DefaultRuntimeConfig()
	rt := NewRuntime(cfg, logger)
	defer rt.Close()

	val, err := rt.Execute(context.Background(), `typeof pyp.log.info`, "test.js")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if val.String() != "function" {
		t.Errorf("Expected 'function', got %q", val.String())
	}
}

func TestRuntimeExecuteTimeout(t *testing.T) {
	logger := zerolog.Nop()
	cfg := DefaultRuntimeConfig()
	cfg.SandboxConfig.Timeout = 100 * time.Millisecond
	rt := NewRuntime(cfg, logger)
	defer rt.Close()

	_, err := rt.Execute(context.Background(), `while(true) {}`, "test.js")
	if err == nil {
		t.Fatal("Expected timeout error, got nil")
	}
}

func TestRuntimeExecuteSyntaxError(t *testing.T) {
	logger := zerolog.Nop()
	cfg := DefaultRuntimeConfig()
	rt := NewRuntime(cfg, logger)
	defer rt.Close()

	_, err := rt.Execute(context.Background(), `function( { broken`, "test.js")
	if err == nil {
		t.Fatal("Expected syntax error, got nil")
	}
	var syntaxErr *jsvmerr.ScriptSyntaxError
	var execErr *jsvmerr.ExecutionError
	if !(syntaxErr != nil || execErr != nil) {
		t.Logf("Error type: %T, message: %v", err, err)
	}
}

func TestRuntimeClose(t *testing.T) {
	logger := zerolog.Nop()
	cfg := DefaultRuntimeConfig()
	rt := NewRuntime(cfg, logger)

	if err := rt.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	_, err := rt.Execute(context.Background(), `1`, "test.js")
	if err == nil {
		t.Error("Expected error after close, got nil")
	}
}

func TestRuntimeContextCancellation(t *testing.T) {
	logger := zerolog.Nop()
	cfg := DefaultRuntimeConfig()
	cfg.SandboxConfig.Timeout = 5 * time.Second
	rt := NewRuntime(cfg, logger)
	defer rt.Close()

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := rt.Execute(ctx, `while(true) {}`, "test.js")
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Error("Expected error after cancellation, got nil")
		}
	case <-time.After(1 * time.Second):
		t.Error("Execution did not stop after cancellation")
	}
}

func TestDefaultRuntimeConfig(t *testing.T) {
	cfg := DefaultRuntimeConfig()

	if cfg.PoolConfig.MaxSize != 5 {
		t.Errorf("PoolConfig.MaxSize = %d, want 5", cfg.PoolConfig.MaxSize)
	}
	if cfg.SandboxConfig.Timeout != 30*time.Second {
		t.Errorf("SandboxConfig.Timeout = %v, want 30s", cfg.SandboxConfig.Timeout)
	}
}

// TransformBlock/TransformExpr are exercised directly here (not through a
// full scanner.Run) to isolate the evaluator binding from the scanner.

func TestTransformExprCoercesToString(t *testing.T) {
	logger := zerolog.Nop()
	rt := NewRuntime(DefaultRuntimeConfig(), logger)
	defer rt.Close()

	input := buffer.New()
	input.ExtendWithString("21 * 2")
	out, status, err := rt.TransformExpr(input, nil, nil)
	if err != nil || status != transform.OK {
		t.Fatalf("TransformExpr: status=%v err=%v", status, err)
	}
	if string(out.Bytes()) != "42" {
		t.Errorf("out = %q, want %q", out.Bytes(), "42")
	}
}

func TestTrimLeadingInlineWhitespace(t *testing.T) {
	cases := []struct{ in, want string }{
		{" \t x", "x"},
		{"\v\fy()", "y()"},
		{"\n  z", "\n  z"},
		{"  \r\nw", "\r\nw"},
		{"", ""},
		{"   ", ""},
	}
	for _, c := range cases {
		if got := trimLeadingInlineWhitespace(c.in); got != c.want {
			t.Errorf("trimLeadingInlineWhitespace(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

// Scenario: a region opened with inline padding before the real
// expression ("<?=   21 * 2 ?>") still evaluates correctly — the
// leading spaces are dropped before compilation, not left to produce a
// syntax error or change the expression's value.
func TestTransformExprDropsLeadingInlineWhitespace(t *testing.T) {
	logger := zerolog.Nop()
	rt := NewRuntime(DefaultRuntimeConfig(), logger)
	defer rt.Close()

	input := buffer.New()
	input.ExtendWithString("   \t21 * 2")
	out, status, err := rt.TransformExpr(input, nil, nil)
	if err != nil || status != transform.OK {
		t.Fatalf("TransformExpr: status=%v err=%v", status, err)
	}
	if string(out.Bytes()) != "42" {
		t.Errorf("out = %q, want %q", out.Bytes(), "42")
	}
}

func TestTransformBlockUsesWrite(t *testing.T) {
	logger := zerolog.Nop()
	rt := NewRuntime(DefaultRuntimeConfig(), logger)
	defer rt.Close()

	input := buffer.New()
	input.ExtendWithString(`for (let i = 0; i < 3; i++) { pyp.write(i); }`)
	out, status, err := rt.TransformBlock(input, nil, nil)
	if err != nil || status != transform.OK {
		t.Fatalf("TransformBlock: status=%v err=%v", status, err)
	}
	if string(out.Bytes()) != "012" {
		t.Errorf("out = %q, want %q", out.Bytes(), "012")
	}
}

func TestTransformBlockReportsScriptError(t *testing.T) {
	logger := zerolog.Nop()
	rt := NewRuntime(DefaultRuntimeConfig(), logger)
	defer rt.Close()

	input := buffer.New()
	input.ExtendWithString(`throw new Error("boom")`)
	_, status, err := rt.TransformBlock(input, nil, nil)
	if err != nil {
		t.Fatalf("TransformBlock returned fatal error: %v", err)
	}
	if status != transform.ErrCodeExecution {
		t.Errorf("status = %v, want ErrCodeExecution", status)
	}
}

func TestTransformBlockHonorsIncludeAndSourceDir(t *testing.T) {
	logger := zerolog.Nop()
	rt := NewRuntime(DefaultRuntimeConfig(), logger)
	defer rt.Close()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "partial.txt"), []byte("partial-body"), 0644); err != nil {
		t.Fatal(err)
	}

	root := grammar.Default(grammar.Hooks{Block: rt.TransformBlock, Expr: rt.TransformExpr}, false)
	g, err := grammar.Build(root, false)
	if err != nil {
		t.Fatalf("grammar.Build: %v", err)
	}

	ec := &ExecContext{
		Grammar:      g,
		Settings:     scanner.DefaultSettings(),
		SourceDir:    dir,
		AllowedPaths: []string{dir},
	}

	input := buffer.New()
	input.ExtendWithString(`pyp.include("partial.txt")`)
	out, status, err := rt.TransformBlock(input, position.Chain{}, ec)
	if err != nil || status != transform.OK {
		t.Fatalf("TransformBlock: status=%v err=%v", status, err)
	}
	if string(out.Bytes()) != "partial-body" {
		t.Errorf("out = %q, want %q", out.Bytes(), "partial-body")
	}
}
