package jsvm

import (
	"context"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/rs/zerolog"

	"pyp/internal/jsvm/hostapi"
)

// SandboxConfig holds configuration for the sandbox environment.
type SandboxConfig struct {
	// Timeout is the maximum execution time for one region's script.
	Timeout time.Duration
	// AllowedPaths is the list of directories pyp.include may resolve
	// into when the invocation's hostapi.Context carries none of its own
	// (an ExecContext's AllowedPaths take precedence).
	AllowedPaths []string
	// MaxWriteSize is the maximum cumulative pyp.write output size, in
	// bytes, per invocation.
	MaxWriteSize int64
}

// DefaultSandboxConfig returns default sandbox configuration.
func DefaultSandboxConfig() SandboxConfig {
	return SandboxConfig{
		Timeout:      30 * time.Second,
		AllowedPaths: []string{"~/.pyp/", "/tmp"},
		MaxWriteSize: 10 * 1024 * 1024, // 10MB
	}
}

// Sandbox provides a secure execution environment for JavaScript.
type Sandbox struct {
	config SandboxConfig
	logger zerolog.Logger

	mu         sync.Mutex
	cancelFunc context.CancelFunc
	done       chan struct{} // signals cleanup to interrupt goroutine
}

// NewSandbox creates a new sandbox with the given configuration.
func NewSandbox(cfg SandboxConfig, logger zerolog.Logger) *Sandbox {
	return &Sandbox{
		config: cfg,
		logger: logger,
	}
}

// Setup configures the VM with security restrictions and injects Host
// APIs. hctx carries the per-invocation pieces (output buffer, include
// resolver, source directory) that Register needs; Setup fills in the
// timeout context and logger, and the sandbox's AllowedPaths and
// MaxWriteSize where hctx leaves them unset.
func (s *Sandbox) Setup(vm *goja.Runtime, ctx context.Context, hctx *hostapi.Context) (context.Context, error) {
	s.mu.Lock()

	execCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	s.cancelFunc = cancel
	s.done = make(chan struct{})
	done := s.done // copy under lock
	s.mu.Unlock()

	go func() {
		select {
		case <-execCtx.Done():
			vm.Interrupt("execution interrupted: " + execCtx.Err().Error())
		case <-done:
			return
		}
	}()

	s.mu.Lock()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	hctx.Ctx = execCtx
	hctx.Logger = s.logger
	if hctx.Config.AllowedPaths == nil {
		hctx.Config.AllowedPaths = s.config.AllowedPaths
	}
	if hctx.Config.MaxWriteSize == 0 {
		hctx.Config.MaxWriteSize = s.config.MaxWriteSize
	}
	s.mu.Unlock()

	if err := hostapi.Register(vm, hctx); err != nil {
		cancel()
		return nil, err
	}

	return execCtx, nil
}

// Cleanup removes injected objects and cancels any pending operations.
func (s *Sandbox) Cleanup(vm *goja.Runtime) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done != nil {
		close(s.done)
		s.done = nil
	}
	if s.cancelFunc != nil {
		s.cancelFunc()
		s.cancelFunc = nil
	}

	hostapi.Unregister(vm)
	vm.ClearInterrupt()
}

// ValidatePath checks if a path is within the allowed directories.
func (s *Sandbox) ValidatePath(path string) bool {
	_, err := hostapi.ValidatePathPublic(path, s.config.AllowedPaths)
	return err == nil
}
