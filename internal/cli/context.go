package cli

import (
	"sync"

	"pyp/internal/config"
	"pyp/internal/storage"
	"pyp/pkg/logger"

	"github.com/rs/zerolog"
)

// CLIContext carries the state one command invocation shares across its
// RunE: the resolved configuration, a logger, and a lazily-opened
// handle onto the sqlite store cron/trie-cache commands need.
type CLIContext struct {
	Config      *config.Config
	ConfigPath  string
	Logger      *zerolog.Logger
	storageOnce sync.Once
	storage     *storage.DB
	storagePath string
	StoragePath string
	Verbose     bool
	Quiet       bool
}

// NewCLIContext builds a CLIContext for one command invocation.
func NewCLIContext(cfg *config.Config, configPath string, log *zerolog.Logger, storagePath string, verbose, quiet bool) *CLIContext {
	return &CLIContext{
		Config:      cfg,
		ConfigPath:  configPath,
		Logger:      log,
		storagePath: storagePath,
		StoragePath: storagePath,
		Verbose:     verbose,
		Quiet:       quiet,
	}
}

// GetStorage opens (once) the sqlite store backing cron jobs, history,
// and the trie fingerprint cache.
func (c *CLIContext) GetStorage() (*storage.DB, error) {
	var err error
	c.storageOnce.Do(func() {
		c.storage, err = storage.Open(c.storagePath)
	})
	return c.storage, err
}

// Close releases any resources the context opened.
func (c *CLIContext) Close() error {
	if c.storage != nil {
		return c.storage.Close()
	}
	return nil
}

// Log returns the context's logger, falling back to the package
// default if PersistentPreRunE never ran (e.g. direct test calls).
func (c *CLIContext) Log() *zerolog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	log := logger.Get()
	return log
}
