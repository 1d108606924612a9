package cli

import (
	"pyp/internal/config"
	"pyp/internal/jsvm"
)

// jsvmRuntimeConfig translates the resolved JSVMConfig into the pool
// and sandbox configuration jsvm.NewRuntime expects.
func jsvmRuntimeConfig(cfg *config.Config) jsvm.RuntimeConfig {
	rc := jsvm.DefaultRuntimeConfig()
	j := cfg.JSVM

	if j.PoolSize > 0 {
		rc.PoolConfig.MaxSize = j.PoolSize
	}
	if j.IdleTimeout > 0 {
		rc.PoolConfig.IdleTimeout = j.IdleTimeout
	}
	if j.AcquireTimeout > 0 {
		rc.PoolConfig.AcquireTimeout = j.AcquireTimeout
	}
	if j.Timeout > 0 {
		rc.SandboxConfig.Timeout = j.Timeout
	}
	if j.MaxWriteSize > 0 {
		rc.SandboxConfig.MaxWriteSize = j.MaxWriteSize
	}
	if len(j.AllowedPaths) > 0 {
		rc.SandboxConfig.AllowedPaths = j.AllowedPaths
	}
	return rc
}
