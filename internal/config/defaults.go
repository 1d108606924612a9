package config

import (
	"github.com/spf13/viper"
)

// setDefaults installs every Config field's zero-config value on v.
func setDefaults(v *viper.Viper) {
	v.SetDefault("version", "1")

	v.SetDefault("gateway.host", "127.0.0.1")
	v.SetDefault("gateway.port", 18788)
	v.SetDefault("gateway.rate_limit.enabled", true)
	v.SetDefault("gateway.rate_limit.requests_per_second", 20.0)
	v.SetDefault("gateway.rate_limit.burst", 40)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file", "")

	v.SetDefault("jsvm.enabled", true)
	v.SetDefault("jsvm.pool_size", 5)
	v.SetDefault("jsvm.idle_timeout", "5m")
	v.SetDefault("jsvm.acquire_timeout", "5s")
	v.SetDefault("jsvm.timeout", "30s")
	v.SetDefault("jsvm.max_write_size", 10*1024*1024)
	v.SetDefault("jsvm.allowed_paths", []string{"~/.pyp/", "/tmp"})

	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.history_limit", 100)
	v.SetDefault("cron.retry.max_attempts", 3)
	v.SetDefault("cron.retry.initial_delay", "1s")
	v.SetDefault("cron.retry.max_delay", "5m")

	v.SetDefault("storage.path", "~/.pyp/data.db")

	v.SetDefault("grammar.path", "")
	v.SetDefault("grammar.continuations", false)
}
