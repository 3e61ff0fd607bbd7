package config

import (
	"github.com/spf13/viper"
)

// ApplyDefaults registers the built-in defaults on v.
func ApplyDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.rate_limit.rps", 0)
	v.SetDefault("server.rate_limit.burst", 20)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	v.SetDefault("health.enabled", true)

	v.SetDefault("debug.enabled", false)
	v.SetDefault("debug.pprof_enabled", false)

	v.SetDefault("workers", 4)

	v.SetDefault("platform.mode", "sandbox")
	v.SetDefault("platform.base_url", "https://graph.facebook.com")
	v.SetDefault("platform.api_version", "v21.0")
	v.SetDefault("platform.access_token", "")
	v.SetDefault("platform.ad_account_id", "")
	v.SetDefault("platform.page_id", "")
	v.SetDefault("platform.call_timeout", "10s")
	v.SetDefault("platform.rate_limit", 0)
	v.SetDefault("platform.rate_burst", 1)
	v.SetDefault("platform.fallback_ad_set_id", "placeholder_ad_set_id")
	v.SetDefault("platform.objective", "OUTCOME_TRAFFIC")
	v.SetDefault("platform.default_budget.amount", 1000)
	v.SetDefault("platform.default_budget.currency", "USD")
	v.SetDefault("platform.default_budget.type", "DAILY")

	v.SetDefault("templates.driver", "memory")
	v.SetDefault("templates.path", "")
	v.SetDefault("templates.seed_file", "")

	v.SetDefault("media.backend", "local")
	v.SetDefault("media.local_dir", "")
	v.SetDefault("media.base_url", "")
	v.SetDefault("media.max_image_bytes", 30<<20)
	v.SetDefault("media.max_video_bytes", 1<<30)
	v.SetDefault("media.s3.bucket", "")
	v.SetDefault("media.s3.region", "")
	v.SetDefault("media.s3.endpoint", "")
	v.SetDefault("media.s3.prefix", "")
	v.SetDefault("media.s3.profile", "")
	v.SetDefault("media.s3.force_path_style", false)

	v.SetDefault("jobs.store", "memory")
	v.SetDefault("jobs.dir", "")
	v.SetDefault("jobs.queue_size", 1024)
	v.SetDefault("jobs.retention", "168h")
	v.SetDefault("jobs.gc_schedule", "@hourly")

	v.SetDefault("events.buffer", 32)
	v.SetDefault("events.bus_buffer", 64)
}
