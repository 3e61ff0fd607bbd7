package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/3leaps/adfanout/pkg/validation"
)

// AppIdentity names the binary, its env prefix and its config file.
type AppIdentity struct {
	BinaryName string
	EnvPrefix  string
	ConfigName string
}

// DefaultIdentity is the identity used when none has been set.
var DefaultIdentity = AppIdentity{
	BinaryName: "adfanout",
	EnvPrefix:  "ADFANOUT",
	ConfigName: "adfanout",
}

// EnvSpec maps one environment variable to a config path.
type EnvSpec struct {
	Name string
	Path string
}

var (
	configMu    sync.RWMutex
	appIdentity *AppIdentity
	appConfig   *Config
	configFile  string
)

// SetConfigFile makes Load read path instead of searching for a config
// file. An empty path restores the search.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	configFile = path
}

// Identity returns the active app identity.
func Identity() AppIdentity {
	configMu.RLock()
	defer configMu.RUnlock()
	if appIdentity == nil {
		return DefaultIdentity
	}
	return *appIdentity
}

// GetConfig returns the configuration from the most recent Load, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// Load resolves the configuration. Each override map is applied on top of
// everything else, in order; nested maps address nested keys.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	configMu.Lock()
	if appIdentity == nil {
		id := DefaultIdentity
		appIdentity = &id
	}
	explicit := configFile
	configMu.Unlock()

	v := viper.New()
	ApplyDefaults(v)

	if err := readConfigFile(v, explicit); err != nil {
		return nil, err
	}

	identity := Identity()
	v.SetEnvPrefix(identity.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Path, spec.Name); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", spec.Name, err)
		}
	}

	for _, o := range overrides {
		for key, val := range flatten("", o) {
			v.Set(key, val)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	normalize(&cfg)
	if err := validation.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()
	return &cfg, nil
}

func normalize(cfg *Config) {
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	cfg.Logging.Profile = strings.ToUpper(strings.TrimSpace(cfg.Logging.Profile))
	cfg.Platform.Mode = strings.ToLower(strings.TrimSpace(cfg.Platform.Mode))
	cfg.Platform.DefaultBudget.Currency = strings.ToUpper(cfg.Platform.DefaultBudget.Currency)
	cfg.Platform.DefaultBudget.Type = strings.ToUpper(cfg.Platform.DefaultBudget.Type)
	cfg.Templates.Driver = strings.ToLower(strings.TrimSpace(cfg.Templates.Driver))
	cfg.Media.Backend = strings.ToLower(strings.TrimSpace(cfg.Media.Backend))
	cfg.Jobs.Store = strings.ToLower(strings.TrimSpace(cfg.Jobs.Store))
}

func readConfigFile(v *viper.Viper, explicit string) error {
	if explicit != "" {
		v.SetConfigFile(explicit)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", explicit, err)
		}
		return nil
	}

	v.SetConfigName(Identity().ConfigName)
	v.SetConfigType("yaml")
	if root, err := findProjectRoot(); err == nil {
		v.AddConfigPath(filepath.Join(root, "config"))
	}
	for _, p := range getUserConfigPaths() {
		v.AddConfigPath(p)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// flatten turns nested override maps into dotted viper keys.
func flatten(prefix string, in map[string]any) map[string]any {
	out := make(map[string]any)
	for k, val := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = val
	}
	return out
}

// getUserConfigPaths lists per-user config directories, most specific first.
func getUserConfigPaths() []string {
	configMu.RLock()
	id := appIdentity
	configMu.RUnlock()
	if id == nil {
		return []string{}
	}

	var paths []string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		paths = append(paths, filepath.Join(xdg, id.ConfigName))
	}
	if dir, err := os.UserConfigDir(); err == nil {
		p := filepath.Join(dir, id.ConfigName)
		if len(paths) == 0 || paths[0] != p {
			paths = append(paths, p)
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, "."+id.ConfigName))
	}
	return paths
}

// getEnvSpecs returns the explicit environment variable mappings. Keys not
// listed here are still reachable as PREFIX_SECTION_KEY.
func getEnvSpecs() []EnvSpec {
	configMu.RLock()
	id := appIdentity
	configMu.RUnlock()
	if id == nil {
		return []EnvSpec{}
	}

	p := id.EnvPrefix + "_"
	return []EnvSpec{
		{p + "HOST", "server.host"},
		{p + "PORT", "server.port"},
		{p + "READ_TIMEOUT", "server.read_timeout"},
		{p + "WRITE_TIMEOUT", "server.write_timeout"},
		{p + "IDLE_TIMEOUT", "server.idle_timeout"},
		{p + "SHUTDOWN_TIMEOUT", "server.shutdown_timeout"},
		{p + "RATE_LIMIT_RPS", "server.rate_limit.rps"},
		{p + "LOG_LEVEL", "logging.level"},
		{p + "LOG_PROFILE", "logging.profile"},
		{p + "HEALTH_ENABLED", "health.enabled"},
		{p + "DEBUG", "debug.enabled"},
		{p + "PPROF_ENABLED", "debug.pprof_enabled"},
		{p + "WORKERS", "workers"},
		{p + "PLATFORM_MODE", "platform.mode"},
		{p + "ACCESS_TOKEN", "platform.access_token"},
		{p + "AD_ACCOUNT_ID", "platform.ad_account_id"},
		{p + "PAGE_ID", "platform.page_id"},
		{p + "CALL_TIMEOUT", "platform.call_timeout"},
		{p + "TEMPLATES_DRIVER", "templates.driver"},
		{p + "TEMPLATES_PATH", "templates.path"},
		{p + "MEDIA_BACKEND", "media.backend"},
		{p + "MEDIA_DIR", "media.local_dir"},
		{p + "S3_BUCKET", "media.s3.bucket"},
		{p + "S3_REGION", "media.s3.region"},
		{p + "S3_ENDPOINT", "media.s3.endpoint"},
		{p + "JOBS_STORE", "jobs.store"},
		{p + "JOBS_DIR", "jobs.dir"},
		{p + "JOBS_RETENTION", "jobs.retention"},
	}
}

// findProjectRoot locates the directory holding go.mod or a config/
// directory, starting from the working directory.
//
// In CI the checkout may live outside $HOME, so an absolute workspace hint
// is honored when it contains the working directory.
func findProjectRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	if boundary := ciBoundary(); boundary != "" {
		if rel, err := filepath.Rel(boundary, cwd); err == nil && !strings.HasPrefix(rel, "..") {
			if root, ok := walkUp(cwd, boundary); ok {
				return root, nil
			}
		}
	}

	if root, ok := walkUp(cwd, ""); ok {
		return root, nil
	}
	return cwd, nil
}

func ciBoundary() string {
	if os.Getenv("CI") == "" && os.Getenv("GITHUB_ACTIONS") == "" {
		return ""
	}
	for _, name := range []string{"ADFANOUT_WORKSPACE_ROOT", "GITHUB_WORKSPACE", "CI_PROJECT_DIR", "WORKSPACE"} {
		dir := os.Getenv(name)
		if dir == "" || !filepath.IsAbs(dir) {
			continue
		}
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return filepath.Clean(dir)
		}
	}
	return ""
}

// walkUp returns the first ancestor of start (inclusive) holding go.mod,
// never climbing above stop when stop is set.
func walkUp(start, stop string) (string, bool) {
	dir := start
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, true
		}
		if stop != "" && dir == stop {
			return "", false
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}
