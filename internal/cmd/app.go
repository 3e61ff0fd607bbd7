package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/zap"

	"github.com/3leaps/adfanout/internal/config"
	"github.com/3leaps/adfanout/internal/observability"
	"github.com/3leaps/adfanout/pkg/bulk"
	"github.com/3leaps/adfanout/pkg/jobregistry"
	"github.com/3leaps/adfanout/pkg/media"
	"github.com/3leaps/adfanout/pkg/platform"
	"github.com/3leaps/adfanout/pkg/progress"
	"github.com/3leaps/adfanout/pkg/template"
)

// app holds the runtime built from configuration. serve and run share it.
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	templates template.Store
	library   *media.Library
	platform  platform.Client
	jobs      jobregistry.Store
	hub       *progress.Hub
	bus       *gochannel.GoChannel
	exec      *bulk.Executor
	orch      *bulk.Orchestrator

	relayDone <-chan struct{}
	closers   []func() error
}

// appOptions adjust buildApp for one command.
type appOptions struct {
	// extraPublishers receive every update next to the bus.
	extraPublishers []progress.Publisher
}

func buildApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts appOptions) (a *app, err error) {
	a = &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.close()
			a = nil
		}
	}()

	if a.templates, err = openTemplates(ctx, cfg.Templates, a); err != nil {
		return a, err
	}
	if a.library, err = openMedia(ctx, cfg.Media, logger); err != nil {
		return a, err
	}
	if a.platform, err = openPlatform(cfg.Platform, a.library, logger); err != nil {
		return a, err
	}
	if a.jobs, err = openJobs(cfg.Jobs); err != nil {
		return a, err
	}

	a.hub = progress.NewHub(cfg.Events.Buffer)
	a.bus = progress.NewGoChannelBus(cfg.Events.BusBuffer, progress.NewZapLoggerAdapter(logger.Named("bus")))
	a.closers = append(a.closers, a.bus.Close)

	relay := progress.NewRelay(a.bus, progress.DefaultTopic, a.hub, logger.Named("relay"))
	if a.relayDone, err = relay.Start(ctx); err != nil {
		return a, fmt.Errorf("start progress relay: %w", err)
	}

	pubs := []progress.Publisher{
		progress.NewBusPublisher(a.bus, progress.DefaultTopic, logger.Named("bus")),
		progress.NewLogPublisher(logger.Named("progress")),
	}
	pubs = append(pubs, opts.extraPublishers...)

	queue := cfg.Jobs.QueueSize
	if queue <= 0 {
		queue = 1024
	}
	a.exec = bulk.NewExecutor(cfg.Workers, queue, logger.Named("executor"))
	a.exec.Start(ctx)

	a.orch, err = bulk.New(bulk.Deps{
		Platform:  a.platform,
		Templates: a.templates,
		Jobs:      a.jobs,
		Runner:    a.exec,
		Media:     a.library,
		Publisher: progress.NewMulti(logger, pubs...),
		Logger:    logger.Named("bulk"),
	}, bulk.Config{
		CallTimeout:     cfg.Platform.CallTimeout,
		FallbackAdSetID: cfg.Platform.FallbackAdSetID,
		Objective:       cfg.Platform.Objective,
		DefaultBudget: platform.Budget{
			Amount:   cfg.Platform.DefaultBudget.Amount,
			Currency: cfg.Platform.DefaultBudget.Currency,
			Type:     cfg.Platform.DefaultBudget.Type,
		},
	})
	if err != nil {
		a.exec.Stop()
		return a, err
	}
	return a, nil
}

// close stops the executor, then releases stores and the bus in reverse
// order of creation.
func (a *app) close() {
	if a == nil {
		return
	}
	if a.exec != nil {
		a.exec.Stop()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("Close failed", zap.Error(err))
		}
	}
	a.closers = nil
	if a.relayDone != nil {
		<-a.relayDone
		a.relayDone = nil
	}
}

func openTemplates(ctx context.Context, cfg config.TemplatesConfig, a *app) (template.Store, error) {
	var store template.Store
	switch cfg.Driver {
	case "", "memory":
		store = template.NewMemoryStore()
	case "sqlite":
		path := cfg.Path
		if path == "" {
			path = filepath.Join(dataDir(), "templates.db")
		}
		db, err := template.OpenSQLite(ctx, template.SQLiteConfig{Path: path})
		if err != nil {
			return nil, fmt.Errorf("open template store: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		store = db
	default:
		return nil, fmt.Errorf("unknown templates driver %q", cfg.Driver)
	}

	if cfg.SeedFile != "" {
		seed, err := template.LoadSeed(cfg.SeedFile)
		if err != nil {
			return nil, err
		}
		n, err := template.Seed(store, seed)
		if err != nil {
			return nil, fmt.Errorf("seed templates: %w", err)
		}
		a.logger.Info("Seeded templates", zap.String("file", cfg.SeedFile), zap.Int("created", n))
	}
	return store, nil
}

func openMedia(ctx context.Context, cfg config.MediaConfig, logger *zap.Logger) (*media.Library, error) {
	storage, err := openStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return media.NewLibrary(storage, media.Limits{
		MaxImageBytes: cfg.MaxImageBytes,
		MaxVideoBytes: cfg.MaxVideoBytes,
	}, logger.Named("media")), nil
}

func openStorage(ctx context.Context, cfg config.MediaConfig) (media.Storage, error) {
	switch cfg.Backend {
	case "", "local":
		dir := cfg.LocalDir
		if dir == "" {
			dir = filepath.Join(dataDir(), "media")
		}
		return media.NewLocalStorage(dir, cfg.BaseURL)
	case "s3":
		return media.NewS3Storage(ctx, s3ConfigFrom(cfg))
	default:
		return nil, fmt.Errorf("unknown media backend %q", cfg.Backend)
	}
}

// s3ConfigFrom maps media settings onto the S3 backend. Static keys come
// from the standard AWS environment variables when both are set.
func s3ConfigFrom(cfg config.MediaConfig) media.S3Config {
	return media.S3Config{
		Bucket:          cfg.S3.Bucket,
		Prefix:          cfg.S3.Prefix,
		Region:          cfg.S3.Region,
		Endpoint:        cfg.S3.Endpoint,
		Profile:         cfg.S3.Profile,
		AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		ForcePathStyle:  cfg.S3.ForcePathStyle,
		PublicBaseURL:   cfg.BaseURL,
	}
}

func openPlatform(cfg config.PlatformConfig, lib *media.Library, logger *zap.Logger) (platform.Client, error) {
	switch cfg.Mode {
	case "", "sandbox":
		logger.Warn("Using the sandbox ads platform; nothing is created remotely")
		return platform.NewSandbox(), nil
	case "graph":
		var opener platform.MediaOpener
		if lib != nil {
			opener = lib.Open
		}
		client, err := platform.NewGraphClient(platform.GraphConfig{
			BaseURL:     cfg.BaseURL,
			APIVersion:  cfg.APIVersion,
			AccessToken: cfg.AccessToken,
			AdAccountID: cfg.AdAccountID,
			PageID:      cfg.PageID,
			CallTimeout: cfg.CallTimeout,
			RateLimit:   cfg.RateLimit,
			Burst:       cfg.RateBurst,
			OpenMedia:   opener,
			Logger:      logger.Named("platform"),
		})
		if err != nil {
			return nil, err
		}
		if !client.Ready() {
			logger.Warn("Ads platform credentials are not configured; bulk requests will be rejected")
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown platform mode %q", cfg.Mode)
	}
}

func openJobs(cfg config.JobsConfig) (jobregistry.Store, error) {
	switch cfg.Store {
	case "", "memory":
		return jobregistry.NewMemoryStore(), nil
	case "file":
		dir := cfg.Dir
		if dir == "" {
			dir = filepath.Join(dataDir(), "jobs")
		}
		return jobregistry.NewFileStore(dir), nil
	default:
		return nil, fmt.Errorf("unknown jobs store %q", cfg.Store)
	}
}

// dataDir is the default root for local state:
// $XDG_DATA_HOME/adfanout, else ~/.local/share/adfanout.
func dataDir() string {
	name := config.Identity().BinaryName
	if xdg := strings.TrimSpace(os.Getenv("XDG_DATA_HOME")); xdg != "" {
		return filepath.Join(xdg, name)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", name)
	}
	return filepath.Join(os.TempDir(), name)
}

// loadConfig loads configuration and maps failures to ExitConfigInvalid.
func loadConfig(ctx context.Context, overrides ...map[string]any) (*config.Config, error) {
	cfg, err := config.Load(ctx, overrides...)
	if err != nil {
		return nil, withExitCode(ExitConfigInvalid, err)
	}
	return cfg, nil
}

// serviceLogger builds the structured logger for long-running commands.
func serviceLogger(cfg *config.Config) (*zap.Logger, error) {
	logger, err := observability.NewLogger(config.Identity().BinaryName, cfg.Logging.Level, cfg.Logging.Profile)
	if err != nil {
		return nil, withExitCode(ExitConfigInvalid, err)
	}
	return logger, nil
}
