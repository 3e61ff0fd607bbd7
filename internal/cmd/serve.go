package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/adfanout/internal/server"
	"github.com/3leaps/adfanout/internal/server/handlers"
	"github.com/3leaps/adfanout/pkg/jobregistry"
	"github.com/3leaps/adfanout/pkg/media"
	"github.com/3leaps/adfanout/pkg/platform"
	"github.com/3leaps/adfanout/pkg/progress"
)

var (
	serveHost  string
	servePort  int
	servePprof bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	Long: `Run the adfanout HTTP API.

Routes:
  /health, /health/live, /health/ready, /health/startup, /version
  /api/v1/templates, /api/v1/media, /api/v1/bulk, /api/v1/jobs, /api/v1/preview
  /admin/signal (only when ADFANOUT_ADMIN_TOKEN is set)

Finished jobs older than jobs.retention are pruned on jobs.gc_schedule.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen host (overrides server.host)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "listen port (overrides server.port)")
	serveCmd.Flags().BoolVar(&servePprof, "pprof", false, "mount /debug/pprof")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	overrides := map[string]any{}
	if serveHost != "" {
		overrides["server.host"] = serveHost
	}
	if cmd.Flags().Changed("port") {
		overrides["server.port"] = servePort
	}
	if servePprof {
		overrides["debug.pprof_enabled"] = true
	}
	cfg, err := loadConfig(ctx, overrides)
	if err != nil {
		return err
	}
	logger, err := serviceLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	handlers.InitHealthManager(versionInfo.Version)
	health := handlers.GetHealthManager()
	health.SetStarted(false)

	a, err := buildApp(ctx, cfg, logger, appOptions{})
	if err != nil {
		return withExitCode(ExitExternalServiceUnavailable, err)
	}
	defer a.close()

	initIdentity()
	id := GetAppIdentity()
	health.RegisterChecker("signals", signalHealthChecker{})
	health.RegisterChecker("identity", identityHealthChecker{
		binaryName: id.BinaryName,
		envPrefix:  id.EnvPrefix,
		configName: id.ConfigName,
	})
	health.RegisterChecker("platform", platformHealthChecker{client: a.platform})
	health.RegisterChecker("media", storageHealthChecker{storage: a.library.Storage()})
	if p, ok := a.templates.(pinger); ok {
		health.RegisterChecker("templates", handlers.HealthCheckerFunc(p.Ping))
	}

	gc := &jobGC{
		store:     a.jobs,
		hub:       a.hub,
		retention: cfg.Jobs.Retention,
		logger:    logger.Named("gc"),
	}
	scheduler, err := gc.schedule(cfg.Jobs.GCSchedule)
	if err != nil {
		return withExitCode(ExitConfigInvalid, err)
	}
	if scheduler != nil {
		scheduler.Start()
		defer scheduler.Stop()
	}

	serverOpts := []server.Option{
		server.WithLogger(logger.Named("http")),
		server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout),
		server.WithRateLimit(cfg.Server.RateLimit.RPS, cfg.Server.RateLimit.Burst),
		server.WithPprof(cfg.Debug.Enabled || cfg.Debug.PprofEnabled),
		server.WithServices(server.Services{
			Templates: handlers.NewTemplateHandler(a.templates, logger),
			Media:     handlers.NewMediaHandler(a.library, 0, logger),
			Jobs:      handlers.NewJobHandler(a.orch, a.hub, logger),
			Preview:   handlers.NewPreviewHandler(a.platform, a.templates, a.library, cfg.Platform.CallTimeout, logger),
		}),
		server.WithAdminAction("gc", func(context.Context) error {
			_, err := gc.run()
			return err
		}),
		server.WithAdminAction("shutdown", func(context.Context) error {
			logger.Info("Shutdown requested via admin signal")
			stop()
			return nil
		}),
	}
	srv := server.New(cfg.Server.Host, cfg.Server.Port, serverOpts...)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()
	health.SetStarted(true)

	logger.Info("adfanout server started",
		zap.String("addr", srv.Addr()),
		zap.String("platform", cfg.Platform.Mode),
		zap.String("templates", cfg.Templates.Driver),
		zap.String("media", cfg.Media.Backend),
		zap.String("jobs", cfg.Jobs.Store),
		zap.Int("workers", cfg.Workers),
		zap.String("version", versionInfo.Version))

	select {
	case err := <-errCh:
		if err != nil {
			return withExitCode(ExitFailure, err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down", zap.Duration("timeout", cfg.Server.ShutdownTimeout))
	health.SetStarted(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown did not complete", zap.Error(err))
	}
	if err := <-errCh; err != nil {
		logger.Warn("HTTP server stopped with error", zap.Error(err))
	}
	logger.Info("Server stopped")
	return nil
}

type pinger interface {
	Ping(ctx context.Context) error
}

// signalHealthChecker reports the process as able to receive signals.
type signalHealthChecker struct{}

func (signalHealthChecker) CheckHealth(ctx context.Context) error {
	return nil
}

// identityHealthChecker verifies the app identity is complete.
type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (c identityHealthChecker) CheckHealth(ctx context.Context) error {
	switch {
	case c.binaryName == "":
		return errors.New("app identity missing binary name")
	case c.envPrefix == "":
		return errors.New("app identity missing env prefix")
	case c.configName == "":
		return errors.New("app identity missing config name")
	}
	return nil
}

// platformHealthChecker fails while the ads platform has no credentials.
type platformHealthChecker struct {
	client platform.Client
}

func (c platformHealthChecker) CheckHealth(ctx context.Context) error {
	if c.client == nil {
		return errors.New("platform client not configured")
	}
	if !c.client.Ready() {
		return errors.New("platform credentials not initialized")
	}
	return nil
}

// storageHealthChecker pings media storage when the backend supports it.
type storageHealthChecker struct {
	storage media.Storage
}

func (c storageHealthChecker) CheckHealth(ctx context.Context) error {
	if c.storage == nil {
		return errors.New("media storage not configured")
	}
	if p, ok := c.storage.(media.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// jobGC prunes finished jobs past retention and drops their stream state.
type jobGC struct {
	store     jobregistry.Store
	hub       *progress.Hub
	retention time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

func (g *jobGC) run() (jobregistry.PruneResult, error) {
	now := time.Now().UTC()
	if g.now != nil {
		now = g.now()
	}
	res, err := jobregistry.Prune(g.store, g.retention, now, false)
	if g.hub != nil {
		for _, id := range res.JobIDs {
			g.hub.Forget(id)
		}
	}
	if err != nil {
		g.logger.Warn("Job GC failed", zap.Int("deleted", res.Deleted), zap.Error(err))
		return res, err
	}
	g.logger.Info("Job GC complete",
		zap.Int("scanned", res.Scanned),
		zap.Int("deleted", res.Deleted),
		zap.Duration("retention", g.retention))
	return res, nil
}

// schedule returns a cron scheduler running the GC on spec. An empty spec
// or a non-positive retention disables scheduled GC.
func (g *jobGC) schedule(spec string) (*cron.Cron, error) {
	if spec == "" || g.retention <= 0 {
		return nil, nil
	}
	c := cron.New()
	if _, err := c.AddFunc(spec, func() { _, _ = g.run() }); err != nil {
		return nil, fmt.Errorf("invalid jobs.gc_schedule %q: %w", spec, err)
	}
	return c, nil
}
