package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/adfanout/internal/config"
	"github.com/3leaps/adfanout/pkg/bulk"
	"github.com/3leaps/adfanout/pkg/jobregistry"
	"github.com/3leaps/adfanout/pkg/media"
	"github.com/3leaps/adfanout/pkg/output"
	"github.com/3leaps/adfanout/pkg/progress"
	"github.com/3leaps/adfanout/pkg/template"
)

var (
	runFlags        requestFlags
	runMediaDir     string
	runIncludes     []string
	runExcludes     []string
	runTemplateFile string
	runOutput       string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one bulk request in-process",
	Long: `Run one bulk creation request without a server and stream JSONL to
stdout: a media record per imported file, progress records as items are
processed, then an error record per failure and a final summary.

Media can come from --media ids already known to the configured store, or
from --media-dir, which uploads matching files first (in path order).

Examples:
  adfanout run -t spring-sale --templates seed.yaml --media-dir ./assets --include '**/*.jpg'
  adfanout run -f request.yaml -o results.jsonl`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runFlags.register(runCmd)
	runCmd.Flags().StringVar(&runMediaDir, "media-dir", "", "upload supported files under this directory and add them to the request")
	runCmd.Flags().StringArrayVar(&runIncludes, "include", []string{"**/*"}, "doublestar include pattern for --media-dir (repeatable)")
	runCmd.Flags().StringArrayVar(&runExcludes, "exclude", nil, "doublestar exclude pattern for --media-dir (repeatable)")
	runCmd.Flags().StringVar(&runTemplateFile, "templates", "", "template seed file loaded before the run (YAML or JSON)")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "", "write JSONL here instead of stdout")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	req, err := runFlags.build(cmd)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	logger, err := serviceLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	var out io.Writer = os.Stdout
	if runOutput != "" {
		f, err := os.Create(runOutput)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		out = f
	}

	rec, err := executeRun(ctx, cfg, logger, *req, runInputs{
		mediaDir:     runMediaDir,
		includes:     runIncludes,
		excludes:     runExcludes,
		templateFile: runTemplateFile,
	}, out)
	if err != nil {
		return err
	}
	if rec.Status == jobregistry.JobStatusFailed {
		return withExitCode(ExitJobFailed, fmt.Errorf("job %s failed: %d of %d items failed", rec.JobID, rec.FailedCount, rec.TotalItems))
	}
	return nil
}

// runInputs are the local sources a run loads before submitting.
type runInputs struct {
	mediaDir     string
	includes     []string
	excludes     []string
	templateFile string
}

// executeRun builds an in-process runtime, loads inputs, runs req to
// completion and writes the JSONL stream to out.
func executeRun(ctx context.Context, cfg *config.Config, logger *zap.Logger, req bulk.Request, in runInputs, out io.Writer) (*jobregistry.JobRecord, error) {
	jw := output.NewJSONLWriter(out, "", cfg.Platform.Mode)
	defer func() { _ = jw.Close() }()

	a, err := buildApp(ctx, cfg, logger, appOptions{
		extraPublishers: []progress.Publisher{output.NewProgressPublisher(jw, logger)},
	})
	if err != nil {
		return nil, withExitCode(ExitExternalServiceUnavailable, err)
	}
	defer a.close()

	if in.templateFile != "" {
		seed, err := template.LoadSeed(in.templateFile)
		if err != nil {
			return nil, withExitCode(ExitUsage, err)
		}
		if _, err := template.Seed(a.templates, seed); err != nil {
			return nil, err
		}
	}

	if in.mediaDir != "" {
		ids, err := importMedia(ctx, media.ImportConfig{
			Root:     in.mediaDir,
			Includes: in.includes,
			Excludes: in.excludes,
		}, libraryUploader(a.library), jw)
		if err != nil {
			return nil, err
		}
		req.MediaIDs = append(req.MediaIDs, ids...)
	}

	task, err := a.orch.Submit(ctx, req)
	switch {
	case errors.Is(err, bulk.ErrAuthNotInitialized):
		return nil, withExitCode(ExitExternalServiceUnavailable, err)
	case errors.Is(err, bulk.ErrTemplateNotFound):
		return nil, withExitCode(ExitUsage, err)
	case err != nil:
		return nil, err
	}

	rec, err := task.Wait(ctx)
	if err != nil {
		return nil, err
	}
	if err := jw.WriteJobResult(ctx, rec); err != nil {
		return rec, err
	}
	return rec, nil
}
