package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/adfanout/internal/observability"
	"github.com/3leaps/adfanout/pkg/apiclient"
	"github.com/3leaps/adfanout/pkg/jobregistry"
	"github.com/3leaps/adfanout/pkg/progress"
)

var (
	jobsJSON       bool
	jobsStatus     string
	jobsLimit      int
	jobsGCMaxAge   time.Duration
	jobsGCDryRun   bool
	jobsGCRemote   bool
	jobsWatchQuiet bool
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and manage bulk creation jobs",
	Long: `Inspect and manage bulk creation jobs on an adfanout server.

Job ids may be given in full or as a unique prefix (the table output shows
the first 12 characters).`,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runJobsList,
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job_id>",
	Short: "Show one job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsStatus,
}

var jobsDeleteCmd = &cobra.Command{
	Use:   "delete <job_id>",
	Short: "Delete a job record",
	Long: `Delete a job record. A job that is still running is abandoned: its
remaining items are skipped and watchers receive a final update.`,
	Args: cobra.ExactArgs(1),
	RunE: runJobsDelete,
}

var jobsWatchCmd = &cobra.Command{
	Use:   "watch <job_id>",
	Short: "Follow a job's progress until it finishes",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsWatch,
}

var jobsGCCmd = &cobra.Command{
	Use:   "gc",
	Short: "Delete finished jobs older than a retention window",
	Long: `Delete COMPLETED and FAILED jobs that ended before now minus --max-age.

By default this prunes the local file job store named by jobs.dir. With
--remote it asks a running server to run its own GC through
POST /admin/signal, which requires ADFANOUT_ADMIN_TOKEN.`,
	Args: cobra.NoArgs,
	RunE: runJobsGC,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd, jobsStatusCmd, jobsDeleteCmd, jobsWatchCmd, jobsGCCmd)

	jobsListCmd.Flags().BoolVar(&jobsJSON, "json", false, "output JSON")
	jobsListCmd.Flags().StringVar(&jobsStatus, "status", "", "filter by status (PENDING, PROCESSING, COMPLETED, FAILED)")
	jobsListCmd.Flags().IntVar(&jobsLimit, "limit", 0, "maximum number of jobs (0 = all)")

	jobsStatusCmd.Flags().BoolVar(&jobsJSON, "json", false, "output JSON")

	jobsWatchCmd.Flags().BoolVarP(&jobsWatchQuiet, "quiet", "q", false, "only print the final summary")

	jobsGCCmd.Flags().DurationVar(&jobsGCMaxAge, "max-age", 0, "retention window (default: jobs.retention)")
	jobsGCCmd.Flags().BoolVar(&jobsGCDryRun, "dry-run", false, "report what would be deleted")
	jobsGCCmd.Flags().BoolVar(&jobsGCRemote, "remote", false, "run GC on the server via the admin endpoint")
	jobsGCCmd.Flags().BoolVar(&jobsJSON, "json", false, "output JSON")
}

func runJobsList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	client, err := newAPIClient(ctx)
	if err != nil {
		return err
	}
	jobs, err := client.ListJobs(ctx, jobsStatus, jobsLimit)
	if err != nil {
		return err
	}
	if jobsJSON {
		return printJSON(jobs)
	}

	w := newTabWriter()
	defer func() { _ = w.Flush() }()
	_, _ = fmt.Fprintln(w, "JOB ID\tSTATUS\tPROGRESS\tCREATED\tFAILED\tTOTAL\tTEMPLATE\tSTARTED\tENDED")
	for _, j := range jobs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d%%\t%d\t%d\t%d\t%s\t%s\t%s\n",
			shortID(j.JobID), j.Status, j.Progress, j.CreatedCount, j.FailedCount, j.TotalItems,
			orDash(j.TemplateID), formatOptionalTime(j.StartedAt), formatOptionalTime(j.EndedAt))
	}
	return nil
}

func runJobsStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	client, err := newAPIClient(ctx)
	if err != nil {
		return err
	}
	id, err := remoteJobID(ctx, client, args[0])
	if err != nil {
		return err
	}
	rec, err := client.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if jobsJSON {
		return printJSON(rec)
	}
	printJobRecord(rec)
	return nil
}

func printJobRecord(rec *jobregistry.JobRecord) {
	out := os.Stdout
	_, _ = fmt.Fprintf(out, "job_id=%s\n", rec.JobID)
	_, _ = fmt.Fprintf(out, "status=%s\n", rec.Status)
	_, _ = fmt.Fprintf(out, "progress=%d\n", rec.Progress)
	_, _ = fmt.Fprintf(out, "template_id=%s\n", rec.TemplateID)
	if rec.CampaignName != "" {
		_, _ = fmt.Fprintf(out, "campaign_name=%s\n", rec.CampaignName)
	}
	if rec.AdSetName != "" {
		_, _ = fmt.Fprintf(out, "ad_set_name=%s\n", rec.AdSetName)
	}
	_, _ = fmt.Fprintf(out, "total_items=%d\n", rec.TotalItems)
	_, _ = fmt.Fprintf(out, "created_count=%d\n", rec.CreatedCount)
	_, _ = fmt.Fprintf(out, "failed_count=%d\n", rec.FailedCount)
	if rec.Results.CampaignID != "" {
		_, _ = fmt.Fprintf(out, "campaign_id=%s\n", rec.Results.CampaignID)
	}
	if rec.Results.AdSetID != "" {
		_, _ = fmt.Fprintf(out, "ad_set_id=%s\n", rec.Results.AdSetID)
	}
	if len(rec.Results.AdIDs) > 0 {
		_, _ = fmt.Fprintf(out, "ad_ids=%s\n", strings.Join(rec.Results.AdIDs, ","))
	}
	_, _ = fmt.Fprintf(out, "created_at=%s\n", formatOptionalTime(&rec.CreatedAt))
	_, _ = fmt.Fprintf(out, "started_at=%s\n", formatOptionalTime(rec.StartedAt))
	_, _ = fmt.Fprintf(out, "ended_at=%s\n", formatOptionalTime(rec.EndedAt))
	for _, e := range rec.Results.Errors() {
		_, _ = fmt.Fprintf(out, "error=%s\n", e)
	}
}

func runJobsDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	client, err := newAPIClient(ctx)
	if err != nil {
		return err
	}
	id, err := remoteJobID(ctx, client, args[0])
	if err != nil {
		return err
	}
	if err := client.DeleteJob(ctx, id); err != nil {
		return err
	}
	observability.CLILogger.Info("Job deleted", zap.String("job_id", id))
	return nil
}

func runJobsWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	client, err := newAPIClient(ctx)
	if err != nil {
		return err
	}
	id, err := remoteJobID(ctx, client, args[0])
	if err != nil {
		return err
	}
	return watchJob(ctx, client, id, jobsWatchQuiet)
}

// watchJob follows id to the end and prints the final record. A FAILED job
// maps to ExitJobFailed.
func watchJob(ctx context.Context, client *apiclient.Client, id string, quiet bool) error {
	last, err := client.WatchJob(ctx, id, func(ev apiclient.Event) {
		if quiet {
			return
		}
		logProgressEvent(ev)
	})
	if err != nil {
		return err
	}

	rec, err := client.GetJob(ctx, id)
	if err != nil {
		if errors.Is(err, apiclient.ErrNotFound) {
			return fmt.Errorf("job %s was deleted before it finished", id)
		}
		return err
	}
	printJobRecord(rec)

	if last == nil || !last.Terminal {
		return fmt.Errorf("progress stream for job %s ended early", id)
	}
	if rec.Status == jobregistry.JobStatusFailed {
		return withExitCode(ExitJobFailed, fmt.Errorf("job %s failed", id))
	}
	return nil
}

func logProgressEvent(ev apiclient.Event) {
	u := ev.Update
	switch ev.Type {
	case "deleted":
		observability.CLILogger.Warn("Job deleted", zap.String("job_id", u.JobID))
	default:
		observability.CLILogger.Info(progressLine(u),
			zap.String("job_id", u.JobID),
			zap.String("status", u.Status))
	}
}

func progressLine(u progress.Update) string {
	line := fmt.Sprintf("[%3d%%] %d/%d created, %d failed", u.Progress, u.Created, u.Total, u.Failed)
	if u.Message != "" {
		line += " - " + u.Message
	}
	return line
}

func runJobsGC(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if jobsGCRemote {
		token := adminToken()
		if token == "" {
			return withExitCode(ExitUsage, errors.New("--remote requires ADFANOUT_ADMIN_TOKEN"))
		}
		client, err := newAPIClient(ctx)
		if err != nil {
			return err
		}
		if err := client.AdminSignal(ctx, token, "gc"); err != nil {
			return err
		}
		observability.CLILogger.Info("Server GC requested")
		return nil
	}

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	if cfg.Jobs.Store != "file" {
		return withExitCode(ExitUsage, fmt.Errorf("local gc needs jobs.store=file (got %q); use --remote for a running server", cfg.Jobs.Store))
	}
	store, err := openJobs(cfg.Jobs)
	if err != nil {
		return err
	}

	maxAge := jobsGCMaxAge
	if maxAge <= 0 {
		maxAge = cfg.Jobs.Retention
	}
	res, err := jobregistry.Prune(store, maxAge, time.Now().UTC(), jobsGCDryRun)
	if err != nil {
		return err
	}
	if jobsJSON {
		return printJSON(res)
	}

	verb := "Deleted"
	if res.DryRun {
		verb = "Would delete"
	}
	observability.CLILogger.Info(fmt.Sprintf("%s %d of %d job(s)", verb, res.Deleted, res.Scanned),
		zap.Duration("max_age", maxAge))
	for _, id := range res.JobIDs {
		_, _ = fmt.Fprintln(os.Stdout, id)
	}
	return nil
}
