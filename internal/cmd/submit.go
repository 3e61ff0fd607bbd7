package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/adfanout/internal/observability"
	"github.com/3leaps/adfanout/pkg/bulk"
	"github.com/3leaps/adfanout/pkg/platform"
)

// requestFlags build a bulk.Request from a request file and/or flags.
// Flags override fields loaded from the file.
type requestFlags struct {
	file           string
	templateID     string
	mediaIDs       []string
	campaignName   string
	adSetName      string
	createCampaign bool
	createAdSet    bool
	status         string
	adSetID        string
	budgetAmount   int64
	budgetCurrency string
	budgetType     string
}

func (f *requestFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVarP(&f.file, "request", "f", "", "bulk request file (YAML or JSON)")
	fs.StringVarP(&f.templateID, "template", "t", "", "template id")
	fs.StringSliceVarP(&f.mediaIDs, "media", "m", nil, "media id (repeatable or comma separated); order sets ad numbering")
	fs.StringVar(&f.campaignName, "campaign-name", "", "campaign name (default: \"<template> Campaign\")")
	fs.StringVar(&f.adSetName, "ad-set-name", "", "ad set name (default: \"<template> Ad Set\")")
	fs.BoolVar(&f.createCampaign, "create-campaign", true, "create a campaign")
	fs.BoolVar(&f.createAdSet, "create-ad-set", true, "create an ad set (needs a campaign)")
	fs.StringVar(&f.status, "status", "", "status for created entities: ACTIVE or PAUSED (default PAUSED)")
	fs.StringVar(&f.adSetID, "ad-set-id", "", "existing ad set for ads when none is created")
	fs.Int64Var(&f.budgetAmount, "budget", 0, "ad set budget in minor currency units")
	fs.StringVar(&f.budgetCurrency, "budget-currency", "", "budget currency, e.g. USD")
	fs.StringVar(&f.budgetType, "budget-type", "", "budget type: DAILY or LIFETIME")
}

func (f *requestFlags) build(cmd *cobra.Command) (*bulk.Request, error) {
	req := &bulk.Request{}
	if f.file != "" {
		loaded, err := bulk.LoadRequest(f.file)
		if err != nil {
			return nil, withExitCode(ExitUsage, err)
		}
		req = loaded
	} else {
		req.Options.CreateCampaign = f.createCampaign
		req.Options.CreateAdSet = f.createAdSet
	}

	fs := cmd.Flags()
	if f.templateID != "" {
		req.TemplateID = f.templateID
	}
	if len(f.mediaIDs) > 0 {
		req.MediaIDs = append(req.MediaIDs, f.mediaIDs...)
	}
	if f.campaignName != "" {
		req.CampaignName = f.campaignName
	}
	if f.adSetName != "" {
		req.AdSetName = f.adSetName
	}
	if fs.Changed("create-campaign") {
		req.Options.CreateCampaign = f.createCampaign
	}
	if fs.Changed("create-ad-set") {
		req.Options.CreateAdSet = f.createAdSet
	}
	if f.status != "" {
		req.Options.Status = f.status
	}
	if f.adSetID != "" {
		req.Options.AdSetID = f.adSetID
	}
	if f.budgetAmount > 0 {
		req.Options.Budget = &platform.Budget{
			Amount:   f.budgetAmount,
			Currency: strings.ToUpper(f.budgetCurrency),
			Type:     strings.ToUpper(f.budgetType),
		}
	}

	if err := req.Validate(); err != nil {
		return nil, withExitCode(ExitUsage, err)
	}
	return req, nil
}

var (
	submitFlags requestFlags
	submitWait  bool
	submitQuiet bool
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a bulk request to a server",
	Long: `Submit a bulk creation request to a running adfanout server and print the
job id. With --wait, follow the job's progress stream until it finishes.

Examples:
  adfanout submit -t spring-sale -m 3f2a...,9c1d...
  adfanout submit -f request.yaml --wait`,
	Args: cobra.NoArgs,
	RunE: runSubmit,
}

func init() {
	rootCmd.AddCommand(submitCmd)
	submitFlags.register(submitCmd)
	submitCmd.Flags().BoolVarP(&submitWait, "wait", "w", false, "wait for the job to finish")
	submitCmd.Flags().BoolVarP(&submitQuiet, "quiet", "q", false, "with --wait, only print the final summary")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	req, err := submitFlags.build(cmd)
	if err != nil {
		return err
	}
	client, err := newAPIClient(ctx)
	if err != nil {
		return err
	}

	resp, err := client.Submit(ctx, *req)
	if err != nil {
		return err
	}
	observability.CLILogger.Info(resp.Message,
		zap.String("job_id", resp.JobID),
		zap.String("status", resp.Status),
		zap.Int("items", len(req.MediaIDs)))
	_, _ = fmt.Fprintln(os.Stdout, resp.JobID)

	if !submitWait {
		return nil
	}
	return watchJob(ctx, client, resp.JobID, submitQuiet)
}
