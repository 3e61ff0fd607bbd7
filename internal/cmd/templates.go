package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/adfanout/internal/observability"
	"github.com/3leaps/adfanout/pkg/template"
)

var templatesJSON bool

var templatesCmd = &cobra.Command{
	Use:     "templates",
	Aliases: []string{"template", "tpl"},
	Short:   "Manage ad templates on an adfanout server",
}

var templatesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List templates",
	Args:  cobra.NoArgs,
	RunE:  runTemplatesList,
}

var templatesGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one template as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runTemplatesGet,
}

var templatesApplyCmd = &cobra.Command{
	Use:   "apply <file>",
	Short: "Create or replace templates from a seed file",
	Long: `Create or replace every template in a YAML or JSON seed file:

  templates:
    - id: spring-sale
      name: Spring Sale
      ad_copy:
        headline: 20% off everything
        primary_text: Ends Sunday.

Templates with an id that already exists are replaced; the rest are created.`,
	Args: cobra.ExactArgs(1),
	RunE: runTemplatesApply,
}

var templatesDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a template",
	Args:  cobra.ExactArgs(1),
	RunE:  runTemplatesDelete,
}

func init() {
	rootCmd.AddCommand(templatesCmd)
	templatesCmd.AddCommand(templatesListCmd, templatesGetCmd, templatesApplyCmd, templatesDeleteCmd)
	templatesListCmd.Flags().BoolVar(&templatesJSON, "json", false, "output JSON")
}

func runTemplatesList(cmd *cobra.Command, args []string) error {
	client, err := newAPIClient(cmd.Context())
	if err != nil {
		return err
	}
	items, err := client.ListTemplates(cmd.Context())
	if err != nil {
		return err
	}
	if templatesJSON {
		return printJSON(items)
	}

	w := newTabWriter()
	defer func() { _ = w.Flush() }()
	_, _ = fmt.Fprintln(w, "ID\tNAME\tHEADLINE\tCTA\tUPDATED")
	for _, t := range items {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			t.ID, t.Name, orDash(t.AdCopy.Headline), orDash(t.AdCopy.CallToAction), formatOptionalTime(&t.UpdatedAt))
	}
	return nil
}

func runTemplatesGet(cmd *cobra.Command, args []string) error {
	client, err := newAPIClient(cmd.Context())
	if err != nil {
		return err
	}
	t, err := client.GetTemplate(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printJSON(t)
}

func runTemplatesApply(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	seed, err := template.LoadSeed(args[0])
	if err != nil {
		return withExitCode(ExitUsage, err)
	}
	if len(seed) == 0 {
		return withExitCode(ExitUsage, fmt.Errorf("%s contains no templates", args[0]))
	}
	client, err := newAPIClient(ctx)
	if err != nil {
		return err
	}

	created, replaced := 0, 0
	for _, t := range seed {
		got, isNew, err := client.ApplyTemplate(ctx, t)
		if err != nil {
			return fmt.Errorf("apply template %q: %w", t.Name, err)
		}
		action := "replaced"
		if isNew {
			action = "created"
			created++
		} else {
			replaced++
		}
		observability.CLILogger.Debug("Template "+action, zap.String("id", got.ID), zap.String("name", got.Name))
		_, _ = fmt.Fprintf(os.Stdout, "%s\t%s\n", got.ID, action)
	}
	observability.CLILogger.Info(fmt.Sprintf("Applied %d template(s): %d created, %d replaced", len(seed), created, replaced))
	return nil
}

func runTemplatesDelete(cmd *cobra.Command, args []string) error {
	client, err := newAPIClient(cmd.Context())
	if err != nil {
		return err
	}
	if err := client.DeleteTemplate(cmd.Context(), args[0]); err != nil {
		return err
	}
	observability.CLILogger.Info("Template deleted", zap.String("id", args[0]))
	return nil
}
