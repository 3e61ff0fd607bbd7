package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/adfanout/internal/observability"
	"github.com/3leaps/adfanout/pkg/media"
	"github.com/3leaps/adfanout/pkg/output"
)

var (
	mediaImportIncludes      []string
	mediaImportExcludes      []string
	mediaImportIncludeHidden bool
	mediaImportDryRun        bool
	mediaListJSON            bool
)

var mediaCmd = &cobra.Command{
	Use:   "media",
	Short: "Manage media on an adfanout server",
}

var mediaImportCmd = &cobra.Command{
	Use:   "import <dir>",
	Short: "Upload matching files from a directory",
	Long: `Upload every supported image and video under <dir> that matches the
include patterns. Files are uploaded in path order and one JSONL media
record is written to stdout per upload, so the ids can be piped into a
bulk request.

Examples:
  adfanout media import ./assets --include '**/*.jpg' --include '**/*.mp4'
  adfanout media import ./assets --include '**/*' --exclude 'drafts/**' --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: runMediaImport,
}

var mediaListCmd = &cobra.Command{
	Use:   "list",
	Short: "List uploaded media",
	Args:  cobra.NoArgs,
	RunE:  runMediaList,
}

func init() {
	rootCmd.AddCommand(mediaCmd)
	mediaCmd.AddCommand(mediaImportCmd, mediaListCmd)

	mediaImportCmd.Flags().StringArrayVar(&mediaImportIncludes, "include", []string{"**/*"}, "doublestar include pattern (repeatable)")
	mediaImportCmd.Flags().StringArrayVar(&mediaImportExcludes, "exclude", nil, "doublestar exclude pattern (repeatable)")
	mediaImportCmd.Flags().BoolVar(&mediaImportIncludeHidden, "include-hidden", false, "include dotfiles and dot directories")
	mediaImportCmd.Flags().BoolVar(&mediaImportDryRun, "dry-run", false, "list matching files without uploading")

	mediaListCmd.Flags().BoolVar(&mediaListJSON, "json", false, "output JSON")
}

// uploadFunc stores one file and returns its descriptor.
type uploadFunc func(ctx context.Context, name string, body io.Reader, size int64) (*media.Descriptor, error)

// libraryUploader uploads into an in-process library.
func libraryUploader(lib *media.Library) uploadFunc {
	return func(ctx context.Context, name string, body io.Reader, size int64) (*media.Descriptor, error) {
		return lib.Upload(ctx, media.UploadInput{Filename: name, Body: body, Size: size})
	}
}

// importMedia uploads every candidate under cfg.Root in order and writes
// one media record per upload. It returns the new media ids.
func importMedia(ctx context.Context, cfg media.ImportConfig, upload uploadFunc, w *output.JSONLWriter) ([]string, error) {
	candidates, err := media.FindImportCandidates(cfg)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no supported media files under %s", cfg.Root)
	}

	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		d, err := uploadFile(ctx, filepath.Join(cfg.Root, filepath.FromSlash(c.Path)), c.Size, upload)
		if err != nil {
			return ids, fmt.Errorf("upload %s: %w", c.Path, err)
		}
		ids = append(ids, d.ID)
		observability.CLILogger.Debug("Uploaded media",
			zap.String("path", c.Path),
			zap.String("media_id", d.ID))
		if w != nil {
			rec := &output.MediaRecord{
				ID:     d.ID,
				Path:   c.Path,
				Kind:   string(d.Kind),
				Size:   d.Size,
				URL:    d.URL,
				Width:  d.Width,
				Height: d.Height,
			}
			if err := w.WriteMedia(ctx, rec); err != nil {
				return ids, err
			}
		}
	}
	return ids, nil
}

func uploadFile(ctx context.Context, path string, size int64, upload uploadFunc) (*media.Descriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return upload(ctx, filepath.Base(path), f, size)
}

func runMediaImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := media.ImportConfig{
		Root:          args[0],
		Includes:      mediaImportIncludes,
		Excludes:      mediaImportExcludes,
		IncludeHidden: mediaImportIncludeHidden,
	}

	if mediaImportDryRun {
		candidates, err := media.FindImportCandidates(cfg)
		if err != nil {
			return withExitCode(ExitUsage, err)
		}
		tw := newTabWriter()
		_, _ = fmt.Fprintln(tw, "PATH\tKIND\tSIZE")
		for _, c := range candidates {
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\n", c.Path, c.Kind, c.Size)
		}
		return tw.Flush()
	}

	client, err := newAPIClient(ctx)
	if err != nil {
		return err
	}
	upload := func(ctx context.Context, name string, body io.Reader, _ int64) (*media.Descriptor, error) {
		return client.UploadMedia(ctx, name, body)
	}

	w := output.NewJSONLWriter(os.Stdout, "", "")
	defer func() { _ = w.Close() }()
	ids, err := importMedia(ctx, cfg, upload, w)
	if err != nil {
		return err
	}
	observability.CLILogger.Info(fmt.Sprintf("Uploaded %d media file(s)", len(ids)))
	return nil
}

func runMediaList(cmd *cobra.Command, args []string) error {
	client, err := newAPIClient(cmd.Context())
	if err != nil {
		return err
	}
	items, err := client.ListMedia(cmd.Context())
	if err != nil {
		return err
	}
	if mediaListJSON {
		return printJSON(items)
	}

	tw := newTabWriter()
	_, _ = fmt.Fprintln(tw, "ID\tKIND\tFILENAME\tSIZE\tDIMENSIONS\tCREATED")
	for _, d := range items {
		dims := "-"
		if d.Width > 0 && d.Height > 0 {
			dims = fmt.Sprintf("%dx%d", d.Width, d.Height)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			shortID(d.ID), d.Kind, d.Filename, d.Size, dims, formatOptionalTime(&d.CreatedAt))
	}
	return tw.Flush()
}
