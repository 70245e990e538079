package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/c3founder/roampdf/internal/highlight"
	"github.com/c3founder/roampdf/internal/idgen"
	"github.com/c3founder/roampdf/internal/outline"
	"github.com/c3founder/roampdf/internal/records"
	"github.com/c3founder/roampdf/internal/reftoken"
)

// HighlightsOptions holds flags for the highlights command.
type HighlightsOptions struct {
	*RootOptions
	Database string
}

// NewHighlightsCommand creates the highlights command.
func NewHighlightsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HighlightsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "highlights <source-url>",
		Short: "List the recorded highlights of a document",
		Long: `List every highlight recorded for a document, in reading order.

Example:
  roampdf highlights --db ./outline.db https://example.com/paper.pdf
  roampdf highlights --db ./outline.db --format json https://example.com/paper.pdf`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHighlights(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the outline SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runHighlights(opts *HighlightsOptions, source string, cmd *cobra.Command) error {
	ctx := cmd.Context()

	st, err := outline.OpenSQLite(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open outline database", err)
	}
	defer st.Close()

	recs := records.New(st, idgen.Node())
	pageID, ok, err := recs.PageForSource(ctx, source)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to look up document", err)
	}
	if !ok {
		return WrapExitError(ExitCommandError, fmt.Sprintf("no highlights recorded for %s", source), nil)
	}
	slots, err := recs.PageSlots(ctx, pageID)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read data page", err)
	}
	hls, err := recs.ReadAllRecords(ctx, slots.TableID)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read highlights", err)
	}
	highlight.SortReadingOrder(hls)

	if opts.Format == "json" {
		formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
		return formatter.Success(hls)
	}
	for _, hl := range hls {
		color := reftoken.ColorName(hl.Color)
		if color == "" {
			color = "plain"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "p.%-4d %-7s %s\n", hl.Position.PageNumber, color, hl.Content.Text)
	}
	return nil
}
