package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/iota-uz/roster/modules/roster/services"
)

func newFalsePositivesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "false-positives",
		Short: "Bulk-resolve pending deltas of a time range as false positives",
	}
	cmd.AddCommand(newFalsePositivesPreviewCmd())
	cmd.AddCommand(newFalsePositivesResolveCmd())
	return cmd
}

func parseRange(from, to string) (time.Time, time.Time, error) {
	f, err := parseTimeField(from)
	if err != nil {
		return time.Time{}, time.Time{}, withCode(exitUsage, fmt.Errorf("invalid --from: %w", err))
	}
	t, err := parseTimeField(to)
	if err != nil {
		return time.Time{}, time.Time{}, withCode(exitUsage, fmt.Errorf("invalid --to: %w", err))
	}
	return f, t, nil
}

func newFalsePositivesPreviewCmd() *cobra.Command {
	var from, to, by string
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Count pending deltas in [from, to) and issue a preview token",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, t, err := parseRange(from, to)
			if err != nil {
				return err
			}
			env, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			svc := env.app.Service(services.DeltaService{}).(*services.DeltaService)
			p, err := svc.PreviewFalsePositives(env.ctx(cmd.Context(), "false-positives preview"), f, t, by)
			if err != nil {
				return withCode(serviceCode(err), err)
			}
			return writeJSONLine(cmd.OutOrStdout(), p)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "Range start, inclusive (required)")
	cmd.Flags().StringVar(&to, "to", "", "Range end, exclusive (required)")
	cmd.Flags().StringVar(&by, "by", "", "Operator id (required)")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("by")
	return cmd
}

func newFalsePositivesResolveCmd() *cobra.Command {
	var preview, from, to, justification, by string
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve the deltas counted by a preview",
		RunE: func(cmd *cobra.Command, args []string) error {
			previewID, err := uuid.Parse(strings.TrimSpace(preview))
			if err != nil {
				return withCode(exitUsage, fmt.Errorf("invalid --preview: %w", err))
			}
			f, t, err := parseRange(from, to)
			if err != nil {
				return err
			}
			env, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			svc := env.app.Service(services.DeltaService{}).(*services.DeltaService)
			n, err := svc.BulkResolveFalsePositives(env.ctx(cmd.Context(), "false-positives resolve"), services.BulkResolveInput{
				PreviewID:     previewID,
				From:          f,
				To:            t,
				Justification: justification,
				ResolverID:    by,
			})
			if err != nil {
				return withCode(serviceCode(err), err)
			}
			return writeJSONLine(cmd.OutOrStdout(), map[string]any{"preview_id": previewID, "resolved": n})
		},
	}
	cmd.Flags().StringVar(&preview, "preview", "", "Preview id returned by `false-positives preview` (required)")
	cmd.Flags().StringVar(&from, "from", "", "Range start, same as the preview (required)")
	cmd.Flags().StringVar(&to, "to", "", "Range end, same as the preview (required)")
	cmd.Flags().StringVar(&justification, "justification", "", "Recorded on every resolved delta (required)")
	cmd.Flags().StringVar(&by, "by", "", "Operator id (required)")
	for _, f := range []string{"preview", "from", "to", "justification", "by"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}
