package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/iota-uz/roster/modules/roster/domain/snapshot"
	"github.com/iota-uz/roster/modules/roster/services"
)

type importOptions struct {
	category  string
	file      string
	scope     string
	by        string
	requestID string
	apply     bool
	strict    bool
}

type importReport struct {
	File       string                 `json:"file"`
	Rows       int                    `json:"rows"`
	ReadErrors []rowError             `json:"read_errors,omitempty"`
	Result     *services.ImportResult `json:"result,omitempty"`
}

func newImportCmd() *cobra.Command {
	var opts importOptions

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Reconcile a roster snapshot (.xlsx or .csv) against the previous one",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.category, "category", "", "Snapshot category: active|leave (required)")
	cmd.Flags().StringVar(&opts.file, "file", "", "Spreadsheet or CSV file (required)")
	cmd.Flags().StringVar(&opts.scope, "scope", "", "Import scope key (default from ROSTER_SCOPE_DEFAULT)")
	cmd.Flags().StringVar(&opts.by, "by", "", "Operator id recorded as importer (required)")
	cmd.Flags().StringVar(&opts.requestID, "request-id", "", "Idempotency key; a repeated key replays the stored result")
	cmd.Flags().BoolVar(&opts.apply, "apply", false, "Persist the import (default is dry-run)")
	cmd.Flags().BoolVar(&opts.strict, "strict", false, "Fail when any row cannot be read")

	_ = cmd.MarkFlagRequired("category")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("by")
	return cmd
}

func runImport(cmd *cobra.Command, opts importOptions) error {
	category, err := snapshot.ParseCategory(opts.category)
	if err != nil {
		return withCode(exitUsage, fmt.Errorf("invalid --category: %w", err))
	}
	if strings.TrimSpace(opts.by) == "" {
		return withCode(exitUsage, fmt.Errorf("--by is required"))
	}

	records, err := readSheet(opts.file)
	if err != nil {
		return err
	}
	rows, readErrs, err := toRows(records)
	if err != nil {
		return withCode(exitValidation, fmt.Errorf("%s: %w", opts.file, err))
	}
	report := importReport{File: opts.file, Rows: len(rows), ReadErrors: readErrs}
	if opts.strict && len(readErrs) > 0 {
		_ = writeJSONLine(cmd.OutOrStdout(), report)
		return withCode(exitValidation, fmt.Errorf("%d rows could not be read", len(readErrs)))
	}

	env, err := openEnv(cmd.Context())
	if err != nil {
		return err
	}
	defer env.Close()

	svc := env.app.Service(services.ImportService{}).(*services.ImportService)
	res, err := svc.Import(env.ctx(cmd.Context(), "import"), services.ImportInput{
		RequestID:  opts.requestID,
		Category:   category,
		ScopeKey:   opts.scope,
		ImportedBy: opts.by,
		Rows:       rows,
		DryRun:     !opts.apply,
	})
	if err != nil {
		return withCode(serviceCode(err), err)
	}
	report.Result = res
	return writeJSONLine(cmd.OutOrStdout(), report)
}
