package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/franz/mediabin/internal/report"
	"github.com/franz/mediabin/internal/store"
	"github.com/franz/mediabin/internal/util"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate a Markdown summary of the library",
	Long: `Generate a summary report in Markdown format.

The report includes:
- Record counts per status
- Most used tags
- Most common failure reasons
- Records stuck in pending or downloading

The report is saved to <ledger dir>/reports/<timestamp>/summary.md`,
	Args: cobra.NoArgs,
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().String("out", "", "output directory for the report (default: <ledger dir>/reports/<timestamp>)")
	reportCmd.Flags().Duration("stale-after", 0, "list pending/downloading records older than this (default 24h)")
}

func runReport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	staleAfter, _ := cmd.Flags().GetDuration("stale-after")
	if staleAfter <= 0 {
		staleAfter = viper.GetDuration("stale-after")
	}

	lib, closeLib, err := openLibrary(ctx, false)
	if err != nil {
		return err
	}
	defer closeLib()

	util.InfoLog("=== Generating Summary Report ===")
	summary, err := report.GenerateSummaryReport(ctx, lib.Ledger, staleAfter)
	if err != nil {
		return fmt.Errorf("failed to generate report: %w", err)
	}

	outputDir, _ := cmd.Flags().GetString("out")
	if outputDir == "" {
		outputDir = filepath.Join(filepath.Dir(lib.Ledger.Path()), "reports", time.Now().Format("20060102-150405"))
	}
	outputPath := filepath.Join(outputDir, "summary.md")

	if err := report.WriteMarkdownReport(summary, outputPath); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	util.SuccessLog("Report saved to: %s", outputPath)
	util.InfoLog("  Records: %d", summary.Total)
	for _, st := range store.Statuses {
		if n := summary.Counts[st]; n > 0 {
			util.InfoLog("  %s: %d", st, n)
		}
	}
	if len(summary.Stale) > 0 {
		util.WarnLog("  Stale: %d (run 'mb reconcile')", len(summary.Stale))
	}
	return nil
}
