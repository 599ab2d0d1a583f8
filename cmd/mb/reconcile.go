package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/franz/mediabin/internal/reconcile"
	"github.com/franz/mediabin/internal/util"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Fail stale ingests and find orphaned artifacts",
	Long: `Bring the ledger and the datadir back in line after crashes.

- Records pending or downloading without an update for --stale-after are
  marked failed, so they can be imported again or removed.
- Shard files that no ledger record owns are listed, and deleted with
  --prune-orphans. Files of a known record are never deleted.
- Records whose owner marker is missing or wrong are reported; missing
  markers are rewritten with --restore-markers.
- Stored records whose video or meta artifact is missing are reported.`,
	Args: cobra.NoArgs,
	RunE: runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	reconcileCmd.Flags().Duration("stale-after", reconcile.DefaultStaleAfter, "age after which pending/downloading records are stale")
	reconcileCmd.Flags().Bool("prune-orphans", false, "delete orphaned shard files")
	reconcileCmd.Flags().Bool("restore-markers", false, "rewrite missing owner markers of known records")

	viper.BindPFlag("stale-after", reconcileCmd.Flags().Lookup("stale-after"))
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	prune, _ := cmd.Flags().GetBool("prune-orphans")
	restore, _ := cmd.Flags().GetBool("restore-markers")

	staleAfter := viper.GetDuration("stale-after")
	if staleAfter <= 0 {
		return fmt.Errorf("--stale-after must be positive: %w", util.ErrInvalidConfig)
	}

	lib, closeLib, err := openLibrary(ctx, true)
	if err != nil {
		return err
	}
	defer closeLib()

	sweeper := reconcile.New(reconcile.Config{
		Coordinator: lib.Coordinator(),
		Events:      lib.Events,
		StaleAfter:  staleAfter,
	})

	start := time.Now()
	rep, err := sweeper.Run(ctx, reconcile.Options{Prune: prune, RestoreMarkers: restore})
	if err != nil {
		return fmt.Errorf("reconcile failed: %w", err)
	}

	for _, id := range rep.Stale {
		util.WarnLog("Stale, marked failed: %s", id)
	}

	out := cmd.OutOrStdout()
	if len(rep.Orphans) > 0 {
		fmt.Fprintln(out, "Orphaned shard files:")
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		for _, o := range rep.Orphans {
			owner := o.Entry.OwnerID
			if owner == "" {
				owner = "-"
			}
			fmt.Fprintf(w, "  %s\t%s\t%s\t%d file(s)\n", o.Entry.Path, o.Reason, owner, len(o.Entry.Kinds))
		}
		w.Flush()
	}
	for _, u := range rep.Unmarked {
		switch {
		case u.Restored:
			util.InfoLog("Restored owner marker: %s", u.ID)
		case u.Marker != "":
			util.WarnLog("Owner marker of %s names %s", u.ID, u.Marker)
		default:
			util.WarnLog("Owner marker missing: %s", u.ID)
		}
	}
	for _, m := range rep.Missing {
		util.WarnLog("Stored but missing %v: %s", m.Kinds, m.ID)
	}
	for _, e := range rep.Errors {
		util.ErrorLog("%v", e)
	}

	util.SuccessLog("Reconcile complete in %v", time.Since(start).Round(time.Millisecond))
	util.InfoLog("  Stale records failed: %d", len(rep.Stale))
	util.InfoLog("  Orphans: %d (pruned %d)", len(rep.Orphans), rep.Pruned)
	if rep.PartialFiles > 0 {
		util.InfoLog("  Abandoned temp files: %d", rep.PartialFiles)
	}
	if len(rep.Orphans) > 0 && !prune {
		util.InfoLog("Run with --prune-orphans to delete orphaned files")
	}

	if len(rep.Errors) > 0 {
		return fmt.Errorf("reconcile finished with %d error(s)", len(rep.Errors))
	}
	return nil
}
