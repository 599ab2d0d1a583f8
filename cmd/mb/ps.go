package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/franz/mediabin/internal/store"
	"github.com/franz/mediabin/internal/util"
)

var psCmd = &cobra.Command{
	Use:   "ps",
	Short: "List ingests that have not finished",
	Long: `List pending and downloading records, oldest update first.

A record that stays here long after its import stopped is stale; run
"mb reconcile" to mark it failed.`,
	Args: cobra.NoArgs,
	RunE: runPs,
}

func init() {
	rootCmd.AddCommand(psCmd)
}

func runPs(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	lib, closeLib, err := openLibrary(ctx, false)
	if err != nil {
		return err
	}
	defer closeLib()

	var items []*store.Media
	for _, st := range []store.Status{store.StatusDownloading, store.StatusPending} {
		found, err := lib.Ledger.ListMedia(ctx, store.MediaFilter{Status: st})
		if err != nil {
			return err
		}
		items = append(items, found...)
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].UpdatedAt.Before(items[j].UpdatedAt) })

	if len(items) == 0 {
		util.InfoLog("No ingests in progress")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tUPDATED\tTITLE")
	for _, m := range items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.ID, m.Status, util.FormatAge(m.UpdatedAt), util.Truncate(m.Title, 40))
	}
	return w.Flush()
}
