package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/franz/mediabin/internal/content"
	"github.com/franz/mediabin/internal/store"
	"github.com/franz/mediabin/internal/util"
)

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one media record with its tags and artifacts",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func init() {
	rootCmd.AddCommand(showCmd)
	showCmd.Flags().Bool("json", false, "print the record as JSON")
}

func runShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	id := args[0]
	asJSON, _ := cmd.Flags().GetBool("json")

	lib, closeLib, err := openLibrary(ctx, false)
	if err != nil {
		return err
	}
	defer closeLib()

	m, err := lib.Ledger.GetMedia(ctx, id)
	if err != nil {
		return err
	}
	tags, err := lib.Ledger.TagsFor(ctx, store.MediaResource(id))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(toJSON(m, tags))
	}

	const layout = "2006-01-02 15:04:05"
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "ID:\t%s\n", m.ID)
	fmt.Fprintf(w, "Title:\t%s\n", m.Title)
	fmt.Fprintf(w, "Status:\t%s\n", m.Status)
	if m.FailureReason != "" {
		fmt.Fprintf(w, "Failure:\t%s\n", m.FailureReason)
	}
	if m.Description != "" {
		fmt.Fprintf(w, "Description:\t%s\n", strings.ReplaceAll(m.Description, "\n", " "))
	}
	for _, f := range []struct{ name, value string }{
		{"Origin URL", m.OriginURL},
		{"Video URL", m.VideoURL},
		{"Thumbnail URL", m.ThumbnailURL},
	} {
		if f.value != "" {
			fmt.Fprintf(w, "%s:\t%s\n", f.name, f.value)
		}
	}
	if m.CreatedAt != nil {
		fmt.Fprintf(w, "Created:\t%s\n", m.CreatedAt.Local().Format(layout))
	}
	fmt.Fprintf(w, "Installed:\t%s (%s)\n", m.InstalledAt.Local().Format(layout), util.FormatAge(m.InstalledAt))
	fmt.Fprintf(w, "Updated:\t%s (%s)\n", m.UpdatedAt.Local().Format(layout), util.FormatAge(m.UpdatedAt))
	fmt.Fprintf(w, "Object path:\t%s\n", m.ObjectPath)
	if len(tags) > 0 {
		fmt.Fprintf(w, "Tags:\t%s\n", strings.Join(tags, ", "))
	}
	w.Flush()

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Artifacts:")
	aw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	cs := lib.Content()
	for _, kind := range content.Kinds {
		info, err := cs.Stat(id, kind)
		if err != nil {
			fmt.Fprintf(aw, "  %s\t-\t\n", kind)
			continue
		}
		fmt.Fprintf(aw, "  %s\t%s\t%s\n", kind, util.FormatBytes(info.Size()), util.FormatAge(info.ModTime()))
	}
	aw.Flush()
	return nil
}
