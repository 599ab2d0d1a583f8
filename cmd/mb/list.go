package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/franz/mediabin/internal/store"
	"github.com/franz/mediabin/internal/util"
)

var listCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List media in the library",
	Long: `List media records, newest first.

Filters combine: every --tag must be present, --status must match and
--query words must appear in the title in order (case-insensitive).`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringP("query", "q", "", "search titles")
	listCmd.Flags().StringArrayP("tag", "t", nil, "require tag (repeatable)")
	listCmd.Flags().String("status", "", "only records with this status (pending, downloading, stored, failed)")
	listCmd.Flags().IntP("limit", "n", 0, "maximum number of records (0 = all)")
	listCmd.Flags().Bool("ids", false, "print ids only")
	listCmd.Flags().Bool("json", false, "print records as JSON lines")
}

// mediaJSON is the --json rendering of a record
type mediaJSON struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	OriginURL     string     `json:"origin_url,omitempty"`
	VideoURL      string     `json:"video_url,omitempty"`
	ThumbnailURL  string     `json:"thumbnail_url,omitempty"`
	CreatedAt     *time.Time `json:"timestamp_created,omitempty"`
	InstalledAt   time.Time  `json:"timestamp_installed"`
	UpdatedAt     time.Time  `json:"timestamp_updated"`
	Status        string     `json:"status"`
	ObjectPath    string     `json:"object_path,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
	Tags          []string   `json:"tags,omitempty"`
}

func toJSON(m *store.Media, tags []string) mediaJSON {
	return mediaJSON{
		ID:            m.ID,
		Title:         m.Title,
		Description:   m.Description,
		OriginURL:     m.OriginURL,
		VideoURL:      m.VideoURL,
		ThumbnailURL:  m.ThumbnailURL,
		CreatedAt:     m.CreatedAt,
		InstalledAt:   m.InstalledAt,
		UpdatedAt:     m.UpdatedAt,
		Status:        string(m.Status),
		ObjectPath:    m.ObjectPath,
		FailureReason: m.FailureReason,
		Tags:          tags,
	}
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	query, _ := cmd.Flags().GetString("query")
	tags, _ := cmd.Flags().GetStringArray("tag")
	statusName, _ := cmd.Flags().GetString("status")
	limit, _ := cmd.Flags().GetInt("limit")
	idsOnly, _ := cmd.Flags().GetBool("ids")
	asJSON, _ := cmd.Flags().GetBool("json")

	filter := store.MediaFilter{Tags: tags, Query: query, Limit: limit}
	if statusName != "" {
		st, err := store.ParseStatus(statusName)
		if err != nil {
			return err
		}
		filter.Status = st
	}

	lib, closeLib, err := openLibrary(ctx, false)
	if err != nil {
		return err
	}
	defer closeLib()

	items, err := lib.Ledger.ListMedia(ctx, filter)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch {
	case idsOnly:
		for _, m := range items {
			fmt.Fprintln(out, m.ID)
		}
	case asJSON:
		enc := json.NewEncoder(out)
		for _, m := range items {
			mediaTags, err := lib.Ledger.TagsFor(ctx, store.MediaResource(m.ID))
			if err != nil {
				return err
			}
			if err := enc.Encode(toJSON(m, mediaTags)); err != nil {
				return err
			}
		}
	default:
		printMediaTable(out, items)
	}
	return nil
}

func printMediaTable(out io.Writer, items []*store.Media) {
	if len(items) == 0 {
		util.InfoLog("No media found")
		return
	}

	titleWidth := util.GetTerminalWidth() - 70
	if titleWidth < 20 {
		titleWidth = 20
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tSTATUS\tINSTALLED\tTITLE")
	for _, m := range items {
		title := util.Truncate(strings.TrimSpace(m.Title), titleWidth)
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n", m.ID, m.Status, util.FormatAge(m.InstalledAt), title)
	}
	writer.Flush()
}
