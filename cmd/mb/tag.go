package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/franz/mediabin/internal/store"
	"github.com/franz/mediabin/internal/util"
)

var tagCmd = &cobra.Command{
	Use:   "tag",
	Short: "Manage tags on media",
	Long: `Tags are free-form strings, optionally "domain:value" (e.g. actor:martin_short).
They are trimmed and Unicode-normalized; adding a tag twice is a no-op.`,
}

var tagAddCmd = &cobra.Command{
	Use:   "add <id> <tag>...",
	Short: "Attach tags to a media item",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return changeTags(cmd, args[0], args[1:], (*store.Store).AddTag, "Tagged")
	},
}

var tagRmCmd = &cobra.Command{
	Use:     "rm <id> <tag>...",
	Aliases: []string{"remove"},
	Short:   "Detach tags from a media item",
	Args:    cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return changeTags(cmd, args[0], args[1:], (*store.Store).RemoveTag, "Untagged")
	},
}

var tagLsCmd = &cobra.Command{
	Use:   "ls [id]",
	Short: "List the tags of one item, or all tags with counts",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTagList,
}

func init() {
	tagLsCmd.Flags().String("domain", "", "only tags in this domain")
	tagCmd.AddCommand(tagAddCmd, tagRmCmd, tagLsCmd)
	rootCmd.AddCommand(tagCmd)
}

type tagOp func(s *store.Store, ctx context.Context, resourceID, tag string) error

func changeTags(cmd *cobra.Command, id string, tags []string, op tagOp, verb string) error {
	ctx := cmd.Context()

	lib, closeLib, err := openLibrary(ctx, false)
	if err != nil {
		return err
	}
	defer closeLib()

	resource := store.MediaResource(id)
	for _, tag := range tags {
		err := lib.Writer().Do(ctx, func(ctx context.Context) error {
			return op(lib.Ledger, ctx, resource, tag)
		})
		if err != nil {
			return fmt.Errorf("tag %q on %s: %w", tag, id, err)
		}
	}
	util.SuccessLog("%s %s: %d tag(s)", verb, id, len(tags))
	return nil
}

func runTagList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	domain, _ := cmd.Flags().GetString("domain")

	lib, closeLib, err := openLibrary(ctx, false)
	if err != nil {
		return err
	}
	defer closeLib()

	out := cmd.OutOrStdout()
	if len(args) == 1 {
		if _, err := lib.Ledger.GetMedia(ctx, args[0]); err != nil {
			return err
		}
		tags, err := lib.Ledger.TagsFor(ctx, store.MediaResource(args[0]))
		if err != nil {
			return err
		}
		for _, t := range tags {
			if domain != "" {
				if d, _ := util.SplitTag(t); !strings.EqualFold(d, strings.TrimSpace(domain)) {
					continue
				}
			}
			fmt.Fprintln(out, t)
		}
		return nil
	}

	counts, err := lib.Ledger.ListTags(ctx, domain)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, c := range counts {
		fmt.Fprintf(w, "%s\t%d\n", c.Tag, c.Count)
	}
	return w.Flush()
}
