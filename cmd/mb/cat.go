package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/franz/mediabin/internal/content"
	"github.com/franz/mediabin/internal/util"
)

var catCmd = &cobra.Command{
	Use:   "cat <id> [kind]",
	Short: "Write an artifact to stdout",
	Long: `Write one artifact of a media item to stdout.

Kinds: video (default), meta, preview, thumbnail.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runCat,
}

func init() {
	rootCmd.AddCommand(catCmd)
}

func runCat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	id := args[0]

	kind := content.KindVideo
	if len(args) == 2 {
		k, err := content.ParseKind(args[1])
		if err != nil {
			return err
		}
		kind = k
	}

	lib, closeLib, err := openLibrary(ctx, false)
	if err != nil {
		return err
	}
	defer closeLib()

	rc, err := lib.Content().ReadArtifact(id, kind)
	if err != nil {
		return err
	}
	defer rc.Close()

	n, err := io.Copy(cmd.OutOrStdout(), rc)
	if err != nil {
		return fmt.Errorf("failed to write %s of %s: %w", kind, id, err)
	}
	util.DebugLog("Wrote %s of %s (%s)", kind, id, util.FormatBytes(n))
	return nil
}
