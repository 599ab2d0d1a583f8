package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/franz/mediabin/internal/util"
)

var rmCmd = &cobra.Command{
	Use:   "rm <id>...",
	Short: "Remove stored or failed media and their artifacts",
	Long: `Remove media from the library.

The ledger record and its tags are deleted first; the artifacts are
deleted afterwards. If artifact deletion fails the record is still gone
and 'mb reconcile --prune-orphans' cleans up the leftovers.

Items still pending or downloading cannot be removed; fail them first.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRemove,
}

var failCmd = &cobra.Command{
	Use:   "fail <id> <reason>...",
	Short: "Mark a pending or downloading item as failed",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runFail,
}

func init() {
	rootCmd.AddCommand(rmCmd, failCmd)
}

func runRemove(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	lib, closeLib, err := openLibrary(ctx, true)
	if err != nil {
		return err
	}
	defer closeLib()

	coord := lib.Coordinator()
	var errs []error
	for _, id := range args {
		if err := coord.Remove(ctx, id); err != nil {
			util.ErrorLog("%v", err)
			errs = append(errs, err)
			continue
		}
		util.SuccessLog("Removed %s", id)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%d of %d removals failed: %w", len(errs), len(args), errors.Join(errs...))
	}
	return nil
}

func runFail(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	id, reason := args[0], strings.Join(args[1:], " ")

	lib, closeLib, err := openLibrary(ctx, true)
	if err != nil {
		return err
	}
	defer closeLib()

	if err := lib.Coordinator().Fail(ctx, id, reason); err != nil {
		return err
	}
	util.SuccessLog("Marked %s failed", id)
	return nil
}
