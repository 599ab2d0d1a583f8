package main

import (
	"github.com/spf13/cobra"

	"github.com/franz/mediabin/internal/util"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the ledger and datadir",
	Long: `Create the ledger database and record the datadir location.

Without --datadir the datadir defaults to media_data next to the ledger.
Running init on an existing library only reports its configuration,
unless --datadir names a different location.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().String("datadir", "", "datadir location (default: <ledger dir>/media_data)")
}

func runInit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	lib, closeLib, err := openLibrary(ctx, false)
	if err != nil {
		return err
	}
	defer closeLib()

	if datadir, _ := cmd.Flags().GetString("datadir"); datadir != "" {
		if err := lib.SetDatadir(ctx, datadir); err != nil {
			return err
		}
	}

	version, err := lib.Ledger.SchemaVersion()
	if err != nil {
		return err
	}

	util.SuccessLog("Library ready")
	util.InfoLog("  Ledger:  %s (schema v%d)", lib.Ledger.Path(), version)
	util.InfoLog("  Datadir: %s", lib.Config().DatadirLocation)
	return nil
}
