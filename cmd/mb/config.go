package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/franz/mediabin/internal/util"
)

var envKeyReplacer = strings.NewReplacer("-", "_")

// GetConfigInt retrieves an int config value with proper precedence:
// 1. Command-line flag (if set)
// 2. Environment variable (MB_*)
// 3. Config file
// 4. Default value
func GetConfigInt(key string, defaultValue int) int {
	val := viper.GetInt(key)
	if val == 0 {
		return defaultValue
	}
	return val
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change the library configuration",
}

var configGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the library configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		lib, closeLib, err := openLibrary(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer closeLib()

		cfg := lib.Config()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "ledger:           %s\n", lib.Ledger.Path())
		fmt.Fprintf(out, "datadir_location: %s\n", cfg.DatadirLocation)
		fmt.Fprintf(out, "updated:          %s (%s)\n", cfg.UpdatedAt.Local().Format("2006-01-02 15:04:05"), util.FormatAge(cfg.UpdatedAt))
		return nil
	},
}

var configSetDatadirCmd = &cobra.Command{
	Use:   "set-datadir <dir>",
	Short: "Point the library at a different datadir",
	Long: `Persist a new datadir_location in the ledger.

Existing artifacts are not moved. Copy the old datadir's shard directories
to the new location first if the library should keep them.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lib, closeLib, err := openLibrary(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer closeLib()

		old := lib.Config().DatadirLocation
		if err := lib.SetDatadir(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("failed to set datadir: %w", err)
		}
		util.SuccessLog("Datadir changed: %s -> %s", old, lib.Config().DatadirLocation)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configGetCmd, configSetDatadirCmd)
	rootCmd.AddCommand(configCmd)
}
