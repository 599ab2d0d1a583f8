package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/franz/mediabin/internal/library"
	"github.com/franz/mediabin/internal/report"
	"github.com/franz/mediabin/internal/util"
)

var (
	// Version is set at build time
	Version = "dev"

	cfgFile string

	rootCmd = &cobra.Command{
		Use:   "mb",
		Short: "mediabin - a content-addressed media library",
		Long: `mb (mediabin) keeps downloaded and imported media in a sharded,
content-addressed directory tree and records metadata and tags in a
local SQLite ledger for filtering.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			util.SetLogLevel(util.ParseLogLevel(viper.GetString("log-level")))
			util.SetVerbose(viper.GetBool("verbose"))
			util.SetQuiet(viper.GetBool("quiet"))
			if viper.GetBool("no-color") {
				util.SetColors(false)
			}
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./mediabin.yaml)")
	rootCmd.PersistentFlags().String("ledger", "mediabin.db", "ledger database file")
	rootCmd.PersistentFlags().String("events-dir", "", "directory for JSONL event logs (default: <ledger dir>/events)")
	rootCmd.PersistentFlags().String("event-level", "info", "minimum event log level (debug, info, warning, error)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().Bool("quiet", false, "quiet output (errors only)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("no-color", false, "disable colored log output")

	// Bind flags to viper
	viper.BindPFlag("ledger", rootCmd.PersistentFlags().Lookup("ledger"))
	viper.BindPFlag("events-dir", rootCmd.PersistentFlags().Lookup("events-dir"))
	viper.BindPFlag("event-level", rootCmd.PersistentFlags().Lookup("event-level"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("no-color", rootCmd.PersistentFlags().Lookup("no-color"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		if home, err := os.UserConfigDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, "mediabin"))
		}
		viper.SetConfigName("mediabin")
		viper.SetConfigType("yaml")
	}

	// MB_LEDGER, MB_EVENTS_DIR, ...
	viper.SetEnvPrefix("MB")
	viper.SetEnvKeyReplacer(envKeyReplacer)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && !viper.GetBool("quiet") {
		util.DebugLog("Using config file: %s", viper.ConfigFileUsed())
	}
}

// openEvents creates the run's event log, falling back to a no-op logger
func openEvents() *report.EventLogger {
	dir := viper.GetString("events-dir")
	if dir == "" {
		dir = filepath.Join(filepath.Dir(viper.GetString("ledger")), "events")
	}

	logger, err := report.NewEventLogger(dir, report.ParseLevel(viper.GetString("event-level")))
	if err != nil {
		util.WarnLog("Failed to create event logger: %v", err)
		return report.NullLogger()
	}
	util.DebugLog("Event log: %s", logger.Path())
	return logger
}

// openLibrary opens the library named by --ledger. Commands that change
// the library pass withEvents to record an event log for the run.
func openLibrary(ctx context.Context, withEvents bool) (*library.Library, func(), error) {
	events := report.NullLogger()
	if withEvents {
		events = openEvents()
	}

	lib, err := library.Open(ctx, library.Options{
		LedgerPath: viper.GetString("ledger"),
		Events:     events,
	})
	if err != nil {
		events.Close()
		return nil, nil, fmt.Errorf("failed to open library: %w", err)
	}

	return lib, func() {
		if err := lib.Close(); err != nil {
			util.WarnLog("Failed to close ledger: %v", err)
		}
		events.Close()
	}, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
