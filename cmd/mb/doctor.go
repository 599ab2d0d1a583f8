package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/franz/mediabin/internal/library"
	"github.com/franz/mediabin/internal/store"
	"github.com/franz/mediabin/internal/util"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks on the environment and library",
	Long: `Run diagnostic checks to ensure mb can operate correctly.

This command checks:
- Optional tools (ffprobe for stream info in sidecars)
- SQLite version
- Ledger accessibility and integrity
- Datadir permissions
- Disk space under the datadir

The ledger is never created or modified by doctor.`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().String("datadir", "", "datadir to check (default: the ledger's datadir)")
}

type checkResult struct {
	name    string
	message string
	error   bool
	warning bool
}

func runDoctor(cmd *cobra.Command, args []string) error {
	util.InfoLog("=== mediabin doctor ===")

	ledgerPath := viper.GetString("ledger")
	results := []checkResult{
		checkFFprobe(),
		checkSQLite(),
	}

	ledgerResult, datadir := checkLedger(cmd.Context(), ledgerPath)
	results = append(results, ledgerResult)

	if flagDir, _ := cmd.Flags().GetString("datadir"); flagDir != "" {
		datadir = flagDir
	}
	if datadir == "" {
		datadir = library.DefaultDatadir(ledgerPath)
	}
	results = append(results, checkDatadir(datadir))

	diskPath := datadir
	if _, err := os.Stat(diskPath); err != nil {
		diskPath = filepath.Dir(diskPath)
	}
	results = append(results, checkDiskSpace(diskPath, "datadir"))

	util.InfoLog("")
	hasErrors := false
	hasWarnings := false
	for _, r := range results {
		symbol := "✓"
		if r.error {
			symbol = "✗"
			hasErrors = true
		} else if r.warning {
			symbol = "⚠"
			hasWarnings = true
		}

		line := fmt.Sprintf("[%s] %s", symbol, r.name)
		if r.message != "" {
			line += fmt.Sprintf(": %s", r.message)
		}

		switch {
		case r.error:
			util.ErrorLog("%s", line)
		case r.warning:
			util.WarnLog("%s", line)
		default:
			util.SuccessLog("%s", line)
		}
	}

	util.InfoLog("")
	if hasErrors {
		util.ErrorLog("Some critical checks failed. Resolve them before using the library.")
		return fmt.Errorf("system diagnostics failed")
	} else if hasWarnings {
		util.WarnLog("Some checks produced warnings. Review them before proceeding.")
	} else {
		util.SuccessLog("All checks passed.")
	}
	return nil
}

// checkFFprobe reports the ffprobe version. Imports work without it.
func checkFFprobe() checkResult {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	output, err := exec.CommandContext(ctx, "ffprobe", "-version").CombinedOutput()
	if err != nil {
		return checkResult{
			name:    "ffprobe (optional)",
			warning: true,
			message: "not found (needed only for import --probe)",
		}
	}

	version := "unknown"
	if lines := strings.Split(string(output), "\n"); len(lines) > 0 {
		if parts := strings.Fields(lines[0]); len(parts) >= 3 {
			version = parts[2]
		}
	}
	return checkResult{
		name:    "ffprobe (optional)",
		message: fmt.Sprintf("version %s", version),
	}
}

// checkSQLite reports the embedded SQLite version
func checkSQLite() checkResult {
	version := store.SQLiteVersion()
	if version == "" {
		return checkResult{
			name:    "SQLite",
			error:   true,
			message: "unable to determine version",
		}
	}
	return checkResult{
		name:    "SQLite",
		message: fmt.Sprintf("version %s (built-in)", version),
	}
}

// checkLedger verifies the ledger file and returns its configured datadir
func checkLedger(ctx context.Context, ledgerPath string) (checkResult, string) {
	if ledgerPath == "" {
		return checkResult{
			name:    "Ledger",
			warning: true,
			message: "no ledger path specified (use --ledger or MB_LEDGER)",
		}, ""
	}

	info, err := os.Stat(ledgerPath)
	if err != nil {
		if os.IsNotExist(err) {
			return checkResult{
				name:    "Ledger",
				message: fmt.Sprintf("%s (will be created by 'mb init')", ledgerPath),
			}, ""
		}
		return checkResult{
			name:    "Ledger",
			error:   true,
			message: fmt.Sprintf("cannot access %s: %v", ledgerPath, err),
		}, ""
	}
	if !info.Mode().IsRegular() {
		return checkResult{
			name:    "Ledger",
			error:   true,
			message: fmt.Sprintf("%s is not a regular file", ledgerPath),
		}, ""
	}

	db, err := store.Open(ledgerPath)
	if err != nil {
		return checkResult{
			name:    "Ledger",
			error:   true,
			message: fmt.Sprintf("cannot open %s: %v", ledgerPath, err),
		}, ""
	}
	defer db.Close()

	if err := db.CheckIntegrity(ctx); err != nil {
		return checkResult{
			name:    "Ledger",
			error:   true,
			message: fmt.Sprintf("integrity check failed: %v", err),
		}, ""
	}

	datadir := ""
	if cfg, err := db.GetConfig(ctx); err == nil {
		datadir = cfg.DatadirLocation
	}

	counts, _ := db.CountByStatus(ctx)
	total := 0
	for _, n := range counts {
		total += n
	}

	msg := fmt.Sprintf("%s (%s, %d records", ledgerPath, util.FormatBytes(info.Size()), total)
	if n := counts[store.StatusPending] + counts[store.StatusDownloading]; n > 0 {
		msg += fmt.Sprintf(", %d in progress", n)
	}
	msg += ")"

	return checkResult{name: "Ledger", message: msg}, datadir
}

// checkDatadir verifies the datadir is a writable directory
func checkDatadir(path string) checkResult {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return checkResult{
				name:    "Datadir",
				message: fmt.Sprintf("%s (will be created on first import)", path),
			}
		}
		return checkResult{
			name:    "Datadir",
			error:   true,
			message: fmt.Sprintf("cannot access %s: %v", path, err),
		}
	}

	if !info.IsDir() {
		return checkResult{
			name:    "Datadir",
			error:   true,
			message: fmt.Sprintf("%s is not a directory", path),
		}
	}

	f, err := os.CreateTemp(path, ".mb_write_test.*")
	if err != nil {
		return checkResult{
			name:    "Datadir",
			error:   true,
			message: fmt.Sprintf("cannot write to %s: %v", path, err),
		}
	}
	f.Close()
	os.Remove(f.Name())

	return checkResult{
		name:    "Datadir",
		message: fmt.Sprintf("%s (writable)", path),
	}
}

// checkDiskSpace verifies available disk space
func checkDiskSpace(path string, label string) checkResult {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return checkResult{
			name:    fmt.Sprintf("Disk space (%s)", label),
			warning: true,
			message: fmt.Sprintf("cannot determine disk space: %v", err),
		}
	}

	availBytes := stat.Bavail * uint64(stat.Bsize)
	totalBytes := stat.Blocks * uint64(stat.Bsize)
	usedBytes := totalBytes - (stat.Bfree * uint64(stat.Bsize))

	usedPercent := 0.0
	if totalBytes > 0 {
		usedPercent = float64(usedBytes) / float64(totalBytes) * 100
	}

	// Video libraries grow fast: warn below 10GB or above 90% used
	warning := false
	warningMsg := ""
	if availBytes < 10<<30 {
		warning = true
		warningMsg = " (low space!)"
	} else if usedPercent > 90 {
		warning = true
		warningMsg = " (>90% used)"
	}

	return checkResult{
		name:    fmt.Sprintf("Disk space (%s)", label),
		warning: warning,
		message: fmt.Sprintf("%s available%s", util.FormatBytes(int64(availBytes)), warningMsg),
	}
}
