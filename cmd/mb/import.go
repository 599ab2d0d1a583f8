package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/franz/mediabin/internal/acquire"
	"github.com/franz/mediabin/internal/content"
	"github.com/franz/mediabin/internal/ingest"
	"github.com/franz/mediabin/internal/scan"
	"github.com/franz/mediabin/internal/util"
)

var importCmd = &cobra.Command{
	Use:   "import <path>...",
	Short: "Import local media files into the library",
	Long: `Import audio and video files from disk.

Each path may be a file or a directory, which is scanned recursively for
media extensions. Every file becomes one record with id file__<filekey>
(derived from device, inode, size and mtime), so importing the same file
twice is rejected. Files whose earlier import failed are imported again.

Artifacts written per file:
- video:     the file itself
- meta:      a JSON sidecar (source path, MIME type, BLAKE3 checksum, probe info)
- thumbnail: embedded cover art, or an image with the same name next to the file`,
	Args: cobra.MinimumNArgs(1),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().StringArrayP("tag", "t", nil, "tag to attach to every imported item (repeatable)")
	importCmd.Flags().String("id", "", "explicit id (only with a single file)")
	importCmd.Flags().IntP("concurrency", "j", 0, "number of parallel imports (default 3)")
	importCmd.Flags().Bool("probe", false, "record ffprobe stream info in the meta sidecar")
	importCmd.Flags().StringSlice("ext", nil, "additional file extensions to import")
	importCmd.Flags().Bool("dry-run", false, "list what would be imported without importing")

	viper.BindPFlag("concurrency", importCmd.Flags().Lookup("concurrency"))
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	tags, _ := cmd.Flags().GetStringArray("tag")
	explicitID, _ := cmd.Flags().GetString("id")
	probe, _ := cmd.Flags().GetBool("probe")
	extraExts, _ := cmd.Flags().GetStringSlice("ext")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	concurrency := GetConfigInt("concurrency", ingest.DefaultConcurrency)

	for i, t := range tags {
		tags[i] = util.NormalizeTag(t)
		if tags[i] == "" || !util.IsTextSafe(tags[i]) {
			return fmt.Errorf("invalid tag %q: %w", t, util.ErrInvalidIdentifier)
		}
	}

	if explicitID != "" {
		if len(args) != 1 {
			return fmt.Errorf("--id needs exactly one file: %w", util.ErrInvalidConfig)
		}
		if st, err := os.Stat(args[0]); err == nil && st.IsDir() {
			return fmt.Errorf("--id cannot be used with a directory: %w", util.ErrInvalidConfig)
		}
	}

	lib, closeLib, err := openLibrary(ctx, !dryRun)
	if err != nil {
		return err
	}
	defer closeLib()

	if probe && !acquire.ProbeAvailable() {
		util.WarnLog("ffprobe not found in PATH - sidecars will have no stream info")
	}

	// Phase 1: Discovery
	scanner := scan.New(&scan.Config{
		Ledger:         lib.Ledger,
		AdditionalExts: extraExts,
		Events:         lib.Events,
	})

	var candidates []scan.Candidate
	seen := make(map[string]bool)
	known := 0
	for _, path := range args {
		res, err := scanner.Scan(ctx, path)
		if err != nil {
			return fmt.Errorf("scan of %s failed: %w", path, err)
		}
		for _, c := range res.Candidates {
			if seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			if c.Known() && explicitID == "" {
				util.DebugLog("Already in library: %s (%s)", c.Path, c.Status)
				known++
				continue
			}
			candidates = append(candidates, c)
		}
	}

	// Phase 2: Inspection
	var jobs []ingest.Job
	var totalBytes int64
	skipped := 0
	for _, c := range candidates {
		src, err := acquire.NewFileSource(c.Path, acquire.Options{Probe: probe})
		if err != nil {
			if errors.Is(err, util.ErrUnsupported) {
				util.WarnLog("Skipping %s: %v", c.Path, err)
				skipped++
				continue
			}
			return err
		}
		jobs = append(jobs, src.Job(explicitID, tags))
		totalBytes += c.Size
	}

	util.InfoLog("Found %d new files (%s), %d already in library, %d unsupported",
		len(jobs), util.FormatBytes(totalBytes), known, skipped)

	if dryRun {
		out := cmd.OutOrStdout()
		for _, job := range jobs {
			fmt.Fprintf(out, "%s\t%s\t%s\n", job.ID, job.Meta.Title, job.Meta.OriginURL)
		}
		return nil
	}
	if len(jobs) == 0 {
		return nil
	}

	// Phase 3: Ingest
	tracker := newImportProgress(totalBytes)
	pool := ingest.NewPool(lib.Coordinator(), ingest.PoolConfig{
		Concurrency: concurrency,
		Tracker:     tracker.tracker,
	})

	start := time.Now()
	results := pool.Run(ctx, jobs)
	tracker.finish()

	var imported, failed int
	var written int64
	for _, r := range results {
		written += r.Bytes
		if r.Err != nil {
			failed++
			util.ErrorLog("%v", r.Err)
			continue
		}
		imported++
		util.DebugLog("Stored %s: %s", r.ID, r.Media.Title)
	}

	util.SuccessLog("Imported %d files (%s) in %v", imported, util.FormatBytes(written), time.Since(start).Round(time.Millisecond))
	if lib.Events.Path() != "" {
		util.InfoLog("Event log: %s", lib.Events.Path())
	}
	if ctx.Err() != nil {
		util.WarnLog("Interrupted: unfinished imports stay pending until 'mb reconcile' marks them failed")
		return ctx.Err()
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d imports failed", failed, len(results))
	}
	return nil
}

// importProgress draws one byte-count bar across all video artifacts
type importProgress struct {
	tracker *ingest.Tracker
	bar     *progressbar.ProgressBar
}

func newImportProgress(total int64) *importProgress {
	p := &importProgress{}
	if !util.IsTerminal(os.Stderr.Fd()) || util.IsQuiet() {
		return p
	}

	p.bar = progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("Importing"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(true),
		progressbar.OptionThrottle(200*time.Millisecond),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)

	// Tracker callbacks run on one goroutine
	perID := make(map[string]int64)
	var sum int64
	p.tracker = ingest.NewTracker(0, func(u ingest.Progress) {
		if u.Kind != content.KindVideo || u.Bytes <= perID[u.ID] {
			return
		}
		sum += u.Bytes - perID[u.ID]
		perID[u.ID] = u.Bytes
		p.bar.Set64(sum)
	})
	return p
}

func (p *importProgress) finish() {
	p.tracker.Close()
	if p.bar != nil {
		p.bar.Finish()
	}
}
