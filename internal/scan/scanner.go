package scan

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/franz/mediabin/internal/acquire"
	"github.com/franz/mediabin/internal/report"
	"github.com/franz/mediabin/internal/store"
	"github.com/franz/mediabin/internal/util"
)

// MediaExtensions are the default importable file extensions
var MediaExtensions = []string{
	".mp4",
	".m4v",
	".mkv",
	".webm",
	".mov",
	".avi",
	".mpg",
	".mpeg",
	".ts",
	".flv",
	".wmv",
	".mp3",
	".m4a",
	".flac",
	".ogg",
	".opus",
	".wav",
}

// Scanner discovers media files in a directory tree
type Scanner struct {
	ledger      *store.Store
	extensions  map[string]bool
	concurrency int
	events      *report.EventLogger
}

// Config holds scanner configuration
type Config struct {
	Ledger         *store.Store // optional, marks files already in the library
	AdditionalExts []string
	Concurrency    int
	Events         *report.EventLogger
}

// New creates a new Scanner
func New(cfg *Config) *Scanner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}

	extMap := make(map[string]bool)
	for _, ext := range MediaExtensions {
		extMap[strings.ToLower(ext)] = true
	}
	for _, ext := range cfg.AdditionalExts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		extMap[ext] = true
	}

	return &Scanner{
		ledger:      cfg.Ledger,
		extensions:  extMap,
		concurrency: cfg.Concurrency,
		events:      cfg.Events,
	}
}

// Candidate is one discovered file
type Candidate struct {
	Path    string
	Size    int64
	FileKey string
	ID      string       // default id the file would be imported under
	Status  store.Status // ledger status of ID, "" when unknown
}

// Known reports whether the library already holds an active record for the file
func (c Candidate) Known() bool {
	return c.Status != "" && c.Status.Active()
}

// Result represents a scan result
type Result struct {
	Candidates []Candidate // sorted by path
	FilesNew   int
	FilesKnown int
	Errors     []error
}

// New returns the candidates not yet in the library
func (r *Result) New() []Candidate {
	var out []Candidate
	for _, c := range r.Candidates {
		if !c.Known() {
			out = append(out, c)
		}
	}
	return out
}

// Scan walks root and collects media files. A single file is also accepted.
func (s *Scanner) Scan(ctx context.Context, root string) (*Result, error) {
	util.InfoLog("Starting scan of: %s", root)

	known := map[string]store.Status{}
	if s.ledger != nil {
		ids, err := s.ledger.ListMediaIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load existing ids: %w", err)
		}
		known = ids
		util.DebugLog("Loaded %d existing ids", len(known))
	}

	result := &Result{}
	var mu sync.Mutex
	addErr := func(err error) {
		mu.Lock()
		result.Errors = append(result.Errors, err)
		mu.Unlock()
	}

	paths := make(chan string, 100)

	var filesFound atomic.Int64
	var filesProcessed atomic.Int64

	progressCtx, cancelProgress := context.WithCancel(ctx)
	defer cancelProgress()

	// Progress bar only on a terminal
	var bar *progressbar.ProgressBar
	if util.IsTerminal(os.Stdout.Fd()) && !util.IsQuiet() {
		bar = progressbar.NewOptions(-1,
			progressbar.OptionSetDescription("Scanning"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("files"),
			progressbar.OptionThrottle(200*time.Millisecond),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionSetRenderBlankState(true),
		)
	}

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-progressCtx.Done():
				return
			case <-ticker.C:
				found, processed := filesFound.Load(), filesProcessed.Load()
				if bar != nil && found > 0 {
					bar.Describe(fmt.Sprintf("Scanning | %d found", found))
					bar.Set64(processed)
				} else if found > 0 {
					util.InfoLog("Progress: found %d media files, processed %d", found, processed)
				}
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < s.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range paths {
				if ctx.Err() != nil {
					continue
				}
				c, err := s.inspect(path, known)
				filesProcessed.Add(1)
				if err != nil {
					util.ErrorLog("Failed to process %s: %v", path, err)
					addErr(err)
					continue
				}
				s.events.LogDiscover(c.ID, c.Path, c.Size, c.Known())
				mu.Lock()
				result.Candidates = append(result.Candidates, c)
				mu.Unlock()
			}
		}()
	}

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			if path == root {
				return err
			}
			util.WarnLog("Error accessing path %s: %v", path, err)
			addErr(fmt.Errorf("access error: %s: %w", path, err))
			return nil
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !s.IsMediaFile(path) {
			return nil
		}

		filesFound.Add(1)
		select {
		case paths <- path:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})

	close(paths)
	wg.Wait()
	cancelProgress()

	if bar != nil {
		bar.Finish()
	}

	sort.Slice(result.Candidates, func(i, j int) bool {
		return result.Candidates[i].Path < result.Candidates[j].Path
	})
	for _, c := range result.Candidates {
		if c.Known() {
			result.FilesKnown++
		} else {
			result.FilesNew++
		}
	}

	if walkErr != nil {
		if errors.Is(walkErr, context.Canceled) || errors.Is(walkErr, context.DeadlineExceeded) {
			return result, walkErr
		}
		return result, fmt.Errorf("walk error: %w", walkErr)
	}

	util.SuccessLog("Scan complete: %d new, %d already in library, %d errors",
		result.FilesNew, result.FilesKnown, len(result.Errors))
	return result, nil
}

// inspect keys a single file and looks it up in the preloaded id map
func (s *Scanner) inspect(path string, known map[string]store.Status) (Candidate, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Candidate{}, err
	}
	fileKey, err := util.GenerateFileKey(abs)
	if err != nil {
		return Candidate{}, fmt.Errorf("failed to generate file key: %w", err)
	}
	size, _, err := util.GetFileMetadata(abs)
	if err != nil {
		return Candidate{}, fmt.Errorf("failed to get file metadata: %w", err)
	}

	id := acquire.IDPrefix + fileKey
	c := Candidate{
		Path:    abs,
		Size:    size,
		FileKey: fileKey,
		ID:      id,
		Status:  known[id],
	}
	util.DebugLog("Discovered: %s (key: %s)", abs, fileKey[:8])
	return c, nil
}

// IsMediaFile checks if a file has a supported media extension
func (s *Scanner) IsMediaFile(path string) bool {
	return s.extensions[strings.ToLower(filepath.Ext(path))]
}

// SupportedExtensions returns the sorted list of supported extensions
func (s *Scanner) SupportedExtensions() []string {
	exts := make([]string, 0, len(s.extensions))
	for ext := range s.extensions {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}
