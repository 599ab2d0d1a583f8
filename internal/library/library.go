// Package library assembles the ledger, content store and ingest
// coordinator around one persisted LibraryConfig.
package library

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/franz/mediabin/internal/content"
	"github.com/franz/mediabin/internal/ingest"
	"github.com/franz/mediabin/internal/report"
	"github.com/franz/mediabin/internal/store"
	"github.com/franz/mediabin/internal/util"
)

// DefaultDatadirName is created next to the ledger when no datadir is configured
const DefaultDatadirName = "media_data"

// Options controls how a library is opened
type Options struct {
	LedgerPath string
	Events     *report.EventLogger
	QueueSize  int // ledger writer queue (0 = default)
}

// Library is an open media library. Config is read once at open; Reload
// re-reads it.
type Library struct {
	Ledger *store.Store
	Events *report.EventLogger

	mu      sync.RWMutex
	config  store.LibraryConfig
	content *content.Store
	coord   *ingest.Coordinator
	writer  *ingest.Writer
}

// Open opens the ledger, loading or bootstrapping the library config
func Open(ctx context.Context, opts Options) (*Library, error) {
	if opts.LedgerPath == "" {
		return nil, fmt.Errorf("ledger path is empty: %w", util.ErrInvalidConfig)
	}
	if err := os.MkdirAll(filepath.Dir(opts.LedgerPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	ledger, err := store.Open(opts.LedgerPath)
	if err != nil {
		return nil, err
	}

	lib := &Library{
		Ledger: ledger,
		Events: opts.Events,
		writer: ingest.NewWriter(opts.QueueSize),
	}
	if err := lib.Reload(ctx); err != nil {
		lib.Close()
		return nil, err
	}
	return lib, nil
}

// DefaultDatadir returns the datadir used when none is configured
func DefaultDatadir(ledgerPath string) string {
	abs, err := filepath.Abs(ledgerPath)
	if err != nil {
		abs = ledgerPath
	}
	return filepath.Join(filepath.Dir(abs), DefaultDatadirName)
}

// loadConfig returns the persisted config, writing the default first if
// the ledger has none
func (l *Library) loadConfig(ctx context.Context) (*store.LibraryConfig, error) {
	cfg, err := l.Ledger.GetConfig(ctx)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, util.ErrNotFound) {
		return nil, err
	}

	datadir := DefaultDatadir(l.Ledger.Path())
	err = l.writer.Do(ctx, func(ctx context.Context) error {
		return l.Ledger.SetConfig(ctx, datadir)
	})
	if err != nil {
		return nil, err
	}
	util.InfoLog("Initialized datadir at %s", datadir)
	return l.Ledger.GetConfig(ctx)
}

// Reload re-reads the config and rebuilds the content store and
// coordinator on top of it. Ingests running on the previous coordinator
// keep using the previous datadir.
func (l *Library) Reload(ctx context.Context) error {
	cfg, err := l.loadConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to load library config: %w", err)
	}

	cs, err := content.New(content.Config{Root: cfg.DatadirLocation})
	if err != nil {
		return err
	}

	coord := ingest.New(ingest.Config{
		Ledger:  l.Ledger,
		Content: cs,
		Writer:  l.writer,
		Events:  l.Events,
	})

	l.mu.Lock()
	l.config = *cfg
	l.content = cs
	l.coord = coord
	l.mu.Unlock()

	util.DebugLog("Library config loaded: datadir=%s", cfg.DatadirLocation)
	return nil
}

// SetDatadir persists a new datadir and reloads. Existing artifacts are
// not moved; their object paths resolve against the new root afterwards.
func (l *Library) SetDatadir(ctx context.Context, datadir string) error {
	abs, err := filepath.Abs(datadir)
	if err != nil {
		return fmt.Errorf("failed to resolve datadir: %w", err)
	}
	err = l.writer.Do(ctx, func(ctx context.Context) error {
		return l.Ledger.SetConfig(ctx, abs)
	})
	if err != nil {
		return err
	}
	return l.Reload(ctx)
}

// Config returns the cached library config
func (l *Library) Config() store.LibraryConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config
}

// Content returns the content store for the current datadir
func (l *Library) Content() *content.Store {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.content
}

// Coordinator returns the ingest coordinator for the current datadir
func (l *Library) Coordinator() *ingest.Coordinator {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.coord
}

// Writer returns the shared ledger writer
func (l *Library) Writer() *ingest.Writer {
	return l.writer
}

// Close drains pending ledger writes and closes the ledger
func (l *Library) Close() error {
	l.writer.Close()
	return l.Ledger.Close()
}
