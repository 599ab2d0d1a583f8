// Package reconcile brings the ledger and the datadir back in line after
// crashes: it fails ingests that stopped making progress and finds shard
// files no record accounts for.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/franz/mediabin/internal/content"
	"github.com/franz/mediabin/internal/ingest"
	"github.com/franz/mediabin/internal/report"
	"github.com/franz/mediabin/internal/shard"
	"github.com/franz/mediabin/internal/store"
	"github.com/franz/mediabin/internal/util"
)

// DefaultStaleAfter is how long a pending or downloading record may sit
// without an update before the sweeper fails it
const DefaultStaleAfter = 24 * time.Hour

// OrphanReason says why a shard stem is considered orphaned
type OrphanReason string

const (
	ReasonNoOwner   OrphanReason = "no-owner"   // no owner marker
	ReasonNoRecord  OrphanReason = "no-record"  // owner has no ledger record
	ReasonWrongPath OrphanReason = "wrong-path" // owner id does not hash to this path
)

// Orphan is a shard stem with no matching ledger record
type Orphan struct {
	Entry  content.Entry
	Reason OrphanReason
}

// Unmarked is a record whose shard stem has lost its owner marker or
// carries another id's marker. Its files are never pruned.
type Unmarked struct {
	ID       string
	Marker   string // id found in the marker, empty when missing
	Restored bool
}

// Missing is a stored record whose required artifacts are gone
type Missing struct {
	ID    string
	Kinds []content.Kind
}

// Report is the outcome of a sweep
type Report struct {
	Stale        []string // ids moved to failed
	Orphans      []Orphan
	Pruned       int
	Unmarked     []Unmarked
	Missing      []Missing
	PartialFiles int
	Errors       []error
}

// Config holds sweeper configuration
type Config struct {
	Coordinator *ingest.Coordinator
	Events      *report.EventLogger
	StaleAfter  time.Duration // 0 = DefaultStaleAfter
	Now         func() time.Time
}

// Sweeper reconciles one library
type Sweeper struct {
	coord      *ingest.Coordinator
	ledger     *store.Store
	content    *content.Store
	events     *report.EventLogger
	staleAfter time.Duration
	now        func() time.Time
	log        zerolog.Logger
}

// Options selects what Run does
type Options struct {
	Prune          bool // delete orphaned stems
	RestoreMarkers bool // rewrite missing owner markers of known records
}

// New creates a sweeper over the coordinator's ledger and content store
func New(cfg Config) *Sweeper {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Sweeper{
		coord:      cfg.Coordinator,
		ledger:     cfg.Coordinator.Ledger(),
		content:    cfg.Coordinator.Content(),
		events:     cfg.Events,
		staleAfter: cfg.StaleAfter,
		now:        cfg.Now,
		log:        util.Logger().With().Str("component", "reconcile").Logger(),
	}
}

// Run sweeps stale records, then scans the datadir
func (s *Sweeper) Run(ctx context.Context, opts Options) (*Report, error) {
	rep := &Report{}

	stale, err := s.SweepStale(ctx)
	rep.Stale = stale
	if err != nil {
		if ctx.Err() != nil {
			return rep, err
		}
		rep.Errors = append(rep.Errors, err)
	}

	if err := s.scan(ctx, rep); err != nil {
		return rep, err
	}

	if opts.RestoreMarkers {
		s.restoreMarkers(ctx, rep)
	}

	if opts.Prune && len(rep.Orphans) > 0 {
		pruned, err := s.Prune(ctx, rep.Orphans)
		rep.Pruned = pruned
		if err != nil {
			rep.Errors = append(rep.Errors, err)
		}
	}

	s.log.Info().
		Int("stale", len(rep.Stale)).
		Int("orphans", len(rep.Orphans)).
		Int("pruned", rep.Pruned).
		Int("unmarked", len(rep.Unmarked)).
		Int("missing", len(rep.Missing)).
		Msg("reconcile finished")
	return rep, nil
}

// SweepStale fails pending and downloading records not updated within
// the stale window. Records that moved on in the meantime are skipped.
func (s *Sweeper) SweepStale(ctx context.Context) ([]string, error) {
	cutoff := s.now().Add(-s.staleAfter)
	items, err := s.ledger.ListStale(ctx,
		[]store.Status{store.StatusPending, store.StatusDownloading}, cutoff)
	if err != nil {
		return nil, err
	}

	var swept []string
	var errs []error
	for _, m := range items {
		reason := fmt.Sprintf("stale: no progress since %s", m.UpdatedAt.UTC().Format(time.RFC3339))
		err := s.coord.Fail(ctx, m.ID, reason)
		switch {
		case err == nil:
			swept = append(swept, m.ID)
			s.events.LogTransition(report.EventStale, m.ID)
		case errors.Is(err, util.ErrInvalidTransition), errors.Is(err, util.ErrNotFound):
			s.log.Debug().Str("id", m.ID).Msg("record moved on, not stale")
		case ctx.Err() != nil:
			return swept, ctx.Err()
		default:
			errs = append(errs, err)
		}
	}
	return swept, errors.Join(errs...)
}

// FindOrphans lists shard stems that no ledger record owns
func (s *Sweeper) FindOrphans(ctx context.Context) ([]Orphan, error) {
	rep := &Report{}
	if err := s.scan(ctx, rep); err != nil {
		return nil, err
	}
	return rep.Orphans, nil
}

// scan walks the datadir once, collecting orphans, partial files and
// stored records with missing artifacts
func (s *Sweeper) scan(ctx context.Context, rep *Report) error {
	ids, err := s.ledger.ListMediaIDs(ctx)
	if err != nil {
		return err
	}

	// The ledger decides ownership: a stem belongs to the record whose id
	// hashes to it, whatever its marker says.
	byDigest := make(map[string]string, len(ids))
	for id := range ids {
		if digest, err := shard.Digest(id); err == nil {
			byDigest[digest] = id
		}
	}

	seen := make(map[string]bool, len(ids))
	err = s.content.Walk(ctx, func(e content.Entry) error {
		rep.PartialFiles += e.Partial

		id, owned := byDigest[e.Digest]
		if !owned {
			rep.Orphans = append(rep.Orphans, Orphan{Entry: e, Reason: classify(e)})
			return nil
		}
		if e.OwnerID != id {
			rep.Unmarked = append(rep.Unmarked, Unmarked{ID: id, Marker: e.OwnerID})
			s.log.Warn().Str("id", id).Str("marker", e.OwnerID).Str("path", e.Path).Msg("owner marker does not match record")
		}
		seen[id] = true
		if ids[id] == store.StatusStored {
			if missing := missingKinds(e.Kinds); len(missing) > 0 {
				rep.Missing = append(rep.Missing, Missing{ID: id, Kinds: missing})
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for id, st := range ids {
		if st == store.StatusStored && !seen[id] {
			rep.Missing = append(rep.Missing, Missing{ID: id, Kinds: missingKinds(nil)})
		}
	}
	sortMissing(rep.Missing)
	return nil
}

// classify names why a stem that no record hashes to is orphaned
func classify(e content.Entry) OrphanReason {
	if e.OwnerID == "" {
		return ReasonNoOwner
	}
	if digest, err := shard.Digest(e.OwnerID); err != nil || digest != e.Digest {
		return ReasonWrongPath
	}
	return ReasonNoRecord
}

// restoreMarkers rewrites missing owner markers. A marker naming another
// id is left alone for the operator.
func (s *Sweeper) restoreMarkers(ctx context.Context, rep *Report) {
	for i, u := range rep.Unmarked {
		if u.Marker != "" {
			continue
		}
		if err := s.content.Reserve(ctx, u.ID); err != nil {
			rep.Errors = append(rep.Errors, fmt.Errorf("restore marker of %s: %w", u.ID, err))
			continue
		}
		rep.Unmarked[i].Restored = true
		s.log.Info().Str("id", u.ID).Msg("restored owner marker")
	}
}

// Prune deletes orphaned stems. Each orphan is checked against the ledger
// again right before deletion, both by owner id and by shard path.
func (s *Sweeper) Prune(ctx context.Context, orphans []Orphan) (int, error) {
	pruned := 0
	var errs []error
	for _, o := range orphans {
		if err := ctx.Err(); err != nil {
			return pruned, err
		}
		if m, err := s.ledger.GetMediaByObjectPath(ctx, o.Entry.Path); err == nil {
			s.log.Debug().Str("id", m.ID).Str("path", o.Entry.Path).Msg("stem belongs to a record, keeping artifacts")
			continue
		} else if !errors.Is(err, util.ErrNotFound) {
			errs = append(errs, err)
			continue
		}
		if o.Reason == ReasonNoRecord {
			if _, err := s.ledger.GetMedia(ctx, o.Entry.OwnerID); err == nil {
				s.log.Debug().Str("id", o.Entry.OwnerID).Msg("record appeared, keeping artifacts")
				continue
			}
		}
		if err := s.content.DeleteEntry(ctx, o.Entry); err != nil {
			errs = append(errs, err)
			s.events.LogOrphan(o.Entry.Path, o.Entry.OwnerID, false)
			continue
		}
		pruned++
		s.events.LogOrphan(o.Entry.Path, o.Entry.OwnerID, true)
	}
	return pruned, errors.Join(errs...)
}

func missingKinds(present []content.Kind) []content.Kind {
	have := make(map[content.Kind]bool, len(present))
	for _, k := range present {
		have[k] = true
	}
	var missing []content.Kind
	for _, k := range content.Kinds {
		if k.Required() && !have[k] {
			missing = append(missing, k)
		}
	}
	return missing
}

func sortMissing(items []Missing) {
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
}
