package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/franz/mediabin/internal/content"
	"github.com/franz/mediabin/internal/store"
	"github.com/franz/mediabin/internal/util"
)

// DefaultConcurrency is the number of ingests run at once
const DefaultConcurrency = 3

// PutFunc stores one artifact for the job being fetched
type PutFunc func(ctx context.Context, kind content.Kind, r io.Reader, size int64) (int64, error)

// Source produces the artifacts of one item. It calls put for every
// artifact and returns the final metadata for the record.
type Source interface {
	Fetch(ctx context.Context, id string, put PutFunc) (*store.MediaPatch, error)
}

// Job is one item to ingest
type Job struct {
	ID     string
	Meta   Meta
	Source Source
}

// Result is the outcome of one job
type Result struct {
	ID       string
	Media    *store.Media
	Bytes    int64
	Duration time.Duration
	Err      error

	index int
}

// PoolConfig holds configuration for the ingest pool
type PoolConfig struct {
	Concurrency int      // Max concurrent ingests (0 = 3)
	Tracker     *Tracker // Progress sink (nil = none)
}

// Pool runs jobs through the coordinator with bounded concurrency
type Pool struct {
	coord       *Coordinator
	concurrency int
	tracker     *Tracker
}

// NewPool creates an ingest pool
func NewPool(coord *Coordinator, cfg PoolConfig) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return &Pool{coord: coord, concurrency: cfg.Concurrency, tracker: cfg.Tracker}
}

// Run ingests every job and returns one result per job in input order.
// Distinct ids proceed in parallel. A job whose source fails is marked
// failed; a canceled context leaves in-flight records untouched for
// reconciliation.
func (p *Pool) Run(ctx context.Context, jobs []Job) []Result {
	workers := pool.NewWithResults[Result]().WithMaxGoroutines(p.concurrency)

	for i, job := range jobs {
		workers.Go(func() Result {
			res := p.runJob(ctx, job)
			res.index = i
			return res
		})
	}

	results := workers.Wait()
	sort.Slice(results, func(a, b int) bool { return results[a].index < results[b].index })
	return results
}

func (p *Pool) runJob(ctx context.Context, job Job) Result {
	start := time.Now()
	res := Result{ID: job.ID}
	defer func() { res.Duration = time.Since(start) }()

	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}

	if _, err := p.coord.BeginIngest(ctx, job.ID, job.Meta); err != nil {
		res.Err = err
		return res
	}

	if err := p.coord.MarkDownloading(ctx, job.ID); err != nil {
		res.Err = p.failJob(ctx, job.ID, err)
		return res
	}

	put := func(ctx context.Context, kind content.Kind, r io.Reader, size int64) (int64, error) {
		n, err := p.coord.StoreArtifact(ctx, job.ID, kind, p.tracker.Reader(job.ID, kind, r, size))
		res.Bytes += n
		return n, err
	}

	patch, err := job.Source.Fetch(ctx, job.ID, put)
	if err != nil {
		res.Err = p.failJob(ctx, job.ID, err)
		return res
	}

	if err := p.coord.Complete(ctx, job.ID, patch); err != nil {
		res.Err = p.failJob(ctx, job.ID, err)
		return res
	}

	m, err := p.coord.Ledger().GetMedia(ctx, job.ID)
	if err != nil {
		res.Err = err
		return res
	}
	res.Media = m
	util.DebugLog("Ingested %s in %v (%s)", job.ID, util.Elapsed(start), util.FormatBytes(res.Bytes))
	return res
}

// failJob records cause as the failure reason unless the record is
// already failed or the run was canceled
func (p *Pool) failJob(ctx context.Context, id string, cause error) error {
	if ctx.Err() != nil || errors.Is(cause, util.ErrStorageIO) {
		return cause
	}
	if err := p.coord.Fail(ctx, id, cause.Error()); err != nil {
		return errors.Join(cause, fmt.Errorf("could not mark failed: %w", err))
	}
	return cause
}
