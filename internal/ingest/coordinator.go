// Package ingest admits media ids and drives them through
// pending -> downloading -> stored, with failed reachable from the first
// two and removal from stored or failed.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/franz/mediabin/internal/content"
	"github.com/franz/mediabin/internal/report"
	"github.com/franz/mediabin/internal/shard"
	"github.com/franz/mediabin/internal/store"
	"github.com/franz/mediabin/internal/util"
)

// Meta is the minimal description supplied at admission
type Meta struct {
	Title        string
	Description  string
	OriginURL    string
	VideoURL     string
	ThumbnailURL string
	CreatedAt    *time.Time
	Tags         []string
}

// Coordinator is the single admission point for new media
type Coordinator struct {
	ledger  *store.Store
	content *content.Store
	writer  *Writer
	locks   *KeyedMutex
	events  *report.EventLogger
	log     zerolog.Logger

	ownsWriter bool
}

// Config holds the coordinator's collaborators
type Config struct {
	Ledger  *store.Store
	Content *content.Store
	Writer  *Writer             // shared ledger writer (nil = coordinator starts its own)
	Events  *report.EventLogger // nil disables the event log
}

// New creates a coordinator
func New(cfg Config) *Coordinator {
	c := &Coordinator{
		ledger:  cfg.Ledger,
		content: cfg.Content,
		writer:  cfg.Writer,
		locks:   NewKeyedMutex(),
		events:  cfg.Events,
		log:     util.Logger().With().Str("component", "ingest").Logger(),
	}
	if c.writer == nil {
		c.writer = NewWriter(0)
		c.ownsWriter = true
	}
	return c
}

// Close stops the ledger writer if the coordinator started it
func (c *Coordinator) Close() {
	if c.ownsWriter {
		c.writer.Close()
	}
}

// Ledger returns the ledger the coordinator writes to
func (c *Coordinator) Ledger() *store.Store {
	return c.ledger
}

// Content returns the content store
func (c *Coordinator) Content() *content.Store {
	return c.content
}

func (c *Coordinator) lock(ctx context.Context, id string, stage Stage) (func(), error) {
	if err := shard.Validate(id); err != nil {
		return nil, wrapErr(id, stage, err)
	}
	unlock, err := c.locks.Lock(ctx, id)
	if err != nil {
		return nil, wrapErr(id, stage, err)
	}
	return unlock, nil
}

// BeginIngest claims id and records it as pending with its shard path.
// A concurrent BeginIngest for the same id is rejected with
// ErrDuplicateID instead of waiting, as is an id whose record is not
// failed. A failed record is admitted again.
func (c *Coordinator) BeginIngest(ctx context.Context, id string, meta Meta) (*store.Media, error) {
	objectPath, err := shard.Path(id)
	if err != nil {
		return nil, wrapErr(id, StageAdmission, err)
	}

	unlock, ok := c.locks.TryLock(id)
	if !ok {
		return nil, wrapErr(id, StageAdmission, fmt.Errorf("ingest already in progress: %w", util.ErrDuplicateID))
	}
	defer unlock()

	m := &store.Media{
		ID:           id,
		Title:        util.NormalizeTitle(meta.Title),
		Description:  meta.Description,
		OriginURL:    meta.OriginURL,
		VideoURL:     meta.VideoURL,
		ThumbnailURL: meta.ThumbnailURL,
		CreatedAt:    meta.CreatedAt,
		ObjectPath:   objectPath,
	}

	var readmitted bool
	err = c.writer.Do(ctx, func(ctx context.Context) error {
		var err error
		readmitted, err = c.ledger.AdmitMedia(ctx, m, meta.Tags...)
		return err
	})
	if err != nil {
		return nil, wrapErr(id, StageAdmission, err)
	}

	if err := c.content.Reserve(ctx, id); err != nil {
		return nil, c.abortAdmission(ctx, id, err)
	}

	c.events.LogAdmit(id, objectPath, readmitted)
	c.log.Info().Str("id", id).Str("object_path", objectPath).Bool("readmitted", readmitted).Msg("admitted")
	return m, nil
}

// abortAdmission undoes an admission whose shard could not be reserved.
// A collision removes the record; any other storage failure marks it
// failed so it can be retried.
func (c *Coordinator) abortAdmission(ctx context.Context, id string, cause error) error {
	if errors.Is(cause, util.ErrIDCollision) {
		err := c.writer.Do(ctx, func(ctx context.Context) error {
			return c.ledger.DeleteMedia(ctx, id)
		})
		if err != nil {
			c.log.Error().Err(err).Str("id", id).Msg("failed to roll back admission")
		}
		c.events.LogError(id, string(StageAdmission), cause)
		return wrapErr(id, StageAdmission, cause)
	}

	if err := c.markFailed(ctx, id, StageAdmission, cause); err != nil {
		c.log.Error().Err(err).Str("id", id).Msg("failed to record admission failure")
	}
	return wrapErr(id, StageAdmission, cause)
}

// markFailed records a storage failure on a non-terminal record
func (c *Coordinator) markFailed(ctx context.Context, id string, stage Stage, cause error) error {
	reason := fmt.Sprintf("%s: %v", stage, cause)
	err := c.writer.Do(ctx, func(ctx context.Context) error {
		return c.ledger.TransitionMedia(ctx, id,
			[]store.Status{store.StatusPending, store.StatusDownloading}, store.StatusFailed,
			&store.MediaPatch{FailureReason: &reason})
	})
	if err != nil {
		return err
	}
	c.events.LogFailed(id, string(stage), reason)
	c.log.Warn().Str("id", id).Str("stage", string(stage)).Str("reason", reason).Msg("marked failed")
	return nil
}

// MarkDownloading moves id from pending to downloading
func (c *Coordinator) MarkDownloading(ctx context.Context, id string) error {
	unlock, err := c.lock(ctx, id, StageTransition)
	if err != nil {
		return err
	}
	defer unlock()

	err = c.writer.Do(ctx, func(ctx context.Context) error {
		return c.ledger.TransitionMedia(ctx, id,
			[]store.Status{store.StatusPending}, store.StatusDownloading, nil)
	})
	if err != nil {
		return wrapErr(id, StageTransition, err)
	}

	c.events.LogTransition(report.EventDownloading, id)
	c.log.Debug().Str("id", id).Msg("downloading")
	return nil
}

// StoreArtifact writes one artifact for an id that is downloading. The
// status does not change. A storage failure marks the record failed.
func (c *Coordinator) StoreArtifact(ctx context.Context, id string, kind content.Kind, r io.Reader) (int64, error) {
	unlock, err := c.lock(ctx, id, StageArtifactWrite)
	if err != nil {
		return 0, err
	}
	defer unlock()

	if err := c.requireStatus(ctx, id, StageArtifactWrite, store.StatusDownloading); err != nil {
		return 0, err
	}

	start := time.Now()
	n, err := c.content.WriteArtifact(ctx, id, kind, r)
	c.events.LogArtifact(id, string(kind), n, time.Since(start), err)
	if err != nil {
		if errors.Is(err, util.ErrStorageIO) {
			if ferr := c.markFailed(ctx, id, StageArtifactWrite, err); ferr != nil {
				c.log.Error().Err(ferr).Str("id", id).Msg("failed to record artifact failure")
			}
		}
		return n, wrapErr(id, StageArtifactWrite, err)
	}
	return n, nil
}

func (c *Coordinator) requireStatus(ctx context.Context, id string, stage Stage, allowed ...store.Status) error {
	m, err := c.ledger.GetMedia(ctx, id)
	if err != nil {
		return wrapErr(id, stage, err)
	}
	for _, st := range allowed {
		if m.Status == st {
			return nil
		}
	}
	return wrapErr(id, stage, fmt.Errorf("%s in state %s: %w", stage, m.Status, util.ErrInvalidTransition))
}

// Complete moves id from downloading to stored once the video and meta
// artifacts exist, applying patch to the record. Status, object path and
// failure reason in the patch are ignored.
func (c *Coordinator) Complete(ctx context.Context, id string, patch *store.MediaPatch) error {
	unlock, err := c.lock(ctx, id, StageCompletion)
	if err != nil {
		return err
	}
	defer unlock()

	if err := c.requireStatus(ctx, id, StageCompletion, store.StatusDownloading); err != nil {
		return err
	}

	var missing []content.Kind
	for _, kind := range content.Kinds {
		if kind.Required() && !c.content.Exists(id, kind) {
			missing = append(missing, kind)
		}
	}
	if len(missing) > 0 {
		return wrapErr(id, StageCompletion, fmt.Errorf("missing %v: %w", missing, util.ErrIncompleteIngest))
	}

	p := store.MediaPatch{}
	if patch != nil {
		p = *patch
	}
	p.Status, p.FailureReason = nil, nil
	if p.Title != nil {
		title := util.NormalizeTitle(*p.Title)
		p.Title = &title
	}

	err = c.writer.Do(ctx, func(ctx context.Context) error {
		return c.ledger.TransitionMedia(ctx, id,
			[]store.Status{store.StatusDownloading}, store.StatusStored, &p)
	})
	if err != nil {
		return wrapErr(id, StageCompletion, err)
	}

	c.events.LogTransition(report.EventStored, id)
	c.log.Info().Str("id", id).Msg("stored")
	return nil
}

// Fail moves a pending or downloading id to failed. Artifacts already
// written stay on disk.
func (c *Coordinator) Fail(ctx context.Context, id string, reason string) error {
	unlock, err := c.lock(ctx, id, StageFailure)
	if err != nil {
		return err
	}
	defer unlock()

	err = c.writer.Do(ctx, func(ctx context.Context) error {
		return c.ledger.TransitionMedia(ctx, id,
			[]store.Status{store.StatusPending, store.StatusDownloading}, store.StatusFailed,
			&store.MediaPatch{FailureReason: &reason})
	})
	if err != nil {
		return wrapErr(id, StageFailure, err)
	}

	c.events.LogFailed(id, string(StageFailure), reason)
	c.log.Warn().Str("id", id).Str("reason", reason).Msg("failed")
	return nil
}

// Remove deletes a stored or failed id. The ledger record and its tags go
// first; artifact deletion afterwards is best effort and only logged.
func (c *Coordinator) Remove(ctx context.Context, id string) error {
	unlock, err := c.lock(ctx, id, StageRemoval)
	if err != nil {
		return err
	}
	defer unlock()

	if err := c.requireStatus(ctx, id, StageRemoval, store.StatusStored, store.StatusFailed); err != nil {
		return err
	}

	err = c.writer.Do(ctx, func(ctx context.Context) error {
		return c.ledger.DeleteMedia(ctx, id)
	})
	if err != nil {
		return wrapErr(id, StageRemoval, err)
	}

	objectPath, _ := shard.Path(id)
	cleanupErr := c.content.Delete(ctx, id)
	if cleanupErr != nil {
		c.log.Warn().Err(cleanupErr).Str("id", id).Str("object_path", objectPath).
			Msg("record removed but artifacts remain; run reconcile to prune")
	}
	c.events.LogRemoved(id, objectPath, cleanupErr)
	c.log.Info().Str("id", id).Msg("removed")
	return nil
}
