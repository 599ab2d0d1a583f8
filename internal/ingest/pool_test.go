package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franz/mediabin/internal/content"
	"github.com/franz/mediabin/internal/store"
	"github.com/franz/mediabin/internal/util"
)

// fakeSource writes a video and meta artifact, optionally failing or
// waiting on a barrier first
type fakeSource struct {
	fail     error
	barrier  *barrier
	skipMeta bool
}

func (s *fakeSource) Fetch(ctx context.Context, id string, put PutFunc) (*store.MediaPatch, error) {
	if s.barrier != nil {
		s.barrier.arrive()
	}
	if s.fail != nil {
		return nil, s.fail
	}
	if _, err := put(ctx, content.KindVideo, strings.NewReader("video of "+id), 0); err != nil {
		return nil, err
	}
	if !s.skipMeta {
		if _, err := put(ctx, content.KindMeta, strings.NewReader(`{}`), 2); err != nil {
			return nil, err
		}
	}
	title := "Fetched " + id
	return &store.MediaPatch{Title: &title}, nil
}

// barrier records how many fetches were in flight together
type barrier struct {
	mu      sync.Mutex
	waiting int
	peak    int
	need    int
	release chan struct{}
}

func newBarrier(need int) *barrier {
	return &barrier{need: need, release: make(chan struct{})}
}

func (b *barrier) arrive() {
	b.mu.Lock()
	b.waiting++
	if b.waiting > b.peak {
		b.peak = b.waiting
	}
	if b.waiting == b.need {
		close(b.release)
	}
	b.mu.Unlock()

	select {
	case <-b.release:
	case <-time.After(2 * time.Second):
	}

	b.mu.Lock()
	b.waiting--
	b.mu.Unlock()
}

func TestPoolRun(t *testing.T) {
	ctx := context.Background()

	t.Run("ingests jobs and keeps input order", func(t *testing.T) {
		env := setupTestEnv(t)
		tracker := NewTracker(0, nil)
		p := NewPool(env.coord, PoolConfig{Concurrency: 2, Tracker: tracker})

		var jobs []Job
		for i := 0; i < 5; i++ {
			jobs = append(jobs, Job{
				ID:     fmt.Sprintf("yt__%d", i),
				Meta:   Meta{Title: "Job"},
				Source: &fakeSource{},
			})
		}

		results := p.Run(ctx, jobs)
		tracker.Close()

		require.Len(t, results, 5)
		for i, res := range results {
			require.NoError(t, res.Err)
			assert.Equal(t, jobs[i].ID, res.ID)
			require.NotNil(t, res.Media)
			assert.Equal(t, store.StatusStored, res.Media.Status)
			assert.Equal(t, "Fetched "+jobs[i].ID, res.Media.Title)
			assert.Positive(t, res.Bytes)
		}
		assert.Len(t, tracker.Snapshot(), 10)
	})

	t.Run("runs distinct ids concurrently", func(t *testing.T) {
		env := setupTestEnv(t)
		b := newBarrier(3)
		p := NewPool(env.coord, PoolConfig{Concurrency: 3})

		var jobs []Job
		for i := 0; i < 3; i++ {
			jobs = append(jobs, Job{ID: fmt.Sprintf("yt__%d", i), Meta: Meta{Title: "Job"}, Source: &fakeSource{barrier: b}})
		}
		for _, res := range p.Run(ctx, jobs) {
			require.NoError(t, res.Err)
		}
		assert.Equal(t, 3, b.peak)
	})

	t.Run("source error marks the job failed", func(t *testing.T) {
		env := setupTestEnv(t)
		p := NewPool(env.coord, PoolConfig{})

		results := p.Run(ctx, []Job{
			{ID: "yt__good", Meta: Meta{Title: "Good"}, Source: &fakeSource{}},
			{ID: "yt__bad", Meta: Meta{Title: "Bad"}, Source: &fakeSource{fail: errors.New("HTTP 404")}},
			{ID: "yt__half", Meta: Meta{Title: "Half"}, Source: &fakeSource{skipMeta: true}},
		})

		assert.NoError(t, results[0].Err)
		assert.ErrorContains(t, results[1].Err, "HTTP 404")
		assert.ErrorIs(t, results[2].Err, util.ErrIncompleteIngest)

		bad, err := env.ledger.GetMedia(ctx, "yt__bad")
		require.NoError(t, err)
		assert.Equal(t, store.StatusFailed, bad.Status)
		assert.Equal(t, "HTTP 404", bad.FailureReason)

		half, err := env.ledger.GetMedia(ctx, "yt__half")
		require.NoError(t, err)
		assert.Equal(t, store.StatusFailed, half.Status)
	})

	t.Run("duplicate job in one batch", func(t *testing.T) {
		env := setupTestEnv(t)
		p := NewPool(env.coord, PoolConfig{Concurrency: 1})
		results := p.Run(ctx, []Job{
			{ID: "yt__same", Meta: Meta{Title: "A"}, Source: &fakeSource{}},
			{ID: "yt__same", Meta: Meta{Title: "B"}, Source: &fakeSource{}},
		})
		assert.NoError(t, results[0].Err)
		assert.ErrorIs(t, results[1].Err, util.ErrDuplicateID)
		assert.Equal(t, store.StatusStored, env.status(t, "yt__same"))
	})

	t.Run("canceled run leaves no failed records", func(t *testing.T) {
		env := setupTestEnv(t)
		p := NewPool(env.coord, PoolConfig{})
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		results := p.Run(cctx, []Job{{ID: "yt__x", Meta: Meta{Title: "X"}, Source: &fakeSource{}}})
		assert.ErrorIs(t, results[0].Err, context.Canceled)
		_, err := env.ledger.GetMedia(ctx, "yt__x")
		assert.ErrorIs(t, err, util.ErrNotFound)
	})
}
