package reconcile

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franz/mediabin/internal/content"
	"github.com/franz/mediabin/internal/ingest"
	"github.com/franz/mediabin/internal/report"
	"github.com/franz/mediabin/internal/shard"
	"github.com/franz/mediabin/internal/store"
	"github.com/franz/mediabin/internal/util"
)

type testEnv struct {
	coord   *ingest.Coordinator
	ledger  *store.Store
	content *content.Store
	datadir string
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	ledger, err := store.Open(filepath.Join(dir, "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })

	datadir := filepath.Join(dir, "media_data")
	cs, err := content.New(content.Config{Root: datadir, RetryConfig: util.NoRetry()})
	require.NoError(t, err)

	coord := ingest.New(ingest.Config{Ledger: ledger, Content: cs, Events: report.NullLogger()})
	t.Cleanup(coord.Close)

	return &testEnv{coord: coord, ledger: ledger, content: cs, datadir: datadir}
}

func (e *testEnv) stored(t *testing.T, id string) {
	t.Helper()
	ctx := context.Background()
	_, err := e.coord.BeginIngest(ctx, id, ingest.Meta{Title: id})
	require.NoError(t, err)
	require.NoError(t, e.coord.MarkDownloading(ctx, id))
	for _, k := range []content.Kind{content.KindVideo, content.KindMeta} {
		_, err := e.coord.StoreArtifact(ctx, id, k, strings.NewReader(string(k)))
		require.NoError(t, err)
	}
	require.NoError(t, e.coord.Complete(ctx, id, nil))
}

func (e *testEnv) artifactPath(id string, kind content.Kind) string {
	p, _ := shard.Path(id)
	return filepath.Join(e.datadir, filepath.FromSlash(p)) + kind.Ext()
}

func (e *testEnv) sweeper(offset time.Duration) *Sweeper {
	return New(Config{
		Coordinator: e.coord,
		Events:      report.NullLogger(),
		StaleAfter:  time.Hour,
		Now:         func() time.Time { return time.Now().Add(offset) },
	})
}

func TestSweepStale(t *testing.T) {
	ctx := context.Background()
	env := setupTestEnv(t)

	_, err := env.coord.BeginIngest(ctx, "yt__pending", ingest.Meta{Title: "p"})
	require.NoError(t, err)
	_, err = env.coord.BeginIngest(ctx, "yt__dl", ingest.Meta{Title: "d"})
	require.NoError(t, err)
	require.NoError(t, env.coord.MarkDownloading(ctx, "yt__dl"))
	env.stored(t, "yt__done")

	t.Run("fresh records are left alone", func(t *testing.T) {
		swept, err := env.sweeper(0).SweepStale(ctx)
		require.NoError(t, err)
		assert.Empty(t, swept)
	})

	t.Run("old records are failed", func(t *testing.T) {
		swept, err := env.sweeper(2*time.Hour).SweepStale(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"yt__pending", "yt__dl"}, swept)

		for _, id := range swept {
			m, err := env.ledger.GetMedia(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, store.StatusFailed, m.Status)
			assert.True(t, strings.HasPrefix(m.FailureReason, "stale:"), m.FailureReason)
		}

		m, err := env.ledger.GetMedia(ctx, "yt__done")
		require.NoError(t, err)
		assert.Equal(t, store.StatusStored, m.Status)
	})

	t.Run("second sweep finds nothing", func(t *testing.T) {
		swept, err := env.sweeper(2*time.Hour).SweepStale(ctx)
		require.NoError(t, err)
		assert.Empty(t, swept)
	})
}

func TestRun_OrphansAndMissing(t *testing.T) {
	ctx := context.Background()
	env := setupTestEnv(t)

	env.stored(t, "yt__keep")
	env.stored(t, "yt__broken")
	require.NoError(t, os.Remove(env.artifactPath("yt__broken", content.KindMeta)))

	// Reserved but never recorded
	require.NoError(t, env.content.Reserve(ctx, "yt__ghost"))
	_, err := env.content.WriteArtifact(ctx, "yt__ghost", content.KindVideo, strings.NewReader("boo"))
	require.NoError(t, err)

	// Artifact with no owner marker
	lost := env.artifactPath("yt__lost", content.KindVideo)
	require.NoError(t, os.MkdirAll(filepath.Dir(lost), 0755))
	require.NoError(t, os.WriteFile(lost, []byte("?"), 0644))

	rep, err := env.sweeper(0).Run(ctx, Options{})
	require.NoError(t, err)
	assert.Empty(t, rep.Stale)
	assert.Empty(t, rep.Errors)
	assert.Zero(t, rep.Pruned)

	reasons := map[OrphanReason]int{}
	for _, o := range rep.Orphans {
		reasons[o.Reason]++
	}
	assert.Equal(t, map[OrphanReason]int{ReasonNoOwner: 1, ReasonNoRecord: 1}, reasons)

	require.Len(t, rep.Missing, 1)
	assert.Equal(t, "yt__broken", rep.Missing[0].ID)
	assert.Equal(t, []content.Kind{content.KindMeta}, rep.Missing[0].Kinds)

	rep, err = env.sweeper(0).Run(ctx, Options{Prune: true})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Pruned)
	assert.False(t, env.content.Exists("yt__ghost", content.KindVideo))
	_, err = os.Stat(lost)
	assert.True(t, os.IsNotExist(err))
	assert.True(t, env.content.Exists("yt__keep", content.KindVideo))

	orphans, err := env.sweeper(0).FindOrphans(ctx)
	require.NoError(t, err)
	assert.Empty(t, orphans)
}

func TestRun_StoredWithNoFiles(t *testing.T) {
	ctx := context.Background()
	env := setupTestEnv(t)
	env.stored(t, "yt__gone")
	require.NoError(t, env.content.Delete(ctx, "yt__gone"))

	rep, err := env.sweeper(0).Run(ctx, Options{})
	require.NoError(t, err)
	require.Len(t, rep.Missing, 1)
	assert.Equal(t, []content.Kind{content.KindVideo, content.KindMeta}, rep.Missing[0].Kinds)
}

func TestPrune_SkipsRecordThatAppeared(t *testing.T) {
	ctx := context.Background()
	env := setupTestEnv(t)

	require.NoError(t, env.content.Reserve(ctx, "yt__late"))
	orphans, err := env.sweeper(0).FindOrphans(ctx)
	require.NoError(t, err)
	require.Len(t, orphans, 1)

	require.NoError(t, env.ledger.InsertMedia(ctx, &store.Media{ID: "yt__late", Title: "late"}))

	pruned, err := env.sweeper(0).Prune(ctx, orphans)
	require.NoError(t, err)
	assert.Zero(t, pruned)
}

func (e *testEnv) markerPath(id string) string {
	p, _ := shard.Path(id)
	return filepath.Join(e.datadir, filepath.FromSlash(p)) + ".id"
}

func TestRun_KeepsRecordFilesWithoutMarker(t *testing.T) {
	ctx := context.Background()
	env := setupTestEnv(t)
	env.stored(t, "yt__live")
	require.NoError(t, os.Remove(env.markerPath("yt__live")))

	rep, err := env.sweeper(0).Run(ctx, Options{Prune: true})
	require.NoError(t, err)
	assert.Empty(t, rep.Orphans)
	assert.Zero(t, rep.Pruned)
	assert.Empty(t, rep.Missing)
	assert.Equal(t, []Unmarked{{ID: "yt__live"}}, rep.Unmarked)

	m, err := env.ledger.GetMedia(ctx, "yt__live")
	require.NoError(t, err)
	assert.Equal(t, store.StatusStored, m.Status)
	assert.True(t, env.content.Exists("yt__live", content.KindVideo))
	assert.True(t, env.content.Exists("yt__live", content.KindMeta))

	rep, err = env.sweeper(0).Run(ctx, Options{RestoreMarkers: true})
	require.NoError(t, err)
	require.Len(t, rep.Unmarked, 1)
	assert.True(t, rep.Unmarked[0].Restored)

	marker, err := os.ReadFile(env.markerPath("yt__live"))
	require.NoError(t, err)
	assert.Equal(t, "yt__live", string(marker))

	rep, err = env.sweeper(0).Run(ctx, Options{})
	require.NoError(t, err)
	assert.Empty(t, rep.Unmarked)
}

func TestPrune_SkipsStemOwnedByRecord(t *testing.T) {
	ctx := context.Background()
	env := setupTestEnv(t)
	env.stored(t, "yt__owned")

	p, err := shard.Path("yt__owned")
	require.NoError(t, err)
	digest, err := shard.Digest("yt__owned")
	require.NoError(t, err)
	stale := []Orphan{{
		Entry:  content.Entry{Digest: digest, Path: p, Kinds: []content.Kind{content.KindVideo}},
		Reason: ReasonNoOwner,
	}}

	pruned, err := env.sweeper(0).Prune(ctx, stale)
	require.NoError(t, err)
	assert.Zero(t, pruned)
	assert.True(t, env.content.Exists("yt__owned", content.KindVideo))
}
