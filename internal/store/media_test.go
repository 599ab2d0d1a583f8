package store

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franz/mediabin/internal/shard"
	"github.com/franz/mediabin/internal/util"
)

// fakeClock returns strictly increasing times
func fakeClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

func strPtr(s string) *string { return &s }

func TestInsertMedia(t *testing.T) {
	ctx := context.Background()

	t.Run("sets timestamps and default status", func(t *testing.T) {
		s := setupTestDB(t)
		m := &Media{ID: "yt__abc123", Title: "Test Video"}
		require.NoError(t, s.InsertMedia(ctx, m))

		got, err := s.GetMedia(ctx, "yt__abc123")
		require.NoError(t, err)
		assert.Equal(t, "Test Video", got.Title)
		assert.Equal(t, StatusPending, got.Status)
		assert.False(t, got.InstalledAt.IsZero())
		assert.Equal(t, got.InstalledAt, got.UpdatedAt)
		assert.Nil(t, got.CreatedAt)

		want, err := shard.Path("yt__abc123")
		require.NoError(t, err)
		assert.Equal(t, want, got.ObjectPath)
	})

	t.Run("rejects an object path that is not the id's shard path", func(t *testing.T) {
		s := setupTestDB(t)
		for _, p := range []string{"ZZ/ZZ/not-the-digest", "../../etc"} {
			err := s.InsertMedia(ctx, &Media{ID: "yt__abc123", Title: "x", ObjectPath: p, Status: StatusStored})
			assert.ErrorIs(t, err, util.ErrInvalidIdentifier, p)
		}
		_, err := s.GetMedia(ctx, "yt__abc123")
		assert.ErrorIs(t, err, util.ErrNotFound)
	})

	t.Run("stored record always carries its shard path", func(t *testing.T) {
		s := setupTestDB(t)
		require.NoError(t, s.InsertMedia(ctx, &Media{ID: "yt__done", Title: "x", Status: StatusStored}))
		require.NoError(t, s.UpdateMedia(ctx, "yt__done", &MediaPatch{Title: strPtr("renamed")}))

		got, err := s.GetMedia(ctx, "yt__done")
		require.NoError(t, err)
		want, err := shard.Path("yt__done")
		require.NoError(t, err)
		assert.Equal(t, want, got.ObjectPath)
		assert.Equal(t, "renamed", got.Title)
	})

	t.Run("keeps optional fields", func(t *testing.T) {
		s := setupTestDB(t)
		created := time.Date(2019, 5, 1, 12, 0, 0, 0, time.UTC)
		m := &Media{
			ID:           "vimeo__42",
			Title:        "Clip",
			Description:  "A clip",
			OriginURL:    "https://example.org/watch/42",
			ThumbnailURL: "https://example.org/thumb/42.jpg",
			CreatedAt:    &created,
		}
		require.NoError(t, s.InsertMedia(ctx, m))

		got, err := s.GetMedia(ctx, "vimeo__42")
		require.NoError(t, err)
		assert.Equal(t, "A clip", got.Description)
		assert.Equal(t, m.OriginURL, got.OriginURL)
		assert.Empty(t, got.VideoURL)
		require.NotNil(t, got.CreatedAt)
		assert.True(t, created.Equal(*got.CreatedAt))
	})

	t.Run("duplicate id", func(t *testing.T) {
		s := setupTestDB(t)
		require.NoError(t, s.InsertMedia(ctx, &Media{ID: "yt__abc123", Title: "One"}))
		err := s.InsertMedia(ctx, &Media{ID: "yt__abc123", Title: "Two"})
		assert.ErrorIs(t, err, util.ErrDuplicateID)
	})

	t.Run("rejects bad input", func(t *testing.T) {
		s := setupTestDB(t)
		assert.ErrorIs(t, s.InsertMedia(ctx, &Media{ID: "", Title: "x"}), util.ErrInvalidIdentifier)
		assert.Error(t, s.InsertMedia(ctx, &Media{ID: "yt__1", Title: "  "}))
		assert.Error(t, s.InsertMedia(ctx, &Media{ID: "yt__1", Title: "x", Status: "removed"}))
	})
}

func TestUpdateMedia(t *testing.T) {
	ctx := context.Background()
	s := setupTestDB(t)
	s.now = fakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	require.NoError(t, s.InsertMedia(ctx, &Media{ID: "yt__abc123", Title: "Test Video", Description: "old"}))
	before, err := s.GetMedia(ctx, "yt__abc123")
	require.NoError(t, err)

	t.Run("refreshes updated and keeps installed", func(t *testing.T) {
		require.NoError(t, s.UpdateMedia(ctx, "yt__abc123", &MediaPatch{Title: strPtr("Renamed")}))

		got, err := s.GetMedia(ctx, "yt__abc123")
		require.NoError(t, err)
		assert.Equal(t, "Renamed", got.Title)
		assert.Equal(t, "old", got.Description)
		assert.Equal(t, before.InstalledAt, got.InstalledAt)
		assert.True(t, got.UpdatedAt.After(before.UpdatedAt))
	})

	t.Run("empty patch still touches", func(t *testing.T) {
		prev, _ := s.GetMedia(ctx, "yt__abc123")
		require.NoError(t, s.UpdateMedia(ctx, "yt__abc123", &MediaPatch{}))
		got, _ := s.GetMedia(ctx, "yt__abc123")
		assert.True(t, got.UpdatedAt.After(prev.UpdatedAt))
	})

	t.Run("empty string clears optional field", func(t *testing.T) {
		require.NoError(t, s.UpdateMedia(ctx, "yt__abc123", &MediaPatch{Description: strPtr("")}))
		got, _ := s.GetMedia(ctx, "yt__abc123")
		assert.Empty(t, got.Description)
	})

	t.Run("missing record", func(t *testing.T) {
		err := s.UpdateMedia(ctx, "yt__missing", &MediaPatch{Title: strPtr("x")})
		assert.ErrorIs(t, err, util.ErrNotFound)
	})
}

func TestDeleteMediaCascadesTags(t *testing.T) {
	ctx := context.Background()
	s := setupTestDB(t)

	require.NoError(t, s.InsertMedia(ctx, &Media{ID: "abc123", Title: "Movie"}))
	require.NoError(t, s.InsertMedia(ctx, &Media{ID: "other", Title: "Other"}))
	require.NoError(t, s.AddTag(ctx, MediaResource("abc123"), "actor:martin_short"))
	require.NoError(t, s.AddTag(ctx, MediaResource("abc123"), "category:comedy"))
	require.NoError(t, s.AddTag(ctx, MediaResource("other"), "category:comedy"))

	require.NoError(t, s.DeleteMedia(ctx, "abc123"))

	tags, err := s.TagsFor(ctx, MediaResource("abc123"))
	require.NoError(t, err)
	assert.Empty(t, tags)

	tags, err = s.TagsFor(ctx, MediaResource("other"))
	require.NoError(t, err)
	assert.Equal(t, []string{"category:comedy"}, tags)

	_, err = s.GetMedia(ctx, "abc123")
	assert.ErrorIs(t, err, util.ErrNotFound)
	assert.ErrorIs(t, s.DeleteMedia(ctx, "abc123"), util.ErrNotFound)
}

func TestAdmitMedia(t *testing.T) {
	ctx := context.Background()

	t.Run("inserts new record as pending", func(t *testing.T) {
		s := setupTestDB(t)
		want, err := shard.Path("yt__abc123")
		require.NoError(t, err)
		m := &Media{ID: "yt__abc123", Title: "Test Video", ObjectPath: want, Status: StatusStored}
		readmitted, err := s.AdmitMedia(ctx, m)
		require.NoError(t, err)
		assert.False(t, readmitted)

		got, err := s.GetMedia(ctx, "yt__abc123")
		require.NoError(t, err)
		assert.Equal(t, StatusPending, got.Status)
		assert.Equal(t, want, got.ObjectPath)
	})

	t.Run("attaches tags with the record", func(t *testing.T) {
		s := setupTestDB(t)
		_, err := s.AdmitMedia(ctx, &Media{ID: "yt__tagged", Title: "x"}, "Source:YT", "music", "music")
		require.NoError(t, err)

		tags, err := s.TagsFor(ctx, MediaResource("yt__tagged"))
		require.NoError(t, err)
		assert.Equal(t, []string{"music", "source:YT"}, tags)
	})

	t.Run("invalid tag admits nothing", func(t *testing.T) {
		s := setupTestDB(t)
		_, err := s.AdmitMedia(ctx, &Media{ID: "yt__badtag", Title: "x"}, "ok", "bad\x00tag")
		assert.ErrorIs(t, err, util.ErrInvalidIdentifier)

		_, err = s.GetMedia(ctx, "yt__badtag")
		assert.ErrorIs(t, err, util.ErrNotFound)
	})

	t.Run("active record is a duplicate", func(t *testing.T) {
		s := setupTestDB(t)
		for _, st := range []Status{StatusPending, StatusDownloading, StatusStored} {
			id := "yt__" + string(st)
			require.NoError(t, s.InsertMedia(ctx, &Media{ID: id, Title: "x", Status: st}))
			_, err := s.AdmitMedia(ctx, &Media{ID: id, Title: "again"})
			assert.ErrorIs(t, err, util.ErrDuplicateID, "status %s", st)
		}
	})

	t.Run("failed record is readmitted keeping installed time", func(t *testing.T) {
		s := setupTestDB(t)
		s.now = fakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
		require.NoError(t, s.InsertMedia(ctx, &Media{
			ID: "yt__abc123", Title: "Old", Status: StatusFailed, FailureReason: "network",
		}))
		old, _ := s.GetMedia(ctx, "yt__abc123")

		m := &Media{ID: "yt__abc123", Title: "New"}
		readmitted, err := s.AdmitMedia(ctx, m)
		require.NoError(t, err)
		assert.True(t, readmitted)
		assert.Equal(t, old.InstalledAt, m.InstalledAt)

		got, _ := s.GetMedia(ctx, "yt__abc123")
		assert.Equal(t, StatusPending, got.Status)
		assert.Equal(t, "New", got.Title)
		assert.Empty(t, got.FailureReason)
		assert.Equal(t, old.InstalledAt, got.InstalledAt)
		assert.True(t, got.UpdatedAt.After(old.UpdatedAt))
	})
}

func TestTransitionMedia(t *testing.T) {
	ctx := context.Background()
	s := setupTestDB(t)
	require.NoError(t, s.InsertMedia(ctx, &Media{ID: "yt__abc123", Title: "Test Video"}))

	err := s.TransitionMedia(ctx, "yt__abc123", []Status{StatusPending}, StatusDownloading, nil)
	require.NoError(t, err)

	err = s.TransitionMedia(ctx, "yt__abc123", []Status{StatusPending}, StatusDownloading, nil)
	assert.ErrorIs(t, err, util.ErrInvalidTransition)

	err = s.TransitionMedia(ctx, "yt__abc123", []Status{StatusDownloading}, StatusFailed,
		&MediaPatch{FailureReason: strPtr("disk full")})
	require.NoError(t, err)

	got, err := s.GetMedia(ctx, "yt__abc123")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "disk full", got.FailureReason)

	err = s.TransitionMedia(ctx, "yt__missing", []Status{StatusPending}, StatusFailed, nil)
	assert.ErrorIs(t, err, util.ErrNotFound)
}

func TestListMedia(t *testing.T) {
	ctx := context.Background()
	s := setupTestDB(t)
	s.now = fakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	seed := []struct {
		id     string
		title  string
		status Status
		tags   []string
	}{
		{"m1", "Three Amigos", StatusStored, []string{"category:comedy", "actor:martin_short"}},
		{"m2", "Innerspace", StatusStored, []string{"category:scifi", "actor:martin_short"}},
		{"m3", "Airplane!", StatusStored, []string{"category:comedy"}},
		{"m4", "Big Buck Bunny", StatusPending, nil},
		{"m5", "100% Pure_Fun", StatusFailed, nil},
	}
	for _, m := range seed {
		require.NoError(t, s.InsertMedia(ctx, &Media{ID: m.id, Title: m.title, Status: m.status}))
		for _, tag := range m.tags {
			require.NoError(t, s.AddTag(ctx, MediaResource(m.id), tag))
		}
	}

	ids := func(list []*Media) []string {
		out := make([]string, 0, len(list))
		for _, m := range list {
			out = append(out, m.ID)
		}
		return out
	}

	testCases := []struct {
		name   string
		filter MediaFilter
		want   []string
	}{
		{"all newest first", MediaFilter{}, []string{"m5", "m4", "m3", "m2", "m1"}},
		{"by status", MediaFilter{Status: StatusStored}, []string{"m3", "m2", "m1"}},
		{"all tags required", MediaFilter{Tags: []string{"category:comedy", "actor:martin_short"}}, []string{"m1"}},
		{"single tag", MediaFilter{Tags: []string{"actor:martin_short"}}, []string{"m2", "m1"}},
		{"duplicate tags count once", MediaFilter{Tags: []string{"category:comedy", " category:comedy "}}, []string{"m3", "m1"}},
		{"unknown tag", MediaFilter{Tags: []string{"actor:nobody"}}, []string{}},
		{"title words in order", MediaFilter{Query: "big bunny"}, []string{"m4"}},
		{"title case-insensitive", MediaFilter{Query: "AMIGOS"}, []string{"m1"}},
		{"title words out of order", MediaFilter{Query: "bunny big"}, []string{}},
		{"wildcards are literal", MediaFilter{Query: "0% pure_"}, []string{"m5"}},
		{"limit", MediaFilter{Limit: 2}, []string{"m5", "m4"}},
		{"status and tag", MediaFilter{Status: StatusPending, Tags: []string{"category:comedy"}}, []string{}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := s.ListMedia(ctx, tc.filter)
			require.NoError(t, err)
			assert.Equal(t, tc.want, ids(got))
		})
	}
}

func TestListStaleAndCounts(t *testing.T) {
	ctx := context.Background()
	s := setupTestDB(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = fakeClock(base)

	require.NoError(t, s.InsertMedia(ctx, &Media{ID: "old", Title: "x", Status: StatusDownloading}))
	require.NoError(t, s.InsertMedia(ctx, &Media{ID: "stored", Title: "x", Status: StatusStored}))
	s.now = fakeClock(base.Add(time.Hour))
	require.NoError(t, s.InsertMedia(ctx, &Media{ID: "fresh", Title: "x", Status: StatusPending}))

	stale, err := s.ListStale(ctx, []Status{StatusPending, StatusDownloading}, base.Add(30*time.Minute))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "old", stale[0].ID)

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[Status]int{
		StatusPending: 1, StatusDownloading: 1, StatusStored: 1, StatusFailed: 0,
	}, counts)

	all, err := s.ListMediaIDs(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, StatusStored, all["stored"])
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus(" Stored ")
	require.NoError(t, err)
	assert.Equal(t, StatusStored, st)

	_, err = ParseStatus("removed")
	assert.Error(t, err)
}

func TestGetMediaByObjectPath(t *testing.T) {
	ctx := context.Background()
	s := setupTestDB(t)
	require.NoError(t, s.InsertMedia(ctx, &Media{ID: "yt__abc123", Title: "x", Status: StatusStored}))

	p, err := shard.Path("yt__abc123")
	require.NoError(t, err)
	got, err := s.GetMediaByObjectPath(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, "yt__abc123", got.ID)

	_, err = s.GetMediaByObjectPath(ctx, "AA/BB/"+strings.Repeat("0", shard.DigestLen))
	assert.ErrorIs(t, err, util.ErrNotFound)
}
