package shard

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/blake3"

	"github.com/franz/mediabin/internal/util"
)

func TestPath(t *testing.T) {
	t.Run("is deterministic", func(t *testing.T) {
		first, err := Path("yt__abc123")
		require.NoError(t, err)
		for i := 0; i < 5; i++ {
			again, err := Path("yt__abc123")
			require.NoError(t, err)
			assert.Equal(t, first, again)
		}
	})

	t.Run("has two uppercase directories and the full digest stem", func(t *testing.T) {
		p, err := Path("yt__abc123")
		require.NoError(t, err)

		sum := blake3.Sum256([]byte("yt__abc123"))
		digest := fmt.Sprintf("%x", sum[:])
		want := strings.ToUpper(digest[0:2]) + "/" + strings.ToUpper(digest[2:4]) + "/" + digest
		assert.Equal(t, want, p)

		parts := strings.Split(p, "/")
		require.Len(t, parts, 3)
		assert.Len(t, parts[0], 2)
		assert.Len(t, parts[1], 2)
		assert.True(t, IsDigest(parts[2]))
	})

	t.Run("distinct ids yield distinct paths", func(t *testing.T) {
		seen := make(map[string]string, 20000)
		for i := 0; i < 20000; i++ {
			var id string
			switch i % 3 {
			case 0:
				id = fmt.Sprintf("yt__%011d", i)
			case 1:
				id = fmt.Sprintf("vimeo__%d", i)
			default:
				id = fmt.Sprintf("file__%040x", i)
			}
			p, err := Path(id)
			require.NoError(t, err)
			if other, ok := seen[p]; ok {
				t.Fatalf("collision between %q and %q at %s", id, other, p)
			}
			seen[p] = id
		}
	})

	t.Run("rejects invalid ids", func(t *testing.T) {
		for _, id := range []string{"", "line\nbreak", "nul\x00", string([]byte{0xc3, 0x28})} {
			_, err := Path(id)
			assert.ErrorIs(t, err, util.ErrInvalidIdentifier, "id %q", id)
		}
	})
}

func TestArtifactName(t *testing.T) {
	p, err := Path("yt__abc123")
	require.NoError(t, err)

	name, err := ArtifactName("yt__abc123", ".meta.json")
	require.NoError(t, err)
	assert.Equal(t, p+".meta.json", name)
}

func TestIsDigest(t *testing.T) {
	d, err := Digest("anything")
	require.NoError(t, err)
	assert.True(t, IsDigest(d))
	assert.False(t, IsDigest(strings.ToUpper(d)))
	assert.False(t, IsDigest(d[:10]))
}
