package content

import (
	"context"
	"errors"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/franz/mediabin/internal/shard"
)

// Entry describes one shard stem found on disk
type Entry struct {
	Digest  string
	Path    string // shard-relative path without extension
	OwnerID string // content of the owner marker, empty if missing
	Kinds   []Kind // artifacts present
	Partial int    // abandoned temp files
}

// Walk visits every stem in the tree in path order. Directories that do
// not look like shard directories are skipped. Returning an error from fn
// stops the walk.
func (s *Store) Walk(ctx context.Context, fn func(Entry) error) error {
	level1, err := afero.ReadDir(s.fs, ".")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return ioErr("read datadir", s.root, err)
	}

	for _, d1 := range level1 {
		if !d1.IsDir() || !isShardDir(d1.Name()) {
			continue
		}
		level2, err := afero.ReadDir(s.fs, d1.Name())
		if err != nil {
			return ioErr("read shard dir", d1.Name(), err)
		}
		for _, d2 := range level2 {
			if !d2.IsDir() || !isShardDir(d2.Name()) {
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			dir := path.Join(d1.Name(), d2.Name())
			entries, err := s.scanShardDir(dir)
			if err != nil {
				return err
			}
			for _, e := range entries {
				if err := fn(e); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (s *Store) scanShardDir(dir string) ([]Entry, error) {
	files, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		return nil, ioErr("read shard dir", dir, err)
	}

	byStem := make(map[string]*Entry)
	get := func(stem string) *Entry {
		e, ok := byStem[stem]
		if !ok {
			e = &Entry{Digest: stem, Path: path.Join(dir, stem)}
			byStem[stem] = e
		}
		return e
	}

	for _, f := range files {
		name := f.Name()
		if f.IsDir() || len(name) < shard.DigestLen || !shard.IsDigest(name[:shard.DigestLen]) {
			continue
		}
		stem, rest := name[:shard.DigestLen], name[shard.DigestLen:]

		switch {
		case strings.HasSuffix(rest, partExt):
			get(stem).Partial++
		case rest == ownerExt:
			owner, err := afero.ReadFile(s.fs, path.Join(dir, name))
			if err != nil {
				return nil, ioErr("read owner marker", path.Join(dir, name), err)
			}
			get(stem).OwnerID = string(owner)
		default:
			if _, kind, ok := kindFromFile(name); ok {
				e := get(stem)
				e.Kinds = append(e.Kinds, kind)
			}
		}
	}

	out := make([]Entry, 0, len(byStem))
	for _, e := range byStem {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Digest < out[j].Digest })
	return out, nil
}

func isShardDir(name string) bool {
	if len(name) != 2 {
		return false
	}
	for i := 0; i < 2; i++ {
		c := name[i]
		if (c < '0' || c > '9') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}
