// Package content stores media artifacts in the sharded directory tree
// under the library's datadir.
package content

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/franz/mediabin/internal/shard"
	"github.com/franz/mediabin/internal/util"
)

const defaultBufferSize = 128 * 1024

// Store reads and writes artifacts rooted at a datadir
type Store struct {
	fs          afero.Fs
	root        string
	bufferSize  int
	retryConfig *util.RetryConfig
	log         zerolog.Logger
}

// Config holds configuration for the content store
type Config struct {
	Root        string            // datadir_location
	Fs          afero.Fs          // Filesystem (nil = OS filesystem rooted at Root)
	BufferSize  int               // Copy buffer size in bytes (0 = 128KB)
	RetryConfig *util.RetryConfig // Retry configuration (nil = use default)
}

// New creates a content store. With no Fs the OS filesystem is used,
// confined to Root, and Root is created if missing.
func New(cfg Config) (*Store, error) {
	fs := cfg.Fs
	if fs == nil {
		if cfg.Root == "" {
			return nil, fmt.Errorf("content root is empty: %w", util.ErrInvalidConfig)
		}
		if err := os.MkdirAll(cfg.Root, 0755); err != nil {
			return nil, fmt.Errorf("failed to create datadir %s: %w: %w", cfg.Root, util.ErrStorageIO, err)
		}
		fs = afero.NewBasePathFs(afero.NewOsFs(), cfg.Root)
	}

	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.RetryConfig == nil {
		cfg.RetryConfig = util.DefaultRetryConfig()
	}

	return &Store{
		fs:          fs,
		root:        cfg.Root,
		bufferSize:  cfg.BufferSize,
		retryConfig: cfg.RetryConfig,
		log:         util.Logger().With().Str("component", "content").Logger(),
	}, nil
}

// Root returns the datadir this store is rooted at
func (s *Store) Root() string {
	return s.root
}

func ioErr(op, name string, err error) error {
	return fmt.Errorf("%s %s: %w: %w", op, name, util.ErrStorageIO, err)
}

// Reserve creates the shard directory for id and claims it with an owner
// marker. Calling it again for the same id is a no-op. A marker naming a
// different id means two ids share a digest and yields ErrIDCollision.
func (s *Store) Reserve(ctx context.Context, id string) error {
	p, err := shard.Path(id)
	if err != nil {
		return err
	}
	dir := path.Dir(p)

	if err := util.Retry(ctx, s.retryConfig, func() error {
		return s.fs.MkdirAll(dir, 0755)
	}, "mkdir "+dir); err != nil {
		return ioErr("create shard dir", dir, err)
	}

	claimed, err := s.checkOwner(id, p)
	if err != nil || claimed {
		return err
	}

	if _, err := s.writeAtomic(ctx, p, ownerExt, strings.NewReader(id)); err != nil {
		return err
	}
	s.log.Debug().Str("id", id).Str("path", p).Msg("reserved shard")
	return nil
}

// checkOwner reads the owner marker at p. claimed is true when the marker
// exists and names id.
func (s *Store) checkOwner(id, p string) (claimed bool, err error) {
	owner, err := afero.ReadFile(s.fs, p+ownerExt)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, ioErr("read owner marker", p+ownerExt, err)
	}
	if !bytes.Equal(owner, []byte(id)) {
		s.log.Error().Str("id", id).Str("owner", string(owner)).Str("path", p).Msg("shard digest collision")
		return false, fmt.Errorf("%q and %q share shard %s: %w", id, owner, p, util.ErrIDCollision)
	}
	return true, nil
}

// WriteArtifact atomically replaces the artifact of the given kind with the
// content of r. Bytes go to a temp file in the shard directory that is
// synced and renamed into place, so readers see the old or the new version
// and never a partial one. Returns the number of bytes written.
func (s *Store) WriteArtifact(ctx context.Context, id string, kind Kind, r io.Reader) (int64, error) {
	if kind.Ext() == "" {
		return 0, fmt.Errorf("unknown artifact kind %q: %w", kind, util.ErrUnsupported)
	}
	p, err := shard.Path(id)
	if err != nil {
		return 0, err
	}

	if err := util.Retry(ctx, s.retryConfig, func() error {
		return s.fs.MkdirAll(path.Dir(p), 0755)
	}, "mkdir "+path.Dir(p)); err != nil {
		return 0, ioErr("create shard dir", path.Dir(p), err)
	}
	if _, err := s.checkOwner(id, p); err != nil {
		return 0, err
	}

	n, err := s.writeAtomic(ctx, p, kind.Ext(), r)
	if err != nil {
		return n, err
	}
	s.log.Debug().Str("id", id).Str("kind", string(kind)).Str("size", util.FormatBytes(n)).Msg("wrote artifact")
	return n, nil
}

// writeAtomic copies r into p+ext via a ".part" temp file and a rename
func (s *Store) writeAtomic(ctx context.Context, p, ext string, r io.Reader) (int64, error) {
	dir, stem := path.Split(p)
	dest := p + ext

	tmp, err := util.RetryWithBackoff(ctx, s.retryConfig, func() (afero.File, error) {
		return afero.TempFile(s.fs, dir, stem+ext+".*"+partExt)
	}, "create temp file")
	if err != nil {
		return 0, ioErr("create temp file in", dir, err)
	}
	tmpName := path.Join(dir, path.Base(tmp.Name()))

	success := false
	defer func() {
		if !success {
			tmp.Close()
			if err := s.fs.Remove(tmpName); err != nil && !errors.Is(err, os.ErrNotExist) {
				s.log.Warn().Err(err).Str("path", tmpName).Msg("failed to remove temp file")
			}
		}
	}()

	written, err := copyWithContext(ctx, tmp, r, s.bufferSize)
	if err != nil {
		if ctx.Err() != nil || !isWriteErr(err) {
			return written, fmt.Errorf("copy into %s: %w", dest, err)
		}
		return written, ioErr("write", dest, err)
	}
	if err := tmp.Sync(); err != nil {
		return written, ioErr("sync", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return written, ioErr("close", tmpName, err)
	}

	if err := util.Retry(ctx, s.retryConfig, func() error {
		return s.fs.Rename(tmpName, dest)
	}, "rename "+tmpName); err != nil {
		return written, ioErr("rename into", dest, err)
	}
	if err := s.fs.Chmod(dest, 0644); err != nil {
		s.log.Debug().Err(err).Str("path", dest).Msg("chmod failed")
	}

	success = true
	return written, nil
}

// ReadArtifact opens the artifact of the given kind for reading
func (s *Store) ReadArtifact(id string, kind Kind) (io.ReadCloser, error) {
	name, err := shard.ArtifactName(id, kind.Ext())
	if err != nil {
		return nil, err
	}
	f, err := s.fs.Open(name)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s artifact for %q: %w", kind, id, util.ErrArtifactNotFound)
	}
	if err != nil {
		return nil, ioErr("open", name, err)
	}
	return f, nil
}

// Stat returns file info for an artifact
func (s *Store) Stat(id string, kind Kind) (os.FileInfo, error) {
	name, err := shard.ArtifactName(id, kind.Ext())
	if err != nil {
		return nil, err
	}
	info, err := s.fs.Stat(name)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s artifact for %q: %w", kind, id, util.ErrArtifactNotFound)
	}
	if err != nil {
		return nil, ioErr("stat", name, err)
	}
	return info, nil
}

// Exists reports whether the artifact is present
func (s *Store) Exists(id string, kind Kind) bool {
	_, err := s.Stat(id, kind)
	return err == nil
}

// Delete removes every file stored for id, including the owner marker and
// abandoned temp files, then prunes the shard directories if they are
// empty. It keeps going after failures and returns them joined.
func (s *Store) Delete(ctx context.Context, id string) error {
	p, err := shard.Path(id)
	if err != nil {
		return err
	}
	if err := s.deletePath(ctx, p); err != nil {
		return err
	}
	s.log.Debug().Str("id", id).Str("path", p).Msg("deleted artifacts")
	return nil
}

// DeleteEntry removes a stem found by Walk. It works for stems with no
// owner marker, which Delete cannot address.
func (s *Store) DeleteEntry(ctx context.Context, e Entry) error {
	dir, stem := path.Split(e.Path)
	if !isShardDir(path.Base(path.Clean(dir))) || !shard.IsDigest(stem) {
		return fmt.Errorf("not a shard path %q: %w", e.Path, util.ErrInvalidIdentifier)
	}
	return s.deletePath(ctx, e.Path)
}

func (s *Store) deletePath(ctx context.Context, p string) error {
	dir, stem := path.Split(p)
	dir = path.Clean(dir)

	entries, err := afero.ReadDir(s.fs, dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return ioErr("read shard dir", dir, err)
	}

	var errs []error
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), stem) {
			continue
		}
		name := path.Join(dir, e.Name())
		if err := util.Retry(ctx, s.retryConfig, func() error {
			return s.fs.Remove(name)
		}, "remove "+name); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, ioErr("remove", name, err))
		}
	}

	for _, d := range []string{dir, path.Dir(dir)} {
		if err := s.removeIfEmpty(d); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (s *Store) removeIfEmpty(dir string) error {
	empty, err := afero.IsEmpty(s.fs, dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return ioErr("inspect", dir, err)
	}
	if !empty {
		return nil
	}
	if err := s.fs.Remove(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
		return ioErr("remove dir", dir, err)
	}
	return nil
}

// copyWithContext copies data with context cancellation support
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader, bufferSize int) (int64, error) {
	buf := make([]byte, bufferSize)
	var written int64

	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		nr, er := src.Read(buf)
		if nr > 0 {
			nw, ew := dst.Write(buf[:nr])
			written += int64(nw)
			if ew != nil {
				return written, &writeError{ew}
			}
			if nw != nr {
				return written, &writeError{io.ErrShortWrite}
			}
		}
		if er == io.EOF {
			return written, nil
		}
		if er != nil {
			return written, er
		}
	}
}

// writeError marks failures on the destination side of a copy, which are
// storage errors, as opposed to failures of the source reader.
type writeError struct{ err error }

func (e *writeError) Error() string { return e.err.Error() }
func (e *writeError) Unwrap() error { return e.err }

func isWriteErr(err error) bool {
	var we *writeError
	return errors.As(err, &we)
}
