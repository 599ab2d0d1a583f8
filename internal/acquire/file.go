package acquire

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dhowden/tag"
	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	"github.com/zeebo/blake3"

	"github.com/franz/mediabin/internal/content"
	"github.com/franz/mediabin/internal/ingest"
	"github.com/franz/mediabin/internal/store"
	"github.com/franz/mediabin/internal/util"
)

// IDPrefix marks ids derived from local files
const IDPrefix = "file__"

// siblingImageExts are checked, in order, next to the media file
var siblingImageExts = []string{".jpg", ".jpeg", ".png", ".webp"}

// Info is what Inspect learns about a local media file
type Info struct {
	Path        string
	Size        int64
	ModTime     time.Time
	MIME        string
	FileKey     string
	Title       string
	Description string
	Year        int
	Artwork     *tag.Picture
	Hints       *NameHints
}

// Options controls a FileSource
type Options struct {
	Probe bool // run ffprobe and record stream info in the sidecar
}

// FileSource imports one local audio or video file
type FileSource struct {
	info  *Info
	probe bool
	now   func() time.Time
	log   zerolog.Logger
}

// Sidecar is the JSON document stored as the meta artifact
type Sidecar struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Source     SourceFile `json:"source"`
	Blake3     string     `json:"blake3"`
	ImportedAt time.Time  `json:"imported_at"`
	Tags       []string   `json:"tags,omitempty"`
	Artwork    string     `json:"artwork,omitempty"`
	Probe      *ProbeInfo `json:"probe,omitempty"`
}

// SourceFile describes the imported file
type SourceFile struct {
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mtime"`
	MIME    string    `json:"mime"`
	FileKey string    `json:"file_key"`
}

// IsMediaMIME reports whether a detected type is audio or video
func IsMediaMIME(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		s := m.String()
		if strings.HasPrefix(s, "video/") || strings.HasPrefix(s, "audio/") {
			return true
		}
	}
	return false
}

// Inspect sniffs the file type and reads embedded tags.
// Files that are neither audio nor video are rejected with ErrUnsupported.
func Inspect(path string) (*Info, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	st, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if st.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", util.ErrUnsupported, abs)
	}

	mt, err := mimetype.DetectFile(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to detect type: %w", err)
	}
	if !IsMediaMIME(mt) {
		return nil, fmt.Errorf("%w: %s is %s", util.ErrUnsupported, filepath.Base(abs), mt.String())
	}

	key, err := util.GenerateFileKey(abs)
	if err != nil {
		return nil, err
	}

	info := &Info{
		Path:    abs,
		Size:    st.Size(),
		ModTime: st.ModTime().UTC(),
		MIME:    mt.String(),
		FileKey: key,
		Hints:   ParseFilename(abs),
	}

	if err := info.readTags(); err != nil {
		util.DebugLog("No tags in %s: %v", abs, err)
	}
	if info.Title == "" {
		info.Title = info.Hints.Title
	}
	if info.Year == 0 {
		info.Year = info.Hints.Year
	}
	return info, nil
}

func (i *Info) readTags() error {
	f, err := os.Open(i.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return err
	}

	if title := util.NormalizeTitle(m.Title()); title != "" && util.IsTextSafe(title) {
		i.Title = title
	}
	if comment := strings.TrimSpace(m.Comment()); comment != "" && util.IsTextSafe(comment) {
		i.Description = comment
	}
	i.Year = m.Year()
	if pic := m.Picture(); pic != nil && len(pic.Data) > 0 {
		i.Artwork = pic
	}
	return nil
}

// DefaultID derives a stable identifier from the file's identity
func (i *Info) DefaultID() string {
	return IDPrefix + i.FileKey
}

// URL is the file:// location of the source
func (i *Info) URL() string {
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(i.Path)}).String()
}

// NewFileSource inspects path and prepares it for import
func NewFileSource(path string, opts Options) (*FileSource, error) {
	info, err := Inspect(path)
	if err != nil {
		return nil, err
	}
	return &FileSource{
		info:  info,
		probe: opts.Probe,
		now:   time.Now,
		log:   util.Logger().With().Str("component", "acquire").Logger(),
	}, nil
}

// Info returns the inspection result
func (s *FileSource) Info() *Info {
	return s.info
}

// Meta is the admission metadata for this file
func (s *FileSource) Meta(tags []string) ingest.Meta {
	meta := ingest.Meta{
		Title:       s.info.Title,
		Description: s.info.Description,
		OriginURL:   s.info.URL(),
		VideoURL:    s.info.URL(),
		Tags:        tags,
	}
	if created := s.createdAt(); created != nil {
		meta.CreatedAt = created
	}
	return meta
}

// Job bundles the source into an ingest job. An empty id selects DefaultID.
func (s *FileSource) Job(id string, tags []string) ingest.Job {
	if id == "" {
		id = s.info.DefaultID()
	}
	return ingest.Job{ID: id, Meta: s.Meta(tags), Source: s}
}

func (s *FileSource) createdAt() *time.Time {
	if s.info.Year <= 0 {
		return nil
	}
	t := time.Date(s.info.Year, time.January, 1, 0, 0, 0, 0, time.UTC)
	return &t
}

// Fetch writes the video, thumbnail and meta artifacts
func (s *FileSource) Fetch(ctx context.Context, id string, put ingest.PutFunc) (*store.MediaPatch, error) {
	f, err := os.Open(s.info.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open source: %w", err)
	}
	defer f.Close()

	hasher := blake3.New()
	n, err := put(ctx, content.KindVideo, io.TeeReader(f, hasher), s.info.Size)
	if err != nil {
		return nil, err
	}
	if n != s.info.Size {
		s.log.Warn().Str("id", id).Int64("expected", s.info.Size).Int64("written", n).Msg("source size changed during import")
	}

	artwork, err := s.putThumbnail(ctx, put)
	if err != nil {
		return nil, err
	}

	sidecar := Sidecar{
		ID:    id,
		Title: s.info.Title,
		Source: SourceFile{
			Path:    s.info.Path,
			Size:    n,
			ModTime: s.info.ModTime,
			MIME:    s.info.MIME,
			FileKey: s.info.FileKey,
		},
		Blake3:     hex.EncodeToString(hasher.Sum(nil)),
		ImportedAt: s.now().UTC(),
		Artwork:    artwork,
	}

	if s.probe {
		out, err := RunProbe(ctx, s.info.Path)
		switch {
		case err == nil:
			sidecar.Probe = out.Summarize()
		case errors.Is(err, util.ErrNotFound):
			s.log.Debug().Msg("ffprobe not installed, skipping probe")
		default:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.log.Warn().Err(err).Str("id", id).Msg("probe failed")
		}
	}

	data, err := json.MarshalIndent(sidecar, "", "  ")
	if err != nil {
		return nil, err
	}
	if _, err := put(ctx, content.KindMeta, bytes.NewReader(data), int64(len(data))); err != nil {
		return nil, err
	}

	patch := &store.MediaPatch{
		Title: &s.info.Title,
	}
	if s.info.Description != "" {
		patch.Description = &s.info.Description
	}
	if created := s.createdAt(); created != nil {
		patch.CreatedAt = created
	}
	return patch, nil
}

// putThumbnail stores embedded artwork, or an image next to the file.
// Returns a description of where the thumbnail came from, or "" if none.
func (s *FileSource) putThumbnail(ctx context.Context, put ingest.PutFunc) (string, error) {
	if pic := s.info.Artwork; pic != nil {
		if _, err := put(ctx, content.KindThumbnail, bytes.NewReader(pic.Data), int64(len(pic.Data))); err != nil {
			return "", err
		}
		return "embedded", nil
	}

	path := FindSiblingImage(s.info.Path)
	if path == "" {
		return "", nil
	}
	f, err := os.Open(path)
	if err != nil {
		s.log.Warn().Err(err).Str("path", path).Msg("cannot open thumbnail")
		return "", nil
	}
	defer f.Close()

	size := int64(-1)
	if st, err := f.Stat(); err == nil {
		size = st.Size()
	}
	if _, err := put(ctx, content.KindThumbnail, f, size); err != nil {
		return "", err
	}
	return filepath.Base(path), nil
}

// FindSiblingImage returns an image sharing the media file's stem, or ""
func FindSiblingImage(mediaPath string) string {
	stem := strings.TrimSuffix(mediaPath, filepath.Ext(mediaPath))
	for _, ext := range siblingImageExts {
		for _, candidate := range []string{stem + ext, stem + strings.ToUpper(ext)} {
			mt, err := mimetype.DetectFile(candidate)
			if err != nil {
				continue
			}
			if strings.HasPrefix(mt.String(), "image/") {
				return candidate
			}
		}
	}
	return ""
}
