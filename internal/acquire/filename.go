package acquire

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/franz/mediabin/internal/util"
)

// NameHints holds what can be read off a media file name
type NameHints struct {
	Title    string
	Uploader string
	Year     int
	SourceID string // bracketed id left by downloaders, e.g. "[dQw4w9WgXcQ]"
}

var (
	sourceIDPattern = regexp.MustCompile(`\s*\[([A-Za-z0-9_-]{6,})\]$`)
	yearPattern     = regexp.MustCompile(`\s*\((\d{4})\)$`)
	datePrefix      = regexp.MustCompile(`^(\d{4})[-_.]?\d{2}[-_.]?\d{2}\s*[-_.]\s*(.+)$`)
	indexPrefix     = regexp.MustCompile(`^\d{1,3}\s*[-_.]\s*(.+)$`)
	uploaderTitle   = regexp.MustCompile(`^(.+?)\s+-\s+(.+)$`)
)

// ParseFilename extracts a title and a few hints from a file name.
// The title is never empty: the bare file stem is the last resort.
func ParseFilename(path string) *NameHints {
	base := filepath.Base(path)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	hints := &NameHints{}

	if m := sourceIDPattern.FindStringSubmatch(name); m != nil {
		hints.SourceID = m[1]
		name = strings.TrimSpace(name[:len(name)-len(m[0])])
	}

	if m := datePrefix.FindStringSubmatch(name); m != nil {
		hints.Year, _ = strconv.Atoi(m[1])
		name = m[2]
	} else if m := indexPrefix.FindStringSubmatch(name); m != nil {
		name = m[1]
	}

	if m := yearPattern.FindStringSubmatch(name); m != nil {
		hints.Year, _ = strconv.Atoi(m[1])
		name = strings.TrimSpace(name[:len(name)-len(m[0])])
	}

	if !strings.Contains(name, " ") {
		name = strings.NewReplacer("_", " ", ".", " ").Replace(name)
	}

	if m := uploaderTitle.FindStringSubmatch(name); m != nil {
		hints.Uploader = strings.TrimSpace(m[1])
	}

	hints.Title = util.NormalizeTitle(name)
	if hints.Title == "" {
		hints.Title = util.NormalizeTitle(strings.TrimSuffix(base, filepath.Ext(base)))
	}
	if hints.Title == "" {
		hints.Title = base
	}
	return hints
}
