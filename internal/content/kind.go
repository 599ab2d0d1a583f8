package content

import (
	"fmt"
	"strings"

	"github.com/franz/mediabin/internal/util"
)

// Kind identifies one artifact stored for a media id
type Kind string

const (
	KindVideo     Kind = "video"
	KindMeta      Kind = "meta"
	KindPreview   Kind = "preview"
	KindThumbnail Kind = "thumbnail"
)

// Kinds lists every artifact kind in storage order
var Kinds = []Kind{KindVideo, KindMeta, KindPreview, KindThumbnail}

const (
	ownerExt = ".id"
	partExt  = ".part"
)

// Ext returns the file extension for the kind, including the leading dot
func (k Kind) Ext() string {
	switch k {
	case KindVideo:
		return ".video"
	case KindMeta:
		return ".meta.json"
	case KindPreview:
		return ".preview"
	case KindThumbnail:
		return ".thumb"
	}
	return ""
}

// Required reports whether a stored item must have this artifact
func (k Kind) Required() bool {
	return k == KindVideo || k == KindMeta
}

// ParseKind converts a name to a Kind. "thumb" is accepted for thumbnail.
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "video":
		return KindVideo, nil
	case "meta", "metadata":
		return KindMeta, nil
	case "preview":
		return KindPreview, nil
	case "thumbnail", "thumb":
		return KindThumbnail, nil
	}
	return "", fmt.Errorf("unknown artifact kind %q: %w", name, util.ErrUnsupported)
}

// kindFromFile returns the kind for a file name inside a shard directory
// along with its stem. ok is false for markers, temp files and strangers.
func kindFromFile(name string) (stem string, kind Kind, ok bool) {
	for _, k := range Kinds {
		if s, found := strings.CutSuffix(name, k.Ext()); found {
			return s, k, true
		}
	}
	return "", "", false
}
