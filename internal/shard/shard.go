// Package shard maps media ids to deterministic two-level directory paths.
//
// The digest is BLAKE3-256 of the id bytes. The first two hex byte pairs,
// uppercased, name the directories; the full lowercase digest is the stem:
//
//	yt__abc123 -> 3F/A0/3fa0...e9
package shard

import (
	"encoding/hex"
	"fmt"
	"path"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/franz/mediabin/internal/util"
)

// DigestLen is the length of a hex digest stem
const DigestLen = 64

// Validate checks that id can be used as a media id
func Validate(id string) error {
	if id == "" {
		return fmt.Errorf("empty id: %w", util.ErrInvalidIdentifier)
	}
	if !util.IsTextSafe(id) {
		return fmt.Errorf("id %q is not text-safe: %w", id, util.ErrInvalidIdentifier)
	}
	return nil
}

// Digest returns the lowercase hex BLAKE3-256 digest of id
func Digest(id string) (string, error) {
	if err := Validate(id); err != nil {
		return "", err
	}
	sum := blake3.Sum256([]byte(id))
	return hex.EncodeToString(sum[:]), nil
}

// Path returns the shard-relative path "{dir1}/{dir2}/{stem}" for id.
// The separator is always '/', regardless of platform.
func Path(id string) (string, error) {
	digest, err := Digest(id)
	if err != nil {
		return "", err
	}
	return path.Join(Dir(digest), digest), nil
}

// Dir returns the two-level directory "{dir1}/{dir2}" for a digest
func Dir(digest string) string {
	return strings.ToUpper(digest[0:2]) + "/" + strings.ToUpper(digest[2:4])
}

// ArtifactName returns the shard-relative file name for id with the given
// extension appended to the stem (ext includes the leading dot).
func ArtifactName(id, ext string) (string, error) {
	p, err := Path(id)
	if err != nil {
		return "", err
	}
	return p + ext, nil
}

// IsDigest reports whether s looks like a stem produced by Digest
func IsDigest(s string) bool {
	if len(s) != DigestLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
