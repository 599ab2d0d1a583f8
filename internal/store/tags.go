package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/franz/mediabin/internal/util"
)

const mediaResourcePrefix = "media:"

// MediaResource returns the tag resource id for a media record
func MediaResource(id string) string {
	return mediaResourcePrefix + id
}

// TagCount is a tag with the number of resources carrying it
type TagCount struct {
	Tag   string
	Count int
}

func normalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = util.NormalizeTag(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func validTag(resourceID, tag string) error {
	if resourceID == "" || !strings.Contains(resourceID, ":") {
		return fmt.Errorf("resource id %q must be table:id: %w", resourceID, util.ErrInvalidIdentifier)
	}
	if tag == "" || !util.IsTextSafe(tag) {
		return fmt.Errorf("tag %q: %w", tag, util.ErrInvalidIdentifier)
	}
	return nil
}

// AddTag attaches tag to resourceID. Adding an existing tag is a no-op.
// Media resources must refer to an existing record.
func (s *Store) AddTag(ctx context.Context, resourceID, tag string) error {
	tag = util.NormalizeTag(tag)
	if err := validTag(resourceID, tag); err != nil {
		return err
	}

	return s.Transaction(ctx, func(tx *sql.Tx) error {
		if id, ok := strings.CutPrefix(resourceID, mediaResourcePrefix); ok {
			var exists int
			err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM media WHERE id = ?", id).Scan(&exists)
			if err != nil {
				return fmt.Errorf("failed to check media: %w", err)
			}
			if exists == 0 {
				return fmt.Errorf("media %s: %w", id, util.ErrNotFound)
			}
		}
		return s.addTagTx(ctx, tx, resourceID, tag)
	})
}

func (s *Store) addTagTx(ctx context.Context, tx *sql.Tx, resourceID, tag string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO tags (resource_id, tag, created_at) VALUES (?, ?, ?)
		ON CONFLICT(resource_id, tag) DO NOTHING
	`, resourceID, tag, formatTime(s.timestamp()))
	if err != nil {
		return fmt.Errorf("failed to add tag: %w", err)
	}
	return nil
}

// RemoveTag detaches tag from resourceID. Removing an absent tag is a no-op.
func (s *Store) RemoveTag(ctx context.Context, resourceID, tag string) error {
	tag = util.NormalizeTag(tag)
	return s.Transaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "DELETE FROM tags WHERE resource_id = ? AND tag = ?", resourceID, tag)
		if err != nil {
			return fmt.Errorf("failed to remove tag: %w", err)
		}
		return nil
	})
}

// TagsFor returns the sorted tags of a resource
func (s *Store) TagsFor(ctx context.Context, resourceID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT tag FROM tags WHERE resource_id = ?", resourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tags: %w", err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		tags = append(tags, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Strings(tags)
	return tags, nil
}

// ListTags returns distinct tags with usage counts, optionally limited to
// one domain ("actor" matches "actor:*")
func (s *Store) ListTags(ctx context.Context, domain string) ([]TagCount, error) {
	query := "SELECT tag, COUNT(*) FROM tags"
	var args []any
	if domain = strings.ToLower(strings.TrimSpace(domain)); domain != "" {
		query += " WHERE substr(tag, 1, ?) = ?"
		args = append(args, len(domain)+1, domain+":")
	}
	query += " GROUP BY tag ORDER BY tag"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	defer rows.Close()

	var out []TagCount
	for rows.Next() {
		var tc TagCount
		if err := rows.Scan(&tc.Tag, &tc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}
