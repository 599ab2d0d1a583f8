package store

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/franz/mediabin/internal/shard"
	"github.com/franz/mediabin/internal/util"
)

// Status is the ingest state of a media record. A removed item has no
// record at all.
type Status string

const (
	StatusPending     Status = "pending"
	StatusDownloading Status = "downloading"
	StatusStored      Status = "stored"
	StatusFailed      Status = "failed"
)

// Statuses lists every persisted status
var Statuses = []Status{StatusPending, StatusDownloading, StatusStored, StatusFailed}

// Valid reports whether s is a persisted status
func (s Status) Valid() bool {
	return slices.Contains(Statuses, s)
}

// Active reports whether an ingest for the record is in flight or done.
// Only failed records may be admitted again.
func (s Status) Active() bool {
	return s != StatusFailed
}

// ParseStatus converts a name to a Status
func ParseStatus(name string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(name)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown status %q: %w", name, util.ErrInvalidConfig)
	}
	return s, nil
}

// Media represents one media item
type Media struct {
	ID            string
	Title         string
	Description   string
	OriginURL     string
	VideoURL      string
	ThumbnailURL  string
	CreatedAt     *time.Time // publication time, often unknown
	InstalledAt   time.Time
	UpdatedAt     time.Time
	Status        Status
	ObjectPath    string // always shard.Path(ID); filled in on insert
	FailureReason string
}

// MediaPatch holds the mutable fields of a record. Nil fields are left
// unchanged; an empty string clears an optional field. The id, object
// path and installation time are not part of the patch and cannot change.
type MediaPatch struct {
	Title         *string
	Description   *string
	OriginURL     *string
	VideoURL      *string
	ThumbnailURL  *string
	CreatedAt     *time.Time
	Status        *Status
	FailureReason *string
}

// Empty reports whether the patch changes nothing
func (p *MediaPatch) Empty() bool {
	return p == nil || (p.Title == nil && p.Description == nil && p.OriginURL == nil &&
		p.VideoURL == nil && p.ThumbnailURL == nil && p.CreatedAt == nil &&
		p.Status == nil && p.FailureReason == nil)
}

// assignments renders the patch as SET clauses with their arguments
func (p *MediaPatch) assignments() ([]string, []any, error) {
	var sets []string
	var args []any
	if p == nil {
		return sets, args, nil
	}

	if p.Title != nil {
		if strings.TrimSpace(*p.Title) == "" {
			return nil, nil, fmt.Errorf("title must not be empty: %w", util.ErrInvalidConfig)
		}
		sets = append(sets, "title = ?")
		args = append(args, *p.Title)
	}
	optional := []struct {
		column string
		value  *string
	}{
		{"description", p.Description},
		{"origin_url", p.OriginURL},
		{"video_url", p.VideoURL},
		{"thumbnail_url", p.ThumbnailURL},
		{"failure_reason", p.FailureReason},
	}
	for _, o := range optional {
		if o.value != nil {
			sets = append(sets, o.column+" = ?")
			args = append(args, nullString(*o.value))
		}
	}
	if p.CreatedAt != nil {
		sets = append(sets, "timestamp_created = ?")
		args = append(args, nullTime(p.CreatedAt))
	}
	if p.Status != nil {
		if !p.Status.Valid() {
			return nil, nil, fmt.Errorf("unknown status %q: %w", *p.Status, util.ErrInvalidTransition)
		}
		sets = append(sets, "status = ?")
		args = append(args, string(*p.Status))
	}
	return sets, args, nil
}

const mediaColumns = `id, title, description, origin_url, video_url, thumbnail_url,
	timestamp_created, timestamp_installed, timestamp_updated,
	status, object_path, failure_reason`

func scanMedia(row scanner) (*Media, error) {
	m := &Media{}
	var description, originURL, videoURL, thumbnailURL sql.NullString
	var created, objectPath, failure sql.NullString
	var installed, updated, status string

	err := row.Scan(&m.ID, &m.Title, &description, &originURL, &videoURL, &thumbnailURL,
		&created, &installed, &updated, &status, &objectPath, &failure)
	if err != nil {
		return nil, err
	}

	m.Description = description.String
	m.OriginURL = originURL.String
	m.VideoURL = videoURL.String
	m.ThumbnailURL = thumbnailURL.String
	m.Status = Status(status)
	m.ObjectPath = objectPath.String
	m.FailureReason = failure.String

	if m.InstalledAt, err = parseTime(installed); err != nil {
		return nil, fmt.Errorf("bad timestamp_installed for %s: %w", m.ID, err)
	}
	if m.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, fmt.Errorf("bad timestamp_updated for %s: %w", m.ID, err)
	}
	if created.Valid {
		t, err := parseTime(created.String)
		if err != nil {
			return nil, fmt.Errorf("bad timestamp_created for %s: %w", m.ID, err)
		}
		m.CreatedAt = &t
	}
	return m, nil
}

// validateNew checks m before insertion and derives its object path from
// the id. A caller-supplied path must match.
func validateNew(m *Media) error {
	objectPath, err := shard.Path(m.ID)
	if err != nil {
		return err
	}
	if m.ObjectPath == "" {
		m.ObjectPath = objectPath
	} else if m.ObjectPath != objectPath {
		return fmt.Errorf("media %s: object path %q is not %q: %w",
			m.ID, m.ObjectPath, objectPath, util.ErrInvalidIdentifier)
	}
	if strings.TrimSpace(m.Title) == "" {
		return fmt.Errorf("media %s: title must not be empty: %w", m.ID, util.ErrInvalidConfig)
	}
	if m.Status == "" {
		m.Status = StatusPending
	}
	if !m.Status.Valid() {
		return fmt.Errorf("media %s: unknown status %q: %w", m.ID, m.Status, util.ErrInvalidTransition)
	}
	return nil
}

// InsertMedia inserts a new record. Installed and updated times default to
// now. Returns ErrDuplicateID when the id exists.
func (s *Store) InsertMedia(ctx context.Context, m *Media) error {
	if err := validateNew(m); err != nil {
		return err
	}
	return s.Transaction(ctx, func(tx *sql.Tx) error {
		return s.insertMediaTx(ctx, tx, m)
	})
}

func (s *Store) insertMediaTx(ctx context.Context, tx *sql.Tx, m *Media) error {
	now := s.timestamp()
	if m.InstalledAt.IsZero() {
		m.InstalledAt = now
	}
	if m.UpdatedAt.IsZero() || m.UpdatedAt.Before(m.InstalledAt) {
		m.UpdatedAt = m.InstalledAt
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO media (`+mediaColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.Title, nullString(m.Description), nullString(m.OriginURL),
		nullString(m.VideoURL), nullString(m.ThumbnailURL), nullTime(m.CreatedAt),
		formatTime(m.InstalledAt), formatTime(m.UpdatedAt), string(m.Status),
		m.ObjectPath, nullString(m.FailureReason))

	if isUniqueViolation(err) && strings.Contains(err.Error(), "media.object_path") {
		return fmt.Errorf("media %s shares shard %s with another record: %w", m.ID, m.ObjectPath, util.ErrIDCollision)
	}
	if isUniqueViolation(err) {
		return fmt.Errorf("media %s: %w", m.ID, util.ErrDuplicateID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert media: %w", err)
	}
	return nil
}

// GetMedia retrieves a record by id
func (s *Store) GetMedia(ctx context.Context, id string) (*Media, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+mediaColumns+" FROM media WHERE id = ?", id)
	m, err := scanMedia(row)
	if isNoRows(err) {
		return nil, fmt.Errorf("media %s: %w", id, util.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get media: %w", err)
	}
	return m, nil
}

func getMediaTx(ctx context.Context, tx *sql.Tx, id string) (*Media, error) {
	row := tx.QueryRowContext(ctx, "SELECT "+mediaColumns+" FROM media WHERE id = ?", id)
	m, err := scanMedia(row)
	if isNoRows(err) {
		return nil, fmt.Errorf("media %s: %w", id, util.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get media: %w", err)
	}
	return m, nil
}

// UpdateMedia applies patch to the record and refreshes its updated time.
// Returns ErrNotFound when the record does not exist.
func (s *Store) UpdateMedia(ctx context.Context, id string, patch *MediaPatch) error {
	return s.Transaction(ctx, func(tx *sql.Tx) error {
		return s.updateMediaTx(ctx, tx, id, patch)
	})
}

func (s *Store) updateMediaTx(ctx context.Context, tx *sql.Tx, id string, patch *MediaPatch) error {
	sets, args, err := patch.assignments()
	if err != nil {
		return err
	}
	sets = append(sets, "timestamp_updated = ?")
	args = append(args, formatTime(s.timestamp()), id)

	result, err := tx.ExecContext(ctx,
		"UPDATE media SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("failed to update media: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update media: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("media %s: %w", id, util.ErrNotFound)
	}
	return nil
}

// DeleteMedia removes the record together with its tags
func (s *Store) DeleteMedia(ctx context.Context, id string) error {
	return s.Transaction(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, "DELETE FROM media WHERE id = ?", id)
		if err != nil {
			return fmt.Errorf("failed to delete media: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to delete media: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("media %s: %w", id, util.ErrNotFound)
		}
		return nil
	})
}

// AdmitMedia claims m.ID for a new ingest and attaches tags in the same
// transaction. A missing id is inserted; a failed record is reset to
// pending with m's fields while keeping its installation time and
// earlier tags. Any other existing record yields ErrDuplicateID.
// On return m reflects the stored row.
func (s *Store) AdmitMedia(ctx context.Context, m *Media, tags ...string) (readmitted bool, err error) {
	m.Status = StatusPending
	if err := validateNew(m); err != nil {
		return false, err
	}
	tags = normalizeTags(tags)
	resource := MediaResource(m.ID)
	for _, tag := range tags {
		if err := validTag(resource, tag); err != nil {
			return false, err
		}
	}

	addTags := func(tx *sql.Tx) error {
		for _, tag := range tags {
			if err := s.addTagTx(ctx, tx, resource, tag); err != nil {
				return err
			}
		}
		return nil
	}

	err = s.Transaction(ctx, func(tx *sql.Tx) error {
		existing, err := getMediaTx(ctx, tx, m.ID)
		if err != nil {
			if isNotFound(err) {
				if err := s.insertMediaTx(ctx, tx, m); err != nil {
					return err
				}
				return addTags(tx)
			}
			return err
		}
		if existing.Status.Active() {
			return fmt.Errorf("media %s is %s: %w", m.ID, existing.Status, util.ErrDuplicateID)
		}

		status := StatusPending
		empty := ""
		patch := &MediaPatch{
			Title:         &m.Title,
			Description:   &m.Description,
			OriginURL:     &m.OriginURL,
			VideoURL:      &m.VideoURL,
			ThumbnailURL:  &m.ThumbnailURL,
			CreatedAt:     m.CreatedAt,
			Status:        &status,
			FailureReason: &empty,
		}
		if err := s.updateMediaTx(ctx, tx, m.ID, patch); err != nil {
			return err
		}
		if err := addTags(tx); err != nil {
			return err
		}
		stored, err := getMediaTx(ctx, tx, m.ID)
		if err != nil {
			return err
		}
		*m = *stored
		readmitted = true
		return nil
	})
	return readmitted, err
}

// TransitionMedia moves a record to status `to` if its current status is
// one of `from`, applying patch in the same transaction. Returns
// ErrNotFound or ErrInvalidTransition otherwise.
func (s *Store) TransitionMedia(ctx context.Context, id string, from []Status, to Status, patch *MediaPatch) error {
	if !to.Valid() {
		return fmt.Errorf("unknown status %q: %w", to, util.ErrInvalidTransition)
	}
	return s.Transaction(ctx, func(tx *sql.Tx) error {
		var current string
		err := tx.QueryRowContext(ctx, "SELECT status FROM media WHERE id = ?", id).Scan(&current)
		if isNoRows(err) {
			return fmt.Errorf("media %s: %w", id, util.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to read status: %w", err)
		}
		if !slices.Contains(from, Status(current)) {
			return fmt.Errorf("media %s: %s -> %s: %w", id, current, to, util.ErrInvalidTransition)
		}

		p := MediaPatch{}
		if patch != nil {
			p = *patch
		}
		p.Status = &to
		return s.updateMediaTx(ctx, tx, id, &p)
	})
}

// MediaFilter selects records for ListMedia. Zero values match everything.
type MediaFilter struct {
	Status Status
	Tags   []string // all must be present
	Query  string   // words matched in order against the title, case-insensitive
	Limit  int
}

// ListMedia returns records matching filter, newest first
func (s *Store) ListMedia(ctx context.Context, filter MediaFilter) ([]*Media, error) {
	var where []string
	var args []any

	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	if q := titlePattern(filter.Query); q != "" {
		where = append(where, `title LIKE ? ESCAPE '\'`)
		args = append(args, q)
	}

	tags := normalizeTags(filter.Tags)
	if len(tags) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(tags)), ", ")
		where = append(where, `('media:' || id) IN (
			SELECT resource_id FROM tags
			WHERE tag IN (`+placeholders+`)
			GROUP BY resource_id
			HAVING COUNT(DISTINCT tag) = ?)`)
		for _, t := range tags {
			args = append(args, t)
		}
		args = append(args, len(tags))
	}

	query := "SELECT " + mediaColumns + " FROM media"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp_installed DESC, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	return s.queryMedia(ctx, query, args...)
}

// ListStale returns records in one of statuses whose last update is
// before the cutoff, oldest first
func (s *Store) ListStale(ctx context.Context, statuses []Status, before time.Time) ([]*Media, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ")
	args := make([]any, 0, len(statuses)+1)
	for _, st := range statuses {
		args = append(args, string(st))
	}
	args = append(args, formatTime(before))

	return s.queryMedia(ctx, `
		SELECT `+mediaColumns+` FROM media
		WHERE status IN (`+placeholders+`) AND timestamp_updated < ?
		ORDER BY timestamp_updated, id
	`, args...)
}

// CountByStatus returns the number of records per status
func (s *Store) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM media GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to count media: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int, len(Statuses))
	for _, st := range Statuses {
		counts[st] = 0
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[Status(status)] = n
	}
	return counts, rows.Err()
}

// GetMediaByObjectPath retrieves the record whose shard path is objectPath
func (s *Store) GetMediaByObjectPath(ctx context.Context, objectPath string) (*Media, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+mediaColumns+" FROM media WHERE object_path = ?", objectPath)
	m, err := scanMedia(row)
	if isNoRows(err) {
		return nil, fmt.Errorf("object path %s: %w", objectPath, util.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get media: %w", err)
	}
	return m, nil
}

// ListMediaIDs returns every record id, used for reconciliation
func (s *Store) ListMediaIDs(ctx context.Context) (map[string]Status, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, status FROM media")
	if err != nil {
		return nil, fmt.Errorf("failed to query media ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]Status)
	for rows.Next() {
		var id, status string
		if err := rows.Scan(&id, &status); err != nil {
			return nil, fmt.Errorf("failed to scan media id: %w", err)
		}
		ids[id] = Status(status)
	}
	return ids, rows.Err()
}

func (s *Store) queryMedia(ctx context.Context, query string, args ...any) ([]*Media, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query media: %w", err)
	}
	defer rows.Close()

	var out []*Media
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan media: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// titlePattern turns "big buck" into "%big%buck%" with LIKE wildcards in
// the words escaped
func titlePattern(query string) string {
	words := strings.Fields(util.NormalizeTitle(query))
	if len(words) == 0 {
		return ""
	}
	escaper := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	for i, w := range words {
		words[i] = escaper.Replace(w)
	}
	return "%" + strings.Join(words, "%") + "%"
}
