package store

// Schema v1 - media records, tag associations, library config
const schemaV1 = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
  version INTEGER PRIMARY KEY,
  applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- One row per media item
CREATE TABLE IF NOT EXISTS media (
  id TEXT PRIMARY KEY NOT NULL CHECK (length(id) > 0),
  title TEXT NOT NULL CHECK (length(title) > 0),
  description TEXT,
  origin_url TEXT,
  video_url TEXT,
  thumbnail_url TEXT,
  timestamp_created TEXT,
  timestamp_installed TEXT NOT NULL,
  timestamp_updated TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending'
    CHECK (status IN ('pending', 'downloading', 'stored', 'failed')),
  object_path TEXT NOT NULL CHECK (length(object_path) > 0),
  failure_reason TEXT
);

-- Free-form tags on namespaced resources ("media:<id>")
CREATE TABLE IF NOT EXISTS tags (
  resource_id TEXT NOT NULL,
  tag TEXT NOT NULL CHECK (length(tag) > 0),
  created_at TEXT NOT NULL,
  PRIMARY KEY (resource_id, tag)
);

-- Deleting a media record drops its tags in the same statement
CREATE TRIGGER IF NOT EXISTS trg_media_delete_tags
AFTER DELETE ON media
BEGIN
  DELETE FROM tags WHERE resource_id = 'media:' || OLD.id;
END;

-- Single-row library configuration
CREATE TABLE IF NOT EXISTS config (
  id INTEGER PRIMARY KEY CHECK (id = 1),
  datadir_location TEXT NOT NULL,
  updated_at TEXT NOT NULL
);
`

// Schema v2 - Query indexes
const schemaV2 = `
CREATE INDEX IF NOT EXISTS idx_media_status_updated ON media(status, timestamp_updated);
CREATE INDEX IF NOT EXISTS idx_media_installed ON media(timestamp_installed);
CREATE INDEX IF NOT EXISTS idx_media_title ON media(title COLLATE NOCASE);
CREATE INDEX IF NOT EXISTS idx_tags_tag ON tags(tag, resource_id);
`

// Schema v3 - One record per shard path
const schemaV3 = `
CREATE UNIQUE INDEX IF NOT EXISTS idx_media_object_path ON media(object_path);
`
