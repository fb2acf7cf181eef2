package store

import (
	"context"
	"fmt"
)

// embeddedSchema is compiled into the binary so schema bootstrap works on
// deployed nodes that don't ship the source tree (same rationale as the
// teacher's cmd/omnicloud/migrations.go). Every statement is safe to
// re-execute: the schema is idempotent at boot (spec §6). Per (I3) target
// and source hashes live on the same row as non-null text columns that are
// blank until filled; per (I1) picked_node is blank rather than null so equality
// comparisons in admission/reconcile queries don't need NULL-handling.
var embeddedSchema = []string{
	`CREATE TABLE IF NOT EXISTS rss (
		id BIGSERIAL PRIMARY KEY,
		url TEXT NOT NULL UNIQUE,
		exclude_url TEXT NOT NULL DEFAULT '',
		website TEXT NOT NULL,
		includes JSONB NOT NULL DEFAULT '[]',
		excludes JSONB NOT NULL DEFAULT '[]',
		interval_seconds INTEGER NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_rss_website ON rss(website)`,

	`CREATE TABLE IF NOT EXISTS rss_run (
		id BIGSERIAL PRIMARY KEY,
		feed_id BIGINT NOT NULL REFERENCES rss(id) ON DELETE CASCADE,
		node_id TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		status TEXT NOT NULL,
		failure_reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_rss_run_feed_created ON rss_run(feed_id, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS rss_item (
		id BIGSERIAL PRIMARY KEY,
		guid TEXT NOT NULL,
		website TEXT NOT NULL,
		title TEXT NOT NULL,
		link TEXT NOT NULL,
		released_at TIMESTAMPTZ NOT NULL,
		size_bytes BIGINT NOT NULL DEFAULT 0,
		imdb_id TEXT NOT NULL DEFAULT '',
		douban_id TEXT NOT NULL DEFAULT '',
		source_info_hash TEXT NOT NULL DEFAULT '',
		target_info_hash TEXT NOT NULL DEFAULT '',
		picked_node TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		progress DOUBLE PRECISION NOT NULL DEFAULT 0,
		failure_reason TEXT NOT NULL DEFAULT '',
		meta_info JSONB NOT NULL DEFAULT '{}',
		hardcode_subtitle BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (guid, website)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_rss_item_status ON rss_item(status)`,
	`CREATE INDEX IF NOT EXISTS idx_rss_item_picked_node_status ON rss_item(picked_node, status)`,
	`CREATE INDEX IF NOT EXISTS idx_rss_item_released_at ON rss_item(released_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_rss_item_updated_at ON rss_item(updated_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_rss_item_source_hash ON rss_item(source_info_hash)`,
	`CREATE INDEX IF NOT EXISTS idx_rss_item_target_hash ON rss_item(target_info_hash)`,

	`CREATE TABLE IF NOT EXISTS node (
		id TEXT PRIMARY KEY,
		last_seen TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS mediainfo (
		source_info_hash TEXT PRIMARY KEY,
		mediainfo_text TEXT NOT NULL,
		mediainfo_json JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS image (
		id BIGSERIAL PRIMARY KEY,
		source_info_hash TEXT NOT NULL,
		url TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_image_source_hash ON image(source_info_hash)`,

	`CREATE TABLE IF NOT EXISTS imdb (
		imdb_id TEXT PRIMARY KEY,
		douban_id TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// Migrate re-executes every CREATE statement. Re-running it produces no
// observable change (spec §8 P8). Neither Migrate nor the boot path writes
// rss rows; the feed poller upserts a feed's rss row each time it polls
// that feed.
func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range embeddedSchema {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	return nil
}
