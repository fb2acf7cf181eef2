package reconcile

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ptrepost/ptrepost/internal/model"
	"github.com/ptrepost/ptrepost/internal/qbt"
	"github.com/ptrepost/ptrepost/internal/store"
)

// minSeededBytes is the literal byte threshold spec §9 Open Question 2
// names: "completed > 4 ... appears to use completed > 4 as a literal byte
// threshold, not a ratio. We specify it as-is."
const minSeededBytes = 4

// trackerRemovalSubstrings match a tracker reply indicating de-listing, used
// case-insensitively against every tier-≥0 tracker entry (spec §4.7
// "a tracker entry at tier ≥ 0 returns the fixed tracker removal message").
var trackerRemovalSubstrings = []string{
	"unregistered torrent",
	"torrent not registered",
	"torrent has been deleted",
}

// UploadReconciler drives spec §4.7.
type UploadReconciler struct {
	store  *store.Store
	qbt    *qbt.Client
	nodeID string
	log    zerolog.Logger
}

// NewUploadReconciler builds an UploadReconciler for this node.
func NewUploadReconciler(st *store.Store, qbtClient *qbt.Client, nodeID string, log zerolog.Logger) *UploadReconciler {
	return &UploadReconciler{store: st, qbt: qbtClient, nodeID: nodeID, log: log}
}

// Run performs one pass of spec §4.7.
func (r *UploadReconciler) Run(ctx context.Context) error {
	uploading, err := r.uploadingItems(ctx)
	if err != nil {
		return fmt.Errorf("load uploading items: %w", err)
	}
	if len(uploading) == 0 {
		return nil
	}

	torrents, err := r.qbt.ListByCategory(ctx, qbt.Category)
	if err != nil {
		return fmt.Errorf("list local torrents: %w", err)
	}
	byHash := make(map[string]qbt.Torrent, len(torrents))
	for _, t := range torrents {
		byHash[t.Hash] = t
	}

	for _, item := range uploading {
		t, present := byHash[item.TargetInfoHash]
		if !present {
			if err := r.markRemovedByClient(ctx, item.ID); err != nil {
				r.log.Error().Err(err).Int64("item_id", item.ID).Msg("failed to mark removed-by-client")
			}
			continue
		}

		removedBySite, err := r.checkTrackerRemoval(ctx, item.TargetInfoHash)
		if err != nil {
			r.log.Error().Err(err).Int64("item_id", item.ID).Msg("failed to list trackers")
			continue
		}
		if removedBySite {
			if err := r.markRemovedBySite(ctx, item.ID); err != nil {
				r.log.Error().Err(err).Int64("item_id", item.ID).Msg("failed to mark removed-by-site")
			}
			continue
		}

		if t.Uploaded > t.Size && t.Completed > minSeededBytes {
			if err := r.markDone(ctx, item.ID); err != nil {
				r.log.Error().Err(err).Int64("item_id", item.ID).Msg("failed to mark done")
			}
		}
	}

	return nil
}

func (r *UploadReconciler) checkTrackerRemoval(ctx context.Context, hash string) (bool, error) {
	trackers, err := r.qbt.ListTrackers(ctx, hash)
	if err != nil {
		return false, err
	}
	for _, t := range trackers {
		if t.Tier < 0 {
			continue
		}
		lower := strings.ToLower(t.Msg)
		for _, substr := range trackerRemovalSubstrings {
			if strings.Contains(lower, substr) {
				return true, nil
			}
		}
	}
	return false, nil
}

func (r *UploadReconciler) uploadingItems(ctx context.Context) ([]model.Item, error) {
	rows, err := r.store.QueryContext(ctx, `
		SELECT id, guid, website, title, link, released_at, size_bytes, imdb_id, douban_id,
		       source_info_hash, target_info_hash, picked_node, status, progress, failure_reason,
		       meta_info, hardcode_subtitle, created_at, updated_at
		FROM rss_item
		WHERE status = $1 AND picked_node = $2 AND target_info_hash != ''`,
		model.StatusUploading, r.nodeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *UploadReconciler) markRemovedByClient(ctx context.Context, itemID int64) error {
	_, err := r.store.ExecContext(ctx, `
		UPDATE rss_item SET status = $1, updated_at = now() WHERE id = $2`,
		model.StatusRemovedByClient, itemID)
	return err
}

func (r *UploadReconciler) markRemovedBySite(ctx context.Context, itemID int64) error {
	_, err := r.store.ExecContext(ctx, `
		UPDATE rss_item SET status = $1, updated_at = now() WHERE id = $2`,
		model.StatusRemovedBySite, itemID)
	return err
}

func (r *UploadReconciler) markDone(ctx context.Context, itemID int64) error {
	_, err := r.store.ExecContext(ctx, `
		UPDATE rss_item SET status = $1, progress = 1, updated_at = now() WHERE id = $2`,
		model.StatusDone, itemID)
	return err
}
