// Package reconcile implements the download reconciler (C5, spec §4.4) and
// upload reconciler (C7, spec §4.7): both sync the engine's persisted item
// state against what the local torrent client actually reports, driving
// progress, detecting removals, and handing completed downloads to the
// publish pipeline.
//
// Grounded on the teacher's internal/torrent/reporter.go, which periodically
// diffs the embedded client's live byte counters against what was last
// persisted; this package follows the same diff-and-write shape against the
// qBittorrent Web API instead of an in-process swarm.
package reconcile

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ptrepost/ptrepost/internal/model"
	"github.com/ptrepost/ptrepost/internal/pkgerr"
	"github.com/ptrepost/ptrepost/internal/publish"
	"github.com/ptrepost/ptrepost/internal/qbt"
	"github.com/ptrepost/ptrepost/internal/store"
)

// DownloadReconciler drives spec §4.4.
type DownloadReconciler struct {
	store    *store.Store
	qbt      *qbt.Client
	pipeline *publish.Pipeline
	nodeID   string
	log      zerolog.Logger
}

// NewDownloadReconciler builds a DownloadReconciler for this node.
func NewDownloadReconciler(st *store.Store, qbtClient *qbt.Client, pipeline *publish.Pipeline, nodeID string, log zerolog.Logger) *DownloadReconciler {
	return &DownloadReconciler{store: st, qbt: qbtClient, pipeline: pipeline, nodeID: nodeID, log: log}
}

// Run performs one pass of spec §4.4.
func (r *DownloadReconciler) Run(ctx context.Context) error {
	if err := r.repairStuckClaims(ctx); err != nil {
		return fmt.Errorf("repair stuck claims: %w", err)
	}

	downloading, err := r.downloadingItems(ctx)
	if err != nil {
		return fmt.Errorf("load downloading items: %w", err)
	}
	if len(downloading) == 0 {
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

	for _, item := range downloading {
		t, present := byHash[item.SourceInfoHash]
		if !present {
			if err := r.markRemovedByClient(ctx, item.ID); err != nil {
				r.log.Error().Err(err).Int64("item_id", item.ID).Msg("failed to mark removed-by-client")
			}
			continue
		}

		if t.AmountLeft > 0 {
			if err := r.writeProgress(ctx, item.ID, t); err != nil {
				r.log.Error().Err(err).Int64("item_id", item.ID).Msg("failed to write progress")
			}
			continue
		}

		if err := r.pipeline.Run(ctx, &item); err != nil {
			r.handlePipelineError(ctx, item.ID, err)
		}
	}

	return nil
}

// repairStuckClaims implements spec §4.4's invariant repair: a claim made by
// this node that never got as far as a torrent-add (source_info_hash still
// empty) reverts to pending so admission can retry it (spec §4.1
// "downloading → pending (self-repair)").
func (r *DownloadReconciler) repairStuckClaims(ctx context.Context) error {
	_, err := r.store.ExecContext(ctx, `
		UPDATE rss_item
		SET status = $1, picked_node = '', updated_at = now()
		WHERE status = $2 AND picked_node = $3 AND source_info_hash = ''`,
		model.StatusPending, model.StatusDownloading, r.nodeID)
	return err
}

func (r *DownloadReconciler) downloadingItems(ctx context.Context) ([]model.Item, error) {
	rows, err := r.store.QueryContext(ctx, `
		SELECT id, guid, website, title, link, released_at, size_bytes, imdb_id, douban_id,
		       source_info_hash, target_info_hash, picked_node, status, progress, failure_reason,
		       meta_info, hardcode_subtitle, created_at, updated_at
		FROM rss_item
		WHERE status = $1 AND picked_node = $2 AND source_info_hash != ''`,
		model.StatusDownloading, r.nodeID)
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

func (r *DownloadReconciler) markRemovedByClient(ctx context.Context, itemID int64) error {
	_, err := r.store.ExecContext(ctx, `
		UPDATE rss_item SET status = $1, updated_at = now() WHERE id = $2`,
		model.StatusRemovedByClient, itemID)
	return err
}

// writeProgress implements spec §4.1: "updated only in downloading, strictly
// as completed / total_size; write failures are swallowed".
func (r *DownloadReconciler) writeProgress(ctx context.Context, itemID int64, t qbt.Torrent) error {
	if t.Size <= 0 {
		return nil
	}
	progress := float64(t.Completed) / float64(t.Size)
	_, err := r.store.ExecContext(ctx, `
		UPDATE rss_item SET progress = $1, updated_at = now() WHERE id = $2`,
		progress, itemID)
	return err
}

func (r *DownloadReconciler) handlePipelineError(ctx context.Context, itemID int64, err error) {
	if reason, ok := pkgerr.AsSkip(err); ok {
		if dbErr := r.markSkipped(ctx, itemID, reason); dbErr != nil {
			r.log.Error().Err(dbErr).Int64("item_id", itemID).Msg("failed to persist skipped status")
		}
		return
	}

	if dbErr := r.markFailed(ctx, itemID, err.Error()); dbErr != nil {
		r.log.Error().Err(dbErr).Int64("item_id", itemID).Msg("failed to persist failed status")
	}
}

func (r *DownloadReconciler) markSkipped(ctx context.Context, itemID int64, reason string) error {
	_, err := r.store.ExecContext(ctx, `
		UPDATE rss_item SET status = $1, failure_reason = $2, updated_at = now() WHERE id = $3`,
		model.StatusSkipped, reason, itemID)
	return err
}

func (r *DownloadReconciler) markFailed(ctx context.Context, itemID int64, reason string) error {
	_, err := r.store.ExecContext(ctx, `
		UPDATE rss_item SET status = $1, failure_reason = $2, updated_at = now() WHERE id = $3`,
		model.StatusFailed, reason, itemID)
	return err
}
