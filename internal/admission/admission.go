// Package admission implements the admission controller of spec §4.3 (C4):
// a serializable-transaction claim loop that hands pending items to this
// node subject to size, count, and recent-release budgets, then fetches and
// hands each claimed torrent to the local client outside the transaction.
//
// The claim loop itself follows the teacher's internal/torrent/queue.go
// idiom of an explicit tx.Begin/tx.Commit wrapping a SELECT-then-UPDATE
// claim, run to a fixpoint by the caller; the post-commit HTTP fetch mirrors
// internal/torrent/downloader.go's bounded http.Client pattern.
package admission

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/ptrepost/ptrepost/internal/bencodeutil"
	"github.com/ptrepost/ptrepost/internal/collab"
	"github.com/ptrepost/ptrepost/internal/config"
	"github.com/ptrepost/ptrepost/internal/model"
	"github.com/ptrepost/ptrepost/internal/qbt"
	"github.com/ptrepost/ptrepost/internal/store"
)

// Controller claims pending work for one node and hands it to the local
// torrent client.
type Controller struct {
	store    *store.Store
	qbt      *qbt.Client
	metadata collab.MetadataLookup
	cfg      *config.Config
	log      zerolog.Logger

	httpClient *http.Client
}

// New builds a Controller. metadata may be nil if no genre-skip check is
// configured; RunToFixpoint then never force-skips on the animation sentinel.
func New(st *store.Store, qbtClient *qbt.Client, metadata collab.MetadataLookup, cfg *config.Config, log zerolog.Logger) (*Controller, error) {
	client := &http.Client{Timeout: 30 * time.Second}
	if cfg.ProxyURL != "" {
		parsed, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy-url: %w", err)
		}
		client.Transport = &http.Transport{Proxy: http.ProxyURL(parsed)}
	}
	return &Controller{store: st, qbt: qbtClient, metadata: metadata, cfg: cfg, log: log, httpClient: client}, nil
}

// RunToFixpoint claims and processes items until a pass claims nothing (spec
// §4.3 "Admission must loop until it picks zero new items in a transaction,
// because each publish-completion can free budget").
func (c *Controller) RunToFixpoint(ctx context.Context) error {
	for {
		claimed, err := c.claimOne(ctx)
		if err != nil {
			return fmt.Errorf("claim: %w", err)
		}
		if claimed == nil {
			return nil
		}

		if err := c.admit(ctx, claimed); err != nil {
			c.log.Error().Err(err).Int64("item_id", claimed.ID).Str("guid", claimed.GUID).Msg("admission failed for claimed item")
		}
	}
}

type candidate struct {
	ID        int64
	GUID      string
	Website   string
	Title     string
	Link      string
	SizeBytes int64
}

// claimOne performs one pass of spec §4.3 steps 1-9 inside a single
// serializable transaction, claiming at most one item (the caller loops to
// drain the full candidate set, which also keeps any single transaction
// short).
func (c *Controller) claimOne(ctx context.Context) (*candidate, error) {
	var result *candidate

	err := c.store.WithSerializableTx(ctx, func(tx *sql.Tx) error {
		var currentCount int
		var currentTotalSize int64
		row := tx.QueryRowContext(ctx, `
			SELECT count(*), coalesce(sum(size_bytes), 0)
			FROM rss_item
			WHERE picked_node = $1 AND status IN ($2, $3)`,
			c.cfg.NodeID, model.StatusDownloading, model.StatusUploading)
		if err := row.Scan(&currentCount, &currentTotalSize); err != nil {
			return fmt.Errorf("read current processing set: %w", err)
		}

		if currentCount >= c.cfg.MaxProcessingPerNode {
			return nil
		}

		rest := c.cfg.MaxProcessingSize - currentTotalSize
		if rest <= 0 {
			return nil
		}
		releasedAfter := time.Now().Add(-c.cfg.RecentReleaseWindow)

		rows, err := tx.QueryContext(ctx, `
			SELECT id, guid, website, title, link, size_bytes
			FROM rss_item
			WHERE status = $1 AND size_bytes <= $2 AND released_at >= $3
			ORDER BY released_at DESC`,
			model.StatusPending, rest, releasedAfter)
		if err != nil {
			return fmt.Errorf("select candidates: %w", err)
		}
		defer rows.Close()

		var cand *candidate
		for rows.Next() {
			var cd candidate
			if err := rows.Scan(&cd.ID, &cd.GUID, &cd.Website, &cd.Title, &cd.Link, &cd.SizeBytes); err != nil {
				return fmt.Errorf("scan candidate: %w", err)
			}

			if !matches(cd.Title, c.cfg.Includes, c.cfg.Excludes) {
				continue
			}
			if cd.SizeBytes > c.cfg.MaxSingleTorrentSize {
				continue
			}
			if cd.SizeBytes > rest {
				continue
			}
			cand = &cd
			break
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate candidates: %w", err)
		}
		if cand == nil {
			return nil
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE rss_item
			SET status = $1, picked_node = $2, updated_at = now()
			WHERE id = $3 AND status = $4`,
			model.StatusDownloading, c.cfg.NodeID, cand.ID, model.StatusPending)
		if err != nil {
			return fmt.Errorf("claim candidate: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			// Lost a race with a concurrent committer under serializable
			// isolation (spec S5); the caller's loop will retry with the
			// next candidate on its next pass.
			return nil
		}

		result = cand
		return nil
	})

	return result, err
}

// admit fetches the source torrent for a freshly claimed item, computes its
// info-hash, persists it, and hands the bytes to the local torrent client
// (spec §4.3, post-commit phase).
func (c *Controller) admit(ctx context.Context, cand *candidate) error {
	if c.metadata != nil {
		if err := c.metadata.ClassifyGenre(ctx, cand.Title); errors.Is(err, collab.ErrAnimation) {
			return c.forceSkip(ctx, cand.ID)
		}
	}

	raw, err := c.fetchTorrent(ctx, cand.Link)
	if err != nil {
		return c.markFailed(ctx, cand.ID, fmt.Sprintf("fetch source torrent: %v", err))
	}

	mi, err := bencodeutil.Decode(raw)
	if err != nil {
		return c.markFailed(ctx, cand.ID, fmt.Sprintf("decode source torrent: %v", err))
	}
	infoHash := bencodeutil.InfoHashV1(mi)

	if _, err := c.store.ExecContext(ctx, `
		UPDATE rss_item SET source_info_hash = $1, updated_at = now() WHERE id = $2`,
		infoHash, cand.ID); err != nil {
		return fmt.Errorf("persist source info hash: %w", err)
	}

	if err := c.qbt.Add(ctx, raw, qbt.AddOptions{
		SavePath:    c.cfg.DataDir,
		Category:    qbt.Category,
		Tags:        []string{qbt.Category},
		SkipCheck:   false,
		AutoManaged: false,
	}); err != nil {
		return c.markFailed(ctx, cand.ID, fmt.Sprintf("add to local client: %v", err))
	}

	return nil
}

func (c *Controller) fetchTorrent(ctx context.Context, link string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("source returned status %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

func (c *Controller) forceSkip(ctx context.Context, itemID int64) error {
	_, err := c.store.ExecContext(ctx, `
		UPDATE rss_item SET status = $1, failure_reason = $2, updated_at = now() WHERE id = $3`,
		model.StatusSkipped, collab.ErrAnimation.Error(), itemID)
	return err
}

func (c *Controller) markFailed(ctx context.Context, itemID int64, reason string) error {
	_, err := c.store.ExecContext(ctx, `
		UPDATE rss_item SET status = $1, failure_reason = $2, updated_at = now() WHERE id = $3`,
		model.StatusFailed, reason, itemID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%s", reason)
}

// matches implements spec §3/§4.2's PatternSet semantics: a title passes if
// it satisfies at least one include pattern (the includes are a disjunction,
// not a conjunction) and no exclude pattern; excludes win. An empty include
// set matches everything.
func matches(title string, includes, excludes []string) bool {
	if model.PatternSetFromFlat(excludes).Matches(title) {
		return false
	}
	if len(includes) == 0 {
		return true
	}
	return model.PatternSetFromFlat(includes).Matches(title)
}
