// Package feed implements the feed poller of spec §3 C3: fetch one
// configured RSS/Torznab source, parse its entries, apply the include/exclude
// pattern sets, and upsert rows into rss_item — all behind the schedule
// advisory lock so cooperating nodes never double-poll the same feed inside
// its own interval.
//
// HTTP fetch follows the teacher's internal/torrent/downloader.go idiom
// (explicit http.Request, bounded http.Client, status-code check, body read)
// rather than a bare http.Get; XML parsing layers github.com/mmcdole/gofeed
// (drawn from other_examples/Picking-gh-at-rss/task.go, which polls a GitHub
// Atom feed the same way) on top of a second raw-XML pass for the
// Torznab-specific imdb attribute and a douban-id regex scraped from the
// description, since gofeed's generic item type has no slot for either.
package feed

import (
	"context"
	"database/sql"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"

	"github.com/ptrepost/ptrepost/internal/config"
	"github.com/ptrepost/ptrepost/internal/lock"
	"github.com/ptrepost/ptrepost/internal/model"
	"github.com/ptrepost/ptrepost/internal/store"
)

var doubanIDPattern = regexp.MustCompile(`douban\.com/subject/(\d+)`)

// Poller fetches and upserts one or more configured feeds.
type Poller struct {
	store  *store.Store
	locks  *lock.Manager
	nodeID string
	proxy  string
	log    zerolog.Logger

	httpClient *http.Client
}

// New builds a Poller. proxyURL may be empty.
func New(st *store.Store, locks *lock.Manager, nodeID, proxyURL string, log zerolog.Logger) (*Poller, error) {
	client := &http.Client{Timeout: 30 * time.Second}
	if proxyURL != "" {
		parsed, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy-url: %w", err)
		}
		client.Transport = &http.Transport{Proxy: http.ProxyURL(parsed)}
	}

	return &Poller{
		store:      st,
		locks:      locks,
		nodeID:     nodeID,
		proxy:      proxyURL,
		log:        log,
		httpClient: client,
	}, nil
}

const schedulerLockName = "feed-scheduler"

// PollDue selects and polls at most one configured feed per call — the
// earliest due one, i.e. the feed whose last run is oldest relative to its
// own interval (spec §2/§4.2/§5: "at most one feed per tick"). The scheduler
// lock is held for the whole call: selection, the run-row insert, the HTTP
// fetch and the item upserts all happen inside it, so no other node starts
// a poll while this one is in flight. Selection is not wrapped in a
// serializable transaction; the advisory lock is its only guard.
func (p *Poller) PollDue(ctx context.Context, feeds []config.FeedConfig) error {
	key := lock.Key(schedulerLockName)
	return p.locks.WithLock(ctx, key, lock.Exclusive, 30*time.Second, func(ctx context.Context) error {
		fc, ok, err := p.selectDue(ctx, feeds)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := p.pollOne(ctx, fc); err != nil {
			p.log.Error().Err(err).Str("feed_url", fc.URL).Msg("feed poll failed")
		}
		return nil
	})
}

// selectDue returns the most-overdue due feed among feeds, or ok=false if
// none are due yet.
func (p *Poller) selectDue(ctx context.Context, feeds []config.FeedConfig) (fc config.FeedConfig, ok bool, err error) {
	var bestOverdue time.Duration
	for _, candidate := range feeds {
		due, overdue, err := p.dueBy(ctx, candidate)
		if err != nil {
			return config.FeedConfig{}, false, err
		}
		if !due {
			continue
		}
		if !ok || overdue > bestOverdue {
			fc, bestOverdue, ok = candidate, overdue, true
		}
	}
	return fc, ok, nil
}

// dueBy reports whether fc's interval has elapsed since its last recorded
// run, and by how much it overshot that interval (used to rank multiple due
// feeds). A feed that has never run is always due and ranks above every
// feed that has.
func (p *Poller) dueBy(ctx context.Context, fc config.FeedConfig) (due bool, overdue time.Duration, err error) {
	interval, err := fc.IntervalDuration()
	if err != nil {
		return false, 0, err
	}

	var lastRun sql.NullTime
	row := p.store.QueryRowContext(ctx, `
		SELECT max(r.started_at)
		FROM rss_run r
		JOIN rss f ON f.id = r.feed_id
		WHERE f.url = $1`, fc.URL)
	if err := row.Scan(&lastRun); err != nil {
		return false, 0, fmt.Errorf("check last run: %w", err)
	}

	var last time.Time
	if lastRun.Valid {
		last = lastRun.Time
	}
	elapsed := time.Since(last)
	return elapsed >= interval, elapsed - interval, nil
}

// pollOne fetches, parses, filters and upserts one feed's entries, bracketed
// by an rss_run row that records success or failure (spec §3 Run, §4.2 step
// 7).
func (p *Poller) pollOne(ctx context.Context, fc config.FeedConfig) error {
	feedID, err := p.upsertFeedRow(ctx, fc)
	if err != nil {
		return fmt.Errorf("upsert feed row: %w", err)
	}

	runID, err := p.startRun(ctx, feedID)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}

	entries, err := p.fetchAndParse(ctx, fc.URL)
	if err != nil {
		_ = p.finishRun(ctx, runID, model.RunFailed, err.Error())
		return err
	}

	var excludeHashes map[string]bool
	if fc.ExcludeURL != "" {
		excludeEntries, err := p.fetchAndParse(ctx, fc.ExcludeURL)
		if err != nil {
			_ = p.finishRun(ctx, runID, model.RunFailed, err.Error())
			return fmt.Errorf("fetch exclude feed: %w", err)
		}
		excludeHashes = make(map[string]bool, len(excludeEntries))
		for _, e := range excludeEntries {
			excludeHashes[e.guid] = true
		}
	}

	for _, e := range entries {
		forceSkip := excludeHashes[e.guid]
		if err := p.upsertItem(ctx, fc, e, forceSkip); err != nil {
			p.log.Error().Err(err).Str("guid", e.guid).Msg("upsert feed item failed")
		}
	}

	return p.finishRun(ctx, runID, model.RunSuccess, "")
}

func (p *Poller) upsertFeedRow(ctx context.Context, fc config.FeedConfig) (int64, error) {
	includes, _ := json.Marshal(fc.Includes)
	excludes, _ := json.Marshal(fc.Excludes)
	interval, err := fc.IntervalDuration()
	if err != nil {
		return 0, err
	}

	var id int64
	row := p.store.QueryRowContext(ctx, `
		INSERT INTO rss (url, exclude_url, website, includes, excludes, interval_seconds, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (url) DO UPDATE SET
			exclude_url = EXCLUDED.exclude_url,
			website = EXCLUDED.website,
			includes = EXCLUDED.includes,
			excludes = EXCLUDED.excludes,
			interval_seconds = EXCLUDED.interval_seconds,
			updated_at = now()
		RETURNING id`,
		fc.URL, fc.ExcludeURL, fc.Website, includes, excludes, int(interval.Seconds()))
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (p *Poller) startRun(ctx context.Context, feedID int64) (int64, error) {
	var id int64
	row := p.store.QueryRowContext(ctx, `
		INSERT INTO rss_run (feed_id, node_id, started_at, status)
		VALUES ($1, $2, now(), $3)
		RETURNING id`, feedID, p.nodeID, model.RunRunning)
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (p *Poller) finishRun(ctx context.Context, runID int64, status model.RunStatus, reason string) error {
	_, err := p.store.ExecContext(ctx, `
		UPDATE rss_run SET status = $2, failure_reason = $3 WHERE id = $1`,
		runID, status, reason)
	return err
}

type entry struct {
	guid       string
	title      string
	link       string
	releasedAt time.Time
	sizeBytes  int64
	imdbID     string
	doubanID   string
}

// fetchAndParse downloads rawURL and parses it as RSS/Torznab, extracting
// the torznab:attr imdb attribute and a scraped douban id alongside the
// fields gofeed already understands (spec §3 Item "imdb_id, douban_id may be
// absent").
func (p *Poller) fetchAndParse(ctx context.Context, rawURL string) ([]entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read feed body: %w", err)
	}

	fp := gofeed.NewParser()
	parsed, err := fp.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	torznabAttrs, err := scanTorznabAttrs(body)
	if err != nil {
		p.log.Debug().Err(err).Msg("torznab attribute scan failed, continuing without it")
	}

	entries := make([]entry, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		e := entry{
			guid:  item.GUID,
			title: item.Title,
			link:  item.Link,
		}
		if item.PublishedParsed != nil {
			e.releasedAt = *item.PublishedParsed
		} else {
			e.releasedAt = time.Now()
		}
		if attrs, ok := torznabAttrs[item.GUID]; ok {
			e.sizeBytes = attrs.size
			e.imdbID = attrs.imdbID
		}
		if m := doubanIDPattern.FindStringSubmatch(item.Description); len(m) == 2 {
			e.doubanID = m[1]
		}
		entries = append(entries, e)
	}
	return entries, nil
}

type torznabAttrSet struct {
	size   int64
	imdbID string
}

// rssXML mirrors just enough of a Torznab <item> to read torznab:attr
// name/value pairs and a size, which gofeed's generic Item drops.
type rssXML struct {
	Channel struct {
		Items []struct {
			GUID string `xml:"guid"`
			Enclosure struct {
				Length int64 `xml:"length,attr"`
			} `xml:"enclosure"`
			Attrs []struct {
				Name  string `xml:"name,attr"`
				Value string `xml:"value,attr"`
			} `xml:"attr"`
		} `xml:"item"`
	} `xml:"channel"`
}

func scanTorznabAttrs(body []byte) (map[string]torznabAttrSet, error) {
	var doc rssXML
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, err
	}

	out := make(map[string]torznabAttrSet, len(doc.Channel.Items))
	for _, item := range doc.Channel.Items {
		set := torznabAttrSet{size: item.Enclosure.Length}
		for _, a := range item.Attrs {
			if a.Name == "imdb" || a.Name == "imdbid" {
				set.imdbID = a.Value
			}
		}
		out[item.GUID] = set
	}
	return out, nil
}

// upsertItem applies the include/exclude pattern sets (spec §3 PatternSet:
// disjunction of conjunctions, excludes win) and inserts or updates the
// rss_item row. forceSkip marks entries that also appeared on the
// exclusion-feed, which are inserted as already-skipped, and an existing
// row still pending is switched to skipped, so they're never picked up by
// admission (spec §4.2 step 6). Any other existing row is left as it is.
func (p *Poller) upsertItem(ctx context.Context, fc config.FeedConfig, e entry, forceSkip bool) error {
	status := model.StatusPending
	if forceSkip || !matches(e.title, fc.Includes, fc.Excludes) {
		status = model.StatusSkipped
	}

	_, err := p.store.ExecContext(ctx, `
		INSERT INTO rss_item (guid, website, title, link, released_at, size_bytes, imdb_id, douban_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (guid, website) DO UPDATE SET status = EXCLUDED.status, updated_at = now()
		WHERE $10 AND rss_item.status = $11`,
		e.guid, fc.Website, e.title, e.link, e.releasedAt, e.sizeBytes, e.imdbID, e.doubanID, status,
		forceSkip, model.StatusPending)
	return err
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
