// Package qbt is the local torrent-client binding of spec §3 C8: a thin
// wrapper over qBittorrent's Web API, used to enumerate torrents already
// known to the local client, pull their tracker/file lists, export a
// torrent's raw bytes and push new torrents into a category.
//
// This is deliberately not a BitTorrent protocol engine (spec §1 Non-goals
// exclude "a BitTorrent client/protocol implementation") — the teacher's
// internal/torrent/client.go embeds anacrolix/torrent.Client to actually
// speak the wire protocol, which this package does not do. Instead it talks
// to a qBittorrent instance over its Web API via
// github.com/autobrr/go-qbittorrent, following the request/response shape
// and field naming of other_examples/Edholm-qbit-service/qbit.go (TorrentInfo,
// TrackerInfo) adapted onto that library's typed client instead of hand-rolled
// HTTP calls.
package qbt

import (
	"context"
	"fmt"

	qbittorrent "github.com/autobrr/go-qbittorrent"
	"github.com/rs/zerolog"
)

// Category is the qBittorrent category every torrent this engine manages is
// tagged with, so reconciliation never touches torrents a human added by hand
// (spec §4.4 "only torrents in the managed category are considered").
const Category = "pt-repost"

// Client binds one qBittorrent Web API instance.
type Client struct {
	inner *qbittorrent.Client
	log   zerolog.Logger
}

// New builds a Client against baseURL, logging in lazily on first use (the
// underlying library re-authenticates itself on a 403, matching the
// loginIfNeeded idiom in Edholm-qbit-service/qbit.go).
func New(baseURL, username, password string, log zerolog.Logger) *Client {
	inner := qbittorrent.NewClient(qbittorrent.Config{
		Host:     baseURL,
		Username: username,
		Password: password,
	})
	return &Client{inner: inner, log: log}
}

// Ping verifies connectivity by requesting the client's version (spec §6
// "the binding must support ... an app-version ping used at startup").
func (c *Client) Ping(ctx context.Context) (string, error) {
	if err := c.inner.LoginCtx(ctx); err != nil {
		return "", fmt.Errorf("qbt login: %w", err)
	}
	v, err := c.inner.GetAppVersionCtx(ctx)
	if err != nil {
		return "", fmt.Errorf("qbt app version: %w", err)
	}
	return v, nil
}

// Torrent is the subset of qBittorrent's torrent-info fields the engine
// reasons about; field names follow Edholm-qbit-service's TorrentInfo.
type Torrent struct {
	Hash       string
	Name       string
	Category   string
	Tags       string
	Progress   float64
	Size       int64
	Completed  int64
	Uploaded   int64
	SavePath   string
	State      string
	AmountLeft int64
}

// ListByCategory returns every torrent currently tagged with Category (spec
// §4.4 step 1, §4.7 step 1).
func (c *Client) ListByCategory(ctx context.Context, category string) ([]Torrent, error) {
	raw, err := c.inner.GetTorrentsCtx(ctx, qbittorrent.TorrentFilterOptions{
		Category: &category,
	})
	if err != nil {
		return nil, fmt.Errorf("qbt list torrents: %w", err)
	}

	out := make([]Torrent, 0, len(raw))
	for _, t := range raw {
		out = append(out, Torrent{
			Hash:       t.Hash,
			Name:       t.Name,
			Category:   t.Category,
			Tags:       t.Tags,
			Progress:   t.Progress,
			Size:       t.Size,
			Completed:  t.Completed,
			Uploaded:   t.Uploaded,
			SavePath:   t.SavePath,
			State:      string(t.State),
			AmountLeft: t.AmountLeft,
		})
	}
	return out, nil
}

// File is one file within a torrent's content, as reported by qBittorrent.
type File struct {
	Name string
	Size int64
}

// ListFiles returns the files belonging to the torrent identified by hash
// (spec §4.6 "primary video file selection enumerates the torrent's files").
func (c *Client) ListFiles(ctx context.Context, hash string) ([]File, error) {
	raw, err := c.inner.GetFilesInformationCtx(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("qbt list files %s: %w", hash, err)
	}
	if raw == nil {
		return nil, nil
	}

	out := make([]File, 0, len(*raw))
	for _, f := range *raw {
		out = append(out, File{Name: f.Name, Size: f.Size})
	}
	return out, nil
}

// Tracker is one tracker entry reported by qBittorrent for a torrent. Tier
// is -1 for the pseudo-trackers qBittorrent synthesizes for DHT, PeX and
// LSD; every real tracker has Tier >= 0 (spec §4.7 "a tracker entry at
// tier ≥ 0").
type Tracker struct {
	URL    string
	Tier   int
	Status int
	Msg    string
}

// Tracker status codes, mirroring Edholm-qbit-service/qbit.go's constants.
const (
	TrackerDisabled     = 0
	TrackerNotContacted = 1
	TrackerWorking      = 2
	TrackerUpdating     = 3
	TrackerNotWorking   = 4
)

// ListTrackers returns the tracker rows for hash, used by the upload
// reconciler to detect a tracker-side removal: the item is marked
// removed-by-site when any entry with Tier >= 0 carries a removal message
// in Msg (spec §4.7).
func (c *Client) ListTrackers(ctx context.Context, hash string) ([]Tracker, error) {
	raw, err := c.inner.GetTorrentTrackersCtx(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("qbt list trackers %s: %w", hash, err)
	}

	out := make([]Tracker, 0, len(raw))
	for _, t := range raw {
		out = append(out, Tracker{URL: t.Url, Tier: t.Tier, Status: int(t.Status), Msg: t.Msg})
	}
	return out, nil
}

// Export returns the raw .torrent bytes qBittorrent currently holds for hash,
// the input to bencodeutil.Sanitize (spec §4.5 step 5).
func (c *Client) Export(ctx context.Context, hash string) ([]byte, error) {
	raw, err := c.inner.ExportTorrentCtx(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("qbt export %s: %w", hash, err)
	}
	return raw, nil
}

// AddOptions configures how a new torrent is handed to qBittorrent.
type AddOptions struct {
	SavePath    string
	Category    string
	Tags        []string
	SkipCheck   bool
	AutoManaged bool
}

// Add pushes torrentBytes into qBittorrent under the given options (spec
// §4.5 step 4 download admission, and §4.6 step 8 re-import of the sanitized
// upload copy). AutoManaged is forced off whenever the caller doesn't ask
// for it, since the engine and not qBittorrent owns save-path placement
// (spec §4.4 "the client must not relocate files on its own").
func (c *Client) Add(ctx context.Context, torrentBytes []byte, opts AddOptions) error {
	options := map[string]string{
		"savepath":      opts.SavePath,
		"category":      opts.Category,
		"skip_checking": boolStr(opts.SkipCheck),
		"autoTMM":       boolStr(opts.AutoManaged),
	}
	if len(opts.Tags) > 0 {
		options["tags"] = joinTags(opts.Tags)
	}

	if err := c.inner.AddTorrentFromMemoryCtx(ctx, torrentBytes, options); err != nil {
		return fmt.Errorf("qbt add torrent: %w", err)
	}
	return nil
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func joinTags(tags []string) string {
	out := tags[0]
	for _, t := range tags[1:] {
		out += "," + t
	}
	return out
}
