// Package collab declares the external collaborators spec §1 Non-goals and
// §9 carve out of this engine's scope: mediainfo extraction, screenshot
// generation, image hosting, IMDb/Douban metadata lookup and target-tracker
// submission. The engine depends only on these interfaces; concrete
// implementations are swappable per deployment (spec §9 "Application context,
// not global singletons" — collaborators are constructed once and threaded
// through, the same way the teacher wires internal/torrent.Client and
// internal/db.DB into internal/api.Server).
package collab

import (
	"context"
	"errors"
)

// ErrAnimation is the Skip sentinel of spec §3/§4.3: a release whose primary
// genre is animation is force-skipped rather than admitted or failed.
var ErrAnimation = errors.New("animation")

// MediaInfoExtractor produces mediainfo's text report and parsed JSON for a
// local video file (spec §4.6 step 2).
type MediaInfoExtractor interface {
	Extract(ctx context.Context, filePath string) (text string, json map[string]any, err error)
}

// ScreenshotGenerator captures still frames from a local video file and
// reports whether the video carries burned-in (hardcoded) subtitles (spec
// §4.5 step 3). format is "png" or "jpg", chosen by the caller from
// publish.ScreenshotExtension (PNG for non-web-dl titles, JPG for web-dl
// ones).
type ScreenshotGenerator interface {
	Capture(ctx context.Context, filePath string, count int, format string) (frames [][]byte, hardcodeSubtitle bool, err error)
}

// ImageHost uploads a single screenshot and returns its hosted URL (spec
// §4.6 step 4, uploaded with a bounded-parallelism retry budget by the
// caller).
type ImageHost interface {
	Upload(ctx context.Context, frame []byte) (url string, err error)
}

// MetadataLookup resolves an IMDb id to (optionally) a paired Douban id,
// backed by the imdb cache table (spec §3 ImdbCache, §4.6 step 5), and
// classifies a candidate release ahead of admission so the animation-genre
// sentinel can force a skip before a torrent is ever fetched (spec §4.3,
// §3 "TMDB genre 16").
type MetadataLookup interface {
	Lookup(ctx context.Context, imdbID string) (doubanID string, err error)

	// ClassifyGenre returns ErrAnimation when the external metadata database
	// reports the release's primary genre is animation; it returns nil for
	// every other outcome including "unknown".
	ClassifyGenre(ctx context.Context, title string) error

	// EpisodeCount resolves a TV release's season episode count (spec §4.5
	// step 4: "season episode count if applicable"), keyed by title the
	// same way ClassifyGenre is. ok is false for a release with no
	// applicable season (e.g. a movie) or an unknown count; count is then
	// meaningless.
	EpisodeCount(ctx context.Context, title string) (count int, ok bool, err error)
}

// TargetTracker submits a sanitized torrent and its metadata to the
// destination site and returns the hash it assigned (spec §4.6 step 8).
type TargetTracker struct {
	// Publish is left as a function, not a method on an unexported struct,
	// so tests can substitute a closure without a full fake tracker.
	Publish func(ctx context.Context, req PublishRequest) (PublishResult, error)
}

// PublishRequest is everything a TargetTracker needs to create a release.
type PublishRequest struct {
	Title            string
	Website          string
	TorrentBytes     []byte
	MediainfoText    string
	Screenshots      []string
	ImdbID           string
	DoubanID         string
	HardcodeSubtitle bool
	Options          map[string]string
}

// PublishResult is what the tracker hands back after accepting a release.
type PublishResult struct {
	TargetInfoHash string
}
