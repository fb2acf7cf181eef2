// Package model holds the persisted shapes shared across the engine:
// feeds, items, runs and nodes, plus the content-addressed auxiliary
// tables that let the publish pipeline resume without redoing external
// work.
package model

import (
	"regexp"
	"time"
)

// Status is an item's position in the state machine of spec §4.1.
type Status string

const (
	StatusPending          Status = "pending"
	StatusDownloading      Status = "downloading"
	StatusUploading        Status = "uploading"
	StatusDone             Status = "done"
	StatusSkipped          Status = "skipped"
	StatusFailed           Status = "failed"
	StatusRemovedByClient  Status = "removed-by-client"
	StatusRemovedBySite    Status = "removed-by-site"
)

// Terminal reports whether no further automatic transition leaves this status.
func (s Status) Terminal() bool {
	switch s {
	case StatusDone, StatusSkipped, StatusRemovedBySite:
		return true
	default:
		return false
	}
}

// SemiTerminal reports whether an operator may manually reset this item to
// pending; the engine never retries these automatically.
func (s Status) SemiTerminal() bool {
	return s == StatusFailed || s == StatusRemovedByClient
}

// Processing reports whether the status counts against a node's admission
// budget (spec §4.3, §9 open question 3).
func (s Status) Processing() bool {
	return s == StatusDownloading || s == StatusUploading
}

// RunStatus is the terminal state of a single feed poll attempt.
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
)

// PatternGroup is one conjunction group within a disjunctive include/exclude
// pattern set (spec §3: "a disjunction of pattern conjunctions"). An item
// matches the set if it matches every pattern within at least one group.
type PatternGroup struct {
	Patterns []string `json:"patterns" mapstructure:"patterns"`
}

// PatternSet is the disjunction itself.
type PatternSet []PatternGroup

// PatternSetFromFlat wraps a flat, ungrouped regex list — the shape
// configuration actually supplies for both per-feed and global include/
// exclude lists (spec §6: "global includes/excludes regex lists") — into a
// PatternSet of one-pattern groups, so the flat config representation and
// the richer grouped one match through the same disjunction-of-conjunctions
// logic.
func PatternSetFromFlat(patterns []string) PatternSet {
	groups := make(PatternSet, len(patterns))
	for i, p := range patterns {
		groups[i] = PatternGroup{Patterns: []string{p}}
	}
	return groups
}

// Matches reports whether title satisfies the set (spec §4.2: "an item
// matches if any pattern (or pattern-conjunction group) matches the
// title"). A group only matches if every one of its patterns matches; an
// invalid regex never matches. An empty set never matches — callers decide
// separately what an absent include set ("match everything") or absent
// exclude set ("exclude nothing") means.
func (ps PatternSet) Matches(title string) bool {
	for _, g := range ps {
		if g.matches(title) {
			return true
		}
	}
	return false
}

func (g PatternGroup) matches(title string) bool {
	if len(g.Patterns) == 0 {
		return false
	}
	for _, pat := range g.Patterns {
		re, err := regexp.Compile(pat)
		if err != nil || !re.MatchString(title) {
			return false
		}
	}
	return true
}

// Feed is a monitored RSS/Torznab source (spec §3).
type Feed struct {
	ID           int64
	URL          string
	ExcludeURL   string
	Website      string
	Includes     PatternSet
	Excludes     PatternSet
	IntervalSecs int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Item is one release candidate, uniquely keyed by (GUID, Website) (spec §3).
type Item struct {
	ID               int64
	GUID             string
	Website          string
	Title            string
	Link             string
	ReleasedAt       time.Time
	SizeBytes        int64
	IMDbID           string
	DoubanID         string
	SourceInfoHash   string
	TargetInfoHash   string
	PickedNode       string
	Status           Status
	Progress         float64
	FailureReason    string
	MetaInfo         map[string]any
	HardcodeSubtitle bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Run is a record of one feed poll attempt (spec §3).
type Run struct {
	ID            int64
	FeedID        int64
	NodeID        string
	StartedAt     time.Time
	Status        RunStatus
	FailureReason string
	CreatedAt     time.Time
}

// Node is a cooperating process, upserted by the heartbeat each tick (spec §3).
type Node struct {
	ID       string
	LastSeen time.Time
}

// Mediainfo is the cached media-info dump for a source info-hash (spec §3, I5).
type Mediainfo struct {
	SourceInfoHash string
	Text           string
	JSON           map[string]any
	CreatedAt      time.Time
}

// Image is one uploaded screenshot for a source info-hash (spec §3, I5).
type Image struct {
	ID             int64
	SourceInfoHash string
	URL            string
	CreatedAt      time.Time
}

// ImdbCache maps an IMDb id to its Douban equivalent (spec §3; upsert, unlike
// the insert-only mediainfo/image tables).
type ImdbCache struct {
	IMDbID    string
	DoubanID  string
	UpdatedAt time.Time
}
