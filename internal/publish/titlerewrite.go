package publish

import (
	"fmt"
	"regexp"
)

var (
	seasonEpisodePattern = regexp.MustCompile(`\bS\d+E\d+\b`)
	episodeNumberPattern = regexp.MustCompile(`(?i)\bS\d+E(\d+)\b`)
	seasonTokenPattern   = regexp.MustCompile(`(?i)\b(S\d+)\b`)
)

// RewriteTitle implements spec §4.6's deterministic title-rewrite rule. T is
// returned unchanged if it already names an episode, or if the release isn't
// TV, or if fileCount is already at least episodeCount. Otherwise it derives
// an E<min>[-E<max>] range from the episode numbers found in fileNames and
// injects it immediately after the season token.
func RewriteTitle(t string, isTV bool, fileNames []string, episodeCount int) string {
	if seasonEpisodePattern.MatchString(t) {
		return t
	}
	if !isTV || len(fileNames) >= episodeCount {
		return t
	}

	min, max, found := episodeRange(fileNames)
	if !found {
		return t
	}

	var suffix string
	if min == max {
		suffix = fmt.Sprintf("E%02d", min)
	} else {
		suffix = fmt.Sprintf("E%02d-E%02d", min, max)
	}

	loc := seasonTokenPattern.FindStringIndex(t)
	if loc == nil {
		return t
	}
	return t[:loc[1]] + suffix + t[loc[1]:]
}

func episodeRange(fileNames []string) (min, max int, found bool) {
	for _, name := range fileNames {
		m := episodeNumberPattern.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		var n int
		if _, err := fmt.Sscanf(m[1], "%d", &n); err != nil {
			continue
		}
		if !found {
			min, max, found = n, n, true
			continue
		}
		if n < min {
			min = n
		}
		if n > max {
			max = n
		}
	}
	return min, max, found
}
