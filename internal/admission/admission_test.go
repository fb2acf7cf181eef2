package admission

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatches_EmptyIncludesMatchesAll(t *testing.T) {
	assert.True(t, matches("Anything.Goes.1080p", nil, nil))
}

func TestMatches_ExcludeWinsOverInclude(t *testing.T) {
	title := "Show.Name.S01E01.1080p.WEB-DL.CC"
	assert.False(t, matches(title, []string{`S\d+E\d+`}, []string{`CC`}))
}

func TestMatches_IncludesAreADisjunction(t *testing.T) {
	title := "Show.Name.S01E01.1080p.WEB-DL"
	// Neither include pattern matches every title the other does, so a
	// conjunction would reject this title entirely; the set is a
	// disjunction, so matching either pattern is enough (spec §4.2).
	assert.True(t, matches(title, []string{`1080p`, `2160p`}, nil))
	assert.True(t, matches(title, []string{`S\d+E\d+`, `2160p`}, nil))
	assert.False(t, matches(title, []string{`2160p`, `4320p`}, nil))
}

func TestMatches_InvalidPatternNeverMatches(t *testing.T) {
	assert.False(t, matches("anything", []string{"("}, nil))
}

// The budget-claim math of spec §4.3 S3 (rest=10GiB, pending sizes
// {12,3,8,2}GiB -> claims {3,2}GiB, rest after=5GiB) is exercised inside
// claimOne's serializable transaction against live rss_item rows and has no
// unit test here, since claimOne takes no DB seam to substitute in this
// package.
