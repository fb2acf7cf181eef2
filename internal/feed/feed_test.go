package feed

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatches_EmptyIncludesMatchesAll(t *testing.T) {
	assert.True(t, matches("Anything.Goes.1080p", nil, nil))
}

func TestMatches_ExcludeWinsOverInclude(t *testing.T) {
	title := "Show.Name.S01E01.1080p.WEB-DL.CC"
	includes := []string{`S\d+E\d+`}
	excludes := []string{`CC`}
	assert.False(t, matches(title, includes, excludes))
}

func TestMatches_IncludesAreADisjunction(t *testing.T) {
	title := "Show.Name.S01E01.1080p.WEB-DL"
	// Neither pattern alone covers what the other does, so a conjunction
	// would reject this title; the set is a disjunction (spec §4.2), so
	// matching either pattern lets it through.
	assert.True(t, matches(title, []string{`1080p`, `2160p`}, nil))
	assert.True(t, matches(title, []string{`S\d+E\d+`, `2160p`}, nil))
	assert.False(t, matches(title, []string{`2160p`, `4320p`}, nil))
}

func TestMatches_InvalidPatternNeverMatches(t *testing.T) {
	assert.False(t, matches("anything", []string{"("}, nil))
}
