package publish

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRewriteTitle_AlreadyTaggedUnchanged(t *testing.T) {
	title := "Name.S02E11.1080p.WEB-DL.H264-GRP"
	got := RewriteTitle(title, true, []string{"Name.S02E11.mkv"}, 10)
	assert.Equal(t, title, got)
}

func TestRewriteTitle_InjectsEpisodeRange(t *testing.T) {
	title := "Name.S02.1080p.WEB-DL.H264-GRP"
	files := []string{
		"Name.S02E01.1080p.WEB-DL.H264-GRP.mkv",
		"Name.S02E02.1080p.WEB-DL.H264-GRP.mkv",
		"Name.S02E03.1080p.WEB-DL.H264-GRP.mkv",
		"Name.S02E04.1080p.WEB-DL.H264-GRP.mkv",
	}
	got := RewriteTitle(title, true, files, 10)
	assert.Equal(t, "Name.S02E01-E04.1080p.WEB-DL.H264-GRP", got)
}

func TestRewriteTitle_SingleEpisodeNoRange(t *testing.T) {
	title := "Name.S02.1080p.WEB-DL.H264-GRP"
	files := []string{"Name.S02E05.1080p.WEB-DL.H264-GRP.mkv"}
	got := RewriteTitle(title, true, files, 10)
	assert.Equal(t, "Name.S02E05.1080p.WEB-DL.H264-GRP", got)
}

func TestRewriteTitle_MovieUnchanged(t *testing.T) {
	title := "Some.Movie.2023.1080p.BluRay.x264-GRP"
	got := RewriteTitle(title, false, []string{"Some.Movie.2023.mkv"}, 1)
	assert.Equal(t, title, got)
}

func TestRewriteTitle_FileCountMeetsExpectationUnchanged(t *testing.T) {
	title := "Name.S02.1080p.WEB-DL.H264-GRP"
	files := []string{"a.mkv", "b.mkv", "c.mkv"}
	got := RewriteTitle(title, true, files, 3)
	assert.Equal(t, title, got)
}
