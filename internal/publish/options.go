package publish

import (
	"regexp"
	"strconv"
)

// webDLPattern detects a web-dl release for the PNG-vs-JPG screenshot
// format choice of spec §4.5 step 3.
var webDLPattern = regexp.MustCompile(`(?i)\b(web-dl|webdl)\b`)

// IsWebDL reports whether title names a web-dl release.
func IsWebDL(title string) bool {
	return webDLPattern.MatchString(title)
}

// ScreenshotExtension returns the image format spec §4.5 step 3 requires:
// PNG for non-web-dl titles, JPG for web-dl ones.
func ScreenshotExtension(title string) string {
	if IsWebDL(title) {
		return "jpg"
	}
	return "png"
}

// chineseSubtitleOptionKey is the target-site option forced on whenever the
// hardcode-subtitle detector reports burned-in Chinese subtitles (spec §4.5
// step 6).
const chineseSubtitleOptionKey = "chinese_subtitle"

// BuildOptions derives the target-site's sparse option dictionary from
// parsed mediainfo JSON and the release's resolved region, forcing the
// Chinese-subtitle flag when hardcodeSubtitle is set (spec §9 "a sparse
// configuration struct ... unknown keys are rejected at the boundary" —
// this function only ever emits the closed set of keys named below, never
// a pass-through of arbitrary mediainfo fields).
func BuildOptions(mediainfoJSON map[string]any, countryCode string, hardcodeSubtitle bool) map[string]string {
	opts := map[string]string{
		"source": strconv.Itoa(RegionSource(countryCode)),
	}

	if track := primaryVideoTrack(mediainfoJSON); track != nil {
		if codec, ok := track["Format"].(string); ok && codec != "" {
			opts["video_codec"] = codec
		}
		if res, ok := track["Height"].(string); ok && res != "" {
			opts["resolution"] = res
		}
	}

	if hardcodeSubtitle {
		opts[chineseSubtitleOptionKey] = "1"
	}

	return opts
}

// primaryVideoTrack digs mediainfo's conventional {"media":{"track":[...]}}
// shape for the first entry whose @type is "Video".
func primaryVideoTrack(mediainfoJSON map[string]any) map[string]any {
	media, ok := mediainfoJSON["media"].(map[string]any)
	if !ok {
		return nil
	}
	tracks, ok := media["track"].([]any)
	if !ok {
		return nil
	}
	for _, t := range tracks {
		track, ok := t.(map[string]any)
		if !ok {
			continue
		}
		if kind, _ := track["@type"].(string); kind == "Video" {
			return track
		}
	}
	return nil
}
