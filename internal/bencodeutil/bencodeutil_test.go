package bencodeutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rawTorrent is a minimal hand-bencoded single-file torrent carrying an
// announce URL, an announce-list, and no private flag (spec §8 S7 fixture).
const rawTorrent = "d" +
	"8:announce" + "18:http://example.com" +
	"13:announce-list" + "l" + "l" + "18:http://example.com" + "e" + "e" +
	"4:info" + "d" +
	"6:length" + "i1024e" +
	"4:name" + "4:test" +
	"12:piece length" + "i16384e" +
	"6:pieces" + "20:" + "AAAAAAAAAAAAAAAAAAAA" +
	"e" +
	"e"

func TestSanitize_StripsAnnounceAndForcesPrivate(t *testing.T) {
	sanitized, hash, err := Sanitize([]byte(rawTorrent))
	require.NoError(t, err)
	assert.Len(t, hash, 40, "info-hash-v1 is a 40-char hex SHA-1")
	assert.NotContains(t, string(sanitized), "announce", "top-level announce/announce-list keys must be gone")

	mi, err := Decode(sanitized)
	require.NoError(t, err)
	assert.Equal(t, hash, InfoHashV1(mi))

	info, err := mi.UnmarshalInfo()
	require.NoError(t, err)
	require.NotNil(t, info.Private, "info.private must be present after sanitize")
	assert.True(t, *info.Private, "info.private must be 1 after sanitize")
}

func TestSanitize_HashDiffersFromSource(t *testing.T) {
	mi, err := Decode([]byte(rawTorrent))
	require.NoError(t, err)
	sourceHash := InfoHashV1(mi)

	_, sanitizedHash, err := Sanitize([]byte(rawTorrent))
	require.NoError(t, err)

	assert.NotEqual(t, sourceHash, sanitizedHash, "sanitizing a non-private torrent with trackers must change the hash (spec P5)")
}

func TestSanitize_Idempotent(t *testing.T) {
	once, hashOnce, err := Sanitize([]byte(rawTorrent))
	require.NoError(t, err)

	twice, hashTwice, err := Sanitize(once)
	require.NoError(t, err)

	assert.Equal(t, hashOnce, hashTwice, "hash-v1(sanitize(sanitize(x))) = hash-v1(sanitize(x))")
	assert.False(t, strings.Contains(string(twice), "announce"))
}
