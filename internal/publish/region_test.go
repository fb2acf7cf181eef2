package publish

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegionSource(t *testing.T) {
	cases := map[string]int{
		"CN": 1,
		"HK": 2,
		"TW": 3,
		"US": 4,
		"BE": 4,
		"FR": 4,
		"JP": 5,
		"KR": 6,
		"IN": 7,
		"RU": 8,
		"DE": 99,
		"":   99,
	}
	for code, want := range cases {
		assert.Equal(t, want, RegionSource(code), "country code %q", code)
	}
}
