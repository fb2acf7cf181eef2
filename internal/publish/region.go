package publish

// unknownRegionSource is returned for any country code outside the mapping
// spec §8 P7 defines (Open Question resolved from original_source/: unknown
// codes default to 99 rather than erroring).
const unknownRegionSource = 99

var regionSourceByCountry = map[string]int{
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
}

// RegionSource maps a release's detected origin country code to the
// target-site's source-selector value (spec §8 P7, §3 "Supplemented
// Features" region→tracker-option mapping).
func RegionSource(countryCode string) int {
	if v, ok := regionSourceByCountry[countryCode]; ok {
		return v
	}
	return unknownRegionSource
}
