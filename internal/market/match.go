package market

import "strings"

// Wildcard sentinels accepted by the matcher.
const (
	AllCommodities = "All Crops"
	AllMandis      = "All Mandis"
	All            = "All"
)

// Filter selects price records for a location and commodity.
type Filter struct {
	State     string `json:"state"`
	District  string `json:"district"`
	Commodity string `json:"commodity"`
	Mandi     string `json:"mandi"`
}

// Matcher filters price records. Commodity and mandi always honour their
// wildcards; state and district only do when LocationWildcards is set.
type Matcher struct {
	LocationWildcards bool
}

// Match returns the records selected by f, preserving input order.
func (m Matcher) Match(records []PriceRecord, f Filter) []PriceRecord {
	matches := make([]PriceRecord, 0)
	for _, r := range records {
		if m.matches(r, f) {
			matches = append(matches, r)
		}
	}
	return matches
}

func (m Matcher) matches(r PriceRecord, f Filter) bool {
	if !m.locationMatches(r.State, f.State) || !m.locationMatches(r.District, f.District) {
		return false
	}
	if !IsAllCommodities(f.Commodity) && !strings.EqualFold(r.Commodity, f.Commodity) {
		return false
	}
	if !IsAllMandis(f.Mandi) && !strings.EqualFold(r.Market, f.Mandi) {
		return false
	}
	return true
}

func (m Matcher) locationMatches(have, want string) bool {
	if m.LocationWildcards && IsAllLocation(want) {
		return true
	}
	if strings.TrimSpace(want) == "" {
		return false
	}
	return strings.EqualFold(have, want)
}

// IsAllLocation reports whether a state or district value would act as a
// wildcard under LocationWildcards. Empty counts.
func IsAllLocation(v string) bool {
	return strings.TrimSpace(v) == "" || strings.EqualFold(v, All)
}

// IsAllCommodities reports whether c is a commodity wildcard.
func IsAllCommodities(c string) bool {
	return strings.EqualFold(c, All) || strings.EqualFold(c, AllCommodities)
}

// IsAllMandis reports whether mandi is a market wildcard. Empty counts.
func IsAllMandis(mandi string) bool {
	return strings.TrimSpace(mandi) == "" || strings.EqualFold(mandi, All) || strings.EqualFold(mandi, AllMandis)
}

// CommodityLabel is the commodity name used in outgoing messages.
func CommodityLabel(c string) string {
	if IsAllCommodities(c) || strings.TrimSpace(c) == "" {
		return "Crops"
	}
	return c
}
