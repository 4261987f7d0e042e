package ivr

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"meramandi/internal/market"
)

// Location is a state and its districts as reported by the price source.
type Location struct {
	State     string
	Districts []string
}

// Locations is the table spoken state and district names are matched against.
var Locations = []Location{
	{State: "Haryana", Districts: []string{
		"Ambala", "Bhiwani", "Charkhi Dadri", "Faridabad", "Fatehabad", "Gurgaon", "Hisar", "Jhajjar",
		"Jind", "Kaithal", "Karnal", "Kurukshetra", "Mahendragarh", "Nuh", "Palwal", "Panchkula",
		"Panipat", "Rewari", "Rohtak", "Sirsa", "Sonipat", "Yamuna Nagar",
	}},
	{State: "Punjab", Districts: []string{
		"Amritsar", "Barnala", "Bathinda", "Faridkot", "Fatehgarh Sahib", "Fazilka", "Firozpur", "Gurdaspur",
		"Hoshiarpur", "Jalandhar", "Kapurthala", "Ludhiana", "Mansa", "Moga", "Muktsar", "Pathankot",
		"Patiala", "Rupnagar", "Sangrur", "Tarn Taran",
	}},
	{State: "Uttar Pradesh", Districts: []string{
		"Agra", "Aligarh", "Bareilly", "Etawah", "Ghaziabad", "Gorakhpur", "Jhansi", "Kanpur",
		"Lucknow", "Mathura", "Meerut", "Moradabad", "Muzaffarnagar", "Prayagraj", "Saharanpur", "Varanasi",
	}},
	{State: "Rajasthan", Districts: []string{
		"Ajmer", "Alwar", "Bikaner", "Bharatpur", "Ganganagar", "Hanumangarh", "Jaipur", "Jodhpur",
		"Kota", "Nagaur", "Sikar", "Udaipur",
	}},
	{State: "Madhya Pradesh", Districts: []string{
		"Bhopal", "Dewas", "Gwalior", "Indore", "Jabalpur", "Mandsaur", "Neemuch", "Ratlam",
		"Sagar", "Ujjain", "Vidisha",
	}},
	{State: "Maharashtra", Districts: []string{
		"Ahmednagar", "Akola", "Amravati", "Aurangabad", "Jalgaon", "Kolhapur", "Latur", "Nagpur",
		"Nashik", "Pune", "Sangli", "Solapur",
	}},
	{State: "Gujarat", Districts: []string{
		"Ahmedabad", "Amreli", "Banaskantha", "Bhavnagar", "Junagadh", "Mehsana", "Rajkot", "Surat",
		"Vadodara",
	}},
	{State: "Bihar", Districts: []string{
		"Bhagalpur", "Darbhanga", "Gaya", "Muzaffarpur", "Patna", "Purnia", "Samastipur",
	}},
	{State: "Karnataka", Districts: []string{
		"Bangalore", "Belgaum", "Bellary", "Davangere", "Dharwad", "Gulbarga", "Mysore", "Raichur",
		"Shimoga",
	}},
	{State: "Tamil Nadu", Districts: []string{
		"Coimbatore", "Dindigul", "Erode", "Madurai", "Salem", "Thanjavur", "Tiruchirappalli", "Vellore",
	}},
	{State: "West Bengal", Districts: []string{
		"Bardhaman", "Hooghly", "Jalpaiguri", "Malda", "Murshidabad", "Nadia", "Paschim Medinipur",
	}},
}

// titleCase builds a fresh caser per call; a Caser must not be shared
// between goroutines.
func titleCase(s string) string {
	return cases.Title(language.English).String(strings.TrimSuffix(strings.TrimSpace(s), "."))
}

// MatchState resolves a spoken state name: exact match first, then containment
// in either direction.
func MatchState(spoken string) (string, bool) {
	names := make([]string, len(Locations))
	for i, l := range Locations {
		names[i] = l.State
	}
	return matchName(names, spoken)
}

// MatchDistrict resolves a spoken district within state.
func MatchDistrict(state, spoken string) (string, bool) {
	for _, l := range Locations {
		if strings.EqualFold(l.State, state) {
			return matchName(l.Districts, spoken)
		}
	}
	return "", false
}

func matchName(names []string, spoken string) (string, bool) {
	s := strings.ToLower(strings.TrimSpace(spoken))
	s = strings.TrimSuffix(s, ".")
	if s == "" {
		return "", false
	}
	for _, n := range names {
		if strings.ToLower(n) == s {
			return n, true
		}
	}
	for _, n := range names {
		ln := strings.ToLower(n)
		if strings.Contains(ln, s) || strings.Contains(s, ln) {
			return n, true
		}
	}
	return "", false
}

var cropKeywords = []struct {
	keyword string
	crop    string
}{
	{"all", market.AllCommodities},
	{"wheat", "Wheat"},
	{"cotton", "Cotton"},
	{"rice", "Rice"},
	{"paddy", "Paddy"},
	{"mustard", "Mustard"},
}

// MatchCrop maps spoken crop names onto commodities. Silence means all crops;
// unknown words are title-cased and used as given.
func MatchCrop(spoken string) string {
	s := strings.ToLower(strings.TrimSpace(spoken))
	if s == "" {
		return market.AllCommodities
	}
	for _, k := range cropKeywords {
		if strings.Contains(s, k.keyword) {
			return k.crop
		}
	}
	return titleCase(spoken)
}

// CleanName title-cases a spoken name.
func CleanName(spoken string) string {
	return titleCase(spoken)
}
