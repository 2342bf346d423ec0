package usecase

import (
	"regexp"
	"strings"
)

// knownMerchants maps a lowercase marker to the display name, checked in order
var knownMerchants = []struct {
	marker string
	name   string
}{
	{"walmart", "Walmart"},
	{"target", "Target"},
	{"kroger", "Kroger"},
	{"safeway", "Safeway"},
	{"costco", "Costco"},
	{"whole foods", "Whole Foods"},
	{"trader joe", "Trader Joe's"},
	{"aldi", "Aldi"},
	{"lidl", "Lidl"},
	{"loblaws", "Loblaws"},
	{"no frills", "No Frills"},
	{"sobeys", "Sobeys"},
	{"publix", "Publix"},
	{"wegmans", "Wegmans"},
	{"tesco", "Tesco"},
	{"sainsbury", "Sainsbury's"},
}

var storeNumberRegex = regexp.MustCompile(`(?i)\bSTORE\s*#?\s*(\d+)`)

// DetectMerchant finds a known merchant name or a store number in receipt text.
// Returns "" when nothing is recognized.
func DetectMerchant(text string) string {
	flat := " " + strings.Join(strings.Fields(strings.ToLower(text)), " ")
	for _, m := range knownMerchants {
		if strings.Contains(flat, " "+m.marker) {
			return m.name
		}
	}

	if m := storeNumberRegex.FindStringSubmatch(text); m != nil {
		return "Store #" + m[1]
	}
	return ""
}
