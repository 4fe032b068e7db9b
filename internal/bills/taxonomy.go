package bills

import "strings"

// Category is the fixed bill taxonomy.
type Category string

const (
	CategoryInsurance    Category = "insurance"
	CategoryPhone        Category = "phone"
	CategoryUtilities    Category = "utilities"
	CategoryInternet     Category = "internet"
	CategorySubscription Category = "subscription"
	CategoryOther        Category = "other"
)

// FocusCategories are the categories the paid resolution tiers actually
// price. Subscription and other bills are kept for display only.
var FocusCategories = []Category{
	CategoryInsurance,
	CategoryPhone,
	CategoryUtilities,
	CategoryInternet,
}

// IsFocus reports whether c is priced by the resolution tiers.
func (c Category) IsFocus() bool {
	for _, f := range FocusCategories {
		if c == f {
			return true
		}
	}
	return false
}

// categoryKeywords is checked in order; first match wins.
var categoryKeywords = []struct {
	category Category
	tokens   []string
}{
	{CategoryInsurance, []string{
		"insurance", "insure", "assurance", "nrma", "allianz", "aami",
		"geico", "budget direct", "medibank", "bupa", "hcf", "nib",
	}},
	{CategoryPhone, []string{
		"mobile", "phone", "telstra", "optus", "vodafone", "verizon",
		"t-mobile", "at&t", "boost", "amaysim", "cellular", "wireless",
	}},
	{CategoryUtilities, []string{
		"energy", "electric", "power", "gas", "water", "utility", "agl",
		"origin", "energyaustralia", "red energy", "council rates",
	}},
	{CategoryInternet, []string{
		"internet", "broadband", "nbn", "fibre", "fiber", "comcast",
		"xfinity", "spectrum", "tpg", "aussie broadband", "iinet",
	}},
	{CategorySubscription, []string{
		"netflix", "spotify", "disney", "hulu", "prime", "youtube",
		"apple.com", "subscription", "patreon", "audible", "stan",
		"binge", "paramount", "hbo", "crunchyroll", "playstation", "xbox",
	}},
}

// Classify assigns a category to a normalized merchant key via a first-match
// keyword lookup. Unmatched keys are CategoryOther.
func Classify(merchantKey string) Category {
	for _, entry := range categoryKeywords {
		for _, token := range entry.tokens {
			if strings.Contains(merchantKey, token) {
				return entry.category
			}
		}
	}
	return CategoryOther
}
