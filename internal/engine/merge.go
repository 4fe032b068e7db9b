package engine

import (
	"fmt"
	"sort"
	"strings"
)

// titlePrefixLen bounds the title portion of the dedupe key so small wording
// variations of the same advice still collapse.
const titlePrefixLen = 24

// tierRank orders sources for tie-breaking: previously-verified vault advice
// outranks statistical and reasoning output even when the latter reports a
// larger number.
var tierRank = map[string]int{
	SourceVault:   0,
	SourceLibrary: 1,
	SourceEngine:  2,
}

// Merge concatenates candidates in tier priority order, deduplicates by
// (category, merchant, title prefix) with the first occurrence winning,
// drops non-positive savings, and returns the top max by monthly savings.
func Merge(max int, tiers ...[]Recommendation) []Recommendation {
	seen := make(map[string]bool)
	var merged []Recommendation

	for _, tier := range tiers {
		for _, rec := range tier {
			if rec.MonthlySavings <= 0 {
				continue
			}
			if seen[dedupeKey(rec)] {
				continue
			}
			seen[dedupeKey(rec)] = true
			merged = append(merged, rec)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].MonthlySavings != merged[j].MonthlySavings {
			return merged[i].MonthlySavings > merged[j].MonthlySavings
		}
		return tierRank[merged[i].Source] < tierRank[merged[j].Source]
	})

	if max > 0 && len(merged) > max {
		merged = merged[:max]
	}
	return merged
}

// dedupeKey identifies one piece of advice across tiers.
func dedupeKey(rec Recommendation) string {
	merchant := rec.MerchantKey
	if merchant == "" {
		merchant = strings.ToLower(strings.TrimSpace(rec.Merchant))
	}
	title := strings.ToLower(strings.TrimSpace(rec.Title))
	if len(title) > titlePrefixLen {
		title = title[:titlePrefixLen]
	}
	return fmt.Sprintf("%s|%s|%s", rec.Category, merchant, title)
}
