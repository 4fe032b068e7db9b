package engine

import (
	"context"
	"fmt"
	"math"

	"github.com/billwise/billwise/backend/internal/bills"
)

// matchLibrary derives recommendations from the statistical stores without
// any external call: a benchmark check (bill priced well above the community
// average) and a deal-pattern check (known fractional discount). Emissions
// are deduplicated within the tier so one merchant cannot double-count.
func (e *Engine) matchLibrary(ctx context.Context, focus []bills.RecurringBill) []Recommendation {
	byKey := make(map[string]bills.RecurringBill, len(focus))
	for _, b := range focus {
		byKey[b.MerchantKey] = b
	}

	seen := make(map[string]bool)
	var recs []Recommendation

	emit := func(check string, rec Recommendation) {
		dedupe := fmt.Sprintf("%s:%s:%s", check, rec.Category, rec.MerchantKey)
		if seen[dedupe] {
			return
		}
		seen[dedupe] = true
		recs = append(recs, rec)
	}

	for category, keys := range bills.KeysByCategory(focus) {
		benchmarks, err := e.knowledge.BatchBenchmarks(ctx, category, keys)
		if err != nil {
			e.log.Warn().Err(err).Str("category", string(category)).
				Msg("benchmark batch fetch failed, check skipped")
		} else {
			for _, bm := range benchmarks {
				bill, ok := byKey[bm.MerchantKey]
				if !ok || bm.AvgMonthlyPrice <= 0 {
					continue
				}
				if bill.MonthlyEstimate <= bm.AvgMonthlyPrice*(1+e.cfg.BenchmarkMargin) {
					continue
				}
				savings := bill.MonthlyEstimate - bm.AvgMonthlyPrice
				if savings <= 0 {
					continue
				}
				emit("benchmark", Recommendation{
					Title:          fmt.Sprintf("You pay above the going rate for %s", bill.MerchantLabel),
					Category:       category,
					Merchant:       bill.MerchantLabel,
					MerchantKey:    bill.MerchantKey,
					MonthlySavings: math.Round(savings),
					Source:         SourceLibrary,
				})
			}
		}

		patterns, err := e.knowledge.BatchPatterns(ctx, category, keys)
		if err != nil {
			e.log.Warn().Err(err).Str("category", string(category)).
				Msg("pattern batch fetch failed, check skipped")
			continue
		}
		for _, p := range patterns {
			bill, ok := byKey[p.MerchantKey]
			if !ok || p.SavingPct <= 0 || p.SavingPct >= 1 {
				continue
			}
			savings := bill.MonthlyEstimate * p.SavingPct
			if savings <= 0 {
				continue
			}
			emit("pattern", Recommendation{
				Title:          fmt.Sprintf("A better deal is usually available for %s", bill.MerchantLabel),
				Category:       category,
				Merchant:       bill.MerchantLabel,
				MerchantKey:    bill.MerchantKey,
				MonthlySavings: math.Round(savings*100) / 100,
				Source:         SourceLibrary,
			})
		}
	}
	return recs
}
