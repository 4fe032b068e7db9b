// Package bills detects recurring bills in a transaction window and
// classifies them into the fixed category taxonomy.
package bills

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/billwise/billwise/backend/internal/bank"
	"github.com/billwise/billwise/backend/internal/normalize"
)

// RecurringBill is one detected recurring merchant group, recomputed per
// request from the transaction window.
type RecurringBill struct {
	MerchantLabel   string    `json:"merchant_label"`
	MerchantKey     string    `json:"merchant_key"`
	Category        Category  `json:"category"`
	OccurrenceCount int       `json:"occurrence_count"`
	MonthlyEstimate float64   `json:"monthly_estimate"`
	LastSeen        time.Time `json:"last_seen_date"`
}

// minOccurrences is the floor below which a merchant group is noise, not a
// recurring bill.
const minOccurrences = 2

type group struct {
	label    string
	sum      decimal.Decimal
	count    int
	lastSeen time.Time
}

// Detect groups the window's transactions by normalized merchant key and
// returns recurring bills sorted by monthly estimate descending, capped to
// maxBills. Income-flagged (negative) amounts are excluded, as are
// transactions whose merchant normalizes to an empty key.
func Detect(txns []bank.Transaction, windowDays, maxBills int) []RecurringBill {
	if windowDays <= 0 {
		windowDays = 90
	}

	groups := make(map[string]*group)
	for _, tx := range txns {
		if tx.Amount <= 0 {
			continue
		}
		label := normalize.Normalize(tx.RawLabel, tx.Description)
		if label.Key == "" {
			continue
		}
		g, ok := groups[label.Key]
		if !ok {
			g = &group{label: label.Display}
			groups[label.Key] = g
		}
		g.sum = g.sum.Add(decimal.NewFromFloat(tx.Amount))
		g.count++
		if tx.Date.After(g.lastSeen) {
			g.lastSeen = tx.Date
		}
	}

	window := decimal.NewFromInt(int64(windowDays))
	month := decimal.NewFromInt(30)

	var result []RecurringBill
	for key, g := range groups {
		if g.count < minOccurrences || !g.sum.IsPositive() {
			continue
		}
		// sum / windowDays * 30, rounded to whole currency units.
		estimate := g.sum.Div(window).Mul(month).Round(0)
		if !estimate.IsPositive() {
			continue
		}
		result = append(result, RecurringBill{
			MerchantLabel:   g.label,
			MerchantKey:     key,
			Category:        Classify(key),
			OccurrenceCount: g.count,
			MonthlyEstimate: estimate.InexactFloat64(),
			LastSeen:        g.lastSeen,
		})
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].MonthlyEstimate != result[j].MonthlyEstimate {
			return result[i].MonthlyEstimate > result[j].MonthlyEstimate
		}
		return result[i].MerchantKey < result[j].MerchantKey
	})

	if maxBills > 0 && len(result) > maxBills {
		result = result[:maxBills]
	}
	return result
}

// Focus returns the subset of bills in categories the paid tiers price.
func Focus(all []RecurringBill) []RecurringBill {
	var focus []RecurringBill
	for _, b := range all {
		if b.Category.IsFocus() {
			focus = append(focus, b)
		}
	}
	return focus
}

// KeysByCategory collects the merchant keys of the focus bills grouped per
// category, for the matchers' one-batch-per-store lookups.
func KeysByCategory(focus []RecurringBill) map[Category][]string {
	byCategory := make(map[Category][]string)
	for _, b := range focus {
		byCategory[b.Category] = append(byCategory[b.Category], b.MerchantKey)
	}
	return byCategory
}
