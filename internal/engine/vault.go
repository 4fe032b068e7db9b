package engine

import (
	"context"
	"encoding/json"

	"github.com/billwise/billwise/backend/internal/bills"
)

// advicePayload is the plaintext form of a sealed vault record.
type advicePayload struct {
	Title              string  `json:"title"`
	MonthlySavings     float64 `json:"monthly_savings"`
	ProviderName       string  `json:"provider_name,omitempty"`
	ProviderURL        string  `json:"provider_url,omitempty"`
	OutreachSubject    string  `json:"outreach_subject,omitempty"`
	OutreachBody       string  `json:"outreach_body,omitempty"`
	TargetBudgetBucket string  `json:"target_budget_bucket,omitempty"`
}

// matchVault resolves focus bills against the encrypted advice store: one
// batch fetch per category, then decrypt-and-validate per record. Records
// that fail authentication or carry no positive saving are dropped and
// logged; they never abort the tier.
func (e *Engine) matchVault(ctx context.Context, focus []bills.RecurringBill) []Recommendation {
	labels := make(map[string]string, len(focus))
	for _, b := range focus {
		labels[b.MerchantKey] = b.MerchantLabel
	}

	var recs []Recommendation
	for category, keys := range bills.KeysByCategory(focus) {
		records, err := e.knowledge.BatchAdvice(ctx, category, keys)
		if err != nil {
			e.log.Warn().Err(err).Str("category", string(category)).
				Msg("vault batch fetch failed, tier degraded")
			continue
		}

		for _, record := range records {
			plaintext, err := e.sealer.Open(record.EncryptedPayload, string(record.Category), record.MerchantKey)
			if err != nil {
				e.log.Warn().Err(err).
					Str("category", string(record.Category)).
					Str("merchant_key", record.MerchantKey).
					Msg("vault record failed authentication, discarded")
				continue
			}

			var payload advicePayload
			if err := json.Unmarshal(plaintext, &payload); err != nil {
				e.log.Warn().Err(err).Str("merchant_key", record.MerchantKey).
					Msg("vault payload malformed, discarded")
				continue
			}
			if payload.Title == "" || payload.MonthlySavings <= 0 {
				continue
			}

			recs = append(recs, Recommendation{
				Title:              payload.Title,
				Category:           record.Category,
				Merchant:           labels[record.MerchantKey],
				MerchantKey:        record.MerchantKey,
				MonthlySavings:     payload.MonthlySavings,
				ProviderName:       payload.ProviderName,
				ProviderURL:        payload.ProviderURL,
				OutreachSubject:    payload.OutreachSubject,
				OutreachBody:       payload.OutreachBody,
				TargetBudgetBucket: payload.TargetBudgetBucket,
				Source:             SourceVault,
			})
		}
	}
	return recs
}
