package engine

import (
	"context"
	"encoding/json"

	"github.com/billwise/billwise/backend/internal/bills"
	"github.com/billwise/billwise/backend/internal/reasoning"
	"github.com/billwise/billwise/backend/internal/store"
)

// writeBack promotes a live reasoning result into the long-lived knowledge
// stores. It runs only when the consensus gate is open (approvals at or
// above the configured threshold) and every write is best-effort: failures
// are logged, never propagated.
func (e *Engine) writeBack(ctx context.Context, allBills []bills.RecurringBill, recs []Recommendation, verification reasoning.Verification) {
	if verification.Approvals < e.cfg.ConsensusApprovals {
		e.log.Debug().
			Int("approvals", verification.Approvals).
			Int("required", e.cfg.ConsensusApprovals).
			Msg("consensus below threshold, knowledge write-back skipped")
		return
	}

	byKey := make(map[string]bills.RecurringBill, len(allBills))
	for _, b := range allBills {
		if b.MonthlyEstimate <= 0 {
			continue
		}
		byKey[b.MerchantKey] = b

		if err := e.knowledge.UpsertBenchmarkSample(ctx, b.Category, b.MerchantKey, b.MonthlyEstimate, SourceEngine); err != nil {
			e.log.Warn().Err(err).Str("merchant_key", b.MerchantKey).
				Msg("benchmark write-back failed")
		}
	}

	for _, rec := range recs {
		if rec.Source != SourceEngine || rec.MerchantKey == "" {
			continue
		}
		bill, ok := byKey[rec.MerchantKey]
		if !ok {
			continue
		}

		pct := rec.MonthlySavings / bill.MonthlyEstimate
		if pct > 0 && pct < 1 {
			err := e.knowledge.UpsertPattern(ctx, store.DealPattern{
				Category:    rec.Category,
				MerchantKey: rec.MerchantKey,
				SavingPct:   pct,
				Source:      SourceEngine,
			})
			if err != nil {
				e.log.Warn().Err(err).Str("merchant_key", rec.MerchantKey).
					Msg("deal pattern write-back failed")
			}
		}

		e.sealAndStore(ctx, rec)
	}
}

// sealAndStore encrypts one reasoning recommendation and upserts it as vault
// advice for future fast-path hits.
func (e *Engine) sealAndStore(ctx context.Context, rec Recommendation) {
	payload, err := json.Marshal(advicePayload{
		Title:              rec.Title,
		MonthlySavings:     rec.MonthlySavings,
		ProviderName:       rec.ProviderName,
		ProviderURL:        rec.ProviderURL,
		OutreachSubject:    rec.OutreachSubject,
		OutreachBody:       rec.OutreachBody,
		TargetBudgetBucket: rec.TargetBudgetBucket,
	})
	if err != nil {
		e.log.Warn().Err(err).Str("merchant_key", rec.MerchantKey).
			Msg("advice payload marshal failed")
		return
	}

	sealed, err := e.sealer.Seal(payload, string(rec.Category), rec.MerchantKey)
	if err != nil {
		e.log.Warn().Err(err).Str("merchant_key", rec.MerchantKey).
			Msg("advice payload seal failed")
		return
	}

	err = e.knowledge.UpsertAdvice(ctx, store.VaultAdviceRecord{
		Category:         rec.Category,
		MerchantKey:      rec.MerchantKey,
		EncryptedPayload: sealed,
	})
	if err != nil {
		e.log.Warn().Err(err).Str("merchant_key", rec.MerchantKey).
			Msg("vault advice write-back failed")
	}
}
