// Package store persists the engine's long-lived knowledge (benchmarks, deal
// patterns, sealed vault advice) and its short-lived response cache. Both a
// Firestore-backed and an in-memory implementation are provided; the memory
// store doubles as the test double.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/billwise/billwise/backend/internal/bills"
)

// ErrNotFound is returned by cache reads that miss.
var ErrNotFound = errors.New("store: not found")

// RecurringBenchmark is the rolling community-average monthly price for a
// (category, merchant key) pair. Only the write-back mutates it.
type RecurringBenchmark struct {
	Category        bills.Category `json:"category"`
	MerchantKey     string         `json:"merchant_key"`
	AvgMonthlyPrice float64        `json:"avg_monthly_price"`
	SampleCount     int64          `json:"sample_count"`
	Source          string         `json:"source"`
	LastUpdated     time.Time      `json:"last_updated"`
}

// DealPattern is a learned fractional discount for a (category, merchant key)
// pair. SavingPct is in (0,1).
type DealPattern struct {
	Category    bills.Category `json:"category"`
	MerchantKey string         `json:"merchant_key"`
	SavingPct   float64        `json:"saving_pct"`
	Source      string         `json:"source"`
	LastUpdated time.Time      `json:"last_updated"`
}

// VaultAdviceRecord carries a sealed advice payload for a (category,
// merchant key) pair. The payload only opens under the matching pair.
type VaultAdviceRecord struct {
	Category         bills.Category `json:"category"`
	MerchantKey      string         `json:"merchant_key"`
	EncryptedPayload []byte         `json:"encrypted_payload"`
	SuccessCount     int64          `json:"success_count"`
	LastSeen         time.Time      `json:"last_seen_at"`
}

// Knowledge is the read/write surface of the three long-lived stores. Batch
// reads take every merchant key for one category in a single call so a
// request issues one fan-out per store, not one per merchant. All writes are
// idempotent upserts by (category, merchant key).
type Knowledge interface {
	BatchBenchmarks(ctx context.Context, category bills.Category, merchantKeys []string) ([]RecurringBenchmark, error)
	BatchPatterns(ctx context.Context, category bills.Category, merchantKeys []string) ([]DealPattern, error)
	BatchAdvice(ctx context.Context, category bills.Category, merchantKeys []string) ([]VaultAdviceRecord, error)

	// UpsertBenchmarkSample folds one observed monthly price into the
	// rolling average. Implementations must make the count/total update
	// atomic on the server side, not read-modify-write.
	UpsertBenchmarkSample(ctx context.Context, category bills.Category, merchantKey string, observed float64, source string) error
	UpsertPattern(ctx context.Context, pattern DealPattern) error
	UpsertAdvice(ctx context.Context, record VaultAdviceRecord) error
}

// Cache is the short-TTL response cache plus the idempotency-key store for
// fire-and-forget side effects.
type Cache interface {
	// GetPayload returns the cached payload for a fingerprint, or
	// ErrNotFound on a miss or expired entry.
	GetPayload(ctx context.Context, fingerprint string) ([]byte, error)

	// SetPayload stores a payload under a fingerprint with a TTL.
	SetPayload(ctx context.Context, fingerprint string, payload []byte, ttl time.Duration) error

	// SetIfAbsent claims an idempotency key. It returns true when this
	// caller created the key, false when it already existed.
	SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// DocID is the document id for a (category, merchant key) pair. Both
// backends key the three knowledge collections the same way.
func DocID(category bills.Category, merchantKey string) string {
	return string(category) + ":" + merchantKey
}
