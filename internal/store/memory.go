package store

import (
	"context"
	"sync"
	"time"

	"github.com/billwise/billwise/backend/internal/bills"
)

// MemoryStore implements Knowledge and Cache with in-memory maps, for local
// development and tests.
type MemoryStore struct {
	mu sync.RWMutex

	benchmarks map[string]RecurringBenchmark
	totals     map[string]float64 // running sample totals backing the averages
	patterns   map[string]DealPattern
	advice     map[string]VaultAdviceRecord

	cache map[string]cacheEntry
	keys  map[string]time.Time // idempotency key -> expiry

	now func() time.Time
}

type cacheEntry struct {
	payload   []byte
	expiresAt time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		benchmarks: make(map[string]RecurringBenchmark),
		totals:     make(map[string]float64),
		patterns:   make(map[string]DealPattern),
		advice:     make(map[string]VaultAdviceRecord),
		cache:      make(map[string]cacheEntry),
		keys:       make(map[string]time.Time),
		now:        time.Now,
	}
}

// SetClock overrides the store's clock, for TTL tests.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) BatchBenchmarks(ctx context.Context, category bills.Category, merchantKeys []string) ([]RecurringBenchmark, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []RecurringBenchmark
	for _, key := range merchantKeys {
		if b, ok := s.benchmarks[DocID(category, key)]; ok {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *MemoryStore) BatchPatterns(ctx context.Context, category bills.Category, merchantKeys []string) ([]DealPattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []DealPattern
	for _, key := range merchantKeys {
		if p, ok := s.patterns[DocID(category, key)]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *MemoryStore) BatchAdvice(ctx context.Context, category bills.Category, merchantKeys []string) ([]VaultAdviceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []VaultAdviceRecord
	for _, key := range merchantKeys {
		if r, ok := s.advice[DocID(category, key)]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *MemoryStore) UpsertBenchmarkSample(ctx context.Context, category bills.Category, merchantKey string, observed float64, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := DocID(category, merchantKey)
	b := s.benchmarks[id]
	s.totals[id] += observed
	b.Category = category
	b.MerchantKey = merchantKey
	b.SampleCount++
	b.AvgMonthlyPrice = s.totals[id] / float64(b.SampleCount)
	b.Source = source
	b.LastUpdated = s.now()
	s.benchmarks[id] = b
	return nil
}

func (s *MemoryStore) UpsertPattern(ctx context.Context, pattern DealPattern) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pattern.LastUpdated = s.now()
	s.patterns[DocID(pattern.Category, pattern.MerchantKey)] = pattern
	return nil
}

func (s *MemoryStore) UpsertAdvice(ctx context.Context, record VaultAdviceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := DocID(record.Category, record.MerchantKey)
	if existing, ok := s.advice[id]; ok {
		record.SuccessCount = existing.SuccessCount + 1
	} else if record.SuccessCount == 0 {
		record.SuccessCount = 1
	}
	record.LastSeen = s.now()
	s.advice[id] = record
	return nil
}

func (s *MemoryStore) GetPayload(ctx context.Context, fingerprint string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.cache[fingerprint]
	if !ok || s.now().After(entry.expiresAt) {
		return nil, ErrNotFound
	}
	return entry.payload, nil
}

func (s *MemoryStore) SetPayload(ctx context.Context, fingerprint string, payload []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[fingerprint] = cacheEntry{
		payload:   payload,
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

func (s *MemoryStore) SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if expiry, ok := s.keys[key]; ok && s.now().Before(expiry) {
		return false, nil
	}
	s.keys[key] = s.now().Add(ttl)
	return true, nil
}
