package store

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/billwise/billwise/backend/internal/bills"
)

const (
	benchmarksCollection  = "recurring_benchmarks"
	patternsCollection    = "deal_patterns"
	adviceCollection      = "vault_advice"
	cacheCollection       = "response_cache"
	idempotencyCollection = "idempotency_keys"

	// Firestore caps "in" filters; batch lookups chunk to this size.
	inQueryLimit = 10
)

// FirestoreStore implements Knowledge and Cache on Firestore.
type FirestoreStore struct {
	client *firestore.Client
}

// NewFirestoreStore creates a Firestore-backed store.
func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client}
}

type benchmarkDoc struct {
	Category    string    `firestore:"category"`
	MerchantKey string    `firestore:"merchant_key"`
	SampleCount int64     `firestore:"sample_count"`
	SampleTotal float64   `firestore:"sample_total"`
	Source      string    `firestore:"source"`
	LastUpdated time.Time `firestore:"last_updated"`
}

type patternDoc struct {
	Category    string    `firestore:"category"`
	MerchantKey string    `firestore:"merchant_key"`
	SavingPct   float64   `firestore:"saving_pct"`
	Source      string    `firestore:"source"`
	LastUpdated time.Time `firestore:"last_updated"`
}

type adviceDoc struct {
	Category         string    `firestore:"category"`
	MerchantKey      string    `firestore:"merchant_key"`
	EncryptedPayload []byte    `firestore:"encrypted_payload"`
	SuccessCount     int64     `firestore:"success_count"`
	LastSeen         time.Time `firestore:"last_seen_at"`
}

type cacheDoc struct {
	Payload   []byte    `firestore:"payload"`
	ExpiresAt time.Time `firestore:"expires_at"`
}

// chunkKeys splits merchant keys into slices small enough for an "in" query.
func chunkKeys(keys []string) [][]string {
	var chunks [][]string
	for len(keys) > inQueryLimit {
		chunks = append(chunks, keys[:inQueryLimit])
		keys = keys[inQueryLimit:]
	}
	if len(keys) > 0 {
		chunks = append(chunks, keys)
	}
	return chunks
}

// queryByKeys runs one category-scoped "in" query per chunk and hands each
// document to collect.
func (s *FirestoreStore) queryByKeys(ctx context.Context, collection string, category bills.Category, merchantKeys []string, collect func(*firestore.DocumentSnapshot) error) error {
	for _, chunk := range chunkKeys(merchantKeys) {
		iter := s.client.Collection(collection).
			Where("category", "==", string(category)).
			Where("merchant_key", "in", chunk).
			Documents(ctx)
		for {
			doc, err := iter.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				iter.Stop()
				return fmt.Errorf("query %s: %w", collection, err)
			}
			if err := collect(doc); err != nil {
				iter.Stop()
				return err
			}
		}
		iter.Stop()
	}
	return nil
}

func (s *FirestoreStore) BatchBenchmarks(ctx context.Context, category bills.Category, merchantKeys []string) ([]RecurringBenchmark, error) {
	var out []RecurringBenchmark
	err := s.queryByKeys(ctx, benchmarksCollection, category, merchantKeys, func(doc *firestore.DocumentSnapshot) error {
		var d benchmarkDoc
		if err := doc.DataTo(&d); err != nil {
			return fmt.Errorf("parse benchmark %s: %w", doc.Ref.ID, err)
		}
		if d.SampleCount <= 0 {
			return nil
		}
		out = append(out, RecurringBenchmark{
			Category:        bills.Category(d.Category),
			MerchantKey:     d.MerchantKey,
			AvgMonthlyPrice: d.SampleTotal / float64(d.SampleCount),
			SampleCount:     d.SampleCount,
			Source:          d.Source,
			LastUpdated:     d.LastUpdated,
		})
		return nil
	})
	return out, err
}

func (s *FirestoreStore) BatchPatterns(ctx context.Context, category bills.Category, merchantKeys []string) ([]DealPattern, error) {
	var out []DealPattern
	err := s.queryByKeys(ctx, patternsCollection, category, merchantKeys, func(doc *firestore.DocumentSnapshot) error {
		var d patternDoc
		if err := doc.DataTo(&d); err != nil {
			return fmt.Errorf("parse pattern %s: %w", doc.Ref.ID, err)
		}
		out = append(out, DealPattern{
			Category:    bills.Category(d.Category),
			MerchantKey: d.MerchantKey,
			SavingPct:   d.SavingPct,
			Source:      d.Source,
			LastUpdated: d.LastUpdated,
		})
		return nil
	})
	return out, err
}

func (s *FirestoreStore) BatchAdvice(ctx context.Context, category bills.Category, merchantKeys []string) ([]VaultAdviceRecord, error) {
	var out []VaultAdviceRecord
	err := s.queryByKeys(ctx, adviceCollection, category, merchantKeys, func(doc *firestore.DocumentSnapshot) error {
		var d adviceDoc
		if err := doc.DataTo(&d); err != nil {
			return fmt.Errorf("parse advice %s: %w", doc.Ref.ID, err)
		}
		out = append(out, VaultAdviceRecord{
			Category:         bills.Category(d.Category),
			MerchantKey:      d.MerchantKey,
			EncryptedPayload: d.EncryptedPayload,
			SuccessCount:     d.SuccessCount,
			LastSeen:         d.LastSeen,
		})
		return nil
	})
	return out, err
}

// UpsertBenchmarkSample folds one observation into the rolling average using
// server-side increments, so concurrent writers converge without a
// read-modify-write.
func (s *FirestoreStore) UpsertBenchmarkSample(ctx context.Context, category bills.Category, merchantKey string, observed float64, source string) error {
	ref := s.client.Collection(benchmarksCollection).Doc(DocID(category, merchantKey))
	_, err := ref.Set(ctx, map[string]interface{}{
		"category":     string(category),
		"merchant_key": merchantKey,
		"sample_count": firestore.Increment(1),
		"sample_total": firestore.Increment(observed),
		"source":       source,
		"last_updated": firestore.ServerTimestamp,
	}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("upsert benchmark sample: %w", err)
	}
	return nil
}

func (s *FirestoreStore) UpsertPattern(ctx context.Context, pattern DealPattern) error {
	ref := s.client.Collection(patternsCollection).Doc(DocID(pattern.Category, pattern.MerchantKey))
	_, err := ref.Set(ctx, map[string]interface{}{
		"category":     string(pattern.Category),
		"merchant_key": pattern.MerchantKey,
		"saving_pct":   pattern.SavingPct,
		"source":       pattern.Source,
		"last_updated": firestore.ServerTimestamp,
	}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("upsert deal pattern: %w", err)
	}
	return nil
}

func (s *FirestoreStore) UpsertAdvice(ctx context.Context, record VaultAdviceRecord) error {
	ref := s.client.Collection(adviceCollection).Doc(DocID(record.Category, record.MerchantKey))
	_, err := ref.Set(ctx, map[string]interface{}{
		"category":          string(record.Category),
		"merchant_key":      record.MerchantKey,
		"encrypted_payload": record.EncryptedPayload,
		"success_count":     firestore.Increment(1),
		"last_seen_at":      firestore.ServerTimestamp,
	}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("upsert vault advice: %w", err)
	}
	return nil
}

func (s *FirestoreStore) GetPayload(ctx context.Context, fingerprint string) ([]byte, error) {
	doc, err := s.client.Collection(cacheCollection).Doc(fingerprint).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get cached payload: %w", err)
	}
	var d cacheDoc
	if err := doc.DataTo(&d); err != nil {
		return nil, fmt.Errorf("parse cached payload: %w", err)
	}
	if time.Now().After(d.ExpiresAt) {
		return nil, ErrNotFound
	}
	return d.Payload, nil
}

func (s *FirestoreStore) SetPayload(ctx context.Context, fingerprint string, payload []byte, ttl time.Duration) error {
	_, err := s.client.Collection(cacheCollection).Doc(fingerprint).Set(ctx, cacheDoc{
		Payload:   payload,
		ExpiresAt: time.Now().Add(ttl),
	})
	if err != nil {
		return fmt.Errorf("set cached payload: %w", err)
	}
	return nil
}

func (s *FirestoreStore) SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ref := s.client.Collection(idempotencyCollection).Doc(key)
	_, err := ref.Create(ctx, map[string]interface{}{
		"expires_at": time.Now().Add(ttl),
	})
	if err == nil {
		return true, nil
	}
	if status.Code(err) != codes.AlreadyExists {
		return false, fmt.Errorf("claim idempotency key: %w", err)
	}

	// Key exists; reclaim it only if the previous claim has expired.
	doc, err := ref.Get(ctx)
	if err != nil {
		return false, fmt.Errorf("read idempotency key: %w", err)
	}
	var d struct {
		ExpiresAt time.Time `firestore:"expires_at"`
	}
	if err := doc.DataTo(&d); err != nil {
		return false, fmt.Errorf("parse idempotency key: %w", err)
	}
	if time.Now().Before(d.ExpiresAt) {
		return false, nil
	}
	if _, err := ref.Set(ctx, map[string]interface{}{
		"expires_at": time.Now().Add(ttl),
	}); err != nil {
		return false, fmt.Errorf("reclaim idempotency key: %w", err)
	}
	return true, nil
}
