package engine

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/billwise/billwise/backend/internal/bank"
	"github.com/billwise/billwise/backend/internal/bills"
	"github.com/billwise/billwise/backend/internal/config"
	"github.com/billwise/billwise/backend/internal/logging"
	"github.com/billwise/billwise/backend/internal/normalize"
	"github.com/billwise/billwise/backend/internal/notify"
	"github.com/billwise/billwise/backend/internal/reasoning"
	"github.com/billwise/billwise/backend/internal/store"
	"github.com/billwise/billwise/backend/internal/vault"
)

type fakeBank struct {
	items []string
	txns  []bank.Transaction
}

func (f *fakeBank) LinkedItems(ctx context.Context, userID string) ([]string, error) {
	return f.items, nil
}

func (f *fakeBank) ListTransactions(ctx context.Context, itemID string, window bank.Window, pageSize int32, pageToken string) ([]bank.Transaction, string, error) {
	return f.txns, "", nil
}

type fakeReasoning struct {
	calls int
	resp  *reasoning.Response
	err   error
}

func (f *fakeReasoning) Resolve(ctx context.Context, req reasoning.Request) (*reasoning.Response, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("generate key: %v", err)
	}
	cfg := config.FromEnv()
	cfg.ReasoningBaseURL = "http://reasoning.test"
	cfg.SigningSecret = "secret"
	cfg.AppID = "billwise-test"
	cfg.BankBaseURL = "http://bank.test"
	cfg.VaultKeyBase64 = base64.StdEncoding.EncodeToString(key)
	return cfg
}

// monthlyBill emits three monthly payments of amount so the detector sees a
// bill with monthly_estimate == amount over the 90-day window.
func monthlyBill(label string, amount float64) []bank.Transaction {
	base := time.Now().UTC().AddDate(0, 0, -80)
	var txns []bank.Transaction
	for i := 0; i < 3; i++ {
		txns = append(txns, bank.Transaction{
			Date:     base.AddDate(0, 0, i*30),
			RawLabel: label,
			Amount:   amount,
		})
	}
	return txns
}

func newTestEngine(t *testing.T, cfg config.Config, mem *store.MemoryStore, provider bank.Provider, client ReasoningClient) *Engine {
	t.Helper()
	e, err := New(cfg, mem, mem, provider, client, notify.NoopQueue{}, nil, logging.NewWithWriter(testWriter{t}))
	require.NoError(t, err)
	return e
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func seedAdvice(t *testing.T, cfg config.Config, mem *store.MemoryStore, category bills.Category, merchantKey, title string, savings float64) {
	t.Helper()
	sealer, err := vault.NewSealer(cfg.VaultKey())
	require.NoError(t, err)

	payload, err := json.Marshal(map[string]interface{}{
		"title":           title,
		"monthly_savings": savings,
	})
	require.NoError(t, err)

	sealed, err := sealer.Seal(payload, string(category), merchantKey)
	require.NoError(t, err)

	require.NoError(t, mem.UpsertAdvice(context.Background(), store.VaultAdviceRecord{
		Category:         category,
		MerchantKey:      merchantKey,
		EncryptedPayload: sealed,
	}))
}

func TestResolve_NoLinkedItems(t *testing.T) {
	cfg := testConfig(t)
	mem := store.NewMemoryStore()
	client := &fakeReasoning{}
	e := newTestEngine(t, cfg, mem, &fakeBank{}, client)

	_, err := e.Resolve(context.Background(), "user-1", ResolveRequest{})
	assert.ErrorIs(t, err, ErrNoLinkedItems)
	assert.Zero(t, client.calls, "paid tiers must not run without linked items")
}

func TestResolve_PolicyBlocksOversizedQuestion(t *testing.T) {
	cfg := testConfig(t)
	mem := store.NewMemoryStore()
	client := &fakeReasoning{}
	e := newTestEngine(t, cfg, mem, &fakeBank{items: []string{"item-1"}}, client)

	long := make([]byte, maxQuestionLen+1)
	for i := range long {
		long[i] = 'x'
	}
	_, err := e.Resolve(context.Background(), "user-1", ResolveRequest{Question: string(long)})
	assert.ErrorIs(t, err, ErrPolicyBlocked)
	assert.Zero(t, client.calls)
}

func TestResolve_VaultShortCircuitSkipsReasoning(t *testing.T) {
	cfg := testConfig(t)
	mem := store.NewMemoryStore()

	var txns []bank.Transaction
	for i := 0; i < 5; i++ {
		label := fmt.Sprintf("CARRIER%d MOBILE", i)
		key := fmt.Sprintf("carrier%d mobile", i)
		txns = append(txns, monthlyBill(label, 60)...)
		seedAdvice(t, cfg, mem, bills.CategoryPhone, key, fmt.Sprintf("Cheaper plan at carrier%d", i), 12)
	}

	client := &fakeReasoning{}
	e := newTestEngine(t, cfg, mem, &fakeBank{items: []string{"item-1"}, txns: txns}, client)

	resp, err := e.Resolve(context.Background(), "user-1", ResolveRequest{Disclaimer: "not financial advice"})
	require.NoError(t, err)
	e.Flush()

	assert.Zero(t, client.calls, "vault short-circuit must never invoke reasoning")
	assert.Equal(t, SourceVault, resp.Verification.Source)
	assert.True(t, resp.Verified)
	assert.Len(t, resp.Recommendations, 5)
	for _, rec := range resp.Recommendations {
		assert.Equal(t, SourceVault, rec.Source)
		assert.Positive(t, rec.MonthlySavings)
	}
}

func TestResolve_QuestionForcesReasoningDespiteVaultHits(t *testing.T) {
	cfg := testConfig(t)
	mem := store.NewMemoryStore()

	var txns []bank.Transaction
	for i := 0; i < 5; i++ {
		label := fmt.Sprintf("CARRIER%d MOBILE", i)
		key := fmt.Sprintf("carrier%d mobile", i)
		txns = append(txns, monthlyBill(label, 60)...)
		seedAdvice(t, cfg, mem, bills.CategoryPhone, key, fmt.Sprintf("Cheaper plan at carrier%d", i), 12)
	}

	client := &fakeReasoning{resp: &reasoning.Response{OK: true, Final: "{}"}}
	e := newTestEngine(t, cfg, mem, &fakeBank{items: []string{"item-1"}, txns: txns}, client)

	_, err := e.Resolve(context.Background(), "user-1", ResolveRequest{Question: "can I save on my phone?"})
	require.NoError(t, err)
	e.Flush()

	assert.Equal(t, 1, client.calls, "an explicit question always reaches the reasoning service")
}

func TestResolve_BenchmarkRecommendation(t *testing.T) {
	cfg := testConfig(t)
	mem := store.NewMemoryStore()

	// 180/month against a 140 community average: 180 > 140*1.15, savings 40.
	require.NoError(t, mem.UpsertBenchmarkSample(context.Background(), bills.CategoryInsurance, "acme insurance", 140, "engine"))

	client := &fakeReasoning{resp: &reasoning.Response{OK: true, Final: "{}"}}
	e := newTestEngine(t, cfg, mem, &fakeBank{items: []string{"item-1"}, txns: monthlyBill("ACME INSURANCE", 180)}, client)

	resp, err := e.Resolve(context.Background(), "user-1", ResolveRequest{})
	require.NoError(t, err)
	e.Flush()

	require.Len(t, resp.Recommendations, 1)
	rec := resp.Recommendations[0]
	assert.Equal(t, SourceLibrary, rec.Source)
	assert.Equal(t, float64(40), rec.MonthlySavings)
	assert.Equal(t, bills.CategoryInsurance, rec.Category)
}

func TestResolve_BenchmarkWithinMarginStaysQuiet(t *testing.T) {
	cfg := testConfig(t)
	mem := store.NewMemoryStore()

	// 150 vs 140: above average but inside the 15% margin.
	require.NoError(t, mem.UpsertBenchmarkSample(context.Background(), bills.CategoryInsurance, "acme insurance", 140, "engine"))

	client := &fakeReasoning{resp: &reasoning.Response{OK: true, Final: "{}"}}
	e := newTestEngine(t, cfg, mem, &fakeBank{items: []string{"item-1"}, txns: monthlyBill("ACME INSURANCE", 150)}, client)

	resp, err := e.Resolve(context.Background(), "user-1", ResolveRequest{})
	require.NoError(t, err)
	e.Flush()
	assert.Empty(t, resp.Recommendations)
}

func TestResolve_DealPatternRecommendation(t *testing.T) {
	cfg := testConfig(t)
	mem := store.NewMemoryStore()

	require.NoError(t, mem.UpsertPattern(context.Background(), store.DealPattern{
		Category:    bills.CategoryInsurance,
		MerchantKey: "acme insurance",
		SavingPct:   0.1,
		Source:      "engine",
	}))

	client := &fakeReasoning{resp: &reasoning.Response{OK: true, Final: "{}"}}
	e := newTestEngine(t, cfg, mem, &fakeBank{items: []string{"item-1"}, txns: monthlyBill("ACME INSURANCE", 180)}, client)

	resp, err := e.Resolve(context.Background(), "user-1", ResolveRequest{})
	require.NoError(t, err)
	e.Flush()

	require.Len(t, resp.Recommendations, 1)
	assert.Equal(t, float64(18), resp.Recommendations[0].MonthlySavings)
}

func TestResolve_DegradedReasoningSurfaces(t *testing.T) {
	cfg := testConfig(t)
	mem := store.NewMemoryStore()

	client := &fakeReasoning{err: fmt.Errorf("%w: upstream 503", reasoning.ErrDegraded)}
	e := newTestEngine(t, cfg, mem, &fakeBank{items: []string{"item-1"}, txns: monthlyBill("ACME INSURANCE", 180)}, client)

	_, err := e.Resolve(context.Background(), "user-1", ResolveRequest{})
	assert.True(t, errors.Is(err, reasoning.ErrDegraded), "degraded upstream must surface, got %v", err)
}

func TestResolve_UnusableReasoningOutputFallsBackToFastTiers(t *testing.T) {
	cfg := testConfig(t)
	mem := store.NewMemoryStore()

	// 180/month against a 140 community average: the library tier has a
	// 40/month recommendation before the reasoning call is even made.
	require.NoError(t, mem.UpsertBenchmarkSample(context.Background(), bills.CategoryInsurance, "acme insurance", 140, "engine"))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("definitely not json"))
	}))
	defer srv.Close()

	client := reasoning.NewClient(srv.URL, "secret", "billwise-test", 2*time.Second)
	e := newTestEngine(t, cfg, mem, &fakeBank{items: []string{"item-1"}, txns: monthlyBill("ACME INSURANCE", 180)}, client)

	resp, err := e.Resolve(context.Background(), "user-1", ResolveRequest{})
	require.NoError(t, err, "a garbage reasoning body must not fail the request")
	e.Flush()

	require.Len(t, resp.Recommendations, 1)
	assert.Equal(t, SourceLibrary, resp.Recommendations[0].Source)
	assert.Equal(t, float64(40), resp.Recommendations[0].MonthlySavings)
	assert.Equal(t, SourceLibrary, resp.Verification.Source)
}

func TestResolve_LibraryShortCircuitSkipsReasoning(t *testing.T) {
	cfg := testConfig(t)
	mem := store.NewMemoryStore()

	// Three vault hits plus two benchmark hits reach the short-circuit
	// threshold without a live call.
	var txns []bank.Transaction
	for i := 0; i < 3; i++ {
		label := fmt.Sprintf("CARRIER%d MOBILE", i)
		key := fmt.Sprintf("carrier%d mobile", i)
		txns = append(txns, monthlyBill(label, 60)...)
		seedAdvice(t, cfg, mem, bills.CategoryPhone, key, fmt.Sprintf("Cheaper plan at carrier%d", i), 12)
	}
	for _, name := range []string{"ACME INSURANCE", "ZENITH INSURANCE"} {
		txns = append(txns, monthlyBill(name, 180)...)
		key := normalize.Normalize(name, "").Key
		require.NoError(t, mem.UpsertBenchmarkSample(context.Background(), bills.CategoryInsurance, key, 140, "engine"))
	}

	client := &fakeReasoning{}
	e := newTestEngine(t, cfg, mem, &fakeBank{items: []string{"item-1"}, txns: txns}, client)

	resp, err := e.Resolve(context.Background(), "user-1", ResolveRequest{})
	require.NoError(t, err)
	e.Flush()

	assert.Zero(t, client.calls, "library short-circuit must never invoke reasoning")
	assert.Equal(t, SourceLibrary, resp.Verification.Source)
	assert.True(t, resp.Verified)
	assert.Len(t, resp.Recommendations, 5)
}

func TestResolve_QuestionAnswersAreNotCached(t *testing.T) {
	cfg := testConfig(t)
	mem := store.NewMemoryStore()

	client := &fakeReasoning{resp: &reasoning.Response{OK: true, Final: reasoningFinal("Acme Insurance", 25)}}
	e := newTestEngine(t, cfg, mem, &fakeBank{items: []string{"item-1"}, txns: monthlyBill("ACME INSURANCE", 180)}, client)

	_, err := e.Resolve(context.Background(), "user-1", ResolveRequest{Question: "can I save on insurance?"})
	require.NoError(t, err)
	e.Flush()

	resp, err := e.Resolve(context.Background(), "user-1", ResolveRequest{})
	require.NoError(t, err)
	e.Flush()

	assert.False(t, resp.Cached, "a question-tailored payload must not be replayed to a question-less request")
	assert.Equal(t, 2, client.calls)
}

func reasoningFinal(merchant string, savings float64) string {
	return fmt.Sprintf(`{"recommendations":[{"title":"Switch provider for %s","category":"insurance","merchant":%q,"monthly_savings":%v}],"summary":"One opportunity."}`, merchant, merchant, savings)
}

func TestResolve_WriteBackGatedByConsensus(t *testing.T) {
	ctx := context.Background()

	run := func(t *testing.T, approvals int) *store.MemoryStore {
		cfg := testConfig(t)
		mem := store.NewMemoryStore()
		client := &fakeReasoning{resp: &reasoning.Response{
			OK:           true,
			Final:        reasoningFinal("Acme Insurance", 36),
			Verified:     approvals >= cfg.ConsensusApprovals,
			Verification: reasoning.Verification{Approvals: approvals, OKReviews: 5},
		}}
		e := newTestEngine(t, cfg, mem, &fakeBank{items: []string{"item-1"}, txns: monthlyBill("ACME INSURANCE", 180)}, client)

		_, err := e.Resolve(ctx, "user-1", ResolveRequest{})
		require.NoError(t, err)
		e.Flush()
		return mem
	}

	t.Run("below threshold", func(t *testing.T) {
		mem := run(t, 3)
		benchmarks, err := mem.BatchBenchmarks(ctx, bills.CategoryInsurance, []string{"acme insurance"})
		require.NoError(t, err)
		assert.Empty(t, benchmarks, "approvals<4 must not touch benchmarks")

		patterns, err := mem.BatchPatterns(ctx, bills.CategoryInsurance, []string{"acme insurance"})
		require.NoError(t, err)
		assert.Empty(t, patterns, "approvals<4 must not touch patterns")

		advice, err := mem.BatchAdvice(ctx, bills.CategoryInsurance, []string{"acme insurance"})
		require.NoError(t, err)
		assert.Empty(t, advice, "approvals<4 must not touch the vault")
	})

	t.Run("at threshold", func(t *testing.T) {
		mem := run(t, 4)
		benchmarks, err := mem.BatchBenchmarks(ctx, bills.CategoryInsurance, []string{"acme insurance"})
		require.NoError(t, err)
		require.Len(t, benchmarks, 1)
		assert.Equal(t, float64(180), benchmarks[0].AvgMonthlyPrice)

		patterns, err := mem.BatchPatterns(ctx, bills.CategoryInsurance, []string{"acme insurance"})
		require.NoError(t, err)
		require.Len(t, patterns, 1)
		assert.InDelta(t, 0.2, patterns[0].SavingPct, 1e-9) // 36/180

		advice, err := mem.BatchAdvice(ctx, bills.CategoryInsurance, []string{"acme insurance"})
		require.NoError(t, err)
		require.Len(t, advice, 1)
	})
}

func TestResolve_PromotedAdviceServesNextRequestFromVault(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	mem := store.NewMemoryStore()

	client := &fakeReasoning{resp: &reasoning.Response{
		OK:           true,
		Final:        reasoningFinal("Acme Insurance", 36),
		Verified:     true,
		Verification: reasoning.Verification{Approvals: 5, OKReviews: 5},
	}}
	e := newTestEngine(t, cfg, mem, &fakeBank{items: []string{"item-1"}, txns: monthlyBill("ACME INSURANCE", 180)}, client)

	_, err := e.Resolve(ctx, "user-1", ResolveRequest{})
	require.NoError(t, err)
	e.Flush()

	// The promoted record must open under its own (category, merchant key)
	// and feed the vault tier directly.
	focus := []bills.RecurringBill{{
		MerchantLabel: "Acme Insurance", MerchantKey: "acme insurance",
		Category: bills.CategoryInsurance, MonthlyEstimate: 180, OccurrenceCount: 3,
	}}
	recs := e.matchVault(ctx, focus)
	require.Len(t, recs, 1)
	assert.Equal(t, float64(36), recs[0].MonthlySavings)
	assert.Equal(t, SourceVault, recs[0].Source)
}

func TestResolve_CacheHitReturnsIdenticalPayload(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	mem := store.NewMemoryStore()

	require.NoError(t, mem.UpsertBenchmarkSample(ctx, bills.CategoryInsurance, "acme insurance", 140, "engine"))

	client := &fakeReasoning{resp: &reasoning.Response{OK: true, Final: "{}"}}
	e := newTestEngine(t, cfg, mem, &fakeBank{items: []string{"item-1"}, txns: monthlyBill("ACME INSURANCE", 180)}, client)

	first, err := e.Resolve(ctx, "user-1", ResolveRequest{})
	require.NoError(t, err)
	e.Flush()
	assert.False(t, first.Cached)
	assert.Equal(t, 1, client.calls)

	second, err := e.Resolve(ctx, "user-1", ResolveRequest{})
	require.NoError(t, err)
	e.Flush()

	assert.True(t, second.Cached)
	assert.Equal(t, 1, client.calls, "cache hit must skip the whole cascade")

	firstJSON, err := json.Marshal(first.Recommendations)
	require.NoError(t, err)
	secondJSON, err := json.Marshal(second.Recommendations)
	require.NoError(t, err)
	assert.Equal(t, firstJSON, secondJSON, "cached recommendations must be byte-identical")
}

func TestResolve_WrongKeyAdviceIsDiscarded(t *testing.T) {
	cfg := testConfig(t)
	mem := store.NewMemoryStore()

	// Sealed for one merchant, stored under another: authentication must
	// fail closed and the tier must simply yield nothing.
	sealer, err := vault.NewSealer(cfg.VaultKey())
	require.NoError(t, err)
	payload, _ := json.Marshal(map[string]interface{}{"title": "leak", "monthly_savings": 99})
	sealed, err := sealer.Seal(payload, string(bills.CategoryInsurance), "someone else")
	require.NoError(t, err)
	require.NoError(t, mem.UpsertAdvice(context.Background(), store.VaultAdviceRecord{
		Category:         bills.CategoryInsurance,
		MerchantKey:      "acme insurance",
		EncryptedPayload: sealed,
	}))

	client := &fakeReasoning{resp: &reasoning.Response{OK: true, Final: "{}"}}
	e := newTestEngine(t, cfg, mem, &fakeBank{items: []string{"item-1"}, txns: monthlyBill("ACME INSURANCE", 180)}, client)

	resp, err := e.Resolve(context.Background(), "user-1", ResolveRequest{})
	require.NoError(t, err)
	e.Flush()

	for _, rec := range resp.Recommendations {
		assert.NotEqual(t, "leak", rec.Title)
	}
}
