// Package engine implements the savings resolution cascade: encrypted vault
// advice first, then the statistical library, then a signed call to the
// external reasoning service, with consensus-gated knowledge write-back and
// a short-TTL response cache around the whole thing.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/billwise/billwise/backend/internal/bank"
	"github.com/billwise/billwise/backend/internal/bills"
	"github.com/billwise/billwise/backend/internal/config"
	"github.com/billwise/billwise/backend/internal/normalize"
	"github.com/billwise/billwise/backend/internal/notify"
	"github.com/billwise/billwise/backend/internal/reasoning"
	"github.com/billwise/billwise/backend/internal/store"
	"github.com/billwise/billwise/backend/internal/vault"
)

// maxQuestionLen bounds the free-form follow-up question.
const maxQuestionLen = 2000

// transactionPageSize is the page size requested from the banking
// collaborator.
const transactionPageSize = 500

// ReasoningClient is the engine's view of the reasoning service.
type ReasoningClient interface {
	Resolve(ctx context.Context, req reasoning.Request) (*reasoning.Response, error)
}

// Engine resolves a user's recurring bills into savings recommendations.
type Engine struct {
	cfg        config.Config
	knowledge  store.Knowledge
	cache      store.Cache
	provider   bank.Provider
	client     ReasoningClient
	sealer     *vault.Sealer
	dispatcher *notify.Dispatcher
	catalog    []reasoning.ProviderOffer
	log        zerolog.Logger
	now        func() time.Time

	wg sync.WaitGroup
}

// New constructs the engine. Invalid configuration fails here, before any
// request runs.
func New(cfg config.Config, knowledge store.Knowledge, cache store.Cache, provider bank.Provider, client ReasoningClient, queue notify.Queue, catalog []reasoning.ProviderOffer, log zerolog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine configuration: %w", err)
	}
	sealer, err := vault.NewSealer(cfg.VaultKey())
	if err != nil {
		return nil, fmt.Errorf("engine configuration: %w", err)
	}
	return &Engine{
		cfg:        cfg,
		knowledge:  knowledge,
		cache:      cache,
		provider:   provider,
		client:     client,
		sealer:     sealer,
		dispatcher: notify.NewDispatcher(queue, cache, cfg.IdempotencyTTL, log),
		catalog:    catalog,
		log:        log,
		now:        time.Now,
	}, nil
}

// Flush waits for in-flight best-effort side effects (write-back, cache
// writes, notifications) to finish. Used on shutdown and in tests.
func (e *Engine) Flush() {
	e.wg.Wait()
}

// Resolve runs the cascade for one request. Only configuration and
// authorization problems fail the request; every later tier degrades toward
// fewer recommendations.
func (e *Engine) Resolve(ctx context.Context, userID string, req ResolveRequest) (*Response, error) {
	if len(req.Question) > maxQuestionLen {
		return nil, ErrPolicyBlocked
	}

	items, err := e.provider.LinkedItems(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list linked items: %w", err)
	}
	if len(items) == 0 {
		return nil, ErrNoLinkedItems
	}

	end := e.now().UTC()
	window := bank.Window{Start: end.AddDate(0, 0, -e.cfg.WindowDays), End: end}
	fingerprint := Fingerprint(items, window)

	// A follow-up question always forces a live resolution; otherwise a
	// fresh cache entry short-circuits the whole cascade.
	if req.Question == "" {
		if payload, err := e.cache.GetPayload(ctx, fingerprint); err == nil {
			var cached Response
			if uerr := json.Unmarshal(payload, &cached); uerr == nil {
				cached.Cached = true
				return &cached, nil
			} else {
				e.log.Warn().Err(uerr).Msg("cached payload malformed, resolving fresh")
			}
		} else if !errors.Is(err, store.ErrNotFound) {
			e.log.Warn().Err(err).Msg("cache read failed, resolving fresh")
		}
	}

	txns, err := bank.FetchWindow(ctx, e.provider, items, window, transactionPageSize)
	if err != nil {
		return nil, fmt.Errorf("fetch transaction window: %w", err)
	}

	allBills := bills.Detect(txns, e.cfg.WindowDays, e.cfg.MaxBills)
	focus := bills.Focus(allBills)

	// Tier 1: encrypted vault, lowest latency and cost.
	vaultRecs := e.matchVault(ctx, focus)
	if len(vaultRecs) >= e.cfg.ShortCircuitCount && req.Question == "" {
		resp := e.assemble(allBills, focus, Merge(e.cfg.MaxRecommendations, vaultRecs), SourceVault, nil)
		e.finish(ctx, userID, fingerprint, resp, nil, nil, true)
		return resp, nil
	}

	// Tier 2: statistical library, still no external call.
	libraryRecs := e.matchLibrary(ctx, focus)
	if len(vaultRecs)+len(libraryRecs) >= e.cfg.ShortCircuitCount && req.Question == "" {
		resp := e.assemble(allBills, focus, Merge(e.cfg.MaxRecommendations, vaultRecs, libraryRecs), SourceLibrary, nil)
		e.finish(ctx, userID, fingerprint, resp, nil, nil, true)
		return resp, nil
	}

	// Tier 3: one live reasoning call.
	rresp, err := e.client.Resolve(ctx, reasoning.Request{
		Question: req.Question,
		Context: reasoning.RequestContext{
			FocusBills:     focus,
			RecurringBills: allBills,
			Catalog:        e.catalog,
			Disclaimer:     req.Disclaimer,
		},
	})
	if err != nil {
		var rerr *reasoning.Error
		if errors.As(err, &rerr) && rerr.Code == reasoning.ErrMalformedResponse {
			// An unusable body means no data from this tier, not a failed
			// request; resolve from whatever the fast tiers found.
			e.log.Warn().Err(err).Msg("reasoning response unusable, resolving from fast tiers")
			source := SourceVault
			if len(libraryRecs) > 0 {
				source = SourceLibrary
			}
			resp := e.assemble(allBills, focus, Merge(e.cfg.MaxRecommendations, vaultRecs, libraryRecs), source, nil)
			e.finish(ctx, userID, fingerprint, resp, nil, nil, req.Question == "")
			return resp, nil
		}
		return nil, err
	}

	parsed, summary := reasoning.ExtractRecommendations(rresp.Final, e.cfg.ReasoningCap)
	engineRecs := e.fromReasoning(parsed, allBills)

	merged := Merge(e.cfg.MaxRecommendations, vaultRecs, libraryRecs, engineRecs)
	resp := e.assemble(allBills, focus, merged, SourceEngine, rresp)
	if summary != "" {
		resp.Summary = summary
	}
	e.finish(ctx, userID, fingerprint, resp, merged, rresp, req.Question == "")
	return resp, nil
}

// fromReasoning converts parsed reasoning output into engine
// recommendations, resolving each merchant back to a detected bill where
// possible.
func (e *Engine) fromReasoning(parsed []reasoning.Recommendation, allBills []bills.RecurringBill) []Recommendation {
	byKey := make(map[string]bills.RecurringBill, len(allBills))
	for _, b := range allBills {
		byKey[b.MerchantKey] = b
	}

	var recs []Recommendation
	for _, r := range parsed {
		merchantKey := normalize.Normalize(r.Merchant, "").Key

		category := bills.Category(r.Category)
		if !category.IsFocus() && category != bills.CategorySubscription && category != bills.CategoryOther {
			category = bills.CategoryOther
		}
		if bill, ok := byKey[merchantKey]; ok {
			category = bill.Category
		}

		recs = append(recs, Recommendation{
			Title:              r.Title,
			Category:           category,
			Merchant:           r.Merchant,
			MerchantKey:        merchantKey,
			MonthlySavings:     r.MonthlySavings,
			ProviderName:       r.ProviderName,
			ProviderURL:        r.ProviderURL,
			OutreachSubject:    r.OutreachSubject,
			OutreachBody:       r.OutreachBody,
			TargetBudgetBucket: r.TargetBudgetBucket,
			Source:             SourceEngine,
		})
	}
	return recs
}

// assemble builds the response payload for one resolved request.
func (e *Engine) assemble(allBills, focus []bills.RecurringBill, recs []Recommendation, source string, rresp *reasoning.Response) *Response {
	resp := &Response{
		OK:                true,
		RecurringBills:    focus,
		RecurringBillsAll: allBills,
		Summary:           fmt.Sprintf("Found %d recurring bills and %d savings opportunities.", len(allBills), len(recs)),
		Recommendations:   recs,
		Verification:      Verification{Source: source},
	}
	if source != SourceEngine {
		// Fast-tier content was verified when it was first promoted.
		resp.Verified = true
	}
	if rresp != nil {
		resp.Verified = rresp.Verified
		resp.Verification.Approvals = rresp.Verification.Approvals
		resp.Verification.OKReviews = rresp.Verification.OKReviews
	}
	return resp
}

// finish runs the post-response side effects in the background with a
// bounded timeout: consensus-gated knowledge write-back (live calls only),
// the response-cache write, and the idempotent notification dispatch. All
// best-effort; the caller never waits and never sees their failures.
// cacheable is false for question-driven resolutions: their payloads are
// tailored to the question, and the fingerprint does not carry it, so they
// must never be replayed to a question-less request.
func (e *Engine) finish(ctx context.Context, userID, fingerprint string, resp *Response, merged []Recommendation, rresp *reasoning.Response, cacheable bool) {
	allBills := resp.RecurringBillsAll
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()

		if rresp != nil {
			e.writeBack(bg, allBills, merged, rresp.Verification)
		}

		if cacheable {
			payload, err := json.Marshal(resp)
			if err != nil {
				e.log.Warn().Err(err).Msg("response payload marshal failed, cache skipped")
			} else if err := e.cache.SetPayload(bg, fingerprint, payload, e.cfg.CacheTTL); err != nil {
				e.log.Warn().Err(err).Msg("response cache write failed")
			}
		}

		if len(resp.Recommendations) > 0 {
			e.dispatcher.Dispatch(bg, IdempotencyKey(userID, fingerprint), notify.Message{
				UserID:  userID,
				Subject: "New savings found on your recurring bills",
				Body:    resp.Summary,
			})
		}
	}()
}
