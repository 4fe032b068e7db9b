package engine

import (
	"github.com/billwise/billwise/backend/internal/bills"
)

// Recommendation sources, in cascade priority order.
const (
	SourceVault   = "vault"
	SourceLibrary = "library"
	SourceEngine  = "engine"
)

// Recommendation is one monetized savings recommendation. MonthlySavings is
// always positive; candidates without a positive saving are discarded before
// they reach a response.
type Recommendation struct {
	Title              string         `json:"title"`
	Category           bills.Category `json:"category"`
	Merchant           string         `json:"merchant,omitempty"`
	MerchantKey        string         `json:"-"`
	MonthlySavings     float64        `json:"monthly_savings"`
	ProviderName       string         `json:"provider_name,omitempty"`
	ProviderURL        string         `json:"provider_url,omitempty"`
	OutreachSubject    string         `json:"outreach_subject,omitempty"`
	OutreachBody       string         `json:"outreach_body,omitempty"`
	TargetBudgetBucket string         `json:"target_budget_bucket,omitempty"`
	Source             string         `json:"source"`
}

// ResolveRequest is the inbound request from the session layer. A non-empty
// Question always forces a live reasoning call.
type ResolveRequest struct {
	Question   string `json:"question"`
	Disclaimer string `json:"disclaimer"`
}

// Verification annotates which tier resolved the request and, for live
// calls, the consensus the reasoning service reported.
type Verification struct {
	Source    string `json:"source"`
	Approvals int    `json:"approvals,omitempty"`
	OKReviews int    `json:"ok_reviews,omitempty"`
}

// Response is the resolved payload returned to the caller.
type Response struct {
	OK                bool                  `json:"ok"`
	RecurringBills    []bills.RecurringBill `json:"recurring_bills"`
	RecurringBillsAll []bills.RecurringBill `json:"recurring_bills_all"`
	Summary           string                `json:"summary"`
	Recommendations   []Recommendation      `json:"recommendations"`
	Verified          bool                  `json:"verified"`
	Verification      Verification          `json:"verification"`
	Cached            bool                  `json:"cached,omitempty"`
}
