// Package reasoning is the HTTP client for the external multi-party
// reasoning service. Requests are HMAC-signed; transient upstream failures
// are retried on a short, bounded schedule.
package reasoning

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/billwise/billwise/backend/internal/bills"
)

// ProviderOffer is one catalog entry the service may recommend switching to.
type ProviderOffer struct {
	Name     string `json:"name"`
	URL      string `json:"url,omitempty"`
	Category string `json:"category,omitempty"`
}

// RequestContext is the bill context shipped with every reasoning call.
type RequestContext struct {
	FocusBills     []bills.RecurringBill `json:"focus_bills"`
	RecurringBills []bills.RecurringBill `json:"recurring_bills"`
	Catalog        []ProviderOffer       `json:"catalog,omitempty"`
	Disclaimer     string                `json:"disclaimer"`
}

// Request is the reasoning service request body.
type Request struct {
	Question string         `json:"question"`
	Context  RequestContext `json:"context"`
}

// Verification is the service's consensus block. Approvals gates knowledge
// promotion downstream.
type Verification struct {
	Approvals int `json:"approvals"`
	OKReviews int `json:"ok_reviews"`
}

// Response is the reasoning service response body. Final carries either
// strict JSON or JSON embedded in prose; see ExtractRecommendations.
type Response struct {
	OK           bool         `json:"ok"`
	Final        string       `json:"final"`
	Verified     bool         `json:"verified"`
	Verification Verification `json:"verification"`
}

// Client calls the reasoning service over a signed channel.
type Client struct {
	baseURL    string
	secret     []byte
	appID      string
	httpClient *http.Client
	retry      RetryConfig
	now        func() time.Time
}

// NewClient creates a reasoning client. timeout is the hard per-attempt
// budget, separate from retry backoff.
func NewClient(baseURL, secret, appID string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		secret:  []byte(secret),
		appID:   appID,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		retry: DefaultRetryConfig,
		now:   time.Now,
	}
}

// sign computes the hex HMAC-SHA256 signature over "{timestamp}.{body}".
func (c *Client) sign(timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Resolve sends one signed reasoning request, retrying 502/503/504 on the
// configured schedule. Every failure, exhausted retries and hard rejections
// alike, surfaces as ErrDegraded: this tier never produces a user-visible
// hard error. The structured Error stays in the chain for callers that need
// the failure class.
func (c *Client) Resolve(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal reasoning request: %w", err)
	}

	resp, err := WithRetry(ctx, c.retry, func(ctx context.Context) (*Response, error) {
		return c.attempt(ctx, body)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDegraded, err)
	}
	return resp, nil
}

func (c *Client) attempt(ctx context.Context, body []byte) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/resolve", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	timestamp := fmt.Sprintf("%d", c.now().Unix())
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("timestamp", timestamp)
	httpReq.Header.Set("signature", c.sign(timestamp, body))
	httpReq.Header.Set("app-id", c.appID)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &Error{
			Code:      ErrUpstreamUnavailable,
			Message:   "reasoning request failed",
			Retryable: true,
			Cause:     err,
		}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &Error{
			Code:      ErrUpstreamUnavailable,
			Message:   "read reasoning response",
			Retryable: true,
			Cause:     err,
		}
	}

	switch httpResp.StatusCode {
	case http.StatusOK:
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return nil, &Error{
			Code:      ErrUpstreamUnavailable,
			Message:   fmt.Sprintf("upstream status %d", httpResp.StatusCode),
			Status:    httpResp.StatusCode,
			Retryable: true,
		}
	default:
		return nil, &Error{
			Code:    ErrUpstreamRejected,
			Message: fmt.Sprintf("upstream status %d: %s", httpResp.StatusCode, truncate(respBody, 200)),
			Status:  httpResp.StatusCode,
		}
	}

	var result Response
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, &Error{
			Code:    ErrMalformedResponse,
			Message: "decode reasoning response",
			Cause:   err,
		}
	}
	return &result, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
