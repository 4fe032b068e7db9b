package bank

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// HTTPProvider talks to the banking-aggregation service over its REST API.
type HTTPProvider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPProvider creates a provider for the aggregation service at baseURL.
// The API key is optional and sent as a bearer token when set.
func NewHTTPProvider(baseURL, apiKey string) *HTTPProvider {
	return &HTTPProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type itemsResponse struct {
	Items []struct {
		ID string `json:"id"`
	} `json:"items"`
}

type transactionsResponse struct {
	Transactions []wireTransaction `json:"transactions"`
	NextPage     string            `json:"next_page_token"`
}

type wireTransaction struct {
	Date        string  `json:"date"`
	Label       string  `json:"label"`
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
}

// LinkedItems implements Provider.
func (p *HTTPProvider) LinkedItems(ctx context.Context, userID string) ([]string, error) {
	endpoint := fmt.Sprintf("%s/v1/users/%s/items", p.baseURL, url.PathEscape(userID))

	var resp itemsResponse
	if err := p.getJSON(ctx, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}

	ids := make([]string, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.ID != "" {
			ids = append(ids, item.ID)
		}
	}
	return ids, nil
}

// ListTransactions implements Provider.
func (p *HTTPProvider) ListTransactions(ctx context.Context, itemID string, window Window, pageSize int32, pageToken string) ([]Transaction, string, error) {
	query := url.Values{}
	query.Set("from", window.Start.Format("2006-01-02"))
	query.Set("to", window.End.Format("2006-01-02"))
	query.Set("page_size", strconv.Itoa(int(pageSize)))
	if pageToken != "" {
		query.Set("page_token", pageToken)
	}
	endpoint := fmt.Sprintf("%s/v1/items/%s/transactions?%s", p.baseURL, url.PathEscape(itemID), query.Encode())

	var resp transactionsResponse
	if err := p.getJSON(ctx, endpoint, &resp); err != nil {
		return nil, "", fmt.Errorf("list transactions: %w", err)
	}

	txns := make([]Transaction, 0, len(resp.Transactions))
	for _, wt := range resp.Transactions {
		date, err := time.Parse("2006-01-02", wt.Date)
		if err != nil {
			// Skip rows with unparseable dates rather than failing the
			// whole page; the detector needs dated rows only.
			continue
		}
		txns = append(txns, Transaction{
			Date:        date,
			RawLabel:    wt.Label,
			Description: wt.Description,
			Amount:      wt.Amount,
			Currency:    wt.Currency,
		})
	}
	return txns, resp.NextPage, nil
}

func (p *HTTPProvider) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call aggregation service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("aggregation service returned %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
