// Package bank defines the contract with the external banking-aggregation
// collaborator. The engine only consumes dated, signed transactions for the
// user's linked items; linking and ingestion live elsewhere.
package bank

import (
	"context"
	"fmt"
	"time"
)

// Transaction is one settled bank transaction. Positive Amount is an outflow.
type Transaction struct {
	Date        time.Time
	RawLabel    string
	Description string
	Amount      float64
	Currency    string
}

// Window is the date range transactions are pulled for.
type Window struct {
	Start time.Time
	End   time.Time
}

// Days returns the window length in whole days, minimum 1.
func (w Window) Days() int {
	d := int(w.End.Sub(w.Start).Hours() / 24)
	if d < 1 {
		return 1
	}
	return d
}

// Provider is implemented by the banking collaborator.
type Provider interface {
	// LinkedItems returns the identifiers of the user's linked bank items.
	LinkedItems(ctx context.Context, userID string) ([]string, error)

	// ListTransactions returns one page of transactions for an item within
	// the window, plus a token for the next page ("" when exhausted).
	ListTransactions(ctx context.Context, itemID string, window Window, pageSize int32, pageToken string) ([]Transaction, string, error)
}

// maxPages bounds how many pages are pulled per item so a misbehaving
// collaborator cannot stall a request.
const maxPages = 10

// FetchWindow pulls up to maxPages pages of transactions for every linked
// item.
func FetchWindow(ctx context.Context, provider Provider, itemIDs []string, window Window, pageSize int32) ([]Transaction, error) {
	var all []Transaction
	for _, itemID := range itemIDs {
		pageToken := ""
		for page := 0; page < maxPages; page++ {
			txns, next, err := provider.ListTransactions(ctx, itemID, window, pageSize, pageToken)
			if err != nil {
				return nil, fmt.Errorf("list transactions for item %s: %w", itemID, err)
			}
			all = append(all, txns...)
			if next == "" {
				break
			}
			pageToken = next
		}
	}
	return all, nil
}
