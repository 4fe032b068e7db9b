package bank

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testWindow() Window {
	end := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	return Window{Start: end.AddDate(0, 0, -90), End: end}
}

func TestLinkedItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/users/user-1/items", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]string{{"id": "item-a"}, {"id": "item-b"}, {"id": ""}},
		})
	}))
	defer srv.Close()

	provider := NewHTTPProvider(srv.URL, "tok")
	items, err := provider.LinkedItems(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"item-a", "item-b"}, items)
}

func TestListTransactionsPagination(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/items/item-a/transactions", r.URL.Path)
		assert.Equal(t, "2025-03-03", r.URL.Query().Get("from"))
		assert.Equal(t, "2025-06-01", r.URL.Query().Get("to"))

		if r.URL.Query().Get("page_token") == "" {
			json.NewEncoder(w).Encode(map[string]any{
				"transactions": []map[string]any{
					{"date": "2025-04-01", "label": "ACME POWER", "amount": 120.0, "currency": "AUD"},
					{"date": "not-a-date", "label": "GARBAGE", "amount": 5.0},
				},
				"next_page_token": "p2",
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"transactions": []map[string]any{
				{"date": "2025-05-01", "label": "ACME POWER", "amount": 120.0, "currency": "AUD"},
			},
		})
	}))
	defer srv.Close()

	provider := NewHTTPProvider(srv.URL, "")
	window := testWindow()

	txns, next, err := provider.ListTransactions(context.Background(), "item-a", window, 500, "")
	require.NoError(t, err)
	assert.Equal(t, "p2", next)
	// The unparseable row is dropped.
	require.Len(t, txns, 1)
	assert.Equal(t, "ACME POWER", txns[0].RawLabel)
	assert.Equal(t, time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC), txns[0].Date)

	all, err := FetchWindow(context.Background(), provider, []string{"item-a"}, window, 500)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestListTransactionsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	provider := NewHTTPProvider(srv.URL, "")
	_, _, err := provider.ListTransactions(context.Background(), "item-a", testWindow(), 500, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}
