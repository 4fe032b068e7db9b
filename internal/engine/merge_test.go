package engine

import (
	"reflect"
	"testing"

	"github.com/billwise/billwise/backend/internal/bills"
)

func TestMerge_VaultWinsOverLargerReasoningNumber(t *testing.T) {
	vaultRec := Recommendation{
		Title: "Switch insurer", Category: bills.CategoryInsurance,
		MerchantKey: "acme insurance", MonthlySavings: 25, Source: SourceVault,
	}
	engineRec := Recommendation{
		Title: "Switch insurer today", Category: bills.CategoryInsurance,
		MerchantKey: "acme insurance", MonthlySavings: 90, Source: SourceEngine,
	}

	got := Merge(12, []Recommendation{vaultRec}, nil, []Recommendation{engineRec})
	if len(got) != 1 {
		t.Fatalf("expected 1 after dedupe, got %d", len(got))
	}
	if got[0].Source != SourceVault || got[0].MonthlySavings != 25 {
		t.Fatalf("vault entry must win: got %+v", got[0])
	}
}

func TestMerge_SortsBySavingsDescending(t *testing.T) {
	recs := []Recommendation{
		{Title: "small", Category: bills.CategoryPhone, MerchantKey: "a", MonthlySavings: 5, Source: SourceLibrary},
		{Title: "big", Category: bills.CategoryPhone, MerchantKey: "b", MonthlySavings: 50, Source: SourceLibrary},
		{Title: "mid", Category: bills.CategoryPhone, MerchantKey: "c", MonthlySavings: 20, Source: SourceLibrary},
	}
	got := Merge(12, nil, recs, nil)
	if got[0].Title != "big" || got[1].Title != "mid" || got[2].Title != "small" {
		t.Fatalf("wrong order: %+v", got)
	}
}

func TestMerge_DropsNonPositiveAndCaps(t *testing.T) {
	var recs []Recommendation
	for i := 0; i < 20; i++ {
		recs = append(recs, Recommendation{
			Title: string(rune('a' + i)), Category: bills.CategoryPhone,
			MerchantKey: string(rune('a' + i)), MonthlySavings: float64(i), Source: SourceEngine,
		})
	}
	got := Merge(12, recs)
	if len(got) != 12 {
		t.Fatalf("expected cap of 12, got %d", len(got))
	}
	for _, rec := range got {
		if rec.MonthlySavings <= 0 {
			t.Fatalf("non-positive saving survived: %+v", rec)
		}
	}
}

func TestMerge_Idempotent(t *testing.T) {
	recs := []Recommendation{
		{Title: "Switch insurer", Category: bills.CategoryInsurance, MerchantKey: "acme insurance", MonthlySavings: 40, Source: SourceVault},
		{Title: "Negotiate broadband", Category: bills.CategoryInternet, MerchantKey: "tpg", MonthlySavings: 15, Source: SourceLibrary},
	}

	once := Merge(12, recs)
	twice := Merge(12, once, once)
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("merge not idempotent:\nonce:  %+v\ntwice: %+v", once, twice)
	}
}

func TestMerge_TitlePrefixCollapsesVariants(t *testing.T) {
	a := Recommendation{
		Title: "Negotiate your broadband bill with your current provider",
		Category: bills.CategoryInternet, MerchantKey: "tpg", MonthlySavings: 15, Source: SourceLibrary,
	}
	b := Recommendation{
		Title: "Negotiate your broadband plan (limited offer)",
		Category: bills.CategoryInternet, MerchantKey: "tpg", MonthlySavings: 18, Source: SourceEngine,
	}
	got := Merge(12, []Recommendation{a}, []Recommendation{b})
	if len(got) != 1 {
		t.Fatalf("expected prefix dedupe to collapse variants, got %d", len(got))
	}
}
