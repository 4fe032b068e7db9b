package normalize

import "testing"

func TestNormalize_StripsStoreNumbersAndNoise(t *testing.T) {
	got := Normalize("WOOLWORTHS 1234 SYDNEY", "")
	if got.Key != "woolworths sydney" {
		t.Fatalf("expected key 'woolworths sydney', got %q", got.Key)
	}
	if got.Display != "Woolworths Sydney" {
		t.Fatalf("expected display 'Woolworths Sydney', got %q", got.Display)
	}
}

func TestNormalize_StripsProcessorPrefix(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"PAYPAL *ACME INSURANCE", "acme insurance"},
		{"POS TELCO ONE LTD", "telco one"},
		{"DIRECT DEBIT CITY POWER", "city power"},
		{"SQ *CORNER CAFE #99881", "corner cafe"},
	}
	for _, tc := range cases {
		if got := Normalize(tc.raw, ""); got.Key != tc.want {
			t.Errorf("Normalize(%q) key = %q, want %q", tc.raw, got.Key, tc.want)
		}
	}
}

func TestNormalize_FallsBackToDescription(t *testing.T) {
	got := Normalize("", "Acme Insurance monthly premium")
	if got.Key == "" {
		t.Fatal("expected description fallback to produce a key")
	}
}

func TestNormalize_EmptyInput(t *testing.T) {
	if got := Normalize("", ""); got.Key != "" || got.Display != "" {
		t.Fatalf("expected empty label, got %+v", got)
	}
	// Pure-noise input collapses to nothing rather than an empty-string key.
	if got := Normalize("#### 123456", ""); got.Key != "" {
		t.Fatalf("expected noise-only input to yield empty key, got %q", got.Key)
	}
}

func TestNormalize_CollapsesWhitespaceAndCase(t *testing.T) {
	a := Normalize("Acme   Insurance", "")
	b := Normalize("ACME INSURANCE", "")
	if a.Key != b.Key {
		t.Fatalf("expected identical keys, got %q vs %q", a.Key, b.Key)
	}
}
