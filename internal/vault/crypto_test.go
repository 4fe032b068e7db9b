package vault

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func testSealer(t *testing.T) *Sealer {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("generate key: %v", err)
	}
	s, err := NewSealer(key)
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}
	return s
}

func TestSealOpen_RoundTrip(t *testing.T) {
	s := testSealer(t)
	payload := []byte(`{"title":"Switch insurer","monthly_savings":40}`)

	blob, err := s.Seal(payload, "insurance", "acme insurance")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	got, err := s.Open(blob, "insurance", "acme insurance")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("round trip mismatch: %s", got)
	}
}

func TestOpen_WrongMerchantKeyFails(t *testing.T) {
	s := testSealer(t)
	blob, err := s.Seal([]byte("advice"), "insurance", "acme insurance")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := s.Open(blob, "insurance", "other insurer"); err == nil {
		t.Fatal("expected authentication failure for wrong merchant key")
	}
}

func TestOpen_WrongCategoryFails(t *testing.T) {
	s := testSealer(t)
	blob, err := s.Seal([]byte("advice"), "insurance", "acme insurance")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := s.Open(blob, "phone", "acme insurance"); err == nil {
		t.Fatal("expected authentication failure for wrong category")
	}
}

func TestOpen_TamperedBlobFails(t *testing.T) {
	s := testSealer(t)
	blob, err := s.Seal([]byte("advice"), "insurance", "acme insurance")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	blob[len(blob)-1] ^= 0x01
	if _, err := s.Open(blob, "insurance", "acme insurance"); err == nil {
		t.Fatal("expected authentication failure for tampered blob")
	}
}

func TestOpen_TruncatedBlobFails(t *testing.T) {
	s := testSealer(t)
	if _, err := s.Open([]byte("short"), "insurance", "acme insurance"); err == nil {
		t.Fatal("expected failure for truncated blob")
	}
}

func TestNewSealer_RejectsBadKeyLength(t *testing.T) {
	if _, err := NewSealer(make([]byte, 16)); err == nil {
		t.Fatal("expected error for 16-byte key")
	}
}
