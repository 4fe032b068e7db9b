package engine

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/billwise/billwise/backend/internal/bank"
)

// fingerprintDomain and the idempotency domain are separators, not secrets;
// they keep the two key spaces from ever colliding.
const (
	fingerprintDomain = "billwise:fingerprint:v1"
	idempotencyDomain = "billwise:side-effect:v1"
)

// Fingerprint derives the cache key for a bank state: a one-way hash of the
// sorted linked-item identifiers plus the date window. Raw account numbers
// and balances never enter the hash input.
func Fingerprint(itemIDs []string, window bank.Window) string {
	sorted := make([]string, len(itemIDs))
	copy(sorted, itemIDs)
	sort.Strings(sorted)

	h := sha256.New()
	h.Write([]byte(fingerprintDomain))
	h.Write([]byte("|items:"))
	h.Write([]byte(strings.Join(sorted, ",")))
	h.Write([]byte("|window:"))
	h.Write([]byte(window.Start.UTC().Format("2006-01-02")))
	h.Write([]byte(".."))
	h.Write([]byte(window.End.UTC().Format("2006-01-02")))
	return hex.EncodeToString(h.Sum(nil))
}

// IdempotencyKey derives the side-effect key for one resolved bank state.
// It is distinct from the response-cache fingerprint so cache eviction never
// re-opens the duplicate-side-effect window.
func IdempotencyKey(userID, fingerprint string) string {
	mac := hmac.New(sha256.New, []byte(idempotencyDomain))
	mac.Write([]byte("user:"))
	mac.Write([]byte(userID))
	mac.Write([]byte("|fingerprint:"))
	mac.Write([]byte(fingerprint))
	return hex.EncodeToString(mac.Sum(nil))
}
