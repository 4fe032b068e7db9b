// Package normalize cleans raw bank merchant strings into a display label and
// a stable lookup key.
package normalize

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	prefixPattern = regexp.MustCompile(`(?i)^(pos |eftpos |visa |mastercard |amex |direct debit |dd |paypal \*|sq \*|tst\* ?)`)
	suffixPattern = regexp.MustCompile(`(?i)\s+(pty|ltd|inc|corp|llc|au|us|uk|nz|sg)\.?$`)
	storeNumbers  = regexp.MustCompile(`#?\d{4,}`)
	noiseChars    = regexp.MustCompile(`[*#~_|]+`)
	punctuation   = regexp.MustCompile(`[^\p{L}\p{N} ]`)
	whitespace    = regexp.MustCompile(`\s+`)
)

// Label holds the normalized forms of one merchant/description pair.
type Label struct {
	// Display is a cleaned, title-cased merchant name.
	Display string
	// Key is the lower-cased lookup key used by every store.
	Key string
}

// Normalize cleans a raw merchant and description into a Label. Pure
// function; an empty input produces an empty Key and callers must skip it.
func Normalize(rawMerchant, rawDescription string) Label {
	raw := strings.TrimSpace(rawMerchant)
	if raw == "" {
		raw = strings.TrimSpace(rawDescription)
	}
	if raw == "" {
		return Label{}
	}

	cleaned := prefixPattern.ReplaceAllString(raw, "")
	cleaned = suffixPattern.ReplaceAllString(cleaned, "")
	cleaned = storeNumbers.ReplaceAllString(cleaned, "")
	cleaned = noiseChars.ReplaceAllString(cleaned, " ")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return Label{}
	}

	key := strings.ToLower(cleaned)
	key = punctuation.ReplaceAllString(key, "")
	key = whitespace.ReplaceAllString(strings.TrimSpace(key), " ")
	if key == "" {
		return Label{}
	}

	return Label{
		Display: formatDisplay(cleaned),
		Key:     key,
	}
}

// formatDisplay title-cases a cleaned merchant name for display.
func formatDisplay(cleaned string) string {
	caser := cases.Title(language.English)
	words := strings.Fields(cleaned)
	for i, word := range words {
		if len(word) > 2 {
			words[i] = caser.String(strings.ToLower(word))
		} else {
			words[i] = strings.ToUpper(word)
		}
	}

	result := strings.Join(words, " ")
	if len(result) > 50 {
		result = result[:50]
	}
	return result
}
