package reasoning

import (
	"encoding/json"
	"strings"
)

// Recommendation is one savings recommendation as the reasoning service
// emits it.
type Recommendation struct {
	Title              string  `json:"title"`
	Category           string  `json:"category"`
	Merchant           string  `json:"merchant,omitempty"`
	MonthlySavings     float64 `json:"monthly_savings"`
	ProviderName       string  `json:"provider_name,omitempty"`
	ProviderURL        string  `json:"provider_url,omitempty"`
	OutreachSubject    string  `json:"outreach_subject,omitempty"`
	OutreachBody       string  `json:"outreach_body,omitempty"`
	TargetBudgetBucket string  `json:"target_budget_bucket,omitempty"`
}

type finalPayload struct {
	Recommendations []Recommendation `json:"recommendations"`
	Summary         string           `json:"summary"`
}

// ExtractRecommendations parses the service's "final" field. The field is
// supposed to be strict JSON but in practice arrives wrapped in code fences
// or surrounding prose, so parsing falls back to the first balanced {...}
// block. Recommendations without a title or a positive monthly saving are
// dropped, and the result is capped.
func ExtractRecommendations(final string, cap int) ([]Recommendation, string) {
	text := stripFences(final)

	var payload finalPayload
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		block, ok := firstBalancedBlock(text)
		if !ok {
			return nil, ""
		}
		if err := json.Unmarshal([]byte(block), &payload); err != nil {
			return nil, ""
		}
	}

	var out []Recommendation
	for _, rec := range payload.Recommendations {
		if strings.TrimSpace(rec.Title) == "" || rec.MonthlySavings <= 0 {
			continue
		}
		out = append(out, rec)
		if cap > 0 && len(out) >= cap {
			break
		}
	}
	return out, payload.Summary
}

// stripFences removes a surrounding markdown code fence, if any.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// firstBalancedBlock returns the first {...} block with balanced braces,
// ignoring braces inside JSON strings.
func firstBalancedBlock(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return text[start : i+1], true
				}
			}
		}
	}
	return "", false
}
