// Package config holds the engine's explicit configuration. Every tunable and
// every credential the engine needs is enumerated here so that missing
// configuration is a single construction-time error instead of a mid-request
// surprise.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"
)

// Config configures the savings resolution engine and its collaborators.
type Config struct {
	// Reasoning service.
	ReasoningBaseURL string
	SigningSecret    string
	AppID            string
	ReasoningTimeout time.Duration

	// Banking-aggregation collaborator.
	BankBaseURL string
	BankAPIKey  string

	// Vault encryption key, 32 bytes after base64 decoding.
	VaultKeyBase64 string

	// Firestore project. Empty when running on the in-memory store.
	ProjectID string

	// Cascade thresholds.
	ShortCircuitCount  int     // valid recommendations needed to skip later tiers
	BenchmarkMargin    float64 // relative overspend before a benchmark fires
	ConsensusApprovals int     // reviewer approvals required to promote knowledge
	MaxBills           int     // detector output cap
	MaxRecommendations int     // merged output cap
	ReasoningCap       int     // recommendations accepted from one reasoning call

	// Detection window and cache lifetimes.
	WindowDays     int
	CacheTTL       time.Duration
	IdempotencyTTL time.Duration
}

// FromEnv builds a Config from the process environment. Defaults cover every
// tunable; only credentials are required, and Validate reports those.
func FromEnv() Config {
	return Config{
		ReasoningBaseURL:   os.Getenv("REASONING_BASE_URL"),
		SigningSecret:      os.Getenv("REASONING_SIGNING_SECRET"),
		AppID:              os.Getenv("REASONING_APP_ID"),
		ReasoningTimeout:   12 * time.Second,
		BankBaseURL:        os.Getenv("BANK_BASE_URL"),
		BankAPIKey:         os.Getenv("BANK_API_KEY"),
		VaultKeyBase64:     os.Getenv("VAULT_KEY"),
		ProjectID:          os.Getenv("GOOGLE_CLOUD_PROJECT"),
		ShortCircuitCount:  5,
		BenchmarkMargin:    0.15,
		ConsensusApprovals: 4,
		MaxBills:           30,
		MaxRecommendations: 12,
		ReasoningCap:       12,
		WindowDays:         90,
		CacheTTL:           10 * time.Minute,
		IdempotencyTTL:     24 * time.Hour,
	}
}

// Validate checks required fields and returns one error naming everything
// that is missing or malformed.
func (c Config) Validate() error {
	var missing []string
	if c.ReasoningBaseURL == "" {
		missing = append(missing, "REASONING_BASE_URL")
	}
	if c.SigningSecret == "" {
		missing = append(missing, "REASONING_SIGNING_SECRET")
	}
	if c.AppID == "" {
		missing = append(missing, "REASONING_APP_ID")
	}
	if c.BankBaseURL == "" {
		missing = append(missing, "BANK_BASE_URL")
	}
	if c.VaultKeyBase64 == "" {
		missing = append(missing, "VAULT_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	key, err := base64.StdEncoding.DecodeString(c.VaultKeyBase64)
	if err != nil {
		return fmt.Errorf("VAULT_KEY is not valid base64: %w", err)
	}
	if len(key) != 32 {
		return fmt.Errorf("VAULT_KEY must decode to 32 bytes, got %d", len(key))
	}

	if c.WindowDays <= 0 {
		return fmt.Errorf("window days must be positive, got %d", c.WindowDays)
	}
	if c.BenchmarkMargin <= 0 || c.BenchmarkMargin >= 1 {
		return fmt.Errorf("benchmark margin must be in (0,1), got %v", c.BenchmarkMargin)
	}
	return nil
}

// VaultKey returns the decoded vault key. Call Validate first.
func (c Config) VaultKey() []byte {
	key, _ := base64.StdEncoding.DecodeString(c.VaultKeyBase64)
	return key
}
