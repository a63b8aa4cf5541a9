package config

import (
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var defaultHighSeverityRatio = decimal.RequireFromString("0.10")

// AcceptanceSubmitTimeout bounds the call to the acceptance store on final submit.
//
// Set via env:
// - ACCEPTANCE_SUBMIT_TIMEOUT_SECONDS=30
func AcceptanceSubmitTimeout() time.Duration {
	secs := intFromEnv("ACCEPTANCE_SUBMIT_TIMEOUT_SECONDS", 30)
	if secs <= 0 {
		secs = 30
	}
	return time.Duration(secs) * time.Second
}

// AcceptanceSessionTTL is how long an idle acceptance session is kept before eviction.
//
// Set via env:
// - ACCEPTANCE_SESSION_TTL_MINUTES=30
func AcceptanceSessionTTL() time.Duration {
	mins := intFromEnv("ACCEPTANCE_SESSION_TTL_MINUTES", 30)
	if mins <= 0 {
		mins = 30
	}
	return time.Duration(mins) * time.Minute
}

// HighSeverityRatio is the |difference|/expected ratio above which a discrepancy is HIGH.
// A ratio exactly equal to the threshold stays LOW.
//
// Set via env:
// - DISCREPANCY_HIGH_SEVERITY_RATIO=0.10
func HighSeverityRatio() decimal.Decimal {
	raw := strings.TrimSpace(os.Getenv("DISCREPANCY_HIGH_SEVERITY_RATIO"))
	if raw == "" {
		return defaultHighSeverityRatio
	}
	d, err := decimal.NewFromString(raw)
	if err != nil || d.IsNegative() {
		return defaultHighSeverityRatio
	}
	return d
}
