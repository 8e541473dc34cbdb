package services

import (
	"context"
	"errors"
	"strings"
)

// Classification is the result of sorting a transfer failure into retryable
// or permanent.
type Classification struct {
	Retryable bool
	Message   string
	Code      string
}

// Permanent failure patterns. Checked before the retryable set: an error
// matching both is treated as permanent, because wrongly retrying a permanent
// failure costs more than wrongly terminating a transient one.
var nonRetryablePatterns = []struct {
	substr string
	code   string
}{
	{"invalid address", "invalid_address"},
	{"invalid destination", "invalid_address"},
	{"invalid amount", "invalid_amount"},
	{"insufficient funds", "insufficient_funds"},
	{"insufficient balance", "insufficient_funds"},
	{"not enough funds", "insufficient_funds"},
	{"exit code", "contract_rejected"},
	{"exitcode", "contract_rejected"},
	{"contract rejected", "contract_rejected"},
	{"unable to execute", "contract_rejected"},
	{"duplicate", "duplicate"},
	{"already processed", "duplicate"},
	{"already exists", "duplicate"},
}

// Transient failure patterns.
var retryablePatterns = []struct {
	substr string
	code   string
}{
	{"timeout", "timeout"},
	{"timed out", "timeout"},
	{"deadline exceeded", "timeout"},
	{"connection reset", "connection"},
	{"connection refused", "connection"},
	{"broken pipe", "connection"},
	{"eof", "connection"},
	{"rate limit", "rate_limited"},
	{"too many requests", "rate_limited"},
	{"429", "rate_limited"},
	{"502", "upstream_unavailable"},
	{"503", "upstream_unavailable"},
	{"temporarily unavailable", "upstream_unavailable"},
	{"lite server", "upstream_unavailable"},
	{"lt not in db", "upstream_unavailable"},
	{"network", "network"},
}

// Classify sorts err into retryable or non-retryable. Unmatched errors are
// non-retryable so unknown failures surface for operator attention instead of
// burning retries.
func Classify(err error) Classification {
	if err == nil {
		return Classification{Retryable: false, Message: ""}
	}

	msg := err.Error()
	lower := strings.ToLower(msg)

	for _, p := range nonRetryablePatterns {
		if strings.Contains(lower, p.substr) {
			return Classification{Retryable: false, Message: msg, Code: p.code}
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Classification{Retryable: true, Message: msg, Code: "timeout"}
	}

	for _, p := range retryablePatterns {
		if strings.Contains(lower, p.substr) {
			return Classification{Retryable: true, Message: msg, Code: p.code}
		}
	}

	return Classification{Retryable: false, Message: msg, Code: "unknown"}
}
