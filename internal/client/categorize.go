package client

import (
	"context"
	"errors"
	"strings"

	"github.com/kjstillabower/weather-sync/internal/circuitbreaker"
)

// ErrorCategory is a stable label for error classification in metrics.
type ErrorCategory string

// Error category constants used as the fetchErrorsTotal category label.
const (
	ErrorCategoryTimeout              ErrorCategory = "timeout"
	ErrorCategoryNetwork              ErrorCategory = "network"
	ErrorCategoryCircuitOpen          ErrorCategory = "circuit_open"
	ErrorCategoryCredentialsExhausted ErrorCategory = "credentials_exhausted"
	ErrorCategoryLocationNotFound     ErrorCategory = "location_not_found"
	ErrorCategoryUpstream4xx          ErrorCategory = "upstream_4xx"
	ErrorCategoryUpstream5xx          ErrorCategory = "upstream_5xx"
	ErrorCategoryParsing              ErrorCategory = "parsing"
	ErrorCategoryUnknown              ErrorCategory = "unknown"
)

// CategorizeError maps an error to a stable ErrorCategory for metrics.
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ""
	}

	if errors.Is(err, circuitbreaker.ErrOpen) {
		return ErrorCategoryCircuitOpen
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorCategoryTimeout
	}

	var fe *FetchError
	if errors.As(err, &fe) {
		switch fe.Kind {
		case KindAllCredentialsExhausted:
			return ErrorCategoryCredentialsExhausted
		case KindMalformedResponse:
			return ErrorCategoryParsing
		case KindProvider:
			if fe.StatusCode == 404 {
				return ErrorCategoryLocationNotFound
			}
			if fe.StatusCode >= 500 {
				return ErrorCategoryUpstream5xx
			}
			return ErrorCategoryUpstream4xx
		}
	}

	errStr := err.Error()
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded") {
		return ErrorCategoryTimeout
	}
	if strings.Contains(errStr, "network") || strings.Contains(errStr, "connection") {
		return ErrorCategoryNetwork
	}
	if strings.Contains(errStr, "parse") || strings.Contains(errStr, "unmarshal") {
		return ErrorCategoryParsing
	}

	return ErrorCategoryUnknown
}
