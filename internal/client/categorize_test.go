package client

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/kjstillabower/weather-sync/internal/circuitbreaker"
)

// TestCategorizeError verifies that CategorizeError maps fetch errors to the
// correct ErrorCategory, including wrapped causes and message-based heuristics.
func TestCategorizeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"nil", nil, ""},
		{"timeout context", context.DeadlineExceeded, ErrorCategoryTimeout},
		{"canceled context", context.Canceled, ErrorCategoryTimeout},
		{"transport wrapping timeout", &FetchError{Kind: KindTransport, Endpoint: "weather", Err: fmt.Errorf("request timeout: %w", context.DeadlineExceeded)}, ErrorCategoryTimeout},
		{"transport connection refused", &FetchError{Kind: KindTransport, Endpoint: "weather", Err: errors.New("dial tcp: connection refused")}, ErrorCategoryNetwork},
		{"circuit open", &FetchError{Kind: KindTransport, Endpoint: "weather", Err: errors.Join(circuitbreaker.ErrOpen, errors.New("open state"))}, ErrorCategoryCircuitOpen},
		{"exhausted", &FetchError{Kind: KindAllCredentialsExhausted, Endpoint: "weather", StatusCode: 429, Attempts: 3}, ErrorCategoryCredentialsExhausted},
		{"malformed", &FetchError{Kind: KindMalformedResponse, Endpoint: "weather", Err: errMissingTemp}, ErrorCategoryParsing},
		{"provider 404", &FetchError{Kind: KindProvider, Endpoint: "weather", StatusCode: 404}, ErrorCategoryLocationNotFound},
		{"provider 400", &FetchError{Kind: KindProvider, Endpoint: "weather", StatusCode: 400}, ErrorCategoryUpstream4xx},
		{"provider 503", &FetchError{Kind: KindProvider, Endpoint: "weather", StatusCode: 503}, ErrorCategoryUpstream5xx},
		{"wrapped provider", fmt.Errorf("district 7: %w", &FetchError{Kind: KindProvider, StatusCode: 500}), ErrorCategoryUpstream5xx},
		{"parse in message", errors.New("parse response: invalid json"), ErrorCategoryParsing},
		{"unknown", errors.New("something else"), ErrorCategoryUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CategorizeError(tt.err)
			if got != tt.want {
				t.Errorf("CategorizeError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFetchError_IsKind(t *testing.T) {
	err := error(&FetchError{Kind: KindTransport, Endpoint: "weather", Err: context.Canceled})
	if !errors.Is(err, ErrTransport) {
		t.Error("errors.Is(err, ErrTransport) = false, want true")
	}
	if !errors.Is(err, context.Canceled) {
		t.Error("errors.Is(err, context.Canceled) = false, want true")
	}
	if errors.Is(err, ErrProvider) {
		t.Error("errors.Is(err, ErrProvider) = true, want false")
	}

	exhausted := &FetchError{Kind: KindAllCredentialsExhausted, Endpoint: "forecast", StatusCode: 429, Attempts: 2}
	if got, want := exhausted.Error(), "forecast all_credentials_exhausted (HTTP 429) after 2 attempts"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
