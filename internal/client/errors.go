package client

import (
	"errors"
	"fmt"
)

// Sentinel kinds; a *FetchError matches exactly one of them with errors.Is.
var (
	ErrTransport               = errors.New("transport failure")
	ErrProvider                = errors.New("provider error")
	ErrMalformedResponse       = errors.New("malformed response")
	ErrAllCredentialsExhausted = errors.New("all credentials exhausted")
)

// ErrInvalidTarget is returned without any request when a lookup has nothing to query by.
var ErrInvalidTarget = errors.New("target has neither coordinates nor name")

// Kind classifies a failed logical fetch.
type Kind int

const (
	KindTransport Kind = iota + 1
	KindProvider
	KindMalformedResponse
	KindAllCredentialsExhausted
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindProvider:
		return "provider_error"
	case KindMalformedResponse:
		return "malformed_response"
	case KindAllCredentialsExhausted:
		return "all_credentials_exhausted"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindTransport:
		return ErrTransport
	case KindProvider:
		return ErrProvider
	case KindMalformedResponse:
		return ErrMalformedResponse
	case KindAllCredentialsExhausted:
		return ErrAllCredentialsExhausted
	default:
		return nil
	}
}

// FetchError is the failure of one logical provider call after any key rotation.
type FetchError struct {
	Kind       Kind
	Endpoint   string
	StatusCode int // last HTTP status seen, 0 if none
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("%s %s", e.Endpoint, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Kind == KindAllCredentialsExhausted {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *FetchError) Unwrap() []error {
	var errs []error
	if s := e.Kind.sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// ErrCombinedUnsupported is returned by FetchCurrentAndForecast outside onecall mode.
var ErrCombinedUnsupported = errors.New("combined current and forecast fetch requires onecall mode")
