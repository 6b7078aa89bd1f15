package provider

import (
	"fmt"

	"github.com/chatlist/gateway/pkg/resilience"
)

// Kind classifies a provider request failure. The retry engine keys its
// backoff policy off the kind, and the dispatcher surfaces it so the caller
// can tell a bad credential from a bad URL from a transient outage.
type Kind int

const (
	KindSuccess Kind = iota
	KindEmptyBody
	KindServerHTML
	KindMalformedBody
	KindAuthFailure
	KindRateLimited
	KindProviderError
	KindTransport
)

// String returns a short label for the kind.
func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindEmptyBody:
		return "empty_body"
	case KindServerHTML:
		return "html_body"
	case KindMalformedBody:
		return "malformed_body"
	case KindAuthFailure:
		return "auth_failure"
	case KindRateLimited:
		return "rate_limited"
	case KindProviderError:
		return "provider_error"
	case KindTransport:
		return "transport_error"
	default:
		return "unknown"
	}
}

// APIError is a classified transport or protocol failure from one request
// attempt. Detail is a human-readable diagnostic specific enough to tell the
// user what to fix.
type APIError struct {
	Kind   Kind
	Status int
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return e.Kind.String()
}

// RetryClass maps the error kind to the retry engine's treatment: rate limits
// back off exponentially, auth failures stop immediately, everything else
// retries on the fixed schedule within the attempt budget.
func (e *APIError) RetryClass() resilience.RetryClass {
	switch e.Kind {
	case KindRateLimited:
		return resilience.RetryBackoff
	case KindAuthFailure:
		return resilience.RetryNever
	default:
		return resilience.RetryFixed
	}
}

// ConfigError reports a credential missing from the secret store. It is
// raised before any network attempt and never retried.
type ConfigError struct {
	CredentialName string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("credential %q not configured", e.CredentialName)
}

// RetryClass marks configuration errors as terminal.
func (e *ConfigError) RetryClass() resilience.RetryClass { return resilience.RetryNever }

var (
	_ resilience.Classified = (*APIError)(nil)
	_ resilience.Classified = (*ConfigError)(nil)
)
