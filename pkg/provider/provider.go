// Package provider implements chat-completion clients for URL-identified
// endpoints. All supported dialects share the OpenAI-compatible wire shape
// and differ only in auxiliary request headers; the dialect is selected by a
// case-insensitive substring match on the base URL.
package provider

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/chatlist/gateway/pkg/metrics"
	"github.com/chatlist/gateway/pkg/resilience"
	"github.com/chatlist/gateway/pkg/secrets"
)

// Descriptor identifies one configured chat-completion endpoint. It is an
// immutable snapshot owned by the configuration layer; the gateway copies it
// for the duration of one dispatch and never shares it back.
type Descriptor struct {
	ID             string `json:"id"`
	DisplayName    string `json:"display_name"`
	Model          string `json:"model"`
	BaseURL        string `json:"base_url"`
	CredentialName string `json:"credential_name"`
	Active         bool   `json:"active"`
}

// Client sends one prompt to one provider and returns the answer text.
// Send wraps the request in the retry policy; the error it returns is
// terminal for this provider.
type Client interface {
	Send(ctx context.Context, prompt string) (string, error)
	Name() string
}

// Factory builds clients for descriptors, resolving credentials from the
// secret store. A missing credential is a *ConfigError, raised before any
// network attempt.
type Factory struct {
	Secrets secrets.Store
	// HTTPClient overrides the per-client HTTP client; when nil each client
	// gets its own with the requested per-call timeout.
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// NewFactory creates a Factory over the given secret store.
func NewFactory(store secrets.Store, logger zerolog.Logger) *Factory {
	return &Factory{Secrets: store, Logger: logger}
}

// Client returns a ready-to-send client for the descriptor. timeout bounds a
// single HTTP call; maxRetries bounds the attempt budget.
func (f *Factory) Client(d Descriptor, timeout time.Duration, maxRetries int) (Client, error) {
	key, ok := f.Secrets.Lookup(d.CredentialName)
	if !ok {
		return nil, &ConfigError{CredentialName: d.CredentialName}
	}

	httpClient := f.HTTPClient
	if httpClient == nil {
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	dia := dialectFor(d.BaseURL)
	logger := f.Logger.With().
		Str("provider", d.DisplayName).
		Str("dialect", dia.name).
		Str("model", d.Model).
		Logger()

	retryCfg := resilience.DefaultRetryConfig()
	if maxRetries > 0 {
		retryCfg.MaxAttempts = maxRetries
	}
	retryCfg.OnRetry = func(attempt int, class resilience.RetryClass, delay time.Duration) {
		metrics.RetrySleepsTotal.WithLabelValues(class.String()).Inc()
		logger.Warn().
			Int("attempt", attempt+1).
			Int("budget", retryCfg.MaxAttempts).
			Stringer("class", class).
			Dur("delay", delay).
			Msg("request attempt failed, retrying")
	}

	c := &ChatClient{
		desc:    d,
		dialect: dia,
		apiKey:  key,
		http:    httpClient,
		retry:   retryCfg,
		timeout: timeout,
		logger:  logger,
	}

	// Rotating stores bench the key when a rate limit survives all retries.
	if marker, ok := f.Secrets.(secrets.RateLimitMarker); ok {
		c.benchKey = func() {
			marker.MarkRateLimited(d.CredentialName, key, time.Now().Add(time.Minute))
		}
	}

	return c, nil
}
