// Package dispatch fans a single prompt out to a set of configured providers
// and reports one outcome per provider with monotonic progress counts.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/chatlist/gateway/pkg/cache"
	"github.com/chatlist/gateway/pkg/metrics"
	"github.com/chatlist/gateway/pkg/provider"
	"github.com/chatlist/gateway/pkg/resilience"
)

// Request is one fan-out of a single prompt to a set of providers. It is
// consumed by a single Dispatch call and discarded.
type Request struct {
	Prompt     string
	Providers  []provider.Descriptor
	Timeout    time.Duration
	MaxRetries int
}

// Outcome is the per-provider result of a dispatch. Exactly one Outcome is
// produced per requested provider, success or failure. Completed/Total are
// stamped in delivery order and Completed increases monotonically; the
// outcome with Completed == Total is the last one, and the channel closing is
// the terminal completion signal.
type Outcome struct {
	DispatchID     string  `json:"dispatch_id"`
	ProviderID     string  `json:"provider_id"`
	DisplayName    string  `json:"display_name"`
	CredentialName string  `json:"credential_name"`
	Text           string  `json:"text,omitempty"`
	ErrorMessage   string  `json:"error,omitempty"`
	IsError        bool    `json:"is_error"`
	FromCache      bool    `json:"from_cache,omitempty"`
	Completed      int     `json:"completed"`
	Total          int     `json:"total"`
	ElapsedMs      float64 `json:"elapsed_ms"`

	model       string
	cacheLookup bool
}

// ClientSource hands out one configured client per descriptor. A missing
// credential surfaces here as a *provider.ConfigError.
type ClientSource interface {
	Client(d provider.Descriptor, timeout time.Duration, maxRetries int) (provider.Client, error)
}

// Cache is an optional exact-match response cache consulted before any
// network attempt. Lookup errors are logged and treated as misses.
type Cache interface {
	Get(ctx context.Context, key string) (text string, hit bool, err error)
	Set(ctx context.Context, key, text string) error
}

// Dispatcher runs dispatch batches. Providers within one batch execute
// concurrently up to a configurable limit; one provider's failure never
// aborts its siblings.
type Dispatcher struct {
	clients ClientSource
	cache   Cache
	limit   int
	logger  zerolog.Logger

	breakerCfg *resilience.CircuitBreakerConfig
	bmu        sync.Mutex
	breakers   map[string]*resilience.CircuitBreaker
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithCache enables the exact-match response cache.
func WithCache(c Cache) Option {
	return func(d *Dispatcher) { d.cache = c }
}

// WithCircuitBreaker enables a per-provider circuit breaker. A tripped
// breaker turns into an immediate error outcome instead of burning the
// provider's retry budget.
func WithCircuitBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(d *Dispatcher) { d.breakerCfg = &cfg }
}

// WithConcurrency bounds how many providers run at once (default 4).
func WithConcurrency(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.limit = n
		}
	}
}

// WithLogger sets the dispatcher's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// New creates a Dispatcher over the given client source.
func New(clients ClientSource, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		clients:  clients,
		limit:    4,
		logger:   zerolog.Nop(),
		breakers: make(map[string]*resilience.CircuitBreaker),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch sends the prompt to every provider in the request and returns a
// channel of outcomes. The channel delivers exactly len(req.Providers)
// outcomes and is then closed. Cancelling ctx abandons in-flight providers;
// their outcomes report the cancellation as an error, so the
// one-outcome-per-provider invariant holds either way.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) <-chan Outcome {
	total := len(req.Providers)
	dispatchID := uuid.NewString()
	logger := d.logger.With().Str("dispatch_id", dispatchID).Logger()

	metrics.DispatchesTotal.Inc()
	logger.Info().Int("providers", total).Msg("dispatch started")

	out := make(chan Outcome)
	results := make(chan Outcome)

	go func() {
		g := new(errgroup.Group)
		g.SetLimit(d.limit)

		for _, desc := range req.Providers {
			desc := desc // each worker owns its descriptor copy
			g.Go(func() error {
				o := d.runOne(ctx, req, desc)
				o.DispatchID = dispatchID
				results <- o
				return nil
			})
		}

		g.Wait() //nolint:errcheck // workers never return errors; failures are outcomes
		close(results)
	}()

	go func() {
		defer close(out)

		completed := 0
		for o := range results {
			completed++
			o.Completed = completed
			o.Total = total

			d.record(logger, o)

			select {
			case out <- o:
			case <-ctx.Done():
				// Receiver is gone; keep draining so workers can finish.
			}
		}

		logger.Info().Int("completed", completed).Msg("dispatch complete")
	}()

	return out
}

// runOne produces the outcome for a single provider: cache lookup, client
// construction, then the retried request. Every failure mode ends up inside
// the outcome, never escaping to abort the batch.
func (d *Dispatcher) runOne(ctx context.Context, req Request, desc provider.Descriptor) Outcome {
	start := time.Now()
	o := Outcome{
		ProviderID:     desc.ID,
		DisplayName:    desc.DisplayName,
		CredentialName: desc.CredentialName,
		Total:          len(req.Providers),
		model:          desc.Model,
	}

	metrics.InFlightRequests.Inc()
	defer metrics.InFlightRequests.Dec()

	key := cache.Key(desc.ID, desc.Model, req.Prompt)
	if d.cache != nil {
		o.cacheLookup = true
		text, hit, err := d.cache.Get(ctx, key)
		if err != nil {
			d.logger.Warn().Err(err).Str("provider", desc.DisplayName).Msg("cache lookup failed, treating as miss")
		}
		if hit {
			o.Text = text
			o.FromCache = true
			o.ElapsedMs = elapsedMs(start)
			return o
		}
	}

	text, err := d.send(ctx, req, desc)
	o.ElapsedMs = elapsedMs(start)
	if err != nil {
		o.IsError = true
		o.ErrorMessage = err.Error()
		return o
	}

	o.Text = text

	if d.cache != nil {
		go func() {
			cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := d.cache.Set(cctx, key, text); err != nil {
				d.logger.Warn().Err(err).Str("provider", desc.DisplayName).Msg("cache store failed")
			}
		}()
	}

	return o
}

func (d *Dispatcher) send(ctx context.Context, req Request, desc provider.Descriptor) (string, error) {
	client, err := d.clients.Client(desc, req.Timeout, req.MaxRetries)
	if err != nil {
		// Configuration errors never reach the breaker: the endpoint is fine,
		// the local setup is not.
		return "", err
	}

	br := d.breakerFor(desc)
	if br == nil {
		return client.Send(ctx, req.Prompt)
	}

	var text string
	err = br.Execute(func() error {
		var sendErr error
		text, sendErr = client.Send(ctx, req.Prompt)
		return sendErr
	})
	metrics.CircuitBreakerState.WithLabelValues(desc.DisplayName).Set(float64(br.State()))
	return text, err
}

func (d *Dispatcher) breakerFor(desc provider.Descriptor) *resilience.CircuitBreaker {
	if d.breakerCfg == nil {
		return nil
	}

	d.bmu.Lock()
	defer d.bmu.Unlock()

	br, ok := d.breakers[desc.ID]
	if !ok {
		br = resilience.NewCircuitBreaker(*d.breakerCfg)
		d.breakers[desc.ID] = br
	}
	return br
}

// record emits per-outcome metrics and logs. Concurrent dispatches each run
// their own collector, so everything recorded here must be goroutine-safe.
func (d *Dispatcher) record(logger zerolog.Logger, o Outcome) {
	status := "ok"
	switch {
	case o.FromCache:
		status = "cache_hit"
	case o.IsError:
		status = "error"
	}

	metrics.OutcomesTotal.WithLabelValues(o.DisplayName, status).Inc()
	metrics.RequestLatency.WithLabelValues(o.DisplayName, o.model, status).Observe(o.ElapsedMs / 1000)
	if o.cacheLookup {
		metrics.RecordCacheLookup(o.FromCache)
	}

	evt := logger.Info()
	if o.IsError {
		evt = logger.Error().Str("error", o.ErrorMessage)
	}
	evt.Str("provider", o.DisplayName).
		Int("completed", o.Completed).
		Int("total", o.Total).
		Bool("from_cache", o.FromCache).
		Msg("provider outcome")
}

func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}
