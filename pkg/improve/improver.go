package improve

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/chatlist/gateway/pkg/provider"
)

const (
	// DefaultVariantBound is how many variants ImproveWithVariants asks for
	// when the caller does not say. Bounds are clamped into [MinVariants,
	// MaxVariants] regardless.
	DefaultVariantBound = 3
	MinVariants         = 2
	MaxVariants         = 3

	defaultTimeout    = 60 * time.Second
	defaultMaxRetries = 3
)

// ClientSource hands out one configured client per descriptor.
type ClientSource interface {
	Client(d provider.Descriptor, timeout time.Duration, maxRetries int) (provider.Client, error)
}

// Improver runs prompt-improvement operations through a single provider. All
// parsing is best-effort: a model that ignores the requested format still
// yields a usable result, degrading down to the original prompt.
type Improver struct {
	clients    ClientSource
	timeout    time.Duration
	maxRetries int
	logger     zerolog.Logger
}

// ImproverOption configures an Improver.
type ImproverOption func(*Improver)

// WithTimeout sets the per-request timeout (default 60s).
func WithTimeout(d time.Duration) ImproverOption {
	return func(i *Improver) {
		if d > 0 {
			i.timeout = d
		}
	}
}

// WithMaxRetries sets the retry budget passed to clients (default 3).
func WithMaxRetries(n int) ImproverOption {
	return func(i *Improver) {
		if n > 0 {
			i.maxRetries = n
		}
	}
}

// WithImproverLogger sets the improver's logger.
func WithImproverLogger(l zerolog.Logger) ImproverOption {
	return func(i *Improver) { i.logger = l }
}

// NewImprover creates an Improver over the given client source.
func NewImprover(clients ClientSource, opts ...ImproverOption) *Improver {
	i := &Improver{
		clients:    clients,
		timeout:    defaultTimeout,
		maxRetries: defaultMaxRetries,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Improve rewrites the prompt for clarity using the given provider. On any
// parsing shortfall the original prompt comes back unchanged; only transport
// and provider failures surface as errors.
func (i *Improver) Improve(ctx context.Context, prompt string, d provider.Descriptor) (string, error) {
	response, err := i.ask(ctx, d, ImprovementPrompt(prompt))
	if err != nil {
		return "", err
	}
	return ExtractImproved(response, prompt), nil
}

// GenerateVariants asks for n alternative phrasings of the prompt. The result
// holds at most n variants and may hold fewer when the model underdelivers.
func (i *Improver) GenerateVariants(ctx context.Context, prompt string, d provider.Descriptor, n int) ([]string, error) {
	n = clampBound(n)

	response, err := i.ask(ctx, d, VariantsPrompt(prompt, n))
	if err != nil {
		return nil, err
	}
	return ExtractVariants(response, n), nil
}

// Adapt rewrites the prompt for a task category.
func (i *Improver) Adapt(ctx context.Context, prompt string, d provider.Descriptor, h Hint) (string, error) {
	response, err := i.ask(ctx, d, AdaptationPrompt(prompt, h))
	if err != nil {
		return "", err
	}
	return ExtractImproved(response, prompt), nil
}

// ImproveWithVariants runs the combined operation: one request yields both the
// improved prompt and up to bound variants.
func (i *Improver) ImproveWithVariants(ctx context.Context, prompt string, d provider.Descriptor, h Hint, bound int) (ImprovementResult, error) {
	bound = clampBound(bound)

	response, err := i.ask(ctx, d, CombinedPrompt(prompt, h))
	if err != nil {
		return ImprovementResult{}, err
	}
	return ParseCombined(response, prompt, bound), nil
}

func (i *Improver) ask(ctx context.Context, d provider.Descriptor, instruction string) (string, error) {
	if strings.TrimSpace(instruction) == "" {
		return "", fmt.Errorf("improve: empty instruction")
	}

	client, err := i.clients.Client(d, i.timeout, i.maxRetries)
	if err != nil {
		return "", err
	}

	start := time.Now()
	response, err := client.Send(ctx, instruction)
	if err != nil {
		i.logger.Error().Err(err).Str("provider", d.DisplayName).Msg("improvement request failed")
		return "", err
	}

	i.logger.Debug().
		Str("provider", d.DisplayName).
		Dur("elapsed", time.Since(start)).
		Msg("improvement response received")
	return response, nil
}

func clampBound(n int) int {
	switch {
	case n <= 0:
		return DefaultVariantBound
	case n < MinVariants:
		return MinVariants
	case n > MaxVariants:
		return MaxVariants
	}
	return n
}
