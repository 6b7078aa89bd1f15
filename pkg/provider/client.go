package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/chatlist/gateway/pkg/resilience"
)

// dialect captures the per-provider differences on top of the shared
// OpenAI-compatible wire shape. The differences are limited to auxiliary
// request headers, so a header table replaces an inheritance chain.
type dialect struct {
	name    string
	headers map[string]string
}

var dialectTable = []struct {
	match string
	d     dialect
}{
	{"openrouter", dialect{
		name: "openrouter",
		headers: map[string]string{
			"HTTP-Referer": "https://github.com/chatlist/gateway",
			"X-Title":      "ChatList",
		},
	}},
	{"api.openai.com", dialect{name: "openai"}},
	{"openai", dialect{name: "openai"}},
	{"deepseek", dialect{name: "deepseek"}},
	{"groq", dialect{name: "groq"}},
}

// dialectFor selects the dialect by case-insensitive substring match on the
// base URL. Unknown URLs default to the OpenAI-compatible dialect, which is
// what virtually every provider in this domain exposes.
func dialectFor(baseURL string) dialect {
	lower := strings.ToLower(baseURL)
	for _, entry := range dialectTable {
		if strings.Contains(lower, entry.match) {
			return entry.d
		}
	}
	return dialect{name: "openai-compatible"}
}

// ---------------------------------------------------------------------------
// Wire types (OpenAI-compatible chat completions)
// ---------------------------------------------------------------------------

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// ChatClient sends prompts to one OpenAI-compatible endpoint, retrying
// classified failures per logical request.
type ChatClient struct {
	desc    Descriptor
	dialect dialect
	apiKey  string
	http    *http.Client
	retry   resilience.RetryConfig
	timeout time.Duration
	logger  zerolog.Logger

	// benchKey, when set, benches the API key after a rate limit survives
	// every retry attempt.
	benchKey func()
}

// Name returns the provider's display name.
func (c *ChatClient) Name() string { return c.desc.DisplayName }

// Send posts the prompt and returns the model's answer text. Transport and
// protocol failures are retried per their kind; the returned error is the
// terminal verdict for this provider.
func (c *ChatClient) Send(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model:    c.desc.Model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("%s: marshal request: %w", c.dialect.name, err)
	}

	var text string
	err = resilience.Retry(ctx, c.retry, func(ctx context.Context) error {
		out, attemptErr := c.attempt(ctx, payload)
		if attemptErr != nil {
			return attemptErr
		}
		text = out
		return nil
	})
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Kind == KindRateLimited && c.benchKey != nil {
			c.benchKey()
		}
		return "", err
	}

	return text, nil
}

// attempt performs a single request/classify/extract cycle.
func (c *ChatClient) attempt(ctx context.Context, payload []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.desc.BaseURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("%s: build request: %w", c.dialect.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	for k, v := range c.dialect.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", c.transportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &APIError{Kind: KindTransport, Detail: "reading response body: " + err.Error()}
	}

	verdict := Classify(resp.StatusCode, resp.Header.Get("Content-Type"), body)
	if verdict.Kind != KindSuccess {
		return "", &APIError{Kind: verdict.Kind, Status: resp.StatusCode, Detail: verdict.Diagnostic}
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", &APIError{Kind: KindMalformedBody, Status: resp.StatusCode,
			Detail: "response is not valid JSON: " + truncate(string(body), 100)}
	}
	if len(parsed.Choices) == 0 {
		return "", &APIError{Kind: KindProviderError, Status: resp.StatusCode,
			Detail: "unexpected response shape: no choices"}
	}

	return parsed.Choices[0].Message.Content, nil
}

func (c *ChatClient) transportError(err error) *APIError {
	var netErr net.Error
	timedOut := errors.As(err, &netErr) && netErr.Timeout() || errors.Is(err, context.DeadlineExceeded)
	if timedOut {
		return &APIError{Kind: KindTransport, Detail: fmt.Sprintf("request timed out after %s", c.timeout)}
	}
	return &APIError{Kind: KindTransport, Detail: "network error: " + err.Error()}
}

var _ Client = (*ChatClient)(nil)
