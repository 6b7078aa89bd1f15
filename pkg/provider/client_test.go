package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatlist/gateway/pkg/secrets"
)

func testDescriptor(baseURL string) Descriptor {
	return Descriptor{
		ID:             "p1",
		DisplayName:    "Test Provider",
		Model:          "test-model",
		BaseURL:        baseURL,
		CredentialName: "TEST_KEY",
		Active:         true,
	}
}

// testClient builds a ChatClient against the given server with instant sleeps.
func testClient(t *testing.T, store secrets.Store, baseURL string, maxRetries int) *ChatClient {
	t.Helper()

	f := NewFactory(store, zerolog.Nop())
	c, err := f.Client(testDescriptor(baseURL), 5*time.Second, maxRetries)
	require.NoError(t, err)

	cc, ok := c.(*ChatClient)
	require.True(t, ok)
	cc.retry.Sleep = func(context.Context, time.Duration) error { return nil }
	return cc
}

func TestSendExtractsAnswerText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"hello there"}}]}`))
	}))
	defer srv.Close()

	c := testClient(t, secrets.Static{"TEST_KEY": "sk-test"}, srv.URL, 3)

	text, err := c.Send(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "hello there", text)
}

func TestMissingCredentialIsConfigError(t *testing.T) {
	f := NewFactory(secrets.Static{}, zerolog.Nop())

	_, err := f.Client(testDescriptor("https://api.openai.com/v1/chat/completions"), 0, 0)
	require.Error(t, err)

	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "TEST_KEY", cfgErr.CredentialName)
	assert.Contains(t, err.Error(), `credential "TEST_KEY" not configured`)
}

func TestDialectSelection(t *testing.T) {
	tests := []struct {
		baseURL string
		want    string
	}{
		{"https://openrouter.ai/api/v1/chat/completions", "openrouter"},
		{"https://OPENROUTER.ai/api/v1", "openrouter"},
		{"https://api.openai.com/v1/chat/completions", "openai"},
		{"https://api.deepseek.com/chat/completions", "deepseek"},
		{"https://api.groq.com/openai/v1/chat/completions", "groq"},
		{"https://llm.example.com/v1/chat/completions", "openai-compatible"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, dialectFor(tt.baseURL).name, tt.baseURL)
	}
}

func TestOpenRouterHeaders(t *testing.T) {
	var referer, title atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		referer.Store(r.Header.Get("HTTP-Referer"))
		title.Store(r.Header.Get("X-Title"))
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	f := NewFactory(secrets.Static{"TEST_KEY": "sk-test"}, zerolog.Nop())
	d := testDescriptor(srv.URL)
	d.BaseURL = srv.URL + "/openrouter/api/v1" // route still hits the test server mux

	// Point at the test server but keep the openrouter marker in the path.
	srvDialect := dialectFor(d.BaseURL)
	require.Equal(t, "openrouter", srvDialect.name)

	c, err := f.Client(d, 5*time.Second, 1)
	require.NoError(t, err)

	_, err = c.Send(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/chatlist/gateway", referer.Load())
	assert.Equal(t, "ChatList", title.Load())
}

func TestAuthFailureIsTerminal(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	defer srv.Close()

	c := testClient(t, secrets.Static{"TEST_KEY": "bad"}, srv.URL, 3)

	_, err := c.Send(context.Background(), "hi")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, KindAuthFailure, apiErr.Kind)
	assert.Equal(t, "invalid API key", apiErr.Detail)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "auth failures never retry")
}

func TestRateLimitRetriesWithBackoffThenExhausts(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"slow down"}}`))
	}))
	defer srv.Close()

	c := testClient(t, secrets.Static{"TEST_KEY": "sk"}, srv.URL, 3)

	var delays []time.Duration
	c.retry.Sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	_, err := c.Send(context.Background(), "hi")
	require.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, delays)
	assert.Contains(t, err.Error(), "request failed after 3 attempts")

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, KindRateLimited, apiErr.Kind)
}

func TestRateLimitExhaustionBenchesRingKey(t *testing.T) {
	t.Setenv("TEST_KEY", "key-a,key-b")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	store := secrets.NewEnv()
	c := testClient(t, store, srv.URL, 2)

	_, err := c.Send(context.Background(), "hi")
	require.Error(t, err)

	// key-a was handed out and exhausted on 429s; it must now be benched so
	// the next lookups serve key-b only.
	for i := 0; i < 3; i++ {
		v, ok := store.Lookup("TEST_KEY")
		require.True(t, ok)
		assert.Equal(t, "key-b", v)
	}
}

func TestMalformedBodyRetriedThenExhausts(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte("not json at all"))
	}))
	defer srv.Close()

	c := testClient(t, secrets.Static{"TEST_KEY": "sk"}, srv.URL, 3)

	_, err := c.Send(context.Background(), "hi")
	require.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, KindMalformedBody, apiErr.Kind)
	assert.Contains(t, err.Error(), "not valid JSON")
}

func TestTransientFailureRecovers(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":{"message":"overloaded"}}`))
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"finally"}}]}`))
	}))
	defer srv.Close()

	c := testClient(t, secrets.Static{"TEST_KEY": "sk"}, srv.URL, 3)

	text, err := c.Send(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "finally", text)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestEmptyChoicesIsProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := testClient(t, secrets.Static{"TEST_KEY": "sk"}, srv.URL, 1)

	_, err := c.Send(context.Background(), "hi")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, KindProviderError, apiErr.Kind)
	assert.Contains(t, apiErr.Detail, "no choices")
}

func TestNetworkErrorIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // connection refused from here on

	c := testClient(t, secrets.Static{"TEST_KEY": "sk"}, srv.URL, 1)

	_, err := c.Send(context.Background(), "hi")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, KindTransport, apiErr.Kind)
	assert.Contains(t, apiErr.Detail, "network error")
}

func TestClientName(t *testing.T) {
	c := testClient(t, secrets.Static{"TEST_KEY": "sk"}, "https://example.com", 1)
	assert.Equal(t, "Test Provider", c.Name())
}
