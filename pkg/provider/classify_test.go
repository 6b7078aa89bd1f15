package provider

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifySuccess(t *testing.T) {
	got := Classify(200, "application/json", []byte(`{"choices":[]}`))
	assert.Equal(t, KindSuccess, got.Kind)
	assert.Empty(t, got.Diagnostic)
}

func TestClassifyEmptyBody(t *testing.T) {
	for _, body := range []string{"", "   ", "\n\t"} {
		got := Classify(200, "application/json", []byte(body))
		assert.Equal(t, KindEmptyBody, got.Kind)
		assert.Equal(t, "empty response from server", got.Diagnostic)
	}
}

func TestClassifyHTMLOn200(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		wantDiag    string
	}{
		{
			name:        "doctype with 404",
			contentType: "application/json",
			body:        "<!DOCTYPE html><html><body>404 Not Found</body></html>",
			wantDiag:    "likely wrong API URL (404 Not Found)",
		},
		{
			name:        "html content type",
			contentType: "text/html; charset=utf-8",
			body:        "<html><body>401 Unauthorized</body></html>",
			wantDiag:    "authentication problem (401 Unauthorized)",
		},
		{
			name:        "forbidden page",
			contentType: "text/html",
			body:        "<html><body>Forbidden</body></html>",
			wantDiag:    "access denied (403 Forbidden)",
		},
		{
			name:        "server error page",
			contentType: "text/html",
			body:        "<HTML>Internal Server Error</HTML>",
			wantDiag:    "server error (500 Internal Server Error)",
		},
		{
			name:        "title fallback",
			contentType: "text/html",
			body:        "<html><head><title>Maintenance window</title></head></html>",
			wantDiag:    "page title: Maintenance window",
		},
		{
			name:        "generic fallback",
			contentType: "text/html",
			body:        "<html><body>nothing recognizable</body></html>",
			wantDiag:    "check the API URL and API key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(200, tt.contentType, []byte(tt.body))
			assert.Equal(t, KindServerHTML, got.Kind)
			assert.Equal(t, "server returned HTML instead of JSON: "+tt.wantDiag, got.Diagnostic)
		})
	}
}

func TestClassifyHTMLTitleTooLongFallsThrough(t *testing.T) {
	title := strings.Repeat("x", 120)
	got := Classify(200, "text/html", []byte("<html><title>"+title+"</title></html>"))
	assert.Equal(t, KindServerHTML, got.Kind)
	assert.Contains(t, got.Diagnostic, "check the API URL and API key")
}

func TestClassifyMalformedJSONOn200(t *testing.T) {
	long := strings.Repeat("a", 150)
	got := Classify(200, "application/json", []byte(long))

	assert.Equal(t, KindMalformedBody, got.Kind)
	assert.Equal(t, "response is not valid JSON: "+strings.Repeat("a", 100), got.Diagnostic)
}

func TestClassifyTruncationKeepsRunesIntact(t *testing.T) {
	// A two-byte rune straddling the 100-byte boundary must not be split.
	body := strings.Repeat("a", 99) + "é" + strings.Repeat("b", 50)
	got := Classify(200, "application/json", []byte(body))

	require.Equal(t, KindMalformedBody, got.Kind)
	diag := strings.TrimPrefix(got.Diagnostic, "response is not valid JSON: ")
	assert.Equal(t, strings.Repeat("a", 99), diag)
	assert.True(t, utf8.ValidString(diag))
}

func TestClassifyAuthFailure(t *testing.T) {
	got := Classify(401, "application/json", []byte(`{"error":{"message":"bad key"}}`))
	assert.Equal(t, KindAuthFailure, got.Kind)
	assert.Equal(t, "invalid API key", got.Diagnostic)
}

func TestClassifyRateLimited(t *testing.T) {
	got := Classify(429, "application/json", []byte(`{"error":{"message":"slow down"}}`))
	assert.Equal(t, KindRateLimited, got.Kind)
	assert.Contains(t, got.Diagnostic, "rate limited (429)")
}

func TestClassifyOtherStatusJSONError(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{
			name:   "nested error message",
			status: 500,
			body:   `{"error":{"message":"model overloaded"}}`,
			want:   "(500) model overloaded",
		},
		{
			name:   "flat message",
			status: 503,
			body:   `{"message":"service unavailable"}`,
			want:   "(503) service unavailable",
		},
		{
			name:   "message already names the status",
			status: 502,
			body:   `{"message":"upstream returned 502"}`,
			want:   "upstream returned 502",
		},
		{
			name:   "unparseable body",
			status: 500,
			body:   "plain text failure",
			want:   "(500) plain text failure",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.status, "application/json", []byte(tt.body))
			assert.Equal(t, KindProviderError, got.Kind)
			assert.Equal(t, tt.want, got.Diagnostic)
		})
	}
}

func TestClassifyOtherStatusRawBodyTruncated(t *testing.T) {
	long := strings.Repeat("b", 300)
	got := Classify(500, "text/plain", []byte(long))

	assert.Equal(t, KindProviderError, got.Kind)
	assert.Equal(t, "(500) "+strings.Repeat("b", 200), got.Diagnostic)
}

func TestClassifyHTMLOnErrorStatus(t *testing.T) {
	got := Classify(502, "text/html", []byte("<html><body>Bad Gateway 502</body></html>"))
	assert.Equal(t, KindServerHTML, got.Kind)
	assert.Contains(t, got.Diagnostic, "(502)")
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "auth_failure", KindAuthFailure.String())
	assert.Equal(t, "rate_limited", KindRateLimited.String())
	assert.Equal(t, "empty_body", KindEmptyBody.String())
}
