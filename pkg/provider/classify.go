package provider

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Classification is the verdict on one raw HTTP response.
type Classification struct {
	Kind       Kind
	Diagnostic string
}

// Classify triages a raw provider response into an error kind plus a
// human-readable diagnostic. Rules apply in order:
//
//  1. 200 with an empty trimmed body → KindEmptyBody.
//  2. 200 with an HTML body → KindServerHTML with an extracted diagnostic.
//  3. 200 that is not valid JSON → KindMalformedBody, body truncated to 100 chars.
//  4. 200 valid JSON → KindSuccess; schema extraction is the client's job.
//  5. 401 → KindAuthFailure.
//  6. 429 → KindRateLimited (retried with backoff, not failed outright).
//  7. Any other status: HTML bodies get the HTML diagnostic, everything else
//     gets JSON error extraction with the status code prefixed.
func Classify(status int, contentType string, body []byte) Classification {
	text := strings.TrimSpace(string(body))

	switch {
	case status == 200:
		if text == "" {
			return Classification{KindEmptyBody, "empty response from server"}
		}
		if looksLikeHTML(contentType, text) {
			return Classification{KindServerHTML, "server returned HTML instead of JSON: " + htmlDiagnostic(text)}
		}
		if !json.Valid([]byte(text)) {
			return Classification{KindMalformedBody, "response is not valid JSON: " + truncate(text, 100)}
		}
		return Classification{Kind: KindSuccess}

	case status == 401:
		return Classification{KindAuthFailure, "invalid API key"}

	case status == 429:
		return Classification{KindRateLimited, fmt.Sprintf("rate limited (429): %s", truncate(text, 200))}

	default:
		if looksLikeHTMLBody(text) {
			return Classification{KindServerHTML, fmt.Sprintf("(%d) %s", status, htmlDiagnostic(text))}
		}
		return Classification{KindProviderError, jsonErrorDiagnostic(text, status)}
	}
}

// looksLikeHTML detects HTML either from the content type or the body prefix.
func looksLikeHTML(contentType, text string) bool {
	if strings.Contains(strings.ToLower(contentType), "text/html") {
		return true
	}
	return looksLikeHTMLBody(text)
}

func looksLikeHTMLBody(text string) bool {
	return strings.HasPrefix(text, "<!DOCTYPE") ||
		strings.HasPrefix(text, "<html") ||
		strings.HasPrefix(text, "<HTML")
}

// htmlDiagnostic scans an HTML error page for known failure signatures and
// falls back to the page title, then to a generic hint.
func htmlDiagnostic(html string) string {
	lower := strings.ToLower(html)

	switch {
	case strings.Contains(html, "404") || strings.Contains(lower, "not found"):
		return "likely wrong API URL (404 Not Found)"
	case strings.Contains(html, "401") || strings.Contains(lower, "unauthorized"):
		return "authentication problem (401 Unauthorized)"
	case strings.Contains(html, "403") || strings.Contains(lower, "forbidden"):
		return "access denied (403 Forbidden)"
	case strings.Contains(html, "500") || strings.Contains(lower, "internal server error"):
		return "server error (500 Internal Server Error)"
	case strings.Contains(lower, "bad request") || strings.Contains(html, "400"):
		return "bad request (400 Bad Request)"
	}

	if start := strings.Index(html, "<title>"); start != -1 {
		if end := strings.Index(html[start:], "</title>"); end != -1 {
			title := strings.TrimSpace(html[start+len("<title>") : start+end])
			if title != "" && len(title) < 100 {
				return "page title: " + title
			}
		}
	}

	return "check the API URL and API key"
}

// jsonErrorDiagnostic extracts a message from a JSON error body, trying the
// OpenAI-style {"error":{"message"}} shape, then a flat {"message"}, then the
// raw body truncated to 200 characters. The status code is prefixed unless the
// message already mentions it.
func jsonErrorDiagnostic(text string, status int) string {
	var payload struct {
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}

	if err := json.Unmarshal([]byte(text), &payload); err == nil {
		msg := payload.Message
		if payload.Error != nil && payload.Error.Message != "" {
			msg = payload.Error.Message
		}
		if msg != "" {
			if strings.Contains(msg, strconv.Itoa(status)) {
				return msg
			}
			return fmt.Sprintf("(%d) %s", status, msg)
		}
	}

	return fmt.Sprintf("(%d) %s", status, truncate(text, 200))
}

// truncate cuts s to at most n bytes without splitting a UTF-8 rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
