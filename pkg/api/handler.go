// Package api exposes the gateway over HTTP: a streaming dispatch endpoint
// that emits one NDJSON line per provider outcome, and a JSON endpoint for
// the prompt-improvement operations.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/chatlist/gateway/pkg/dispatch"
	"github.com/chatlist/gateway/pkg/improve"
	"github.com/chatlist/gateway/pkg/provider"
)

// Handler serves the gateway's HTTP API.
type Handler struct {
	dispatcher *dispatch.Dispatcher
	improver   *improve.Improver
	logger     zerolog.Logger
}

// NewHandler creates a Handler over the given dispatcher and improver.
func NewHandler(d *dispatch.Dispatcher, i *improve.Improver, logger zerolog.Logger) *Handler {
	return &Handler{dispatcher: d, improver: i, logger: logger}
}

// Register mounts the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/dispatch", h.handleDispatch)
	mux.HandleFunc("POST /v1/improve", h.handleImprove)
	mux.HandleFunc("GET /healthz", h.handleHealth)
}

type dispatchRequest struct {
	Prompt         string                `json:"prompt"`
	Providers      []provider.Descriptor `json:"providers"`
	TimeoutSeconds int                   `json:"timeout_seconds,omitempty"`
	MaxRetries     int                   `json:"max_retries,omitempty"`
}

type improveRequest struct {
	Prompt   string              `json:"prompt"`
	Provider provider.Descriptor `json:"provider"`
	Hint     string              `json:"hint,omitempty"`
	Variants int                 `json:"variants,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleDispatch fans the prompt out to the requested providers and streams
// outcomes back as NDJSON, one line per provider, flushed as they arrive.
// Inactive providers are skipped before the fan-out.
func (h *Handler) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var req dispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	active := req.Providers[:0]
	for _, d := range req.Providers {
		if !d.Active {
			continue
		}
		if err := validateDescriptor(d); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		active = append(active, d)
	}
	if len(active) == 0 {
		writeError(w, http.StatusBadRequest, "at least one active provider is required")
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)

	outcomes := h.dispatcher.Dispatch(r.Context(), dispatch.Request{
		Prompt:     req.Prompt,
		Providers:  active,
		Timeout:    time.Duration(req.TimeoutSeconds) * time.Second,
		MaxRetries: req.MaxRetries,
	})

	for o := range outcomes {
		if err := enc.Encode(o); err != nil {
			// Client went away mid-stream; drain the rest so the
			// dispatch still completes cleanly.
			h.logger.Debug().Err(err).Msg("dispatch stream write failed")
			for range outcomes {
			}
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (h *Handler) handleImprove(w http.ResponseWriter, r *http.Request) {
	var req improveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	if err := validateDescriptor(req.Provider); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.improver.ImproveWithVariants(r.Context(), req.Prompt, req.Provider, improve.ParseHint(req.Hint), req.Variants)
	if err != nil {
		h.logger.Error().Err(err).Str("provider", req.Provider.DisplayName).Msg("improve request failed")
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func validateDescriptor(d provider.Descriptor) error {
	switch {
	case d.ID == "":
		return fmt.Errorf("provider id is required")
	case d.Model == "":
		return fmt.Errorf("provider %s: model is required", d.ID)
	case d.BaseURL == "":
		return fmt.Errorf("provider %s: base_url is required", d.ID)
	case d.CredentialName == "":
		return fmt.Errorf("provider %s: credential_name is required", d.ID)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // nothing to do about a failed write
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
