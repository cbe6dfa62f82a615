// Copyright (c) 2026 TempBox Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package webhook is the HTTP adapter for the ingestion pipeline. It maps
// pipeline outcomes to the response contract providers rely on for their
// retry policy: 2xx means "do not retry", 4xx means "retrying will not help",
// 5xx means "transient, retry later". Responses never echo secret material.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/tempbox/ingestion/internal/auth"
	"github.com/tempbox/ingestion/internal/mailparse"
	"github.com/tempbox/ingestion/internal/metrics"
	"github.com/tempbox/ingestion/internal/pipeline"
	"github.com/tempbox/ingestion/internal/settings"
)

// Handler serves the inbound webhook endpoint.
type Handler struct {
	pipe         *pipeline.Pipeline
	maxBodyBytes int64
}

// NewHandler creates a webhook handler around the given pipeline.
func NewHandler(pipe *pipeline.Pipeline, maxBodyBytes int64) *Handler {
	return &Handler{pipe: pipe, maxBodyBytes: maxBodyBytes}
}

// response is the short JSON body returned for every outcome.
type response struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// ServeInbound handles POST /webhook/inbound.
func (h *Handler) ServeInbound(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	// An unexpected panic anywhere in the pipeline must become a 500 with
	// detail logged server-side only.
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("panic while processing inbound webhook",
				"panic", fmt.Sprint(rec),
				"stack", string(debug.Stack()),
			)
			writeJSON(w, http.StatusInternalServerError, response{Status: "error", Detail: "internal error"})
		}
	}()

	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, response{Status: "error", Detail: "POST only"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBodyBytes+1))
	if err != nil {
		slog.Error("failed to read webhook body", "error", err)
		writeJSON(w, http.StatusInternalServerError, response{Status: "error", Detail: "read failed"})
		return
	}
	if int64(len(body)) > h.maxBodyBytes {
		writeJSON(w, http.StatusBadRequest, response{Status: "rejected", Detail: "payload too large"})
		return
	}

	result := h.pipe.Process(r.Context(), pipeline.Request{
		Headers:     r.Header,
		Body:        body,
		ContentType: r.Header.Get("Content-Type"),
		ReceivedAt:  start.UTC(),
	})

	status, resp := mapResult(result)
	h.logResult(result, status)
	metrics.RecordOutcome(providerLabel(result), string(result.Outcome), time.Since(start))
	writeJSON(w, status, resp)
}

// mapResult translates a pipeline result into the HTTP contract.
func mapResult(result pipeline.Result) (int, response) {
	switch result.Outcome {
	case pipeline.OutcomeStored:
		return http.StatusCreated, response{Status: "stored"}
	case pipeline.OutcomeDuplicate:
		return http.StatusOK, response{Status: "ok", Detail: "already processed"}
	case pipeline.OutcomeNoInbox:
		return http.StatusOK, response{Status: "ok", Detail: "no matching inbox"}
	}

	err := result.Err
	switch {
	case errors.Is(err, settings.ErrProviderDisabled):
		return http.StatusServiceUnavailable, response{Status: "error", Detail: "inbound mail not configured"}
	case errors.Is(err, settings.ErrMissingCredentials):
		return http.StatusInternalServerError, response{Status: "error", Detail: "inbound mail misconfigured"}
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized, response{Status: "rejected", Detail: "unauthorized"}
	case errors.Is(err, auth.ErrMalformedRequest):
		return http.StatusBadRequest, response{Status: "rejected", Detail: "missing signature fields"}
	case errors.Is(err, mailparse.ErrMalformedPayload):
		return http.StatusBadRequest, response{Status: "rejected", Detail: "malformed payload"}
	case errors.Is(err, mailparse.ErrNoRecipient):
		return http.StatusBadRequest, response{Status: "rejected", Detail: "no recipient"}
	default:
		return http.StatusInternalServerError, response{Status: "error", Detail: "internal error"}
	}
}

func (h *Handler) logResult(result pipeline.Result, status int) {
	if result.Err != nil {
		slog.Error("inbound webhook rejected",
			"provider", providerLabel(result),
			"status", status,
			"error", result.Err,
		)
		return
	}
	slog.Info("inbound webhook processed",
		"provider", providerLabel(result),
		"outcome", result.Outcome,
		"status", status,
	)
}

func providerLabel(result pipeline.Result) string {
	if result.Provider == "" {
		return "unknown"
	}
	return result.Provider
}

func writeJSON(w http.ResponseWriter, status int, resp response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// Serve starts the webhook HTTP server on the given port. It binds the port
// immediately and signals readiness via the returned channel before starting
// to accept connections.
func Serve(ctx context.Context, port int, handler *Handler) (<-chan struct{}, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook/inbound", handler.ServeInbound)

	server := &http.Server{
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("bind webhook port %d: %w", port, err)
	}

	ready := make(chan struct{})

	go func() {
		<-ctx.Done()
		slog.Info("webhook server shutting down")
		server.Close()
	}()

	go func() {
		slog.Info("webhook server listening", "port", port)
		close(ready)
		if err := server.Serve(ln); err != http.ErrServerClosed {
			slog.Error("webhook server error", "error", err)
		}
	}()

	return ready, nil
}
