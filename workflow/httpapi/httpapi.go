// Package httpapi exposes the query endpoints over HTTP.
//
// Routes:
//
//	POST /query         answer a question, returning the orchestrator result
//	GET  /query/stream  answer a question, streaming workflow events as SSE
//
// Both routes sit behind the auth gate's middleware; handlers read the
// session from the request context when they need the caller's identity.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cenecahq/ceneca/telemetry"
	"github.com/cenecahq/ceneca/workflow/orchestrator"
	"github.com/cenecahq/ceneca/workflow/stream"
)

type (
	// Service wires the orchestrator into HTTP handlers.
	Service struct {
		orch   *orchestrator.Orchestrator
		logger telemetry.Logger
	}

	// Option configures a Service.
	Option func(*Service)

	// QueryRequest is the POST /query body.
	QueryRequest struct {
		// Question is the natural-language question to answer.
		Question string `json:"question"`
		// SessionID bridges the run to a legacy session when non-empty.
		SessionID string `json:"session_id,omitempty"`
		// ForceGraph always takes the heavy path.
		ForceGraph bool `json:"force_graph,omitempty"`
	}

	// ErrorBody is the structured failure response.
	ErrorBody struct {
		Code        string `json:"code"`
		Message     string `json:"message"`
		Recoverable bool   `json:"recoverable"`
	}

	// sseEnvelope is the wire shape of one streamed event. It matches the
	// Pulse sink envelope so in-process and out-of-process consumers parse
	// the same JSON.
	sseEnvelope struct {
		Type      string `json:"type"`
		SessionID string `json:"session_id"`
		Timestamp string `json:"timestamp"`
		Payload   any    `json:"payload,omitempty"`
	}
)

// WithLogger configures the service logger.
func WithLogger(logger telemetry.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New builds the query HTTP service.
func New(orch *orchestrator.Orchestrator, opts ...Option) (*Service, error) {
	if orch == nil {
		return nil, fmt.Errorf("httpapi: orchestrator is required")
	}
	s := &Service{orch: orch, logger: telemetry.NewNoopLogger()}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	return s, nil
}

// Mount registers the query routes on the given router.
func (s *Service) Mount(r chi.Router) {
	r.Post("/query", s.handleQuery)
	r.Get("/query/stream", s.handleQueryStream)
}

func (s *Service) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "request body must be JSON with a question field", true)
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "question is required", true)
		return
	}

	res, err := s.orch.Answer(r.Context(), orchestrator.Request{
		Question:        req.Question,
		LegacySessionID: req.SessionID,
		ForceGraph:      req.ForceGraph,
	})
	if err != nil {
		s.logger.Error(r.Context(), "query failed", "err", err)
		if res != nil {
			// Partial outputs still reach the caller; success is false.
			writeJSON(w, http.StatusOK, res)
			return
		}
		writeError(w, http.StatusInternalServerError, "execution_error", "query execution failed", false)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleQueryStream runs the question with streaming enabled and forwards
// every workflow event to the client as a server-sent event, finishing with
// a "result" event carrying the orchestrator result.
func (s *Service) handleQueryStream(w http.ResponseWriter, r *http.Request) {
	question := r.URL.Query().Get("question")
	if strings.TrimSpace(question) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "question query parameter is required", true)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer does not support streaming", false)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	type outcome struct {
		res *orchestrator.Result
		err error
	}
	// events carries forwarded workflow events; it is closed by the
	// forwarder once the subscription drains. Trivial and legacy-served
	// requests never open a subscription, so subscribed tracks whether a
	// final drain is needed.
	events := make(chan stream.Event, 16)
	done := make(chan outcome, 1)
	var subscribed atomic.Bool

	go func() {
		res, err := s.orch.Answer(r.Context(), orchestrator.Request{
			Question:        question,
			LegacySessionID: r.URL.Query().Get("session_id"),
			ForceGraph:      r.URL.Query().Get("force_graph") == "true",
			Streaming:       true,
			OnSession: func(sessionID string) {
				sub := s.orch.Subscribe(sessionID)
				subscribed.Store(true)
				go func() {
					defer close(events)
					for ev := range sub.C {
						select {
						case events <- ev:
						case <-r.Context().Done():
							sub.Cancel()
							return
						}
					}
				}()
			},
		})
		done <- outcome{res: res, err: err}
	}()

	var out outcome
	running := true
	for running {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			s.writeSSE(r.Context(), w, flusher, string(ev.Type()), envelopeFor(ev))
		case out = <-done:
			running = false
		}
	}
	// The workflow finished; drain what the forwarder still holds.
	if events != nil && subscribed.Load() {
		for ev := range events {
			s.writeSSE(r.Context(), w, flusher, string(ev.Type()), envelopeFor(ev))
		}
	}

	if out.err != nil {
		s.logger.Error(r.Context(), "streamed query failed", "err", out.err)
	}
	if out.res != nil {
		s.writeSSE(r.Context(), w, flusher, "result", out.res)
	}
}

func envelopeFor(ev stream.Event) sseEnvelope {
	return sseEnvelope{
		Type:      string(ev.Type()),
		SessionID: ev.SessionID(),
		Timestamp: ev.Timestamp().UTC().Format(time.RFC3339Nano),
		Payload:   ev.Payload(),
	}
}

func (s *Service) writeSSE(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error(ctx, "marshal sse payload", "event", event, "err", err)
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	flusher.Flush()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string, recoverable bool) {
	writeJSON(w, status, ErrorBody{Code: code, Message: message, Recoverable: recoverable})
}
