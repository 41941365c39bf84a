// Package web exposes the mirror over HTTP.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"calpal/internal/ics"
	"calpal/internal/models"
	"calpal/internal/syncer"

	"github.com/google/uuid"
)

const maxBodyBytes = 1 << 20

// Mirror runs a reconciliation pass.
type Mirror interface {
	Sync(ctx context.Context) (*syncer.Result, error)
}

// Mutator performs a user write followed by a refresh of the mirror.
type Mutator interface {
	CreateAndSync(ctx context.Context, in models.EventInput) (*syncer.Mutation, error)
	UpdateAndSync(ctx context.Context, id string, in models.EventInput) (*syncer.Mutation, error)
	DeleteAndSync(ctx context.Context, id string) (*syncer.Mutation, error)
}

// Reader lists stored rows.
type Reader interface {
	ListAll(ctx context.Context) ([]models.MirroredEvent, error)
	ListMessages(ctx context.Context) ([]models.Message, error)
}

// Options configures cross-origin access and optional basic auth. Auth is
// enabled only when both BasicAuthUser and BasicAuthPassword are set.
type Options struct {
	CORSOrigin        string
	BasicAuthUser     string
	BasicAuthPassword string
}

// Server serves the events, messages, feed and health endpoints.
type Server struct {
	logger  *slog.Logger
	mirror  Mirror
	mutator Mutator
	reader  Reader
	feed    *ics.Feed
	opts    Options
	mux     *http.ServeMux
}

// NewServer constructs a new Server.
func NewServer(logger *slog.Logger, mirror Mirror, mutator Mutator, reader Reader, opts Options) *Server {
	if opts.CORSOrigin == "" {
		opts.CORSOrigin = "*"
	}
	s := &Server{
		logger:  logger,
		mirror:  mirror,
		mutator: mutator,
		reader:  reader,
		feed:    ics.NewFeed(logger),
		opts:    opts,
		mux:     http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /events", s.handleListEvents)
	s.mux.HandleFunc("PUT /events", s.handleCreateEvent)
	s.mux.HandleFunc("POST /events", s.handleUpdateEvent)
	s.mux.HandleFunc("DELETE /events", s.handleDeleteEvent)
	s.mux.HandleFunc("GET /events.ics", s.handleFeed)
	s.mux.HandleFunc("GET /messages", s.handleMessages)
}

// Handler returns the routes wrapped in request id, CORS and auth middleware.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		s.logger.Info("HTTP basic auth enabled")
		h = s.basicAuthMiddleware(h)
	}
	return s.requestIDMiddleware(s.corsMiddleware(h))
}

func (s *Server) basicAuthEnabled() bool {
	return s.opts.BasicAuthUser != "" && s.opts.BasicAuthPassword != ""
}

// basicAuthMiddleware guards every route except /health and CORS preflights.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.opts.BasicAuthUser
	password := s.opts.BasicAuthPassword

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="calpal", charset="UTF-8"`)
			s.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", s.opts.CORSOrigin)
		if s.opts.CORSOrigin != "*" {
			h.Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			h.Set("Access-Control-Allow-Methods", "GET, PUT, POST, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
			h.Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.Set("Access-Control-Expose-Headers", "X-Request-ID, X-Sync-Failures")
		next.ServeHTTP(w, r)
	})
}

type ctxKey struct{}

// requestIDMiddleware propagates or assigns an X-Request-ID and logs the
// request once it completes.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		started := time.Now()
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
		s.logger.Debug("HTTP request",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(started),
		)
	})
}

// RequestID returns the id assigned to the request carried by ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleListEvents syncs and then returns every stored row. Per-event
// failures do not fail the request; their count is reported in
// X-Sync-Failures.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	res, err := s.mirror.Sync(ctx)
	if err != nil {
		s.fail(w, r, "sync failed", err)
		return
	}
	if failed := res.Count(syncer.ActionFailed); failed > 0 {
		s.logger.Warn("Sync finished with failures",
			"request_id", RequestID(ctx),
			"failed", failed,
			"error", res.Err(),
		)
		w.Header().Set("X-Sync-Failures", strconv.Itoa(failed))
	}

	rows, err := s.reader.ListAll(ctx)
	if err != nil {
		s.fail(w, r, "list events failed", fmt.Errorf("%w: %w", syncer.ErrStore, err))
		return
	}
	s.writeJSON(w, http.StatusOK, rows)
}

type eventBody struct {
	models.EventInput
	ID string `json:"id"`
}

type mutationResponse struct {
	Status string `json:"status"`
	ID     string `json:"id"`
	Stale  bool   `json:"stale"`
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var body eventBody
	if !s.decode(w, r, &body) {
		return
	}
	m, err := s.mutator.CreateAndSync(r.Context(), body.EventInput)
	s.respondMutation(w, r, "create event failed", m, err)
}

func (s *Server) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	var body eventBody
	if !s.decode(w, r, &body) {
		return
	}
	m, err := s.mutator.UpdateAndSync(r.Context(), body.ID, body.EventInput)
	s.respondMutation(w, r, "update event failed", m, err)
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID string `json:"id"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	m, err := s.mutator.DeleteAndSync(r.Context(), body.ID)
	s.respondMutation(w, r, "delete event failed", m, err)
}

func (s *Server) respondMutation(w http.ResponseWriter, r *http.Request, msg string, m *syncer.Mutation, err error) {
	if err != nil {
		s.fail(w, r, msg, err)
		return
	}
	if m.Stale {
		w.Header().Set("Warning", `199 calpal "mirror may be stale until the next sync"`)
	}
	s.writeJSON(w, http.StatusOK, mutationResponse{Status: "ok", ID: m.ID, Stale: m.Stale})
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	rows, err := s.reader.ListAll(r.Context())
	if err != nil {
		s.fail(w, r, "list events failed", fmt.Errorf("%w: %w", syncer.ErrStore, err))
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="calpal.ics"`)
	if err := s.feed.Write(w, rows); err != nil {
		// Headers are already sent; the client sees a truncated body.
		s.logger.Error("Failed to write calendar feed", "request_id", RequestID(r.Context()), "error", err)
	}
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.reader.ListMessages(r.Context())
	if err != nil {
		s.fail(w, r, "list messages failed", fmt.Errorf("%w: %w", syncer.ErrStore, err))
		return
	}
	s.writeJSON(w, http.StatusOK, msgs)
}

// decode reads a JSON body into v, answering 400 itself on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("request body is empty")
		}
		s.fail(w, r, "invalid request body", fmt.Errorf("%w: %w", models.ErrInvalidInput, err))
		return false
	}
	return true
}

// fail maps err onto a status code and writes the error body.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := statusFor(err)
	attrs := []any{"request_id", RequestID(r.Context()), "status", status, "error", err}
	if status >= http.StatusInternalServerError {
		s.logger.Error(msg, attrs...)
	} else {
		s.logger.Info(msg, attrs...)
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}
	s.writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrEventNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	case errors.Is(err, syncer.ErrGateway):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to write JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	s.writeJSON(w, status, errResp{Error: strings.TrimSpace(msg)})
}
