package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lushonline/moodle-mod-externalcontent/internal/lrs"
	"github.com/lushonline/moodle-mod-externalcontent/internal/xapi"
)

const (
	msgNotEnabled         = "xAPI not enabled."
	msgInvalidCredentials = "Credentials invalid for this endpoint."

	headerVersion = "X-Experience-API-Version"
	realm         = `Basic realm="LRS"`

	defaultMaxBodyBytes = 1 << 20
)

// StatementProcessor runs a decoded batch. *lrs.Processor implements it.
type StatementProcessor interface {
	Process(ctx context.Context, version string, stmts []xapi.Statement) []lrs.Payload
}

type Options struct {
	Enabled      bool
	Username     string
	Password     string
	MaxBodyBytes int64
}

// Server exposes the xAPI statement and about resources.
type Server struct {
	processor  StatementProcessor
	opts       Options
	logger     *slog.Logger
	middleware []func(http.Handler) http.Handler
}

func NewServer(processor StatementProcessor, opts Options, logger *slog.Logger, mw ...func(http.Handler) http.Handler) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{processor: processor, opts: opts, logger: logger.With("component", "http"), middleware: mw}
}

// Router wires the LRS routes. Anything outside them answers 401 so the
// endpoint reveals nothing to unauthenticated callers.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(xapiHeaders)
	r.Use(s.middleware...)
	r.Use(middleware.Recoverer)
	r.Use(s.gate)

	r.Get("/about", s.handleAbout)
	r.Post("/statements", s.handlePostStatements)
	r.Put("/statements", s.handlePostStatements)
	r.Get("/statements", s.handleGetStatements)

	r.NotFound(s.handleNotImplemented)
	r.MethodNotAllowed(s.handleNotImplemented)
	return r
}

// xapiHeaders sets the version and CORS headers on every response and
// answers preflight requests before authentication.
func xapiHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set(headerVersion, xapi.Version)
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Headers", "X-Requested-With, Content-Type, Accept, Origin, Authorization, X-Experience-API-Version")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, PATCH, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// gate rejects every request while the endpoint is disabled, then checks
// the shared basic auth pair.
func (s *Server) gate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.opts.Enabled {
			writeText(w, http.StatusUnauthorized, msgNotEnabled)
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok || !s.validCredentials(user, pass) {
			w.Header().Set("WWW-Authenticate", realm)
			writeText(w, http.StatusUnauthorized, msgInvalidCredentials)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) validCredentials(user, pass string) bool {
	if s.opts.Username == "" || s.opts.Password == "" {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.opts.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.opts.Password)) == 1
	return userOK && passOK
}

func (s *Server) handleAbout(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, []string{xapi.Version})
}

func (s *Server) handleGetStatements(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"statements": []any{}, "more": ""})
}

func (s *Server) handleNotImplemented(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusUnauthorized, msgInvalidCredentials)
}

func (s *Server) handlePostStatements(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body exceeds %d bytes", tooLarge.Limit)
			return
		}
		writeError(w, http.StatusBadRequest, "read body: %v", err)
		return
	}

	stmts, err := xapi.Decode(r.Header.Get("Content-Type"), body)
	if err != nil {
		s.logger.Warn("reject statements", "error", err, "content_type", r.Header.Get("Content-Type"))
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}

	payloads := s.processor.Process(r.Context(), strings.TrimSpace(r.Header.Get(headerVersion)), stmts)

	if debugRequested(r) {
		writeJSON(w, http.StatusOK, payloads)
		return
	}
	ids := make([]string, 0, len(payloads))
	for _, p := range payloads {
		ids = append(ids, p.StatementID)
	}
	writeJSON(w, http.StatusOK, ids)
}

func debugRequested(r *http.Request) bool {
	switch strings.ToLower(strings.TrimSpace(r.URL.Query().Get("debug"))) {
	case "", "0", "false":
		return false
	default:
		return true
	}
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": strings.TrimSpace(fmt.Sprintf(format, args...)),
			"status":  status,
		},
	})
}
