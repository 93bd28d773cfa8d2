// Package api provides the directory listing HTTP server and handlers.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/deductiv/export-everything-sub000/internal/auth"
	"github.com/deductiv/export-everything-sub000/internal/browser"
	"github.com/deductiv/export-everything-sub000/internal/gateway/eai"
	"github.com/deductiv/export-everything-sub000/internal/logging"
	"github.com/deductiv/export-everything-sub000/internal/metrics"
	"github.com/deductiv/export-everything-sub000/internal/record"
	"github.com/deductiv/export-everything-sub000/internal/storage"
)

// Version is reported by the health endpoint.
const Version = "1.0"

var (
	scrubChars  = regexp.MustCompile(`Exception\(|\\|'|"`)
	openParens  = regexp.MustCompile(`\(+`)
	closeParens = regexp.MustCompile(`\)+`)
)

// Server is the HTTP server.
type Server struct {
	router *storage.Router
	auth   *auth.Auth
}

// NewServer creates a new server.
func NewServer(router *storage.Router, authHandler *auth.Auth) *Server {
	return &Server{
		router: router,
		auth:   authHandler,
	}
}

// Handler returns the HTTP handler with auth and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints (no auth required)
	mux.HandleFunc("GET /health", s.handleHealth)

	// Protected endpoints
	protected := http.NewServeMux()
	protected.HandleFunc("GET /services/"+eai.DirlistEndpoint, s.handleDirlist)
	protected.HandleFunc("GET /servicesNS/{user}/{app}/"+eai.DirlistEndpoint, s.handleDirlist)

	authed := s.auth.Middleware(protected)
	mux.Handle("/services/", authed)
	mux.Handle("/servicesNS/", authed)

	// Apply logging and metrics middleware
	return metrics.Middleware(logging.Middleware(mux))
}

// ─── Health ─────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok", "version": Version})
}

// ─── Directory listing ──────────────────────────────────────────────────────

type listingEnvelope struct {
	Payload string `json:"payload"`
	Status  int    `json:"status"`
}

type errorEnvelope struct {
	Error   string `json:"error"`
	Payload string `json:"payload"`
	Status  int    `json:"status"`
}

func (s *Server) handleDirlist(w http.ResponseWriter, r *http.Request) {
	logger := logging.WithContext(r.Context())

	query := r.URL.Query()
	query.Del("token")
	if len(query) == 0 {
		s.sendError(w, "No query supplied")
		return
	}
	if !query.Has("config") || !query.Has("alias") {
		s.sendError(w, "Invalid query")
		return
	}
	collection := query.Get("config")
	alias := query.Get("alias")

	p, err := s.router.Resolve(r.Context(), collection, alias)
	if err != nil {
		metrics.RecordListing(collection, false)
		switch {
		case errors.Is(err, storage.ErrUnknownProfile):
			s.sendError(w, "Cannot find the specified configuration")
		case isConfigError(err):
			s.sendError(w, fmt.Sprintf("Could not get config: %v", err))
		default:
			s.sendError(w, err.Error())
		}
		return
	}

	folder := strings.ReplaceAll(query.Get("folder"), "\\", "/")
	if folder == "" {
		folder = p.DefaultFolder()
		logger.Debug("folder is blank, using the profile default", zap.String("folder", folder))
	}

	entries, err := s.list(r, p, folder)
	if err != nil {
		metrics.RecordListing(collection, false)
		logger.Error("could not get directory listing",
			zap.String("collection", collection),
			zap.String("alias", alias),
			zap.String("folder", folder),
			zap.Error(err))
		s.sendError(w, err.Error())
		return
	}

	payload, err := json.Marshal(entries)
	if err != nil {
		metrics.RecordListing(collection, false)
		s.sendError(w, fmt.Sprintf("Could not convert payload to JSON: %v", err))
		return
	}

	metrics.RecordListing(collection, true)
	logger.Debug("directory listed",
		zap.String("collection", collection),
		zap.String("key", p.Key),
		zap.String("folder", folder),
		zap.Int("entries", len(entries)))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode([]listingEnvelope{{Payload: string(payload), Status: http.StatusOK}})
}

func (s *Server) list(r *http.Request, p storage.Profile, folder string) ([]browser.FileEntry, error) {
	var entries []browser.FileEntry
	err := s.router.Use(r.Context(), p, func(l storage.Lister) error {
		var err error
		entries, err = l.List(r.Context(), folder)
		return err
	})
	return entries, err
}

// isConfigError reports whether err came from selecting the collection
// rather than reading it.
func isConfigError(err error) bool {
	ve, ok := record.AsValidation(err)
	return ok && (ve.Field == "collection" || ve.Field == "config")
}

// scrubError strips quoting and exception decoration from a message so it
// can be shown verbatim by the listing client.
func scrubError(msg string) string {
	msg = scrubChars.ReplaceAllString(msg, "")
	msg = openParens.ReplaceAllString(msg, "(")
	return closeParens.ReplaceAllString(msg, ")")
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func (s *Server) sendError(w http.ResponseWriter, message string) {
	message = scrubError(message)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(errorEnvelope{
		Error:   message,
		Payload: message,
		Status:  http.StatusInternalServerError,
	})
}
