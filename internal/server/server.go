// Package server exposes scan flows and the inventory over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/zombor/inventory-tracker/internal/inventory"
	"github.com/zombor/inventory-tracker/internal/scan"
)

// OwnerHeader selects the owner whose scans and items a request works on
const OwnerHeader = "X-Owner-Key"

// DefaultOwner is used when a request names no owner
const DefaultOwner = "default"

// Server handles HTTP requests for scans and inventory items
type Server struct {
	scans     *scan.Manager
	store     inventory.Store
	committer scan.Committer
	quota     inventory.Quota
	basicAuth BasicAuth
	mux       *http.ServeMux
	http      *http.Server
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// NewServer creates a new Server with default mux. quota may be nil.
func NewServer(scans *scan.Manager, store inventory.Store, committer scan.Committer, quota inventory.Quota, basicAuth BasicAuth) *Server {
	return NewServerWithMux(scans, store, committer, quota, basicAuth, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(scans *scan.Manager, store inventory.Store, committer scan.Committer, quota inventory.Quota, basicAuth BasicAuth, mux *http.ServeMux) *Server {
	s := &Server{
		scans:     scans,
		store:     store,
		committer: committer,
		quota:     quota,
		basicAuth: basicAuth,
		mux:       mux,
	}
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.registerRoutes()
	return s
}

// authenticate checks basic auth credentials and returns the user
func (s *Server) authenticate(r *http.Request) (string, bool) {
	user, pass, hasAuth := r.BasicAuth()
	if !s.authEnabled() {
		return user, true // No auth required if not configured
	}
	if !hasAuth {
		return "", false
	}
	return user, user == s.basicAuth.Username && pass == s.basicAuth.Password
}

type ownerKeyType struct{}

// ownerKey returns the owner resolved by requireAuth
func ownerKey(r *http.Request) string {
	if owner, ok := r.Context().Value(ownerKeyType{}).(string); ok && owner != "" {
		return owner
	}
	return DefaultOwner
}

// corsMiddleware adds CORS headers to responses
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		// Handle preflight OPTIONS requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// authEnabled reports whether basic auth credentials are configured
func (s *Server) authEnabled() bool {
	return s.basicAuth.Username != "" || s.basicAuth.Password != ""
}

// requireAuth checks credentials and resolves the owner key. With basic
// auth configured the owner is always the authenticated user; otherwise it
// is the X-Owner-Key header, else the basic auth user, else DefaultOwner.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authenticate(r)
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="Inventory Tracker"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		owner := user
		if !s.authEnabled() {
			if header := strings.TrimSpace(r.Header.Get(OwnerHeader)); header != "" {
				owner = header
			}
		}
		ctx := context.WithValue(r.Context(), ownerKeyType{}, owner)
		next(w, r.WithContext(ctx))
	}
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+OwnerHeader)
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	// Scan flows
	s.mux.HandleFunc("POST /api/scans/{id}/region", s.requireAuth(s.handleSetRegion))
	s.mux.HandleFunc("POST /api/scans/{id}/recognize", s.requireAuth(s.handleRecognize))
	s.mux.HandleFunc("POST /api/scans/{id}/commit", s.requireAuth(s.handleCommit))
	s.mux.HandleFunc("GET /api/scans/{id}/image", s.requireAuth(s.handleGetImage))
	s.mux.HandleFunc("PATCH /api/scans/{id}/items/{index}", s.requireAuth(s.handleEditItem))
	s.mux.HandleFunc("DELETE /api/scans/{id}/items/{index}", s.requireAuth(s.handleRemoveItem))
	s.mux.HandleFunc("GET /api/scans/{id}", s.requireAuth(s.handleGetScan))
	s.mux.HandleFunc("DELETE /api/scans/{id}", s.requireAuth(s.handleCancelScan))
	s.mux.HandleFunc("POST /api/scans", s.requireAuth(s.handleCreateScan))

	// Inventory
	s.mux.HandleFunc("GET /api/items", s.requireAuth(s.handleListItems))
	s.mux.HandleFunc("POST /api/items", s.requireAuth(s.handleAddItem))
	s.mux.HandleFunc("GET /api/quota", s.requireAuth(s.handleQuota))
}

// Handler returns the mux wrapped with CORS handling
func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(s.mux)
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	s.http.Addr = addr
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops a started server, waiting for in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Handler().ServeHTTP(w, r)
}
