package medicine

import (
	"crypto/subtle"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"

	"github.com/zombor/medtrack/internal/expiry"
)

// Server handles HTTP requests for medicines. Every mutation of the record
// store is followed by the matching reconciler call.
type Server struct {
	service      *Service
	reminders    *Reconciler
	basicAuth    BasicAuth
	expiringDays int
	mux          *http.ServeMux
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, reminders *Reconciler, basicAuth BasicAuth) *Server {
	return NewServerWithMux(service, reminders, basicAuth, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, reminders *Reconciler, basicAuth BasicAuth, mux *http.ServeMux) *Server {
	s := &Server{
		service:      service,
		reminders:    reminders,
		basicAuth:    basicAuth,
		expiringDays: expiry.DefaultExpiringSoonDays,
		mux:          mux,
	}
	s.registerRoutes()
	return s
}

// SetExpiringDays changes the default window of the expiring query
func (s *Server) SetExpiringDays(days int) {
	if days > 0 {
		s.expiringDays = days
	}
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return false
	}

	user, pass, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return false
	}

	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.basicAuth.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.basicAuth.Password)) == 1
	return userOK && passOK
}

// corsMiddleware adds CORS headers and answers preflight requests
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Medtrack"`)
			writeError(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/medicines/expiring", s.requireAuth(s.handleExpiring))
	s.mux.HandleFunc("GET /api/medicines/expired", s.requireAuth(s.handleExpired))
	s.mux.HandleFunc("POST /api/medicines/scan", s.requireAuth(s.handleScanLabel))

	s.mux.HandleFunc("GET /api/medicines/{id}/image", s.requireAuth(s.handleGetImage))
	s.mux.HandleFunc("GET /api/medicines/{id}", s.requireAuth(s.handleGetMedicine))
	s.mux.HandleFunc("PATCH /api/medicines/{id}", s.requireAuth(s.handleUpdateMedicine))
	s.mux.HandleFunc("DELETE /api/medicines/{id}", s.requireAuth(s.handleDeleteMedicine))

	s.mux.HandleFunc("GET /api/medicines", s.requireAuth(s.handleListMedicines))
	s.mux.HandleFunc("POST /api/medicines", s.requireAuth(s.handleCreateMedicine))
	s.mux.HandleFunc("DELETE /api/medicines", s.requireAuth(s.handleClearMedicines))

	s.mux.HandleFunc("GET /api/reminders", s.requireAuth(s.handleListReminders))
	s.mux.HandleFunc("POST /api/reminders/reconcile", s.requireAuth(s.handleReconcile))
}

// Handler returns the mux wrapped in the CORS middleware
func (s *Server) Handler() http.Handler {
	return corsMiddleware(s.mux)
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	return http.ListenAndServe(addr, s.Handler())
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Handler().ServeHTTP(w, r)
}
