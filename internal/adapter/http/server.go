package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/couchcryptid/warning-calendar-service/internal/domain"
)

const maxHistoryLimit = 500

// Accounts reads user state for the query API.
type Accounts interface {
	User(ctx context.Context, email string) (domain.User, error)
	History(ctx context.Context, email string, limit int) ([]domain.ProcessedRecord, error)
}

// WarningSource returns the warnings from the latest cycle relevant to a user.
type WarningSource interface {
	ActiveWarnings(u domain.User) []domain.Warning
}

// Server exposes ops endpoints and a read-only query API.
type Server struct {
	httpServer *http.Server
	accounts   Accounts
	warnings   WarningSource
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics and the
// /api/v1 user routes.
func NewServer(addr string, allowOrigins []string, ready sharedobs.ReadinessChecker, accounts Accounts, warnings WarningSource, logger *slog.Logger) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		accounts: accounts,
		warnings: warnings,
		logger:   logger,
	}

	r.Get("/healthz", sharedobs.LivenessHandler())
	r.Get("/readyz", sharedobs.ReadinessHandler(ready))
	r.Handle("/metrics", promhttp.Handler())

	c := cors.New(cors.Options{
		AllowedOrigins: allowOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	})
	r.Route("/api/v1/users/{email}", func(r chi.Router) {
		r.Use(c.Handler)
		r.Get("/", s.handleUser)
		r.Get("/history", s.handleHistory)
		r.Get("/warnings/active", s.handleActiveWarnings)
	})

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

type userResponse struct {
	Email       string            `json:"email"`
	Active      bool              `json:"active"`
	Connected   bool              `json:"calendar_connected"`
	Locations   []domain.Location `json:"locations"`
	Preferences map[string]bool   `json:"preferences"`
}

type warningResponse struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Severity    string    `json:"severity"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	Lat         float64   `json:"lat"`
	Lon         float64   `json:"lon"`
	Areas       []string  `json:"areas,omitempty"`
	Description string    `json:"description"`
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	u, ok := s.findUser(w, r)
	if !ok {
		return
	}

	prefs := make(map[string]bool, len(domain.WarningTypes))
	for _, t := range domain.WarningTypes {
		prefs[string(t)] = u.Preferences.Enabled(t)
	}
	locs := u.Locations
	if locs == nil {
		locs = []domain.Location{}
	}
	sharedobs.WriteJSON(w, http.StatusOK, userResponse{
		Email:       u.Email,
		Active:      u.Active,
		Connected:   u.HasCredential(),
		Locations:   locs,
		Preferences: prefs,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := domain.DefaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	records, err := s.accounts.History(r.Context(), chi.URLParam(r, "email"), limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if records == nil {
		records = []domain.ProcessedRecord{}
	}
	sharedobs.WriteJSON(w, http.StatusOK, records)
}

func (s *Server) handleActiveWarnings(w http.ResponseWriter, r *http.Request) {
	u, ok := s.findUser(w, r)
	if !ok {
		return
	}

	warnings := s.warnings.ActiveWarnings(u)
	out := make([]warningResponse, 0, len(warnings))
	for _, wr := range warnings {
		out = append(out, warningResponse{
			ID:          wr.ID,
			Type:        string(wr.Type),
			Severity:    string(wr.Severity),
			StartTime:   wr.StartTime,
			EndTime:     wr.EndTime,
			Lat:         wr.Centroid.Lat(),
			Lon:         wr.Centroid.Lon(),
			Areas:       wr.AreaNames,
			Description: wr.Description,
		})
	}
	sharedobs.WriteJSON(w, http.StatusOK, out)
}

func (s *Server) findUser(w http.ResponseWriter, r *http.Request) (domain.User, bool) {
	u, err := s.accounts.User(r.Context(), chi.URLParam(r, "email"))
	if err != nil {
		s.writeDomainError(w, err)
		return domain.User{}, false
	}
	return u, true
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "user_not_found", err.Error())
	case errors.Is(err, domain.ErrInvalidEmail):
		writeError(w, http.StatusBadRequest, "invalid_email", err.Error())
	default:
		s.logger.Error("query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	var resp errorResponse
	resp.Error.Code = code
	resp.Error.Message = message
	sharedobs.WriteJSON(w, status, resp)
}
