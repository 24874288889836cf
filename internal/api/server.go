// Package api is the REST control surface of the emulator: EPC requests over
// HTTP, the event journal and a live event stream.
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/oktetlabs/test-environment-sub007/internal/auth"
	"github.com/oktetlabs/test-environment-sub007/internal/config"
	"github.com/oktetlabs/test-environment-sub007/internal/epc"
	"github.com/oktetlabs/test-environment-sub007/internal/eventloop"
	"github.com/oktetlabs/test-environment-sub007/internal/integration"
	"github.com/oktetlabs/test-environment-sub007/internal/metrics"
	"github.com/oktetlabs/test-environment-sub007/internal/storage"
	"github.com/oktetlabs/test-environment-sub007/internal/validation"
)

// Backend is what the API drives. Store, Hub and Metrics may be nil; the
// matching routes then answer 503 or are not mounted.
type Backend struct {
	Loop       *eventloop.Loop
	Dispatcher *epc.Dispatcher
	Store      storage.Store
	Hub        *integration.Hub
	Metrics    *metrics.Metrics
}

// RESTServer represents the REST API server
type RESTServer struct {
	config    *config.Config
	backend   Backend
	auth      *auth.JWTManager
	validator *validation.Validator
	router    chi.Router
	server    *http.Server
}

type ctxKey int

const claimsKey ctxKey = iota

// NewRESTServer creates a new REST API server
func NewRESTServer(cfg *config.Config, backend Backend) *RESTServer {
	s := &RESTServer{
		config:    cfg,
		backend:   backend,
		auth:      auth.NewJWTManager(&cfg.JWT),
		validator: validation.NewValidator(),
		router:    chi.NewRouter(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	return s
}

// setupRoutes configures all routes
func (s *RESTServer) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)

	origins := s.config.API.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if s.config.Metrics.Enabled && s.backend.Metrics != nil {
		s.router.Method(http.MethodGet, s.config.Metrics.Path, s.backend.Metrics.Handler())
	}

	s.router.Route("/api/v1", func(r chi.Router) {
		s.setupAPIRoutes(r)
	})
}

// Handler returns the routed handler.
func (s *RESTServer) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the server
func (s *RESTServer) ListenAndServe(addr string) error {
	s.server.Addr = addr
	log.Info().Str("addr", addr).Msg("Starting REST API server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *RESTServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// authMiddleware accepts a bearer token, or an access_token query parameter
// for websocket clients that cannot set headers.
func (s *RESTServer) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("access_token")
		if authHeader := r.Header.Get("Authorization"); authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				s.respondError(w, http.StatusUnauthorized, "invalid authorization header")
				return
			}
			token = parts[1]
		}
		if token == "" {
			s.respondError(w, http.StatusUnauthorized, "missing authorization header")
			return
		}

		claims, err := s.auth.ValidateToken(token)
		if err != nil {
			s.respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func claimsFrom(ctx context.Context) *auth.Claims {
	c, _ := ctx.Value(claimsKey).(*auth.Claims)
	return c
}
