package api

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/fleetops/fleetd/internal/server"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Server is fleetd's HTTP surface: login, the host/command REST API,
// Prometheus exposition, and the browser push channel, all fronting a
// *server.Server's registry and tracker.
type Server struct {
	cfg        *Config
	core       *server.Server
	db         *sql.DB
	log        zerolog.Logger
	auth       *AuthService
	hub        *Hub
	router     *chi.Mux
	wsUpgrader *websocket.Upgrader
	httpServer *http.Server
}

// New builds the HTTP API server. core is the TCP session/dispatch
// engine whose registry and tracker back every handler.
func New(cfg *Config, core *server.Server, db *sql.DB, log zerolog.Logger) *Server {
	s := &Server{
		cfg:  cfg,
		core: core,
		db:   db,
		log:  log.With().Str("component", "api").Logger(),
		auth: NewAuthService(cfg, db),
		hub:  NewHub(log),
		wsUpgrader: &websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.securityHeaders)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/login", s.handleLoginPage)
	r.Post("/login", s.handleLogin)

	r.Get("/ws", s.handleWebSocket)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)

		r.With(s.requireCSRF).Post("/logout", s.handleLogout)

		r.Route("/api", func(r chi.Router) {
			r.Use(s.requireCSRF)

			r.Get("/hosts", s.handleGetHosts)
			r.Post("/hosts/{clientID}/command", s.handleDispatchCommand)
			r.Get("/commands/{commandID}", s.handleGetCommandStatus)
			r.Get("/hosts/{clientID}/commands", s.handleGetClientResults)
			r.Post("/broadcast", s.handleBroadcast)
		})
	})

	s.router = r
}

func (s *Server) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		if r.TLS != nil {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, err := s.auth.GetSessionFromRequest(r)
		if err != nil {
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
		next.ServeHTTP(w, r.WithContext(withSession(r.Context(), session)))
	})
}

func (s *Server) requireCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		session := sessionFromContext(r.Context())
		if session == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		token := r.Header.Get("X-CSRF-Token")
		if !s.auth.ValidateCSRF(session, token) {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		_, ok := set[r.Header.Get("Origin")]
		return ok
	}
}

// Run starts serving HTTP until the process is signaled to stop.
func (s *Server) Run() error {
	s.httpServer = &http.Server{
		Addr:    s.cfg.ListenAddr,
		Handler: s.router,
	}
	s.log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTP API")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server and the browser push hub.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Router exposes the handler for testing.
func (s *Server) Router() http.Handler { return s.router }
