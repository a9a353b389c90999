// Package admin provides the operator HTTP API.
package admin

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/osa030/guildbox/internal/app/playback"
	"github.com/osa030/guildbox/internal/domain/guild"
)

// Service is the playback service exposed to operators.
type Service interface {
	KnownGuilds(ctx context.Context) ([]guild.Guild, error)
	ActiveGuilds() []string
	Inspect(guildID string) (playback.Snapshot, error)
	Skip(guildID string) (playback.SkipResult, error)
	Clear(guildID string) (int, error)
	Reset(guildID string) bool
}

// Config represents admin server configuration.
type Config struct {
	Addr  string
	Token string
}

// Server serves the admin API.
type Server struct {
	service Service
	config  Config
	server  *http.Server
}

// NewServer creates a new admin server.
func NewServer(service Service, config Config) *Server {
	s := &Server{
		service: service,
		config:  config,
	}
	s.server = &http.Server{
		Addr: config.Addr,
		// HTTP/2 cleartext for clients that speak it
		Handler:           h2c.NewHandler(s.Handler(), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the API handler with its middleware.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter().StrictSlash(false)
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed")
	})

	// Routes live on the root router so a method mismatch reaches MethodNotAllowedHandler
	router.Use(newAuthMiddleware(s.config.Token))
	router.HandleFunc("/api/guilds", s.listGuilds).Methods(http.MethodGet)
	router.HandleFunc("/api/guilds/{id}/queue", s.getQueue).Methods(http.MethodGet)
	router.HandleFunc("/api/guilds/{id}/skip", s.skip).Methods(http.MethodPost)
	router.HandleFunc("/api/guilds/{id}/clear", s.clear).Methods(http.MethodPost)
	router.HandleFunc("/api/guilds/{id}/reset", s.reset).Methods(http.MethodPost)

	logged := handlers.CustomLoggingHandler(io.Discard, router, func(_ io.Writer, p handlers.LogFormatterParams) {
		zlog.Debug().Msgf("admin: request: method=%s path=%s status=%d size=%d", p.Request.Method, p.URL.Path, p.StatusCode, p.Size)
	})
	return handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{}),
	)(handlers.CompressHandler(logged))
}

// ListenAndServe serves until Shutdown is called.
func (s *Server) ListenAndServe() error {
	zlog.Info().Msgf("admin: listening: addr=%s", s.config.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "admin server failed")
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// recoveryLogger routes recovered handler panics to the global logger.
type recoveryLogger struct{}

func (recoveryLogger) Println(v ...any) {
	zlog.Error().Msgf("admin: handler panicked: %v", v)
}
