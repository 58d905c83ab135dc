package server

import (
	"context"
	"net"
	"net/http"

	"github.com/mkholodov/authgate/internal/config"
	"github.com/mkholodov/authgate/internal/logger"
	"github.com/mkholodov/authgate/internal/service"
	"github.com/mkholodov/authgate/internal/token"
)

// Server is the thin HTTP boundary over the authentication facade. It only
// translates wire shapes; every decision lives in the service layer.
type Server struct {
	auth   *service.AuthService
	tokens *token.Manager
	l      logger.Logger
	httpd  *http.Server
}

func New(cfg config.ServerConfig, auth *service.AuthService, tokens *token.Manager, l logger.Logger) *Server {
	s := &Server{
		auth:   auth,
		tokens: tokens,
		l:      l,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", s.handleLogin)
	mux.HandleFunc("POST /auth/refresh", s.handleRefresh)
	mux.HandleFunc("POST /auth/logout", s.handleLogout)
	mux.HandleFunc("GET /auth/me", s.handleMe)

	s.httpd = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout.Std(),
		WriteTimeout: cfg.WriteTimeout.Std(),
	}
	return s
}

// Handler exposes the route table, used by httptest in boundary tests.
func (s *Server) Handler() http.Handler {
	return s.httpd.Handler
}

// Start blocks serving requests until Shutdown is called.
func (s *Server) Start() error {
	s.l.Info("HTTP server listening", logger.String("addr", s.httpd.Addr))
	if err := s.httpd.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpd.Shutdown(ctx)
}
