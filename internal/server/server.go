// Package server exposes the skill router over HTTP.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fisaks/tvbridge/internal/alexa"
)

const maxBody = 64 * 1024

type DirectiveHandler interface {
	Handle(ctx context.Context, req alexa.Request) alexa.Response
}

// HealthFunc reports whether the bus link is up.
type HealthFunc func() bool

type Server struct {
	addr      string
	authToken string
	router    DirectiveHandler
	health    HealthFunc
	logger    *slog.Logger
	engine    *gin.Engine
	srv       *http.Server
}

func New(addr, authToken string, router DirectiveHandler, health HealthFunc, logger *slog.Logger) *Server {
	s := &Server{
		addr:      addr,
		authToken: authToken,
		router:    router,
		health:    health,
		logger:    logger,
	}
	s.engine = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())
	r.POST("/directive", s.requireToken(), s.handleDirective)
	r.GET("/healthz", s.handleHealth)
	return r
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:         s.addr,
		Handler:      s.engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("skill server starting", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen %s: %w", s.addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("graceful shutdown failed, forcing close", "error", err)
		if err := s.srv.Close(); err != nil {
			return fmt.Errorf("closing server: %w", err)
		}
	}
	return nil
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request", "method", c.Request.Method, "path", c.FullPath(),
			"status", c.Writer.Status(), "took", time.Since(start))
	}
}

// requireToken checks X-Auth-Token, or the token query parameter, when a
// token is configured.
func (s *Server) requireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.authToken == "" {
			c.Next()
			return
		}
		token := c.GetHeader("X-Auth-Token")
		if token == "" {
			token = c.Query("token")
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
			s.logger.Warn("unauthorized directive", "remote_addr", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func (s *Server) handleDirective(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBody)

	var req alexa.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if s.logger.Enabled(c.Request.Context(), slog.LevelDebug) {
		body, _ := json.Marshal(req)
		s.logger.Debug("directive", "request", string(body))
	}

	resp := s.router.Handle(c.Request.Context(), req)

	if s.logger.Enabled(c.Request.Context(), slog.LevelDebug) {
		body, _ := json.Marshal(resp)
		s.logger.Debug("directive", "response", string(body))
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleHealth(c *gin.Context) {
	bus := false
	if s.health != nil {
		bus = s.health()
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "bus": bus})
}
