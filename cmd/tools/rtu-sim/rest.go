package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// led is the part of the simulated line the REST API controls.
type led interface {
	Lit() bool
	SetLit(on bool)
	Toggle() bool
}

type ledStateRequest struct {
	Lit *bool `json:"lit"`
}

func newRestHandler(line led) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/led", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"lit": line.Lit()})
	})
	r.PUT("/led", func(c *gin.Context) {
		var req ledStateRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.Lit == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad json"})
			return
		}
		line.SetLit(*req.Lit)
		c.JSON(http.StatusOK, gin.H{"status": "ok", "lit": line.Lit()})
	})
	r.POST("/led/toggle", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "lit": line.Toggle()})
	})
	return r
}

func runRestAPI(ctx context.Context, addr string, line led, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           newRestHandler(line),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("RTU simulator REST API listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
