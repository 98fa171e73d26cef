package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fisaks/tvbridge/internal/alexa"
	"github.com/fisaks/tvbridge/internal/config"
	"github.com/fisaks/tvbridge/internal/logging"
	"github.com/fisaks/tvbridge/internal/messaging"
	"github.com/fisaks/tvbridge/internal/publisher"
	"github.com/fisaks/tvbridge/internal/server"
)

func main() {
	cfg, err := config.LoadSkillConfig()
	if err != nil {
		logging.New(logging.Options{}).Error("Skill config error", "error", err)
		os.Exit(1)
	}
	logger := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, File: cfg.Log.File})
	if logging.ParseLevel(cfg.Log.Level) > slog.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := messaging.OptionsFromConfig(cfg.Bus)
	opts.ClientID = messaging.UniqueClientID(cfg.Bus.ClientID)
	opts.PublishTimeout = cfg.PublishTimeout
	opts.AutoReconnect = true
	broker, err := messaging.New(cfg.Bus.Driver, opts, logger.With("component", "bus"))
	if err != nil {
		logger.Error("bus init", "error", err)
		os.Exit(1)
	}

	pub := publisher.New(broker, cfg.Bus.Topic, messaging.QoS(cfg.Bus.QoS), cfg.PublishTimeout, logger.With("component", "publisher"))
	handlers := alexa.NewHandlers(pub, logger.With("component", "alexa"),
		alexa.WithEndpoint(alexa.EndpointFromConfig(cfg.Endpoint)))
	srv := server.New(cfg.ListenAddr, cfg.AuthToken, alexa.NewRouter(handlers), pub.Connected, logger.With("component", "http"))

	if err := srv.Run(ctx); err != nil {
		logger.Error("server stopped", "error", err)
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := broker.Close(closeCtx); err != nil {
		logger.Warn("bus close", "error", err)
	}
	logger.Info("bye")
}
