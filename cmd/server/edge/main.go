package main

// cSpell:ignore mqtt lircd irsend modbus rpio
import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fisaks/tvbridge/internal/actuation"
	"github.com/fisaks/tvbridge/internal/config"
	"github.com/fisaks/tvbridge/internal/gpio"
	"github.com/fisaks/tvbridge/internal/ir"
	"github.com/fisaks/tvbridge/internal/logging"
	"github.com/fisaks/tvbridge/internal/messaging"
	"github.com/fisaks/tvbridge/internal/sensor"
	"github.com/fisaks/tvbridge/internal/subscriber"
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	path := getenv("EDGE_CONFIG_PATH", "/etc/tvbridge/edge-config.json")

	cfg, err := config.LoadEdgeConfig(path)
	if err != nil {
		logging.New(logging.Options{}).Error("Edge config error", "path", path, "error", err)
		os.Exit(1)
	}
	logger := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, File: cfg.Log.File})

	logger.Info("Loaded config",
		"driver", cfg.Broker.Driver,
		"topic", cfg.Broker.Topic,
		"remote", cfg.Remote.Profile,
		"sensor", cfg.Sensor.Enabled,
	)

	// Graceful shutdown context
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tx := newTransmitter(cfg.Remote, logger)

	var sensing actuation.PowerSensing
	if cfg.Sensor.Enabled {
		pins, err := openPins(cfg.Sensor, logger)
		if err != nil {
			// actuation still works, just without the idempotence check
			logger.Error("power sensor unavailable", "driver", cfg.Sensor.Driver, "error", err)
		} else {
			defer pins.Close()
			sensing = sensor.New(pins, sensor.SettingsFromConfig(cfg.Sensor), logger.With("component", "sensor"))
		}
	}

	engine := actuation.NewEngine(actuation.ControllerFromConfig(cfg.Remote, sensing), tx, logger.With("component", "actuation"))

	broker, err := messaging.New(cfg.Broker.Driver, messaging.OptionsFromConfig(cfg.Broker), logger.With("component", "bus"))
	if err != nil {
		logger.Error("bus init", "error", err)
		os.Exit(1)
	}

	sub := subscriber.New(broker, engine, subscriber.SettingsFromConfig(cfg.Broker), logger.With("component", "subscriber"))
	if err := sub.Run(ctx); err != nil {
		logger.Error("subscriber stopped", "error", err)
	}
	logger.Info("bye")
}

func newTransmitter(rc config.RemoteConfig, logger *slog.Logger) ir.Transmitter {
	if rc.Transmitter == "lircd" {
		return ir.NewLircd(rc.LircdSocket, rc.Timeout(), logger)
	}
	return ir.NewIrsend(rc.IrsendPath, rc.Timeout(), logger)
}

func openPins(sc config.SensorConfig, logger *slog.Logger) (gpio.PinController, error) {
	switch sc.Driver {
	case "rpio":
		p, err := gpio.OpenRPIO()
		if err != nil {
			return nil, err
		}
		return p, nil
	case "modbus":
		p, err := gpio.NewModbusPins(sc.Modbus, logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown sensor driver %q", sc.Driver)
	}
}
