package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/goburrow/serial"
	"github.com/womat/mbserver"

	"github.com/fisaks/tvbridge/internal/config"
	"github.com/fisaks/tvbridge/internal/logging"
	"github.com/fisaks/tvbridge/internal/simline"
)

func main() {
	configPath := os.Getenv("SIM_CONFIG_PATH")
	if configPath == "" {
		log.Fatal("SIM_CONFIG_PATH not set")
	}
	restAddr := os.Getenv("SIM_REST_ADDR")
	if restAddr == "" {
		restAddr = ":8081"
	}

	edgeConfig, err := config.LoadEdgeConfig(configPath)
	if err != nil {
		log.Fatalf("Edge config error: %v", err)
	}
	mb := edgeConfig.Sensor.Modbus
	if mb == nil || !strings.EqualFold(mb.Type, "rtu") {
		log.Fatal("sensor.modbus must be configured with type=rtu")
	}

	logger := logging.New(logging.Options{Level: edgeConfig.Log.Level, Format: "text"})

	s := mbserver.NewServer()
	id := mb.UnitId
	if id != 1 {
		if err := s.NewDevice(id); err != nil {
			log.Fatalf("NewDevice(%d): %v", id, err)
		}
	}
	dev := s.Devices[id]
	pin := edgeConfig.Sensor.Pin
	if pin >= len(dev.Coils) || pin >= len(dev.DiscreteInputs) {
		log.Fatalf("sensor.pin %d is outside the device banks", pin)
	}
	dev.Coils[pin] = 0
	dev.DiscreteInputs[pin] = 1

	// The sensor on the other end of the cable opens the port
	// with the same settings.
	port, err := serial.Open(&serial.Config{
		Address:  mb.Port,
		BaudRate: mb.Baud,
		DataBits: mb.DataBits,
		StopBits: mb.StopBits,
		Parity:   strings.ToUpper(mb.Parity),
		Timeout:  2 * time.Second,
	})
	if err != nil {
		log.Fatalf("serial open %s: %v", mb.Port, err)
	}
	defer port.Close()

	if err := s.ListenRTU(port); err != nil {
		log.Fatalf("listenRTU: %v", err)
	}

	settings := simline.DefaultSettings()
	settings.Pin = pin
	// womat/mbserver has no per-function hook to take line.Locker(), so
	// its RTU handler touches these banks without it.
	line := simline.New(dev.Coils, dev.DiscreteInputs, settings, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := runRestAPI(ctx, restAddr, line, logger); err != nil {
			logger.Error("REST API stopped", "error", err)
		}
	}()

	logger.Info("RTU sense line ready", "port", mb.Port, "unitId", id, "pin", pin)
	line.Run(ctx)
}
