package main

// cSpell:ignore mbserver Modbus
import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/tbrandon/mbserver"

	"github.com/fisaks/tvbridge/internal/logging"
	"github.com/fisaks/tvbridge/internal/simline"
	"github.com/fisaks/tvbridge/internal/util"
)

func main() {
	addr := os.Getenv("MB_LISTEN_ADDR")
	if addr == "" {
		addr = ":1502"
	}
	settings := simline.DefaultSettings()
	if v := os.Getenv("SIM_PIN"); v != "" {
		pin, err := parsePin(v)
		if err != nil {
			log.Fatal(err)
		}
		settings.Pin = pin
	}
	lit, _ := util.ToBool(os.Getenv("SIM_LED_ON"))

	logger := logging.New(logging.Options{Level: "info", Format: "text"})

	srv := mbserver.NewServer()
	line := simline.New(srv.Coils, srv.DiscreteInputs, settings, logger)
	line.SetLit(lit)
	guardBanks(srv, line.Locker())
	// Line released, input high
	srv.Coils[settings.Pin] = 0
	srv.DiscreteInputs[settings.Pin] = 1

	if err := srv.ListenTCP(addr); err != nil {
		log.Fatalf("ListenTCP: %v", err)
	}
	defer srv.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// SIGUSR1 flips the LED, so a running sensor can be watched changing state
	usr1 := make(chan os.Signal, 1)
	signal.Notify(usr1, syscall.SIGUSR1)
	go func() {
		for range usr1 {
			line.Toggle()
		}
	}()

	logger.Info("Modbus TCP sense line listening", "addr", addr, "pin", settings.Pin, "lit", line.Lit())
	line.Run(ctx)
}

// parsePin accepts a coil address the server's banks can hold.
func parsePin(v string) (int, error) {
	pin, ok := util.ToInt(v)
	if !ok || pin < 0 || pin > math.MaxUint16 {
		return 0, fmt.Errorf("SIM_PIN must be 0..%d, got %q", math.MaxUint16, v)
	}
	return pin, nil
}

// guardBanks runs the coil and discrete input functions under mu, so the
// simulated line never sees a half-applied request.
func guardBanks(srv *mbserver.Server, mu sync.Locker) {
	guarded := map[uint8]func(*mbserver.Server, mbserver.Framer) ([]byte, *mbserver.Exception){
		1:  mbserver.ReadCoils,
		2:  mbserver.ReadDiscreteInputs,
		5:  mbserver.WriteSingleCoil,
		15: mbserver.WriteMultipleCoils,
	}
	for code, fn := range guarded {
		srv.RegisterFunctionHandler(code, func(s *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
			mu.Lock()
			defer mu.Unlock()
			return fn(s, frame)
		})
	}
}
