package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fisaks/tvbridge/internal/command"
	"github.com/fisaks/tvbridge/internal/logging"
	"github.com/fisaks/tvbridge/internal/messaging"
)

// describe renders a bus payload the way the edge would interpret it.
func describe(payload []byte) string {
	cmd, err := command.Decode(string(payload))
	if err != nil {
		return fmt.Sprintf("%q (dropped: %v)", payload, err)
	}
	switch cmd.Kind {
	case command.Power:
		return fmt.Sprintf("%s -> power on=%v", payload, cmd.On)
	case command.Input:
		return fmt.Sprintf("%s -> input %q", payload, cmd.Input)
	case command.Volume:
		return fmt.Sprintf("%s -> volume %+d", payload, cmd.Steps)
	case command.Mute:
		return fmt.Sprintf("%s -> muted=%v", payload, cmd.Muted)
	}
	return string(payload)
}

func main() {
	var broker, driver, topic, logLevel string
	flag.StringVar(&broker, "broker", "tcp://localhost:1883", "Bus URL")
	flag.StringVar(&driver, "driver", "mqtt", "Bus driver (mqtt or nats)")
	flag.StringVar(&topic, "topic", "vova/alexa/tv", "Topic filter")
	flag.StringVar(&logLevel, "log", "warn", "Log level for connection events")
	flag.Parse()

	b, err := messaging.New(driver, messaging.Options{
		URL:            broker,
		ClientID:       messaging.UniqueClientID("tvmon"),
		ConnectTimeout: 10 * time.Second,
		AutoReconnect:  true,
	}, logging.New(logging.Options{Level: logLevel, Format: "text"}))
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := b.Connect(ctx); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Connected to %s, subscribing to %s...\n", broker, topic)

	_, err = b.Subscribe(ctx, topic, messaging.AtMostOnce, func(_ context.Context, t string, payload []byte) {
		fmt.Printf("%s %s %s\n", time.Now().Format(time.TimeOnly), t, describe(payload))
	})
	if err != nil {
		log.Fatal(err)
	}

	// Wait for interrupt
	<-ctx.Done()
	fmt.Println("\nShutting down...")
	closeCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = b.Close(closeCtx)
	os.Exit(0)
}
