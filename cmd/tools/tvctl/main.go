package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/fisaks/tvbridge/internal/command"
	"github.com/fisaks/tvbridge/internal/config"
	"github.com/fisaks/tvbridge/internal/gpio"
	"github.com/fisaks/tvbridge/internal/ir"
	"github.com/fisaks/tvbridge/internal/logging"
	"github.com/fisaks/tvbridge/internal/messaging"
	"github.com/fisaks/tvbridge/internal/sensor"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage:
  tvctl push  --cmd COMMAND [--broker URL] [--driver mqtt|nats] [--topic TOPIC]
  tvctl key   --key KEY [--remote PROFILE] [--lircd SOCKET]
  tvctl sense [--config PATH] [--rounds N]

Commands:
  push    publish a command (power:ON, input:xbox, volume:-3, mute:True) on the bus
  key     send a single IR key through LIRC, bypassing the bus
  sense   print raw power sensor readings, for calibrating the threshold

Optional flags for 'push':
  --broker   (string)   Bus URL (default: tcp://localhost:1883)
  --driver   (string)   Bus driver (default: mqtt)
  --topic    (string)   Command topic (default: vova/alexa/tv)

`)
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Missing command (e.g. push)\n")
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "push":
		err = push(os.Args[2:])
	case "key":
		err = key(os.Args[2:])
	case "sense":
		err = sense(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func push(args []string) error {
	fs := flag.NewFlagSet("push", flag.ExitOnError)
	raw := fs.String("cmd", "", "Command to publish (required)")
	broker := fs.String("broker", "tcp://localhost:1883", "Bus URL")
	driver := fs.String("driver", "mqtt", "Bus driver (mqtt or nats)")
	topic := fs.String("topic", "vova/alexa/tv", "Command topic")
	fs.Usage = usage
	if err := fs.Parse(args); err != nil {
		os.Exit(2)
	}
	if *raw == "" {
		fmt.Fprintf(os.Stderr, "--cmd is required\n")
		usage()
		os.Exit(2)
	}
	cmd, err := command.Decode(*raw)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	b, err := messaging.New(*driver, messaging.Options{
		URL:            *broker,
		ClientID:       messaging.UniqueClientID("tvctl"),
		ConnectTimeout: 10 * time.Second,
	}, logging.Discard())
	if err != nil {
		return err
	}
	if err := b.Connect(ctx); err != nil {
		return fmt.Errorf("connect %s: %w", *broker, err)
	}
	defer b.Close(ctx)

	if err := b.Publish(ctx, *topic, messaging.AtLeastOnce, false, []byte(command.Encode(cmd))); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	fmt.Printf("Published %s to %s\n", command.Encode(cmd), *topic)
	return nil
}

func key(args []string) error {
	fs := flag.NewFlagSet("key", flag.ExitOnError)
	k := fs.String("key", "", "IR key name, e.g. KEY_POWER (required)")
	remote := fs.String("remote", "CT-90325", "LIRC remote profile")
	socket := fs.String("lircd", "", "Talk to this lircd socket instead of running irsend")
	fs.Usage = usage
	if err := fs.Parse(args); err != nil {
		os.Exit(2)
	}
	if *k == "" {
		fmt.Fprintf(os.Stderr, "--key is required\n")
		usage()
		os.Exit(2)
	}

	var tx ir.Transmitter = ir.NewIrsend("irsend", 2*time.Second, logging.Discard())
	if *socket != "" {
		tx = ir.NewLircd(*socket, 2*time.Second, logging.Discard())
	}
	if err := tx.SendOnce(context.Background(), *remote, *k); err != nil {
		return err
	}
	fmt.Printf("Sent %s %s\n", *remote, *k)
	return nil
}

func sense(args []string) error {
	fs := flag.NewFlagSet("sense", flag.ExitOnError)
	path := fs.String("config", "/etc/tvbridge/edge-config.json", "Edge config file")
	rounds := fs.Int("rounds", 5, "Number of readings")
	fs.Usage = usage
	if err := fs.Parse(args); err != nil {
		os.Exit(2)
	}

	cfg, err := config.LoadEdgeConfig(*path)
	if err != nil {
		return err
	}
	if !cfg.Sensor.Enabled {
		return fmt.Errorf("sensor is not enabled in %s", *path)
	}

	var pins gpio.PinController
	switch cfg.Sensor.Driver {
	case "modbus":
		pins, err = gpio.NewModbusPins(cfg.Sensor.Modbus, logging.Discard())
	default:
		pins, err = gpio.OpenRPIO()
	}
	if err != nil {
		return err
	}
	defer pins.Close()

	s := sensor.New(pins, sensor.SettingsFromConfig(cfg.Sensor), logging.Discard())
	unit := "polls"
	if s.Settings().Elapsed {
		unit = "ms"
	}

	ctx := context.Background()
	for i := range *rounds {
		v := s.Read(ctx)
		fmt.Printf("#%d  charge=%-6d threshold=%d %s  on=%v\n", i+1, v, s.Settings().Threshold, unit, v < s.Settings().Threshold)
		time.Sleep(200 * time.Millisecond)
	}
	return nil
}
