package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fisaks/tvbridge/internal/config"
)

type QoS byte

const (
	AtMostOnce    QoS = 0
	FireAndForget QoS = 0
	AtLeastOnce   QoS = 1
	ExactlyOnce   QoS = 2
	AsyncNoWait   QoS = 3 // not a real QoS, will switch to 0 on publish but not wait on returned token
)

// Subscription is returned when you Subscribe you can Unsubscribe later.
type Subscription interface {
	Unsubscribe(ctx context.Context) error
}

// Handler receives one message. Drivers call it sequentially per
// subscription, in arrival order.
type Handler func(ctx context.Context, topic string, payload []byte)

type Broker interface {
	Connect(ctx context.Context) error
	Close(ctx context.Context) error
	Publish(ctx context.Context, topic string, qos QoS, retain bool, payload []byte) error
	Subscribe(ctx context.Context, topic string, qos QoS, handler Handler) (Subscription, error)
	IsConnected() bool
	// ConnectionLost yields once per dropped connection when the driver is
	// not reconnecting on its own.
	ConnectionLost() <-chan error
}

type Options struct {
	URL              string
	ClientID         string
	RootCA           string
	Cert             string
	PrivateKey       string
	ConnectTimeout   time.Duration
	PublishTimeout   time.Duration
	SubscribeTimeout time.Duration
	// AutoReconnect lets the driver reconnect by itself. Off for the edge,
	// whose subscriber loop owns the reconnect policy.
	AutoReconnect bool
}

func OptionsFromConfig(cfg config.BrokerConfig) Options {
	return Options{
		URL:            cfg.URL,
		ClientID:       cfg.ClientID,
		RootCA:         cfg.RootCA,
		Cert:           cfg.Cert,
		PrivateKey:     cfg.PrivateKey,
		ConnectTimeout: cfg.ConnectTimeout(),
	}
}

// New builds the broker selected by driver ("mqtt" or "nats").
func New(driver string, opts Options, logger *slog.Logger) (Broker, error) {
	switch driver {
	case "", "mqtt":
		b, err := NewMsgBroker(opts, logger)
		if err != nil {
			return nil, err
		}
		return b, nil
	case "nats":
		b, err := NewNATSBroker(opts, logger)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown bus driver %q", driver)
	}
}

// UniqueClientID suffixes prefix with a random id so several instances can
// share one broker.
func UniqueClientID(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}
