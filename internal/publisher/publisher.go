// Package publisher pushes encoded commands from the skill onto the bus.
package publisher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fisaks/tvbridge/internal/command"
	"github.com/fisaks/tvbridge/internal/messaging"
)

type Publisher struct {
	broker  messaging.Broker
	topic   string
	qos     messaging.QoS
	timeout time.Duration
	logger  *slog.Logger

	// serializes the lazy connect
	mu sync.Mutex
}

func New(broker messaging.Broker, topic string, qos messaging.QoS, timeout time.Duration, logger *slog.Logger) *Publisher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Publisher{broker: broker, topic: topic, qos: qos, timeout: timeout, logger: logger}
}

// Publish sends cmd on the command topic. Failures are logged and dropped
// so the directive still gets its response.
func (p *Publisher) Publish(ctx context.Context, cmd command.Command) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	payload := command.Encode(cmd)
	if err := p.ensureConnected(ctx); err != nil {
		p.logger.Warn("unable to publish, bus not reachable", "topic", p.topic, "payload", payload, "error", err)
		return
	}
	if err := p.broker.Publish(ctx, p.topic, p.qos, false, []byte(payload)); err != nil {
		p.logger.Warn("unable to publish, check permissions", "topic", p.topic, "payload", payload, "error", err)
		return
	}
	p.logger.Debug("published", "topic", p.topic, "payload", payload)
}

func (p *Publisher) ensureConnected(ctx context.Context) error {
	if p.broker.IsConnected() {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.broker.IsConnected() {
		return nil
	}
	return p.broker.Connect(ctx)
}

// Connected reports the bus link for health checks.
func (p *Publisher) Connected() bool {
	return p.broker.IsConnected()
}
