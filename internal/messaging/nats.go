package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSBroker carries the same topics over core NATS. MQTT style topics are
// mapped to subjects: "/" becomes ".", "+" becomes "*" and "#" becomes ">".
type NATSBroker struct {
	opts     Options
	logger   *slog.Logger
	mu       sync.RWMutex
	nc       *nats.Conn
	connLost chan error
}

func NewNATSBroker(opts Options, logger *slog.Logger) (*NATSBroker, error) {
	if _, err := tlsConfig(opts); err != nil {
		return nil, err
	}
	return &NATSBroker{opts: opts, logger: logger, connLost: make(chan error, 1)}, nil
}

// Subject maps an MQTT topic filter onto a NATS subject.
func Subject(topic string) string {
	parts := strings.Split(strings.Trim(topic, "/"), "/")
	for i, p := range parts {
		switch p {
		case "+":
			parts[i] = "*"
		case "#":
			parts[i] = ">"
		}
	}
	return strings.Join(parts, ".")
}

func (b *NATSBroker) natsOptions() ([]nats.Option, error) {
	opts := []nats.Option{
		nats.Name(b.opts.ClientID),
		nats.PingInterval(5 * time.Second),
		nats.MaxPingsOutstanding(3),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			b.logger.Warn("nats disconnected", "url", b.opts.URL, "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			b.logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			if b.opts.AutoReconnect {
				return
			}
			err := nc.LastError()
			if err == nil {
				err = nats.ErrConnectionClosed
			}
			select {
			case b.connLost <- err:
			default:
			}
		}),
	}
	if b.opts.AutoReconnect {
		opts = append(opts, nats.MaxReconnects(-1), nats.ReconnectWait(500*time.Millisecond))
	} else {
		opts = append(opts, nats.NoReconnect())
	}
	if b.opts.ConnectTimeout > 0 {
		opts = append(opts, nats.Timeout(b.opts.ConnectTimeout))
	}
	tlsCfg, err := tlsConfig(b.opts)
	if err != nil {
		return nil, err
	}
	if tlsCfg != nil {
		opts = append(opts, nats.Secure(tlsCfg))
	}
	return opts, nil
}

func (b *NATSBroker) Connect(ctx context.Context) error {
	if b.IsConnected() {
		return nil
	}
	select {
	case <-b.connLost:
	default:
	}
	opts, err := b.natsOptions()
	if err != nil {
		return err
	}

	type result struct {
		nc  *nats.Conn
		err error
	}
	done := make(chan result, 1)
	go func() {
		nc, err := nats.Connect(b.opts.URL, opts...)
		done <- result{nc, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return fmt.Errorf("nats connect %s: %w", b.opts.URL, r.err)
		}
		b.mu.Lock()
		b.nc = r.nc
		b.mu.Unlock()
		b.logger.Info("nats connected", "url", r.nc.ConnectedUrl(), "name", b.opts.ClientID)
		return nil
	case <-ctx.Done():
		go func() {
			if r := <-done; r.nc != nil {
				r.nc.Close()
			}
		}()
		return ctx.Err()
	}
}

func (b *NATSBroker) conn() *nats.Conn {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.nc
}

func (b *NATSBroker) IsConnected() bool {
	nc := b.conn()
	return nc != nil && nc.IsConnected()
}

func (b *NATSBroker) ConnectionLost() <-chan error {
	return b.connLost
}

func (b *NATSBroker) Close(ctx context.Context) error {
	nc := b.conn()
	if nc == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		if err := nc.Drain(); err != nil {
			nc.Close()
		}
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		nc.Close()
		return ctx.Err()
	}
}

// Publish sends on the mapped subject. Anything above fire-and-forget
// flushes so the call returns once the server has the message.
func (b *NATSBroker) Publish(ctx context.Context, topic string, qos QoS, _ bool, payload []byte) error {
	nc := b.conn()
	if nc == nil || !nc.IsConnected() {
		return errors.New("nats client not connected")
	}
	if err := nc.Publish(Subject(topic), payload); err != nil {
		return err
	}
	if qos == AtMostOnce || qos == AsyncNoWait {
		return nil
	}
	timeout := b.opts.PublishTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	fctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return nc.FlushWithContext(fctx)
}

// Subscribe delivers messages of one subscription sequentially, which is
// how core NATS dispatches a callback subscription.
func (b *NATSBroker) Subscribe(ctx context.Context, topic string, _ QoS, handler Handler) (Subscription, error) {
	nc := b.conn()
	if nc == nil {
		return nil, errors.New("nats client not connected")
	}
	sub, err := nc.Subscribe(Subject(topic), func(msg *nats.Msg) {
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("nats handler panic", "name", b.opts.ClientID, "subject", msg.Subject, "err", r)
			}
		}()
		handler(ctx, strings.ReplaceAll(msg.Subject, ".", "/"), msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", topic, err)
	}
	timeout := b.opts.SubscribeTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if err := nc.FlushTimeout(timeout); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("nats subscribe %s: %w", topic, err)
	}
	return natsSubscription{sub}, nil
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s natsSubscription) Unsubscribe(context.Context) error {
	return s.sub.Unsubscribe()
}
