// Package subscriber runs the edge side: it keeps a bus subscription alive
// and feeds every received command to the actuation engine, one at a time.
package subscriber

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fisaks/tvbridge/internal/command"
	"github.com/fisaks/tvbridge/internal/config"
	"github.com/fisaks/tvbridge/internal/messaging"
)

type State int32

const (
	Disconnected State = iota
	Connected
	Subscribed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	case Subscribed:
		return "subscribed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Applier executes a decoded command.
type Applier interface {
	Apply(ctx context.Context, cmd command.Command)
}

type Settings struct {
	Topic        string
	QoS          messaging.QoS
	MinBackoff   time.Duration
	MaxBackoff   time.Duration
	StablePeriod time.Duration
	// MaxConnectAttempts bounds one connect cycle; 0 retries forever.
	MaxConnectAttempts int
	IdleInterval       time.Duration
	QueueSize          int
}

func SettingsFromConfig(b config.BrokerConfig) Settings {
	return Settings{
		Topic:              b.Topic,
		QoS:                messaging.QoS(b.QoS),
		MinBackoff:         b.MinBackoff(),
		MaxBackoff:         b.MaxBackoff(),
		StablePeriod:       b.StablePeriod(),
		MaxConnectAttempts: b.MaxConnectAttempts,
		IdleInterval:       b.IdleInterval(),
	}
}

type message struct {
	topic   string
	payload []byte
}

type Subscriber struct {
	broker   messaging.Broker
	engine   Applier
	settings Settings
	logger   *slog.Logger
	state    atomic.Int32
	msgs     chan message

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) bool
}

func New(broker messaging.Broker, engine Applier, settings Settings, logger *slog.Logger) *Subscriber {
	if settings.MinBackoff <= 0 {
		settings.MinBackoff = time.Second
	}
	if settings.MaxBackoff < settings.MinBackoff {
		settings.MaxBackoff = max(32*time.Second, settings.MinBackoff)
	}
	if settings.StablePeriod <= 0 {
		settings.StablePeriod = 20 * time.Second
	}
	if settings.IdleInterval <= 0 {
		settings.IdleInterval = 10 * time.Second
	}
	if settings.QueueSize <= 0 {
		settings.QueueSize = 64
	}
	return &Subscriber{
		broker:   broker,
		engine:   engine,
		settings: settings,
		logger:   logger,
		msgs:     make(chan message, settings.QueueSize),
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

func (s *Subscriber) State() State { return State(s.state.Load()) }

func (s *Subscriber) setState(st State) {
	if State(s.state.Swap(int32(st))) != st {
		s.logger.Debug("subscriber state", "state", st.String())
	}
}

func (s *Subscriber) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.settings.MinBackoff
	b.MaxInterval = s.settings.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Run connects, subscribes and processes messages until ctx is done,
// reconnecting with exponential backoff whenever the link drops. It
// returns nil on shutdown.
func (s *Subscriber) Run(ctx context.Context) error {
	bo := s.newBackoff()
	attempts := 0

	for ctx.Err() == nil {
		connectedAt := s.now()
		sub, err := s.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			attempts++
			if s.settings.MaxConnectAttempts > 0 && attempts >= s.settings.MaxConnectAttempts {
				s.logger.Error("giving up connecting", "attempts", attempts, "error", err)
				s.idle(ctx)
				break
			}
			wait := bo.NextBackOff()
			s.logger.Warn("connect failed", "attempt", attempts, "retryIn", wait, "error", err)
			if !s.sleep(ctx, wait) {
				break
			}
			continue
		}

		attempts = 0
		s.serve(ctx)
		s.setState(Disconnected)
		if ctx.Err() != nil {
			s.shutdown(sub)
			break
		}

		if s.now().Sub(connectedAt) >= s.settings.StablePeriod {
			bo.Reset()
		}
		wait := bo.NextBackOff()
		s.logger.Info("reconnecting", "retryIn", wait)
		if !s.sleep(ctx, wait) {
			break
		}
	}
	s.setState(Disconnected)
	return nil
}

func (s *Subscriber) connect(ctx context.Context) (messaging.Subscription, error) {
	if err := s.broker.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	s.setState(Connected)

	sub, err := s.broker.Subscribe(ctx, s.settings.Topic, s.settings.QoS, s.enqueue)
	if err != nil {
		s.setState(Disconnected)
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		_ = s.broker.Close(closeCtx)
		return nil, fmt.Errorf("subscribe %s: %w", s.settings.Topic, err)
	}
	s.setState(Subscribed)
	s.logger.Info("subscribed", "topic", s.settings.Topic, "qos", int(s.settings.QoS))
	return sub, nil
}

// enqueue runs on the broker's delivery goroutine and only hands the
// payload over to Run.
func (s *Subscriber) enqueue(ctx context.Context, topic string, payload []byte) {
	select {
	case s.msgs <- message{topic: topic, payload: payload}:
	case <-ctx.Done():
	}
}

func (s *Subscriber) serve(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-s.broker.ConnectionLost():
			s.logger.Warn("connection lost", "error", err)
			return
		case m := <-s.msgs:
			s.handle(ctx, m)
		}
	}
}

func (s *Subscriber) handle(ctx context.Context, m message) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("command handling panic", "topic", m.topic, "err", r)
		}
	}()

	s.logger.Info("received message", "topic", m.topic, "payload", string(m.payload))
	cmd, err := command.Decode(string(m.payload))
	if err != nil {
		s.logger.Warn("dropping message", "topic", m.topic, "error", err)
		return
	}
	s.engine.Apply(ctx, cmd)
}

// idle keeps the process alive after the connect budget is spent.
func (s *Subscriber) idle(ctx context.Context) {
	for s.sleep(ctx, s.settings.IdleInterval) {
		s.logger.Warn("not subscribed; connect attempts exhausted", "topic", s.settings.Topic)
	}
}

func (s *Subscriber) shutdown(sub messaging.Subscription) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if sub != nil {
		if err := sub.Unsubscribe(ctx); err != nil {
			s.logger.Debug("unsubscribe failed", "error", err)
		}
	}
	if err := s.broker.Close(ctx); err != nil {
		s.logger.Debug("broker close failed", "error", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
