package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MsgBroker is the MQTT driver (AWS IoT, mosquitto).
type MsgBroker struct {
	opts     Options
	client   mqtt.Client
	logger   *slog.Logger
	mu       sync.RWMutex
	subs     map[string]mqtt.Token
	connLost chan error
}

func NewMsgBroker(opts Options, logger *slog.Logger) (*MsgBroker, error) {
	b := &MsgBroker{
		opts:     opts,
		logger:   logger,
		subs:     make(map[string]mqtt.Token),
		connLost: make(chan error, 1),
	}
	clientOpts, err := b.optionsFromConfig()
	if err != nil {
		return nil, err
	}
	b.client = mqtt.NewClient(clientOpts)
	return b, nil
}

func (b *MsgBroker) optionsFromConfig() (*mqtt.ClientOptions, error) {
	opts := mqtt.NewClientOptions().AddBroker(b.opts.URL)
	opts.SetClientID(b.opts.ClientID)
	opts.SetAutoReconnect(b.opts.AutoReconnect)
	opts.SetConnectRetry(false)
	opts.SetCleanSession(true)
	// handlers run one at a time so commands reach the TV in order
	opts.SetOrderMatters(true)
	if b.opts.ConnectTimeout > 0 {
		opts.SetConnectTimeout(b.opts.ConnectTimeout)
	}
	tlsCfg, err := tlsConfig(b.opts)
	if err != nil {
		return nil, err
	}
	if tlsCfg != nil {
		opts.SetTLSConfig(tlsCfg)
	}
	opts.SetOnConnectHandler(func(mqtt.Client) {
		b.logger.Info("mqtt connected", "url", b.opts.URL, "clientId", b.opts.ClientID)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		b.logger.Warn("mqtt connection lost", "url", b.opts.URL, "error", err)
		if b.opts.AutoReconnect {
			return
		}
		select {
		case b.connLost <- err:
		default:
		}
	})
	return opts, nil
}

func (b *MsgBroker) Connect(ctx context.Context) error {
	if b.client.IsConnected() {
		return nil
	}
	// drop a loss signal left over from the previous session
	select {
	case <-b.connLost:
	default:
	}

	t := b.client.Connect()
	done := make(chan struct{})
	go func() {
		t.Wait()
		close(done)
	}()

	select {
	case <-done:
		return t.Error()
	case <-ctx.Done():

		b.client.Disconnect(250)
		return ctx.Err()
	}
}

func (b *MsgBroker) IsConnected() bool {
	return b.client.IsConnected()
}

func (b *MsgBroker) ConnectionLost() <-chan error {
	return b.connLost
}

func (b *MsgBroker) Close(ctx context.Context) error {
	// Graceful disconnect with short timeout
	done := make(chan struct{})
	go func() {
		// 250 ms quiesce period
		b.client.Disconnect(250)
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *MsgBroker) Publish(ctx context.Context, topic string, qos QoS, retain bool, payload []byte) error {
	if !b.client.IsConnected() {
		return errors.New("mqtt client not connected")
	}
	qosByte, wait := qosToByte(qos)
	token := b.client.Publish(topic, qosByte, retain, payload)
	if !wait {
		return nil
	}
	timeout := b.opts.PublishTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	select {
	case <-token.Done():
		return token.Error()
	case <-time.After(timeout):
		return fmt.Errorf("publish timeout after %v", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func qosToByte(qos QoS) (byte, bool) {
	if qos > 2 {
		return 0, false
	}
	return byte(qos), true
}

// Subscribe registers handler and waits for SUBACK with timeout
func (b *MsgBroker) Subscribe(ctx context.Context, topic string, qos QoS, handler Handler) (Subscription, error) {
	// wrapper that converts paho message to our handler and logs panics without crashing
	onMessageHandler := func(_ mqtt.Client, msg mqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("mqtt handler panic", "clientId", b.opts.ClientID, "topic", msg.Topic(), "err", r)
			}
		}()
		handler(ctx, msg.Topic(), msg.Payload())
	}
	q, _ := qosToByte(qos)
	token := b.client.Subscribe(topic, q, onMessageHandler)

	timeout := b.opts.SubscribeTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return nil, err
		}
		if st, ok := token.(*mqtt.SubscribeToken); ok {
			// 0x80 in the SUBACK means the broker refused the filter
			if code, found := st.Result()[topic]; found && code == 0x80 {
				return nil, fmt.Errorf("subscribe refused for %s", topic)
			}
		}

		b.mu.Lock()
		b.subs[topic] = token
		b.mu.Unlock()

		return &msgSubscription{broker: b, topic: topic}, nil

	case <-time.After(timeout):
		return nil, fmt.Errorf("subscribe timeout for %s", topic)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// subscription wrapper
type msgSubscription struct {
	broker *MsgBroker
	topic  string
}

func (s *msgSubscription) Unsubscribe(ctx context.Context) error {
	b := s.broker
	b.mu.Lock()
	delete(b.subs, s.topic)
	b.mu.Unlock()

	token := b.client.Unsubscribe(s.topic)
	timeout := 3 * time.Second
	select {
	case <-token.Done():
		return token.Error()
	case <-time.After(timeout):
		return fmt.Errorf("unsubscribe timeout for %s", s.topic)
	case <-ctx.Done():
		return ctx.Err()
	}
}
