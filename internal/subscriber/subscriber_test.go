package subscriber

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fisaks/tvbridge/internal/command"
	"github.com/fisaks/tvbridge/internal/logging"
	"github.com/fisaks/tvbridge/internal/messaging"
)

type fakeBroker struct {
	mu         sync.Mutex
	connectErr []error // consumed one per Connect call
	connects   int
	subscribes int
	closes     int
	connected  bool
	handler    messaging.Handler
	handlerCtx context.Context
	lost       chan error
}

func newFakeBroker(connectErr ...error) *fakeBroker {
	return &fakeBroker{connectErr: connectErr, lost: make(chan error, 1)}
}

func (f *fakeBroker) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if len(f.connectErr) > 0 {
		err := f.connectErr[0]
		f.connectErr = f.connectErr[1:]
		if err != nil {
			return err
		}
	}
	f.connected = true
	return nil
}

func (f *fakeBroker) Close(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	f.connected = false
	return nil
}

func (f *fakeBroker) Publish(context.Context, string, messaging.QoS, bool, []byte) error {
	return nil
}

func (f *fakeBroker) Subscribe(ctx context.Context, topic string, qos messaging.QoS, h messaging.Handler) (messaging.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribes++
	f.handler = h
	f.handlerCtx = ctx
	return fakeSub{}, nil
}

func (f *fakeBroker) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeBroker) ConnectionLost() <-chan error { return f.lost }

func (f *fakeBroker) deliver(payload string) {
	f.mu.Lock()
	h, ctx := f.handler, f.handlerCtx
	f.mu.Unlock()
	h(ctx, "vova/alexa/tv", []byte(payload))
}

func (f *fakeBroker) dropConnection() {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	f.lost <- errors.New("EOF")
}

func (f *fakeBroker) counts() (connects, subscribes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, f.subscribes
}

type fakeSub struct{}

func (fakeSub) Unsubscribe(context.Context) error { return nil }

type recordingEngine struct {
	mu    sync.Mutex
	cmds  []command.Command
	panic bool
}

func (r *recordingEngine) Apply(_ context.Context, cmd command.Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.panic {
		r.panic = false
		panic("gpio exploded")
	}
	r.cmds = append(r.cmds, cmd)
}

func (r *recordingEngine) got() []command.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]command.Command(nil), r.cmds...)
}

type harness struct {
	sub    *Subscriber
	broker *fakeBroker
	engine *recordingEngine
	cancel context.CancelFunc
	done   chan error

	mu    sync.Mutex
	waits []time.Duration
	clock time.Time
}

func start(t *testing.T, broker *fakeBroker, settings Settings) *harness {
	t.Helper()
	h := &harness{broker: broker, engine: &recordingEngine{}, clock: time.Unix(0, 0), done: make(chan error, 1)}
	settings.Topic = "vova/alexa/tv"
	h.sub = New(broker, h.engine, settings, logging.Discard())
	h.sub.now = func() time.Time {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.clock
	}
	h.sub.sleep = func(ctx context.Context, d time.Duration) bool {
		h.mu.Lock()
		h.waits = append(h.waits, d)
		h.mu.Unlock()
		select {
		case <-ctx.Done():
			return false
		case <-time.After(time.Millisecond):
			return true
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.sub.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(2 * time.Second):
			t.Error("Run did not return after cancel")
		}
	})
	return h
}

func (h *harness) advance(d time.Duration) {
	h.mu.Lock()
	h.clock = h.clock.Add(d)
	h.mu.Unlock()
}

func (h *harness) recordedWaits() []time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]time.Duration(nil), h.waits...)
}

func waitSubscribed(t *testing.T, h *harness, subscribes int) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, n := h.broker.counts()
		return n == subscribes && h.sub.State() == Subscribed
	}, 2*time.Second, time.Millisecond)
}

func Test_Run_AppliesCommandsInOrder(t *testing.T) {
	h := start(t, newFakeBroker(), Settings{})
	waitSubscribed(t, h, 1)

	h.broker.deliver("power:ON")
	h.broker.deliver("garbage")
	h.broker.deliver("volume:-2")
	h.broker.deliver("input:XBOX")

	require.Eventually(t, func() bool { return len(h.engine.got()) == 3 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, []command.Command{
		command.NewPower(true),
		command.NewVolume(-2),
		command.NewInput("xbox"),
	}, h.engine.got())
}

func Test_Run_RecoversFromPanic(t *testing.T) {
	h := start(t, newFakeBroker(), Settings{})
	h.engine.panic = true
	waitSubscribed(t, h, 1)

	h.broker.deliver("mute:True")
	h.broker.deliver("mute:False")

	require.Eventually(t, func() bool { return len(h.engine.got()) == 1 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, command.NewMute(false), h.engine.got()[0])
	assert.Equal(t, Subscribed, h.sub.State())
}

func Test_Run_BackoffDoublesToCap(t *testing.T) {
	fail := errors.New("connection refused")
	broker := newFakeBroker(fail, fail, fail, fail, fail, fail, fail, nil)
	h := start(t, broker, Settings{MinBackoff: time.Second, MaxBackoff: 32 * time.Second})
	waitSubscribed(t, h, 1)

	connects, _ := broker.counts()
	assert.Equal(t, 8, connects)
	assert.Equal(t, []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 32 * time.Second, 32 * time.Second,
	}, h.recordedWaits())
}

func Test_Run_ReconnectsAfterLoss(t *testing.T) {
	fail := errors.New("connection refused")
	broker := newFakeBroker(fail, fail, nil)
	h := start(t, broker, Settings{MinBackoff: time.Second, MaxBackoff: 32 * time.Second, StablePeriod: 20 * time.Second})
	waitSubscribed(t, h, 1)

	// short-lived connection keeps growing the backoff
	broker.dropConnection()
	waitSubscribed(t, h, 2)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, h.recordedWaits())

	// a connection that outlived the stable period starts over
	h.advance(25 * time.Second)
	broker.dropConnection()
	waitSubscribed(t, h, 3)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, time.Second}, h.recordedWaits())

	h.broker.deliver("power:OFF")
	require.Eventually(t, func() bool { return len(h.engine.got()) == 1 }, 2*time.Second, time.Millisecond)
}

func Test_Run_IdlesAfterMaxAttempts(t *testing.T) {
	fail := errors.New("connection refused")
	broker := newFakeBroker(fail, fail, fail, fail, fail, fail)
	h := start(t, broker, Settings{MaxConnectAttempts: 3, IdleInterval: time.Minute})

	require.Eventually(t, func() bool {
		waits := h.recordedWaits()
		return len(waits) >= 4 && waits[len(waits)-1] == time.Minute
	}, 2*time.Second, time.Millisecond)

	connects, subscribes := broker.counts()
	assert.Equal(t, 3, connects)
	assert.Equal(t, 0, subscribes)
	assert.Equal(t, Disconnected, h.sub.State())

	select {
	case <-h.done:
		t.Fatal("Run returned while idling")
	default:
	}
}

func Test_Run_ReturnsOnCancel(t *testing.T) {
	broker := newFakeBroker()
	h := start(t, broker, Settings{})
	waitSubscribed(t, h, 1)

	h.cancel()
	select {
	case err := <-h.done:
		assert.NoError(t, err)
		h.done <- err
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
	assert.Equal(t, Disconnected, h.sub.State())
	assert.False(t, broker.IsConnected())
}

func Test_State_String(t *testing.T) {
	assert.Equal(t, "subscribed", Subscribed.String())
	assert.Equal(t, "state(7)", State(7).String())
}
