package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fisaks/tvbridge/internal/alexa"
	"github.com/fisaks/tvbridge/internal/logging"
	"github.com/fisaks/tvbridge/internal/messaging"
	"github.com/fisaks/tvbridge/internal/publisher"
	"github.com/fisaks/tvbridge/internal/server"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type busRecorder struct {
	mu        sync.Mutex
	connected bool
	payloads  []string
	topics    []string
}

func (b *busRecorder) Connect(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = true
	return nil
}
func (b *busRecorder) Close(context.Context) error { return nil }
func (b *busRecorder) Publish(_ context.Context, topic string, _ messaging.QoS, _ bool, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topics = append(b.topics, topic)
	b.payloads = append(b.payloads, string(payload))
	return nil
}
func (b *busRecorder) Subscribe(context.Context, string, messaging.QoS, messaging.Handler) (messaging.Subscription, error) {
	return nil, errors.New("not supported")
}
func (b *busRecorder) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}
func (b *busRecorder) ConnectionLost() <-chan error { return nil }

func newServer(token string) (*server.Server, *busRecorder) {
	bus := &busRecorder{}
	pub := publisher.New(bus, "vova/alexa/tv", messaging.AtLeastOnce, time.Second, logging.Discard())
	router := alexa.NewRouter(alexa.NewHandlers(pub, logging.Discard()))
	return server.New(":0", token, router, pub.Connected, logging.Discard()), bus
}

func post(t *testing.T, s *server.Server, target, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

const turnOn = `{"directive": {"header": {"namespace": "Alexa.PowerController", "name": "TurnOn",
	"messageId": "abc", "payloadVersion": "3"}, "endpoint": {"scope": {"type": "BearerToken", "token": "t"},
	"endpointId": "tvcontrollerid"}, "payload": {}}}`

func Test_Directive_TurnOnEndToEnd(t *testing.T) {
	s, bus := newServer("")

	rec := post(t, s, "/directive", turnOn, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"power:ON"}, bus.payloads)
	assert.Equal(t, []string{"vova/alexa/tv"}, bus.topics)

	var resp alexa.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Response", resp.Event.Header.Name)
	assert.Equal(t, "abc", resp.Event.Header.MessageID)
	require.NotNil(t, resp.Context)
	assert.Equal(t, "powerState", resp.Context.Properties[0].Name)
	assert.Equal(t, "ON", resp.Context.Properties[0].Value)
}

func Test_Directive_Discover(t *testing.T) {
	s, bus := newServer("")

	rec := post(t, s, "/directive", `{"directive": {"header": {"namespace": "Alexa.Discovery", "name": "Discover"}}}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"Discover.Response"`)
	assert.Contains(t, rec.Body.String(), `"properties.supported"`)
	assert.Empty(t, bus.payloads)
}

func Test_Directive_MalformedJSON(t *testing.T) {
	s, bus := newServer("")

	rec := post(t, s, "/directive", `{"directive":`, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error": "Invalid request"}`, rec.Body.String())
	assert.Empty(t, bus.payloads)
}

func Test_Directive_AuthToken(t *testing.T) {
	tests := []struct {
		name   string
		target string
		header map[string]string
		want   int
	}{
		{name: "missing", target: "/directive", want: http.StatusUnauthorized},
		{name: "wrong header", target: "/directive", header: map[string]string{"X-Auth-Token": "nope"}, want: http.StatusUnauthorized},
		{name: "header", target: "/directive", header: map[string]string{"X-Auth-Token": "s3cret"}, want: http.StatusOK},
		{name: "query", target: "/directive?token=s3cret", want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, bus := newServer("s3cret")

			rec := post(t, s, tt.target, turnOn, tt.header)

			assert.Equal(t, tt.want, rec.Code)
			if tt.want != http.StatusOK {
				assert.Empty(t, bus.payloads)
			}
		})
	}
}

func Test_Healthz(t *testing.T) {
	s, bus := newServer("")

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status": "ok", "bus": false}`, rec.Body.String())

	_ = bus.Connect(context.Background())
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.JSONEq(t, `{"status": "ok", "bus": true}`, rec.Body.String())
}

func Test_Run_StopsOnCancel(t *testing.T) {
	s, _ := newServer("")
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
