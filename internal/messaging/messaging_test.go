package messaging_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fisaks/tvbridge/internal/config"
	"github.com/fisaks/tvbridge/internal/logging"
	"github.com/fisaks/tvbridge/internal/messaging"
)

func Test_Subject(t *testing.T) {
	tests := []struct {
		topic string
		want  string
	}{
		{topic: "vova/alexa/tv", want: "vova.alexa.tv"},
		{topic: "/vova/alexa/tv/", want: "vova.alexa.tv"},
		{topic: "vova/+/tv", want: "vova.*.tv"},
		{topic: "vova/#", want: "vova.>"},
		{topic: "tv", want: "tv"},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			assert.Equal(t, tt.want, messaging.Subject(tt.topic))
		})
	}
}

func Test_New_SelectsDriver(t *testing.T) {
	opts := messaging.Options{URL: "tcp://127.0.0.1:1883", ClientID: "test"}

	b, err := messaging.New("mqtt", opts, logging.Discard())
	require.NoError(t, err)
	assert.IsType(t, &messaging.MsgBroker{}, b)
	assert.False(t, b.IsConnected())

	b, err = messaging.New("nats", opts, logging.Discard())
	require.NoError(t, err)
	assert.IsType(t, &messaging.NATSBroker{}, b)
	assert.False(t, b.IsConnected())

	_, err = messaging.New("amqp", opts, logging.Discard())
	assert.ErrorContains(t, err, "unknown bus driver")
}

func Test_New_BadTLSMaterial(t *testing.T) {
	dir := t.TempDir()
	ca := filepath.Join(dir, "AmazonRootCA1.pem")
	require.NoError(t, os.WriteFile(ca, []byte("not a certificate"), 0o600))

	_, err := messaging.New("mqtt", messaging.Options{URL: "ssl://x:8883", RootCA: ca}, logging.Discard())
	assert.ErrorContains(t, err, "no certificates found")

	_, err = messaging.New("mqtt", messaging.Options{URL: "ssl://x:8883", RootCA: filepath.Join(dir, "missing.pem")}, logging.Discard())
	assert.ErrorContains(t, err, "read root CA")
}

func Test_OptionsFromConfig(t *testing.T) {
	cfg := config.BrokerConfig{URL: "ssl://iot:8883", ClientID: "basicPubSub", RootCA: "root.pem", ConnectTimeoutMs: 1500}
	opts := messaging.OptionsFromConfig(cfg)

	assert.Equal(t, "ssl://iot:8883", opts.URL)
	assert.Equal(t, "basicPubSub", opts.ClientID)
	assert.Equal(t, "root.pem", opts.RootCA)
	assert.Equal(t, int64(1500), opts.ConnectTimeout.Milliseconds())
	assert.False(t, opts.AutoReconnect)
}

func Test_UniqueClientID(t *testing.T) {
	a := messaging.UniqueClientID("tvbridge-skill")
	b := messaging.UniqueClientID("tvbridge-skill")

	assert.True(t, strings.HasPrefix(a, "tvbridge-skill-"))
	assert.Len(t, a, len("tvbridge-skill-")+8)
	assert.NotEqual(t, a, b)
}
