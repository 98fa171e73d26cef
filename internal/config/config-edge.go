// internal/config/config-edge.go
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"slices"
	"strings"
	"time"
)

/* =========================
   Types
   ========================= */

type EdgeConfig struct {
	Broker BrokerConfig `json:"broker"`
	Remote RemoteConfig `json:"remote"`
	Sensor SensorConfig `json:"sensor"`
	Log    LogConfig    `json:"log"`
}

type BrokerConfig struct {
	Driver           string `json:"driver"` // "mqtt" | "nats"
	URL              string `json:"url"`
	ClientID         string `json:"clientId"`
	Topic            string `json:"topic"`
	QoS              int    `json:"qos"`
	RootCA           string `json:"rootCA"`
	Cert             string `json:"cert"`
	PrivateKey       string `json:"privateKey"`
	ConnectTimeoutMs int    `json:"connectTimeoutMs"`

	// reconnect policy of the subscriber loop
	MinBackoffMs       int `json:"minBackoffMs"`
	MaxBackoffMs       int `json:"maxBackoffMs"`
	StablePeriodMs     int `json:"stablePeriodMs"`
	MaxConnectAttempts int `json:"maxConnectAttempts"` // 0 = forever
	IdleIntervalMs     int `json:"idleIntervalMs"`
}

type RemoteConfig struct {
	Profile        string       `json:"profile"`
	Transmitter    string       `json:"transmitter"` // "irsend" | "lircd"
	IrsendPath     string       `json:"irsendPath"`
	LircdSocket    string       `json:"lircdSocket"`
	TimeoutMs      int          `json:"timeoutMs"`
	MaxVolumeSteps int          `json:"maxVolumeSteps"` // presses per volume command
	Inputs         []InputMacro `json:"inputs,omitempty"`
	Fallback       []string     `json:"fallback,omitempty"`
}

// InputMacro is the key sequence sent when one of Names is requested.
type InputMacro struct {
	Names []string `json:"names"`
	Keys  []string `json:"keys"`
}

type SensorConfig struct {
	Enabled     bool          `json:"enabled"`
	Driver      string        `json:"driver"` // "rpio" | "modbus"
	Pin         int           `json:"pin"`
	Timeout     int           `json:"timeout"`
	Threshold   int           `json:"threshold"`
	Samples     int           `json:"samples"`
	DischargeMs int           `json:"dischargeMs"`
	Modbus      *ModbusConfig `json:"modbus,omitempty"`
}

type ModbusConfig struct {
	Type               string `json:"type"` // "rtu" | "tcp"
	TCPAddr            string `json:"tcpAddr"`
	Port               string `json:"port"`
	Baud               int    `json:"baud"`
	DataBits           int    `json:"dataBits"`
	StopBits           int    `json:"stopBits"`
	Parity             string `json:"parity"`
	UnitId             uint8  `json:"unitId"`
	TimeoutMs          int    `json:"timeoutMs"`
	SettleAfterWriteMs int    `json:"settleAfterWriteMs"`
	Debug              bool   `json:"debug"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	File   string `json:"file"`
}

/* =========================
   Helpers
   ========================= */

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func (b BrokerConfig) ConnectTimeout() time.Duration { return ms(b.ConnectTimeoutMs) }
func (b BrokerConfig) MinBackoff() time.Duration     { return ms(b.MinBackoffMs) }
func (b BrokerConfig) MaxBackoff() time.Duration     { return ms(b.MaxBackoffMs) }
func (b BrokerConfig) StablePeriod() time.Duration   { return ms(b.StablePeriodMs) }
func (b BrokerConfig) IdleInterval() time.Duration   { return ms(b.IdleIntervalMs) }

func (r RemoteConfig) Timeout() time.Duration { return ms(r.TimeoutMs) }

func (s SensorConfig) Discharge() time.Duration { return ms(s.DischargeMs) }

// Elapsed reports whether timeout and threshold are milliseconds rather
// than polling iterations. Every poll of a Modbus input is a round trip.
func (s SensorConfig) Elapsed() bool { return s.Driver == "modbus" }

// Sensor calibration defaults. The RPIO pair counts polling iterations;
// the Modbus pair is in milliseconds.
const (
	RPIOSensorTimeout       = 50000
	RPIOSensorThreshold     = 20000
	ModbusSensorTimeoutMs   = 3000
	ModbusSensorThresholdMs = 500
)

func (m ModbusConfig) Timeout() time.Duration          { return ms(m.TimeoutMs) }
func (m ModbusConfig) SettleAfterWrite() time.Duration { return ms(m.SettleAfterWriteMs) }

/* =========================
   Strict load + validate
   ========================= */

func LoadEdgeConfig(path string) (*EdgeConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	defer f.Close()
	return LoadEdgeConfigFromReader(f)
}

func LoadEdgeConfigFromReader(r io.Reader) (*EdgeConfig, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	clean := stripJSONComments(raw)
	dec := json.NewDecoder(strings.NewReader(string(clean)))
	dec.DisallowUnknownFields()

	var cfg EdgeConfig
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate applies defaults in place and reports every problem at once.
func (c *EdgeConfig) Validate() error {
	var errs multiErr

	c.Broker.validate(&errs, "broker")

	/* Remote */
	r := &c.Remote
	if r.Profile == "" {
		r.Profile = "CT-90325"
	}
	if r.Transmitter == "" {
		r.Transmitter = "irsend"
	}
	switch r.Transmitter {
	case "irsend":
		if r.IrsendPath == "" {
			r.IrsendPath = "irsend"
		}
	case "lircd":
		if r.LircdSocket == "" {
			r.LircdSocket = "/var/run/lirc/lircd"
		}
	default:
		errs.addf("remote.transmitter must be 'irsend' or 'lircd', got %q", r.Transmitter)
	}
	if r.TimeoutMs <= 0 {
		r.TimeoutMs = 2000
	}
	if r.MaxVolumeSteps == 0 {
		r.MaxVolumeSteps = 100
	}
	if r.MaxVolumeSteps < 0 {
		errs.add("remote.maxVolumeSteps cannot be negative")
	}
	for i, m := range r.Inputs {
		if len(m.Names) == 0 {
			errs.addf("remote.inputs[%d]: names cannot be empty", i)
		}
		if len(m.Keys) == 0 {
			errs.addf("remote.inputs[%d]: keys cannot be empty", i)
		}
	}

	/* Sensor */
	s := &c.Sensor
	if s.Enabled {
		if s.Driver == "" {
			s.Driver = "rpio"
		}
		switch s.Driver {
		case "rpio":
			if s.Pin == 0 {
				s.Pin = 23
			}
		case "modbus":
			if s.Modbus == nil {
				errs.add("sensor.modbus is required for driver=modbus")
			} else {
				s.Modbus.validate(&errs)
			}
		default:
			errs.addf("sensor.driver must be 'rpio' or 'modbus', got %q", s.Driver)
		}
		if s.Pin < 0 {
			errs.add("sensor.pin cannot be negative")
		}
		timeout, threshold := RPIOSensorTimeout, RPIOSensorThreshold
		if s.Elapsed() {
			timeout, threshold = ModbusSensorTimeoutMs, ModbusSensorThresholdMs
		}
		if s.Timeout <= 0 {
			s.Timeout = timeout
		}
		if s.Threshold <= 0 {
			s.Threshold = threshold
		}
		if s.Threshold > s.Timeout {
			errs.addf("sensor.threshold (%d) must not exceed sensor.timeout (%d)", s.Threshold, s.Timeout)
		}
		if s.Samples == 0 {
			s.Samples = 1
		}
		if s.Samples < 1 || s.Samples > 3 {
			errs.add("sensor.samples must be 1..3")
		}
		if s.DischargeMs <= 0 {
			s.DischargeMs = 10
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (b *BrokerConfig) validate(errs *multiErr, prefix string) {
	if b.Driver == "" {
		b.Driver = "mqtt"
	}
	if !slices.Contains([]string{"mqtt", "nats"}, b.Driver) {
		errs.addf("%s.driver must be 'mqtt' or 'nats', got %q", prefix, b.Driver)
	}
	if strings.TrimSpace(b.URL) == "" {
		errs.addf("%s.url is required", prefix)
	}
	if b.ClientID == "" {
		b.ClientID = "basicPubSub"
	}
	if b.Topic == "" {
		b.Topic = "vova/alexa/tv"
	}
	if b.QoS < 0 || b.QoS > 2 {
		errs.addf("%s.qos must be 0..2", prefix)
	}
	// mutual TLS needs both halves of the key pair
	if (b.Cert == "") != (b.PrivateKey == "") {
		errs.addf("%s: cert and privateKey must be set together", prefix)
	}
	if b.ConnectTimeoutMs <= 0 {
		b.ConnectTimeoutMs = 10000
	}
	if b.MinBackoffMs <= 0 {
		b.MinBackoffMs = 1000
	}
	if b.MaxBackoffMs <= 0 {
		b.MaxBackoffMs = 32000
	}
	if b.MaxBackoffMs < b.MinBackoffMs {
		errs.addf("%s.maxBackoffMs must be >= minBackoffMs", prefix)
	}
	if b.StablePeriodMs <= 0 {
		b.StablePeriodMs = 20000
	}
	if b.MaxConnectAttempts < 0 {
		errs.addf("%s.maxConnectAttempts cannot be negative (0 retries forever)", prefix)
	}
	if b.IdleIntervalMs <= 0 {
		b.IdleIntervalMs = 10000
	}
}

func (m *ModbusConfig) validate(errs *multiErr) {
	switch strings.ToLower(m.Type) {
	case "tcp":
		if strings.TrimSpace(m.TCPAddr) == "" {
			errs.add("sensor.modbus: tcpAddr is required for type=tcp")
		}
	case "rtu":
		if strings.TrimSpace(m.Port) == "" {
			errs.add("sensor.modbus: port is required for type=rtu")
		}
		if m.Baud <= 0 {
			errs.add("sensor.modbus: baud must be > 0 for type=rtu")
		}
		if m.DataBits == 0 {
			m.DataBits = 8
		}
		if m.StopBits == 0 {
			m.StopBits = 1
		}
		if m.Parity == "" {
			m.Parity = "N"
		}
		if !slices.Contains([]string{"N", "E", "O"}, strings.ToUpper(m.Parity)) {
			errs.add("sensor.modbus: parity must be one of N,E,O")
		}
	default:
		errs.add("sensor.modbus: type must be 'rtu' or 'tcp'")
	}
	if m.UnitId == 0 || m.UnitId > 247 {
		errs.add("sensor.modbus: unitId must be 1..247")
	}
	if m.TimeoutMs <= 0 {
		m.TimeoutMs = 150
	}
	if m.SettleAfterWriteMs < 0 {
		errs.add("sensor.modbus: settleAfterWriteMs cannot be negative")
	}
}

/* =========================
   Comment stripping + utils
   ========================= */

var (
	lineComments  = regexp.MustCompile(`(?m)^\s*//[^\n\r]*`)
	blockComments = regexp.MustCompile(`(?s)/\*.*?\*/`)
)

func stripJSONComments(in []byte) []byte {
	text := string(in)
	text = blockComments.ReplaceAllString(text, "")
	text = lineComments.ReplaceAllString(text, "")
	return []byte(text)
}

// small multi-error
type multiErr []string

func (m *multiErr) add(s string)            { *m = append(*m, s) }
func (m *multiErr) addf(f string, a ...any) { *m = append(*m, fmt.Sprintf(f, a...)) }
func (m multiErr) Error() string            { return "validation errors: " + strings.Join(m, "; ") }
