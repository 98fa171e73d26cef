package gpio

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fisaks/tvbridge/internal/config"
	"github.com/fisaks/tvbridge/internal/logging"
	"github.com/goburrow/modbus"
)

var ErrBackoff = errors.New("modbus link in backoff")

type connector interface {
	Connect() error
	Close() error
}

// ModbusPins drives the sense line through a remote I/O module. The pin
// number addresses both the coil that pulls the line low and the discrete
// input that samples it, so the module must be wired coil N to input N.
type ModbusPins struct {
	handler connector
	client  modbus.Client
	logger  *slog.Logger
	settle  time.Duration

	// Connection and backoff state
	connOK      bool
	backoff     time.Duration
	backoffMin  time.Duration
	backoffMax  time.Duration
	retryAt     time.Time
	lastConnErr error
	now         func() time.Time
}

func NewModbusPins(cfg *config.ModbusConfig, logger *slog.Logger) (*ModbusPins, error) {
	var handler interface {
		modbus.ClientHandler
		connector
	}
	switch strings.ToLower(cfg.Type) {
	case "rtu":
		h := modbus.NewRTUClientHandler(cfg.Port)
		h.BaudRate = cfg.Baud
		h.DataBits = cfg.DataBits
		h.Parity = strings.ToUpper(cfg.Parity)
		h.StopBits = cfg.StopBits
		h.Timeout = cfg.Timeout()
		h.SlaveId = cfg.UnitId
		if cfg.Debug {
			h.Logger = logging.WrapSlog(logger, "modbus", cfg.Port)
		}
		handler = h
	case "tcp":
		h := modbus.NewTCPClientHandler(cfg.TCPAddr)
		h.Timeout = cfg.Timeout()
		h.SlaveId = cfg.UnitId
		if cfg.Debug {
			h.Logger = logging.WrapSlog(logger, "modbus", cfg.TCPAddr)
		}
		handler = h
	default:
		return nil, fmt.Errorf("unknown modbus type %q", cfg.Type)
	}
	return newModbusPins(handler, modbus.NewClient(handler), logger, cfg.SettleAfterWrite()), nil
}

func newModbusPins(h connector, c modbus.Client, logger *slog.Logger, settle time.Duration) *ModbusPins {
	return &ModbusPins{
		handler:    h,
		client:     c,
		logger:     logger,
		settle:     settle,
		backoffMin: 200 * time.Millisecond,
		backoffMax: 5 * time.Second,
		now:        time.Now,
	}
}

// Output holds the line low by closing the coil. High releases it to the
// pull-up, which is all an open-collector output can do.
func (m *ModbusPins) Output(pin int, level Level) error {
	val := uint16(0x0000)
	if level == Low {
		val = 0xFF00
	}
	_, err := m.withClient(func() ([]byte, error) {
		return m.client.WriteSingleCoil(uint16(pin), val)
	})
	if err != nil {
		return err
	}
	if m.settle > 0 {
		time.Sleep(m.settle)
	}
	return nil
}

// Input releases the line so it floats up through the photoresistor.
func (m *ModbusPins) Input(pin int) error {
	_, err := m.withClient(func() ([]byte, error) {
		return m.client.WriteSingleCoil(uint16(pin), 0x0000)
	})
	return err
}

func (m *ModbusPins) Read(pin int) (Level, error) {
	data, err := m.withClient(func() ([]byte, error) {
		// FC2, qty=1 returns 1 byte; bit0 is the input
		return m.client.ReadDiscreteInputs(uint16(pin), 1)
	})
	if err != nil {
		return Low, err
	}
	if len(data) == 0 {
		return Low, fmt.Errorf("empty discrete input response")
	}
	if data[0]&0x01 != 0 {
		return High, nil
	}
	return Low, nil
}

func (m *ModbusPins) Close() error {
	m.connOK = false
	return m.handler.Close()
}

func (m *ModbusPins) ensureConnected() error {
	if m.connOK {
		return nil
	}
	// the sensor loop polls in a tight loop, so fail fast instead of sleeping
	if m.backoff > 0 && m.now().Before(m.retryAt) {
		return fmt.Errorf("%w: %v", ErrBackoff, m.lastConnErr)
	}

	_ = m.handler.Close() // cleanup any stale
	if err := m.handler.Connect(); err != nil {
		m.bumpBackoff(err)
		return err
	}
	m.connOK = true
	m.backoff = 0
	m.lastConnErr = nil
	return nil
}

func (m *ModbusPins) bumpBackoff(err error) {
	m.connOK = false
	m.lastConnErr = err
	if m.backoff == 0 {
		m.backoff = m.backoffMin
	} else {
		m.backoff *= 2
		if m.backoff > m.backoffMax {
			m.backoff = m.backoffMax
		}
	}
	m.retryAt = m.now().Add(m.backoff)
}

func (m *ModbusPins) withClient(fn func() ([]byte, error)) ([]byte, error) {
	if err := m.ensureConnected(); err != nil {
		return nil, err
	}
	v, err := fn()
	if err == nil {
		return v, nil
	}
	if !isTransient(err) {
		return nil, err
	}
	m.logger.Warn("modbus request failed, reconnecting", "error", err)
	// one immediate reconnect, then leave the rest to the backoff window
	m.connOK = false
	if err2 := m.ensureConnected(); err2 != nil {
		return nil, err
	}
	v, err = fn()
	if err != nil {
		m.bumpBackoff(err)
		return nil, err
	}
	return v, nil
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "connection") ||
		strings.Contains(s, "broken pipe") ||
		strings.Contains(s, "reset") ||
		strings.Contains(s, "closed") ||
		strings.Contains(s, "i/o") ||
		strings.Contains(s, "timeout")
}
