// Package sensor reads the TV standby LED through a photoresistor and
// capacitor on a single GPIO line. The time the capacitor takes to charge
// through the resistor is short when the LED is lit.
//
// On a local GPIO the charge time is measured in polling iterations. Over a
// Modbus link every poll is a full request, so the count would depend on
// the link speed; with Elapsed set it is measured in milliseconds instead.
package sensor

import (
	"context"
	"log/slog"
	"time"

	"github.com/fisaks/tvbridge/internal/config"
	"github.com/fisaks/tvbridge/internal/gpio"
)

// Settings holds the calibration. Timeout and Threshold are polling
// iterations, or milliseconds when Elapsed is set.
type Settings struct {
	Pin       int
	Timeout   int
	Threshold int
	Samples   int
	Discharge time.Duration
	Elapsed   bool
}

func DefaultSettings() Settings {
	return Settings{
		Pin:       23,
		Timeout:   config.RPIOSensorTimeout,
		Threshold: config.RPIOSensorThreshold,
		Samples:   1,
		Discharge: 10 * time.Millisecond,
	}
}

// DefaultElapsedSettings is the millisecond calibration for a sense line
// behind a Modbus I/O module.
func DefaultElapsedSettings() Settings {
	return Settings{
		Timeout:   config.ModbusSensorTimeoutMs,
		Threshold: config.ModbusSensorThresholdMs,
		Samples:   1,
		Discharge: 10 * time.Millisecond,
		Elapsed:   true,
	}
}

func SettingsFromConfig(sc config.SensorConfig) Settings {
	return Settings{
		Pin:       sc.Pin,
		Timeout:   sc.Timeout,
		Threshold: sc.Threshold,
		Samples:   sc.Samples,
		Discharge: sc.Discharge(),
		Elapsed:   sc.Elapsed(),
	}
}

type PowerSensor struct {
	pins     gpio.PinController
	settings Settings
	logger   *slog.Logger
	sleep    func(time.Duration)
	now      func() time.Time
}

func New(pins gpio.PinController, settings Settings, logger *slog.Logger) *PowerSensor {
	d := DefaultSettings()
	if settings.Elapsed {
		d = DefaultElapsedSettings()
	}
	if settings.Timeout <= 0 {
		settings.Timeout = d.Timeout
	}
	if settings.Threshold <= 0 {
		settings.Threshold = d.Threshold
	}
	settings.Samples = min(max(settings.Samples, 1), 3)
	if settings.Discharge <= 0 {
		settings.Discharge = d.Discharge
	}
	return &PowerSensor{pins: pins, settings: settings, logger: logger, sleep: time.Sleep, now: time.Now}
}

func (s *PowerSensor) Settings() Settings { return s.settings }

// Read discharges the capacitor and measures how long the line takes to
// read high. The result saturates at Timeout, which a dark LED, a pin
// error and a cancelled context all report.
func (s *PowerSensor) Read(ctx context.Context) int {
	pin := s.settings.Pin

	if err := s.pins.Output(pin, gpio.Low); err != nil {
		s.logger.Debug("sensor discharge failed", "pin", pin, "error", err)
		return s.settings.Timeout
	}
	s.sleep(s.settings.Discharge)
	if err := s.pins.Input(pin); err != nil {
		s.logger.Debug("sensor input switch failed", "pin", pin, "error", err)
		return s.settings.Timeout
	}

	if s.settings.Elapsed {
		return s.readElapsed(ctx)
	}

	count := 0
	for count < s.settings.Timeout {
		if count&0x3ff == 0 && ctx.Err() != nil {
			return s.settings.Timeout
		}
		lvl, err := s.pins.Read(pin)
		if err != nil {
			s.logger.Debug("sensor read failed", "pin", pin, "error", err)
			return s.settings.Timeout
		}
		if lvl == gpio.High {
			break
		}
		count++
	}
	return count
}

func (s *PowerSensor) readElapsed(ctx context.Context) int {
	pin := s.settings.Pin
	start := s.now()
	for {
		if ctx.Err() != nil {
			return s.settings.Timeout
		}
		lvl, err := s.pins.Read(pin)
		if err != nil {
			s.logger.Debug("sensor read failed", "pin", pin, "error", err)
			return s.settings.Timeout
		}
		elapsed := int(s.now().Sub(start) / time.Millisecond)
		if lvl == gpio.High {
			return min(elapsed, s.settings.Timeout)
		}
		if elapsed >= s.settings.Timeout {
			return s.settings.Timeout
		}
	}
}

// IsOn averages Samples readings and reports the LED as lit when the mean
// charge time is below Threshold.
func (s *PowerSensor) IsOn(ctx context.Context) bool {
	total := 0
	for range s.settings.Samples {
		total += s.Read(ctx)
	}
	avg := total / s.settings.Samples
	on := avg < s.settings.Threshold
	s.logger.Debug("power sensed", "avg", avg, "threshold", s.settings.Threshold, "on", on)
	return on
}
