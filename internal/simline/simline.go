// Package simline emulates the photoresistor sense line behind a Modbus
// I/O module, so the edge sensor can be exercised without a TV. Closing
// coil N holds discrete input N low; releasing it lets the input rise
// after a charge delay that is short while the simulated LED is lit.
package simline

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

type Settings struct {
	Pin        int
	ChargeLit  time.Duration
	ChargeDark time.Duration
	Poll       time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		Pin:        0,
		ChargeLit:  20 * time.Millisecond,
		ChargeDark: 2 * time.Second,
		Poll:       time.Millisecond,
	}
}

// Line watches a coil/input pair in a Modbus server's data banks. The
// slices are the server's own storage and are mutated in place under
// Locker, which the server's request handlers must hold as well.
type Line struct {
	mu       sync.Mutex
	coils    []byte
	inputs   []byte
	settings Settings
	logger   *slog.Logger

	lit      atomic.Bool
	holding  bool
	risesAt  time.Time
	charging bool
}

func New(coils, inputs []byte, settings Settings, logger *slog.Logger) *Line {
	d := DefaultSettings()
	if settings.ChargeLit <= 0 {
		settings.ChargeLit = d.ChargeLit
	}
	if settings.ChargeDark <= 0 {
		settings.ChargeDark = d.ChargeDark
	}
	if settings.Poll <= 0 {
		settings.Poll = d.Poll
	}
	return &Line{coils: coils, inputs: inputs, settings: settings, logger: logger}
}

func (l *Line) SetLit(on bool) {
	if l.lit.Swap(on) != on {
		l.logger.Info("LED changed", "lit", on)
	}
}

// Locker guards the banks shared with the Modbus server.
func (l *Line) Locker() sync.Locker { return &l.mu }

func (l *Line) Lit() bool { return l.lit.Load() }

func (l *Line) Toggle() bool {
	for {
		cur := l.lit.Load()
		if l.lit.CompareAndSwap(cur, !cur) {
			l.logger.Info("LED changed", "lit", !cur)
			return !cur
		}
	}
}

// Step advances the model to now.
func (l *Line) Step(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pin := l.settings.Pin
	held := l.coils[pin] != 0

	switch {
	case held:
		l.inputs[pin] = 0
		l.holding = true
		l.charging = false
	case l.holding:
		// released: start charging
		l.holding = false
		l.charging = true
		delay := l.settings.ChargeDark
		if l.lit.Load() {
			delay = l.settings.ChargeLit
		}
		l.risesAt = now.Add(delay)
	case l.charging && !now.Before(l.risesAt):
		l.inputs[pin] = 1
		l.charging = false
	}
}

// Run steps the line until ctx is done.
func (l *Line) Run(ctx context.Context) {
	t := time.NewTicker(l.settings.Poll)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			l.Step(now)
		}
	}
}
