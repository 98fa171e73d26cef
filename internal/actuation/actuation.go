// Package actuation turns decoded TV commands into IR key sequences.
package actuation

import (
	"context"
	"log/slog"
	"math"
	"strings"

	"github.com/samber/lo"

	"github.com/fisaks/tvbridge/internal/command"
	"github.com/fisaks/tvbridge/internal/config"
	"github.com/fisaks/tvbridge/internal/ir"
)

const DefaultRemote = "CT-90325"

// DefaultMaxVolumeSteps matches the assistant's volumeSteps range.
const DefaultMaxVolumeSteps = 100

const (
	KeyPower        = "KEY_POWER"
	KeyCycleWindows = "KEY_CYCLEWINDOWS"
	KeyVolumeUp     = "KEY_VOLUMEUP"
	KeyVolumeDown   = "KEY_VOLUMEDOWN"
	KeyMute         = "KEY_MUTE"
)

// PowerSensing reports whether the TV is currently on.
type PowerSensing interface {
	IsOn(ctx context.Context) bool
}

// Macro is the key sequence sent when any of Names is requested as input.
type Macro struct {
	Names []string
	Keys  []string
}

// Controller describes the TV being driven. A nil Sensor disables the
// power idempotence check.
type Controller struct {
	Remote   string
	Inputs   []Macro
	Fallback []string
	Sensor   PowerSensing
	// MaxVolumeSteps caps the presses sent for one volume command.
	MaxVolumeSteps int
}

func DefaultInputs() []Macro {
	return []Macro{
		{Names: []string{"xbox"}, Keys: []string{KeyCycleWindows, "KEY_3"}},
		{Names: []string{"roku", "cable", "netflix", "movies"}, Keys: []string{KeyCycleWindows, "KEY_2"}},
	}
}

func DefaultFallback() []string {
	return []string{KeyCycleWindows, "KEY_4"}
}

// ControllerFromConfig builds a Controller from the remote section,
// falling back to the stock input table when none is configured.
func ControllerFromConfig(rc config.RemoteConfig, sensor PowerSensing) Controller {
	c := Controller{Remote: rc.Profile, Sensor: sensor, MaxVolumeSteps: rc.MaxVolumeSteps}
	c.Inputs = lo.Map(rc.Inputs, func(m config.InputMacro, _ int) Macro {
		return Macro{
			Names: lo.Map(m.Names, func(n string, _ int) string { return strings.ToLower(n) }),
			Keys:  m.Keys,
		}
	})
	c.Fallback = rc.Fallback
	return c
}

type Engine struct {
	ctrl   Controller
	tx     ir.Transmitter
	logger *slog.Logger
}

func NewEngine(ctrl Controller, tx ir.Transmitter, logger *slog.Logger) *Engine {
	if ctrl.Remote == "" {
		ctrl.Remote = DefaultRemote
	}
	if len(ctrl.Inputs) == 0 {
		ctrl.Inputs = DefaultInputs()
	}
	if len(ctrl.Fallback) == 0 {
		ctrl.Fallback = DefaultFallback()
	}
	if ctrl.MaxVolumeSteps <= 0 {
		ctrl.MaxVolumeSteps = DefaultMaxVolumeSteps
	}
	return &Engine{ctrl: ctrl, tx: tx, logger: logger}
}

// Apply sends the keys for cmd. Transmission failures are logged and the
// rest of the sequence is still sent.
func (e *Engine) Apply(ctx context.Context, cmd command.Command) {
	switch cmd.Kind {
	case command.Power:
		e.power(ctx, cmd.On)
	case command.Input:
		e.send(ctx, e.InputKeys(cmd.Input)...)
	case command.Volume:
		e.volume(ctx, cmd.Steps)
	case command.Mute:
		e.send(ctx, MuteKeys(cmd.Muted)...)
	default:
		e.logger.Warn("unknown command kind", "kind", cmd.Kind)
	}
}

func (e *Engine) power(ctx context.Context, on bool) {
	if e.ctrl.Sensor != nil && e.ctrl.Sensor.IsOn(ctx) == on {
		if on {
			e.logger.Info("already on")
		} else {
			e.logger.Info("already off")
		}
		return
	}
	e.send(ctx, KeyPower)
}

// InputKeys resolves an input name against the macro table.
func (e *Engine) InputKeys(name string) []string {
	name = strings.ToLower(name)
	m, ok := lo.Find(e.ctrl.Inputs, func(m Macro) bool { return lo.Contains(m.Names, name) })
	if !ok {
		return e.ctrl.Fallback
	}
	return m.Keys
}

// VolumeKey returns the key to press and how many times for steps.
func VolumeKey(steps int) (string, int) {
	if steps > 0 {
		return KeyVolumeUp, steps
	}
	if steps == math.MinInt {
		return KeyVolumeDown, math.MaxInt
	}
	return KeyVolumeDown, -steps
}

// volume presses one key at a time, stopping early when ctx is done.
func (e *Engine) volume(ctx context.Context, steps int) {
	key, n := VolumeKey(steps)
	if n > e.ctrl.MaxVolumeSteps {
		e.logger.Warn("volume steps capped", "steps", steps, "max", e.ctrl.MaxVolumeSteps)
		n = e.ctrl.MaxVolumeSteps
	}
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			e.logger.Info("volume change interrupted", "sent", i, "of", n)
			return
		}
		e.send(ctx, key)
	}
}

// MuteKeys mirrors the remote's behaviour: mute is pressed twice, and
// unmuting is done by nudging the volume up.
func MuteKeys(muted bool) []string {
	if muted {
		return []string{KeyMute, KeyMute}
	}
	return []string{KeyVolumeUp}
}

func (e *Engine) send(ctx context.Context, keys ...string) {
	for _, key := range keys {
		if err := e.tx.SendOnce(ctx, e.ctrl.Remote, key); err != nil {
			e.logger.Error("ir send failed", "remote", e.ctrl.Remote, "key", key, "error", err)
		}
	}
}
