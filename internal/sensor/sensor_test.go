package sensor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fisaks/tvbridge/internal/gpio"
	"github.com/fisaks/tvbridge/internal/logging"
)

// fakePins goes high after a scripted number of reads per cycle.
type fakePins struct {
	chargeReads []int // per Read cycle
	cycle       int
	reads       int
	calls       []string
	readErr     error
	outputErr   error
}

func (f *fakePins) Output(pin int, level gpio.Level) error {
	f.calls = append(f.calls, "output:"+level.String())
	return f.outputErr
}

func (f *fakePins) Input(pin int) error {
	f.calls = append(f.calls, "input")
	f.reads = 0
	return nil
}

func (f *fakePins) Read(pin int) (gpio.Level, error) {
	if f.readErr != nil {
		return gpio.Low, f.readErr
	}
	target := f.chargeReads[min(f.cycle, len(f.chargeReads)-1)]
	if f.reads >= target {
		f.cycle++
		return gpio.High, nil
	}
	f.reads++
	return gpio.Low, nil
}

func (f *fakePins) Close() error { return nil }

func newSensor(pins gpio.PinController, s Settings) *PowerSensor {
	ps := New(pins, s, logging.Discard())
	ps.sleep = func(time.Duration) {}
	return ps
}

func Test_Read_CountsUntilHigh(t *testing.T) {
	pins := &fakePins{chargeReads: []int{1234}}
	s := newSensor(pins, DefaultSettings())

	assert.Equal(t, 1234, s.Read(context.Background()))
	assert.Equal(t, []string{"output:low", "input"}, pins.calls)
}

func Test_Read_SaturatesAtTimeout(t *testing.T) {
	pins := &fakePins{chargeReads: []int{1 << 30}}
	s := newSensor(pins, Settings{Timeout: 500})

	assert.Equal(t, 500, s.Read(context.Background()))
}

func Test_Read_PinErrorsReportTimeout(t *testing.T) {
	pins := &fakePins{chargeReads: []int{10}, readErr: errors.New("bus down")}
	s := newSensor(pins, Settings{Timeout: 700})
	assert.Equal(t, 700, s.Read(context.Background()))

	pins = &fakePins{chargeReads: []int{10}, outputErr: errors.New("bus down")}
	s = newSensor(pins, Settings{Timeout: 700})
	assert.Equal(t, 700, s.Read(context.Background()))
}

func Test_Read_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := newSensor(&fakePins{chargeReads: []int{10}}, DefaultSettings())

	assert.Equal(t, 50000, s.Read(ctx))
}

func Test_IsOn(t *testing.T) {
	tests := []struct {
		name    string
		reads   []int
		samples int
		want    bool
	}{
		{name: "lit", reads: []int{3000}, samples: 1, want: true},
		{name: "dark", reads: []int{45000}, samples: 1, want: false},
		{name: "at threshold is off", reads: []int{20000}, samples: 1, want: false},
		{name: "averaged lit", reads: []int{10000, 30000, 15000}, samples: 3, want: true},
		{name: "averaged dark", reads: []int{10000, 30000, 25000}, samples: 3, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSensor(&fakePins{chargeReads: tt.reads}, Settings{Samples: tt.samples})
			assert.Equal(t, tt.want, s.IsOn(context.Background()))
		})
	}
}

func Test_New_ClampsSettings(t *testing.T) {
	s := New(&fakePins{}, Settings{Pin: 4, Samples: 9}, logging.Discard())
	got := s.Settings()

	require.Equal(t, 4, got.Pin)
	assert.Equal(t, 3, got.Samples)
	assert.Equal(t, 50000, got.Timeout)
	assert.Equal(t, 20000, got.Threshold)
	assert.Equal(t, 10*time.Millisecond, got.Discharge)

	s = New(&fakePins{}, Settings{Samples: -1}, logging.Discard())
	assert.Equal(t, 1, s.Settings().Samples)
}
