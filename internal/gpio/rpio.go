package gpio

import (
	"fmt"

	"github.com/stianeikeland/go-rpio/v4"
)

// RPIO drives the Raspberry Pi header through /dev/gpiomem. Pin numbers are
// BCM numbers.
type RPIO struct{}

func OpenRPIO() (*RPIO, error) {
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("open gpio memory: %w", err)
	}
	return &RPIO{}, nil
}

func (r *RPIO) Output(pin int, level Level) error {
	p := rpio.Pin(pin)
	p.Output()
	if level == High {
		p.High()
	} else {
		p.Low()
	}
	return nil
}

func (r *RPIO) Input(pin int) error {
	rpio.Pin(pin).Input()
	return nil
}

func (r *RPIO) Read(pin int) (Level, error) {
	if rpio.Pin(pin).Read() == rpio.High {
		return High, nil
	}
	return Low, nil
}

func (r *RPIO) Close() error {
	return rpio.Close()
}
