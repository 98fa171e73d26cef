// Package gpio abstracts the single sense line used by the power sensor so
// it can be backed by the Pi header, a remote Modbus I/O module or a fake.
package gpio

type Level uint8

const (
	Low Level = iota
	High
)

func (l Level) String() string {
	if l == High {
		return "high"
	}
	return "low"
}

// PinController drives and samples digital pins. Implementations are not
// safe for concurrent use; the edge process touches pins from one goroutine.
type PinController interface {
	// Output switches pin to output mode and drives it to level.
	Output(pin int, level Level) error
	// Input switches pin to (floating) input mode.
	Input(pin int) error
	Read(pin int) (Level, error)
	Close() error
}
