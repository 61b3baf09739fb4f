package gpio

import "errors"

// ErrUnsupported is returned on platforms without a GPIO character device.
var ErrUnsupported = errors.New("gpio unsupported on this platform")

// Pull selects the line bias.
type Pull int

const (
	PullNone Pull = iota
	PullUp
	PullDown
)

// Line is one requested GPIO line. Close releases it back to the kernel,
// which also resets its direction.
type Line interface {
	SetValue(v int) error
	Value() (int, error)
	SetPull(p Pull) error
	Close() error
}

// Chip hands out lines by offset.
type Chip interface {
	Output(offset, initial int, pull Pull) (Line, error)
	Input(offset int, pull Pull) (Line, error)
}
