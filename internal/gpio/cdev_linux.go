//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

const consumer = "webterm"

// CdevChip requests lines through the Linux GPIO character device.
type CdevChip struct {
	Name string // e.g. "gpiochip0"
}

// Open returns the chip after checking it exists.
func Open(name string) (*CdevChip, error) {
	c, err := gpiocdev.NewChip(name)
	if err != nil {
		return nil, fmt.Errorf("gpio chip %s: %w", name, err)
	}
	_ = c.Close()
	return &CdevChip{Name: name}, nil
}

func (c *CdevChip) Output(offset, initial int, pull Pull) (Line, error) {
	opts := append([]gpiocdev.LineReqOption{gpiocdev.WithConsumer(consumer), gpiocdev.AsOutput(initial)}, bias(pull)...)
	l, err := gpiocdev.RequestLine(c.Name, offset, opts...)
	if err != nil {
		return nil, fmt.Errorf("request output %s:%d: %w", c.Name, offset, err)
	}
	return &cdevLine{l: l}, nil
}

func (c *CdevChip) Input(offset int, pull Pull) (Line, error) {
	opts := append([]gpiocdev.LineReqOption{gpiocdev.WithConsumer(consumer), gpiocdev.AsInput}, bias(pull)...)
	l, err := gpiocdev.RequestLine(c.Name, offset, opts...)
	if err != nil {
		return nil, fmt.Errorf("request input %s:%d: %w", c.Name, offset, err)
	}
	return &cdevLine{l: l}, nil
}

type cdevLine struct{ l *gpiocdev.Line }

func (c *cdevLine) SetValue(v int) error { return c.l.SetValue(v) }
func (c *cdevLine) Value() (int, error)  { return c.l.Value() }
func (c *cdevLine) Close() error         { return c.l.Close() }

func (c *cdevLine) SetPull(p Pull) error {
	switch p {
	case PullUp:
		return c.l.Reconfigure(gpiocdev.WithPullUp)
	case PullDown:
		return c.l.Reconfigure(gpiocdev.WithPullDown)
	default:
		return c.l.Reconfigure(gpiocdev.WithBiasDisabled)
	}
}

func bias(p Pull) []gpiocdev.LineReqOption {
	switch p {
	case PullUp:
		return []gpiocdev.LineReqOption{gpiocdev.WithPullUp}
	case PullDown:
		return []gpiocdev.LineReqOption{gpiocdev.WithPullDown}
	default:
		return nil
	}
}
