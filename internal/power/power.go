package power

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kstaniek/go-webterm/internal/gpio"
	"github.com/kstaniek/go-webterm/internal/logging"
	"github.com/kstaniek/go-webterm/internal/metrics"
)

// ErrInvalidState is returned for power requests other than on/off.
var ErrInvalidState = errors.New("invalid power state")

const (
	DefaultControlLine = 16
	DefaultSenseLine   = 13
	DefaultPulseWidth  = 500 * time.Millisecond
)

// Acknowledgment texts returned to the HTTP caller.
const (
	MsgWake    = "Waking up target device"
	MsgShut    = "Shutting down target device"
	MsgInvalid = "Invalid power state detected"
)

// State is the requested or sensed target power state.
type State int

const (
	Off State = iota
	On
)

func (s State) String() string {
	if s == On {
		return "on"
	}
	return "off"
}

// ParseState accepts "on" or "off" in any case.
func ParseState(s string) (State, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on":
		return On, nil
	case "off":
		return Off, nil
	default:
		return Off, fmt.Errorf("%w: %q", ErrInvalidState, s)
	}
}

var sleepFn = time.Sleep

// Controller toggles the target's power button line and senses its state.
type Controller struct {
	chip    gpio.Chip
	control int
	sense   int
	width   time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup
}

type Option func(*Controller)

func WithLines(control, sense int) Option {
	return func(c *Controller) { c.control, c.sense = control, sense }
}

func WithPulseWidth(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.width = d
		}
	}
}

func WithLogger(l *slog.Logger) Option { return func(c *Controller) { c.logger = l } }

func New(chip gpio.Chip, opts ...Option) *Controller {
	c := &Controller{
		chip:    chip,
		control: DefaultControlLine,
		sense:   DefaultSenseLine,
		width:   DefaultPulseWidth,
		logger:  logging.L(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Request starts a power button pulse for the given state string and returns
// the acknowledgment text. The pulse runs in the background; the same press
// toggles the target either way, only the message differs.
func (c *Controller) Request(state string) (string, error) {
	s, err := ParseState(state)
	if err != nil {
		c.logger.Warn("power_invalid_state", "state", state)
		return MsgInvalid, err
	}
	msg := MsgShut
	if s == On {
		msg = MsgWake
	}
	c.logger.Info("power_request", "state", s.String())
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.pulse(); err != nil {
			metrics.IncError(metrics.ErrGPIO)
			c.logger.Error("power_pulse_failed", "line", c.control, "err", err)
			return
		}
		metrics.IncPowerPulse(s.String())
	}()
	return msg, nil
}

// pulse drives the active-low control line for the configured width.
func (c *Controller) pulse() error {
	l, err := c.chip.Output(c.control, 1, gpio.PullUp)
	if err != nil {
		return err
	}
	defer l.Close()
	if err := l.SetValue(0); err != nil {
		return err
	}
	sleepFn(c.width)
	return l.SetValue(1)
}

// State samples the sense line. The line is shared with the target's UART
// TX, so a byte of garbage may appear on the console right after a read.
func (c *Controller) State() (State, error) {
	l, err := c.chip.Input(c.sense, gpio.PullDown)
	if err != nil {
		metrics.IncError(metrics.ErrGPIO)
		return Off, err
	}
	defer l.Close()
	v, err := l.Value()
	if perr := l.SetPull(gpio.PullUp); perr != nil && err == nil {
		err = perr
	}
	if err != nil {
		metrics.IncError(metrics.ErrGPIO)
		return Off, err
	}
	if v == 1 {
		return On, nil
	}
	return Off, nil
}

// Wait blocks until in-flight pulses finish.
func (c *Controller) Wait() { c.wg.Wait() }
