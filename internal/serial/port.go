package serial

import (
	"fmt"
	"time"

	tarm "github.com/tarm/serial"
	bugst "go.bug.st/serial"
)

// Line settings are fixed: 8 data bits, no parity, 1 stop bit, no flow control.
const (
	DefaultBaud = 115200
	DataBits    = 8
)

// Driver names accepted by Open.
const (
	DriverTarm  = "tarm"
	DriverBugst = "bugst"
)

// Port abstracts the serial driver for testability.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Config selects the device and driver. Baud defaults to DefaultBaud.
type Config struct {
	Device      string
	Driver      string
	Baud        int
	ReadTimeout time.Duration
}

// Open opens the device in 8N1 mode with the configured read timeout.
func Open(cfg Config) (Port, error) {
	if cfg.Baud <= 0 {
		cfg.Baud = DefaultBaud
	}
	switch cfg.Driver {
	case "", DriverTarm:
		p, err := tarm.OpenPort(tarmConfig(cfg))
		if err != nil {
			return nil, err
		}
		return p, nil
	case DriverBugst:
		p, err := bugst.Open(cfg.Device, bugstMode(cfg))
		if err != nil {
			return nil, err
		}
		if err := p.SetReadTimeout(cfg.ReadTimeout); err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("set read timeout: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown serial driver %q (use tarm|bugst)", cfg.Driver)
	}
}

func tarmConfig(cfg Config) *tarm.Config {
	return &tarm.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
		Size:        DataBits,
		Parity:      tarm.ParityNone,
		StopBits:    tarm.Stop1,
	}
}

func bugstMode(cfg Config) *bugst.Mode {
	return &bugst.Mode{
		BaudRate: cfg.Baud,
		DataBits: DataBits,
		Parity:   bugst.NoParity,
		StopBits: bugst.OneStopBit,
	}
}
