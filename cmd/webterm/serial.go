package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/kstaniek/go-webterm/internal/bridge"
	"github.com/kstaniek/go-webterm/internal/metrics"
	"github.com/kstaniek/go-webterm/internal/serial"
)

const (
	serialReadBufSize = bridge.MaxFrame
	rxBackoffMin      = 20 * time.Millisecond
	rxBackoffMax      = 500 * time.Millisecond
)

// sleepFn allows tests to intercept backoff sleeps.
var sleepFn = time.Sleep

// openSerialPort is a hook for tests (overridden in unit tests).
var openSerialPort = serial.Open

// serialSink is what the RX loop feeds.
type serialSink interface {
	OnSerialData(p []byte)
}

// openSerial opens the configured device.
func openSerial(cfg *appConfig, l *slog.Logger) (serial.Port, error) {
	sp, err := openSerialPort(serial.Config{
		Device:      cfg.serialDev,
		Driver:      cfg.serialDriver,
		Baud:        serial.DefaultBaud,
		ReadTimeout: cfg.serialReadTO,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial: %w", err)
	}
	l.Info("serial_open", "device", cfg.serialDev, "driver", cfg.serialDriver, "baud", serial.DefaultBaud)
	return sp, nil
}

// startSerialRX polls the port and hands every non-empty read to sink until
// ctx is done or the device goes away. Read timeouts surface as zero-byte
// reads and are skipped.
func startSerialRX(ctx context.Context, sp serial.Port, sink serialSink, l *slog.Logger, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer l.Info("serial_rx_end")
		buf := make([]byte, serialReadBufSize)
		backoff := rxBackoffMin
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			n, err := sp.Read(buf)
			if n > 0 {
				sink.OnSerialData(buf[:n])
				backoff = rxBackoffMin
			}
			if err != nil {
				if ctx.Err() != nil { // shutting down
					return
				}
				var perr *os.PathError
				if errors.As(err, &perr) {
					metrics.IncError(metrics.ErrSerialRead)
					l.Error("serial_device_lost", "error", err)
					return
				}
				if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
					continue // read timeout on some drivers
				}
				metrics.IncError(metrics.ErrSerialRead)
				l.Warn("serial_read_error", "error", err, "backoff", backoff)
				sleepFn(backoff)
				backoff *= 2
				if backoff > rxBackoffMax {
					backoff = rxBackoffMax
				}
			}
		}
	}()
}
