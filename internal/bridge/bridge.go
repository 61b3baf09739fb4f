// Package bridge relays bytes between the serial device and the registered
// network client.
//
// Serial output is pushed into a bounded ring and drained by a send unit
// that runs on the transport's work queue; the serial poll loop never
// touches the network. Network input is written straight to the serial
// port.
package bridge

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/kstaniek/go-webterm/internal/hub"
	"github.com/kstaniek/go-webterm/internal/logging"
	"github.com/kstaniek/go-webterm/internal/metrics"
	"github.com/kstaniek/go-webterm/internal/ring"
	"github.com/kstaniek/go-webterm/internal/transport"
)

const (
	// MaxFrame bounds one serial read and one outgoing message.
	MaxFrame = 1024

	defaultWriteTimeout = 10 * time.Millisecond
	defaultReadTimeout  = 10 * time.Millisecond
)

// Bridge owns the ring, the client slot and the serial writer.
type Bridge struct {
	serial io.Writer
	sched  transport.Scheduler
	ring   *ring.Ring
	slot   hub.Slot
	logger *slog.Logger

	writeTimeout time.Duration
	readTimeout  time.Duration

	// out is reused by every send unit; the scheduler runs one unit at a time.
	out []byte
}

type Option func(*Bridge)

func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithRingPolicy selects the overflow policy of the internal ring.
func WithRingPolicy(p ring.Policy) Option {
	return func(b *Bridge) { b.ring = ring.New(2*MaxFrame, p) }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.writeTimeout = d
		}
	}
}

func WithReadTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.readTimeout = d
		}
	}
}

// New builds a bridge writing client input to serial and scheduling network
// sends on sched.
func New(serial io.Writer, sched transport.Scheduler, opts ...Option) *Bridge {
	b := &Bridge{
		serial:       serial,
		sched:        sched,
		ring:         ring.New(2*MaxFrame, ring.DropNewest),
		logger:       logging.L(),
		writeTimeout: defaultWriteTimeout,
		readTimeout:  defaultReadTimeout,
		out:          make([]byte, MaxFrame),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// RegisterClient makes h the target of subsequent sends. The previous
// client, if any, is displaced silently.
func (b *Bridge) RegisterClient(h *hub.Handle) {
	if prev := b.slot.Register(h); prev != nil && prev != h {
		b.logger.Info("ws_client_replaced", "old_id", prev.ID, "new_id", h.ID)
	}
	b.logger.Info("ws_client_registered", "id", h.ID, "remote", h.Remote)
}

// ReleaseClient unregisters h if it is still the current client.
func (b *Bridge) ReleaseClient(h *hub.Handle) { b.slot.Release(h) }

// Client returns the registered handle or nil.
func (b *Bridge) Client() *hub.Handle { return b.slot.Current() }

// Buffered reports how many serial bytes are waiting for the network.
func (b *Bridge) Buffered() int { return b.ring.Len() }

// OnSerialData buffers bytes read from the serial device and, when a client
// is registered, schedules a send. It blocks for at most the ring write
// timeout; bytes that do not fit are dropped.
func (b *Bridge) OnSerialData(p []byte) {
	if len(p) == 0 {
		return
	}
	metrics.AddSerialRx(len(p))
	b.logger.Debug("serial_rx", "len", len(p))
	// Dropped covers both policies; DropOldest overwrites without an error.
	before := b.ring.Dropped()
	_, err := b.ring.Write(p, b.writeTimeout)
	if d := int(b.ring.Dropped() - before); d > 0 {
		metrics.AddRingDrops(d)
		b.logger.Debug("ring_overflow_drop", "dropped", d)
	}
	if err != nil {
		metrics.IncError(metrics.ErrRingFull)
	}
	if b.slot.Current() == nil {
		return
	}
	b.schedule()
}

func (b *Bridge) schedule() {
	if err := b.sched.QueueWork(b.SendToNetwork); err != nil {
		if errors.Is(err, transport.ErrQueueFull) {
			metrics.IncError(metrics.ErrQueueFull)
		}
		b.logger.Warn("queue_work_failed", "error", err)
	}
}

// SendToNetwork drains up to MaxFrame bytes and sends them to the current
// client as one text message. It must only run on the scheduler.
func (b *Bridge) SendToNetwork() {
	n := b.ring.Read(b.out, b.readTimeout)
	if n == 0 {
		return
	}
	h := b.slot.Current()
	if h == nil {
		b.logger.Debug("ws_send_no_client", "dropped", n)
		metrics.AddRingDrops(n)
		return
	}
	if err := h.Send(b.out[:n]); err != nil {
		metrics.IncError(metrics.ErrWSWrite)
		b.logger.Warn("ws_send_failed", "id", h.ID, "error", err, "dropped", n)
		b.slot.Release(h)
		return
	}
	metrics.AddWSTx(n)
	if b.ring.Len() > 0 {
		b.schedule()
	}
}

// OnNetworkData writes client bytes to the serial device synchronously.
func (b *Bridge) OnNetworkData(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	n, err := b.serial.Write(p)
	if n > 0 {
		metrics.AddSerialTx(n)
	}
	if err != nil {
		metrics.IncError(metrics.ErrSerialWrite)
		return fmt.Errorf("serial write: %w", err)
	}
	return nil
}
