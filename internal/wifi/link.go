package wifi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-webterm/internal/logging"
	"github.com/kstaniek/go-webterm/internal/metrics"
)

var (
	ErrRetriesExhausted = errors.New("wifi retries exhausted")
	ErrLinkClosed       = errors.New("wifi link closed")
)

const DefaultMaxRetry = 6

// State of the station link.
type State int

const (
	Idle State = iota
	Connecting
	Connected
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type EventKind int

const (
	EventConnected EventKind = iota + 1
	EventDisconnected
	EventGotIP
)

// Event is a driver notification. Interface names the station interface the
// event belongs to; got-IP events for other interfaces are ignored.
type Event struct {
	Kind      EventKind
	Interface string
	Addr      string
	Reason    string
}

type ScanMethod int

const (
	ScanFast ScanMethod = iota
	ScanAllChannel
)

type SortMethod int

const (
	SortSignal SortMethod = iota
	SortSecurity
)

type AuthMode int

const (
	AuthOpen AuthMode = iota
	AuthWPA
	AuthWPA2
	AuthWPA3
)

const DefaultRSSIThreshold = -127

// Credentials describe the network to join.
type Credentials struct {
	SSID          string
	Passphrase    string
	ScanMethod    ScanMethod
	SortMethod    SortMethod
	RSSIThreshold int
	AuthMode      AuthMode // weakest accepted
}

// Driver brings up a station interface and reports its events.
type Driver interface {
	// Start initializes the interface and returns its descriptor.
	Start(ctx context.Context) (string, error)
	Events() <-chan Event
	Configure(c Credentials) error
	Connect() error
	Disconnect() error
	Stop() error
}

// Link keeps a station interface attached, retrying disconnects up to a ceiling.
type Link struct {
	drv        Driver
	maxRetry   int
	backoffMin time.Duration
	backoffMax time.Duration
	logger     *slog.Logger

	mu       sync.Mutex
	state    State
	retries  int
	iface    string
	waiter   chan error
	released bool
	cancel   context.CancelFunc
	done     chan struct{}
}

type Option func(*Link)

// WithMaxRetry sets how many consecutive disconnects are tolerated.
func WithMaxRetry(n int) Option {
	return func(l *Link) {
		if n >= 0 {
			l.maxRetry = n
		}
	}
}

// WithBackoff delays reconnect attempts, doubling from min up to max.
// Zero min reconnects immediately.
func WithBackoff(min, max time.Duration) Option {
	return func(l *Link) {
		l.backoffMin, l.backoffMax = min, max
		if l.backoffMax < l.backoffMin {
			l.backoffMax = l.backoffMin
		}
	}
}

func WithLogger(lg *slog.Logger) Option { return func(l *Link) { l.logger = lg } }

func NewLink(drv Driver, opts ...Option) *Link {
	l := &Link{drv: drv, maxRetry: DefaultMaxRetry, logger: logging.L()}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Link) Retries() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.retries
}

// Interface returns the descriptor of the managed interface, empty before Connect.
func (l *Link) Interface() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.iface
}

// Connect starts the interface and requests association. With blocking set it
// waits until an address is acquired, the retry ceiling is exceeded, the link
// is closed or ctx is done. A previous session is torn down first.
func (l *Link) Connect(ctx context.Context, c Credentials, blocking bool) error {
	if err := l.Disconnect(); err != nil {
		l.logger.Warn("wifi_teardown_failed", "err", err)
	}
	iface, err := l.drv.Start(ctx)
	if err != nil {
		metrics.IncError(metrics.ErrWifi)
		return fmt.Errorf("wifi start: %w", err)
	}
	if err := l.drv.Configure(c); err != nil {
		_ = l.drv.Stop()
		metrics.IncError(metrics.ErrWifi)
		return fmt.Errorf("wifi configure: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	waiter := make(chan error, 1)
	done := make(chan struct{})
	l.mu.Lock()
	l.iface = iface
	l.retries = 0
	l.waiter = waiter
	l.released = false
	l.cancel = cancel
	l.done = done
	l.setStateLocked(Connecting)
	l.mu.Unlock()
	go l.run(loopCtx, l.drv.Events(), done)

	l.logger.Info("wifi_connecting", "iface", iface, "ssid", c.SSID)
	if err := l.drv.Connect(); err != nil {
		_ = l.Disconnect()
		metrics.IncError(metrics.ErrWifi)
		return fmt.Errorf("wifi connect: %w", err)
	}
	if !blocking {
		return nil
	}
	select {
	case err := <-waiter:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect stops event handling, releases a blocked Connect with
// ErrLinkClosed and tears the interface down. Safe to call at any time.
func (l *Link) Disconnect() error {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done

	l.mu.Lock()
	l.releaseLocked(ErrLinkClosed)
	l.retries = 0
	l.setStateLocked(Idle)
	l.mu.Unlock()

	err := errors.Join(l.drv.Disconnect(), l.drv.Stop())
	l.logger.Info("wifi_disconnected")
	return err
}

func (l *Link) run(ctx context.Context, events <-chan Event, done chan struct{}) {
	defer close(done)
	var retryC <-chan time.Time
	var retryT *time.Timer
	delay := l.backoffMin
	defer func() {
		if retryT != nil {
			retryT.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-retryC:
			retryC = nil
			l.reconnect()
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch l.handle(ev) {
			case actRetry:
				if l.backoffMin <= 0 {
					l.reconnect()
					continue
				}
				if retryT != nil {
					retryT.Stop()
				}
				retryT = time.NewTimer(delay)
				retryC = retryT.C
				if delay *= 2; delay > l.backoffMax {
					delay = l.backoffMax
				}
			case actReset:
				delay = l.backoffMin
				if retryT != nil {
					retryT.Stop()
					retryC = nil
				}
			case actStop:
				if retryT != nil {
					retryT.Stop()
					retryC = nil
				}
			}
		}
	}
}

type action int

const (
	actNone action = iota
	actRetry
	actReset
	actStop
)

func (l *Link) handle(ev Event) action {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == Idle || l.state == Failed {
		l.logger.Debug("wifi_event_ignored", "state", l.state.String(), "kind", int(ev.Kind))
		return actNone
	}
	switch ev.Kind {
	case EventConnected:
		l.logger.Info("wifi_associated", "iface", ev.Interface)
	case EventDisconnected:
		l.retries++
		if l.retries > l.maxRetry {
			l.logger.Warn("wifi_retries_exhausted", "retries", l.retries, "max", l.maxRetry)
			l.setStateLocked(Failed)
			l.releaseLocked(ErrRetriesExhausted)
			return actStop
		}
		l.logger.Info("wifi_retry", "retries", l.retries, "reason", ev.Reason)
		l.setStateLocked(Connecting)
		return actRetry
	case EventGotIP:
		if ev.Interface != l.iface {
			l.logger.Debug("wifi_got_ip_foreign", "iface", ev.Interface, "addr", ev.Addr)
			return actNone
		}
		l.logger.Info("wifi_got_ip", "iface", ev.Interface, "addr", ev.Addr)
		l.retries = 0
		l.setStateLocked(Connected)
		l.releaseLocked(nil)
		return actReset
	}
	return actNone
}

func (l *Link) reconnect() {
	if l.State() != Connecting {
		return
	}
	if err := l.drv.Connect(); err != nil {
		metrics.IncError(metrics.ErrWifi)
		l.logger.Warn("wifi_reconnect_failed", "err", err)
	}
}

// releaseLocked completes the pending Connect once; later calls are no-ops.
func (l *Link) releaseLocked(err error) {
	if l.released || l.waiter == nil {
		return
	}
	l.released = true
	l.waiter <- err
}

func (l *Link) setStateLocked(s State) {
	l.state = s
	metrics.SetWifi(int(s), l.retries)
}
