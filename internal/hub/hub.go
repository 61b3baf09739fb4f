package hub

import (
	"errors"
	"sync/atomic"

	"github.com/kstaniek/go-webterm/internal/logging"
	"github.com/kstaniek/go-webterm/internal/metrics"
	"github.com/kstaniek/go-webterm/internal/transport"
)

// ErrNoClient is returned when sending with no registered client.
var ErrNoClient = errors.New("no client registered")

// Handle identifies the network client the bridge currently talks to.
type Handle struct {
	ID     uint64
	Remote string
	Conn   transport.TextSender
}

// Send forwards p to the client as one text message.
func (h *Handle) Send(p []byte) error {
	if h == nil || h.Conn == nil {
		return ErrNoClient
	}
	return h.Conn.SendText(p)
}

// Slot holds at most one registered client. Registering replaces the
// current handle; the displaced client is not told and keeps its
// connection until it fails or closes on its own.
type Slot struct {
	cur atomic.Pointer[Handle]
}

// Register makes h the current client and returns the handle it displaced (if any).
func (s *Slot) Register(h *Handle) *Handle {
	prev := s.cur.Swap(h)
	metrics.IncRegistration()
	metrics.SetClientRegistered(h != nil)
	if prev == nil && h != nil {
		logging.L().Info("client_first_registered", "id", h.ID)
	}
	return prev
}

// Current returns the registered handle or nil.
func (s *Slot) Current() *Handle { return s.cur.Load() }

// Release clears the slot only if h is still the registered handle, so a
// stale release never evicts a newer client. Safe to call multiple times.
func (s *Slot) Release(h *Handle) bool {
	if h == nil || !s.cur.CompareAndSwap(h, nil) {
		return false
	}
	metrics.SetClientRegistered(false)
	logging.L().Info("client_released", "id", h.ID)
	return true
}
