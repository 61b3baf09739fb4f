package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kstaniek/go-webterm/internal/hub"
	"github.com/kstaniek/go-webterm/internal/metrics"
)

// wsConn adapts a WebSocket connection to transport.TextSender. Only the
// bridge's work queue calls SendText, so there is a single writer.
type wsConn struct {
	c       *websocket.Conn
	timeout time.Duration
}

func (w *wsConn) SendText(p []byte) error {
	_ = w.c.SetWriteDeadline(time.Now().Add(w.timeout))
	if err := w.c.WriteMessage(websocket.TextMessage, p); err != nil {
		return fmt.Errorf("%w: %v", ErrConnWrite, err)
	}
	return nil
}

// handleWS upgrades the request and makes the connection the bridge's client.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.bridge == nil {
		http.Error(w, "bridge unavailable", http.StatusServiceUnavailable)
		return
	}
	c, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		wrap := fmt.Errorf("%w: %v", ErrUpgrade, err)
		metrics.IncError(mapErrToMetric(wrap))
		s.setError(wrap)
		s.totalUpgradeFail.Add(1)
		s.logger.Warn("ws_upgrade_failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	id := s.nextConnID.Add(1)
	logger := s.logger.With("conn_id", id, "remote", r.RemoteAddr)
	s.totalUpgraded.Add(1)
	s.trackConn(id, c)
	h := &hub.Handle{ID: id, Remote: r.RemoteAddr, Conn: &wsConn{c: c, timeout: s.writeTimeout}}
	s.bridge.RegisterClient(h)
	logger.Info("ws_client_connected")
	s.wg.Add(1)
	go s.readLoop(c, h, logger)
}

// readLoop hands every data message to the bridge until the connection ends.
func (s *Server) readLoop(c *websocket.Conn, h *hub.Handle, logger *slog.Logger) {
	defer s.wg.Done()
	defer func() {
		s.bridge.ReleaseClient(h)
		_ = c.Close()
		s.untrackConn(h.ID)
		s.totalDisconnected.Add(1)
		logger.Info("ws_client_disconnected")
	}()
	c.SetReadLimit(s.readLimit)
	for {
		mt, p, err := c.ReadMessage()
		if err != nil {
			if isClosed(err) {
				return
			}
			wrap := fmt.Errorf("%w: %v", ErrConnRead, err)
			metrics.IncError(mapErrToMetric(wrap))
			s.setError(wrap)
			logger.Warn("ws_read_error", "error", err)
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		metrics.IncWSRx()
		if err := s.bridge.OnNetworkData(p); err != nil {
			wrap := fmt.Errorf("%w: %v", ErrSerialTx, err)
			s.setError(wrap)
			s.totalSerialErrors.Add(1)
			logger.Error("serial_tx_error", "error", wrap, "len", len(p))
		}
	}
}

func isClosed(err error) bool {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return true
	}
	return errors.Is(err, net.ErrClosed)
}
