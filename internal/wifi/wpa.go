package wifi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kstaniek/go-webterm/internal/logging"
)

const (
	DefaultCtrlDir   = "/var/run/wpa_supplicant"
	DefaultInterface = "wlan0"

	wpaReplyTimeout = 2 * time.Second
	wpaMaxMsg       = 4096
)

var errWPAFail = errors.New("wpa_supplicant: FAIL")

// WPADriver controls a station interface through wpa_supplicant's control
// socket and reports address acquisition from the kernel.
type WPADriver struct {
	Iface   string
	CtrlDir string
	Logger  *slog.Logger

	// watchAddrs emits got-IP events until ctx is done.
	watchAddrs func(ctx context.Context, emit func(Event)) error
	// ifaceAddr returns an IPv4 address already held by iface.
	ifaceAddr func(iface string) (string, bool)

	mu       sync.Mutex
	cmd      *wpaConn
	mon      *wpaConn
	events   chan Event
	netID    int
	selected bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewWPADriver(iface, ctrlDir string) *WPADriver {
	if iface == "" {
		iface = DefaultInterface
	}
	if ctrlDir == "" {
		ctrlDir = DefaultCtrlDir
	}
	return &WPADriver{Iface: iface, CtrlDir: ctrlDir, Logger: logging.L(), watchAddrs: watchAddrs, ifaceAddr: ifaceAddr, netID: -1}
}

func (d *WPADriver) Start(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cmd != nil {
		return d.Iface, nil
	}
	cmd, err := dialWPA(d.CtrlDir, d.Iface)
	if err != nil {
		return "", err
	}
	mon, err := dialWPA(d.CtrlDir, d.Iface)
	if err != nil {
		cmd.close()
		return "", err
	}
	if err := mon.expectOK("ATTACH"); err != nil {
		cmd.close()
		mon.close()
		return "", fmt.Errorf("attach: %w", err)
	}
	runCtx, cancel := context.WithCancel(context.Background())
	events := make(chan Event, 16)
	emit := func(ev Event) {
		select {
		case events <- ev:
		case <-runCtx.Done():
		}
	}
	if err := d.watchAddrs(runCtx, emit); err != nil {
		cancel()
		cmd.close()
		mon.close()
		return "", fmt.Errorf("address watch: %w", err)
	}
	d.cmd, d.mon, d.events, d.cancel = cmd, mon, events, cancel
	d.netID, d.selected = -1, false
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.monitor(runCtx, mon, emit)
	}()
	return d.Iface, nil
}

func (d *WPADriver) Events() <-chan Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.events
}

// Configure adds a network built from c, replacing the one a previous
// Configure added. Networks configured by the operator are left alone.
func (d *WPADriver) Configure(c Credentials) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cmd == nil {
		return ErrLinkClosed
	}
	if d.netID >= 0 {
		if err := d.cmd.expectOK(fmt.Sprintf("REMOVE_NETWORK %d", d.netID)); err != nil {
			return err
		}
		d.netID, d.selected = -1, false
	}
	reply, err := d.cmd.request("ADD_NETWORK")
	if err != nil {
		return err
	}
	id, err := strconv.Atoi(reply)
	if err != nil {
		return fmt.Errorf("add network: unexpected reply %q", reply)
	}
	for _, kv := range networkSettings(c) {
		if err := d.cmd.expectOK(fmt.Sprintf("SET_NETWORK %d %s %s", id, kv[0], kv[1])); err != nil {
			return fmt.Errorf("set %s: %w", kv[0], err)
		}
	}
	if c.SortMethod != SortSignal || c.RSSIThreshold > DefaultRSSIThreshold {
		d.Logger.Debug("wifi_selection_delegated", "sort", int(c.SortMethod), "rssi", c.RSSIThreshold)
	}
	d.netID, d.selected = id, false
	return nil
}

// networkSettings maps credentials to SET_NETWORK variables, in order.
func networkSettings(c Credentials) [][2]string {
	out := [][2]string{{"ssid", strconv.Quote(c.SSID)}}
	switch {
	case c.Passphrase == "":
		out = append(out, [2]string{"key_mgmt", "NONE"})
	case c.AuthMode >= AuthWPA3:
		out = append(out, [2]string{"key_mgmt", "SAE"}, [2]string{"sae_password", strconv.Quote(c.Passphrase)}, [2]string{"ieee80211w", "2"})
	default:
		out = append(out, [2]string{"key_mgmt", "WPA-PSK"}, [2]string{"psk", strconv.Quote(c.Passphrase)})
		if c.AuthMode == AuthWPA2 {
			out = append(out, [2]string{"proto", "RSN"})
		}
	}
	if c.ScanMethod == ScanAllChannel {
		out = append(out, [2]string{"scan_ssid", "1"})
	}
	return out
}

// Connect selects the configured network the first time and reassociates after.
func (d *WPADriver) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cmd == nil {
		return ErrLinkClosed
	}
	if d.netID < 0 {
		return errors.New("no network configured")
	}
	if !d.selected {
		if err := d.cmd.expectOK(fmt.Sprintf("SELECT_NETWORK %d", d.netID)); err != nil {
			return err
		}
		d.selected = true
		return nil
	}
	return d.cmd.expectOK("REASSOCIATE")
}

func (d *WPADriver) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cmd == nil {
		return nil
	}
	return d.cmd.expectOK("DISCONNECT")
}

// Stop removes our network and closes both sockets; wpa_supplicant drops
// the monitor once it can no longer deliver to it.
func (d *WPADriver) Stop() error {
	d.mu.Lock()
	cmd, mon, cancel := d.cmd, d.mon, d.cancel
	d.cmd, d.mon, d.cancel = nil, nil, nil
	id := d.netID
	d.netID, d.selected = -1, false
	d.mu.Unlock()
	if cmd == nil {
		return nil
	}
	cancel()
	var errs []error
	if id >= 0 {
		errs = append(errs, cmd.expectOK(fmt.Sprintf("REMOVE_NETWORK %d", id)))
	}
	errs = append(errs, cmd.close(), mon.close())
	d.wg.Wait()
	return errors.Join(errs...)
}

func (d *WPADriver) monitor(ctx context.Context, mon *wpaConn, emit func(Event)) {
	buf := make([]byte, wpaMaxMsg)
	for ctx.Err() == nil {
		_ = mon.c.SetReadDeadline(time.Now().Add(250 * time.Millisecond))
		n, err := mon.c.Read(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if ctx.Err() == nil {
				d.Logger.Warn("wpa_monitor_read", "err", err)
			}
			return
		}
		ev, ok := parseEvent(d.Iface, string(buf[:n]))
		if !ok {
			continue
		}
		emit(ev)
		// The kernel reports no new address when the lease survived the
		// reassociation, so check for one here.
		if ev.Kind == EventConnected {
			if addr, ok := d.ifaceAddr(d.Iface); ok {
				emit(Event{Kind: EventGotIP, Interface: d.Iface, Addr: addr})
			}
		}
	}
}

// parseEvent decodes an unsolicited "<level>CTRL-EVENT-..." message. Each
// failed attempt yields exactly one disconnect: CTRL-EVENT-DISCONNECTED after
// an association, CTRL-EVENT-NETWORK-NOT-FOUND for a scan that never got
// that far. SSID-TEMP-DISABLED follows a DISCONNECTED for the same attempt
// and is not reported.
func parseEvent(iface, msg string) (Event, bool) {
	if strings.HasPrefix(msg, "<") {
		if i := strings.IndexByte(msg, '>'); i > 0 {
			msg = msg[i+1:]
		}
	}
	switch {
	case strings.HasPrefix(msg, "CTRL-EVENT-CONNECTED"):
		return Event{Kind: EventConnected, Interface: iface}, true
	case strings.HasPrefix(msg, "CTRL-EVENT-DISCONNECTED"):
		return Event{Kind: EventDisconnected, Interface: iface, Reason: field(msg, "reason")}, true
	case strings.HasPrefix(msg, "CTRL-EVENT-NETWORK-NOT-FOUND"):
		return Event{Kind: EventDisconnected, Interface: iface, Reason: "network_not_found"}, true
	}
	return Event{}, false
}

func field(msg, key string) string {
	for _, f := range strings.Fields(msg) {
		if v, ok := strings.CutPrefix(f, key+"="); ok {
			return v
		}
	}
	return ""
}

var wpaSeq atomic.Uint64

// wpaConn is one datagram socket bound to a private path and connected to
// the interface's control socket.
type wpaConn struct {
	c     *net.UnixConn
	local string
}

func dialWPA(ctrlDir, iface string) (*wpaConn, error) {
	local := filepath.Join(os.TempDir(), fmt.Sprintf("webterm-wpa-%d-%d", os.Getpid(), wpaSeq.Add(1)))
	_ = os.Remove(local)
	laddr := &net.UnixAddr{Name: local, Net: "unixgram"}
	raddr := &net.UnixAddr{Name: filepath.Join(ctrlDir, iface), Net: "unixgram"}
	c, err := net.DialUnix("unixgram", laddr, raddr)
	if err != nil {
		return nil, fmt.Errorf("wpa_supplicant control %s: %w", raddr.Name, err)
	}
	return &wpaConn{c: c, local: local}, nil
}

// request sends cmd and returns the trimmed reply, skipping unsolicited events.
func (w *wpaConn) request(cmd string) (string, error) {
	if err := w.c.SetDeadline(time.Now().Add(wpaReplyTimeout)); err != nil {
		return "", err
	}
	if _, err := w.c.Write([]byte(cmd)); err != nil {
		return "", fmt.Errorf("%s: %w", cmd, err)
	}
	buf := make([]byte, wpaMaxMsg)
	for {
		n, err := w.c.Read(buf)
		if err != nil {
			return "", fmt.Errorf("%s: %w", cmd, err)
		}
		if n > 0 && buf[0] == '<' {
			continue
		}
		reply := strings.TrimSpace(string(buf[:n]))
		if reply == "FAIL" {
			return "", fmt.Errorf("%s: %w", cmd, errWPAFail)
		}
		return reply, nil
	}
}

func (w *wpaConn) expectOK(cmd string) error {
	reply, err := w.request(cmd)
	if err != nil {
		return err
	}
	if reply != "OK" {
		return fmt.Errorf("%s: unexpected reply %q", cmd, reply)
	}
	return nil
}

func (w *wpaConn) close() error {
	err := w.c.Close()
	_ = os.Remove(w.local)
	return err
}
