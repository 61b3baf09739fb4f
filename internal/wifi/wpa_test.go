package wifi

import (
	"context"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeSupplicant answers control commands on a unixgram socket and can push
// unsolicited events to attached monitors.
type fakeSupplicant struct {
	conn     *net.UnixConn
	mu       sync.Mutex
	cmds     []string
	monitors []*net.UnixAddr
}

func startFakeSupplicant(t *testing.T, dir, iface string) *fakeSupplicant {
	t.Helper()
	addr := &net.UnixAddr{Name: filepath.Join(dir, iface), Net: "unixgram"}
	c, err := net.ListenUnixgram("unixgram", addr)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	f := &fakeSupplicant{conn: c}
	t.Cleanup(func() { _ = c.Close() })
	go f.serve()
	return f
}

func (f *fakeSupplicant) serve() {
	buf := make([]byte, 4096)
	for {
		n, from, err := f.conn.ReadFromUnix(buf)
		if err != nil {
			return
		}
		cmd := string(buf[:n])
		f.mu.Lock()
		f.cmds = append(f.cmds, cmd)
		reply := "OK"
		switch {
		case cmd == "ATTACH":
			f.monitors = append(f.monitors, from)
		case cmd == "ADD_NETWORK":
			reply = "3\n"
		}
		f.mu.Unlock()
		_, _ = f.conn.WriteToUnix([]byte(reply), from)
	}
}

func (f *fakeSupplicant) push(msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.monitors {
		_, _ = f.conn.WriteToUnix([]byte(msg), m)
	}
}

func (f *fakeSupplicant) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cmds...)
}

func noAddrWatch(context.Context, func(Event)) error { return nil }

func noIfaceAddr(string) (string, bool) { return "", false }

func (f *fakeSupplicant) sawCommand(cmd string) bool {
	for _, c := range f.commands() {
		if c == cmd {
			return true
		}
	}
	return false
}

func newTestWPA(t *testing.T) (*WPADriver, *fakeSupplicant) {
	t.Helper()
	dir := t.TempDir()
	f := startFakeSupplicant(t, dir, "wlan0")
	d := NewWPADriver("wlan0", dir)
	d.Logger = testLogger()
	d.watchAddrs = noAddrWatch
	d.ifaceAddr = noIfaceAddr
	return d, f
}

func TestWPADriver_ConfigureAndConnect(t *testing.T) {
	d, f := newTestWPA(t)
	iface, err := d.Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop()
	if iface != "wlan0" {
		t.Fatalf("iface %q", iface)
	}
	creds := Credentials{SSID: "lab", Passphrase: "secret99", AuthMode: AuthWPA2, ScanMethod: ScanAllChannel}
	if err := d.Configure(creds); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if err := d.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := d.Connect(); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if err := d.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	want := []string{
		"ADD_NETWORK",
		`SET_NETWORK 3 ssid "lab"`,
		"SET_NETWORK 3 key_mgmt WPA-PSK",
		`SET_NETWORK 3 psk "secret99"`,
		"SET_NETWORK 3 proto RSN",
		"SET_NETWORK 3 scan_ssid 1",
		"SELECT_NETWORK 3",
		"REASSOCIATE",
		"DISCONNECT",
	}
	var got []string
	for _, c := range f.commands() {
		if c != "ATTACH" {
			got = append(got, c)
		}
	}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("commands:\n got %q\nwant %q", got, want)
	}
}

func TestWPADriver_MonitorEvents(t *testing.T) {
	d, f := newTestWPA(t)
	if _, err := d.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop()
	f.push("<3>CTRL-EVENT-SCAN-STARTED ")
	f.push("<3>CTRL-EVENT-DISCONNECTED bssid=00:11:22:33:44:55 reason=3 locally_generated=1")
	select {
	case ev := <-d.Events():
		if ev.Kind != EventDisconnected || ev.Reason != "3" || ev.Interface != "wlan0" {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestWPADriver_StopRemovesNetwork(t *testing.T) {
	d, f := newTestWPA(t)
	if _, err := d.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := d.Configure(Credentials{SSID: "open"}); err != nil {
		t.Fatal(err)
	}
	if err := d.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := d.Stop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	cmds := f.commands()
	if cmds[len(cmds)-1] != "REMOVE_NETWORK 3" {
		t.Fatalf("last command %q", cmds[len(cmds)-1])
	}
	if err := d.Connect(); err != ErrLinkClosed {
		t.Fatalf("expected ErrLinkClosed after stop, got %v", err)
	}
}

func TestWPADriver_StartNoSocket(t *testing.T) {
	d := NewWPADriver("wlan9", t.TempDir())
	d.watchAddrs = noAddrWatch
	if _, err := d.Start(context.Background()); err == nil {
		t.Fatal("expected dial error")
	}
}

func TestParseEvent(t *testing.T) {
	cases := []struct {
		msg  string
		kind EventKind
		ok   bool
	}{
		{"<3>CTRL-EVENT-CONNECTED - Connection to 00:11:22:33:44:55 completed", EventConnected, true},
		{"CTRL-EVENT-DISCONNECTED bssid=aa reason=4", EventDisconnected, true},
		{"<3>CTRL-EVENT-NETWORK-NOT-FOUND", EventDisconnected, true},
		{"<3>CTRL-EVENT-SSID-TEMP-DISABLED id=0 ssid=\"lab\" auth_failures=1 duration=10 reason=WRONG_KEY", 0, false},
		{"<3>CTRL-EVENT-SCAN-RESULTS ", 0, false},
	}
	for _, tc := range cases {
		ev, ok := parseEvent("wlan0", tc.msg)
		if ok != tc.ok || (ok && ev.Kind != tc.kind) {
			t.Fatalf("%q: got %+v ok=%v", tc.msg, ev, ok)
		}
	}
}

func TestNetworkSettings(t *testing.T) {
	open := networkSettings(Credentials{SSID: "cafe"})
	if len(open) != 2 || open[1] != [2]string{"key_mgmt", "NONE"} {
		t.Fatalf("open network: %v", open)
	}
	sae := networkSettings(Credentials{SSID: "x", Passphrase: "p", AuthMode: AuthWPA3})
	if sae[1] != [2]string{"key_mgmt", "SAE"} {
		t.Fatalf("wpa3: %v", sae)
	}
}

func TestWPADriver_ReconfigureRemovesOnlyOwnNetwork(t *testing.T) {
	d, f := newTestWPA(t)
	if _, err := d.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer d.Stop()
	if err := d.Configure(Credentials{SSID: "lab"}); err != nil {
		t.Fatal(err)
	}
	if err := d.Configure(Credentials{SSID: "lab2"}); err != nil {
		t.Fatal(err)
	}
	if !f.sawCommand("REMOVE_NETWORK 3") {
		t.Fatalf("previous network not removed: %q", f.commands())
	}
	if f.sawCommand("REMOVE_NETWORK all") {
		t.Fatalf("operator networks must be kept: %q", f.commands())
	}
}

// A wrong key makes wpa_supplicant report DISCONNECTED and then
// SSID-TEMP-DISABLED for the same attempt; only one retry may be counted.
func TestLinkOverWPA_TempDisabledCountsOnce(t *testing.T) {
	d, f := newTestWPA(t)
	l := NewLink(d, WithLogger(testLogger()))
	defer l.Disconnect()
	if err := l.Connect(context.Background(), Credentials{SSID: "lab", Passphrase: "wrongkey"}, false); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, func() bool { return f.sawCommand("SELECT_NETWORK 3") })
	f.push("<3>CTRL-EVENT-DISCONNECTED bssid=00:11:22:33:44:55 reason=15")
	f.push("<3>CTRL-EVENT-SSID-TEMP-DISABLED id=3 ssid=\"lab\" auth_failures=1 duration=10 reason=WRONG_KEY")
	waitFor(t, func() bool { return l.Retries() == 1 })
	f.push("<3>CTRL-EVENT-DISCONNECTED bssid=00:11:22:33:44:55 reason=15")
	f.push("<3>CTRL-EVENT-SSID-TEMP-DISABLED id=3 ssid=\"lab\" auth_failures=2 duration=20 reason=WRONG_KEY")
	waitFor(t, func() bool { return l.Retries() == 2 })
	time.Sleep(50 * time.Millisecond)
	if got := l.Retries(); got != 2 {
		t.Fatalf("two failed attempts counted as %d retries", got)
	}
}

// An address kept across association produces no kernel notification; the
// driver reports it when the association completes.
func TestLinkOverWPA_ExistingAddress(t *testing.T) {
	d, f := newTestWPA(t)
	d.ifaceAddr = func(iface string) (string, bool) {
		if iface != "wlan0" {
			return "", false
		}
		return "10.0.0.7", true
	}
	l := NewLink(d, WithLogger(testLogger()))
	defer l.Disconnect()
	res := make(chan error, 1)
	go func() { res <- l.Connect(context.Background(), Credentials{SSID: "lab"}, true) }()
	waitFor(t, func() bool { return f.sawCommand("SELECT_NETWORK 3") })
	f.push("<3>CTRL-EVENT-CONNECTED - Connection to 00:11:22:33:44:55 completed [id=3 id_str=]")
	select {
	case err := <-res:
		if err != nil {
			t.Fatalf("connect: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Connect did not return with an address already present")
	}

	f.push("<3>CTRL-EVENT-DISCONNECTED bssid=00:11:22:33:44:55 reason=4")
	waitFor(t, func() bool { return l.Retries() == 1 && l.State() == Connecting })
	f.push("<3>CTRL-EVENT-CONNECTED - Connection to 00:11:22:33:44:55 completed [id=3 id_str=]")
	waitFor(t, func() bool { return l.Retries() == 0 && l.State() == Connected })
}
