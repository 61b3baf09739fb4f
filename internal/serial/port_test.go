package serial

import (
	"strings"
	"testing"
	"time"

	tarm "github.com/tarm/serial"
	bugst "go.bug.st/serial"
)

func TestTarmConfigIs8N1(t *testing.T) {
	c := tarmConfig(Config{Device: "/dev/ttyS1", Baud: DefaultBaud, ReadTimeout: 20 * time.Millisecond})
	if c.Name != "/dev/ttyS1" || c.Baud != 115200 || c.ReadTimeout != 20*time.Millisecond {
		t.Fatalf("unexpected config %+v", c)
	}
	if c.Size != 8 || c.Parity != tarm.ParityNone || c.StopBits != tarm.Stop1 {
		t.Fatalf("expected 8N1, got size=%d parity=%c stop=%d", c.Size, c.Parity, c.StopBits)
	}
}

func TestBugstModeIs8N1(t *testing.T) {
	m := bugstMode(Config{Baud: DefaultBaud})
	if m.BaudRate != 115200 || m.DataBits != 8 || m.Parity != bugst.NoParity || m.StopBits != bugst.OneStopBit {
		t.Fatalf("expected 115200 8N1, got %+v", m)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(Config{Device: "/dev/null", Driver: "nope"})
	if err == nil || !strings.Contains(err.Error(), "unknown serial driver") {
		t.Fatalf("expected unknown driver error, got %v", err)
	}
}
