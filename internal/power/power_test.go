package power

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/kstaniek/go-webterm/internal/gpio"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestParseState(t *testing.T) {
	cases := []struct {
		in   string
		want State
		ok   bool
	}{
		{"on", On, true},
		{"ON", On, true},
		{"Off", Off, true},
		{" off ", Off, true},
		{"sideways", Off, false},
		{"", Off, false},
	}
	for _, tc := range cases {
		got, err := ParseState(tc.in)
		if tc.ok != (err == nil) {
			t.Fatalf("%q: err=%v", tc.in, err)
		}
		if !tc.ok && !errors.Is(err, ErrInvalidState) {
			t.Fatalf("%q: expected ErrInvalidState, got %v", tc.in, err)
		}
		if tc.ok && got != tc.want {
			t.Fatalf("%q: got %v", tc.in, got)
		}
	}
}

func TestRequest_PulsesControlLine(t *testing.T) {
	var slept []time.Duration
	old := sleepFn
	sleepFn = func(d time.Duration) { slept = append(slept, d) }
	defer func() { sleepFn = old }()

	chip := gpio.NewFakeChip()
	c := New(chip, WithLogger(testLogger()))
	msg, err := c.Request("ON")
	if err != nil || msg != MsgWake {
		t.Fatalf("got %q, %v", msg, err)
	}
	c.Wait()

	lv := chip.Levels()
	if len(lv) != 3 || lv[0].Value != 1 || lv[1].Value != 0 || lv[2].Value != 1 {
		t.Fatalf("unexpected level sequence: %+v", lv)
	}
	for _, l := range lv {
		if l.Offset != DefaultControlLine {
			t.Fatalf("pulse on wrong line %d", l.Offset)
		}
	}
	if len(slept) != 1 || slept[0] != DefaultPulseWidth {
		t.Fatalf("pulse width %v", slept)
	}
	if p := chip.Pulls(DefaultControlLine); len(p) != 1 || p[0] != gpio.PullUp {
		t.Fatalf("control line bias %v", p)
	}
	if chip.Open(DefaultControlLine) != 0 {
		t.Fatalf("control line not released")
	}
}

func TestRequest_OffMessage(t *testing.T) {
	old := sleepFn
	sleepFn = func(time.Duration) {}
	defer func() { sleepFn = old }()

	chip := gpio.NewFakeChip()
	c := New(chip, WithLogger(testLogger()), WithLines(5, 6))
	msg, err := c.Request("off")
	c.Wait()
	if err != nil || msg != MsgShut {
		t.Fatalf("got %q, %v", msg, err)
	}
	if lv := chip.Levels(); len(lv) != 3 || lv[0].Offset != 5 {
		t.Fatalf("expected pulse on line 5: %+v", lv)
	}
}

func TestRequest_InvalidNoPulse(t *testing.T) {
	chip := gpio.NewFakeChip()
	c := New(chip, WithLogger(testLogger()))
	msg, err := c.Request("sideways")
	c.Wait()
	if msg != MsgInvalid || !errors.Is(err, ErrInvalidState) {
		t.Fatalf("got %q, %v", msg, err)
	}
	if len(chip.Levels()) != 0 {
		t.Fatalf("invalid request must not pulse")
	}
}

func TestRequest_RealSleep(t *testing.T) {
	chip := gpio.NewFakeChip()
	c := New(chip, WithLogger(testLogger()), WithPulseWidth(30*time.Millisecond))
	start := time.Now()
	if _, err := c.Request("on"); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 20*time.Millisecond {
		t.Fatalf("Request should not block on the pulse")
	}
	c.Wait()
	lv := chip.Levels()
	if len(lv) != 3 {
		t.Fatalf("levels %+v", lv)
	}
	if held := lv[2].At.Sub(lv[1].At); held < 30*time.Millisecond {
		t.Fatalf("line held low only %v", held)
	}
}

func TestState(t *testing.T) {
	chip := gpio.NewFakeChip()
	c := New(chip, WithLogger(testLogger()))
	chip.SetInput(DefaultSenseLine, 1)
	s, err := c.State()
	if err != nil || s != On {
		t.Fatalf("got %v, %v", s, err)
	}
	chip.SetInput(DefaultSenseLine, 0)
	if s, _ := c.State(); s != Off {
		t.Fatalf("expected off, got %v", s)
	}
	p := chip.Pulls(DefaultSenseLine)
	if len(p) != 4 || p[0] != gpio.PullDown || p[1] != gpio.PullUp {
		t.Fatalf("sense bias sequence %v", p)
	}
	if chip.Open(DefaultSenseLine) != 0 {
		t.Fatalf("sense line not released")
	}
}

func TestState_RequestError(t *testing.T) {
	chip := gpio.NewFakeChip()
	chip.FailReq = gpio.ErrUnsupported
	c := New(chip, WithLogger(testLogger()))
	if _, err := c.State(); !errors.Is(err, gpio.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}
