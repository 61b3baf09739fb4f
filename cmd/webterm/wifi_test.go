package main

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/kstaniek/go-webterm/internal/wifi"
)

// scriptedDriver answers every Connect with the next queued event.
type scriptedDriver struct {
	events chan wifi.Event
	script []wifi.EventKind
}

func (d *scriptedDriver) Start(context.Context) (string, error) { return "wlan0", nil }
func (d *scriptedDriver) Events() <-chan wifi.Event             { return d.events }
func (d *scriptedDriver) Configure(wifi.Credentials) error      { return nil }
func (d *scriptedDriver) Disconnect() error                     { return nil }
func (d *scriptedDriver) Stop() error                           { return nil }
func (d *scriptedDriver) Connect() error {
	if len(d.script) > 0 {
		kind := d.script[0]
		d.script = d.script[1:]
		d.events <- wifi.Event{Kind: kind, Interface: "wlan0"}
	}
	return nil
}

func withDriver(t *testing.T, d wifi.Driver) {
	t.Helper()
	old := newWifiDriver
	newWifiDriver = func(*appConfig, *slog.Logger) wifi.Driver { return d }
	t.Cleanup(func() { newWifiDriver = old })
}

func wifiConfig() *appConfig {
	cfg := validConfig()
	cfg.wifiEnable = true
	cfg.wifiSSID = "lab"
	return cfg
}

func TestStartWifi_Disabled(t *testing.T) {
	link, err := startWifi(context.Background(), validConfig(), discardLogger())
	if link != nil || err != nil {
		t.Fatalf("got %v, %v", link, err)
	}
}

func TestStartWifi_Success(t *testing.T) {
	d := &scriptedDriver{events: make(chan wifi.Event, 16), script: []wifi.EventKind{wifi.EventDisconnected, wifi.EventGotIP}}
	withDriver(t, d)
	link, err := startWifi(context.Background(), wifiConfig(), discardLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer link.Disconnect()
	if link.State() != wifi.Connected {
		t.Fatalf("state %v", link.State())
	}
}

func TestStartWifi_Exhausted(t *testing.T) {
	script := make([]wifi.EventKind, 10)
	for i := range script {
		script[i] = wifi.EventDisconnected
	}
	withDriver(t, &scriptedDriver{events: make(chan wifi.Event, 16), script: script})
	cfg := wifiConfig()
	cfg.wifiMaxRetry = 2
	if _, err := startWifi(context.Background(), cfg, discardLogger()); !errors.Is(err, wifi.ErrRetriesExhausted) {
		t.Fatalf("expected ErrRetriesExhausted, got %v", err)
	}
}

func TestStartWifi_ConnectTimeout(t *testing.T) {
	withDriver(t, &scriptedDriver{events: make(chan wifi.Event, 1)})
	cfg := wifiConfig()
	cfg.wifiConnectTO = 20 * time.Millisecond
	if _, err := startWifi(context.Background(), cfg, discardLogger()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
}

func TestWifiCredentials(t *testing.T) {
	cfg := wifiConfig()
	cfg.wifiScan, cfg.wifiSort, cfg.wifiAuth, cfg.wifiRSSI = "all", "security", "wpa3", -80
	c := wifiCredentials(cfg)
	if c.ScanMethod != wifi.ScanAllChannel || c.SortMethod != wifi.SortSecurity || c.AuthMode != wifi.AuthWPA3 || c.RSSIThreshold != -80 {
		t.Fatalf("unexpected credentials %+v", c)
	}
}
