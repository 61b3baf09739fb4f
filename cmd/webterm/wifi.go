package main

import (
	"context"
	"log/slog"

	"github.com/kstaniek/go-webterm/internal/wifi"
)

// newWifiDriver is a hook for tests.
var newWifiDriver = func(cfg *appConfig, l *slog.Logger) wifi.Driver {
	d := wifi.NewWPADriver(cfg.wifiIface, cfg.wifiCtrlDir)
	d.Logger = l
	return d
}

func wifiCredentials(cfg *appConfig) wifi.Credentials {
	c := wifi.Credentials{
		SSID:          cfg.wifiSSID,
		Passphrase:    cfg.wifiPass,
		RSSIThreshold: cfg.wifiRSSI,
	}
	if cfg.wifiScan == "all" {
		c.ScanMethod = wifi.ScanAllChannel
	}
	if cfg.wifiSort == "security" {
		c.SortMethod = wifi.SortSecurity
	}
	switch cfg.wifiAuth {
	case "open":
		c.AuthMode = wifi.AuthOpen
	case "wpa":
		c.AuthMode = wifi.AuthWPA
	case "wpa3":
		c.AuthMode = wifi.AuthWPA3
	default:
		c.AuthMode = wifi.AuthWPA2
	}
	return c
}

// startWifi brings the station link up and blocks until it has an address,
// retries are exhausted or the optional connect timeout elapses. It returns
// nil when wifi is disabled.
func startWifi(ctx context.Context, cfg *appConfig, l *slog.Logger) (*wifi.Link, error) {
	if !cfg.wifiEnable {
		return nil, nil
	}
	link := wifi.NewLink(newWifiDriver(cfg, l),
		wifi.WithMaxRetry(cfg.wifiMaxRetry),
		wifi.WithBackoff(cfg.wifiBackoffMin, cfg.wifiBackoffMax),
		wifi.WithLogger(l),
	)
	cctx := ctx
	if cfg.wifiConnectTO > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, cfg.wifiConnectTO)
		defer cancel()
	}
	if err := link.Connect(cctx, wifiCredentials(cfg), true); err != nil {
		_ = link.Disconnect()
		return nil, err
	}
	l.Info("wifi_ready", "iface", link.Interface())
	return link, nil
}
