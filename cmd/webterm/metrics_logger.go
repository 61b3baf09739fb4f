package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-webterm/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"serial_rx", snap.SerialRxBytes,
					"serial_tx", snap.SerialTxBytes,
					"ws_rx", snap.WSRx,
					"ws_tx", snap.WSTx,
					"ws_tx_bytes", snap.WSTxBytes,
					"ring_drops", snap.RingDrops,
					"queue_drops", snap.QueueDrops,
					"registrations", snap.Registrations,
					"registered", snap.Registered,
					"wifi_state", snap.WifiState,
					"wifi_retries", snap.WifiRetries,
					"power_pulses", snap.Pulses,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
