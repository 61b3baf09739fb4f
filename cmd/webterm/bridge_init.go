package main

import (
	"context"
	"io"
	"log/slog"

	"github.com/kstaniek/go-webterm/internal/bridge"
	"github.com/kstaniek/go-webterm/internal/metrics"
	"github.com/kstaniek/go-webterm/internal/ring"
	"github.com/kstaniek/go-webterm/internal/transport"
)

const workQueueSize = 64

func ringPolicy(name string) ring.Policy {
	if name == "drop-oldest" {
		return ring.DropOldest
	}
	return ring.DropNewest
}

// initBridge builds the work queue and the stream bridge writing to w. The
// returned cleanup stops the queue worker.
func initBridge(ctx context.Context, cfg *appConfig, w io.Writer, l *slog.Logger) (*bridge.Bridge, func()) {
	q := transport.NewWorkQueue(ctx, workQueueSize, transport.Hooks{
		OnDrop:  metrics.IncQueueDrop,
		OnPanic: func(r any) { l.Error("work_queue_panic", "panic", r) },
	})
	br := bridge.New(w, q,
		bridge.WithLogger(l),
		bridge.WithRingPolicy(ringPolicy(cfg.ringPolicy)),
		bridge.WithWriteTimeout(cfg.ringWriteTO),
		bridge.WithReadTimeout(cfg.ringReadTO),
	)
	l.Info("build_info", "version", version, "commit", commit, "date", date)
	l.Info("bridge_config", "ring_policy", cfg.ringPolicy, "ring_write_timeout", cfg.ringWriteTO, "ring_read_timeout", cfg.ringReadTO, "frame", bridge.MaxFrame)
	return br, q.Close
}
