package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"time"

	"github.com/kstaniek/go-webterm/internal/metrics"
	"github.com/kstaniek/go-webterm/internal/server"
)

func main() {
	cfg, showVersion, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if showVersion {
		fmt.Printf("webterm %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	l, closeLog := setupLogger(cfg.logFormat, cfg.logLevel, cfg.logFile)
	defer func() { _ = closeLog() }()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, shutdownSignals...)
	go func() {
		select {
		case s := <-sigCh:
			l.Info("shutdown_signal", "signal", s.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	link, err := startWifi(ctx, cfg, l)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			l.Error("wifi_init_error", "error", err)
		}
		return
	}
	if link != nil {
		defer func() { _ = link.Disconnect() }()
	}

	sp, err := openSerial(cfg, l)
	if err != nil {
		l.Error("serial_init_error", "error", err)
		return
	}
	br, closeQueue := initBridge(ctx, cfg, sp, l)
	startSerialRX(ctx, sp, br, l, &wg)

	opts := []server.ServerOption{
		server.WithListenAddr(cfg.listenAddr),
		server.WithBridge(br),
		server.WithStaticDir(cfg.staticDir),
		server.WithWriteTimeout(cfg.wsWriteTO),
		server.WithReadLimit(cfg.wsReadLimit),
		server.WithLogger(l),
	}
	pc := initPower(cfg, l)
	if pc != nil {
		opts = append(opts, server.WithPower(pc))
	}
	srv := server.NewServer(opts...)
	go func() {
		if err := srv.Serve(ctx); err != nil {
			l.Error("http_server_error", "error", err)
			cancel()
		}
	}()

	// Start mDNS advertisement once listener is ready.
	go func() {
		if !cfg.mdnsEnable {
			return
		}
		select {
		case <-srv.Ready():
		case <-ctx.Done():
			return
		}
		var portNum int
		if _, p, err := net.SplitHostPort(srv.Addr()); err == nil {
			portNum, _ = strconv.Atoi(p)
		}
		cleanupMDNS, err := startMDNS(ctx, cfg, portNum)
		if err != nil {
			l.Warn("mdns_start_failed", "error", err)
			return
		}
		l.Info("mdns_started", "service", mdnsServiceType, "name", cfg.mdnsName, "port", portNum)
		go func() { <-ctx.Done(); cleanupMDNS() }()
	}()

	// Ready when the HTTP listener is bound and context not cancelled.
	metrics.SetReadinessFunc(func() bool {
		select {
		case <-srv.Ready():
		default:
			return false
		}
		return ctx.Err() == nil
	})
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	<-ctx.Done()
	sctx, scancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer scancel()
	if err := srv.Shutdown(sctx); err != nil {
		l.Warn("http_shutdown", "error", err)
	}
	_ = sp.Close()
	closeQueue()
	if pc != nil {
		pc.Wait()
	}
	wg.Wait()
}
