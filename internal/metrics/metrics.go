package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-webterm/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters
var (
	SerialRxBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "serial_rx_bytes_total",
		Help: "Total bytes read from the serial link.",
	})
	SerialTxBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "serial_tx_bytes_total",
		Help: "Total bytes written to the serial link.",
	})
	WSRxMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_rx_messages_total",
		Help: "Total WebSocket messages received from the registered client.",
	})
	WSTxMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_tx_messages_total",
		Help: "Total WebSocket text messages sent to the registered client.",
	})
	WSTxBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_tx_bytes_total",
		Help: "Total payload bytes sent to the registered client.",
	})
	RingDroppedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ring_dropped_bytes_total",
		Help: "Total serial bytes dropped by the ring buffer under backpressure.",
	})
	WorkQueueDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "work_queue_dropped_total",
		Help: "Total send units not scheduled because the transport work queue was full.",
	})
	ClientRegistrations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_client_registrations_total",
		Help: "Total WebSocket client registrations (each replaces the previous client).",
	})
	ClientRegistered = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ws_client_registered",
		Help: "1 when a WebSocket client is registered with the bridge, 0 otherwise.",
	})
	WifiState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wifi_state",
		Help: "Wireless link state (0=idle 1=connecting 2=connected 3=failed).",
	})
	WifiRetries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wifi_retries",
		Help: "Consecutive disconnect events since the last IP acquisition.",
	})
	PowerPulses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "power_pulses_total",
		Help: "Power control pulses issued, by action.",
	}, []string{"action"})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrSerialRead  = "serial_read"
	ErrSerialWrite = "serial_write"
	ErrRingFull    = "ring_full"
	ErrQueueFull   = "work_queue_full"
	ErrWSUpgrade   = "ws_upgrade"
	ErrWSRead      = "ws_read"
	ErrWSWrite     = "ws_write"
	ErrHTTPListen  = "http_listen"
	ErrHTTPRequest = "http_request"
	ErrWifi        = "wifi"
	ErrGPIO        = "gpio"
)

// StartHTTP serves Prometheus metrics at /metrics and readiness at /ready.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for easy logging (avoid Prometheus scraping in-process)
var (
	localSerialRx     uint64
	localSerialTx     uint64
	localWSRx         uint64
	localWSTx         uint64
	localWSTxBytes    uint64
	localRingDrops    uint64
	localQueueDrops   uint64
	localRegistration uint64
	localRegistered   uint64
	localWifiState    uint64
	localWifiRetries  uint64
	localPulses       uint64
	localErrors       uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	SerialRxBytes uint64
	SerialTxBytes uint64
	WSRx          uint64
	WSTx          uint64
	WSTxBytes     uint64
	RingDrops     uint64
	QueueDrops    uint64
	Registrations uint64
	Registered    uint64
	WifiState     uint64
	WifiRetries   uint64
	Pulses        uint64
	Errors        uint64 // sum across error labels
}

func Snap() Snapshot {
	return Snapshot{
		SerialRxBytes: atomic.LoadUint64(&localSerialRx),
		SerialTxBytes: atomic.LoadUint64(&localSerialTx),
		WSRx:          atomic.LoadUint64(&localWSRx),
		WSTx:          atomic.LoadUint64(&localWSTx),
		WSTxBytes:     atomic.LoadUint64(&localWSTxBytes),
		RingDrops:     atomic.LoadUint64(&localRingDrops),
		QueueDrops:    atomic.LoadUint64(&localQueueDrops),
		Registrations: atomic.LoadUint64(&localRegistration),
		Registered:    atomic.LoadUint64(&localRegistered),
		WifiState:     atomic.LoadUint64(&localWifiState),
		WifiRetries:   atomic.LoadUint64(&localWifiRetries),
		Pulses:        atomic.LoadUint64(&localPulses),
		Errors:        atomic.LoadUint64(&localErrors),
	}
}

// Wrapper helpers to keep call sites simple.
func AddSerialRx(n int) {
	SerialRxBytes.Add(float64(n))
	atomic.AddUint64(&localSerialRx, uint64(n))
}

func AddSerialTx(n int) {
	SerialTxBytes.Add(float64(n))
	atomic.AddUint64(&localSerialTx, uint64(n))
}

func IncWSRx() {
	WSRxMessages.Inc()
	atomic.AddUint64(&localWSRx, 1)
}

// AddWSTx records one outgoing text message carrying n payload bytes.
func AddWSTx(n int) {
	WSTxMessages.Inc()
	WSTxBytes.Add(float64(n))
	atomic.AddUint64(&localWSTx, 1)
	atomic.AddUint64(&localWSTxBytes, uint64(n))
}

func AddRingDrops(n int) {
	if n <= 0 {
		return
	}
	RingDroppedBytes.Add(float64(n))
	atomic.AddUint64(&localRingDrops, uint64(n))
}

func IncQueueDrop() {
	WorkQueueDrops.Inc()
	atomic.AddUint64(&localQueueDrops, 1)
}

func IncRegistration() {
	ClientRegistrations.Inc()
	atomic.AddUint64(&localRegistration, 1)
}

func SetClientRegistered(on bool) {
	var v uint64
	if on {
		v = 1
	}
	ClientRegistered.Set(float64(v))
	atomic.StoreUint64(&localRegistered, v)
}

// SetWifi records the link manager state ordinal and retry counter.
func SetWifi(state, retries int) {
	WifiState.Set(float64(state))
	WifiRetries.Set(float64(retries))
	atomic.StoreUint64(&localWifiState, uint64(state))
	atomic.StoreUint64(&localWifiRetries, uint64(retries))
}

func IncPowerPulse(action string) {
	PowerPulses.WithLabelValues(action).Inc()
	atomic.AddUint64(&localPulses, 1)
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-register common error label series so first error does not log a registration latency.
	for _, lbl := range []string{
		ErrSerialRead, ErrSerialWrite, ErrRingFull, ErrQueueFull,
		ErrWSUpgrade, ErrWSRead, ErrWSWrite,
		ErrHTTPListen, ErrHTTPRequest, ErrWifi, ErrGPIO,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
	for _, action := range []string{"on", "off"} {
		PowerPulses.WithLabelValues(action).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil { // if not set yet, treat as ready so metrics endpoint doesn't flap
		return true
	}
	return fn()
}
