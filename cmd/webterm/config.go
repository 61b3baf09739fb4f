package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/kstaniek/go-webterm/internal/serial"
)

const envPrefix = "WEBTERM_"

type appConfig struct {
	configFile      string
	serialDev       string
	serialDriver    string
	serialReadTO    time.Duration
	listenAddr      string
	staticDir       string
	ringPolicy      string
	ringWriteTO     time.Duration
	ringReadTO      time.Duration
	wsWriteTO       time.Duration
	wsReadLimit     int64
	logFormat       string
	logLevel        string
	logFile         string
	metricsAddr     string
	logMetricsEvery time.Duration
	mdnsEnable      bool
	mdnsName        string
	wifiEnable      bool
	wifiIface       string
	wifiCtrlDir     string
	wifiSSID        string
	wifiPass        string
	wifiScan        string
	wifiSort        string
	wifiRSSI        int
	wifiAuth        string
	wifiMaxRetry    int
	wifiBackoffMin  time.Duration
	wifiBackoffMax  time.Duration
	wifiConnectTO   time.Duration
	gpioChip        string
	powerLine       int
	senseLine       int
	pulseWidth      time.Duration
}

// newFlagSet binds every configuration key to a flag on cfg.
func newFlagSet(cfg *appConfig, showVersion *bool) *pflag.FlagSet {
	fs := pflag.NewFlagSet("webterm", pflag.ContinueOnError)
	fs.StringVar(&cfg.configFile, "config", "", "YAML configuration file (flat keys named like the flags)")
	fs.StringVar(&cfg.serialDev, "serial", "/dev/ttyUSB0", "Serial device path")
	fs.StringVar(&cfg.serialDriver, "serial-driver", serial.DriverTarm, "Serial driver: tarm|bugst")
	fs.DurationVar(&cfg.serialReadTO, "serial-read-timeout", 20*time.Millisecond, "Serial read timeout")
	fs.StringVar(&cfg.listenAddr, "listen", ":8080", "HTTP listen address")
	fs.StringVar(&cfg.staticDir, "static-dir", "www", "Directory served at /")
	fs.StringVar(&cfg.ringPolicy, "ring-policy", "drop-newest", "Serial buffer overflow policy: drop-newest|drop-oldest")
	fs.DurationVar(&cfg.ringWriteTO, "ring-write-timeout", 10*time.Millisecond, "Max wait for buffer space before dropping serial bytes")
	fs.DurationVar(&cfg.ringReadTO, "ring-read-timeout", 10*time.Millisecond, "Max wait for buffered serial bytes in one network send")
	fs.DurationVar(&cfg.wsWriteTO, "ws-write-timeout", 5*time.Second, "WebSocket write deadline")
	fs.Int64Var(&cfg.wsReadLimit, "ws-read-limit", 64<<10, "Max size in bytes of one incoming WebSocket message")
	fs.StringVar(&cfg.logFormat, "log-format", "text", "Log format: text|json")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	fs.StringVar(&cfg.logFile, "log-file", "", "Also write logs to this file (rotated)")
	fs.StringVar(&cfg.metricsAddr, "metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	fs.DurationVar(&cfg.logMetricsEvery, "log-metrics-interval", 0, "If >0, periodically log metrics counters")
	fs.BoolVar(&cfg.mdnsEnable, "mdns-enable", false, "Enable mDNS advertisement")
	fs.StringVar(&cfg.mdnsName, "mdns-name", "", "mDNS instance name (default webterm-<hostname>)")
	fs.BoolVar(&cfg.wifiEnable, "wifi-enable", false, "Bring up the wireless station link before serving")
	fs.StringVar(&cfg.wifiIface, "wifi-iface", "wlan0", "Wireless station interface")
	fs.StringVar(&cfg.wifiCtrlDir, "wifi-ctrl-dir", "/var/run/wpa_supplicant", "wpa_supplicant control socket directory")
	fs.StringVar(&cfg.wifiSSID, "wifi-ssid", "", "Network SSID")
	fs.StringVar(&cfg.wifiPass, "wifi-pass", "", "Network passphrase (empty for open networks)")
	fs.StringVar(&cfg.wifiScan, "wifi-scan", "fast", "Scan method: fast|all")
	fs.StringVar(&cfg.wifiSort, "wifi-sort", "signal", "AP sort method: signal|security")
	fs.IntVar(&cfg.wifiRSSI, "wifi-rssi", -127, "Minimum RSSI in dBm")
	fs.StringVar(&cfg.wifiAuth, "wifi-auth", "wpa2", "Weakest accepted auth mode: open|wpa|wpa2|wpa3")
	fs.IntVar(&cfg.wifiMaxRetry, "wifi-max-retry", 6, "Consecutive disconnects tolerated before giving up")
	fs.DurationVar(&cfg.wifiBackoffMin, "wifi-backoff-min", 0, "Initial reconnect delay (0 reconnects immediately)")
	fs.DurationVar(&cfg.wifiBackoffMax, "wifi-backoff-max", 0, "Maximum reconnect delay")
	fs.DurationVar(&cfg.wifiConnectTO, "wifi-connect-timeout", 0, "Bound on the initial connect (0 waits for success or retry exhaustion)")
	fs.StringVar(&cfg.gpioChip, "gpio-chip", "gpiochip0", "GPIO character device; empty disables power control")
	fs.IntVar(&cfg.powerLine, "power-line", 16, "GPIO line driving the target's power button")
	fs.IntVar(&cfg.senseLine, "sense-line", 13, "GPIO line sensing target power")
	fs.DurationVar(&cfg.pulseWidth, "pulse-width", 500*time.Millisecond, "Power button press duration")
	fs.BoolVar(showVersion, "version", false, "Print version and exit")
	return fs
}

// parseFlags builds the configuration with precedence defaults < YAML file <
// environment < flags.
func parseFlags(args []string) (*appConfig, bool, error) {
	cfg := &appConfig{}
	var showVersion bool
	fs := newFlagSet(cfg, &showVersion)
	if err := fs.Parse(args); err != nil {
		return nil, false, err
	}
	if showVersion {
		return cfg, true, nil
	}
	// Track which flags were explicitly set to give them precedence.
	setFlags := map[string]struct{}{}
	fs.Visit(func(f *pflag.Flag) { setFlags[f.Name] = struct{}{} })

	if cfg.configFile != "" {
		f, err := os.Open(cfg.configFile)
		if err != nil {
			return nil, false, fmt.Errorf("config file: %w", err)
		}
		err = applyFileOverrides(fs, f, setFlags)
		_ = f.Close()
		if err != nil {
			return nil, false, fmt.Errorf("config file %s: %w", cfg.configFile, err)
		}
	}
	if err := applyEnvOverrides(fs, setFlags); err != nil {
		return nil, false, fmt.Errorf("environment override error: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, false, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, false, nil
}

// applyFileOverrides reads a flat YAML mapping of flag names to values and
// applies keys whose flag was not given on the command line.
func applyFileOverrides(fs *pflag.FlagSet, r io.Reader, set map[string]struct{}) error {
	var doc map[string]any
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if k == "config" || k == "version" || fs.Lookup(k) == nil {
			return fmt.Errorf("unknown key %q", k)
		}
		if _, ok := set[k]; ok {
			continue
		}
		v := doc[k]
		switch v.(type) {
		case map[string]any, []any:
			return fmt.Errorf("key %q: expected a scalar", k)
		}
		sv := fmt.Sprint(v)
		if fs.Lookup(k).Value.Type() == "bool" {
			sv = normalizeBool(sv)
		}
		if err := fs.Set(k, sv); err != nil {
			return fmt.Errorf("key %q: %w", k, err)
		}
	}
	return nil
}

// envName maps a flag name to its WEBTERM_* variable.
func envName(flag string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}

// applyEnvOverrides maps WEBTERM_* environment variables onto flags unless a
// corresponding flag was explicitly set. Empty values are ignored.
func applyEnvOverrides(fs *pflag.FlagSet, set map[string]struct{}) error {
	var firstErr error
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Name == "config" || f.Name == "version" {
			return
		}
		if _, ok := set[f.Name]; ok {
			return
		}
		v, ok := os.LookupEnv(envName(f.Name))
		v = strings.TrimSpace(v)
		if !ok || v == "" {
			return
		}
		if f.Value.Type() == "bool" {
			v = normalizeBool(v)
		}
		if err := fs.Set(f.Name, v); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("invalid %s: %w", envName(f.Name), err)
		}
	})
	return firstErr
}

func normalizeBool(v string) string {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return "true"
	case "0", "false", "no", "off":
		return "false"
	}
	return v
}

// validate performs basic semantic validation of the parsed configuration.
// It does not attempt to open devices or listeners.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	switch c.serialDriver {
	case serial.DriverTarm, serial.DriverBugst:
	default:
		return fmt.Errorf("invalid serial-driver: %s", c.serialDriver)
	}
	switch c.ringPolicy {
	case "drop-newest", "drop-oldest":
	default:
		return fmt.Errorf("invalid ring-policy: %s", c.ringPolicy)
	}
	if c.serialDev == "" {
		return errors.New("serial device must be set")
	}
	if c.serialReadTO <= 0 {
		return errors.New("serial-read-timeout must be > 0")
	}
	if c.ringWriteTO < 0 {
		return errors.New("ring-write-timeout must be >= 0")
	}
	if c.ringReadTO <= 0 {
		return errors.New("ring-read-timeout must be > 0")
	}
	if c.wsReadLimit <= 0 {
		return errors.New("ws-read-limit must be > 0")
	}
	if c.wsWriteTO <= 0 {
		return errors.New("ws-write-timeout must be > 0")
	}
	if c.logMetricsEvery < 0 {
		return errors.New("log-metrics-interval must be >= 0")
	}
	if c.wifiEnable {
		if c.wifiSSID == "" {
			return errors.New("wifi-ssid is required when wifi is enabled")
		}
		if len(c.wifiSSID) > 32 {
			return fmt.Errorf("wifi-ssid longer than 32 bytes")
		}
		if c.wifiPass != "" && (len(c.wifiPass) < 8 || len(c.wifiPass) > 63) {
			return fmt.Errorf("wifi-pass must be 8..63 characters")
		}
	}
	switch c.wifiScan {
	case "fast", "all":
	default:
		return fmt.Errorf("invalid wifi-scan: %s", c.wifiScan)
	}
	switch c.wifiSort {
	case "signal", "security":
	default:
		return fmt.Errorf("invalid wifi-sort: %s", c.wifiSort)
	}
	switch c.wifiAuth {
	case "open", "wpa", "wpa2", "wpa3":
	default:
		return fmt.Errorf("invalid wifi-auth: %s", c.wifiAuth)
	}
	if c.wifiRSSI < -127 || c.wifiRSSI > 0 {
		return fmt.Errorf("wifi-rssi must be in [-127,0] (got %d)", c.wifiRSSI)
	}
	if c.wifiMaxRetry < 0 {
		return errors.New("wifi-max-retry must be >= 0")
	}
	if c.wifiBackoffMin < 0 || c.wifiBackoffMax < 0 {
		return errors.New("wifi backoff must be >= 0")
	}
	if c.wifiBackoffMax > 0 && c.wifiBackoffMax < c.wifiBackoffMin {
		return errors.New("wifi-backoff-max must be >= wifi-backoff-min")
	}
	if c.wifiConnectTO < 0 {
		return errors.New("wifi-connect-timeout must be >= 0")
	}
	if c.powerLine < 0 || c.senseLine < 0 {
		return errors.New("gpio lines must be >= 0")
	}
	if c.gpioChip != "" && c.powerLine == c.senseLine {
		return errors.New("power-line and sense-line must differ")
	}
	if c.pulseWidth <= 0 {
		return errors.New("pulse-width must be > 0")
	}
	return nil
}
