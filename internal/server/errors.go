package server

import (
	"errors"

	"github.com/kstaniek/go-webterm/internal/metrics"
)

// Sentinel errors used for wrapping so callers can classify via errors.Is.
var (
	ErrListen    = errors.New("listen")
	ErrUpgrade   = errors.New("ws_upgrade")
	ErrConnRead  = errors.New("conn_read")
	ErrConnWrite = errors.New("conn_write")
	ErrSerialTx  = errors.New("serial_tx")
	ErrRequest   = errors.New("request")
	ErrContext   = errors.New("context_cancelled")
)

// mapErrToMetric maps wrapped sentinel errors to metrics labels.
func mapErrToMetric(err error) string {
	switch {
	case errors.Is(err, ErrConnRead):
		return metrics.ErrWSRead
	case errors.Is(err, ErrConnWrite):
		return metrics.ErrWSWrite
	case errors.Is(err, ErrUpgrade):
		return metrics.ErrWSUpgrade
	case errors.Is(err, ErrSerialTx):
		return metrics.ErrSerialWrite
	case errors.Is(err, ErrListen):
		return metrics.ErrHTTPListen
	case errors.Is(err, ErrRequest):
		return metrics.ErrHTTPRequest
	case errors.Is(err, ErrContext):
		return "context"
	default:
		return "other"
	}
}
