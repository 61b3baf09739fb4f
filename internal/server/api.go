package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/kstaniek/go-webterm/internal/metrics"
)

// scratchSize bounds request bodies on the control API.
const scratchSize = 10240

type powerBody struct {
	Power string `json:"power"`
}

// handlePowerCtrl accepts {"power":"on"|"off"} and answers with a plain-text
// acknowledgment. Unknown states are acknowledged as invalid without a pulse.
func (s *Server) handlePowerCtrl(w http.ResponseWriter, r *http.Request) {
	if s.power == nil {
		http.Error(w, "power control unavailable", http.StatusServiceUnavailable)
		return
	}
	if r.ContentLength >= scratchSize {
		s.requestError(r, "content too long", nil)
		http.Error(w, "content too long", http.StatusInternalServerError)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, scratchSize))
	if err != nil {
		s.requestError(r, "body read failed", err)
		http.Error(w, "Failed to post control value", http.StatusInternalServerError)
		return
	}
	if len(body) >= scratchSize {
		s.requestError(r, "content too long", nil)
		http.Error(w, "content too long", http.StatusInternalServerError)
		return
	}
	var req powerBody
	if err := json.Unmarshal(body, &req); err != nil || req.Power == "" {
		http.Error(w, "invalid power request", http.StatusBadRequest)
		return
	}
	msg, _ := s.power.Request(req.Power)
	w.Header().Set("Content-Type", "text/plain")
	_, _ = io.WriteString(w, msg)
}

func (s *Server) handlePowerState(w http.ResponseWriter, r *http.Request) {
	if s.power == nil {
		http.Error(w, "power control unavailable", http.StatusServiceUnavailable)
		return
	}
	st, err := s.power.State()
	if err != nil {
		s.requestError(r, "power state read failed", err)
		http.Error(w, "Failed to read power state", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(powerBody{Power: st.String()})
}

func (s *Server) requestError(r *http.Request, msg string, err error) {
	wrap := fmt.Errorf("%w: %s %s: %s", ErrRequest, r.Method, r.URL.Path, msg)
	metrics.IncError(mapErrToMetric(wrap))
	s.logger.Warn("http_request_error", "path", r.URL.Path, "msg", msg, "error", err)
}
