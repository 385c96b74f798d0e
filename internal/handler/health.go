package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/webitel/wlog"

	"github.com/webitel/media_jobs/infra/http_srv"
	"github.com/webitel/media_jobs/internal/model"
)

const healthTimeout = 3 * time.Second

type HealthChecker interface {
	Health(ctx context.Context) error
	Degraded() (bool, string)
}

type healthResponse struct {
	Status  string          `json:"status"`
	Service string          `json:"service"`
	Uptime  float64         `json:"uptime_seconds"`
	Checks  map[string]bool `json:"checks"`
	Error   string          `json:"error,omitempty"`
}

type Health struct {
	hc      HealthChecker
	started time.Time
	log     *wlog.Logger
}

func NewHealth(hc HealthChecker, s *http_srv.Server, l *wlog.Logger) *Health {
	h := &Health{
		hc:      hc,
		started: time.Now(),
		log:     l.With(wlog.String("handler", "health")),
	}

	s.Get("/health", h.Check)

	return h
}

func (h *Health) Check(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	res := healthResponse{
		Status:  "healthy",
		Service: model.ServiceName,
		Uptime:  time.Since(h.started).Seconds(),
		Checks:  map[string]bool{"api": true, "store": true, "workers": true},
	}

	code := http.StatusOK

	if err := h.hc.Health(ctx); err != nil {
		res.Status = "unhealthy"
		res.Checks["store"] = false
		res.Error = err.Error()
		code = http.StatusServiceUnavailable
	} else if degraded, reason := h.hc.Degraded(); degraded {
		res.Status = "degraded"
		res.Checks["workers"] = false
		res.Error = reason
	}

	respondJSON(w, code, res)
}
