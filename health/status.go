// Package health reports the operational state of the data-access layer:
// breaker condition, rolling metrics, and a three-state verdict suitable
// for readiness probes and status pages.
package health

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/OwlAIhub/OwlAI-sub003/metric"
	"github.com/OwlAIhub/OwlAI-sub003/pkg/breaker"
)

// Status is the health verdict for the layer.
type Status struct {
	Healthy   bool             `json:"healthy"`
	Status    string           `json:"status"` // "healthy", "degraded", "unhealthy"
	Message   string           `json:"message"`
	Timestamp time.Time        `json:"timestamp"`
	Breaker   breaker.Snapshot `json:"breaker"`
	Metrics   metric.Snapshot  `json:"metrics"`
}

// IsHealthy returns true if the status is healthy.
func (s Status) IsHealthy() bool {
	return s.Status == "healthy"
}

// IsDegraded returns true if the status is degraded.
func (s Status) IsDegraded() bool {
	return s.Status == "degraded"
}

// FromSnapshots derives the verdict from the store breaker and the
// rolling metrics. A closed breaker is healthy, half-open is degraded
// while the trial request is in flight, open is unhealthy with reads
// served from cache and fallbacks.
func FromSnapshots(bs breaker.Snapshot, ms metric.Snapshot) Status {
	status := Status{
		Timestamp: time.Now().UTC(),
		Breaker:   bs,
		Metrics:   ms,
	}

	switch bs.State {
	case "open":
		status.Status = "unhealthy"
		status.Message = "backend circuit open, serving cached data and fallbacks"
	case "half_open":
		status.Status = "degraded"
		status.Message = "backend circuit half-open, probing recovery"
	default:
		status.Healthy = true
		status.Status = "healthy"
		status.Message = "backend reachable"
	}
	return status
}

// Handler serves the status as JSON. Healthy and degraded respond 200 so
// probes keep routing traffic while the layer degrades gracefully; only
// a fully open circuit responds 503.
func Handler(current func() Status) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := current()

		code := http.StatusOK
		if !status.Healthy && !status.IsDegraded() {
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	})
}
