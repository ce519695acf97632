package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relic-hub/relic/common/httputil"
	"github.com/relic-hub/relic/pipeline/internal/worker"
)

// StatsSource reports worker counters for the health endpoint.
type StatsSource interface {
	Stats() worker.Stats
}

type healthResponse struct {
	Status string `json:"status"`
	worker.Stats
}

// NewRouter wires the pipeline's side listener: metrics plus a health probe
// that includes worker counters.
func NewRouter(stats StatsSource) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, healthResponse{Status: "ok", Stats: stats.Stats()})
	})
	return mux
}
