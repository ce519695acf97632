package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relic-hub/relic/common/logging"
	"github.com/relic-hub/relic/common/middleware"
	"github.com/relic-hub/relic/ingress/internal/handlers"
)

// NewRouter registers the gateway routes behind request-id, access-log and
// CORS middleware.
func NewRouter(h *handlers.SendHandler, cors middleware.CORSConfig, logger *logging.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/send", h.Send)
	mux.HandleFunc("GET /health", h.Health)
	mux.Handle("GET /metrics", promhttp.Handler())

	var handler http.Handler = mux
	handler = middleware.CORS(cors)(handler)
	handler = middleware.AccessLog(logger.Logger)(handler)
	return middleware.RequestID(handler)
}
