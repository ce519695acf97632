package handlers

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/relic-hub/relic/common/httputil"
	"github.com/relic-hub/relic/common/logging"
	"github.com/relic-hub/relic/common/models"
	"github.com/relic-hub/relic/ingress/internal/auth"
	"github.com/relic-hub/relic/ingress/internal/metrics"
	"github.com/relic-hub/relic/ingress/internal/ratelimit"
	"github.com/relic-hub/relic/ingress/internal/service"
)

// Client-facing messages.
const (
	msgUnauthorized = "Invalid Client ID or API Key"
	msgQueueFailure = "Failed to send data to queue"
	msgRateLimited  = "Rate limit exceeded"
	msgQueued       = "data queued"
)

// Enqueuer accepts a validated request for queueing.
type Enqueuer interface {
	Enqueue(ctx context.Context, req *service.SendRequest) (*models.DataPoint, error)
}

// UsageRecorder counts accepted data points per client.
type UsageRecorder interface {
	Record(clientID string, n int64, ip string)
}

// sendBody is the wire form of a /send request. The string fields must be
// present but may be empty; data_json must be an object.
type sendBody struct {
	Collector  *string                `json:"collector" validate:"required"`
	SourceType *string                `json:"source_type" validate:"required"`
	DataJSON   map[string]interface{} `json:"data_json" validate:"required"`
}

func (b *sendBody) request() service.SendRequest {
	return service.SendRequest{
		Collector:  *b.Collector,
		SourceType: *b.SourceType,
		DataJSON:   b.DataJSON,
	}
}

// SendHandler serves POST /send and GET /health.
type SendHandler struct {
	service      Enqueuer
	auth         auth.Authenticator
	limiter      ratelimit.RateLimiter
	usage        UsageRecorder
	maxBodyBytes int64
	logger       *logging.Logger
}

// NewSendHandler wires the handler. A nil limiter disables rate limiting.
func NewSendHandler(svc Enqueuer, authn auth.Authenticator, limiter ratelimit.RateLimiter, maxBodyBytes int64, logger *logging.Logger) *SendHandler {
	if limiter == nil {
		limiter = ratelimit.NoOpRateLimiter{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SendHandler{
		service:      svc,
		auth:         authn,
		limiter:      limiter,
		maxBodyBytes: maxBodyBytes,
		logger:       logger,
	}
}

// WithUsage makes the handler count every queued data point against its
// client.
func (h *SendHandler) WithUsage(u UsageRecorder) *SendHandler {
	h.usage = u
	return h
}

// Send authenticates, validates and enqueues one data point. Credentials are
// checked before the body is read.
func (h *SendHandler) Send(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		h.fail(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ctx := r.Context()

	clientID := r.Header.Get(auth.HeaderClientID)
	if !h.auth.Authenticate(clientID, r.Header.Get(auth.HeaderAPIKey)) {
		h.logger.WarnContext(ctx, "rejected unauthenticated request", logging.ClientID(clientID))
		h.fail(w, http.StatusUnauthorized, msgUnauthorized)
		return
	}

	var body sendBody
	if err := httputil.DecodeJSON(w, r, h.maxBodyBytes, &body); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, httputil.ErrBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		h.fail(w, status, err.Error())
		return
	}
	if err := validate.Struct(&body); err != nil {
		h.fail(w, http.StatusBadRequest, describeValidation(err))
		return
	}
	req := body.request()

	allowed, err := h.limiter.Allow(ctx, clientID)
	if err != nil {
		// Fail open. A Redis outage surfaces on the push below.
		h.logger.WarnContext(ctx, "rate limiter unavailable", logging.Error(err))
	} else if !allowed {
		h.fail(w, http.StatusTooManyRequests, msgRateLimited)
		return
	}

	dp, err := h.service.Enqueue(ctx, &req)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to enqueue data point",
			logging.ClientID(clientID), logging.Collector(req.Collector), logging.Error(err))
		h.fail(w, http.StatusInternalServerError, msgQueueFailure)
		return
	}

	h.logger.DebugContext(ctx, "data point queued",
		logging.DataPointID(dp.UUID), logging.Collector(dp.Collector), logging.SourceType(dp.SourceType))
	if h.usage != nil {
		h.usage.Record(clientID, 1, remoteHost(r))
	}
	metrics.RequestsTotal.WithLabelValues(strconv.Itoa(http.StatusOK)).Inc()
	httputil.WriteStatus(w, http.StatusOK, msgQueued)
}

// Health is a liveness probe; it never checks dependencies.
func (h *SendHandler) Health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteStatus(w, http.StatusOK, "ok")
}

func remoteHost(r *http.Request) string {
	addr := httputil.GetClientIP(r)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func (h *SendHandler) fail(w http.ResponseWriter, status int, msg string) {
	metrics.RequestsTotal.WithLabelValues(strconv.Itoa(status)).Inc()
	httputil.WriteError(w, status, msg)
}

