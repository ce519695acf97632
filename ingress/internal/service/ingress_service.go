package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/relic-hub/relic/common/models"
	"github.com/relic-hub/relic/ingress/internal/metrics"
)

// SendRequest is the body accepted by POST /send.
type SendRequest struct {
	Collector  string                 `json:"collector"`
	SourceType string                 `json:"source_type"`
	DataJSON   map[string]interface{} `json:"data_json"`
}

// Stats is a snapshot of gateway activity.
type Stats struct {
	Enqueued      int64     `json:"enqueued"`
	EnqueueErrors int64     `json:"enqueue_errors"`
	LastEnqueued  time.Time `json:"last_enqueued,omitempty"`
}

// IngressService turns accepted requests into queued DataPoints.
type IngressService struct {
	handle  *QueueHandle
	channel string

	enqueued     atomic.Int64
	errors       atomic.Int64
	lastEnqueued atomic.Int64
}

func NewIngressService(handle *QueueHandle, channel string) *IngressService {
	return &IngressService{handle: handle, channel: channel}
}

// Enqueue builds a DataPoint from req and pushes it. The returned DataPoint
// is only valid when err is nil. A failed push resets the queue handle so
// the next request reconnects.
func (s *IngressService) Enqueue(ctx context.Context, req *SendRequest) (*models.DataPoint, error) {
	dp := models.NewDataPoint(req.Collector, req.SourceType, req.DataJSON)
	msg, err := dp.Marshal()
	if err != nil {
		return nil, err
	}

	q, err := s.handle.Get(ctx)
	if err != nil {
		s.fail()
		return nil, err
	}
	if err := q.Push(ctx, s.channel, msg); err != nil {
		s.fail()
		s.handle.Reset(q)
		return nil, fmt.Errorf("enqueue data point %s: %w", dp.UUID, err)
	}

	s.enqueued.Add(1)
	s.lastEnqueued.Store(time.Now().UnixNano())
	metrics.EnqueuedTotal.Inc()
	metrics.PayloadBytes.Add(float64(len(msg)))
	return dp, nil
}

func (s *IngressService) fail() {
	s.errors.Add(1)
	metrics.EnqueueErrors.Inc()
}

func (s *IngressService) Stats() Stats {
	st := Stats{
		Enqueued:      s.enqueued.Load(),
		EnqueueErrors: s.errors.Load(),
	}
	if ts := s.lastEnqueued.Load(); ts != 0 {
		st.LastEnqueued = time.Unix(0, ts).UTC()
	}
	return st
}
