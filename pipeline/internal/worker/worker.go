// Package worker implements the single-consumer loop that drains the queue
// into the store.
package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/relic-hub/relic/common/dlq"
	"github.com/relic-hub/relic/common/logging"
	"github.com/relic-hub/relic/common/models"
	"github.com/relic-hub/relic/common/queue"
	"github.com/relic-hub/relic/pipeline/internal/metrics"
	"github.com/relic-hub/relic/pipeline/internal/notify"
	"github.com/relic-hub/relic/pipeline/internal/transform"
)

// Store is the persistence the worker writes to.
type Store interface {
	InsertDataPoint(ctx context.Context, dp *models.DataPoint) error
	InsertProcessedRecord(ctx context.Context, rec *models.ProcessedRecord) error
	InsertError(ctx context.Context, rec *models.ErrorRecord) error
}

// Outcome is the final state of one dequeued message.
type Outcome string

const (
	// OutcomeProcessed: raw row and processed row written.
	OutcomeProcessed Outcome = "processed"
	// OutcomeFailed: raw row (if the raw insert succeeded) and an error row.
	OutcomeFailed Outcome = "failed"
	// OutcomeMalformed: nothing written.
	OutcomeMalformed Outcome = "malformed"
)

// Config tunes the loop.
type Config struct {
	Channel string
	// PollTimeout bounds each blocking pop. Zero waits forever.
	PollTimeout time.Duration
	// ErrorPause is the wait after a failed pop before trying again.
	ErrorPause time.Duration
	// DeadLetter receives error records the store rejects. Nil drops them.
	DeadLetter *dlq.Queue
}

// Worker pops messages one at a time and runs each through
// persist-raw, transform, persist-processed.
type Worker struct {
	queue       queue.Queue
	store       Store
	transformer transform.Transformer
	notifier    *notify.Notifier
	logger      *logging.Logger
	cfg         Config

	startedAt time.Time
	processed atomic.Uint64
	failed    atomic.Uint64
	malformed atomic.Uint64
	popErrors atomic.Uint64
	spilled   atomic.Uint64
}

// New builds a Worker. A nil transformer uses MarkerTransformer and a nil
// notifier disables notifications.
func New(q queue.Queue, s Store, tr transform.Transformer, n *notify.Notifier, cfg Config, logger *logging.Logger) *Worker {
	if tr == nil {
		tr = transform.MarkerTransformer{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	if n == nil {
		n = notify.New(nil, logger)
	}
	if cfg.Channel == "" {
		cfg.Channel = queue.InboxChannel
	}
	if cfg.ErrorPause <= 0 {
		cfg.ErrorPause = time.Second
	}
	return &Worker{
		queue:       q,
		store:       s,
		transformer: tr,
		notifier:    n,
		logger:      logger,
		cfg:         cfg,
		startedAt:   time.Now().UTC(),
	}
}

// Run consumes until ctx is cancelled. Pop failures are logged and retried
// after ErrorPause; they never end the loop.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("listening on queue", logging.Channel(w.cfg.Channel))

	for {
		if ctx.Err() != nil {
			return nil
		}

		msg, ok, err := w.queue.BlockingPop(ctx, w.cfg.Channel, w.cfg.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.popErrors.Add(1)
			metrics.PopErrors.Inc()
			w.logger.Error("failed to pop from queue", logging.Channel(w.cfg.Channel), logging.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(w.cfg.ErrorPause):
			}
			continue
		}
		if !ok {
			continue
		}

		w.Process(ctx, msg)
	}
}

// Process handles one dequeued message and reports how it ended. A popped
// message is always carried through to its processed or error row, so ctx
// cancellation is not propagated into the store writes; shutdown is only
// observed between messages. Per-statement timeouts still bound each write.
func (w *Worker) Process(ctx context.Context, msg string) Outcome {
	ctx = context.WithoutCancel(ctx)
	start := time.Now()
	defer func() { metrics.ProcessingDuration.Observe(time.Since(start).Seconds()) }()

	dp, err := decode(msg)
	if err != nil {
		w.malformed.Add(1)
		metrics.MessagesTotal.WithLabelValues(string(OutcomeMalformed)).Inc()
		w.logger.Warn("dropping malformed message", logging.Error(err))
		return OutcomeMalformed
	}

	w.logger.Debug("processing data point", logging.DataPointID(dp.UUID), logging.Collector(dp.Collector))

	rec, err := w.handle(ctx, dp)
	if err != nil {
		w.fail(ctx, msg, dp, err)
		return OutcomeFailed
	}

	w.processed.Add(1)
	metrics.MessagesTotal.WithLabelValues(string(OutcomeProcessed)).Inc()
	w.notifier.Processed(ctx, rec)
	return OutcomeProcessed
}

func decode(msg string) (*models.DataPoint, error) {
	dp, err := models.UnmarshalDataPoint(msg)
	if err != nil {
		return nil, err
	}
	if dp.UUID == "" {
		return nil, fmt.Errorf("data point has no uuid")
	}
	return dp, nil
}

// handle writes the raw row before anything else so it survives a failed
// transformation.
func (w *Worker) handle(ctx context.Context, dp *models.DataPoint) (*models.ProcessedRecord, error) {
	if err := w.store.InsertDataPoint(ctx, dp); err != nil {
		return nil, errors.Wrap(err, "persist raw data point")
	}

	payload, err := w.transform(ctx, dp)
	if err != nil {
		return nil, err
	}

	rec := dp.Derive(payload)
	if err := w.store.InsertProcessedRecord(ctx, rec); err != nil {
		return nil, errors.Wrap(err, "persist processed record")
	}
	return rec, nil
}

func (w *Worker) transform(ctx context.Context, dp *models.DataPoint) (payload map[string]interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("transform panicked: %v", r)
		}
	}()

	payload, err = w.transformer.Transform(ctx, dp)
	if err != nil {
		return nil, errors.Wrap(err, "transform data point")
	}
	return payload, nil
}

// fail records err in the error table. If that fails too the record goes to
// the dead-letter directory, and failing that it is only logged.
func (w *Worker) fail(ctx context.Context, msg string, dp *models.DataPoint, err error) {
	w.failed.Add(1)
	metrics.MessagesTotal.WithLabelValues(string(OutcomeFailed)).Inc()
	w.logger.Error("failed to process data point", logging.DataPointID(dp.UUID), logging.Error(err))

	rec := models.NewErrorRecord(msg, err)
	if insertErr := w.store.InsertError(ctx, rec); insertErr != nil {
		metrics.ErrorRecordFailures.Inc()
		w.logger.Error("failed to store error record",
			logging.DataPointID(dp.UUID), logging.Error(insertErr))
		w.spill(rec, insertErr)
	}
	w.notifier.Failed(ctx, dp, rec, err)
}

func (w *Worker) spill(rec *models.ErrorRecord, cause error) {
	if w.cfg.DeadLetter == nil {
		return
	}
	if err := w.cfg.DeadLetter.Write(rec, cause); err != nil {
		w.logger.Error("failed to spill error record", "error_id", rec.ID, logging.Error(err))
		return
	}
	w.spilled.Add(1)
	w.logger.Warn("error record spilled to dead-letter directory", "error_id", rec.ID, "dir", w.cfg.DeadLetter.Dir())
}

// Stats is a snapshot of worker activity.
type Stats struct {
	UptimeSeconds int64  `json:"uptime_seconds"`
	Processed     uint64 `json:"processed"`
	Failed        uint64 `json:"failed"`
	Malformed     uint64 `json:"malformed"`
	PopErrors     uint64 `json:"pop_errors"`
	Spilled       uint64 `json:"spilled"`
}

func (w *Worker) Stats() Stats {
	return Stats{
		UptimeSeconds: int64(time.Since(w.startedAt).Seconds()),
		Processed:     w.processed.Load(),
		Failed:        w.failed.Load(),
		Malformed:     w.malformed.Load(),
		PopErrors:     w.popErrors.Load(),
		Spilled:       w.spilled.Load(),
	}
}
