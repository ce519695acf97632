// Package notify announces pipeline outcomes on the message bus.
package notify

import (
	"context"
	"encoding/json"

	"github.com/relic-hub/relic/common/logging"
	"github.com/relic-hub/relic/common/messaging"
	"github.com/relic-hub/relic/common/models"
	"github.com/relic-hub/relic/pipeline/internal/metrics"
)

// Notifier publishes record events. Publishing is best effort: failures are
// logged and counted, never returned.
type Notifier struct {
	pub    messaging.Publisher
	logger *logging.Logger
}

// New returns a Notifier. A nil publisher disables notifications.
func New(pub messaging.Publisher, logger *logging.Logger) *Notifier {
	if pub == nil {
		pub = messaging.NoopPublisher{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Notifier{pub: pub, logger: logger}
}

func (n *Notifier) Processed(ctx context.Context, rec *models.ProcessedRecord) {
	n.publish(ctx, messaging.ProcessedEvent(rec))
}

func (n *Notifier) Failed(ctx context.Context, dp *models.DataPoint, rec *models.ErrorRecord, err error) {
	n.publish(ctx, messaging.FailedEvent(dp, rec, err))
}

func (n *Notifier) publish(ctx context.Context, ev messaging.RecordEvent) {
	data, err := json.Marshal(ev)
	if err == nil {
		err = n.pub.Publish(ctx, messaging.SubjectFor(ev.Outcome), data)
	}
	if err != nil {
		metrics.NotifyErrors.Inc()
		n.logger.Warn("failed to publish record event", logging.DataPointID(ev.UUID), logging.Error(err))
	}
}

// Close releases the publisher.
func (n *Notifier) Close() error {
	return n.pub.Close()
}
