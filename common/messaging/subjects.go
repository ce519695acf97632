package messaging

import (
	"time"

	"github.com/relic-hub/relic/common/models"
)

// Subjects follow {product}.{resource}.{event}.
const (
	SubjectRecordsProcessed = "relic.records.processed"
	SubjectRecordsFailed    = "relic.records.failed"

	// SubjectRecordsAll matches every record notification.
	SubjectRecordsAll = "relic.records.>"
)

// Outcome values carried by RecordEvent.
const (
	OutcomeProcessed = "processed"
	OutcomeFailed    = "failed"
)

// RecordEvent announces the final state of one dequeued data point.
type RecordEvent struct {
	UUID       string    `json:"uuid,omitempty"`
	Collector  string    `json:"collector,omitempty"`
	SourceType string    `json:"source_type,omitempty"`
	Outcome    string    `json:"outcome"`
	ErrorID    string    `json:"error_id,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// ProcessedEvent builds the notification for a stored processed record.
func ProcessedEvent(rec *models.ProcessedRecord) RecordEvent {
	return RecordEvent{
		UUID:       rec.UUID,
		Collector:  rec.Collector,
		SourceType: rec.SourceType,
		Outcome:    OutcomeProcessed,
		Timestamp:  time.Now().UTC(),
	}
}

// FailedEvent builds the notification for a failure. dp may be nil.
func FailedEvent(dp *models.DataPoint, rec *models.ErrorRecord, err error) RecordEvent {
	ev := RecordEvent{Outcome: OutcomeFailed, Timestamp: time.Now().UTC()}
	if dp != nil {
		ev.UUID = dp.UUID
		ev.Collector = dp.Collector
		ev.SourceType = dp.SourceType
	}
	if rec != nil {
		ev.ErrorID = rec.ID
	}
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}

// SubjectFor maps an outcome to its subject.
func SubjectFor(outcome string) string {
	if outcome == OutcomeProcessed {
		return SubjectRecordsProcessed
	}
	return SubjectRecordsFailed
}
