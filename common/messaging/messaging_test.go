package messaging

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relic-hub/relic/common/models"
)

func TestNoopPublisher(t *testing.T) {
	var p Publisher = NoopPublisher{}

	assert.NoError(t, p.Publish(context.Background(), SubjectRecordsProcessed, []byte("{}")))
	assert.NoError(t, p.PublishMsg(context.Background(), &Message{Subject: SubjectRecordsFailed}))
	assert.NoError(t, p.Close())
}

func TestProcessedEvent(t *testing.T) {
	dp := models.NewDataPoint("sensorA", "temp", nil)
	ev := ProcessedEvent(dp.Derive(nil))

	assert.Equal(t, dp.UUID, ev.UUID)
	assert.Equal(t, "sensorA", ev.Collector)
	assert.Equal(t, "temp", ev.SourceType)
	assert.Equal(t, OutcomeProcessed, ev.Outcome)
	assert.Empty(t, ev.Error)
	assert.Equal(t, SubjectRecordsProcessed, SubjectFor(ev.Outcome))
}

func TestFailedEvent(t *testing.T) {
	dp := models.NewDataPoint("sensorA", "temp", nil)
	rec := models.NewErrorRecord("{}", errors.New("boom"))

	ev := FailedEvent(dp, rec, errors.New("boom"))
	assert.Equal(t, dp.UUID, ev.UUID)
	assert.Equal(t, rec.ID, ev.ErrorID)
	assert.Equal(t, "boom", ev.Error)
	assert.Equal(t, SubjectRecordsFailed, SubjectFor(ev.Outcome))

	ev = FailedEvent(nil, nil, nil)
	assert.Empty(t, ev.UUID)
	assert.Equal(t, OutcomeFailed, ev.Outcome)
}
