package worker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relic-hub/relic/common/dlq"
	"github.com/relic-hub/relic/common/logging"
	"github.com/relic-hub/relic/common/models"
	"github.com/relic-hub/relic/common/queue"
	"github.com/relic-hub/relic/pipeline/internal/transform"
)

// memStore records writes in the order they happen.
type memStore struct {
	mu        sync.Mutex
	ops       []string
	raw       map[string]*models.DataPoint
	processed map[string]*models.ProcessedRecord
	errs      []*models.ErrorRecord

	rawErr       error
	processedErr error
	errorErr     error
}

func newMemStore() *memStore {
	return &memStore{
		raw:       map[string]*models.DataPoint{},
		processed: map[string]*models.ProcessedRecord{},
	}
}

func (s *memStore) InsertDataPoint(_ context.Context, dp *models.DataPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, "datum")
	if s.rawErr != nil {
		return s.rawErr
	}
	if _, ok := s.raw[dp.UUID]; ok {
		return &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint \"datum_pkey\""}
	}
	s.raw[dp.UUID] = dp
	return nil
}

func (s *memStore) InsertProcessedRecord(_ context.Context, rec *models.ProcessedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, "engram")
	if s.processedErr != nil {
		return s.processedErr
	}
	s.processed[rec.UUID] = rec
	return nil
}

func (s *memStore) InsertError(_ context.Context, rec *models.ErrorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, "error")
	if s.errorErr != nil {
		return s.errorErr
	}
	s.errs = append(s.errs, rec)
	return nil
}

func (s *memStore) snapshot() (ops []string, raw, processed, errs int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ops...), len(s.raw), len(s.processed), len(s.errs)
}

func quiet() *logging.Logger { return logging.NewWithWriter(io.Discard, slog.LevelInfo, "json") }

func newWorker(t *testing.T, store Store, tr transform.Transformer) (*Worker, *queue.RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	q, err := queue.NewRedisQueue(context.Background(), queue.Options{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })

	w := New(q, store, tr, nil, Config{PollTimeout: time.Second, ErrorPause: 10 * time.Millisecond}, quiet())
	return w, q, mr
}

func message(t *testing.T, dp *models.DataPoint) string {
	t.Helper()
	msg, err := dp.Marshal()
	require.NoError(t, err)
	return msg
}

func TestProcess_Success(t *testing.T) {
	store := newMemStore()
	w, _, _ := newWorker(t, store, nil)
	dp := models.NewDataPoint("sensorA", "temp", map[string]interface{}{"c": 21.5})

	outcome := w.Process(context.Background(), message(t, dp))

	assert.Equal(t, OutcomeProcessed, outcome)
	ops, raw, processed, errs := store.snapshot()
	assert.Equal(t, []string{"datum", "engram"}, ops)
	assert.Equal(t, 1, raw)
	assert.Equal(t, 1, processed)
	assert.Equal(t, 0, errs)

	rec := store.processed[dp.UUID]
	require.NotNil(t, rec)
	assert.Equal(t, dp.UnixTS, rec.UnixTS)
	assert.Equal(t, dp.ISOTS, rec.ISOTS)
	assert.Equal(t, "sensorA", rec.Collector)
	assert.Equal(t, map[string]interface{}{transform.MarkerKey: transform.MarkerValue}, rec.DataJSON)

	// raw row keeps the original payload
	assert.Equal(t, json.Number("21.5"), store.raw[dp.UUID].DataJSON["c"])
	assert.Equal(t, uint64(1), w.Stats().Processed)
}

func TestProcess_Malformed(t *testing.T) {
	tests := []struct {
		name string
		msg  string
	}{
		{"invalid json", "{not json"},
		{"wrong shape", `["a","b"]`},
		{"missing uuid", `{"unix_ts":1,"iso_ts":"x","collector":"c","source_type":"s","data_json":{}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			w, _, _ := newWorker(t, store, nil)

			assert.Equal(t, OutcomeMalformed, w.Process(context.Background(), tt.msg))
			ops, _, _, _ := store.snapshot()
			assert.Empty(t, ops)
			assert.Equal(t, uint64(1), w.Stats().Malformed)
		})
	}
}

func TestProcess_TransformFailureKeepsRaw(t *testing.T) {
	store := newMemStore()
	tr := transform.Func(func(context.Context, *models.DataPoint) (map[string]interface{}, error) {
		return nil, errors.New("bad reading")
	})
	w, _, _ := newWorker(t, store, tr)
	dp := models.NewDataPoint("sensorA", "temp", nil)
	msg := message(t, dp)

	assert.Equal(t, OutcomeFailed, w.Process(context.Background(), msg))

	ops, raw, processed, errs := store.snapshot()
	assert.Equal(t, []string{"datum", "error"}, ops)
	assert.Equal(t, 1, raw)
	assert.Equal(t, 0, processed)
	require.Equal(t, 1, errs)
	assert.Equal(t, msg, store.errs[0].InputData)
	assert.Contains(t, store.errs[0].ErrorMessage, "transform data point: bad reading")
}

func TestProcess_TransformPanicRecovered(t *testing.T) {
	store := newMemStore()
	tr := transform.Func(func(context.Context, *models.DataPoint) (map[string]interface{}, error) {
		panic("boom")
	})
	w, _, _ := newWorker(t, store, tr)

	assert.Equal(t, OutcomeFailed, w.Process(context.Background(), message(t, models.NewDataPoint("c", "s", nil))))
	require.Len(t, store.errs, 1)
	assert.Contains(t, store.errs[0].ErrorMessage, "transform panicked: boom")
}

func TestProcess_DuplicateRecordsErrorWithStack(t *testing.T) {
	store := newMemStore()
	w, _, _ := newWorker(t, store, nil)
	msg := message(t, models.NewDataPoint("sensorA", "temp", nil))

	require.Equal(t, OutcomeProcessed, w.Process(context.Background(), msg))
	require.Equal(t, OutcomeFailed, w.Process(context.Background(), msg))

	ops, raw, processed, errs := store.snapshot()
	assert.Equal(t, []string{"datum", "engram", "datum", "error"}, ops)
	assert.Equal(t, 1, raw)
	assert.Equal(t, 1, processed)
	require.Equal(t, 1, errs)

	text := store.errs[0].ErrorMessage
	assert.Contains(t, text, "persist raw data point")
	assert.Contains(t, text, "23505")
	// %+v of a wrapped pkg/errors error includes frames
	assert.Contains(t, text, "worker.go")
}

func TestProcess_ProcessedInsertFailure(t *testing.T) {
	store := newMemStore()
	store.processedErr = errors.New("disk full")
	w, _, _ := newWorker(t, store, nil)

	assert.Equal(t, OutcomeFailed, w.Process(context.Background(), message(t, models.NewDataPoint("c", "s", nil))))
	ops, _, _, errs := store.snapshot()
	assert.Equal(t, []string{"datum", "engram", "error"}, ops)
	assert.Equal(t, 1, errs)
}

func TestProcess_ErrorInsertFailureSwallowed(t *testing.T) {
	store := newMemStore()
	store.rawErr = errors.New("connection refused")
	store.errorErr = errors.New("connection refused")
	w, _, _ := newWorker(t, store, nil)

	assert.NotPanics(t, func() {
		assert.Equal(t, OutcomeFailed, w.Process(context.Background(), message(t, models.NewDataPoint("c", "s", nil))))
	})
	ops, _, _, errs := store.snapshot()
	assert.Equal(t, []string{"datum", "error"}, ops)
	assert.Equal(t, 0, errs)
	assert.Equal(t, uint64(1), w.Stats().Failed)
}

func TestProcess_RejectedErrorRecordIsSpilled(t *testing.T) {
	store := newMemStore()
	store.rawErr = errors.New("connection refused")
	store.errorErr = errors.New("connection refused")
	w, _, _ := newWorker(t, store, nil)
	spill, err := dlq.NewQueue(t.TempDir())
	require.NoError(t, err)
	w.cfg.DeadLetter = spill

	msg := message(t, models.NewDataPoint("c", "s", nil))
	assert.Equal(t, OutcomeFailed, w.Process(context.Background(), msg))

	entries, err := spill.List(0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, msg, entries[0].Record.InputData)
	assert.Equal(t, "connection refused", entries[0].Cause)
	assert.Contains(t, entries[0].Record.ErrorMessage, "persist raw data point")
	assert.Equal(t, uint64(1), w.Stats().Spilled)
}

// ctxStore fails writes on a done context the way pgx does.
type ctxStore struct {
	*memStore
}

func (s ctxStore) InsertDataPoint(ctx context.Context, dp *models.DataPoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.memStore.InsertDataPoint(ctx, dp)
}

func (s ctxStore) InsertProcessedRecord(ctx context.Context, rec *models.ProcessedRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.memStore.InsertProcessedRecord(ctx, rec)
}

func (s ctxStore) InsertError(ctx context.Context, rec *models.ErrorRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.memStore.InsertError(ctx, rec)
}

func TestProcess_ShutdownDuringMessageStillCompletes(t *testing.T) {
	store := newMemStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr := transform.Func(func(ctx context.Context, dp *models.DataPoint) (map[string]interface{}, error) {
		cancel()
		return transform.MarkerTransformer{}.Transform(ctx, dp)
	})
	w, _, _ := newWorker(t, ctxStore{store}, tr)

	outcome := w.Process(ctx, message(t, models.NewDataPoint("c", "s", nil)))

	assert.Equal(t, OutcomeProcessed, outcome)
	ops, raw, processed, errs := store.snapshot()
	assert.Equal(t, []string{"datum", "engram"}, ops)
	assert.Equal(t, 1, raw)
	assert.Equal(t, 1, processed)
	assert.Equal(t, 0, errs)
}

func TestProcess_CancelledContextStillRecordsFailure(t *testing.T) {
	store := newMemStore()
	tr := transform.Func(func(context.Context, *models.DataPoint) (map[string]interface{}, error) {
		return nil, errors.New("bad reading")
	})
	w, _, _ := newWorker(t, ctxStore{store}, tr)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Equal(t, OutcomeFailed, w.Process(ctx, message(t, models.NewDataPoint("c", "s", nil))))

	ops, raw, _, errs := store.snapshot()
	assert.Equal(t, []string{"datum", "error"}, ops)
	assert.Equal(t, 1, raw)
	assert.Equal(t, 1, errs)
}

func TestRun_DrainsQueueInOrder(t *testing.T) {
	store := newMemStore()
	w, q, _ := newWorker(t, store, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ids []string
	for i := 0; i < 3; i++ {
		dp := models.NewDataPoint("sensorA", "temp", map[string]interface{}{"n": i})
		ids = append(ids, dp.UUID)
		require.NoError(t, q.Push(ctx, queue.InboxChannel, message(t, dp)))
	}
	require.NoError(t, q.Push(ctx, queue.InboxChannel, "garbage"))

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		s := w.Stats()
		return s.Processed == 3 && s.Malformed == 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}

	ops, raw, processed, _ := store.snapshot()
	assert.Equal(t, []string{"datum", "engram", "datum", "engram", "datum", "engram"}, ops)
	assert.Equal(t, 3, raw)
	assert.Equal(t, 3, processed)
	for _, id := range ids {
		assert.Contains(t, store.processed, id)
	}
}

func TestRun_PopErrorPausesAndContinues(t *testing.T) {
	store := newMemStore()
	w, q, mr := newWorker(t, store, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mr.SetError("ERR server unavailable")
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return w.Stats().PopErrors > 0 }, 5*time.Second, 10*time.Millisecond)
	mr.SetError("")

	require.NoError(t, q.Push(ctx, queue.InboxChannel, message(t, models.NewDataPoint("c", "s", nil))))
	require.Eventually(t, func() bool { return w.Stats().Processed == 1 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestStats_JSON(t *testing.T) {
	w, _, _ := newWorker(t, newMemStore(), nil)
	w.Process(context.Background(), "nope")

	data, err := json.Marshal(w.Stats())
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `"malformed":1`), fmt.Sprintf("got %s", data))
}

func TestProcess_LogsFullDataPointID(t *testing.T) {
	store := newMemStore()
	store.processedErr = errors.New("disk full")
	w, _, _ := newWorker(t, store, nil)
	var buf bytes.Buffer
	w.logger = logging.NewWithWriter(&buf, slog.LevelDebug, "json")
	dp := models.NewDataPoint("c", "s", nil)

	require.Equal(t, OutcomeFailed, w.Process(context.Background(), message(t, dp)))

	var ids []string
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		var line map[string]interface{}
		require.NoError(t, json.Unmarshal(sc.Bytes(), &line))
		if id, ok := line[logging.FieldDataPointID].(string); ok {
			ids = append(ids, id)
		}
	}
	require.Len(t, ids, 2, "debug and failure lines")
	for _, id := range ids {
		assert.Equal(t, dp.UUID, id)
	}
}
