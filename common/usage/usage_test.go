package usage

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relic-hub/relic/common/logging"
)

func newStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s := NewStore(client, "gw-1")
	s.now = func() time.Time { return time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC) }
	return s, mr
}

func TestStore_FlushAndGet(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()

	b := NewBatch("sensor-a")
	b.Add(3, "10.0.0.1")
	b.Add(2, "10.0.0.2")
	require.NoError(t, s.Flush(ctx, b))

	stats, err := s.Get(ctx, "sensor-a")
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats.TotalAccepted)
	assert.Equal(t, int64(5), stats.AcceptedLastHour)
	assert.Equal(t, int64(5), stats.AcceptedLast24h)
	assert.Equal(t, int64(2), stats.UniqueIPsToday)
	assert.Equal(t, "10.0.0.2", stats.LastSeenIP)
	require.NotNil(t, stats.LastSeenAt)
	assert.Equal(t, s.now().Unix(), stats.LastSeenAt.Unix())
	assert.Contains(t, stats.Instances, "gw-1")

	assert.True(t, mr.Exists("relic:usage:hourly:sensor-a:2024050112"))
	assert.True(t, mr.TTL("relic:usage:hourly:sensor-a:2024050112") > 0)
}

func TestStore_HourlyWindow(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	base := s.now()

	// two hours ago, then now
	s.now = func() time.Time { return base.Add(-2 * time.Hour) }
	b := NewBatch("c")
	b.Add(4, "")
	require.NoError(t, s.Flush(ctx, b))

	s.now = func() time.Time { return base }
	b = NewBatch("c")
	b.Add(1, "")
	require.NoError(t, s.Flush(ctx, b))

	stats, err := s.Get(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.AcceptedLastHour)
	assert.Equal(t, int64(5), stats.AcceptedLast24h)
	assert.Equal(t, int64(5), stats.TotalAccepted)
	assert.Empty(t, stats.LastSeenIP)
}

func TestStore_GetUnknownClient(t *testing.T) {
	s, _ := newStore(t)

	stats, err := s.Get(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Zero(t, stats.TotalAccepted)
	assert.Nil(t, stats.LastSeenAt)
}

func TestStore_EmptyBatchIsNoop(t *testing.T) {
	s, mr := newStore(t)

	require.NoError(t, s.Flush(context.Background(), NewBatch("c")))
	assert.Empty(t, mr.Keys())
}

func TestStore_ListActive(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	base := s.now()

	for _, id := range []string{"fresh", "stale"} {
		if id == "stale" {
			s.now = func() time.Time { return base.Add(-3 * time.Hour) }
		}
		b := NewBatch(id)
		b.Add(1, "10.0.0.1")
		require.NoError(t, s.Flush(ctx, b))
	}
	s.now = func() time.Time { return base }

	ids, err := s.ListActive(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh"}, ids)
}

func TestCollector_RecordAndStop(t *testing.T) {
	s, _ := newStore(t)
	c := NewCollector(s, time.Hour, logging.NewWithWriter(io.Discard, slog.LevelInfo, "json"))

	c.Record("sensor-a", 1, "10.0.0.1")
	c.Record("sensor-a", 1, "10.0.0.1")
	c.Record("sensor-b", 1, "10.0.0.9")
	assert.Equal(t, map[string]int64{"sensor-a": 2, "sensor-b": 1}, c.Pending())

	c.Stop()
	assert.Empty(t, c.Pending())

	stats, err := s.Get(context.Background(), "sensor-a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalAccepted)
	assert.Equal(t, int64(1), stats.UniqueIPsToday)
}

func TestCollector_FailedFlushIsRetained(t *testing.T) {
	s, mr := newStore(t)
	c := NewCollector(s, time.Hour, logging.NewWithWriter(io.Discard, slog.LevelInfo, "json"))
	defer c.Stop()

	c.Record("sensor-a", 2, "10.0.0.1")
	mr.SetError("ERR unavailable")
	c.Flush()
	c.Record("sensor-a", 1, "10.0.0.2")
	assert.Equal(t, map[string]int64{"sensor-a": 3}, c.Pending())

	mr.SetError("")
	c.Flush()
	assert.Empty(t, c.Pending())

	stats, err := s.Get(context.Background(), "sensor-a")
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalAccepted)
	assert.Equal(t, int64(2), stats.UniqueIPsToday)
}
