// Package mock produces synthetic data points and feeds them straight onto
// the queue, bypassing the gateway.
package mock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/relic-hub/relic/common/logging"
	"github.com/relic-hub/relic/common/models"
)

const (
	Collector  = "mock_collector"
	SourceType = "test_source"
)

// Generator builds synthetic data points.
type Generator struct {
	faker *gofakeit.Faker
}

// NewGenerator returns a Generator. A seed of 0 picks a random seed.
func NewGenerator(seed int64) *Generator {
	return &Generator{faker: gofakeit.New(seed)}
}

// Next returns a data point whose payload carries a random sha256 hex string
// and a random integer in [1, 100].
func (g *Generator) Next() *models.DataPoint {
	sum := sha256.Sum256([]byte(g.faker.LetterN(32)))
	return models.NewDataPoint(Collector, SourceType, map[string]interface{}{
		"random_string": hex.EncodeToString(sum[:]),
		"random_number": g.faker.Number(1, 100),
	})
}

// Sink is the part of the queue the sender uses.
type Sink interface {
	Push(ctx context.Context, channel, message string) error
	Clear(ctx context.Context, channel string) error
}

// Sender clears the channel once and then pushes one data point per
// interval.
type Sender struct {
	Generator *Generator
	Sink      Sink
	Channel   string
	Interval  time.Duration
	// Count stops the sender after this many pushes. Zero runs until ctx is
	// cancelled.
	Count  int
	Logger *logging.Logger
}

// Run sends until Count is reached or ctx is cancelled, and returns how many
// data points were pushed.
func (s *Sender) Run(ctx context.Context) (int, error) {
	logger := s.Logger
	if logger == nil {
		logger = logging.Default()
	}
	if s.Interval <= 0 {
		return 0, fmt.Errorf("interval must be positive, got %s", s.Interval)
	}

	if err := s.Sink.Clear(ctx, s.Channel); err != nil {
		return 0, fmt.Errorf("clear %s: %w", s.Channel, err)
	}
	logger.Info("sending mock data", logging.Channel(s.Channel), "interval", s.Interval.String())

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	sent := 0
	for {
		dp := s.Generator.Next()
		msg, err := dp.Marshal()
		if err != nil {
			return sent, err
		}
		if err := s.Sink.Push(ctx, s.Channel, msg); err != nil {
			return sent, err
		}
		sent++
		logger.Debug("pushed mock data point", logging.DataPointID(dp.UUID))

		if s.Count > 0 && sent >= s.Count {
			return sent, nil
		}

		select {
		case <-ctx.Done():
			return sent, nil
		case <-ticker.C:
		}
	}
}
