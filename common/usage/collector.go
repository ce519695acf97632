package usage

import (
	"context"
	"sync"
	"time"

	"github.com/relic-hub/relic/common/logging"
)

// Collector accumulates usage in memory and flushes it to the Store on an
// interval. Safe for concurrent use.
type Collector struct {
	store         *Store
	flushInterval time.Duration
	logger        *logging.Logger

	mu      sync.Mutex
	batches map[string]*Batch

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCollector starts the background flush loop. Call Stop to flush what is
// left and end the loop.
func NewCollector(store *Store, flushInterval time.Duration, logger *logging.Logger) *Collector {
	if logger == nil {
		logger = logging.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Collector{
		store:         store,
		flushInterval: flushInterval,
		logger:        logger,
		batches:       make(map[string]*Batch),
		cancel:        cancel,
	}

	c.wg.Add(1)
	go c.flushLoop(ctx)
	return c
}

// Record counts n accepted data points for clientID.
func (c *Collector) Record(clientID string, n int64, ip string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.batches[clientID]
	if !ok {
		b = NewBatch(clientID)
		c.batches[clientID] = b
	}
	b.Add(n, ip)
}

func (c *Collector) flushLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.Flush()
			return
		case <-ticker.C:
			c.Flush()
		}
	}
}

// Flush writes every pending batch. Batches that fail are merged back and
// retried on the next flush.
func (c *Collector) Flush() {
	c.mu.Lock()
	batches := c.batches
	c.batches = make(map[string]*Batch)
	c.mu.Unlock()

	if len(batches) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var flushed int
	for _, b := range batches {
		if err := c.store.Flush(ctx, b); err != nil {
			c.logger.Warn("failed to flush usage", logging.ClientID(b.ClientID), "accepted", b.Accepted, logging.Error(err))
			c.requeue(b)
			continue
		}
		flushed++
	}
	if flushed > 0 {
		c.logger.Debug("flushed usage", "clients", flushed)
	}
}

func (c *Collector) requeue(b *Batch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.batches[b.ClientID]; ok {
		existing.merge(b)
		return
	}
	c.batches[b.ClientID] = b
}

// Pending reports unflushed counts per client.
func (c *Collector) Pending() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]int64, len(c.batches))
	for id, b := range c.batches {
		out[id] = b.Accepted
	}
	return out
}

// Stop ends the flush loop after a final flush.
func (c *Collector) Stop() {
	c.cancel()
	c.wg.Wait()
}
