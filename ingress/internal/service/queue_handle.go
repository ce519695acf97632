package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/relic-hub/relic/common/queue"
)

// ErrHandleReleased is returned by Get after Release.
var ErrHandleReleased = errors.New("queue handle released")

// Connector opens a queue connection.
type Connector func(ctx context.Context) (queue.Queue, error)

// QueueHandle owns the gateway's queue connection. Open establishes it at
// startup, Release tears it down at shutdown, and Get re-establishes it if
// it was dropped in between.
type QueueHandle struct {
	connect Connector

	mu       sync.Mutex
	q        queue.Queue
	released bool
}

func NewQueueHandle(connect Connector) *QueueHandle {
	return &QueueHandle{connect: connect}
}

// Open connects eagerly. A failure here should stop the process.
func (h *QueueHandle) Open(ctx context.Context) error {
	_, err := h.Get(ctx)
	return err
}

// Get returns the live queue, connecting if necessary.
func (h *QueueHandle) Get(ctx context.Context) (queue.Queue, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return nil, ErrHandleReleased
	}
	if h.q != nil {
		return h.q, nil
	}
	q, err := h.connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect queue: %w", err)
	}
	h.q = q
	return q, nil
}

// Reset drops failed so the next Get reconnects. It is a no-op when failed
// is no longer the current connection, so a late failure on a replaced
// connection cannot close its successor.
func (h *QueueHandle) Reset(failed queue.Queue) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if failed == nil || h.q != failed {
		return
	}
	_ = h.q.Close()
	h.q = nil
}

// Release closes the connection for good.
func (h *QueueHandle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.released = true
	if h.q == nil {
		return nil
	}
	err := h.q.Close()
	h.q = nil
	return err
}
