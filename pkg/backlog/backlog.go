// Package backlog buffers messages that arrive before the forwarding
// pipeline is running. The buffer is bounded and persisted so a restart
// does not lose what was queued.
package backlog

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/kart-io/codeforward/pkg/errors"
	"github.com/kart-io/codeforward/pkg/logger"
	"github.com/kart-io/codeforward/pkg/message"
	"github.com/kart-io/codeforward/pkg/persistence"
)

// DefaultCapacity bounds the backlog. When full, the oldest entry is
// dropped to admit the newest.
const DefaultCapacity = 50

// QueuedMessage is a classified message waiting for the pipeline: the
// message plus the codes extracted at interception time, so replay never
// re-runs extraction.
type QueuedMessage struct {
	Message     message.Message `json:"message"`
	Codes       []string        `json:"codes,omitempty"`
	PrimaryCode string          `json:"primary_code,omitempty"`
}

// Backlog is a bounded FIFO of messages waiting for the pipeline to start.
type Backlog struct {
	mu       sync.Mutex
	queued   []QueuedMessage
	capacity int
	store    persistence.Store
	logger   logger.Logger
}

// Option configures the backlog.
type Option func(*Backlog)

// WithCapacity overrides the backlog bound.
func WithCapacity(capacity int) Option {
	return func(b *Backlog) {
		if capacity > 0 {
			b.capacity = capacity
		}
	}
}

// New creates the backlog and restores any persisted entries.
func New(ctx context.Context, ps persistence.Store, log logger.Logger, opts ...Option) *Backlog {
	b := &Backlog{
		capacity: DefaultCapacity,
		store:    ps,
		logger:   log,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.load(ctx)
	return b
}

// Enqueue appends a queued message, dropping the oldest entry if the
// backlog is full. The drop is logged; a backlog overflow means the
// pipeline has been down long enough that the oldest codes have likely
// expired anyway.
func (b *Backlog) Enqueue(ctx context.Context, qm QueuedMessage) {
	b.mu.Lock()
	if len(b.queued) >= b.capacity {
		dropped := b.queued[0]
		b.queued = b.queued[1:]
		b.logger.Warn("backlog full, dropping oldest message",
			"sender", dropped.Message.Sender, "timestamp", dropped.Message.Timestamp)
	}
	b.queued = append(b.queued, qm)
	data, err := json.Marshal(b.queued)
	b.mu.Unlock()

	b.persist(ctx, data, err)
}

// Drain removes and returns every queued message in arrival order.
func (b *Backlog) Drain(ctx context.Context) []QueuedMessage {
	b.mu.Lock()
	drained := b.queued
	b.queued = nil
	b.mu.Unlock()

	if len(drained) == 0 {
		return nil
	}
	if err := b.store.Delete(ctx, persistence.KeyBacklog); err != nil {
		b.logger.Warn("failed to clear persisted backlog",
			"code", errors.ErrPersistence, "error", err)
	}
	return drained
}

// Len returns the number of queued messages.
func (b *Backlog) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queued)
}

func (b *Backlog) persist(ctx context.Context, data []byte, encodeErr error) {
	if encodeErr != nil {
		b.logger.Warn("failed to encode backlog",
			"code", errors.ErrPersistence, "error", encodeErr)
		return
	}
	if err := b.store.Save(ctx, persistence.KeyBacklog, data); err != nil {
		b.logger.Warn("failed to persist backlog",
			"code", errors.ErrPersistence, "error", err)
	}
}

func (b *Backlog) load(ctx context.Context) {
	data, err := b.store.Load(ctx, persistence.KeyBacklog)
	if err == persistence.ErrNotFound {
		return
	}
	if err != nil {
		b.logger.Warn("failed to load backlog",
			"code", errors.ErrPersistence, "error", err)
		return
	}
	var queued []QueuedMessage
	if err := json.Unmarshal(data, &queued); err != nil {
		b.logger.Warn("failed to decode backlog",
			"code", errors.ErrPersistence, "error", err)
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queued = queued
	if len(b.queued) > b.capacity {
		b.queued = b.queued[len(b.queued)-b.capacity:]
	}
}
