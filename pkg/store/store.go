// Package store keeps the bounded in-memory list of intercepted messages
// and mirrors it to the persistence layer. The store is the single source
// of truth the API and the hub read from. A hash index keyed by the
// message dedup key backs duplicate detection and identity lookups.
package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/kart-io/codeforward/pkg/errors"
	"github.com/kart-io/codeforward/pkg/logger"
	"github.com/kart-io/codeforward/pkg/message"
	"github.com/kart-io/codeforward/pkg/persistence"
)

// DefaultCapacity is the retention cap. The oldest records are evicted once
// the list exceeds it.
const DefaultCapacity = 100

// dedupToleranceMillis is how far apart two observations of the same
// physical message may be and still count as one.
const dedupToleranceMillis = 1000

// MessageStore holds message records newest first, deduplicates on insert
// and evicts beyond capacity on every persist. The index maps each
// record's dedup key to its position; two records can never share a key
// because insertion rejects anything within the dedup tolerance.
type MessageStore struct {
	mu       sync.Mutex
	records  []message.Record
	index    map[string]int
	capacity int
	store    persistence.Store
	logger   logger.Logger
}

// Option configures the store.
type Option func(*MessageStore)

// WithCapacity overrides the retention cap.
func WithCapacity(capacity int) Option {
	return func(s *MessageStore) {
		if capacity > 0 {
			s.capacity = capacity
		}
	}
}

// New creates the store and loads any persisted records. A load failure
// starts empty; the history is a convenience, not critical state.
func New(ctx context.Context, ps persistence.Store, log logger.Logger, opts ...Option) *MessageStore {
	s := &MessageStore{
		index:    make(map[string]int),
		capacity: DefaultCapacity,
		store:    ps,
		logger:   log,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.load(ctx)
	return s
}

// Add inserts a record unless an equivalent message is already stored.
// Equivalent means same content and sender with timestamps within one
// second of each other. Duplicates are dropped silently and reported false.
func (s *MessageStore) Add(ctx context.Context, rec message.Record) bool {
	s.mu.Lock()
	if s.isDuplicateLocked(rec.Message) {
		s.mu.Unlock()
		s.logger.Debug("dropping duplicate message",
			"sender", rec.Message.Sender, "timestamp", rec.Message.Timestamp)
		return false
	}
	s.records = append(s.records, rec)
	s.index[rec.Message.DedupKey()] = len(s.records) - 1
	s.evictLocked()
	data, err := s.encodeLocked()
	s.mu.Unlock()

	s.persist(ctx, data, err)
	return true
}

// Update persists the current state of the record matching msg exactly on
// content, sender and timestamp. A miss is logged and ignored; it means the
// record was evicted or cleared while a send was still in flight.
func (s *MessageStore) Update(ctx context.Context, msg message.Message) {
	s.mu.Lock()
	_, found := s.lookupLocked(msg)
	var data []byte
	var err error
	if found {
		data, err = s.encodeLocked()
	}
	s.mu.Unlock()

	if !found {
		s.logger.Warn("state update for unknown message",
			"code", errors.ErrStoreUpdateMiss,
			"sender", msg.Sender, "timestamp", msg.Timestamp)
		return
	}
	s.persist(ctx, data, err)
}

// Find returns the record matching msg exactly, if present.
func (s *MessageStore) Find(msg message.Message) (message.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.lookupLocked(msg)
	if !ok {
		return message.Record{}, false
	}
	return s.records[i], true
}

// All returns the stored records newest first.
func (s *MessageStore) All() []message.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]message.Record, len(s.records))
	copy(out, s.records)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Message.Timestamp > out[j].Message.Timestamp
	})
	return out
}

// Len returns the number of stored records.
func (s *MessageStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Clear removes every record, in memory and in the persistence layer.
func (s *MessageStore) Clear(ctx context.Context) {
	s.mu.Lock()
	s.records = nil
	s.index = make(map[string]int)
	s.mu.Unlock()

	if err := s.store.Delete(ctx, persistence.KeyMessages); err != nil {
		s.logger.Warn("failed to clear persisted messages",
			"code", errors.ErrPersistence, "error", err)
	}
}

// isDuplicateLocked checks the index buckets the message could fall into.
// The dedup key rounds to the second, so a match within tolerance sits in
// the message's own bucket or an adjacent one.
func (s *MessageStore) isDuplicateLocked(msg message.Message) bool {
	for _, shift := range []int64{-dedupToleranceMillis, 0, dedupToleranceMillis} {
		shifted := msg
		shifted.Timestamp = msg.Timestamp + shift
		i, ok := s.index[shifted.DedupKey()]
		if !ok {
			continue
		}
		stored := s.records[i].Message
		if stored.Content != msg.Content || stored.Sender != msg.Sender {
			continue
		}
		delta := stored.Timestamp - msg.Timestamp
		if delta < 0 {
			delta = -delta
		}
		if delta <= dedupToleranceMillis {
			return true
		}
	}
	return false
}

// lookupLocked resolves an exact identity match through the index.
func (s *MessageStore) lookupLocked(msg message.Message) (int, bool) {
	i, ok := s.index[msg.DedupKey()]
	if !ok {
		return 0, false
	}
	stored := s.records[i].Message
	if stored.Content != msg.Content || stored.Sender != msg.Sender || stored.Timestamp != msg.Timestamp {
		return 0, false
	}
	return i, true
}

// evictLocked drops the oldest records once the list exceeds capacity and
// rebuilds the index to match the re-sorted list.
func (s *MessageStore) evictLocked() {
	if len(s.records) <= s.capacity {
		return
	}
	sort.SliceStable(s.records, func(i, j int) bool {
		return s.records[i].Message.Timestamp > s.records[j].Message.Timestamp
	})
	s.records = s.records[:s.capacity]
	s.rebuildIndexLocked()
}

func (s *MessageStore) rebuildIndexLocked() {
	s.index = make(map[string]int, len(s.records))
	for i := range s.records {
		s.index[s.records[i].Message.DedupKey()] = i
	}
}

func (s *MessageStore) encodeLocked() ([]byte, error) {
	snapshots := make([]message.Record, len(s.records))
	for i, rec := range s.records {
		snapshots[i] = message.Record{Message: rec.Message, State: rec.State.Snapshot()}
	}
	return json.Marshal(snapshots)
}

// persist writes the encoded list. Failures are logged, never propagated;
// the in-memory list stays authoritative for the life of the process.
func (s *MessageStore) persist(ctx context.Context, data []byte, encodeErr error) {
	if encodeErr != nil {
		s.logger.Warn("failed to encode message records",
			"code", errors.ErrPersistence, "error", encodeErr)
		return
	}
	if err := s.store.Save(ctx, persistence.KeyMessages, data); err != nil {
		s.logger.Warn("failed to persist message records",
			"code", errors.ErrPersistence, "error", err)
	}
}

func (s *MessageStore) load(ctx context.Context) {
	data, err := s.store.Load(ctx, persistence.KeyMessages)
	if err == persistence.ErrNotFound {
		return
	}
	if err != nil {
		s.logger.Warn("failed to load message records",
			"code", errors.ErrPersistence, "error", err)
		return
	}
	var records []message.Record
	if err := json.Unmarshal(data, &records); err != nil {
		s.logger.Warn("failed to decode message records",
			"code", errors.ErrPersistence, "error", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = records
	s.evictLocked()
	s.rebuildIndexLocked()
}
