// Package prefs tracks which transport sub-protocol has historically
// succeeded per channel, so the dispatcher can try the more reliable one
// first.
package prefs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/kart-io/codeforward/pkg/channel"
	"github.com/kart-io/codeforward/pkg/logger"
	"github.com/kart-io/codeforward/pkg/persistence"
)

// SubProtocol is one of the interchangeable transport modes of a channel.
type SubProtocol string

const (
	// ProtoSTARTTLS is SMTP with negotiated encryption (port 587).
	ProtoSTARTTLS SubProtocol = "starttls"
	// ProtoSSL is SMTP over a direct TLS connection (port 465).
	ProtoSSL SubProtocol = "ssl"
	// ProtoHTTPS is the push gateway's single wire mode.
	ProtoHTTPS SubProtocol = "https"
)

// Margin is the hysteresis applied when comparing success counts. A
// sub-protocol must lead by more than Margin before it displaces the
// default order; this keeps noisy histories from flapping the preference.
const Margin = 2

// Tracker is the success-counter store consulted before each send and
// updated after each terminal success. Counters survive restarts and
// concurrent increments must not lose updates.
type Tracker interface {
	// Successes returns the recorded success count for one sub-protocol.
	Successes(kind channel.Kind, proto SubProtocol) int
	// RecordSuccess increments the success count for one sub-protocol.
	RecordSuccess(ctx context.Context, kind channel.Kind, proto SubProtocol)
	// Order returns protos reordered by preference: the second entry moves
	// first only when its successes lead the first's by more than Margin.
	Order(kind channel.Kind, protos []SubProtocol) []SubProtocol
}

type counterKey struct {
	Kind  channel.Kind
	Proto SubProtocol
}

func (k counterKey) String() string {
	return fmt.Sprintf("%s/%s", k.Kind, k.Proto)
}

// PersistentTracker keeps counters in memory and mirrors them to one JSON
// document in the persistence store.
type PersistentTracker struct {
	mu       sync.Mutex
	counters map[counterKey]int
	store    persistence.Store
	logger   logger.Logger
}

// NewTracker loads any persisted counters and returns the tracker. A load
// failure starts from zero; preference is an optimization, not state the
// system depends on for correctness.
func NewTracker(ctx context.Context, store persistence.Store, log logger.Logger) *PersistentTracker {
	t := &PersistentTracker{
		counters: make(map[counterKey]int),
		store:    store,
		logger:   log,
	}
	t.load(ctx)
	return t
}

// Successes returns the recorded success count for one sub-protocol.
func (t *PersistentTracker) Successes(kind channel.Kind, proto SubProtocol) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counters[counterKey{Kind: kind, Proto: proto}]
}

// RecordSuccess increments the counter and persists the document. A failed
// persist is logged and otherwise ignored; the in-memory count still holds
// for the life of the process.
func (t *PersistentTracker) RecordSuccess(ctx context.Context, kind channel.Kind, proto SubProtocol) {
	t.mu.Lock()
	t.counters[counterKey{Kind: kind, Proto: proto}]++
	data, err := json.Marshal(t.snapshotLocked())
	t.mu.Unlock()

	if err != nil {
		t.logger.Warn("failed to encode protocol counters", "error", err)
		return
	}
	if err := t.store.Save(ctx, persistence.KeyProtocolPrefs, data); err != nil {
		t.logger.Warn("failed to persist protocol counters", "error", err)
	}
	t.logger.Debug("recorded protocol success", "channel", kind, "protocol", proto)
}

// Order applies the hysteresis rule to the transport's default ordering.
func (t *PersistentTracker) Order(kind channel.Kind, protos []SubProtocol) []SubProtocol {
	if len(protos) < 2 {
		return protos
	}
	first := t.Successes(kind, protos[0])
	second := t.Successes(kind, protos[1])
	if second > first+Margin {
		return []SubProtocol{protos[1], protos[0]}
	}
	return protos
}

func (t *PersistentTracker) snapshotLocked() map[string]int {
	snapshot := make(map[string]int, len(t.counters))
	for key, count := range t.counters {
		snapshot[key.String()] = count
	}
	return snapshot
}

func (t *PersistentTracker) load(ctx context.Context) {
	data, err := t.store.Load(ctx, persistence.KeyProtocolPrefs)
	if err == persistence.ErrNotFound {
		return
	}
	if err != nil {
		t.logger.Warn("failed to load protocol counters", "error", err)
		return
	}
	var snapshot map[string]int
	if err := json.Unmarshal(data, &snapshot); err != nil {
		t.logger.Warn("failed to decode protocol counters", "error", err)
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, count := range snapshot {
		parsed, ok := parseCounterKey(key)
		if !ok {
			continue
		}
		t.counters[parsed] = count
	}
}

func parseCounterKey(key string) (counterKey, bool) {
	for i := 0; i < len(key); i++ {
		if key[i] == '/' {
			return counterKey{
				Kind:  channel.Kind(key[:i]),
				Proto: SubProtocol(key[i+1:]),
			}, true
		}
	}
	return counterKey{}, false
}
