package prefs

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/codeforward/pkg/channel"
	"github.com/kart-io/codeforward/pkg/logger"
	"github.com/kart-io/codeforward/pkg/persistence"
)

func newTestTracker(t *testing.T) (*PersistentTracker, persistence.Store) {
	t.Helper()
	store := persistence.NewMemoryStore()
	return NewTracker(context.Background(), store, logger.Discard), store
}

func TestOrderDefaultsUntilMarginExceeded(t *testing.T) {
	ctx := context.Background()
	tracker, _ := newTestTracker(t)
	protos := []SubProtocol{ProtoSTARTTLS, ProtoSSL}

	// No history: keep the transport's default order.
	assert.Equal(t, protos, tracker.Order(channel.KindEmail, protos))

	// A lead of exactly Margin is not enough.
	for i := 0; i < Margin; i++ {
		tracker.RecordSuccess(ctx, channel.KindEmail, ProtoSSL)
	}
	assert.Equal(t, protos, tracker.Order(channel.KindEmail, protos))

	// One more success tips the hysteresis.
	tracker.RecordSuccess(ctx, channel.KindEmail, ProtoSSL)
	assert.Equal(t, []SubProtocol{ProtoSSL, ProtoSTARTTLS}, tracker.Order(channel.KindEmail, protos))
}

func TestOrderIsPerChannelKind(t *testing.T) {
	ctx := context.Background()
	tracker, _ := newTestTracker(t)
	protos := []SubProtocol{ProtoSTARTTLS, ProtoSSL}

	for i := 0; i < Margin+1; i++ {
		tracker.RecordSuccess(ctx, channel.KindEmail, ProtoSSL)
	}

	// Another channel kind's ordering is untouched.
	assert.Equal(t, protos, tracker.Order(channel.KindPush, protos))
}

func TestOrderSingleProtocol(t *testing.T) {
	tracker, _ := newTestTracker(t)
	protos := []SubProtocol{ProtoHTTPS}
	assert.Equal(t, protos, tracker.Order(channel.KindPush, protos))
}

func TestCountersSurviveRestart(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()

	tracker := NewTracker(ctx, store, logger.Discard)
	tracker.RecordSuccess(ctx, channel.KindEmail, ProtoSSL)
	tracker.RecordSuccess(ctx, channel.KindEmail, ProtoSSL)
	tracker.RecordSuccess(ctx, channel.KindEmail, ProtoSTARTTLS)

	reloaded := NewTracker(ctx, store, logger.Discard)
	assert.Equal(t, 2, reloaded.Successes(channel.KindEmail, ProtoSSL))
	assert.Equal(t, 1, reloaded.Successes(channel.KindEmail, ProtoSTARTTLS))
}

func TestConcurrentIncrements(t *testing.T) {
	ctx := context.Background()
	tracker, _ := newTestTracker(t)

	const goroutines = 16
	const perGoroutine = 25
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				tracker.RecordSuccess(ctx, channel.KindEmail, ProtoSTARTTLS)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, goroutines*perGoroutine, tracker.Successes(channel.KindEmail, ProtoSTARTTLS))
}

func TestLoadToleratesCorruptDocument(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	require.NoError(t, store.Save(ctx, persistence.KeyProtocolPrefs, []byte("not json")))

	tracker := NewTracker(ctx, store, logger.Discard)
	assert.Equal(t, 0, tracker.Successes(channel.KindEmail, ProtoSSL))
}
