package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledProviderRecordsSafely(t *testing.T) {
	p, err := NewProvider(Config{Enabled: false})
	require.NoError(t, err)

	ctx := context.Background()
	p.RecordReceived(ctx)
	p.RecordDuplicate(ctx)
	p.RecordNoCode(ctx)
	p.RecordSend(ctx, "email", true, 120*time.Millisecond)
	p.RecordSend(ctx, "push", false, time.Second)
	p.RecordBacklogEnqueued(ctx)

	assert.NoError(t, p.Shutdown(ctx))
}

func TestEnabledProviderShutsDown(t *testing.T) {
	p, err := NewProvider(Config{
		Enabled:        true,
		ServiceName:    "codeforward-test",
		ExportInterval: time.Hour,
	})
	require.NoError(t, err)

	ctx := context.Background()
	p.RecordReceived(ctx)
	p.RecordSend(ctx, "email", true, 50*time.Millisecond)
	require.NoError(t, p.Shutdown(ctx))
}
