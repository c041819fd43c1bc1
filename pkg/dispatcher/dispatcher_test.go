package dispatcher

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/codeforward/pkg/channel"
	"github.com/kart-io/codeforward/pkg/errors"
	"github.com/kart-io/codeforward/pkg/logger"
	"github.com/kart-io/codeforward/pkg/persistence"
	"github.com/kart-io/codeforward/pkg/prefs"
)

// fakeTransport records attempt order and fails on configured protocols.
type fakeTransport struct {
	kind     channel.Kind
	protos   []prefs.SubProtocol
	failures map[prefs.SubProtocol]error
	attempts []prefs.SubProtocol
}

func (f *fakeTransport) Kind() channel.Kind             { return f.kind }
func (f *fakeTransport) Protocols() []prefs.SubProtocol { return f.protos }

func (f *fakeTransport) Attempt(_ context.Context, proto prefs.SubProtocol, _ Payload) error {
	f.attempts = append(f.attempts, proto)
	if err, ok := f.failures[proto]; ok {
		return err
	}
	return nil
}

func newEmailFake() *fakeTransport {
	return &fakeTransport{
		kind:     channel.KindEmail,
		protos:   []prefs.SubProtocol{prefs.ProtoSTARTTLS, prefs.ProtoSSL},
		failures: map[prefs.SubProtocol]error{},
	}
}

func newTracker(t *testing.T) prefs.Tracker {
	t.Helper()
	return prefs.NewTracker(context.Background(), persistence.NewMemoryStore(), logger.Discard)
}

func TestSendSuccessOnFirstAttempt(t *testing.T) {
	ctx := context.Background()
	transport := newEmailFake()
	tracker := newTracker(t)
	d := New(transport, tracker, logger.Discard)

	require.NoError(t, d.Send(ctx, Payload{Code: "1234"}))

	// No fallback attempt, and the success is recorded for the protocol used.
	assert.Equal(t, []prefs.SubProtocol{prefs.ProtoSTARTTLS}, transport.attempts)
	assert.Equal(t, 1, tracker.Successes(channel.KindEmail, prefs.ProtoSTARTTLS))
	assert.Equal(t, 0, tracker.Successes(channel.KindEmail, prefs.ProtoSSL))
}

func TestSendFallsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	transport := newEmailFake()
	transport.failures[prefs.ProtoSTARTTLS] = fmt.Errorf("dial tcp: i/o timeout")
	tracker := newTracker(t)
	d := New(transport, tracker, logger.Discard)

	require.NoError(t, d.Send(ctx, Payload{Code: "1234"}))

	assert.Equal(t, []prefs.SubProtocol{prefs.ProtoSTARTTLS, prefs.ProtoSSL}, transport.attempts)
	assert.Equal(t, 1, tracker.Successes(channel.KindEmail, prefs.ProtoSSL))
	assert.Equal(t, 0, tracker.Successes(channel.KindEmail, prefs.ProtoSTARTTLS))
}

func TestSendPrefersLearnedProtocol(t *testing.T) {
	ctx := context.Background()
	transport := newEmailFake()
	tracker := newTracker(t)

	// Seed a history where direct SSL leads by more than the margin.
	for i := 0; i < prefs.Margin+1; i++ {
		tracker.RecordSuccess(ctx, channel.KindEmail, prefs.ProtoSSL)
	}

	d := New(transport, tracker, logger.Discard)
	require.NoError(t, d.Send(ctx, Payload{Code: "1234"}))

	assert.Equal(t, []prefs.SubProtocol{prefs.ProtoSSL}, transport.attempts)
}

func TestSendBothAttemptsFail(t *testing.T) {
	ctx := context.Background()
	transport := newEmailFake()
	transport.failures[prefs.ProtoSTARTTLS] = fmt.Errorf("dial tcp: connection refused")
	transport.failures[prefs.ProtoSSL] = fmt.Errorf("535 authentication failed")
	tracker := newTracker(t)
	d := New(transport, tracker, logger.Discard)

	err := d.Send(ctx, Payload{Code: "1234"})
	require.Error(t, err)

	// The formatted error classifies the second attempt's raw error.
	var fe *errors.ForwardError
	require.True(t, stderrors.As(err, &fe))
	assert.Equal(t, errors.ErrTransportAuth, fe.Code)
	assert.Equal(t, "email", fe.Channel)
	assert.Contains(t, err.Error(), "original error: 535 authentication failed")

	// Nothing recorded on failure.
	assert.Equal(t, 0, tracker.Successes(channel.KindEmail, prefs.ProtoSTARTTLS))
	assert.Equal(t, 0, tracker.Successes(channel.KindEmail, prefs.ProtoSSL))
}

func TestSendSingleProtocolRetriesOnce(t *testing.T) {
	ctx := context.Background()
	tracker := newTracker(t)

	// First attempt fails, second attempt on the same protocol succeeds.
	flaky := &flakyTransport{
		kind:      channel.KindPush,
		protos:    []prefs.SubProtocol{prefs.ProtoHTTPS},
		failUntil: 1,
	}
	d := New(flaky, tracker, logger.Discard)

	require.NoError(t, d.Send(ctx, Payload{Code: "1234"}))
	assert.Equal(t, 2, flaky.calls)
	assert.Equal(t, 1, tracker.Successes(channel.KindPush, prefs.ProtoHTTPS))
}

// flakyTransport fails the first failUntil attempts then succeeds.
type flakyTransport struct {
	kind      channel.Kind
	protos    []prefs.SubProtocol
	failUntil int
	calls     int
}

func (f *flakyTransport) Kind() channel.Kind             { return f.kind }
func (f *flakyTransport) Protocols() []prefs.SubProtocol { return f.protos }

func (f *flakyTransport) Attempt(context.Context, prefs.SubProtocol, Payload) error {
	f.calls++
	if f.calls <= f.failUntil {
		return fmt.Errorf("gateway 502")
	}
	return nil
}
