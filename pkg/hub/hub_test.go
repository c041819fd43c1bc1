package hub

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/codeforward/pkg/backlog"
	"github.com/kart-io/codeforward/pkg/channel"
	"github.com/kart-io/codeforward/pkg/dispatcher"
	"github.com/kart-io/codeforward/pkg/errors"
	"github.com/kart-io/codeforward/pkg/logger"
	"github.com/kart-io/codeforward/pkg/message"
	"github.com/kart-io/codeforward/pkg/persistence"
	"github.com/kart-io/codeforward/pkg/prefs"
	"github.com/kart-io/codeforward/pkg/status"
	"github.com/kart-io/codeforward/pkg/store"
	"github.com/kart-io/codeforward/pkg/telemetry"
)

// stubTransport succeeds or fails every attempt, counting them and
// recording the context state each attempt observed.
type stubTransport struct {
	mu       sync.Mutex
	kind     channel.Kind
	fail     bool
	attempts int
	ctxErrs  []error
}

func (s *stubTransport) Kind() channel.Kind { return s.kind }

func (s *stubTransport) Protocols() []prefs.SubProtocol {
	if s.kind == channel.KindEmail {
		return []prefs.SubProtocol{prefs.ProtoSTARTTLS, prefs.ProtoSSL}
	}
	return []prefs.SubProtocol{prefs.ProtoHTTPS}
}

func (s *stubTransport) Attempt(ctx context.Context, _ prefs.SubProtocol, _ dispatcher.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	s.ctxErrs = append(s.ctxErrs, ctx.Err())
	if s.fail {
		return fmt.Errorf("dial tcp: connection refused")
	}
	return nil
}

func (s *stubTransport) attemptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

type fixture struct {
	hub   *Hub
	store *store.MessageStore
	email *stubTransport
	push  *stubTransport
}

func newFixture(t *testing.T, emailEnabled, pushEnabled bool) *fixture {
	t.Helper()
	ctx := context.Background()
	ps := persistence.NewMemoryStore()
	st := store.New(ctx, ps, logger.Discard)
	bl := backlog.New(ctx, ps, logger.Discard)
	tracker := prefs.NewTracker(ctx, ps, logger.Discard)
	metrics, err := telemetry.NewProvider(telemetry.Config{Enabled: false})
	require.NoError(t, err)

	email := &stubTransport{kind: channel.KindEmail}
	push := &stubTransport{kind: channel.KindPush}

	channels := []Channel{
		{
			Config: channel.EmailConfig{
				Address:   "sender@example.com",
				Secret:    "key",
				Recipient: "inbox@example.com",
				Enable:    emailEnabled,
			},
			Dispatcher: dispatcher.New(email, tracker, logger.Discard),
		},
		{
			Config: channel.PushConfig{
				AccessKey: "SCT123",
				Enable:    pushEnabled,
			},
			Dispatcher: dispatcher.New(push, tracker, logger.Discard),
		},
	}

	h := New(st, bl, channels, metrics, logger.Discard)
	return &fixture{hub: h, store: st, email: email, push: push}
}

func codeMessage() Inbound {
	return Inbound{
		Content:   "Your verification code is 2354",
		Sender:    "10690000",
		Timestamp: 1_700_000_000_000,
	}
}

func waitForSends(t *testing.T, h *Hub) {
	t.Helper()
	require.NoError(t, h.Stop(context.Background()))
}

func TestHandleDeliversOnAllChannels(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true, true)
	f.hub.Start(ctx)

	f.hub.Handle(ctx, codeMessage())
	waitForSends(t, f.hub)

	records := f.hub.Messages()
	require.Len(t, records, 1)
	rec := records[0]

	assert.Equal(t, []string{"2354"}, rec.Message.Codes)
	assert.Equal(t, "2354", rec.Message.PrimaryCode)

	unified, errText := rec.State.Unified()
	assert.Equal(t, status.Success, unified)
	assert.Empty(t, errText)
	assert.Equal(t, 1, f.email.attemptCount())
	assert.Equal(t, 1, f.push.attemptCount())
}

func TestSendsSurviveCallerCancellation(t *testing.T) {
	f := newFixture(t, true, true)
	f.hub.Start(context.Background())

	// Intake handlers return long before delivery finishes; their context
	// is typically already canceled by the time an attempt runs.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.hub.Handle(ctx, codeMessage())
	waitForSends(t, f.hub)

	records := f.hub.Messages()
	require.Len(t, records, 1)
	unified, errText := records[0].State.Unified()
	assert.Equal(t, status.Success, unified)
	assert.Empty(t, errText)

	f.email.mu.Lock()
	defer f.email.mu.Unlock()
	require.NotEmpty(t, f.email.ctxErrs)
	for _, err := range f.email.ctxErrs {
		assert.NoError(t, err)
	}
}

func TestHandleDuplicateIsDropped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true, true)
	f.hub.Start(ctx)

	f.hub.Handle(ctx, codeMessage())
	second := codeMessage()
	second.Timestamp += 400 // same physical message, observed again
	f.hub.Handle(ctx, second)
	waitForSends(t, f.hub)

	assert.Equal(t, 1, f.store.Len())
}

func TestHandleNoCodeIsStoredDisabled(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true, true)
	f.hub.Start(ctx)

	f.hub.Handle(ctx, Inbound{
		Content:   "Lunch at noon?",
		Sender:    "alice",
		Timestamp: 1_700_000_000_000,
	})
	waitForSends(t, f.hub)

	records := f.hub.Messages()
	require.Len(t, records, 1)
	unified, _ := records[0].State.Unified()
	assert.Equal(t, status.Disabled, unified)
	assert.Equal(t, 0, f.email.attemptCount())
	assert.Equal(t, 0, f.push.attemptCount())
}

func TestHandleDisabledChannelIsSkipped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true, false)
	f.hub.Start(ctx)

	f.hub.Handle(ctx, codeMessage())
	waitForSends(t, f.hub)

	records := f.hub.Messages()
	require.Len(t, records, 1)
	rec := records[0]

	assert.Equal(t, status.Disabled, rec.State.Channel(channel.KindPush).Status)
	unified, _ := rec.State.Unified()
	assert.Equal(t, status.Success, unified)
	assert.Equal(t, 0, f.push.attemptCount())
}

func TestHandleAllChannelsFail(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true, true)
	f.email.fail = true
	f.push.fail = true
	f.hub.Start(ctx)

	f.hub.Handle(ctx, codeMessage())
	waitForSends(t, f.hub)

	records := f.hub.Messages()
	require.Len(t, records, 1)
	unified, errText := records[0].State.Unified()
	assert.Equal(t, status.Failed, unified)
	assert.Contains(t, errText, "email:")
	assert.Contains(t, errText, "push:")

	// Two attempts per channel: preferred then fallback.
	assert.Equal(t, 2, f.email.attemptCount())
	assert.Equal(t, 2, f.push.attemptCount())
}

func TestHandleBeforeStartIsBacklogged(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true, true)

	f.hub.Handle(ctx, codeMessage())
	assert.Equal(t, 0, f.store.Len())
	assert.Equal(t, 0, f.email.attemptCount())

	// Start drains the backlog and forwards normally.
	f.hub.Start(ctx)
	waitForSends(t, f.hub)

	records := f.hub.Messages()
	require.Len(t, records, 1)
	unified, _ := records[0].State.Unified()
	assert.Equal(t, status.Success, unified)
	assert.Equal(t, 1, f.email.attemptCount())
}

// recordingNotifier captures the unified status carried by each event.
type recordingNotifier struct {
	mu      sync.Mutex
	added   int
	unified []status.Status
}

func (r *recordingNotifier) MessageAdded(message.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.added++
}

func (r *recordingNotifier) StateChanged(_ message.Message, _ channel.Kind, _ status.ChannelState,
	unified status.Status, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unified = append(r.unified, unified)
}

func TestNotifierSeesUnifiedProgression(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true, false)
	notifier := &recordingNotifier{}
	f.hub.notifier = notifier
	f.hub.Start(ctx)

	f.hub.Handle(ctx, codeMessage())
	waitForSends(t, f.hub)

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	assert.Equal(t, 1, notifier.added)
	require.Len(t, notifier.unified, 2)
	assert.Equal(t, status.Sending, notifier.unified[0])
	assert.Equal(t, status.Success, notifier.unified[1])
}

func TestClearMessages(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true, true)
	f.hub.Start(ctx)

	f.hub.Handle(ctx, codeMessage())
	waitForSends(t, f.hub)
	require.Equal(t, 1, f.store.Len())

	f.hub.ClearMessages(ctx)
	assert.Empty(t, f.hub.Messages())
}

func TestTestChannel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true, false)
	f.hub.Start(ctx)

	require.NoError(t, f.hub.TestChannel(ctx, channel.KindEmail))
	assert.Equal(t, 1, f.email.attemptCount())

	err := f.hub.TestChannel(ctx, channel.KindPush)
	require.Error(t, err)
	assert.Equal(t, errors.ErrChannelDisabled, errors.CodeOf(err))

	err = f.hub.TestChannel(ctx, channel.Kind("pigeon"))
	require.Error(t, err)
	assert.Equal(t, errors.ErrMissingConfig, errors.CodeOf(err))
}
