// Package hub orchestrates the forwarding pipeline: classify an intercepted
// message, store it, then fan out one send per enabled channel and fold the
// outcomes back into the record's delivery state.
package hub

import (
	"context"
	"sync"
	"time"

	"github.com/kart-io/codeforward/pkg/backlog"
	"github.com/kart-io/codeforward/pkg/channel"
	"github.com/kart-io/codeforward/pkg/dispatcher"
	"github.com/kart-io/codeforward/pkg/errors"
	"github.com/kart-io/codeforward/pkg/extractor"
	"github.com/kart-io/codeforward/pkg/logger"
	"github.com/kart-io/codeforward/pkg/message"
	"github.com/kart-io/codeforward/pkg/status"
	"github.com/kart-io/codeforward/pkg/store"
	"github.com/kart-io/codeforward/pkg/telemetry"
)

// DefaultWorkers bounds how many channel sends run at once across all
// messages.
const DefaultWorkers = 4

// Inbound is one intercepted message as handed to the hub. A zero Timestamp
// means "now".
type Inbound struct {
	Content   string
	Sender    string
	SourceTag string
	Timestamp int64 // unix milliseconds
}

// Notifier receives pipeline events after the corresponding state is both
// in memory and durable. Implementations must not block for long; they run
// on the send goroutines.
type Notifier interface {
	MessageAdded(rec message.Record)
	// StateChanged reports one channel transition together with the unified
	// status and error derived from the whole delivery state.
	StateChanged(msg message.Message, kind channel.Kind, state status.ChannelState,
		unified status.Status, unifiedErr string)
}

// Channel pairs a channel's validated config with its dispatcher.
type Channel struct {
	Config     channel.Config
	Dispatcher *dispatcher.Dispatcher
}

// Hub runs the forwarding pipeline.
type Hub struct {
	store    *store.MessageStore
	backlog  *backlog.Backlog
	channels []Channel
	metrics  *telemetry.Provider
	notifier Notifier
	logger   logger.Logger
	sem      chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	started  bool
}

// Option configures the hub.
type Option func(*Hub)

// WithNotifier sets the event notifier.
func WithNotifier(n Notifier) Option {
	return func(h *Hub) { h.notifier = n }
}

// WithWorkers bounds the concurrent channel sends.
func WithWorkers(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.sem = make(chan struct{}, n)
		}
	}
}

// New creates the hub. It does not start forwarding; messages handled
// before Start are queued in the backlog.
func New(st *store.MessageStore, bl *backlog.Backlog, channels []Channel,
	metrics *telemetry.Provider, log logger.Logger, opts ...Option) *Hub {
	h := &Hub{
		store:    st,
		backlog:  bl,
		channels: channels,
		metrics:  metrics,
		logger:   log,
		sem:      make(chan struct{}, DefaultWorkers),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.notifier == nil {
		h.notifier = NewLoggingNotifier(log)
	}
	return h
}

// Start opens the pipeline and replays any backlogged messages in arrival
// order.
func (h *Hub) Start(ctx context.Context) {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return
	}
	h.started = true
	h.mu.Unlock()

	drained := h.backlog.Drain(ctx)
	if len(drained) > 0 {
		h.logger.Info("replaying backlogged messages", "count", len(drained))
	}
	for _, queued := range drained {
		// Codes were extracted at interception time and travel with the
		// queued record; no re-extraction on replay.
		msg := queued.Message
		msg.Codes = queued.Codes
		msg.PrimaryCode = queued.PrimaryCode
		h.process(ctx, msg)
	}
}

// Stop closes the pipeline and waits for in-flight sends, bounded by ctx.
func (h *Hub) Stop(ctx context.Context) error {
	h.mu.Lock()
	h.started = false
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handle runs one intercepted message through the pipeline. Before Start it
// classifies and queues the message; after Start it classifies, stores and
// fans out. Duplicates of an already-stored message are dropped silently.
func (h *Hub) Handle(ctx context.Context, in Inbound) {
	h.metrics.RecordReceived(ctx)

	if in.Timestamp == 0 {
		in.Timestamp = time.Now().UnixMilli()
	}

	msg := h.classify(in)

	h.mu.Lock()
	running := h.started
	h.mu.Unlock()
	if !running {
		h.backlog.Enqueue(ctx, backlog.QueuedMessage{
			Message:     msg,
			Codes:       msg.Codes,
			PrimaryCode: msg.PrimaryCode,
		})
		h.metrics.RecordBacklogEnqueued(ctx)
		h.logger.Info("pipeline not started, message backlogged", "sender", in.Sender)
		return
	}

	h.process(ctx, msg)
}

// process stores a classified message and fans out the channel sends.
func (h *Hub) process(ctx context.Context, msg message.Message) {
	rec := message.NewRecord(msg)

	if msg.HasCodes() {
		// Fix the initial channel states before anything is published.
		for _, ch := range h.channels {
			if h.eligible(ch) {
				rec.State.SetNotSent(ch.Config.Kind())
			} else {
				rec.State.SetDisabled(ch.Config.Kind())
			}
		}
	} else {
		h.metrics.RecordNoCode(ctx)
	}

	if !h.store.Add(ctx, rec) {
		h.metrics.RecordDuplicate(ctx)
		return
	}
	h.notifier.MessageAdded(rec)

	if !msg.HasCodes() {
		h.logger.Debug("no verification code found", "sender", msg.Sender)
		return
	}

	// An issued send runs to completion or transport timeout; it must not
	// die with the caller's request context.
	sendCtx := context.WithoutCancel(ctx)
	for _, ch := range h.channels {
		if !h.eligible(ch) {
			continue
		}
		h.wg.Add(1)
		go h.deliver(sendCtx, ch, rec)
	}
}

// classify extracts verification codes and freezes the message identity.
func (h *Hub) classify(in Inbound) message.Message {
	codes := extractor.Extract(in.Content)
	primary, _ := extractor.Primary(in.Content)
	return message.Message{
		Content:     in.Content,
		Sender:      in.Sender,
		SourceTag:   in.SourceTag,
		Timestamp:   in.Timestamp,
		Codes:       codes,
		PrimaryCode: primary,
	}
}

// eligible reports whether a channel may attempt sends: switched on and
// passing validation. Anything else stays disabled for the message.
func (h *Hub) eligible(ch Channel) bool {
	return ch.Config.Enabled() && channel.Valid(ch.Config)
}

// deliver runs one channel send under the worker semaphore and records the
// terminal outcome. State is persisted before each notification so
// observers never see an event ahead of durable state.
func (h *Hub) deliver(ctx context.Context, ch Channel, rec message.Record) {
	defer h.wg.Done()
	h.sem <- struct{}{}
	defer func() { <-h.sem }()

	kind := ch.Config.Kind()

	rec.State.SetSending(kind)
	h.publish(ctx, rec, kind)

	start := time.Now()
	err := ch.Dispatcher.Send(ctx, dispatcher.Payload{
		Code:       rec.Message.PrimaryCode,
		Content:    rec.Message.Content,
		Sender:     rec.Message.Sender,
		ReceivedAt: rec.Message.ReceivedAt(),
	})
	elapsed := time.Since(start)

	if err != nil {
		rec.State.SetFailed(kind, err.Error())
		h.metrics.RecordSend(ctx, string(kind), false, elapsed)
		h.logger.Error("channel send failed",
			"channel", kind, "code", errors.CodeOf(err), "error", err)
	} else {
		rec.State.SetSuccess(kind)
		h.metrics.RecordSend(ctx, string(kind), true, elapsed)
		h.logger.Info("channel send succeeded", "channel", kind, "duration", elapsed)
	}
	h.publish(ctx, rec, kind)
}

func (h *Hub) publish(ctx context.Context, rec message.Record, kind channel.Kind) {
	h.store.Update(ctx, rec.Message)
	unified, unifiedErr := rec.State.Unified()
	h.notifier.StateChanged(rec.Message, kind, rec.State.Channel(kind), unified, unifiedErr)
}

// Messages returns the stored records, newest first.
func (h *Hub) Messages() []message.Record {
	return h.store.All()
}

// ClearMessages removes the stored history.
func (h *Hub) ClearMessages(ctx context.Context) {
	h.store.Clear(ctx)
	h.logger.Info("message history cleared")
}

// TestChannel sends a fixed test payload through one channel's dispatcher.
func (h *Hub) TestChannel(ctx context.Context, kind channel.Kind) error {
	for _, ch := range h.channels {
		if ch.Config.Kind() != kind {
			continue
		}
		if !h.eligible(ch) {
			return errors.New(errors.ErrChannelDisabled, "channel is disabled or misconfigured").
				WithChannel(string(kind))
		}
		return ch.Dispatcher.Send(ctx, dispatcher.Payload{
			Code:       "123456",
			Content:    "CodeForward delivery test",
			Sender:     "codeforward",
			ReceivedAt: time.Now(),
		})
	}
	return errors.New(errors.ErrMissingConfig, "no such channel").WithChannel(string(kind))
}

// LoggingNotifier logs pipeline events; it is the default notifier.
type LoggingNotifier struct {
	logger logger.Logger
}

// NewLoggingNotifier creates a notifier that writes events to the log.
func NewLoggingNotifier(log logger.Logger) *LoggingNotifier {
	return &LoggingNotifier{logger: log}
}

// MessageAdded logs a newly stored message.
func (n *LoggingNotifier) MessageAdded(rec message.Record) {
	unified, _ := rec.State.Unified()
	n.logger.Info("message stored",
		"sender", rec.Message.Sender,
		"codes", len(rec.Message.Codes),
		"status", unified)
}

// StateChanged logs a channel state transition with the unified view.
func (n *LoggingNotifier) StateChanged(msg message.Message, kind channel.Kind, state status.ChannelState,
	unified status.Status, unifiedErr string) {
	if state.Error != "" {
		n.logger.Warn("delivery state changed",
			"channel", kind, "status", state.Status, "unified", unified,
			"sender", msg.Sender, "error", state.Error)
		return
	}
	n.logger.Info("delivery state changed",
		"channel", kind, "status", state.Status, "unified", unified, "sender", msg.Sender)
}
