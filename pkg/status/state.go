package status

import (
	"sync"

	"github.com/kart-io/codeforward/pkg/channel"
)

// ChannelState is the status and error of one channel's delivery attempt.
type ChannelState struct {
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}

// DeliveryState tracks per-channel delivery outcomes for one message. The
// unified status is always derived from the channel entries via Unified and
// is never stored, so the two cannot desynchronize. Mutators are safe for
// concurrent use by per-channel send goroutines.
type DeliveryState struct {
	mu       sync.Mutex
	HasCodes bool                              `json:"has_codes"`
	Channels map[channel.Kind]ChannelState `json:"channels"`
}

// NewDeliveryState builds the initial state for a message. Without codes
// every channel is permanently disabled.
func NewDeliveryState(hasCodes bool) *DeliveryState {
	return &DeliveryState{
		HasCodes: hasCodes,
		Channels: make(map[channel.Kind]ChannelState),
	}
}

// SetNotSent marks a channel as configured but not yet attempted.
func (s *DeliveryState) SetNotSent(kind channel.Kind) {
	s.set(kind, ChannelState{Status: NotSent})
}

// SetSending marks a channel send as in flight.
func (s *DeliveryState) SetSending(kind channel.Kind) {
	s.set(kind, ChannelState{Status: Sending})
}

// SetSuccess marks a channel send as completed.
func (s *DeliveryState) SetSuccess(kind channel.Kind) {
	s.set(kind, ChannelState{Status: Success})
}

// SetFailed marks a channel send as terminally failed.
func (s *DeliveryState) SetFailed(kind channel.Kind, errMsg string) {
	s.set(kind, ChannelState{Status: Failed, Error: errMsg})
}

// SetDisabled marks a channel as off or unconfigured. Disabled is not a
// failure and carries no error text.
func (s *DeliveryState) SetDisabled(kind channel.Kind) {
	s.set(kind, ChannelState{Status: Disabled})
}

func (s *DeliveryState) set(kind channel.Kind, state ChannelState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Channels == nil {
		s.Channels = make(map[channel.Kind]ChannelState)
	}
	s.Channels[kind] = state
}

// Channel returns the state of one channel, defaulting to NotSent (or
// Disabled when the message has no codes).
func (s *DeliveryState) Channel(kind channel.Kind) ChannelState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.HasCodes {
		return ChannelState{Status: Disabled}
	}
	if state, ok := s.Channels[kind]; ok {
		return state
	}
	return ChannelState{Status: NotSent}
}

// Unified derives the single user-visible status and error for this state.
func (s *DeliveryState) Unified() (Status, string) {
	snapshot := s.Snapshot()
	return Aggregate(snapshot.HasCodes, snapshot.Channels)
}

// Snapshot returns a deep copy safe to persist or aggregate while channel
// goroutines keep mutating the original.
func (s *DeliveryState) Snapshot() *DeliveryState {
	s.mu.Lock()
	defer s.mu.Unlock()
	channels := make(map[channel.Kind]ChannelState, len(s.Channels))
	for kind, state := range s.Channels {
		channels[kind] = state
	}
	return &DeliveryState{HasCodes: s.HasCodes, Channels: channels}
}
