// Package message defines the immutable intercepted-message model and the
// record pairing it with its delivery state.
package message

import (
	"fmt"
	"time"

	"github.com/kart-io/codeforward/pkg/status"
)

// Message is one intercepted short-text message. Identity fields are fixed
// at classification time and never mutate afterwards; only the associated
// DeliveryState changes as forwarding progresses.
type Message struct {
	Content     string   `json:"content"`
	Sender      string   `json:"sender"`
	SourceTag   string   `json:"source_tag,omitempty"`
	Timestamp   int64    `json:"timestamp"` // unix milliseconds
	Codes       []string `json:"codes,omitempty"`
	PrimaryCode string   `json:"primary_code,omitempty"`
}

// HasCodes reports whether any verification code was extracted.
func (m Message) HasCodes() bool {
	return len(m.Codes) > 0
}

// DedupKey is the identity used for duplicate detection: content, sender and
// the timestamp rounded down to the second. Two observations of the same
// physical message may differ by a few hundred milliseconds.
func (m Message) DedupKey() string {
	return fmt.Sprintf("%s|%s|%d", m.Content, m.Sender, m.Timestamp/1000)
}

// ReceivedAt returns the timestamp as a time.Time.
func (m Message) ReceivedAt() time.Time {
	return time.UnixMilli(m.Timestamp)
}

// Record pairs a message with its delivery state for storage.
type Record struct {
	Message Message               `json:"message"`
	State   *status.DeliveryState `json:"state"`
}

// NewRecord builds a record with the initial delivery state for the message.
func NewRecord(msg Message) Record {
	return Record{
		Message: msg,
		State:   status.NewDeliveryState(msg.HasCodes()),
	}
}
