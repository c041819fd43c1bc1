// Package dispatcher implements the per-channel send protocol: two
// attempts, ordered by learned sub-protocol preference, with the second
// attempt acting as the only fallback. A dispatch that fails twice is
// terminal; there is no backoff and no further retry.
package dispatcher

import (
	"context"
	"time"

	"github.com/kart-io/codeforward/pkg/channel"
	"github.com/kart-io/codeforward/pkg/errors"
	"github.com/kart-io/codeforward/pkg/logger"
	"github.com/kart-io/codeforward/pkg/prefs"
)

// Payload is what a channel delivers: the extracted code plus enough of the
// original message for the recipient to recognize it.
type Payload struct {
	Code       string
	Content    string
	Sender     string
	ReceivedAt time.Time
}

// Transport is the wire-level half of a channel. It declares its
// sub-protocols in default preference order and performs one attempt at a
// time; everything above a single attempt (ordering, fallback, error
// shaping) belongs to the Dispatcher.
type Transport interface {
	Kind() channel.Kind
	// Protocols returns the transport's sub-protocols in default order.
	// One- and two-element transports are both supported.
	Protocols() []prefs.SubProtocol
	// Attempt performs a single send over the given sub-protocol.
	Attempt(ctx context.Context, proto prefs.SubProtocol, payload Payload) error
}

// Dispatcher executes the two-attempt send protocol for one channel kind.
type Dispatcher struct {
	transport Transport
	tracker   prefs.Tracker
	logger    logger.Logger
}

// New creates a dispatcher over the given transport.
func New(transport Transport, tracker prefs.Tracker, log logger.Logger) *Dispatcher {
	return &Dispatcher{
		transport: transport,
		tracker:   tracker,
		logger:    log,
	}
}

// Kind returns the channel kind this dispatcher serves.
func (d *Dispatcher) Kind() channel.Kind {
	return d.transport.Kind()
}

// Send runs the two-attempt protocol. The preferred sub-protocol is tried
// first; on success that protocol's counter is recorded and the fallback is
// never touched. When both attempts fail the returned error is built from
// the second attempt's raw error, classified into a remediation category.
// A transport with a single sub-protocol is attempted twice on it.
func (d *Dispatcher) Send(ctx context.Context, payload Payload) error {
	kind := d.transport.Kind()
	attempts := d.attemptOrder()

	var lastErr error
	for i, proto := range attempts {
		err := d.transport.Attempt(ctx, proto, payload)
		if err == nil {
			d.tracker.RecordSuccess(ctx, kind, proto)
			if i > 0 {
				d.logger.Info("send succeeded on fallback sub-protocol",
					"channel", kind, "protocol", proto)
			}
			return nil
		}
		lastErr = err
		d.logger.Warn("send attempt failed",
			"channel", kind, "protocol", proto, "attempt", i+1, "error", err)
	}

	return errors.FormatTransport(string(kind), lastErr)
}

// attemptOrder expands the transport's protocols into the exact two-attempt
// sequence: preference-ordered pair, or the single protocol twice.
func (d *Dispatcher) attemptOrder() []prefs.SubProtocol {
	protos := d.transport.Protocols()
	switch len(protos) {
	case 0:
		return nil
	case 1:
		return []prefs.SubProtocol{protos[0], protos[0]}
	default:
		return d.tracker.Order(d.transport.Kind(), protos[:2])
	}
}
