// Package status models per-channel forwarding status and the unified
// status derived from it.
package status

// Status represents the forwarding state of a message on one channel, or
// the unified state across all channels.
type Status string

const (
	// NotSent means forwarding has not been attempted yet.
	NotSent Status = "not_sent"
	// Sending means forwarding is currently in progress.
	Sending Status = "sending"
	// Success means forwarding completed successfully.
	Success Status = "success"
	// Failed means forwarding failed.
	Failed Status = "failed"
	// Disabled means forwarding is off or not applicable (no codes).
	Disabled Status = "disabled"
)

// Parse maps a stored value back to a Status, falling back to NotSent.
func Parse(value string) Status {
	switch Status(value) {
	case NotSent, Sending, Success, Failed, Disabled:
		return Status(value)
	default:
		return NotSent
	}
}

// String returns the wire value of the status.
func (s Status) String() string { return string(s) }

// IsCompleted reports whether the status is terminal (success or failed).
func (s Status) IsCompleted() bool { return s == Success || s == Failed }

// IsActive reports whether a send is in flight.
func (s Status) IsActive() bool { return s == Sending }
