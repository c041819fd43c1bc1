// Package errors defines coded errors for CodeForward.
package errors

// Code represents an error code for categorization.
type Code string

// Error categories.
const (
	ConfigurationCategory = "CFG"
	ChannelCategory       = "CHN"
	NetworkCategory       = "NET"
	StoreCategory         = "STO"
)

// Configuration error codes.
const (
	ErrInvalidConfig Code = "CFG001" // Invalid channel configuration
	ErrMissingConfig Code = "CFG002" // Missing required configuration
)

// Channel error codes.
const (
	ErrChannelDisabled Code = "CHN001" // Channel disabled or not applicable
)

// Network error codes, classified from raw transport errors.
const (
	ErrTransportTimeout Code = "NET001" // Transport timeout
	ErrTransportAuth    Code = "NET002" // Authentication rejected by the gateway
	ErrTransportConnect Code = "NET003" // Could not connect to the gateway
	ErrTransportOther   Code = "NET004" // Unclassified transport failure
)

// Store error codes.
const (
	ErrStoreUpdateMiss Code = "STO001" // Update target not found in the store
	ErrPersistence     Code = "STO002" // Durable write or read failed
)

// Category returns the category prefix of the code.
func (c Code) Category() string {
	if len(c) < 3 {
		return ""
	}
	return string(c[:3])
}
