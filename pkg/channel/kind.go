// Package channel defines the delivery channel kinds and their validated
// configurations. A channel is one configured way out of the system: the
// SMTP email gateway or the ServerChan-style HTTP push gateway.
package channel

// Kind identifies one delivery channel.
type Kind string

const (
	// KindEmail is the SMTP email gateway channel.
	KindEmail Kind = "email"
	// KindPush is the HTTP push gateway channel.
	KindPush Kind = "push"
)

// Kinds lists all known channel kinds in a stable order.
func Kinds() []Kind {
	return []Kind{KindEmail, KindPush}
}

// String returns the kind name.
func (k Kind) String() string {
	return string(k)
}
