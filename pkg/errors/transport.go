package errors

import (
	"fmt"
	"strings"
)

// ClassifyTransport maps a raw transport error onto one of the NET codes by
// substring matching. The matching is intentionally coarse: it only has to
// pick a remediation category, not identify the exact fault.
func ClassifyTransport(raw error) Code {
	if raw == nil {
		return ErrTransportOther
	}
	msg := strings.ToLower(raw.Error())
	switch {
	case strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "timed out") ||
		strings.Contains(msg, "deadline exceeded") ||
		strings.Contains(msg, "etimedout"):
		return ErrTransportTimeout
	case strings.Contains(msg, "auth") ||
		strings.Contains(msg, "535"):
		return ErrTransportAuth
	case strings.Contains(msg, "connect") ||
		strings.Contains(msg, "refused") ||
		strings.Contains(msg, "no such host"):
		return ErrTransportConnect
	default:
		return ErrTransportOther
	}
}

// FormatTransport wraps a terminal transport failure into a ForwardError
// whose message carries remediation suggestions for the matched category,
// followed by the original error text.
func FormatTransport(channel string, raw error) *ForwardError {
	code := ClassifyTransport(raw)

	var msg string
	switch code {
	case ErrTransportTimeout:
		msg = "connection timed out; check:\n" +
			"1. the network connection is up\n" +
			"2. no VPN or proxy is interfering\n" +
			"3. a firewall is not blocking the gateway port"
	case ErrTransportAuth:
		msg = "gateway rejected the credentials; check:\n" +
			"1. the account address is correct\n" +
			"2. the secret is an app authorization key, not the account password\n" +
			"3. the gateway has third-party access enabled"
	case ErrTransportConnect:
		msg = "could not connect to the gateway; check:\n" +
			"1. the network connection status\n" +
			"2. whether a network proxy is in use\n" +
			"3. whether the carrier blocks the gateway port"
	default:
		msg = "send failed"
	}

	e := Wrap(code, msg, raw).WithChannel(channel)
	if raw != nil {
		e.Details = fmt.Sprintf("original error: %s", raw.Error())
	}
	return e
}
