package status

import (
	"sort"
	"strings"

	"github.com/kart-io/codeforward/pkg/channel"
)

// Aggregate derives the unified status and error from per-channel states.
// It is a pure function of its inputs and the only way a unified status is
// ever produced.
//
// Rules, in order: a message without codes is Disabled unconditionally.
// Disabled channels are redundant alternatives that opted out and are
// ignored; if every channel is disabled the whole message is Disabled.
// Over the remaining channels: any in-flight send dominates; one success is
// enough (channels are alternatives, not required-all); all failed is
// failed; one failed with the rest untried is still reported as failed,
// because "failed plus untried" is not a success from the user's point of
// view; otherwise nothing has happened yet.
func Aggregate(hasCodes bool, channels map[channel.Kind]ChannelState) (Status, string) {
	if !hasCodes {
		return Disabled, ""
	}

	var active []ChannelState
	for _, state := range channels {
		if state.Status == Disabled {
			continue
		}
		if state.Status == "" {
			state.Status = NotSent
		}
		active = append(active, state)
	}
	if len(active) == 0 {
		return Disabled, ""
	}

	var sending, success, failed, notSent int
	for _, state := range active {
		switch state.Status {
		case Sending:
			sending++
		case Success:
			success++
		case Failed:
			failed++
		default:
			notSent++
		}
	}

	unified := NotSent
	switch {
	case sending > 0:
		unified = Sending
	case success > 0:
		unified = Success
	case failed == len(active):
		unified = Failed
	case failed == 1 && notSent == len(active)-1:
		unified = Failed
	}

	return unified, joinErrors(channels)
}

// joinErrors concatenates the genuine channel errors, tagged with the
// channel name, in a stable order. Disabled channels contribute nothing.
func joinErrors(channels map[channel.Kind]ChannelState) string {
	kinds := make([]channel.Kind, 0, len(channels))
	for kind := range channels {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	var parts []string
	for _, kind := range kinds {
		state := channels[kind]
		if state.Status == Disabled || state.Error == "" {
			continue
		}
		parts = append(parts, string(kind)+": "+state.Error)
	}
	return strings.Join(parts, "; ")
}
