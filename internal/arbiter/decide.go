package arbiter

import (
	"github.com/oshokin/flag-arbiter/internal/domain/flag"
)

// decide returns the winning flag among flags, or nil when none is eligible.
//
// Flags that are not upper tier or not On are dropped first. Numeric priorities
// outrank automatic ones, the lowest number wins, the latest state change breaks
// ties and the smallest id breaks the rest. The input is not modified.
func decide(flags []*flag.Flag) *flag.Flag {
	var winner *flag.Flag

	for _, candidate := range flags {
		if !candidate.IsActiveUpper() {
			continue
		}

		if winner == nil || outranks(candidate, winner) {
			winner = candidate
		}
	}

	return winner
}

// outranks reports whether a strictly precedes b in the arbitration order.
func outranks(a, b *flag.Flag) bool {
	switch {
	case a.HasPriority() != b.HasPriority():
		return a.HasPriority()
	case a.HasPriority() && *a.Priority != *b.Priority:
		return *a.Priority < *b.Priority
	case !a.LastStateChange.Equal(b.LastStateChange):
		return a.LastStateChange.After(b.LastStateChange)
	default:
		return a.ID < b.ID
	}
}
