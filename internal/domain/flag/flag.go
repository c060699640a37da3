package flag

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Tier tells whether a flag may drive the externally visible state.
type Tier string

const (
	// TierUpper flags participate in winner decisions.
	TierUpper Tier = "upper"
	// TierLower flags never participate in winner decisions directly.
	TierLower Tier = "lower"
)

// ErrUnknownTier is returned when a tier string is neither "upper" nor "lower".
var ErrUnknownTier = errors.New("unknown flag tier")

// ParseTier converts a persisted or configured tier name into a Tier.
func ParseTier(s string) (Tier, error) {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case TierUpper:
		return TierUpper, nil
	case TierLower:
		return TierLower, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTier, s)
	}
}

// Flag is a named state variable.
type Flag struct {
	// ID is the unique identifier, stable for the flag's lifetime.
	ID string
	// Name is a human-readable label.
	Name string
	// Tier is immutable after creation.
	Tier Tier
	// State is On (true) or Off (false).
	State bool
	// Priority is nil for automatic priority. Lower value means higher precedence.
	Priority *int
	// LastStateChange is stamped once per transition and only moves forward.
	LastStateChange time.Time
	// LinkedLowerFlags lists lower flags whose OR drives this upper flag.
	LinkedLowerFlags []string
	// OnActions describe the display effects wanted while the flag wins.
	OnActions []Action
	// OffActions are informational only.
	OffActions []Action
}

// IsUpper reports whether the flag belongs to the upper tier.
func (f *Flag) IsUpper() bool {
	return f != nil && f.Tier == TierUpper
}

// IsActiveUpper reports whether the flag is an upper flag that is currently On.
func (f *Flag) IsActiveUpper() bool {
	return f.IsUpper() && f.State
}

// HasPriority reports whether the flag carries an explicit numeric priority.
func (f *Flag) HasPriority() bool {
	return f != nil && f.Priority != nil
}

// Clone returns a deep copy of the flag.
func (f *Flag) Clone() *Flag {
	if f == nil {
		return nil
	}

	cloned := *f
	cloned.Priority = ClonePriority(f.Priority)
	cloned.LinkedLowerFlags = slices.Clone(f.LinkedLowerFlags)
	cloned.OnActions = CloneActions(f.OnActions)
	cloned.OffActions = CloneActions(f.OffActions)

	return &cloned
}

// Priority returns a pointer to v, handy for literals.
func Priority(v int) *int {
	return &v
}

// ClonePriority copies a nullable priority.
func ClonePriority(p *int) *int {
	if p == nil {
		return nil
	}

	v := *p

	return &v
}

// FormatPriority renders a nullable priority for logs.
func FormatPriority(p *int) string {
	if p == nil {
		return "auto"
	}

	return strconv.Itoa(*p)
}
