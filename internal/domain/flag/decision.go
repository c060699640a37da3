package flag

import (
	"time"

	"github.com/google/uuid"
)

// WinnerView is what the control client learns about the winning flag.
type WinnerView struct {
	// ID identifies the winning flag.
	ID string
	// Name is the flag's human-readable label.
	Name string
	// Priority is the winner's priority, nil when automatic.
	Priority *int
	// LastStateChange is when the winner last transitioned.
	LastStateChange time.Time
	// OnActions is the payload the client translates into display commands.
	OnActions []Action
}

// NewWinnerView builds a detached view of f. It returns nil for a nil flag.
func NewWinnerView(f *Flag) *WinnerView {
	if f == nil {
		return nil
	}

	return &WinnerView{
		ID:              f.ID,
		Name:            f.Name,
		Priority:        ClonePriority(f.Priority),
		LastStateChange: f.LastStateChange,
		OnActions:       CloneActions(f.OnActions),
	}
}

// Clone returns a deep copy of the view.
func (w *WinnerView) Clone() *WinnerView {
	if w == nil {
		return nil
	}

	return &WinnerView{
		ID:              w.ID,
		Name:            w.Name,
		Priority:        ClonePriority(w.Priority),
		LastStateChange: w.LastStateChange,
		OnActions:       CloneActions(w.OnActions),
	}
}

// Decision is the result of one recomputation.
type Decision struct {
	// ID correlates a decision across logs and the control client.
	ID uuid.UUID
	// Sequence increases by one per recomputation.
	Sequence uint64
	// Trigger is the flag whose change caused the recomputation, empty for resyncs.
	Trigger string
	// Winner is nil when no upper flag is active (idle state).
	Winner *WinnerView
	// ActiveUpper is the number of active upper flags considered.
	ActiveUpper int
	// DecidedAt is the wall-clock time of the recomputation.
	DecidedAt time.Time
}

// IsIdle reports whether the decision asks for the default/idle state.
func (d *Decision) IsIdle() bool {
	return d == nil || d.Winner == nil
}

// WinnerID returns the winner identifier or "" when idle.
func (d *Decision) WinnerID() string {
	if d.IsIdle() {
		return ""
	}

	return d.Winner.ID
}

// Clone returns a deep copy of the decision.
func (d *Decision) Clone() *Decision {
	if d == nil {
		return nil
	}

	cloned := *d
	cloned.Winner = d.Winner.Clone()

	return &cloned
}
