package flag

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// TestParseTier verifies known tiers parse case-insensitively and unknown ones fail.
func TestParseTier(t *testing.T) {
	t.Parallel()

	tier, err := ParseTier(" Upper ")
	require.NoError(t, err)
	require.Equal(t, TierUpper, tier)

	tier, err = ParseTier("lower")
	require.NoError(t, err)
	require.Equal(t, TierLower, tier)

	_, err = ParseTier("middle")
	require.ErrorIs(t, err, ErrUnknownTier)
}

// TestFlagClone verifies that Clone deep-copies priority, links and action params.
func TestFlagClone(t *testing.T) {
	t.Parallel()
	require.Nil(t, (*Flag)(nil).Clone())

	f := &Flag{
		ID:               "eew-warning",
		Name:             "EEW warning",
		Tier:             TierUpper,
		State:            true,
		Priority:         Priority(1),
		LastStateChange:  time.Unix(100, 0),
		LinkedLowerFlags: []string{"eew-new"},
		OnActions: []Action{{
			Type:   ActionSwitchScene,
			Params: map[string]any{"scene_name": "EEW", "nested": map[string]any{"k": "v"}},
		}},
	}

	c := f.Clone()
	require.Equal(t, f, c)
	require.NotSame(t, f, c)
	require.NotSame(t, f.Priority, c.Priority)

	*c.Priority = 7
	c.LinkedLowerFlags[0] = "other"
	c.OnActions[0].Params["scene_name"] = "Other"
	c.OnActions[0].Params["nested"].(map[string]any)["k"] = "changed"

	require.Equal(t, 1, *f.Priority)
	require.Equal(t, "eew-new", f.LinkedLowerFlags[0])
	require.Equal(t, "EEW", f.OnActions[0].StringParam("scene_name"))
	require.Equal(t, "v", f.OnActions[0].Params["nested"].(map[string]any)["k"])
}

// TestIsActiveUpper checks the tier and state combinations.
func TestIsActiveUpper(t *testing.T) {
	t.Parallel()

	require.False(t, (*Flag)(nil).IsActiveUpper())
	require.False(t, (&Flag{Tier: TierUpper}).IsActiveUpper())
	require.False(t, (&Flag{Tier: TierLower, State: true}).IsActiveUpper())
	require.True(t, (&Flag{Tier: TierUpper, State: true}).IsActiveUpper())
}

// TestValidateActionType accepts known action types and rejects others.
func TestValidateActionType(t *testing.T) {
	t.Parallel()

	for _, a := range []string{ActionNone, ActionSwitchScene, ActionStartRecording, ActionStopRecording, ActionSaveReplayBuffer} {
		require.NoError(t, ValidateActionType(a))
	}

	require.ErrorIs(t, ValidateActionType("reboot"), ErrUnknownAction)
}

// TestDecisionHelpers covers idle detection, winner id and cloning.
func TestDecisionHelpers(t *testing.T) {
	t.Parallel()

	var nilDecision *Decision
	require.True(t, nilDecision.IsIdle())
	require.Empty(t, nilDecision.WinnerID())

	idle := &Decision{ID: uuid.New(), Sequence: 1}
	require.True(t, idle.IsIdle())

	d := &Decision{
		ID:       uuid.New(),
		Sequence: 2,
		Winner: NewWinnerView(&Flag{
			ID:        "tsunami",
			Tier:      TierUpper,
			State:     true,
			Priority:  Priority(2),
			OnActions: []Action{{Type: ActionSwitchScene, Params: map[string]any{"scene_name": "Tsunami"}}},
		}),
	}
	require.False(t, d.IsIdle())
	require.Equal(t, "tsunami", d.WinnerID())

	c := d.Clone()
	require.Equal(t, d, c)
	require.NotSame(t, d.Winner, c.Winner)
	require.Equal(t, "2", FormatPriority(c.Winner.Priority))
	require.Equal(t, "auto", FormatPriority(nil))
}
