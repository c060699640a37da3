package control

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/flag-arbiter/internal/domain/flag"
)

var errTestDriver = errors.New("driver offline")

// recordingDriver remembers commands and can fail scene switches.
type recordingDriver struct {
	commands   []string
	failSwitch bool
}

func (d *recordingDriver) SwitchScene(_ context.Context, scene string) error {
	if d.failSwitch {
		return errTestDriver
	}

	d.commands = append(d.commands, "scene:"+scene)

	return nil
}

func (d *recordingDriver) StartRecording(context.Context) error {
	d.commands = append(d.commands, "record:start")

	return nil
}

func (d *recordingDriver) StopRecording(context.Context) error {
	d.commands = append(d.commands, "record:stop")

	return nil
}

func (d *recordingDriver) SaveReplayBuffer(context.Context) error {
	d.commands = append(d.commands, "buffer:save")

	return nil
}

func winnerDecision(id, scene string, extra ...flag.Action) *flag.Decision {
	actions := []flag.Action{{Type: flag.ActionSwitchScene, Params: map[string]any{"scene_name": scene}}}

	return &flag.Decision{
		Winner: &flag.WinnerView{ID: id, OnActions: append(actions, extra...)},
	}
}

// TestSceneClient_AppliesWinnerOnce skips decisions for the winner already applied.
func TestSceneClient_AppliesWinnerOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	driver := new(recordingDriver)
	c := NewSceneClient(driver)

	record := flag.Action{Type: flag.ActionStartRecording}

	require.NoError(t, c.Apply(ctx, winnerDecision("eew", "EEW", record)))
	require.NoError(t, c.Apply(ctx, winnerDecision("eew", "EEW", record)))
	require.Equal(t, []string{"scene:EEW", "record:start"}, driver.commands)

	require.NoError(t, c.Apply(ctx, winnerDecision("tsunami", "Tsunami", record, flag.Action{Type: flag.ActionSaveReplayBuffer})))
	require.Equal(t, []string{"scene:EEW", "record:start", "scene:Tsunami", "buffer:save"}, driver.commands)
}

// TestSceneClient_DedupesScenes does not switch to the scene already shown.
func TestSceneClient_DedupesScenes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	driver := new(recordingDriver)
	c := NewSceneClient(driver)

	require.NoError(t, c.Apply(ctx, winnerDecision("eew", "Alert")))
	require.NoError(t, c.Apply(ctx, winnerDecision("tsunami", "Alert", flag.Action{Type: flag.ActionStopRecording})))
	require.NoError(t, c.Apply(ctx, winnerDecision("volcano", "Alert", flag.Action{Type: flag.ActionStopRecording})))
	require.Equal(t, []string{"scene:Alert", "record:stop"}, driver.commands)
}

// TestSceneClient_Idle switches to the default scene only when configured.
func TestSceneClient_Idle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	driver := new(recordingDriver)
	c := NewSceneClient(driver)
	require.NoError(t, c.Apply(ctx, &flag.Decision{}))
	require.Empty(t, driver.commands)

	driver = new(recordingDriver)
	c = NewSceneClient(driver, WithDefaultScene("Main"))
	require.NoError(t, c.Apply(ctx, winnerDecision("eew", "EEW")))
	require.NoError(t, c.Apply(ctx, &flag.Decision{}))
	require.NoError(t, c.Apply(ctx, &flag.Decision{}))
	require.Equal(t, []string{"scene:EEW", "scene:Main"}, driver.commands)
}

// TestSceneClient_FailureIsRetried reapplies a winner whose commands failed.
func TestSceneClient_FailureIsRetried(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	driver := &recordingDriver{failSwitch: true}
	c := NewSceneClient(driver)

	err := c.Apply(ctx, winnerDecision("eew", "EEW"))
	require.ErrorIs(t, err, errTestDriver)
	require.Empty(t, driver.commands)

	driver.failSwitch = false

	require.NoError(t, c.Apply(ctx, winnerDecision("eew", "EEW")))
	require.Equal(t, []string{"scene:EEW"}, driver.commands)
}

// TestSceneClient_IgnoresIncompleteActions skips actions it cannot run.
func TestSceneClient_IgnoresIncompleteActions(t *testing.T) {
	t.Parallel()

	driver := new(recordingDriver)
	c := NewSceneClient(driver)

	decision := &flag.Decision{Winner: &flag.WinnerView{ID: "eew", OnActions: []flag.Action{
		{Type: flag.ActionSwitchScene},
		{Type: flag.ActionNone},
		{Type: "show_source"},
	}}}

	require.NoError(t, c.Apply(context.Background(), decision))
	require.Empty(t, driver.commands)
}

// TestLogDriver accepts every command.
func TestLogDriver(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := NewSceneClient(LogDriver{}, WithDefaultScene("Main"))

	require.NoError(t, c.Apply(ctx, winnerDecision("eew", "EEW",
		flag.Action{Type: flag.ActionStartRecording},
		flag.Action{Type: flag.ActionStopRecording},
		flag.Action{Type: flag.ActionSaveReplayBuffer},
	)))
	require.NoError(t, c.Apply(ctx, &flag.Decision{}))
}
