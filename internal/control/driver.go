package control

import (
	"context"

	"github.com/oshokin/flag-arbiter/internal/logger"
)

// Driver executes commands on the external display surface.
type Driver interface {
	SwitchScene(ctx context.Context, scene string) error
	StartRecording(ctx context.Context) error
	StopRecording(ctx context.Context) error
	SaveReplayBuffer(ctx context.Context) error
}

// LogDriver only logs the commands it receives.
type LogDriver struct{}

// SwitchScene logs a scene switch.
func (LogDriver) SwitchScene(ctx context.Context, scene string) error {
	logger.InfoKV(ctx, "Switch scene", "scene", scene)

	return nil
}

// StartRecording logs a recording start.
func (LogDriver) StartRecording(ctx context.Context) error {
	logger.Info(ctx, "Start recording")

	return nil
}

// StopRecording logs a recording stop.
func (LogDriver) StopRecording(ctx context.Context) error {
	logger.Info(ctx, "Stop recording")

	return nil
}

// SaveReplayBuffer logs a replay buffer save.
func (LogDriver) SaveReplayBuffer(ctx context.Context) error {
	logger.Info(ctx, "Save replay buffer")

	return nil
}
