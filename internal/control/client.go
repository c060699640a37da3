package control

import (
	"context"
	"fmt"
	"sync"

	"github.com/oshokin/flag-arbiter/internal/domain/flag"
	"github.com/oshokin/flag-arbiter/internal/logger"
)

// SceneClient applies decisions through a Driver.
type SceneClient struct {
	driver       Driver
	defaultScene string

	mu sync.Mutex
	// applied is set once a decision was fully applied.
	applied bool
	// winner is the id of the last applied winner, "" for idle.
	winner string
	// scene is the scene the driver was last switched to.
	scene string
	// recording is the last recording state requested, nil when unknown.
	recording *bool
}

// Option configures the scene client.
type Option func(*SceneClient)

// WithDefaultScene sets the scene applied when no upper flag is active.
func WithDefaultScene(scene string) Option {
	return func(c *SceneClient) {
		c.defaultScene = scene
	}
}

// NewSceneClient creates a client that drives d.
func NewSceneClient(d Driver, opts ...Option) *SceneClient {
	c := &SceneClient{driver: d}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Apply reflects the decision. A decision for the winner already applied is skipped.
// When a command fails the winner is not remembered, so the next decision reapplies it.
func (c *SceneClient) Apply(ctx context.Context, decision *flag.Decision) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	winnerID := decision.WinnerID()
	if c.applied && c.winner == winnerID {
		logger.DebugKV(ctx, "Winner unchanged, nothing to apply", "winner", winnerID)

		return nil
	}

	c.applied = false

	var err error
	if decision.IsIdle() {
		err = c.applyIdle(ctx)
	} else {
		err = c.applyWinner(ctx, decision.Winner)
	}

	if err != nil {
		return err
	}

	c.applied = true
	c.winner = winnerID

	return nil
}

func (c *SceneClient) applyIdle(ctx context.Context) error {
	if c.defaultScene == "" {
		logger.Debug(ctx, "No upper flag active, keeping the current scene")

		return nil
	}

	return c.switchScene(ctx, c.defaultScene)
}

func (c *SceneClient) applyWinner(ctx context.Context, winner *flag.WinnerView) error {
	ctx = logger.WithKV(ctx, "winner", winner.ID)

	for _, action := range winner.OnActions {
		if err := c.execute(ctx, action); err != nil {
			return fmt.Errorf("%s for %q: %w", action.Type, winner.ID, err)
		}
	}

	return nil
}

func (c *SceneClient) execute(ctx context.Context, action flag.Action) error {
	switch action.Type {
	case flag.ActionSwitchScene:
		scene := action.StringParam("scene_name")
		if scene == "" {
			logger.Warn(ctx, "Scene switch without scene_name ignored")

			return nil
		}

		return c.switchScene(ctx, scene)
	case flag.ActionStartRecording:
		return c.setRecording(ctx, true)
	case flag.ActionStopRecording:
		return c.setRecording(ctx, false)
	case flag.ActionSaveReplayBuffer:
		return c.driver.SaveReplayBuffer(ctx)
	case flag.ActionNone:
		return nil
	default:
		logger.WarnKV(ctx, "Unsupported action ignored", "type", action.Type)

		return nil
	}
}

func (c *SceneClient) switchScene(ctx context.Context, scene string) error {
	if c.scene == scene {
		return nil
	}

	if err := c.driver.SwitchScene(ctx, scene); err != nil {
		return err
	}

	c.scene = scene

	return nil
}

func (c *SceneClient) setRecording(ctx context.Context, on bool) error {
	if c.recording != nil && *c.recording == on {
		return nil
	}

	var err error
	if on {
		err = c.driver.StartRecording(ctx)
	} else {
		err = c.driver.StopRecording(ctx)
	}

	if err != nil {
		return err
	}

	c.recording = &on

	return nil
}
