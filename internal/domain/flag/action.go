package flag

import (
	"errors"
	"fmt"
	"maps"
)

// Known action types understood by the scene control client.
const (
	ActionNone             = "none"
	ActionSwitchScene      = "switch_scene"
	ActionStartRecording   = "start_recording"
	ActionStopRecording    = "stop_recording"
	ActionSaveReplayBuffer = "save_replay_buffer"
)

// ErrUnknownAction is returned for action types no client understands.
var ErrUnknownAction = errors.New("unknown action type")

// Action is opaque display metadata attached to a flag.
// It is never executed by the arbiter itself.
type Action struct {
	// Type names the effect, e.g. "switch_scene".
	Type string
	// Params holds effect-specific parameters such as "scene_name".
	Params map[string]any
}

// ValidateActionType checks that t is one of the known action types.
func ValidateActionType(t string) error {
	switch t {
	case ActionNone, ActionSwitchScene, ActionStartRecording, ActionStopRecording, ActionSaveReplayBuffer:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, t)
	}
}

// StringParam returns a string parameter or "" when absent.
func (a Action) StringParam(key string) string {
	v, ok := a.Params[key].(string)
	if !ok {
		return ""
	}

	return v
}

// Clone returns a deep copy of the action.
func (a Action) Clone() Action {
	return Action{
		Type:   a.Type,
		Params: cloneParams(a.Params),
	}
}

// CloneActions copies a list of actions.
func CloneActions(actions []Action) []Action {
	if actions == nil {
		return nil
	}

	result := make([]Action, 0, len(actions))
	for _, a := range actions {
		result = append(result, a.Clone())
	}

	return result
}

func cloneParams(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}

	result := maps.Clone(params)
	for k, v := range result {
		result[k] = cloneValue(v)
	}

	return result
}

func cloneValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		return cloneParams(typed)
	case []any:
		list := make([]any, len(typed))
		for i, item := range typed {
			list[i] = cloneValue(item)
		}

		return list
	default:
		return v
	}
}
