package config

import (
	"slices"

	"github.com/oshokin/flag-arbiter/internal/domain/flag"
)

// Seeds converts the flag definitions into domain flags, all Off.
// Call it on a validated configuration.
func (c *Config) Seeds() ([]*flag.Flag, error) {
	seeds := make([]*flag.Flag, 0, len(c.Flags))

	for _, def := range c.Flags {
		f, err := def.ToFlag()
		if err != nil {
			return nil, err
		}

		seeds = append(seeds, f)
	}

	return seeds, nil
}

// ToFlag converts the definition into a domain flag in the Off state.
func (d FlagDefinition) ToFlag() (*flag.Flag, error) {
	tier, err := flag.ParseTier(d.Type)
	if err != nil {
		return nil, err
	}

	name := d.Name
	if name == "" {
		name = d.ID
	}

	return &flag.Flag{
		ID:               d.ID,
		Name:             name,
		Tier:             tier,
		Priority:         flag.ClonePriority(d.Priority),
		LinkedLowerFlags: slices.Clone(d.LinkedLowerFlags),
		OnActions:        toActions(d.OnActions),
		OffActions:       toActions(d.OffActions),
	}, nil
}

// toActions converts action definitions into domain actions.
func toActions(definitions []ActionDefinition) []flag.Action {
	if len(definitions) == 0 {
		return nil
	}

	actions := make([]flag.Action, 0, len(definitions))
	for _, def := range definitions {
		actions = append(actions, flag.Action{Type: def.Type, Params: def.Params}.Clone())
	}

	return actions
}
