package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/flag-arbiter/internal/domain/flag"
	"github.com/oshokin/flag-arbiter/internal/logger"
)

// Config holds the settings shared by the flag-arbiter binaries.
type Config struct {
	// ServerAddress is the gRPC address ingestion sources and flagctl connect to.
	ServerAddress string `yaml:"server_addr"`
	// MetricsAddress is the optional listen address for the Prometheus endpoint.
	MetricsAddress string `yaml:"metrics_addr,omitempty"`
	// StateFile is the path of the persisted flag records.
	StateFile string `yaml:"state_file"`
	// Storage selects the persistence backend: "file" or "sqlite".
	Storage string `yaml:"storage"`
	// Timeout is the duration for network operations and RPC calls.
	Timeout time.Duration `yaml:"timeout"`
	// RetryInterval is the delay before a failed control delivery is recomputed and retried.
	// Zero means DefaultRetryInterval, a negative value disables retries.
	RetryInterval time.Duration `yaml:"retry_interval"`
	// LogLevel is the minimum zap level name.
	LogLevel string `yaml:"log_level"`
	// LogFormat is "console" or "json".
	LogFormat string `yaml:"log_format,omitempty"`
	// DefaultScene is switched to when no upper flag is active. Empty keeps the scene.
	DefaultScene string `yaml:"default_scene,omitempty"`
	// Flags are the flag definitions seeded into the store at startup.
	Flags []FlagDefinition `yaml:"flags"`
}

// FlagDefinition describes a flag in the settings file.
type FlagDefinition struct {
	// ID is the unique flag identifier.
	ID string `yaml:"id"`
	// Name is a human-readable label.
	Name string `yaml:"name"`
	// Type is "upper" or "lower".
	Type string `yaml:"type"`
	// Priority is nil for automatic priority. Upper flags only.
	Priority *int `yaml:"priority"`
	// LinkedLowerFlags drive an upper flag as the OR of their states.
	LinkedLowerFlags []string `yaml:"linked_lower_flags,omitempty"`
	// OnActions are display effects wanted while the flag wins.
	OnActions []ActionDefinition `yaml:"on_actions,omitempty"`
	// OffActions are informational only.
	OffActions []ActionDefinition `yaml:"off_actions,omitempty"`
}

// ActionDefinition describes a display effect in the settings file.
type ActionDefinition struct {
	// Type is one of the known action types, e.g. "switch_scene".
	Type string `yaml:"type"`
	// Params are effect-specific parameters.
	Params map[string]any `yaml:"params,omitempty"`
}

const (
	// DefaultConfigFilename is the default filename for settings.
	DefaultConfigFilename = "flag-arbiter-settings.yaml"

	// DefaultStateFilename is the default filename for persisted flags.
	DefaultStateFilename = "flag-arbiter-state.json"

	// DefaultTimeout is the default duration for network operations.
	DefaultTimeout = 5 * time.Second

	// DefaultRetryInterval is the default delay before a failed delivery is retried.
	DefaultRetryInterval = 2 * time.Second

	// DefaultFilePermissions is the default file permission for config and state files.
	DefaultFilePermissions = 0o600

	// StorageFile persists flags as a JSON document.
	StorageFile = "file"
	// StorageSQLite persists flags in a SQLite database.
	StorageSQLite = "sqlite"
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errServerSocketRequired is returned when server address is missing.
	errServerSocketRequired = errors.New("server address must be provided")
	// errUnknownStorage is returned for storage names other than file and sqlite.
	errUnknownStorage = errors.New("unknown storage backend")
	// errInvalidLogSetting is returned for unknown log levels or formats.
	errInvalidLogSetting = errors.New("invalid log setting")
	// errInvalidFlag is returned for malformed flag definitions.
	errInvalidFlag = errors.New("invalid flag definition")
)

// Load reads configuration from the provided path and validates essential fields.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the configuration to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks required fields, applies defaults and validates flag definitions.
func Validate(settings *Config) error {
	if settings.ServerAddress == "" {
		return errServerSocketRequired
	}

	if _, err := net.ResolveTCPAddr("tcp", settings.ServerAddress); err != nil {
		return fmt.Errorf("invalid server socket: %w", err)
	}

	if settings.MetricsAddress != "" {
		if _, err := net.ResolveTCPAddr("tcp", settings.MetricsAddress); err != nil {
			return fmt.Errorf("invalid metrics socket: %w", err)
		}
	}

	if settings.Timeout <= 0 {
		settings.Timeout = DefaultTimeout
	}

	switch {
	case settings.RetryInterval == 0:
		settings.RetryInterval = DefaultRetryInterval
	case settings.RetryInterval < 0:
		settings.RetryInterval = -1
	}

	if settings.StateFile == "" {
		settings.StateFile = DefaultStateFilename
	}

	switch settings.Storage {
	case "":
		settings.Storage = StorageFile
	case StorageFile, StorageSQLite:
	default:
		return fmt.Errorf("%w: %q", errUnknownStorage, settings.Storage)
	}

	if settings.LogLevel == "" {
		settings.LogLevel = "info"
	}

	if _, ok := logger.ParseLogLevel(settings.LogLevel); !ok {
		return fmt.Errorf("%w: level %q", errInvalidLogSetting, settings.LogLevel)
	}

	if _, ok := logger.ParseFormat(settings.LogFormat); !ok {
		return fmt.Errorf("%w: format %q", errInvalidLogSetting, settings.LogFormat)
	}

	return validateFlags(settings.Flags)
}

// validateFlags checks ids, tiers, priorities, links and action types.
func validateFlags(definitions []FlagDefinition) error {
	tiers := make(map[string]flag.Tier, len(definitions))

	for _, def := range definitions {
		if def.ID == "" {
			return fmt.Errorf("%w: empty id", errInvalidFlag)
		}

		if _, seen := tiers[def.ID]; seen {
			return fmt.Errorf("%w: duplicate id %q", errInvalidFlag, def.ID)
		}

		tier, err := flag.ParseTier(def.Type)
		if err != nil {
			return fmt.Errorf("%w: %q: %w", errInvalidFlag, def.ID, err)
		}

		if tier == flag.TierLower && (def.Priority != nil || len(def.LinkedLowerFlags) > 0) {
			return fmt.Errorf("%w: %q: priority and linked flags are upper-only", errInvalidFlag, def.ID)
		}

		for _, action := range slices.Concat(def.OnActions, def.OffActions) {
			if err := flag.ValidateActionType(action.Type); err != nil {
				return fmt.Errorf("%w: %q: %w", errInvalidFlag, def.ID, err)
			}
		}

		tiers[def.ID] = tier
	}

	for _, def := range definitions {
		for _, linked := range def.LinkedLowerFlags {
			if tiers[linked] != flag.TierLower {
				return fmt.Errorf("%w: %q links %q which is not a lower flag", errInvalidFlag, def.ID, linked)
			}
		}
	}

	return nil
}
