package statemachine

import (
	"fmt"
	"io/fs"
	"maps"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/zeebo/xxh3"
	"gopkg.in/yaml.v3"
)

// Config describes the stages of an engine. It is validated eagerly by New.
type Config struct {
	Name        string  `json:"name,omitempty"        yaml:"name,omitempty"`
	Initial     string  `json:"initial"               yaml:"initial"`
	InitialData any     `json:"initialData,omitempty" yaml:"initialData,omitempty"`
	Stages      []Stage `json:"stages"                yaml:"stages"`
}

// LoadConfig reads a YAML configuration from the filesystem.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // Intentional path-based loading
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
	}

	return LoadConfigFromBytes(data)
}

// LoadConfigFromBytes parses a YAML configuration. The structure is checked by
// Validate or New.
func LoadConfigFromBytes(data []byte) (*Config, error) {
	var config Config

	err := yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return &config, nil
}

// LoadConfigFromFS loads a configuration from an embedded filesystem.
func LoadConfigFromFS(fsys fs.FS, path string) (*Config, error) {
	data, err := fs.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config from FS: %w", err)
	}

	return LoadConfigFromBytes(data)
}

// Validate checks the structure of the configuration and reports every problem found
// as ConfigErrors. All returned errors match ErrInvalidConfiguration.
func (c *Config) Validate() error {
	return c.validate(nil)
}

// validate also checks guard names when a registry is given.
func (c *Config) validate(guards map[string]Guard) error {
	if c == nil {
		return configError(ErrConfigNil)
	}

	var errs []error

	if c.Initial == "" {
		errs = append(errs, configError(ErrInitialStageRequired))
	}

	if len(c.Stages) == 0 {
		return append(ConfigErrors(errs), configError(ErrStageRequired))
	}

	names := make(map[string]bool, len(c.Stages))

	for i, stage := range c.Stages {
		if stage.Name == "" {
			errs = append(errs, configError(fmt.Errorf("stage %d: %w", i, ErrStageNameRequired)))

			continue
		}

		if names[stage.Name] {
			errs = append(errs, configError(fmt.Errorf("%w: %s", ErrDuplicateStageName, stage.Name)))
		}

		names[stage.Name] = true
	}

	if c.Initial != "" && !names[c.Initial] {
		errs = append(errs, configError(fmt.Errorf("%w: %s", ErrInitialStageNotFound, c.Initial)))
	}

	for _, stage := range c.Stages {
		for i, transition := range stage.Transitions {
			if transition.Event == "" {
				errs = append(errs, configError(
					WrapStageError(stage.Name, fmt.Errorf("transition %d: %w", i, ErrTransitionEventRequired))))
			}

			if !names[transition.Target] {
				errs = append(errs, configError(WrapStageError(stage.Name,
					fmt.Errorf("transition %d: %w: %q", i, ErrTransitionTargetNotFound, transition.Target))))
			}

			if guards != nil && transition.Guard == nil && transition.GuardName != "" {
				if _, ok := guards[transition.GuardName]; !ok {
					errs = append(errs, configError(WrapStageError(stage.Name,
						fmt.Errorf("transition %d: %w: %s", i, ErrUnknownGuard, transition.GuardName))))
				}
			}
		}

		for i, timer := range stage.Timers {
			if timer.Duration <= 0 {
				errs = append(errs, configError(WrapStageError(stage.Name,
					fmt.Errorf("timer %d: %w: %s", i, ErrTimerDurationInvalid, timer.Duration))))
			}

			if timer.Event == "" {
				errs = append(errs, configError(
					WrapStageError(stage.Name, fmt.Errorf("timer %d: %w", i, ErrTimerEventRequired))))
			}
		}
	}

	if len(errs) == 0 {
		return nil
	}

	return ConfigErrors(errs)
}

// Stage returns the stage with the given name.
func (c *Config) Stage(name string) (*Stage, bool) {
	for i := range c.Stages {
		if c.Stages[i].Name == name {
			return &c.Stages[i], true
		}
	}

	return nil, false
}

// StageNames returns the stage names in declaration order.
func (c *Config) StageNames() []string {
	names := make([]string, 0, len(c.Stages))
	for _, stage := range c.Stages {
		names = append(names, stage.Name)
	}

	return names
}

// Clone returns a deep copy of the stage table. Data values are copied by reference.
func (c *Config) Clone() *Config {
	clone := *c

	clone.Stages = make([]Stage, len(c.Stages))
	for i, stage := range c.Stages {
		stage.Transitions = slices.Clone(stage.Transitions)
		stage.Timers = slices.Clone(stage.Timers)
		stage.Metadata = maps.Clone(stage.Metadata)
		clone.Stages[i] = stage
	}

	return &clone
}

// Fingerprint returns a stable hash of the configuration's YAML encoding.
// Guard functions are not part of the encoding; guard names are.
func (c *Config) Fingerprint() string {
	data, err := yaml.Marshal(c)
	if err != nil {
		return ""
	}

	return fmt.Sprintf("%016x", xxh3.Hash(data))
}

// UnmarshalYAML accepts a duration either as integer milliseconds or as a Go duration string.
func (t *TimerSpec) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Duration yaml.Node `yaml:"duration"`
		Event    string    `yaml:"event"`
		Payload  any       `yaml:"payload"`
	}

	err := node.Decode(&raw)
	if err != nil {
		return err
	}

	duration, err := parseDuration(&raw.Duration)
	if err != nil {
		return fmt.Errorf("timer %q: %w", raw.Event, err)
	}

	t.Duration = duration
	t.Event = raw.Event
	t.Payload = raw.Payload

	return nil
}

// MarshalYAML writes the duration as a Go duration string so the output loads back unchanged.
func (t TimerSpec) MarshalYAML() (any, error) {
	return struct {
		Duration string `yaml:"duration"`
		Event    string `yaml:"event"`
		Payload  any    `yaml:"payload,omitempty"`
	}{
		Duration: t.Duration.String(),
		Event:    t.Event,
		Payload:  t.Payload,
	}, nil
}

func parseDuration(node *yaml.Node) (time.Duration, error) {
	if node.Kind == 0 {
		return 0, nil
	}

	if node.Kind != yaml.ScalarNode {
		return 0, fmt.Errorf("%w: duration must be a scalar", ErrTimerDurationInvalid)
	}

	if ms, err := strconv.ParseInt(node.Value, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}

	duration, err := time.ParseDuration(node.Value)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrTimerDurationInvalid, err)
	}

	return duration, nil
}
