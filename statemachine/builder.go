package statemachine

import "time"

// Builder provides a fluent API for constructing stage machines in code.
type Builder struct {
	config *Config
}

// StageOption configures a stage added with Builder.AddStage.
type StageOption func(*Stage)

// NewBuilder creates a new builder.
func NewBuilder(name string) *Builder {
	return &Builder{
		config: &Config{
			Name:   name,
			Stages: []Stage{},
		},
	}
}

// WithInitialStage sets the initial stage.
func (b *Builder) WithInitialStage(stage string) *Builder {
	b.config.Initial = stage

	return b
}

// WithInitialData sets the data the engine starts (and resets) with.
func (b *Builder) WithInitialData(data any) *Builder {
	b.config.InitialData = data

	return b
}

// AddStage adds a stage. The first stage added becomes the initial stage unless one is set.
func (b *Builder) AddStage(name string, opts ...StageOption) *Builder {
	stage := Stage{Name: name}
	for _, opt := range opts {
		opt(&stage)
	}

	b.config.Stages = append(b.config.Stages, stage)

	if b.config.Initial == "" {
		b.config.Initial = name
	}

	return b
}

// On adds an unguarded transition.
func On(event, target string) StageOption {
	return func(s *Stage) {
		s.Transitions = append(s.Transitions, Transition{Event: event, Target: target})
	}
}

// OnIf adds a transition taken only when guard returns true.
func OnIf(event, target string, guard Guard) StageOption {
	return func(s *Stage) {
		s.Transitions = append(s.Transitions, Transition{Event: event, Target: target, Guard: guard})
	}
}

// OnGuard adds a transition gated by a guard registered with WithGuards.
func OnGuard(event, target, guardName string) StageOption {
	return func(s *Stage) {
		s.Transitions = append(s.Transitions, Transition{Event: event, Target: target, GuardName: guardName})
	}
}

// After adds a timer firing event once d has passed in the stage.
func After(d time.Duration, event string, payload ...any) StageOption {
	return func(s *Stage) {
		p, _ := optionalData(payload)
		s.Timers = append(s.Timers, TimerSpec{Duration: d, Event: event, Payload: p})
	}
}

// WithEffect sets the effect name of the stage.
func WithEffect(effect string) StageOption {
	return func(s *Stage) {
		s.Effect = effect
	}
}

// WithMetadata attaches a metadata entry to the stage.
func WithMetadata(key string, value any) StageOption {
	return func(s *Stage) {
		if s.Metadata == nil {
			s.Metadata = map[string]any{}
		}

		s.Metadata[key] = value
	}
}

// Config returns the configuration built so far.
func (b *Builder) Config() *Config {
	return b.config.Clone()
}

// Build validates the configuration and creates the engine.
func (b *Builder) Build(opts ...Option) (*Engine, error) {
	return New(b.config, opts...)
}
