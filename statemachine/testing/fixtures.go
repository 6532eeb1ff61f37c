//nolint:mnd // Fixture durations
package testing

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/amp-labs/stage-engine/statemachine"
	"github.com/stretchr/testify/assert"
	"gopkg.in/yaml.v3"
)

// LoadTestConfig loads a config from the testdata directory.
func LoadTestConfig(name string) (*statemachine.Config, error) {
	path := filepath.Join("testdata", name)

	return statemachine.LoadConfig(path)
}

// SaveTestConfig writes a config to the testdata directory as YAML.
// Guard functions are not written; guard names are.
func SaveTestConfig(name string, config *statemachine.Config) error {
	testdataDir := "testdata"

	err := os.MkdirAll(testdataDir, 0o755)
	if err != nil {
		return fmt.Errorf("failed to create testdata dir: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	err = os.WriteFile(filepath.Join(testdataDir, name), data, 0o600)
	if err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// PayloadEquals returns a guard that passes when the payload equals want.
func PayloadEquals(want any) statemachine.Guard {
	return func(_, payload any) bool {
		return assert.ObjectsAreEqual(want, payload)
	}
}

// CommonTestConfigs provides frequently used test configurations.
var CommonTestConfigs = struct {
	Linear    func() *statemachine.Config
	Branching func() *statemachine.Config
	Timed     func() *statemachine.Config
	Wizard    func() *statemachine.Config
}{
	Linear: func() *statemachine.Config {
		return statemachine.NewBuilder("linear").
			AddStage("start", statemachine.On("next", "middle")).
			AddStage("middle", statemachine.On("next", "end")).
			AddStage("end", statemachine.WithMetadata("terminal", true)).
			Config()
	},
	Branching: func() *statemachine.Config {
		return statemachine.NewBuilder("branching").
			AddStage("start",
				statemachine.OnIf("decide", "success", PayloadEquals("ok")),
				statemachine.On("decide", "failure"),
			).
			AddStage("success").
			AddStage("failure", statemachine.On("retry", "start")).
			Config()
	},
	Timed: func() *statemachine.Config {
		return statemachine.NewBuilder("timed").
			AddStage("splash", statemachine.After(2*time.Second, "skip"), statemachine.On("skip", "home")).
			AddStage("home",
				statemachine.After(time.Minute, "idle"),
				statemachine.On("idle", "screensaver"),
				statemachine.On("touch", "home"),
			).
			AddStage("screensaver", statemachine.On("touch", "home"), statemachine.WithEffect("fade")).
			Config()
	},
	Wizard: func() *statemachine.Config {
		return statemachine.NewBuilder("wizard").
			WithInitialData(map[string]any{}).
			AddStage("account", statemachine.On("next", "profile")).
			AddStage("profile", statemachine.On("next", "review"), statemachine.On("back", "account")).
			AddStage("review", statemachine.On("submit", "done"), statemachine.On("back", "profile")).
			AddStage("done", statemachine.WithMetadata("terminal", true)).
			Config()
	},
}
