// Package visualizer generates Mermaid and Graphviz diagrams from stage machine configurations.
//
//nolint:varnamelen // short names idiomatic
package visualizer

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/amp-labs/stage-engine/statemachine"
)

// Visualizer errors.
var (
	ErrConfigNil      = errors.New("config cannot be nil")
	ErrNoInitialStage = errors.New("config must have an initial stage")
)

// edge is one rendered arrow; transitions sharing a source and target collapse into one DOT edge.
type edge struct {
	from, to string
	labels   []string
	guarded  bool
	timed    bool
}

// GenerateMermaid converts a Config to a Mermaid state diagram.
func GenerateMermaid(config *statemachine.Config) (string, error) {
	return GenerateMermaidWithOptions(config, DefaultOptions())
}

// GenerateMermaidFromFile loads a config from a file and generates a Mermaid diagram.
func GenerateMermaidFromFile(path string) (string, error) {
	config, err := statemachine.LoadConfig(path)
	if err != nil {
		return "", fmt.Errorf("failed to load config: %w", err)
	}

	return GenerateMermaid(config)
}

// GenerateMermaidWithOptions generates a Mermaid diagram with custom options.
func GenerateMermaidWithOptions(config *statemachine.Config, opts Options) (string, error) {
	err := check(config)
	if err != nil {
		return "", err
	}

	highlightMap := make(map[string]bool)
	for _, stage := range opts.HighlightPath {
		highlightMap[stage] = true
	}

	var sb strings.Builder

	if opts.Markdown {
		sb.WriteString("```mermaid\n")
	}

	sb.WriteString("stateDiagram-v2\n")
	fmt.Fprintf(&sb, "    direction %s\n", opts.rankdir())
	fmt.Fprintf(&sb, "    [*] --> %s\n", config.Initial)

	var classes []string

	for _, stage := range config.Stages {
		if opts.ShowEffects && stage.Effect != "" {
			fmt.Fprintf(&sb, "    %s: %s (%s)\n", stage.Name, stage.Name, stage.Effect)
		}

		for _, transition := range stage.Transitions {
			label := transitionLabel(stage, transition, opts)
			fmt.Fprintf(&sb, "    %s --> %s: %s\n", stage.Name, transition.Target, label)
		}

		if isTerminal(stage) {
			fmt.Fprintf(&sb, "    %s --> [*]\n", stage.Name)
		}

		switch {
		case stage.Name == opts.Current:
			classes = append(classes, fmt.Sprintf("    class %s currentStage\n", stage.Name))
		case highlightMap[stage.Name]:
			classes = append(classes, fmt.Sprintf("    class %s highlighted\n", stage.Name))
		case isTerminal(stage):
			classes = append(classes, fmt.Sprintf("    class %s terminalStage\n", stage.Name))
		}
	}

	sb.WriteString("\n")

	for _, class := range classes {
		sb.WriteString(class)
	}

	sb.WriteString("    classDef currentStage fill:#90ee90,stroke:#2e7d32,stroke-width:3px\n")
	sb.WriteString("    classDef terminalStage fill:#d3d3d3,stroke:#444444,stroke-width:2px\n")
	sb.WriteString("    classDef highlighted fill:#fff9c4,stroke:#f57f17,stroke-width:3px\n")

	if opts.Markdown {
		sb.WriteString("```\n")
	}

	return sb.String(), nil
}

// GenerateDOT converts a Config to a Graphviz digraph.
func GenerateDOT(config *statemachine.Config) (string, error) {
	return GenerateDOTWithOptions(config, DefaultOptions())
}

// GenerateDOTFromFile loads a config from a file and generates a Graphviz digraph.
func GenerateDOTFromFile(path string) (string, error) {
	config, err := statemachine.LoadConfig(path)
	if err != nil {
		return "", fmt.Errorf("failed to load config: %w", err)
	}

	return GenerateDOT(config)
}

// GenerateDOTWithOptions generates a Graphviz digraph with custom options.
func GenerateDOTWithOptions(config *statemachine.Config, opts Options) (string, error) {
	err := check(config)
	if err != nil {
		return "", err
	}

	highlightMap := make(map[string]bool)
	for _, stage := range opts.HighlightPath {
		highlightMap[stage] = true
	}

	var sb strings.Builder

	fmt.Fprintf(&sb, "digraph %q {\n", graphName(config))
	fmt.Fprintf(&sb, "  rankdir=%s;\n", opts.rankdir())
	sb.WriteString(
		"  node [shape=circle, style=filled, fillcolor=\"#f8f8f8\", color=\"#444444\", fontname=\"Helvetica\"];\n",
	)
	sb.WriteString("  edge [fontname=\"Helvetica\", fontsize=10];\n\n")

	sb.WriteString("  __start [shape=point, style=invis];\n")
	fmt.Fprintf(&sb, "  __start -> %q [label=\" initial\"];\n\n", config.Initial)

	for _, stage := range config.Stages {
		attrs := []string{fmt.Sprintf("label=%q", stage.Name)}

		switch {
		case stage.Name == opts.Current:
			attrs = append(attrs, "fillcolor=\"#90ee90\"", "shape=doublecircle")
		case highlightMap[stage.Name]:
			attrs = append(attrs, "fillcolor=\"#fff9c4\"", "penwidth=3")
		case isTerminal(stage):
			attrs = append(attrs, "fillcolor=\"#d3d3d3\"", "shape=doublecircle")
		}

		if opts.ShowEffects && stage.Effect != "" {
			attrs = append(attrs, fmt.Sprintf("tooltip=%q", "effect: "+stage.Effect))
		}

		fmt.Fprintf(&sb, "  %q [%s];\n", stage.Name, strings.Join(attrs, ", "))
	}

	sb.WriteByte('\n')

	for _, e := range groupEdges(config, opts) {
		attrs := []string{fmt.Sprintf("label=\" %s \"", strings.Join(e.labels, "\\n"))}

		switch {
		case e.guarded:
			attrs = append(attrs, "style=dashed", "color=red", "arrowhead=odiamond")
		case e.timed:
			attrs = append(attrs, "style=bold", "color=blue")
		}

		fmt.Fprintf(&sb, "  %q -> %q [%s];\n", e.from, e.to, strings.Join(attrs, ", "))
	}

	sb.WriteString("}\n")

	return sb.String(), nil
}

func check(config *statemachine.Config) error {
	if config == nil {
		return ErrConfigNil
	}

	if config.Initial == "" {
		return ErrNoInitialStage
	}

	return nil
}

func graphName(config *statemachine.Config) string {
	if config.Name == "" {
		return "stages"
	}

	return config.Name
}

// groupEdges merges transitions with the same source and target, keeping first-seen order.
func groupEdges(config *statemachine.Config, opts Options) []*edge {
	var edges []*edge

	index := make(map[[2]string]*edge)

	for _, stage := range config.Stages {
		for _, transition := range stage.Transitions {
			key := [2]string{stage.Name, transition.Target}

			e, ok := index[key]
			if !ok {
				e = &edge{from: stage.Name, to: transition.Target}
				index[key] = e
				edges = append(edges, e)
			}

			e.labels = append(e.labels, transitionLabel(stage, transition, opts))
			e.guarded = e.guarded || (opts.ShowGuards && isGuarded(transition))
			_, timed := timerFor(stage, transition.Event)
			e.timed = e.timed || (opts.ShowTimers && timed)
		}
	}

	return edges
}

func transitionLabel(stage statemachine.Stage, transition statemachine.Transition, opts Options) string {
	label := transition.Event

	if opts.ShowGuards && isGuarded(transition) {
		name := transition.GuardName
		if name == "" {
			name = "guard"
		}

		label += " [" + name + "]"
	}

	if opts.ShowTimers {
		if d, ok := timerFor(stage, transition.Event); ok {
			label += " after " + d.String()
		}
	}

	return label
}

func isGuarded(transition statemachine.Transition) bool {
	return transition.Guard != nil || transition.GuardName != ""
}

// timerFor returns the shortest timer of stage that fires event.
func timerFor(stage statemachine.Stage, event string) (time.Duration, bool) {
	var (
		shortest time.Duration
		found    bool
	)

	for _, timer := range stage.Timers {
		if timer.Event == event && (!found || timer.Duration < shortest) {
			shortest = timer.Duration
			found = true
		}
	}

	return shortest, found
}

func isTerminal(stage statemachine.Stage) bool {
	if terminal, _ := stage.Metadata["terminal"].(bool); terminal {
		return true
	}

	return len(stage.Transitions) == 0 && len(stage.Timers) == 0
}
