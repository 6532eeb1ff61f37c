package visualizer

// Options configures the visualization output.
type Options struct {
	// ShowGuards appends guard names to transition labels
	ShowGuards bool

	// ShowTimers marks transitions taken by a stage timer with its duration
	ShowTimers bool

	// ShowEffects includes the stage effect in stage nodes
	ShowEffects bool

	// Direction controls diagram flow: "TD" (top-down) or "LR" (left-right)
	Direction string

	// HighlightPath highlights a specific stage path through the diagram
	HighlightPath []string

	// Current marks the stage an engine is in
	Current string

	// Markdown wraps Mermaid output in a fenced code block
	Markdown bool
}

// DefaultOptions returns sensible defaults for visualization.
func DefaultOptions() Options {
	return Options{
		ShowGuards:  true,
		ShowTimers:  true,
		ShowEffects: true,
		Direction:   "TD",
		Markdown:    true,
	}
}

// WithShowGuards enables/disables guard labels.
func (o Options) WithShowGuards(show bool) Options {
	o.ShowGuards = show

	return o
}

// WithShowTimers enables/disables timer labels.
func (o Options) WithShowTimers(show bool) Options {
	o.ShowTimers = show

	return o
}

// WithShowEffects enables/disables stage effects.
func (o Options) WithShowEffects(show bool) Options {
	o.ShowEffects = show

	return o
}

// WithDirection sets the diagram direction.
func (o Options) WithDirection(direction string) Options {
	o.Direction = direction

	return o
}

// WithHighlightPath sets stages to highlight.
func (o Options) WithHighlightPath(path []string) Options {
	o.HighlightPath = path

	return o
}

// WithCurrent marks the current stage.
func (o Options) WithCurrent(stage string) Options {
	o.Current = stage

	return o
}

// WithMarkdown enables/disables the Mermaid code fence.
func (o Options) WithMarkdown(markdown bool) Options {
	o.Markdown = markdown

	return o
}

// rankdir maps Direction onto the direction keyword shared by Mermaid and Graphviz.
func (o Options) rankdir() string {
	switch o.Direction {
	case "LR", "RL", "BT":
		return o.Direction
	default:
		return "TB"
	}
}
