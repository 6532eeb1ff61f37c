package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"facette.io/natsort"
	"github.com/manifoldco/promptui"
	"gopkg.in/yaml.v3"
)

// QuitChoice is the first entry of every event menu.
const QuitChoice = "[Quit]"

// ErrQuit is returned by a Prompter when the user leaves the session.
var ErrQuit = errors.New("quit")

// Prompter asks the user what to do next in an interactive run.
type Prompter interface {
	// SelectEvent picks one of events while the engine is in stage.
	SelectEvent(stage string, events []string) (string, error)
	// Payload asks for an optional payload for event. A nil result sends no payload.
	Payload(event string) (any, error)
}

// TerminalPrompter drives promptui against the process terminal.
type TerminalPrompter struct {
	Stdin  io.ReadCloser
	Stdout io.WriteCloser

	// AskPayload enables the payload prompt after each event choice.
	AskPayload bool
}

// NewTerminalPrompter returns a prompter on os.Stdin and os.Stdout.
func NewTerminalPrompter(askPayload bool) *TerminalPrompter {
	return &TerminalPrompter{
		Stdin:      os.Stdin,
		Stdout:     os.Stdout,
		AskPayload: askPayload,
	}
}

// SortedEvents orders event names naturally, so "step2" sorts before "step10".
func SortedEvents(events []string) []string {
	sorted := append([]string(nil), events...)

	natsort.Sort(sorted)

	return sorted
}

func (p *TerminalPrompter) SelectEvent(stage string, events []string) (string, error) {
	items := append([]string{QuitChoice}, SortedEvents(events)...)

	sel := &promptui.Select{
		Label: fmt.Sprintf("%s: send event", stage),
		Items: items,
		Searcher: func(input string, index int) bool {
			if index == 0 || input == "" {
				return false
			}

			return strings.HasPrefix(items[index], input)
		},
		Stdin:  p.Stdin,
		Stdout: p.Stdout,
	}

	idx, value, err := sel.Run()
	if err != nil {
		if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) {
			return "", ErrQuit
		}

		return "", err
	}

	if idx == 0 {
		return "", ErrQuit
	}

	return value, nil
}

func (p *TerminalPrompter) Payload(event string) (any, error) {
	if !p.AskPayload {
		return nil, nil //nolint:nilnil
	}

	prompt := promptui.Prompt{
		Label: fmt.Sprintf("%s payload (YAML, empty for none)", event),
		Validate: func(s string) error {
			_, err := ParsePayload(s)

			return err
		},
		Stdin:  p.Stdin,
		Stdout: p.Stdout,
	}

	text, err := prompt.Run()
	if err != nil {
		if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) {
			return nil, ErrQuit
		}

		return nil, err
	}

	return ParsePayload(text)
}

// ParsePayload decodes a YAML payload. Blank input means no payload.
func ParsePayload(text string) (any, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil //nolint:nilnil
	}

	var payload any
	if err := yaml.Unmarshal([]byte(text), &payload); err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}

	return payload, nil
}

// ScriptedStep is one event of a non-interactive run.
type ScriptedStep struct {
	Event   string
	Payload any
}

// ParseStep parses "event" or "event=<yaml payload>".
func ParseStep(arg string) (ScriptedStep, error) {
	event, raw, _ := strings.Cut(arg, "=")

	event = strings.TrimSpace(event)
	if event == "" {
		return ScriptedStep{}, fmt.Errorf("%w: %q", ErrEmptyEvent, arg)
	}

	payload, err := ParsePayload(raw)
	if err != nil {
		return ScriptedStep{}, err
	}

	return ScriptedStep{Event: event, Payload: payload}, nil
}

// ScriptedPrompter replays a fixed list of steps and quits once they run out.
type ScriptedPrompter struct {
	steps []ScriptedStep
	next  int
}

// NewScriptedPrompter returns a prompter that answers with steps in order.
func NewScriptedPrompter(steps ...ScriptedStep) *ScriptedPrompter {
	return &ScriptedPrompter{steps: steps}
}

func (p *ScriptedPrompter) SelectEvent(string, []string) (string, error) {
	if p.next >= len(p.steps) {
		return "", ErrQuit
	}

	return p.steps[p.next].Event, nil
}

func (p *ScriptedPrompter) Payload(string) (any, error) {
	step := p.steps[p.next]
	p.next++

	return step.Payload, nil
}
