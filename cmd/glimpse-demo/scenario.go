package main

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/tinytelemetry/glimpse/pkg/glimpse"
	"gopkg.in/yaml.v3"
)

//go:embed scenario.yml
var defaultScenario []byte

// Scenario is a scripted workload the demo host replays against itself.
type Scenario struct {
	Name string `yaml:"name"`
	// Loop replays the steps until shutdown, waiting Pause between rounds.
	Loop  bool          `yaml:"loop"`
	Pause time.Duration `yaml:"pause"`
	Steps []Step        `yaml:"steps"`
}

// Step holds exactly one action.
type Step struct {
	Navigate string        `yaml:"navigate,omitempty"`
	Fetch    *FetchStep    `yaml:"fetch,omitempty"`
	Render   *RenderStep   `yaml:"render,omitempty"`
	Panic    string        `yaml:"panic,omitempty"`
	Reject   string        `yaml:"reject,omitempty"`
	Event    *EventStep    `yaml:"event,omitempty"`
	Sleep    time.Duration `yaml:"sleep,omitempty"`
}

// FetchStep calls the local upstream. Path is relative to its base URL.
type FetchStep struct {
	Method string `yaml:"method"`
	Path   string `yaml:"path"`
	Body   string `yaml:"body"`
}

type RenderStep struct {
	Component string        `yaml:"component"`
	Event     string        `yaml:"event"`
	Duration  time.Duration `yaml:"duration"`
}

type EventStep struct {
	Name    string         `yaml:"name"`
	Details map[string]any `yaml:"details"`
}

// loadScenario reads path, or the built-in scenario when path is empty.
func loadScenario(path string) (Scenario, error) {
	data := defaultScenario
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Scenario{}, fmt.Errorf("read scenario: %w", err)
		}
		data = b
	}
	return parseScenario(data)
}

func parseScenario(data []byte) (Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return Scenario{}, fmt.Errorf("parse scenario: %w", err)
	}
	if len(sc.Steps) == 0 {
		return Scenario{}, fmt.Errorf("scenario %q has no steps", sc.Name)
	}
	for i, st := range sc.Steps {
		if err := st.validate(); err != nil {
			return Scenario{}, fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	return sc, nil
}

func (s Step) validate() error {
	n := 0
	for _, set := range []bool{s.Navigate != "", s.Fetch != nil, s.Render != nil, s.Panic != "", s.Reject != "", s.Event != nil, s.Sleep > 0} {
		if set {
			n++
		}
	}
	if n != 1 {
		return fmt.Errorf("want exactly one action, got %d", n)
	}
	switch {
	case s.Fetch != nil && s.Fetch.Path == "":
		return fmt.Errorf("fetch needs a path")
	case s.Render != nil && s.Render.Component == "":
		return fmt.Errorf("render needs a component")
	case s.Render != nil && !glimpse.RenderEvent(s.Render.Event).Valid():
		return fmt.Errorf("unknown render event %q", s.Render.Event)
	case s.Event != nil && s.Event.Name == "":
		return fmt.Errorf("event needs a name")
	}
	return nil
}
