package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"rosterline/internal/domain"
)

// Config models rosterline.yml: the catalog of onboarding flows the service
// can start.
type Config struct {
	Flows []Flow `yaml:"flows"`
}

type Flow struct {
	Type        string     `yaml:"type"`
	Title       string     `yaml:"title"`
	Description string     `yaml:"description"`
	Steps       []FlowStep `yaml:"steps"`
}

type FlowStep struct {
	ID               string `yaml:"id"`
	Title            string `yaml:"title"`
	Description      string `yaml:"description"`
	EstimatedMinutes int    `yaml:"estimated_minutes"`
}

// Flow looks up a flow by type.
func (c *Config) Flow(t domain.FlowType) (Flow, bool) {
	for _, f := range c.Flows {
		if f.Type == string(t) {
			return f, true
		}
	}
	return Flow{}, false
}

// EstimatedMinutes sums the step estimates of the flow.
func (f Flow) EstimatedMinutes() int {
	total := 0
	for _, s := range f.Steps {
		total += s.EstimatedMinutes
	}
	return total
}

// DomainSteps converts the catalog steps into session steps.
func (f Flow) DomainSteps() []domain.Step {
	out := make([]domain.Step, 0, len(f.Steps))
	for _, s := range f.Steps {
		st := domain.Step{ID: s.ID, Title: s.Title, Description: s.Description}
		if s.EstimatedMinutes > 0 {
			st.Metadata = map[string]any{domain.MetaEstimatedMinutes: s.EstimatedMinutes}
		}
		out = append(out, st)
	}
	return out
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if len(c.Flows) == 0 {
		return fmt.Errorf("config.flows is required")
	}
	seenFlows := map[string]bool{}
	for i, f := range c.Flows {
		if strings.TrimSpace(f.Type) == "" {
			return fmt.Errorf("config.flows[%d].type is required", i)
		}
		if f.Type != strings.ToUpper(f.Type) {
			return fmt.Errorf("flow type %s must be upper case", f.Type)
		}
		if seenFlows[f.Type] {
			return fmt.Errorf("flow type %s defined twice", f.Type)
		}
		seenFlows[f.Type] = true
		if len(f.Steps) == 0 {
			return fmt.Errorf("flow %s has no steps", f.Type)
		}
		seenSteps := map[string]bool{}
		for j, s := range f.Steps {
			if strings.TrimSpace(s.ID) == "" {
				return fmt.Errorf("flow %s step %d has empty id", f.Type, j)
			}
			if seenSteps[s.ID] {
				return fmt.Errorf("flow %s step id %s is not unique", f.Type, s.ID)
			}
			seenSteps[s.ID] = true
			if strings.TrimSpace(s.Title) == "" {
				return fmt.Errorf("flow %s step %s has empty title", f.Type, s.ID)
			}
			if s.EstimatedMinutes < 0 {
				return fmt.Errorf("flow %s step %s has negative estimate", f.Type, s.ID)
			}
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "rosterline.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; write one with rosterline config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOrDefault returns the built-in catalog when the workspace has no config file.
func LoadOrDefault(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the built-in flow catalog.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `flows:
  - type: VENUE_SETUP
    title: Set up your venue
    description: Tell us about the venue so schedules match how it runs.
    steps:
      - id: venue-profile
        title: Venue profile
        description: Name, address and time zone
        estimated_minutes: 3
      - id: opening-hours
        title: Opening hours
        description: Regular trading hours per weekday
        estimated_minutes: 4
      - id: areas
        title: Areas and sections
        description: Floor, bar, kitchen and any other rostered areas
        estimated_minutes: 3
      - id: roles
        title: Roles
        description: Positions that appear on the roster
        estimated_minutes: 2

  - type: STAFF_SETUP
    title: Add your team
    description: Invite staff and record what they can work.
    steps:
      - id: invite-staff
        title: Invite staff
        description: Names and contact details
        estimated_minutes: 5
      - id: assign-roles
        title: Assign roles
        description: Which roles each person can cover
        estimated_minutes: 3
      - id: availability
        title: Availability
        description: Days and hours each person can work
        estimated_minutes: 4

  - type: PHASE_SETUP
    title: Define service phases
    description: Split the trading day into phases with target staffing.
    steps:
      - id: phases
        title: Service phases
        description: Breakfast, lunch, dinner or custom phases
        estimated_minutes: 3
      - id: staffing-levels
        title: Staffing levels
        description: Headcount per role for each phase
        estimated_minutes: 5
      - id: review
        title: Review
        description: Confirm the phase plan
        estimated_minutes: 2
`
