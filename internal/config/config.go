package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models recordline.yml: the event types a deployment registers,
// their declaration fields and any configurable custom actions.
type Config struct {
	Events []EventType `yaml:"events"`
}

// EventType configures one registrable event type.
type EventType struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Declaration struct {
		Fields []string `yaml:"fields"`
	} `yaml:"declaration"`
	CustomActions []CustomAction `yaml:"custom_actions"`
}

// CustomAction declares a configurable CUSTOM action type for an event type.
type CustomAction struct {
	Type        string `yaml:"type"`
	Description string `yaml:"description"`
}

// EventType returns the configuration for an event type id.
func (c *Config) EventType(id string) (EventType, bool) {
	for _, e := range c.Events {
		if e.ID == id {
			return e, true
		}
	}
	return EventType{}, false
}

// HasCustomAction reports whether the event type declares the given custom
// action type.
func (e EventType) HasCustomAction(customType string) bool {
	for _, a := range e.CustomActions {
		if a.Type == customType {
			return true
		}
	}
	return false
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if len(c.Events) == 0 {
		return fmt.Errorf("config.events is required")
	}
	seen := map[string]bool{}
	for _, e := range c.Events {
		if e.ID == "" {
			return fmt.Errorf("config.events contains empty event id")
		}
		if seen[e.ID] {
			return fmt.Errorf("duplicate event type %s", e.ID)
		}
		seen[e.ID] = true
		for _, f := range e.Declaration.Fields {
			if f == "" {
				return fmt.Errorf("event %s has empty declaration field id", e.ID)
			}
		}
		customSeen := map[string]bool{}
		for _, a := range e.CustomActions {
			if a.Type == "" {
				return fmt.Errorf("event %s has empty custom action type", e.ID)
			}
			if a.Type != strings.ToLower(a.Type) {
				return fmt.Errorf("event %s custom action %s must be lowercase", e.ID, a.Type)
			}
			if customSeen[a.Type] {
				return fmt.Errorf("event %s duplicate custom action %s", e.ID, a.Type)
			}
			customSeen[a.Type] = true
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "recordline.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; generate with rl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
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

// Default returns the built-in demo configuration.
func Default() *Config {
	cfg, err := FromYAML([]byte(defaultTemplate))
	if err != nil {
		panic(fmt.Sprintf("default config invalid: %v", err))
	}
	return cfg
}

// GenerateDefault returns the default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `events:
  - id: tennis-club-membership
    name: Tennis club membership
    declaration:
      fields:
        - applicant.firstname
        - applicant.surname
        - applicant.dob
        - applicant.email
        - recommender.id
    custom_actions:
      - type: collect-signature
        description: "Collect the member's signature on file"

  - id: birth
    name: Birth registration
    declaration:
      fields:
        - child.firstname
        - child.surname
        - child.dob
        - mother.firstname
        - mother.surname
        - father.firstname
        - father.surname
        - informant.relation

  - id: death
    name: Death registration
    declaration:
      fields:
        - deceased.firstname
        - deceased.surname
        - deceased.dod
        - informant.relation
        - cause.of.death
`
