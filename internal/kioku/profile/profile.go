// Package profile handles loading and validation of the optional YAML agent
// profile: the persona name, system prompt, greeting and context-window
// override that shape the agent's replies.
package profile

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultContextWindow is how many prior entries are fed to the completion
// provider when neither the profile nor the environment overrides it.
const DefaultContextWindow = 20

// Profile is the agent persona applied to every turn.
type Profile struct {
	// Name identifies the persona in logs and the admin plane.
	Name string `yaml:"name"`
	// SystemPrompt is prepended to every completion call.
	SystemPrompt string `yaml:"system_prompt"`
	// Greeting is the canned opener surfaced by embedders for brand-new
	// sessions. Optional.
	Greeting string `yaml:"greeting"`
	// ContextWindow overrides the configured number of prior entries fed to
	// the provider. Zero means "use the configured value".
	ContextWindow int `yaml:"context_window"`

	// hash is the sha256 hex digest of the source YAML, "" for the built-in
	// default.
	hash string
}

// Default returns the built-in profile used when no file is configured.
func Default() *Profile {
	return &Profile{
		Name:         "kioku",
		SystemPrompt: "You are a helpful assistant with conversational memory. Use the prior conversation to stay consistent and concise.",
	}
}

// Load reads and validates a YAML profile file. An empty path returns the
// built-in default.
func Load(path string) (*Profile, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile file: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates a raw YAML payload.
func Parse(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse profile yaml: %w", err)
	}
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("invalid profile: %w", err)
	}

	h := sha256.Sum256(data)
	p.hash = hex.EncodeToString(h[:])
	return &p, nil
}

func (p *Profile) validate() error {
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	if p.ContextWindow < 0 {
		return fmt.Errorf("context_window must not be negative, got %d", p.ContextWindow)
	}
	return nil
}

// Hash returns the sha256 hex digest of the source YAML, or "" for the
// built-in default. Logged at startup so operators can tell which profile a
// replica is running.
func (p *Profile) Hash() string {
	return p.hash
}

// EffectiveContextWindow resolves the context window: the profile override
// when set, otherwise the configured fallback, otherwise the package default.
func (p *Profile) EffectiveContextWindow(configured int) int {
	if p.ContextWindow > 0 {
		return p.ContextWindow
	}
	if configured > 0 {
		return configured
	}
	return DefaultContextWindow
}
