package profile

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEmptyPathReturnsDefault(t *testing.T) {
	p, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Name != "kioku" {
		t.Errorf("default name = %q, want kioku", p.Name)
	}
	if p.SystemPrompt == "" {
		t.Error("default profile should carry a system prompt")
	}
	if p.Hash() != "" {
		t.Errorf("default profile should have no hash, got %q", p.Hash())
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	yaml := `
name: marketing-agent
system_prompt: You are a marketing strategist.
greeting: Hello! How can I help with your campaign?
context_window: 12
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Name != "marketing-agent" {
		t.Errorf("name = %q", p.Name)
	}
	if p.ContextWindow != 12 {
		t.Errorf("context_window = %d, want 12", p.ContextWindow)
	}
	if len(p.Hash()) != 64 {
		t.Errorf("hash should be a sha256 hex digest, got %q", p.Hash())
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for a missing profile file")
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"missing name", "system_prompt: hi"},
		{"negative window", "name: a\ncontext_window: -3"},
		{"not yaml", "{{{{"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Parse([]byte(tc.yaml)); err == nil {
				t.Errorf("Parse(%q) should fail", tc.yaml)
			}
		})
	}
}

func TestEffectiveContextWindow(t *testing.T) {
	p := &Profile{Name: "a", ContextWindow: 12}
	if got := p.EffectiveContextWindow(20); got != 12 {
		t.Errorf("profile override: got %d, want 12", got)
	}

	p.ContextWindow = 0
	if got := p.EffectiveContextWindow(20); got != 20 {
		t.Errorf("configured fallback: got %d, want 20", got)
	}
	if got := p.EffectiveContextWindow(0); got != DefaultContextWindow {
		t.Errorf("package default: got %d, want %d", got, DefaultContextWindow)
	}
}
