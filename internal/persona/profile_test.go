package persona

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadEmptyPathReturnsDefault(t *testing.T) {
	p, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if p.Name != Default().Name {
		t.Fatalf("Name = %q, want %q", p.Name, Default().Name)
	}
}

func TestLoadMergesYAMLOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "persona.yaml")
	body := "name: Jane Roe\ntitle: urban planner\nsuggested_questions:\n  - How will cities change?\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if p.Name != "Jane Roe" || p.Title != "urban planner" {
		t.Fatalf("profile = %+v, want overridden name and title", p)
	}
	if p.Organization != Default().Organization {
		t.Fatalf("Organization = %q, want default kept", p.Organization)
	}
	if len(p.Suggestions) != 1 {
		t.Fatalf("Suggestions = %v, want 1 entry", p.Suggestions)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("name: [unclosed"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("Load() error = nil, want parse error")
	}
}

func TestSystemInstructionsIncludesIdentityAndDate(t *testing.T) {
	p := Default()
	now := time.Date(2026, time.March, 3, 10, 0, 0, 0, time.UTC)
	got := p.SystemInstructions(now)
	if !strings.Contains(got, "You are "+p.Name) {
		t.Fatalf("instructions missing identity: %q", got)
	}
	if !strings.Contains(got, "Tuesday, March 3, 2026") {
		t.Fatalf("instructions missing date: %q", got)
	}

	p.Instructions = "custom"
	if got := p.SystemInstructions(now); got != "custom" {
		t.Fatalf("SystemInstructions() = %q, want override", got)
	}
}

func TestSuggestedQuestionsMessage(t *testing.T) {
	p := Default()
	msg := p.SuggestedQuestionsMessage()
	for _, q := range p.Suggestions {
		if !strings.Contains(msg, q) {
			t.Fatalf("message missing %q", q)
		}
	}
	p.Suggestions = nil
	if got := p.SuggestedQuestionsMessage(); got != "" {
		t.Fatalf("SuggestedQuestionsMessage() = %q, want empty", got)
	}
}
