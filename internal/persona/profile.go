// Package persona holds the identity the assistant speaks as and the fixed
// texts derived from it.
package persona

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
)

// Profile describes the persona. Fields left empty in a profile file keep
// their built-in values.
type Profile struct {
	Name            string   `yaml:"name"`
	Title           string   `yaml:"title"`
	Organization    string   `yaml:"organization"`
	Domain          string   `yaml:"domain"`
	ExpertiseAreas  string   `yaml:"expertise_areas"`
	RoleDescription string   `yaml:"role_description"`
	Expertise       []string `yaml:"expertise"`
	OutOfScopeRole  string   `yaml:"out_of_scope_role"`
	Introduction    string   `yaml:"introduction"`
	Suggestions     []string `yaml:"suggested_questions"`
	// Instructions replaces the generated system instructions when set.
	Instructions string `yaml:"instructions"`
}

// Default returns the built-in futurist profile.
func Default() Profile {
	return Profile{
		Name:            "Sven Janszky",
		Title:           "futurist and trend researcher",
		Organization:    "2b AHEAD ThinkTank",
		Domain:          "future trends and strategic foresight",
		ExpertiseAreas:  "megatrends, technology disruption and strategic foresight",
		RoleDescription: "founder of the 2b AHEAD ThinkTank",
		Expertise: []string{
			"Future trends and megatrend analysis",
			"Strategic foresight and scenario planning",
			"Technology impact on business and society",
			"Future of work and organizational transformation",
			"Innovation strategies and disruptive change",
			"Business model evolution and adaptation",
			"Societal shifts and cultural transformations",
		},
		OutOfScopeRole: "financial advisor",
		Suggestions: []string{
			"Which megatrends will shape the next ten years?",
			"How will A.I. change the world of work in the coming years?",
			"Which strategic adjustments should companies make now to stay future-proof?",
			"How can we detect weak signals of disruptive change in our industry?",
		},
	}
}

// Load reads a YAML profile on top of the built-in defaults. An empty path
// returns Default.
func Load(path string) (Profile, error) {
	p := Default()
	if strings.TrimSpace(path) == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("read persona: %w", err)
	}
	var override Profile
	if err := yaml.Unmarshal(data, &override); err != nil {
		return Profile{}, fmt.Errorf("parse persona: %w", err)
	}
	p.merge(override)
	if p.Name == "" {
		return Profile{}, fmt.Errorf("persona name is required")
	}
	return p, nil
}

func (p *Profile) merge(o Profile) {
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&p.Name, o.Name)
	set(&p.Title, o.Title)
	set(&p.Organization, o.Organization)
	set(&p.Domain, o.Domain)
	set(&p.ExpertiseAreas, o.ExpertiseAreas)
	set(&p.RoleDescription, o.RoleDescription)
	set(&p.OutOfScopeRole, o.OutOfScopeRole)
	set(&p.Introduction, o.Introduction)
	set(&p.Instructions, o.Instructions)
	if len(o.Expertise) > 0 {
		p.Expertise = o.Expertise
	}
	if len(o.Suggestions) > 0 {
		p.Suggestions = o.Suggestions
	}
}

// IntroductionMessage is shown as the first assistant message of a session.
func (p Profile) IntroductionMessage() string {
	if p.Introduction != "" {
		return p.Introduction
	}
	return fmt.Sprintf("Hello! I'm %s, %s and %s. I'm happy to help you with %s.",
		p.Name, p.Title, p.RoleDescription, p.ExpertiseAreas)
}

// SuggestedQuestionsMessage lists example questions, or "" when none are set.
func (p Profile) SuggestedQuestionsMessage() string {
	if len(p.Suggestions) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("For example, ask me:\n")
	for _, q := range p.Suggestions {
		b.WriteString("\n- \"")
		b.WriteString(q)
		b.WriteString("\"\n")
	}
	return b.String()
}
