package tools

import (
	"regexp"
	"strings"

	"github.com/ent0n29/personatwin/internal/persona"
)

// Category names a class of knowledge-base question.
type Category string

const (
	CategoryMegatrend  Category = "megatrend"
	CategoryTechnology Category = "technology"
	CategoryBusiness   Category = "business"
	CategoryWorkforce  Category = "workforce"
	CategoryStrategy   Category = "strategy"
	CategoryPersona    Category = "persona"
)

// Rule pairs a keyword predicate with the terms appended to matching
// queries.
type Rule struct {
	Category  Category
	Pattern   *regexp.Regexp
	Expansion string
}

// wordRule matches any of the alternatives as whole words, ignoring case.
// Alternatives are regular expressions.
func wordRule(c Category, expansion string, alternatives ...string) Rule {
	return Rule{
		Category:  c,
		Pattern:   regexp.MustCompile(`(?i)\b(` + strings.Join(alternatives, "|") + `)\b`),
		Expansion: expansion,
	}
}

// Classifier evaluates rules in declaration order; the first match wins.
type Classifier struct {
	rules []Rule
}

// NewClassifier returns the default rule set. The persona rule expands with
// the profile's identity.
func NewClassifier(p persona.Profile) *Classifier {
	return &Classifier{rules: []Rule{
		wordRule(CategoryMegatrend, "megatrend demographic societal transformation global shift",
			"megatrend", "demographic", "societal", "long[- ]term", "global shift"),
		wordRule(CategoryTechnology, "AI automation technology digital disruption innovation",
			"AI", "automation", "technology", "digital", "innovation", "disrupt"),
		wordRule(CategoryBusiness, "business model organizational transformation industry disruption",
			"business model", "organization", "industry", "transformation", "future of work"),
		wordRule(CategoryWorkforce, "future of work remote workplace skills workforce",
			"remote work", "workplace", "skills", "employee", "talent", "workforce"),
		wordRule(CategoryStrategy, "strategic foresight scenario planning forecast trend",
			"strategy", "foresight", "scenario", "planning", "forecast"),
		wordRule(CategoryPersona, strings.Join([]string{p.Name, p.Title, p.Organization, "approach methodology"}, " "),
			"background", "approach", "experience", "methodology", "philosophy", "who are you", "2b ahead", "think tank"),
	}}
}

// Rules returns the rule list in precedence order.
func (c *Classifier) Rules() []Rule {
	return append([]Rule(nil), c.rules...)
}

// Classify returns the first rule matching query.
func (c *Classifier) Classify(query string) (Rule, bool) {
	for _, r := range c.rules {
		if r.Pattern.MatchString(query) {
			return r, true
		}
	}
	return Rule{}, false
}

// Matches reports every category query matches, in precedence order.
func (c *Classifier) Matches(query string) []Category {
	var out []Category
	for _, r := range c.rules {
		if r.Pattern.MatchString(query) {
			out = append(out, r.Category)
		}
	}
	return out
}

// Expand appends the expansion of the first matching rule.
func (c *Classifier) Expand(query string) (string, Category) {
	r, ok := c.Classify(query)
	if !ok {
		return query, ""
	}
	return query + " " + r.Expansion, r.Category
}
