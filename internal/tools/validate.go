package tools

import (
	"fmt"
	"regexp"
	"strings"
)

var genericPhrases = []string{
	"I don't have specific details",
	"generally speaking",
	"it depends entirely on your situation",
	"this is general information only",
	"every situation is different",
	"I cannot provide specific advice",
	"only time will tell",
}

var (
	specificGuidance = regexp.MustCompile(`(?i)\b(trend|megatrend|future|technology|disruption|innovation|strategy|foresight|scenario)\b`)
	actionableAdvice = regexp.MustCompile(`(?i)\b(recommend|consider|anticipate|prepare|adapt|transform|evolve|forecast)\b`)
	domainTerms      = regexp.MustCompile(`(?i)\b(trend|future|megatrend|technology|business|transformation|innovation|strategic|forecast|digital)\b`)
	figures          = regexp.MustCompile(`\$|%|\d+`)
)

// Quality is the lexical assessment of a search-grounded answer.
type Quality struct {
	Violations []string
	Strengths  []string
}

func (q Quality) Passed() bool { return len(q.Violations) == 0 }

// Lines renders the assessment as diagnostic lines.
func (q Quality) Lines() []string {
	if !q.Passed() {
		out := []string{"response quality issues:"}
		return append(out, q.Violations...)
	}
	out := []string{"response quality check passed"}
	return append(out, q.Strengths...)
}

// ValidateResponse applies lexical heuristics to text. It never rejects
// anything; callers only log the result.
func ValidateResponse(text string) Quality {
	var q Quality
	lower := strings.ToLower(text)
	for _, phrase := range genericPhrases {
		if strings.Contains(lower, strings.ToLower(phrase)) {
			q.Violations = append(q.Violations, fmt.Sprintf("generic: used vague phrase %q", phrase))
		}
	}
	if len(text) > 50 {
		if !specificGuidance.MatchString(text) {
			q.Violations = append(q.Violations, "specificity: no concrete trends or foresight guidance")
		}
		if !actionableAdvice.MatchString(text) {
			q.Violations = append(q.Violations, "actionability: no actionable recommendation")
		}
		if !domainTerms.MatchString(text) {
			q.Violations = append(q.Violations, "expertise: no domain terminology")
		}
	}
	if len(q.Violations) > 0 {
		return q
	}
	if figures.MatchString(text) {
		q.Strengths = append(q.Strengths, "contains figures")
	}
	if strings.Contains(lower, "example") || strings.Contains(lower, "instance") || strings.Contains(lower, "case") {
		q.Strengths = append(q.Strengths, "includes examples")
	}
	if strings.Contains(lower, "strategy") || strings.Contains(lower, "approach") || strings.Contains(lower, "method") {
		q.Strengths = append(q.Strengths, "names strategies")
	}
	if strings.Contains(lower, "organization") || strings.Contains(lower, "research") || strings.Contains(lower, "similar") {
		q.Strengths = append(q.Strengths, "references research")
	}
	return q
}
