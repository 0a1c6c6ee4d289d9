package ontology

import (
	"fmt"
	"regexp"
)

// RewriteRule turns a low-quality request phrasing into a better one.
type RewriteRule struct {
	ID          string
	Fixes       string
	Replacement string
	re          *regexp.Regexp
}

// Pattern returns the rule's regular expression.
func (r RewriteRule) Pattern() string {
	return r.re.String()
}

// Apply rewrites text when the rule matches.
func (r RewriteRule) Apply(text string) (string, bool) {
	if r.re == nil || !r.re.MatchString(text) {
		return text, false
	}
	return r.re.ReplaceAllString(text, r.Replacement), true
}

// RequestRules holds the rule sets the request scorer uses. Weights and the
// revision threshold are configuration and live with the scorer.
type RequestRules struct {
	verbs     StemSet
	frames    *Lexicon
	concrete  *Lexicon
	number    *regexp.Regexp
	vague     *Lexicon
	negations *Lexicon

	antiPatterns *Lexicon
	kinds        map[string]string
	rewrites     []RewriteRule
}

// ActionVerbs returns the action verbs in text, matched by stem.
func (r *RequestRules) ActionVerbs(text string) []string {
	return r.verbs.Matches(text)
}

// Frames returns the request frames in text.
func (r *RequestRules) Frames(text string) []string {
	return phrases(r.frames.FindAll(text))
}

// Concrete returns the concrete markers in text, numbers included.
func (r *RequestRules) Concrete(text string) []string {
	out := phrases(r.concrete.FindAll(text))
	if r.number != nil {
		out = append(out, r.number.FindAllString(text, -1)...)
	}
	return out
}

// Vague returns the vague markers in text.
func (r *RequestRules) Vague(text string) []string {
	return phrases(r.vague.FindAll(text))
}

// Negations returns the negation markers in text.
func (r *RequestRules) Negations(text string) []string {
	return phrases(r.negations.FindAll(text))
}

// AntiPatterns returns the distinct anti-pattern ids text triggers, in
// order of first appearance.
func (r *RequestRules) AntiPatterns(text string) []string {
	var out []string
	seen := map[string]bool{}
	for _, m := range r.antiPatterns.FindAll(text) {
		if !seen[m.Label] {
			seen[m.Label] = true
			out = append(out, m.Label)
		}
	}
	return out
}

// AntiPatternKind returns the kind (coercion, vagueness) of an anti-pattern.
func (r *RequestRules) AntiPatternKind(id string) string {
	return r.kinds[id]
}

// Rewrites returns the rewrite rules in ontology order.
func (r *RequestRules) Rewrites() []RewriteRule {
	out := make([]RewriteRule, len(r.rewrites))
	copy(out, r.rewrites)
	return out
}

func phrases(ms []Match) []string {
	if len(ms) == 0 {
		return nil
	}
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.Phrase
	}
	return out
}

func compileRule(id, fixes, pattern, replacement string) (RewriteRule, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return RewriteRule{}, fmt.Errorf("rewrite rule %q: %w", id, err)
	}
	return RewriteRule{ID: id, Fixes: fixes, Replacement: replacement, re: re}, nil
}
