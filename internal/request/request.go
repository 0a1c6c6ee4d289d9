// Package request scores requests for actionability, specificity and
// positive phrasing, and rewrites low-quality requests when the ontology
// carries a rule for them.
package request

import (
	"fmt"
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/samber/lo"

	"github.com/hurttlocker/ofnr/internal/ofnr"
	"github.com/hurttlocker/ofnr/internal/ontology"
)

// Quality flags.
const (
	FlagNeedsRevision = "needs_revision"
	FlagLowQuality    = "low_quality"
)

// Weights of the composite score. They must sum to 1.
type Weights struct {
	Actionability float64 `yaml:"actionability" json:"actionability"`
	Specificity   float64 `yaml:"specificity" json:"specificity"`
	Positivity    float64 `yaml:"positivity" json:"positivity"`
}

// Config holds the scorer's tunables.
type Config struct {
	Weights   Weights `yaml:"weights" json:"weights"`
	Threshold float64 `yaml:"threshold" json:"threshold"`
}

// DefaultConfig returns weights 0.4/0.3/0.3 and threshold 0.6.
func DefaultConfig() Config {
	return Config{
		Weights:   Weights{Actionability: 0.4, Specificity: 0.3, Positivity: 0.3},
		Threshold: 0.6,
	}
}

// Validate checks weight and threshold ranges.
func (c Config) Validate() error {
	for name, w := range map[string]float64{
		"actionability": c.Weights.Actionability,
		"specificity":   c.Weights.Specificity,
		"positivity":    c.Weights.Positivity,
	} {
		if w < 0 || w > 1 {
			return fmt.Errorf("%w: scoring weight %s=%v outside [0,1]", ofnr.ErrConfig, name, w)
		}
	}
	sum := c.Weights.Actionability + c.Weights.Specificity + c.Weights.Positivity
	if math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("%w: scoring weights sum to %v, want 1", ofnr.ErrConfig, sum)
	}
	if c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("%w: scoring threshold %v outside [0,1]", ofnr.ErrConfig, c.Threshold)
	}
	return nil
}

// Score is the rule-based quality of one request.
type Score struct {
	Actionability float64  `json:"actionability"`
	Specificity   float64  `json:"specificity"`
	Positivity    float64  `json:"positivity"`
	Composite     float64  `json:"composite"`
	AntiPatterns  []string `json:"anti_patterns"`
}

// Assessment is a scored request after any rewrite.
type Assessment struct {
	Score
	Text      string   `json:"text"`
	Original  string   `json:"original"`
	Rewritten bool     `json:"rewritten"`
	Rules     []string `json:"rules,omitempty"`
	Flags     []string `json:"flags"`
}

// Scorer scores requests against one ontology release.
type Scorer struct {
	rules *ontology.RequestRules
	cfg   Config
}

// New returns a Scorer. The config is validated here.
func New(store *ontology.Store, cfg Config) (*Scorer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{rules: store.Requests(), cfg: cfg}, nil
}

// Config returns the scorer's configuration.
func (s *Scorer) Config() Config {
	return s.cfg
}

// Score computes the sub-scores, the composite and the anti-patterns of
// text.
func (s *Scorer) Score(text string) Score {
	var act float64
	if len(s.rules.ActionVerbs(text)) > 0 {
		act += 0.6
	}
	if len(s.rules.Frames(text)) > 0 {
		act += 0.4
	}
	specific := clamp(0.5 + 0.25*float64(len(s.rules.Concrete(text))) - 0.25*float64(len(s.rules.Vague(text))))
	pos := clamp(1 - 0.5*float64(len(s.rules.Negations(text))))

	w := s.cfg.Weights
	return Score{
		Actionability: round(act),
		Specificity:   round(specific),
		Positivity:    round(pos),
		Composite:     round(w.Actionability*act + w.Specificity*specific + w.Positivity*pos),
		AntiPatterns:  s.rules.AntiPatterns(text),
	}
}

func (s *Scorer) passes(sc Score) bool {
	return sc.Composite >= s.cfg.Threshold && len(sc.AntiPatterns) == 0
}

// Assess scores text and, when it falls below the threshold or trips an
// anti-pattern, applies every matching rewrite rule and scores again.
// Requests are never rewritten without a rule and never rejected.
func (s *Scorer) Assess(text string) Assessment {
	a := Assessment{Score: s.Score(text), Text: text, Original: text}
	if s.passes(a.Score) {
		return a
	}

	out := text
	for _, rule := range s.rules.Rewrites() {
		if next, ok := rule.Apply(out); ok {
			out = next
			a.Rules = append(a.Rules, rule.ID)
		}
	}
	if len(a.Rules) > 0 {
		out = capitalize(strings.TrimSpace(out))
		a.Text = out
		a.Rewritten = out != text
		a.Score = s.Score(out)
	}

	if len(a.Rules) == 0 || !s.passes(a.Score) {
		a.Flags = append(a.Flags, FlagNeedsRevision)
	}
	if a.Composite < s.cfg.Threshold {
		a.Flags = append(a.Flags, FlagLowQuality)
	}
	return a
}

// Report summarizes one Apply pass.
type Report struct {
	Assessments []Assessment
}

// Apply assesses every request of c in place.
func (s *Scorer) Apply(c *ofnr.Candidate, trail *ofnr.Trail) Report {
	var r Report
	for _, req := range c.Requests {
		a := s.Assess(req)
		d := ofnr.Diagnostic{Stage: ofnr.StageRequests, Field: ofnr.FieldRequests, Original: req}
		if a.Rewritten {
			d.Action = ofnr.ActionRewritten
			d.Replacement = ofnr.Replaced(a.Text)
			d.Reason = fmt.Sprintf("rewrite %s", strings.Join(a.Rules, ","))
		} else {
			d.Action = ofnr.ActionPass
			d.Reason = fmt.Sprintf("composite %.2f", a.Composite)
		}
		if len(a.Flags) > 0 {
			d.Reason += "; " + strings.Join(a.Flags, ",")
		}
		if len(a.AntiPatterns) > 0 {
			d.Reason += "; anti-patterns " + strings.Join(a.AntiPatterns, ",")
		}
		trail.Add(d)
		r.Assessments = append(r.Assessments, a)
	}

	r.Assessments = lo.UniqBy(r.Assessments, func(a Assessment) string { return a.Text })
	c.Requests = lo.Map(r.Assessments, func(a Assessment, _ int) string { return a.Text })
	return r
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func capitalize(s string) string {
	r, n := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError || unicode.IsUpper(r) {
		return s
	}
	return string(unicode.ToUpper(r)) + s[n:]
}
