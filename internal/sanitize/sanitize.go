// Package sanitize strips evaluative language from observations so that
// what remains would pass the camera test.
package sanitize

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/samber/lo"

	"github.com/hurttlocker/ofnr/internal/ofnr"
	"github.com/hurttlocker/ofnr/internal/ontology"
)

var (
	multiSpace    = regexp.MustCompile(`[ \t]{2,}`)
	spaceBeforeP  = regexp.MustCompile(`\s+([,.;:!?])`)
	leadingPunct  = regexp.MustCompile(`^[\s,;:]+`)
	doubledCommas = regexp.MustCompile(`,(\s*,)+`)
)

// Sanitizer rewrites or rejects observations using the judgment markers of
// one ontology release. It holds no mutable state.
type Sanitizer struct {
	markers *ontology.JudgmentMarkers
}

// New returns a Sanitizer bound to store.
func New(store *ontology.Store) *Sanitizer {
	return &Sanitizer{markers: store.Judgments()}
}

// maxPasses bounds how often rewritten text is scanned again for markers
// that a rewrite brought together.
const maxPasses = 4

// Sanitize returns text with every judgment marker downgraded, rewritten or
// removed, plus one REWRITTEN diagnostic per modified span. The result is
// scanned again after each pass, so Sanitize(Sanitize(x)) == Sanitize(x).
// If any span has no safe rewrite, including one exposed by an earlier
// rewrite, the observation is rejected: the error wraps
// ofnr.ErrObservationRejected and the single diagnostic is REJECTED.
// Clean text comes back unchanged with no diagnostics.
func (s *Sanitizer) Sanitize(text string) (string, []ofnr.Diagnostic, error) {
	var (
		cur   = text
		diags []ofnr.Diagnostic
	)
	for pass := 0; ; pass++ {
		matches := s.markers.Find(cur)
		if len(matches) == 0 {
			return cur, diags, nil
		}
		rejected := lo.Filter(matches, func(m ontology.JudgmentMatch, _ int) bool {
			return m.Marker.Action == ontology.ActionReject
		})
		switch {
		case len(rejected) > 0:
			return s.reject(text, rejected, pass > 0)
		case pass == maxPasses:
			return s.reject(text, matches, true)
		}

		out, d := rewrite(cur, matches)
		diags = append(diags, d...)
		if startsUpper(text) {
			out = capitalize(out)
		}
		cur = out
	}
}

func (s *Sanitizer) reject(text string, matches []ontology.JudgmentMatch, exposed bool) (string, []ofnr.Diagnostic, error) {
	labels := lo.Uniq(lo.Map(matches, func(m ontology.JudgmentMatch, _ int) string { return m.Marker.Label }))
	spans := lo.Map(matches, func(m ontology.JudgmentMatch, _ int) string { return fmt.Sprintf("%q", m.Text) })
	reason := fmt.Sprintf("%s: %s", strings.Join(labels, ","), strings.Join(spans, ", "))
	if exposed {
		reason += " (left after rewrite)"
	}
	d := ofnr.Diagnostic{
		Stage:    ofnr.StageSanitize,
		Field:    ofnr.FieldObservations,
		Original: text,
		Action:   ofnr.ActionRejected,
		Reason:   reason,
	}
	return "", []ofnr.Diagnostic{d}, fmt.Errorf("%w: %s", ofnr.ErrObservationRejected, d.Reason)
}

// rewrite splices the replacement of every match into text.
func rewrite(text string, matches []ontology.JudgmentMatch) (string, []ofnr.Diagnostic) {
	var (
		b     strings.Builder
		diags = make([]ofnr.Diagnostic, 0, len(matches))
		last  int
	)
	for _, m := range matches {
		repl := ""
		if m.Marker.Action != ontology.ActionRemove {
			repl = matchCase(m.Text, m.Marker.Rewrite)
		}
		b.WriteString(text[last:m.Start])
		b.WriteString(repl)
		last = m.End
		diags = append(diags, ofnr.Diagnostic{
			Stage:       ofnr.StageSanitize,
			Field:       ofnr.FieldObservations,
			Original:    m.Text,
			Action:      ofnr.ActionRewritten,
			Replacement: ofnr.Replaced(repl),
			Reason:      fmt.Sprintf("%s: %s", m.Marker.Label, m.Marker.Action),
		})
	}
	b.WriteString(text[last:])
	return tidy(b.String()), diags
}

// Report summarizes one Apply pass.
type Report struct {
	Total       int
	Untouched   int
	Rewritten   int
	Rejected    int
	Evaluations []string
}

// Apply sanitizes every observation of c in place. Rejected observations
// are dropped; their diagnostics still go to trail. Untouched observations
// get a PASS entry.
func (s *Sanitizer) Apply(c *ofnr.Candidate, trail *ofnr.Trail) Report {
	r := Report{Total: len(c.Observations)}
	kept := c.Observations[:0]
	for _, obs := range c.Observations {
		for _, m := range s.markers.Find(obs) {
			r.Evaluations = append(r.Evaluations, ontology.Normalize(m.Text))
		}
		clean, diags, err := s.Sanitize(obs)
		trail.Add(diags...)
		switch {
		case err != nil:
			r.Rejected++
		case len(diags) == 0:
			r.Untouched++
			kept = append(kept, clean)
			trail.Add(ofnr.Diagnostic{
				Stage:    ofnr.StageSanitize,
				Field:    ofnr.FieldObservations,
				Original: obs,
				Action:   ofnr.ActionPass,
				Reason:   "no judgment markers",
			})
		default:
			r.Rewritten++
			if strings.TrimSpace(clean) != "" {
				kept = append(kept, clean)
			}
		}
	}
	c.Observations = kept
	r.Evaluations = lo.Uniq(r.Evaluations)
	return r
}

func tidy(s string) string {
	s = multiSpace.ReplaceAllString(s, " ")
	s = doubledCommas.ReplaceAllString(s, ",")
	s = spaceBeforeP.ReplaceAllString(s, "$1")
	s = leadingPunct.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// matchCase capitalizes repl when the span it replaces was capitalized.
func matchCase(span, repl string) string {
	if startsUpper(span) {
		return capitalize(repl)
	}
	return repl
}

func startsUpper(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return unicode.IsUpper(r)
}

func capitalize(s string) string {
	r, n := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError || unicode.IsUpper(r) {
		return s
	}
	return string(unicode.ToUpper(r)) + s[n:]
}
