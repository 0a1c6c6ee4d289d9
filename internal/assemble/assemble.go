// Package assemble merges the stage results into a ValidatedOutput and
// checks it against the master schema and the ontology invariants.
package assemble

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"github.com/hurttlocker/ofnr/internal/ofnr"
	"github.com/hurttlocker/ofnr/internal/ontology"
)

// Findings are the side results the stages hand to the assembler.
type Findings struct {
	Evaluations    []string
	PseudoFeelings []string
	Strategies     []string
	Unverified     []string
	Somatic        []string

	// Translations counts pseudo-feeling translations; TranslationsAdmitted
	// counts those whose implied need ended up in needs.
	Translations         int
	TranslationsAdmitted int

	Requests []RequestScore
	Language string
	Source   ofnr.Source
	Warnings []string
}

// Assembler builds and validates outputs for one ontology release.
type Assembler struct {
	store     *ontology.Store
	threshold float64
	validate  *validator.Validate
}

// New returns an Assembler. threshold is the request quality threshold the
// low_quality invariant is checked against.
func New(store *ontology.Store, threshold float64) *Assembler {
	return &Assembler{store: store, threshold: threshold, validate: newValidator()}
}

// Assemble builds the output for c. It returns either a fully valid output
// or a *SchemaViolation, never both.
func (a *Assembler) Assemble(id string, c *ofnr.Candidate, trail *ofnr.Trail, f Findings) (*ValidatedOutput, error) {
	diags := trail.Entries()
	out := &ValidatedOutput{
		ID:              id,
		OntologyVersion: a.store.Version(),
		OFNR: &OFNR{
			Observations:            nonNil(c.Observations),
			Feelings:                nonNil(c.Feelings),
			Needs:                   nonNil(c.Needs),
			Requests:                nonNil(c.Requests),
			ExplicitNeeds:           nonNil(c.ExplicitNeeds),
			UnverifiedFeelings:      nonNil(f.Unverified),
			EvaluationsDetected:     nonNil(f.Evaluations),
			PseudoFeelingsDetected:  nonNil(f.PseudoFeelings),
			StrategyLeakageDetected: nonNil(f.Strategies),
		},
		Safety:  safety(diags, f.Requests),
		Quality: a.quality(c, diags, f),
		Metadata: &Metadata{
			SomaticMarkers: nonNil(f.Somatic),
			Language:       lo.Ternary(f.Language == "", "en", f.Language),
			SchemaVersion:  SchemaVersion,
			State:          ofnr.StateAssembled,
			Source:         f.Source,
		},
		Flags:       flags(diags, f),
		Diagnostics: diags,
	}
	if err := a.Validate(out); err != nil {
		return nil, err
	}
	return out, nil
}

func safety(diags []ofnr.Diagnostic, requests []RequestScore) *Safety {
	s := &Safety{
		Counts:  zeroCounts(),
		ByStage: map[string]map[ofnr.Action]int{},
	}
	for _, d := range diags {
		s.Counts[d.Action]++
		if s.ByStage[d.Stage] == nil {
			s.ByStage[d.Stage] = zeroCounts()
		}
		s.ByStage[d.Stage][d.Action]++
	}

	flagged := lo.CountBy(requests, func(r RequestScore) bool { return len(r.Flags) > 0 })
	changed := s.Counts[ofnr.ActionRewritten] + s.Counts[ofnr.ActionReclassified]
	switch {
	case s.Counts[ofnr.ActionRejected] > 0 || flagged > 0:
		s.Label = LabelFlagged
		s.Reason = fmt.Sprintf("%d rejected spans, %d requests flagged", s.Counts[ofnr.ActionRejected], flagged)
	case changed > 0:
		s.Label = LabelRepaired
		s.Reason = fmt.Sprintf("%d spans rewritten or reclassified", changed)
	default:
		s.Label = LabelClean
		s.Reason = "no changes"
	}

	dropped := s.Counts[ofnr.ActionRejected] > 0
	switch {
	case changed > 0 && dropped:
		s.RewriteMode = RewriteAndDrop
	case changed > 0:
		s.RewriteMode = RewriteInPlace
	case dropped:
		s.RewriteMode = RewriteDrop
	default:
		s.RewriteMode = RewriteNone
	}
	s.SafeAlternative = nonNil(lo.FilterMap(requests, func(r RequestScore, _ int) (string, bool) {
		return r.Text, r.Original != "" && r.Original != r.Text
	}))
	return s
}

func zeroCounts() map[ofnr.Action]int {
	m := make(map[ofnr.Action]int, len(ofnr.Actions))
	for _, a := range ofnr.Actions {
		m[a] = 0
	}
	return m
}

// fieldConfidence scores a field by what happened to its inputs: untouched
// content counts fully, repaired content partly, rejected content not at
// all. A field with no input is fully confident.
func fieldConfidence(diags []ofnr.Diagnostic, field ofnr.Field) float64 {
	var sum float64
	n := 0
	for _, d := range diags {
		if d.Field != field {
			continue
		}
		n++
		switch d.Action {
		case ofnr.ActionPass:
			if strings.HasPrefix(d.Reason, "low_confidence") {
				sum += 0.25
			} else {
				sum++
			}
		case ofnr.ActionRewritten:
			sum += 0.75
		case ofnr.ActionReclassified:
			sum += 0.5
		}
	}
	if n == 0 {
		return 1
	}
	return round(sum / float64(n))
}

func (a *Assembler) quality(c *ofnr.Candidate, diags []ofnr.Diagnostic, f Findings) *Quality {
	q := &Quality{
		Observations:  fieldConfidence(diags, ofnr.FieldObservations),
		Feelings:      fieldConfidence(diags, ofnr.FieldFeelings),
		Needs:         fieldConfidence(diags, ofnr.FieldNeeds),
		Requests:      fieldConfidence(diags, ofnr.FieldRequests),
		RequestScores: nonNilScores(f.Requests),
	}
	q.OFNRCompliance = round((q.Observations + q.Feelings + q.Needs + q.Requests) / 4)

	q.ObservationIsNonjudgmental = lo.NoneBy(c.Observations, a.store.Judgments().Contains)
	q.NeedsListMatch = lo.EveryBy(c.Needs, a.store.IsNeed)

	q.PseudoFeelingTranslationQuality = 1
	if f.Translations > 0 {
		q.PseudoFeelingTranslationQuality = round(math.Min(1, float64(f.TranslationsAdmitted)/float64(f.Translations)))
	}
	if n := len(c.Needs) + len(f.Strategies); n > 0 {
		q.StrategyLeakageScore = round(float64(len(f.Strategies)) / float64(n))
	}

	q.RequestIsActionable = len(f.Requests) > 0 &&
		lo.EveryBy(f.Requests, func(r RequestScore) bool { return r.Actionability >= 0.6 })
	q.RequestIsNoncoercive = lo.NoneBy(f.Requests, func(r RequestScore) bool {
		return lo.SomeBy(r.AntiPatterns, func(id string) bool {
			return a.store.Requests().AntiPatternKind(id) == "coercion"
		})
	})

	overall := q.OFNRCompliance
	if len(f.Requests) > 0 {
		mean := lo.SumBy(f.Requests, func(r RequestScore) float64 { return r.Composite }) / float64(len(f.Requests))
		overall = (overall + mean) / 2
	}
	q.OverallConfidence = round(overall)
	return q
}

func flags(diags []ofnr.Diagnostic, f Findings) *Flags {
	fl := &Flags{ErrorFlags: []string{}, Warnings: nonNil(f.Warnings)}
	for _, d := range diags {
		if d.Action == ofnr.ActionRejected {
			fl.ErrorFlags = append(fl.ErrorFlags, fmt.Sprintf("%s:%s", d.Field, d.Reason))
		}
	}
	for _, u := range f.Unverified {
		fl.Warnings = append(fl.Warnings, fmt.Sprintf("unverified feeling %q", u))
	}
	for _, r := range f.Requests {
		for _, flag := range r.Flags {
			fl.Warnings = append(fl.Warnings, fmt.Sprintf("request %q: %s", r.Text, flag))
		}
	}
	sort.Strings(fl.ErrorFlags)
	fl.ErrorFlags = lo.Uniq(fl.ErrorFlags)
	return fl
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilScores(s []RequestScore) []RequestScore {
	if s == nil {
		return []RequestScore{}
	}
	for i := range s {
		s[i].AntiPatterns = nonNil(s[i].AntiPatterns)
		s[i].Flags = nonNil(s[i].Flags)
	}
	return s
}

func round(v float64) float64 {
	return math.Round(v*1000) / 1000
}
