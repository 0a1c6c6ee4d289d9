// Package plato enforces the locked needs list. A candidate need naming a
// Person, Location, Action, Time or Object is a strategy and is moved out
// of the needs field.
package plato

import (
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/hurttlocker/ofnr/internal/ofnr"
	"github.com/hurttlocker/ofnr/internal/ontology"
)

// Decision is the outcome of validating one candidate need. It is one of
// Accepted, ReclassifiedAsStrategy or Rejected.
type Decision interface {
	decision()
}

// Accepted means the candidate is a universal need from the locked list.
type Accepted struct {
	Need  string
	Match ontology.MatchKind
}

// ReclassifiedAsStrategy means the candidate names a concrete element and
// belongs in Target instead of needs.
type ReclassifiedAsStrategy struct {
	Target   ofnr.Field
	Elements []ontology.PlatoElement
	Matches  []ontology.PlatoMatch
}

// Rejected means the candidate is neither a strategy nor a listed need.
type Rejected struct {
	Reason string
}

// ReasonNotInLockedList is the Rejected reason for unknown needs.
const ReasonNotInLockedList = "NotInLockedList"

func (Accepted) decision()               {}
func (ReclassifiedAsStrategy) decision() {}
func (Rejected) decision()               {}

// Err returns the sentinel for the rejection.
func (r Rejected) Err() error {
	return fmt.Errorf("%w: %s", ofnr.ErrNotInLockedList, r.Reason)
}

// Option configures a Gate.
type Option func(*Gate)

// WithDropUnlisted makes Apply drop unlisted needs with a REJECTED
// diagnostic instead of failing the record.
func WithDropUnlisted(drop bool) Option {
	return func(g *Gate) { g.dropUnlisted = drop }
}

// Gate validates needs against one ontology release.
type Gate struct {
	store        *ontology.Store
	dropUnlisted bool
}

// New returns a Gate bound to store.
func New(store *ontology.Store, opts ...Option) *Gate {
	g := &Gate{store: store}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Validate decides one candidate need. The PLATO check runs first, so a
// term that both names a concrete element and overlaps a need label is a
// strategy.
func (g *Gate) Validate(candidate string) Decision {
	if matches := g.store.Plato().Match(candidate); len(matches) > 0 {
		elements := ontology.Elements(matches)
		target := ofnr.FieldExplicitNeeds
		if lo.Contains(elements, ontology.PlatoAction) {
			target = ofnr.FieldRequests
		}
		return ReclassifiedAsStrategy{Target: target, Elements: elements, Matches: matches}
	}
	if l := g.store.LookupNeed(candidate); l.Found() {
		return Accepted{Need: l.Entry.Term, Match: l.Kind}
	}
	return Rejected{Reason: ReasonNotInLockedList}
}

// Report summarizes one Apply pass.
type Report struct {
	Accepted   []string
	Strategies []string
	Unlisted   []string
	Translated []string
}

// Apply validates every need of c in place and then admits the needs implied
// by translated pseudo-feelings that pass the gate. Strategies move to
// requests or explicit_needs. Unlisted needs fail the record with
// ofnr.ErrNotInLockedList unless the gate drops them.
func (g *Gate) Apply(c *ofnr.Candidate, translations []ontology.Translation, trail *ofnr.Trail) (Report, error) {
	var r Report
	for _, need := range c.Needs {
		d := ofnr.Diagnostic{Stage: ofnr.StageNeeds, Field: ofnr.FieldNeeds, Original: need}

		switch dec := g.Validate(need).(type) {
		case Accepted:
			r.Accepted = append(r.Accepted, dec.Need)
			if dec.Need == ontology.Normalize(need) {
				d.Action = ofnr.ActionPass
				d.Reason = "in locked needs list"
			} else {
				d.Action = ofnr.ActionRewritten
				d.Replacement = ofnr.Replaced(dec.Need)
				d.Reason = fmt.Sprintf("canonical need (%s match)", dec.Match)
			}
		case ReclassifiedAsStrategy:
			r.Strategies = append(r.Strategies, need)
			if dec.Target == ofnr.FieldRequests {
				c.Requests = append(c.Requests, need)
			} else {
				c.ExplicitNeeds = append(c.ExplicitNeeds, need)
			}
			d.Action = ofnr.ActionReclassified
			d.Replacement = ofnr.Replaced(string(dec.Target))
			d.Reason = fmt.Sprintf("strategy (%s)", joinElements(dec.Elements))
		case Rejected:
			r.Unlisted = append(r.Unlisted, need)
			d.Action = ofnr.ActionRejected
			d.Reason = dec.Reason
		}
		trail.Add(d)
	}

	for _, t := range translations {
		if lo.Contains(r.Accepted, t.UnderlyingNeed) {
			continue
		}
		d := ofnr.Diagnostic{Stage: ofnr.StageNeeds, Field: ofnr.FieldNeeds, Original: t.UnderlyingNeed}
		if dec, ok := g.Validate(t.UnderlyingNeed).(Accepted); ok {
			r.Accepted = append(r.Accepted, dec.Need)
			r.Translated = append(r.Translated, dec.Need)
			d.Action = ofnr.ActionPass
			d.Reason = fmt.Sprintf("implied by pseudo-feeling translated to %q", t.TrueFeeling)
		} else {
			d.Action = ofnr.ActionRejected
			d.Reason = "implied need failed the PLATO gate"
		}
		trail.Add(d)
	}

	c.Needs = lo.Uniq(r.Accepted)
	r.Accepted = c.Needs
	c.ExplicitNeeds = lo.Uniq(c.ExplicitNeeds)

	if len(r.Unlisted) > 0 && !g.dropUnlisted {
		return r, fmt.Errorf("%w: %s", ofnr.ErrNotInLockedList, quoteAll(r.Unlisted))
	}
	return r, nil
}

func joinElements(els []ontology.PlatoElement) string {
	return strings.Join(lo.Map(els, func(e ontology.PlatoElement, _ int) string { return string(e) }), ", ")
}

func quoteAll(items []string) string {
	return strings.Join(lo.Map(items, func(s string, _ int) string { return fmt.Sprintf("%q", s) }), ", ")
}
