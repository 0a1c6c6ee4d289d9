// Package feeling separates true feelings from pseudo-feelings and body
// sensations.
package feeling

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/samber/lo"

	"github.com/hurttlocker/ofnr/internal/ofnr"
	"github.com/hurttlocker/ofnr/internal/ontology"
)

// Kind is the classification of one feeling term.
type Kind string

const (
	KindTrueFeeling   Kind = "TrueFeeling"
	KindPseudoFeeling Kind = "PseudoFeeling"
	KindSomatic       Kind = "Somatic"
	KindUnknown       Kind = "Unknown"
)

// Result is the outcome of classifying one term.
type Result struct {
	Term      string             `json:"term"`
	Kind      Kind               `json:"kind"`
	Canonical string             `json:"canonical,omitempty"`
	Match     ontology.MatchKind `json:"-"`
	Cluster   string             `json:"cluster,omitempty"`

	// Translation is set for pseudo-feelings only.
	Translation *ontology.Translation `json:"translation,omitempty"`
	Reason      string                `json:"reason,omitempty"`
}

var (
	framing  = regexp.MustCompile(`(?i)^(?:i\s+(?:am\s+|was\s+)?(?:feel|felt|feeling)|i'm\s+feeling|i\s+am|i'm|i\s+was|feeling|felt|feel)\s+`)
	hedges   = regexp.MustCompile(`(?i)^(?:very|really|so|quite|pretty|extremely|totally|a\s+bit|a\s+little|kind\s+of|sort\s+of)\s+`)
	thoughts = regexp.MustCompile(`(?i)^(?:like|that|as\s+if|as\s+though)\b`)
)

// strip removes "I feel", "feeling" and hedge words from the front of term.
// It reports whether what remains is a thought rather than a feeling.
func strip(term string) (string, bool) {
	t := strings.TrimSpace(strings.Trim(strings.TrimSpace(term), ".!,;"))
	t = framing.ReplaceAllString(t, "")
	if thoughts.MatchString(t) {
		return t, true
	}
	for {
		next := hedges.ReplaceAllString(t, "")
		if next == t {
			break
		}
		t = next
	}
	return t, false
}

// Classifier maps feeling terms onto one ontology release.
type Classifier struct {
	store *ontology.Store
}

// New returns a Classifier bound to store.
func New(store *ontology.Store) *Classifier {
	return &Classifier{store: store}
}

// Classify looks term up in the feelings table, then the pseudo-feelings
// lexicon, then the somatic markers. The first hit wins.
func (c *Classifier) Classify(term string) Result {
	t, thought := strip(term)
	r := Result{Term: term}
	if thought {
		r.Kind = KindUnknown
		r.Reason = "low_confidence: a thought framed as a feeling"
		return r
	}

	if l := c.store.LookupFeeling(t); l.Found() {
		r.Kind = KindTrueFeeling
		r.Canonical = l.Entry.Term
		r.Match = l.Kind
	} else if p, kind := c.store.LookupPseudoFeeling(t); kind != ontology.MatchNone {
		tr := p.Translation
		r.Kind = KindPseudoFeeling
		r.Canonical = p.Term
		r.Match = kind
		r.Cluster = p.Cluster
		r.Translation = &tr
	} else if l := c.store.LookupSomatic(t); l.Found() {
		r.Kind = KindSomatic
		r.Canonical = l.Entry.Term
		r.Match = l.Kind
	} else {
		r.Kind = KindUnknown
		r.Reason = "low_confidence: not in the feelings ontology"
	}
	return r
}

// Report summarizes one Apply pass.
type Report struct {
	// Translations are pseudo-feeling needs waiting for the PLATO gate.
	Translations []ontology.Translation
	Pseudo       []string
	Somatic      []string
	Unverified   []string
}

// Apply classifies every feeling of c in place. Only canonical feelings
// remain in c.Feelings.
func (c *Classifier) Apply(cand *ofnr.Candidate, trail *ofnr.Trail) Report {
	var (
		r   Report
		out []string
	)
	for _, term := range cand.Feelings {
		res := c.Classify(term)
		d := ofnr.Diagnostic{Stage: ofnr.StageClassify, Field: ofnr.FieldFeelings, Original: term}

		switch res.Kind {
		case KindTrueFeeling:
			out = append(out, res.Canonical)
			if res.Canonical == ontology.Normalize(term) {
				d.Action = ofnr.ActionPass
				d.Reason = "canonical feeling"
			} else {
				d.Action = ofnr.ActionRewritten
				d.Replacement = ofnr.Replaced(res.Canonical)
				d.Reason = fmt.Sprintf("normalized (%s match)", res.Match)
			}
		case KindPseudoFeeling:
			out = append(out, res.Translation.TrueFeeling)
			r.Translations = append(r.Translations, *res.Translation)
			r.Pseudo = append(r.Pseudo, res.Canonical)
			d.Action = ofnr.ActionRewritten
			d.Replacement = ofnr.Replaced(res.Translation.TrueFeeling)
			d.Reason = fmt.Sprintf("pseudo-feeling (%s): implies need %q", res.Cluster, res.Translation.UnderlyingNeed)
		case KindSomatic:
			r.Somatic = append(r.Somatic, res.Canonical)
			d.Action = ofnr.ActionReclassified
			d.Replacement = ofnr.Replaced(res.Canonical)
			d.Reason = "somatic marker moved to " + string(ofnr.FieldSomaticMarkers)
		default:
			r.Unverified = append(r.Unverified, strings.TrimSpace(term))
			d.Action = ofnr.ActionPass
			d.Reason = res.Reason
		}
		trail.Add(d)
	}

	cand.Feelings = lo.Uniq(out)
	r.Pseudo = lo.Uniq(r.Pseudo)
	r.Somatic = lo.Uniq(r.Somatic)
	r.Unverified = lo.Uniq(r.Unverified)
	r.Translations = lo.UniqBy(r.Translations, func(t ontology.Translation) string { return t.UnderlyingNeed })
	return r
}
