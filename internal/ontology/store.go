// Package ontology holds the immutable lookup tables that constrain an OFNR
// extraction: the locked needs list, canonical feelings, pseudo-feelings,
// judgment markers, somatic markers, PLATO strategy patterns and request
// quality rules.
//
// A Store is built once (Load, LoadDir or Default) and never mutated
// afterwards, so any number of pipelines may share it without locking.
// Distinct Stores may coexist, e.g. to regression-test an older release.
package ontology

import (
	"fmt"
	"strings"
)

// Entry is one ontology term.
type Entry struct {
	Term     string
	Category string
	Metadata map[string]string
}

// MatchKind says how a lookup hit its entry.
type MatchKind int

const (
	MatchNone MatchKind = iota
	MatchExact
	MatchAlias
	MatchStem
)

func (k MatchKind) String() string {
	switch k {
	case MatchExact:
		return "exact"
	case MatchAlias:
		return "alias"
	case MatchStem:
		return "stem"
	default:
		return "none"
	}
}

// Lookup is the result of a table lookup.
type Lookup struct {
	Entry Entry
	Kind  MatchKind
}

// Found reports whether the lookup hit an entry.
func (l Lookup) Found() bool {
	return l.Kind != MatchNone
}

// Translation maps a pseudo-feeling onto the feeling and need it implies.
type Translation struct {
	TrueFeeling    string `json:"true_feeling"`
	UnderlyingNeed string `json:"underlying_need"`
}

// PseudoFeeling is an evaluative word framed as a feeling.
type PseudoFeeling struct {
	Term              string
	Cluster           string
	Translation       Translation
	FeelingCandidates []string
	NeedCandidates    []string
	Template          string
}

// Render fills the translation template with the canonical translation.
func (p PseudoFeeling) Render() string {
	if p.Template == "" {
		return fmt.Sprintf("I feel %s because I need %s.", p.Translation.TrueFeeling, p.Translation.UnderlyingNeed)
	}
	return strings.NewReplacer(
		"{feeling}", p.Translation.TrueFeeling,
		"{need}", p.Translation.UnderlyingNeed,
		"{token}", p.Term,
	).Replace(p.Template)
}

// table indexes entries by normalized term, alias and stem.
type table struct {
	exact map[string]Entry
	alias map[string]Entry
	stems map[string]Entry
	order []string
}

func newTable() *table {
	return &table{
		exact: map[string]Entry{},
		alias: map[string]Entry{},
		stems: map[string]Entry{},
	}
}

func (t *table) add(e Entry, aliases ...string) error {
	key := Normalize(e.Term)
	if key == "" {
		return fmt.Errorf("empty term in category %q", e.Category)
	}
	e.Term = key
	if err := t.claim(key, e); err != nil {
		return err
	}
	t.exact[key] = e
	t.order = append(t.order, key)
	t.stem(key, e)

	for _, a := range aliases {
		ak := Normalize(a)
		if ak == "" || ak == key {
			continue
		}
		if err := t.claim(ak, e); err != nil {
			return err
		}
		t.alias[ak] = e
		t.stem(ak, e)
	}
	return nil
}

func (t *table) claim(key string, e Entry) error {
	if prev, ok := t.exact[key]; ok {
		return fmt.Errorf("%q (%s) duplicates %q", key, e.Term, prev.Term)
	}
	if prev, ok := t.alias[key]; ok {
		return fmt.Errorf("%q (%s) duplicates alias of %q", key, e.Term, prev.Term)
	}
	return nil
}

// stem indexes the first entry per stem; exact and alias hits always win.
func (t *table) stem(key string, e Entry) {
	st := Stem(key)
	if _, taken := t.stems[st]; !taken {
		t.stems[st] = e
	}
}

func (t *table) lookup(raw string) Lookup {
	key := Normalize(raw)
	if key == "" {
		return Lookup{}
	}
	if e, ok := t.exact[key]; ok {
		return Lookup{Entry: e, Kind: MatchExact}
	}
	if e, ok := t.alias[key]; ok {
		return Lookup{Entry: e, Kind: MatchAlias}
	}
	if e, ok := t.stems[Stem(key)]; ok {
		return Lookup{Entry: e, Kind: MatchStem}
	}
	return Lookup{}
}

func (t *table) terms() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// Store is an immutable ontology release.
type Store struct {
	version string

	needs    *table
	feelings *table
	somatic  *table

	pseudo      map[string]PseudoFeeling
	pseudoStems map[string]PseudoFeeling
	excluded    map[string]struct{}

	judgments *JudgmentMarkers
	plato     *PlatoPatterns
	requests  *RequestRules
}

// Version returns the ontology release version.
func (s *Store) Version() string {
	return s.version
}

// LookupNeed resolves a term against the locked needs list.
func (s *Store) LookupNeed(term string) Lookup {
	return s.needs.lookup(term)
}

// IsNeed reports whether term is exactly a canonical need id.
func (s *Store) IsNeed(term string) bool {
	_, ok := s.needs.exact[term]
	return ok
}

// Needs returns the canonical need ids in ontology order.
func (s *Store) Needs() []string {
	return s.needs.terms()
}

// LookupFeeling resolves a term against the canonical feelings, their
// normalization map and their stems.
//
// A stem hit only counts for inflections: "hurting" resolves to hurt, while
// "hurtful" describes someone else's behaviour and an excluded token never
// resolves.
func (s *Store) LookupFeeling(term string) Lookup {
	l := s.feelings.lookup(term)
	if l.Kind == MatchStem {
		key := Normalize(term)
		if _, excluded := s.excluded[key]; excluded || derived(key) {
			return Lookup{}
		}
	}
	return l
}

// IsFeeling reports whether term is exactly a canonical feeling.
func (s *Store) IsFeeling(term string) bool {
	_, ok := s.feelings.exact[term]
	return ok
}

// Feelings returns the canonical feelings in ontology order.
func (s *Store) Feelings() []string {
	return s.feelings.terms()
}

// LookupPseudoFeeling resolves a term against the pseudo-feelings lexicon.
func (s *Store) LookupPseudoFeeling(term string) (PseudoFeeling, MatchKind) {
	key := Normalize(term)
	if key == "" {
		return PseudoFeeling{}, MatchNone
	}
	if p, ok := s.pseudo[key]; ok {
		return p, MatchExact
	}
	if p, ok := s.pseudoStems[Stem(key)]; ok {
		return p, MatchStem
	}
	return PseudoFeeling{}, MatchNone
}

// IsPseudoFeeling reports whether term is a pseudo-feeling or an explicitly
// excluded feeling token.
func (s *Store) IsPseudoFeeling(term string) bool {
	key := Normalize(term)
	if _, ok := s.pseudo[key]; ok {
		return true
	}
	_, ok := s.excluded[key]
	return ok
}

// LookupSomatic resolves a term against the somatic markers.
func (s *Store) LookupSomatic(term string) Lookup {
	return s.somatic.lookup(term)
}

// Judgments returns the judgment marker table.
func (s *Store) Judgments() *JudgmentMarkers {
	return s.judgments
}

// Plato returns the PLATO strategy pattern table.
func (s *Store) Plato() *PlatoPatterns {
	return s.plato
}

// Requests returns the request quality rules.
func (s *Store) Requests() *RequestRules {
	return s.requests
}

// Summary reports table sizes for diagnostics and the CLI.
type Summary struct {
	Version         string `json:"version"`
	Needs           int    `json:"needs"`
	Feelings        int    `json:"feelings"`
	PseudoFeelings  int    `json:"pseudo_feelings"`
	SomaticMarkers  int    `json:"somatic_markers"`
	JudgmentMarkers int    `json:"judgment_markers"`
	PlatoPatterns   int    `json:"plato_patterns"`
	AntiPatterns    int    `json:"request_anti_patterns"`
	RewriteRules    int    `json:"request_rewrite_rules"`
}

// Summary returns table sizes.
func (s *Store) Summary() Summary {
	return Summary{
		Version:         s.version,
		Needs:           len(s.needs.order),
		Feelings:        len(s.feelings.order),
		PseudoFeelings:  len(s.pseudo),
		SomaticMarkers:  len(s.somatic.order),
		JudgmentMarkers: s.judgments.Len(),
		PlatoPatterns:   s.plato.Len(),
		AntiPatterns:    s.requests.antiPatterns.Len(),
		RewriteRules:    len(s.requests.rewrites),
	}
}
