package ontology

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"regexp"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/hurttlocker/ofnr/internal/ofnr"
)

// Table file base names. Each may be stored as .json, .yaml or .yml.
const (
	NeedsFile          = "needs_ontology"
	FeelingsFile       = "feelings_ontology"
	PseudoFeelingsFile = "pseudo_feelings_lexicon"
	SomaticFile        = "somatic_markers_ontology"
	JudgmentsFile      = "judgment_markers_ontology"
	PlatoFile          = "plato_strategy_filter"
	RequestsFile       = "request_quality_ontology"
)

// Files lists every table a release must carry.
var Files = []string{
	NeedsFile, FeelingsFile, PseudoFeelingsFile, SomaticFile,
	JudgmentsFile, PlatoFile, RequestsFile,
}

// ConfigError reports a malformed or incomplete ontology release.
type ConfigError struct {
	File   string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.File == "" {
		return "ontology: " + e.Reason
	}
	return fmt.Sprintf("ontology %s: %s", e.File, e.Reason)
}

// Unwrap lets errors.Is(err, ofnr.ErrConfig) match.
func (e *ConfigError) Unwrap() error {
	return ofnr.ErrConfig
}

func configErr(file, format string, args ...any) error {
	return &ConfigError{File: file, Reason: fmt.Sprintf(format, args...)}
}

//go:embed data/*.json
var embedded embed.FS

var defaultStore = sync.OnceValues(func() (*Store, error) {
	sub, err := fs.Sub(embedded, "data")
	if err != nil {
		return nil, err
	}
	return Load(sub)
})

// Default returns the release compiled into the binary.
func Default() (*Store, error) {
	return defaultStore()
}

// LoadDir loads a release from a directory on disk.
func LoadDir(dir string) (*Store, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, &ConfigError{Reason: fmt.Sprintf("ontology dir: %v", err)}
	}
	if !info.IsDir() {
		return nil, configErr("", "%s is not a directory", dir)
	}
	return Load(os.DirFS(dir))
}

// ---------------------------------------------------------------------------
// File shapes
// ---------------------------------------------------------------------------

type header struct {
	Version      string   `json:"version" yaml:"version"`
	AntiExamples []string `json:"anti_examples" yaml:"anti_examples"`
}

type needsFile struct {
	header   `yaml:",inline"`
	Taxonomy []struct {
		Category string `json:"category" yaml:"category"`
		Needs    []struct {
			ID           string   `json:"id" yaml:"id"`
			Aliases      []string `json:"aliases" yaml:"aliases"`
			AntiExamples []string `json:"anti_examples" yaml:"anti_examples"`
		} `json:"needs" yaml:"needs"`
	} `json:"taxonomy" yaml:"taxonomy"`
}

type feelingsFile struct {
	header   `yaml:",inline"`
	Taxonomy []struct {
		Category string   `json:"category" yaml:"category"`
		Valence  string   `json:"valence" yaml:"valence"`
		Feelings []string `json:"feelings" yaml:"feelings"`
	} `json:"taxonomy" yaml:"taxonomy"`
	Flat              []string          `json:"canonical_feelings_flat_list" yaml:"canonical_feelings_flat_list"`
	NormalizationMap  map[string]string `json:"normalization_map" yaml:"normalization_map"`
	ExplicitExclusion struct {
		Tokens []string `json:"disallowed_tokens" yaml:"disallowed_tokens"`
	} `json:"explicit_exclusion" yaml:"explicit_exclusion"`
}

type pseudoFile struct {
	header    `yaml:",inline"`
	Forbidden struct {
		Tokens []string `json:"tokens" yaml:"tokens"`
	} `json:"forbidden_as_feelings" yaml:"forbidden_as_feelings"`
	Clusters []struct {
		ID      string `json:"cluster_id" yaml:"cluster_id"`
		Entries []struct {
			Token    string   `json:"token" yaml:"token"`
			Feelings []string `json:"true_feelings_candidates" yaml:"true_feelings_candidates"`
			Needs    []string `json:"likely_needs" yaml:"likely_needs"`
			Template string   `json:"ofnr_translation_template" yaml:"ofnr_translation_template"`
		} `json:"entries" yaml:"entries"`
	} `json:"clusters" yaml:"clusters"`
}

type somaticFile struct {
	header  `yaml:",inline"`
	Lexicon []struct {
		Term     string   `json:"term" yaml:"term"`
		Region   string   `json:"region" yaml:"region"`
		Feelings []string `json:"associated_feelings" yaml:"associated_feelings"`
	} `json:"lexicon" yaml:"lexicon"`
}

type judgmentsFile struct {
	header   `yaml:",inline"`
	Clusters []struct {
		Label   string `json:"label" yaml:"label"`
		Action  string `json:"action" yaml:"action"`
		Markers []struct {
			Token   string `json:"token" yaml:"token"`
			Rewrite string `json:"rewrite" yaml:"rewrite"`
			Action  string `json:"action" yaml:"action"`
		} `json:"markers" yaml:"markers"`
		Tokens []string `json:"tokens" yaml:"tokens"`
	} `json:"clusters" yaml:"clusters"`
	Patterns []struct {
		Label   string `json:"label" yaml:"label"`
		Pattern string `json:"pattern" yaml:"pattern"`
	} `json:"regex_patterns" yaml:"regex_patterns"`
}

type platoFile struct {
	header   `yaml:",inline"`
	Patterns []struct {
		Element string   `json:"element" yaml:"element"`
		Tokens  []string `json:"tokens" yaml:"tokens"`
		Regex   []string `json:"regex" yaml:"regex"`
	} `json:"patterns" yaml:"patterns"`
}

type requestsFile struct {
	header        `yaml:",inline"`
	Actionability struct {
		Verbs  []string `json:"action_verbs" yaml:"action_verbs"`
		Frames []string `json:"request_frames" yaml:"request_frames"`
	} `json:"actionability" yaml:"actionability"`
	Specificity struct {
		Concrete []string `json:"concrete_markers" yaml:"concrete_markers"`
		Vague    []string `json:"vague_markers" yaml:"vague_markers"`
		Number   string   `json:"number_pattern" yaml:"number_pattern"`
	} `json:"specificity" yaml:"specificity"`
	Positivity struct {
		Negations []string `json:"negation_markers" yaml:"negation_markers"`
	} `json:"positivity" yaml:"positivity"`
	AntiPatterns []struct {
		ID           string   `json:"id" yaml:"id"`
		Kind         string   `json:"kind" yaml:"kind"`
		Phrases      []string `json:"phrases" yaml:"phrases"`
		AntiExamples []string `json:"anti_examples" yaml:"anti_examples"`
	} `json:"anti_patterns" yaml:"anti_patterns"`
	RewriteRules []struct {
		ID          string `json:"id" yaml:"id"`
		Fixes       string `json:"fixes" yaml:"fixes"`
		Pattern     string `json:"pattern" yaml:"pattern"`
		Replacement string `json:"replacement" yaml:"replacement"`
	} `json:"rewrite_rules" yaml:"rewrite_rules"`
}

// readTable decodes base.json, base.yaml or base.yml, whichever exists first.
func readTable(fsys fs.FS, base string, v interface{ version() string }) error {
	for _, ext := range []string{".json", ".yaml", ".yml"} {
		data, err := fs.ReadFile(fsys, base+ext)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return configErr(base, "read: %v", err)
		}
		if ext == ".json" {
			err = json.Unmarshal(data, v)
		} else {
			err = yaml.Unmarshal(data, v)
		}
		if err != nil {
			return configErr(path.Base(base+ext), "decode: %v", err)
		}
		if v.version() == "" {
			return configErr(base, "missing version")
		}
		return nil
	}
	return configErr(base, "missing file")
}

func (h header) version() string { return h.Version }

// ---------------------------------------------------------------------------
// Load
// ---------------------------------------------------------------------------

// Load reads and validates a full release from fsys. Every failure is a
// *ConfigError wrapping ofnr.ErrConfig.
func Load(fsys fs.FS) (*Store, error) {
	var (
		needs    needsFile
		feelings feelingsFile
		pseudo   pseudoFile
		somatic  somaticFile
		judg     judgmentsFile
		plato    platoFile
		reqs     requestsFile
	)
	tables := []struct {
		name string
		dst  interface{ version() string }
	}{
		{NeedsFile, &needs},
		{FeelingsFile, &feelings},
		{PseudoFeelingsFile, &pseudo},
		{SomaticFile, &somatic},
		{JudgmentsFile, &judg},
		{PlatoFile, &plato},
		{RequestsFile, &reqs},
	}
	version := ""
	for _, t := range tables {
		if err := readTable(fsys, t.name, t.dst); err != nil {
			return nil, err
		}
		switch v := t.dst.version(); {
		case version == "":
			version = v
		case v != version:
			return nil, configErr(t.name, "version %s does not match release %s", v, version)
		}
	}

	s := &Store{version: version}
	var err error
	if s.needs, err = buildNeeds(&needs); err != nil {
		return nil, err
	}
	if s.feelings, err = buildFeelings(&feelings); err != nil {
		return nil, err
	}
	if s.somatic, err = buildSomatic(&somatic); err != nil {
		return nil, err
	}
	if err = buildPseudo(s, &pseudo, feelings.ExplicitExclusion.Tokens); err != nil {
		return nil, err
	}
	if s.judgments, err = buildJudgments(&judg); err != nil {
		return nil, err
	}
	if s.plato, err = buildPlato(&plato); err != nil {
		return nil, err
	}
	if s.requests, err = buildRequests(&reqs); err != nil {
		return nil, err
	}
	if err = crossCheck(s, &needs, &judg, &plato, &reqs); err != nil {
		return nil, err
	}
	return s, nil
}

func buildNeeds(f *needsFile) (*table, error) {
	t := newTable()
	for _, cat := range f.Taxonomy {
		for _, n := range cat.Needs {
			e := Entry{Term: n.ID, Category: cat.Category}
			if err := t.add(e, n.Aliases...); err != nil {
				return nil, configErr(NeedsFile, "%v", err)
			}
		}
	}
	if len(t.order) == 0 {
		return nil, configErr(NeedsFile, "no needs")
	}
	return t, nil
}

func buildFeelings(f *feelingsFile) (*table, error) {
	t := newTable()
	for _, cat := range f.Taxonomy {
		for _, term := range cat.Feelings {
			e := Entry{Term: term, Category: cat.Category, Metadata: map[string]string{"valence": cat.Valence}}
			if err := t.add(e); err != nil {
				return nil, configErr(FeelingsFile, "%v", err)
			}
		}
	}
	for _, term := range f.Flat {
		if _, ok := t.exact[Normalize(term)]; ok {
			continue
		}
		if err := t.add(Entry{Term: term}); err != nil {
			return nil, configErr(FeelingsFile, "%v", err)
		}
	}
	if len(t.order) == 0 {
		return nil, configErr(FeelingsFile, "no feelings")
	}

	keys := make([]string, 0, len(f.NormalizationMap))
	for k := range f.NormalizationMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, from := range keys {
		to := Normalize(f.NormalizationMap[from])
		e, ok := t.exact[to]
		if !ok {
			return nil, configErr(FeelingsFile, "normalization %q -> %q: target is not a canonical feeling", from, to)
		}
		k := Normalize(from)
		if err := t.claim(k, e); err != nil {
			return nil, configErr(FeelingsFile, "%v", err)
		}
		t.alias[k] = e
	}

	for _, tok := range f.ExplicitExclusion.Tokens {
		if l := t.lookup(tok); l.Kind == MatchExact || l.Kind == MatchAlias {
			return nil, configErr(FeelingsFile, "disallowed token %q is listed as feeling %q", tok, l.Entry.Term)
		}
	}
	return t, nil
}

func buildSomatic(f *somaticFile) (*table, error) {
	t := newTable()
	for _, m := range f.Lexicon {
		e := Entry{
			Term:     m.Term,
			Category: m.Region,
			Metadata: map[string]string{"associated_feelings": strings.Join(m.Feelings, ",")},
		}
		if err := t.add(e); err != nil {
			return nil, configErr(SomaticFile, "%v", err)
		}
	}
	if len(t.order) == 0 {
		return nil, configErr(SomaticFile, "no somatic markers")
	}
	return t, nil
}

func buildPseudo(s *Store, f *pseudoFile, disallowed []string) error {
	s.pseudo = map[string]PseudoFeeling{}
	s.pseudoStems = map[string]PseudoFeeling{}
	s.excluded = map[string]struct{}{}

	for _, c := range f.Clusters {
		for _, e := range c.Entries {
			key := Normalize(e.Token)
			if key == "" {
				return configErr(PseudoFeelingsFile, "empty token in cluster %q", c.ID)
			}
			if _, dup := s.pseudo[key]; dup {
				return configErr(PseudoFeelingsFile, "duplicate token %q", key)
			}
			if len(e.Feelings) == 0 || len(e.Needs) == 0 {
				return configErr(PseudoFeelingsFile, "token %q has no translation", key)
			}
			p := PseudoFeeling{
				Term:              key,
				Cluster:           c.ID,
				FeelingCandidates: e.Feelings,
				NeedCandidates:    e.Needs,
				Template:          e.Template,
			}
			// The first candidates are canonical and must resolve exactly.
			if !s.IsFeeling(Normalize(e.Feelings[0])) {
				return configErr(PseudoFeelingsFile, "token %q: %q is not a canonical feeling", key, e.Feelings[0])
			}
			if !s.IsNeed(Normalize(e.Needs[0])) {
				return configErr(PseudoFeelingsFile, "token %q: %q is not in the needs list", key, e.Needs[0])
			}
			p.Translation = Translation{TrueFeeling: Normalize(e.Feelings[0]), UnderlyingNeed: Normalize(e.Needs[0])}
			s.pseudo[key] = p
			if st := Stem(key); st != "" {
				if _, taken := s.pseudoStems[st]; !taken {
					s.pseudoStems[st] = p
				}
			}
		}
	}
	if len(s.pseudo) == 0 {
		return configErr(PseudoFeelingsFile, "no pseudo-feelings")
	}

	for _, tok := range append(append([]string{}, f.Forbidden.Tokens...), disallowed...) {
		key := Normalize(tok)
		if l := s.feelings.lookup(key); l.Kind == MatchExact || l.Kind == MatchAlias {
			return configErr(PseudoFeelingsFile, "forbidden token %q is listed as feeling %q", tok, l.Entry.Term)
		}
		s.excluded[key] = struct{}{}
	}
	return nil
}

func buildJudgments(f *judgmentsFile) (*JudgmentMarkers, error) {
	var markers []JudgmentMarker
	for _, c := range f.Clusters {
		for _, m := range c.Markers {
			action := c.Action
			if m.Action != "" {
				action = m.Action
			}
			markers = append(markers, JudgmentMarker{Token: m.Token, Label: c.Label, Action: MarkerAction(action), Rewrite: m.Rewrite})
		}
		for _, tok := range c.Tokens {
			markers = append(markers, JudgmentMarker{Token: tok, Label: c.Label, Action: MarkerAction(c.Action)})
		}
	}
	if len(markers) == 0 {
		return nil, configErr(JudgmentsFile, "no markers")
	}
	patterns := make(map[string]string, len(f.Patterns))
	var order []string
	for _, p := range f.Patterns {
		if _, dup := patterns[p.Label]; dup {
			return nil, configErr(JudgmentsFile, "duplicate pattern %q", p.Label)
		}
		patterns[p.Label] = p.Pattern
		order = append(order, p.Label)
	}
	j, err := newJudgmentMarkers(markers, patterns, order)
	if err != nil {
		return nil, configErr(JudgmentsFile, "%v", err)
	}
	return j, nil
}

func buildPlato(f *platoFile) (*PlatoPatterns, error) {
	tokens := map[PlatoElement][]string{}
	regexes := map[PlatoElement][]string{}
	for _, p := range f.Patterns {
		el := PlatoElement(p.Element)
		if !el.valid() {
			return nil, configErr(PlatoFile, "unknown element %q", p.Element)
		}
		tokens[el] = append(tokens[el], p.Tokens...)
		regexes[el] = append(regexes[el], p.Regex...)
	}
	pp, err := newPlatoPatterns(tokens, regexes)
	if err != nil {
		return nil, configErr(PlatoFile, "%v", err)
	}
	return pp, nil
}

func buildRequests(f *requestsFile) (*RequestRules, error) {
	if len(f.Actionability.Verbs) == 0 {
		return nil, configErr(RequestsFile, "no action verbs")
	}
	r := &RequestRules{
		verbs: NewStemSet(f.Actionability.Verbs),
		kinds: map[string]string{},
	}
	var err error
	lexicons := []struct {
		name string
		dst  **Lexicon
		src  []string
	}{
		{"request_frames", &r.frames, f.Actionability.Frames},
		{"concrete_markers", &r.concrete, f.Specificity.Concrete},
		{"vague_markers", &r.vague, f.Specificity.Vague},
		{"negation_markers", &r.negations, f.Positivity.Negations},
	}
	for _, l := range lexicons {
		if len(l.src) == 0 {
			return nil, configErr(RequestsFile, "no %s", l.name)
		}
		entries := make(map[string]string, len(l.src))
		for _, p := range l.src {
			entries[p] = l.name
		}
		if *l.dst, err = NewLexicon(entries); err != nil {
			return nil, configErr(RequestsFile, "%s: %v", l.name, err)
		}
	}
	if f.Specificity.Number != "" {
		if r.number, err = regexp.Compile(f.Specificity.Number); err != nil {
			return nil, configErr(RequestsFile, "number_pattern: %v", err)
		}
	}

	anti := map[string]string{}
	for _, ap := range f.AntiPatterns {
		if _, dup := r.kinds[ap.ID]; dup {
			return nil, configErr(RequestsFile, "duplicate anti-pattern %q", ap.ID)
		}
		r.kinds[ap.ID] = ap.Kind
		for _, p := range ap.Phrases {
			if prev, dup := anti[Normalize(p)]; dup {
				return nil, configErr(RequestsFile, "phrase %q in %q and %q", p, prev, ap.ID)
			}
			anti[Normalize(p)] = ap.ID
		}
	}
	if r.antiPatterns, err = NewLexicon(anti); err != nil {
		return nil, configErr(RequestsFile, "anti_patterns: %v", err)
	}

	seen := map[string]bool{}
	for _, rr := range f.RewriteRules {
		if seen[rr.ID] {
			return nil, configErr(RequestsFile, "duplicate rewrite rule %q", rr.ID)
		}
		seen[rr.ID] = true
		if _, known := r.kinds[rr.Fixes]; !known && rr.Fixes != "negative_phrasing" {
			return nil, configErr(RequestsFile, "rewrite rule %q fixes unknown anti-pattern %q", rr.ID, rr.Fixes)
		}
		rule, err := compileRule(rr.ID, rr.Fixes, rr.Pattern, rr.Replacement)
		if err != nil {
			return nil, configErr(RequestsFile, "%v", err)
		}
		r.rewrites = append(r.rewrites, rule)
	}
	return r, nil
}

var templateVar = regexp.MustCompile(`\$\{?\w+\}?`)

// crossCheck enforces the rules that span tables: anti-examples must trip
// the table they illustrate, needs must never look like strategies and
// rewrite outputs must be fixed points.
func crossCheck(s *Store, needs *needsFile, judg *judgmentsFile, plato *platoFile, reqs *requestsFile) error {
	for _, cat := range needs.Taxonomy {
		for _, n := range cat.Needs {
			for _, term := range append([]string{n.ID}, n.Aliases...) {
				if m := s.plato.Match(term); len(m) > 0 {
					return configErr(NeedsFile, "need %q matches PLATO element %s (%q)", term, m[0].Element, m[0].Text)
				}
			}
			for _, ex := range n.AntiExamples {
				if len(s.plato.Match(ex)) == 0 {
					return configErr(NeedsFile, "anti-example %q of %q passes the PLATO filter", ex, n.ID)
				}
			}
		}
	}
	for _, ex := range plato.AntiExamples {
		if len(s.plato.Match(ex)) == 0 {
			return configErr(PlatoFile, "anti-example %q matches no element", ex)
		}
	}
	for _, ex := range judg.AntiExamples {
		if !s.judgments.Contains(ex) {
			return configErr(JudgmentsFile, "anti-example %q matches no marker", ex)
		}
	}
	for _, m := range s.judgments.markers {
		if m.Rewrite != "" && s.judgments.Contains(m.Rewrite) {
			return configErr(JudgmentsFile, "rewrite %q of %q contains a marker", m.Rewrite, m.Token)
		}
	}
	for _, ap := range reqs.AntiPatterns {
		for _, ex := range ap.AntiExamples {
			found := false
			for _, id := range s.requests.AntiPatterns(ex) {
				found = found || id == ap.ID
			}
			if !found {
				return configErr(RequestsFile, "anti-example %q does not trigger %q", ex, ap.ID)
			}
		}
	}
	for _, rule := range s.requests.rewrites {
		literal := templateVar.ReplaceAllString(rule.Replacement, "")
		if rule.re.MatchString(literal) {
			return configErr(RequestsFile, "rewrite rule %q output matches its own pattern", rule.ID)
		}
	}
	return nil
}
