package ontology

import (
	"fmt"
	"regexp"
	"sort"
)

// MarkerAction is what the sanitizer does with a judgment marker.
type MarkerAction string

const (
	// ActionDowngrade replaces an absolute with a bounded frequency.
	ActionDowngrade MarkerAction = "downgrade"
	// ActionRewrite replaces an evaluative phrase with an observable one.
	ActionRewrite MarkerAction = "rewrite"
	// ActionRemove deletes the marker.
	ActionRemove MarkerAction = "remove"
	// ActionReject fails the whole observation.
	ActionReject MarkerAction = "reject"
)

func (a MarkerAction) valid() bool {
	switch a {
	case ActionDowngrade, ActionRewrite, ActionRemove, ActionReject:
		return true
	}
	return false
}

// JudgmentMarker is one entry of the judgment markers table.
type JudgmentMarker struct {
	Token   string
	Label   string
	Action  MarkerAction
	Rewrite string
}

// JudgmentMatch is a marker occurrence in a text.
type JudgmentMatch struct {
	Start  int
	End    int
	Text   string
	Marker JudgmentMarker
}

type judgmentPattern struct {
	label string
	re    *regexp.Regexp
}

// JudgmentMarkers finds evaluative language that fails the camera test.
type JudgmentMarkers struct {
	lex      *Lexicon
	markers  map[string]JudgmentMarker
	patterns []judgmentPattern
}

func newJudgmentMarkers(markers []JudgmentMarker, patterns map[string]string, order []string) (*JudgmentMarkers, error) {
	j := &JudgmentMarkers{markers: make(map[string]JudgmentMarker, len(markers))}
	phrases := make(map[string]string, len(markers))
	for _, m := range markers {
		if !m.Action.valid() {
			return nil, fmt.Errorf("marker %q: unknown action %q", m.Token, m.Action)
		}
		key := Normalize(m.Token)
		if key == "" {
			return nil, fmt.Errorf("empty marker in %q", m.Label)
		}
		if prev, dup := j.markers[key]; dup {
			return nil, fmt.Errorf("marker %q listed under %q and %q", key, prev.Label, m.Label)
		}
		if (m.Action == ActionDowngrade || m.Action == ActionRewrite) && m.Rewrite == "" {
			return nil, fmt.Errorf("marker %q: %s without rewrite", key, m.Action)
		}
		m.Token = key
		j.markers[key] = m
		phrases[key] = m.Label
	}
	lex, err := NewLexicon(phrases)
	if err != nil {
		return nil, err
	}
	j.lex = lex

	for _, label := range order {
		re, err := regexp.Compile("(?i)" + patterns[label])
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", label, err)
		}
		j.patterns = append(j.patterns, judgmentPattern{label: label, re: re})
	}
	return j, nil
}

// Len returns the number of markers and patterns.
func (j *JudgmentMarkers) Len() int {
	return len(j.markers) + len(j.patterns)
}

// Marker returns the marker for an exact token.
func (j *JudgmentMarkers) Marker(token string) (JudgmentMarker, bool) {
	m, ok := j.markers[Normalize(token)]
	return m, ok
}

// Find returns all marker occurrences in text ordered by position.
// Regex patterns always carry ActionReject.
func (j *JudgmentMarkers) Find(text string) []JudgmentMatch {
	var out []JudgmentMatch
	for _, m := range j.lex.FindAll(text) {
		out = append(out, JudgmentMatch{
			Start:  m.Start,
			End:    m.End,
			Text:   m.Text,
			Marker: j.markers[m.Phrase],
		})
	}
	for _, p := range j.patterns {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			out = append(out, JudgmentMatch{
				Start: loc[0],
				End:   loc[1],
				Text:  text[loc[0]:loc[1]],
				Marker: JudgmentMarker{
					Token:  p.re.String(),
					Label:  p.label,
					Action: ActionReject,
				},
			})
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Start < out[b].Start })
	return out
}

// Contains reports whether text holds any marker or pattern.
func (j *JudgmentMarkers) Contains(text string) bool {
	if j.lex.Contains(text) {
		return true
	}
	for _, p := range j.patterns {
		if p.re.MatchString(text) {
			return true
		}
	}
	return false
}
