package ontology

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Match is one phrase occurrence found by a Lexicon. Offsets index the
// original text.
type Match struct {
	Start  int
	End    int
	Text   string
	Phrase string
	Label  string
}

// Lexicon finds whole-word, case-insensitive occurrences of a fixed phrase
// set. Longer phrases win over their prefixes and matches never overlap.
// A Lexicon is immutable and safe for concurrent use.
type Lexicon struct {
	re     *regexp.Regexp
	labels map[string]string
}

// NewLexicon compiles a phrase → label mapping.
func NewLexicon(entries map[string]string) (*Lexicon, error) {
	lex := &Lexicon{labels: make(map[string]string, len(entries))}
	phrases := make([]string, 0, len(entries))
	for phrase, label := range entries {
		key := Normalize(phrase)
		if key == "" {
			return nil, fmt.Errorf("empty phrase for label %q", label)
		}
		if _, dup := lex.labels[key]; dup {
			continue
		}
		lex.labels[key] = label
		phrases = append(phrases, key)
	}
	if len(phrases) == 0 {
		return lex, nil
	}

	sort.Slice(phrases, func(i, j int) bool {
		if len(phrases[i]) != len(phrases[j]) {
			return len(phrases[i]) > len(phrases[j])
		}
		return phrases[i] < phrases[j]
	})

	parts := make([]string, len(phrases))
	for i, p := range phrases {
		words := strings.Fields(p)
		for k, w := range words {
			words[k] = strings.ReplaceAll(regexp.QuoteMeta(w), "'", `['\x{2019}]`)
		}
		parts[i] = strings.Join(words, `[\s\-]+`)
	}

	re, err := regexp.Compile(`(?i)\b(?:` + strings.Join(parts, "|") + `)\b`)
	if err != nil {
		return nil, fmt.Errorf("compiling lexicon: %w", err)
	}
	lex.re = re
	return lex, nil
}

// Len returns the number of distinct phrases.
func (l *Lexicon) Len() int {
	return len(l.labels)
}

// Label returns the label of an exact phrase.
func (l *Lexicon) Label(phrase string) (string, bool) {
	label, ok := l.labels[Normalize(phrase)]
	return label, ok
}

// FindAll returns every match in text, in order of appearance.
func (l *Lexicon) FindAll(text string) []Match {
	if l.re == nil || text == "" {
		return nil
	}
	idx := l.re.FindAllStringIndex(text, -1)
	if len(idx) == 0 {
		return nil
	}
	out := make([]Match, 0, len(idx))
	for _, loc := range idx {
		raw := text[loc[0]:loc[1]]
		key := Normalize(raw)
		out = append(out, Match{
			Start:  loc[0],
			End:    loc[1],
			Text:   raw,
			Phrase: key,
			Label:  l.labels[key],
		})
	}
	return out
}

// Count returns the number of matches in text.
func (l *Lexicon) Count(text string) int {
	return len(l.FindAll(text))
}

// Contains reports whether text holds at least one phrase.
func (l *Lexicon) Contains(text string) bool {
	return l.re != nil && l.re.MatchString(text)
}

// StemSet matches single words by Snowball stem, so "calling" and "called"
// both hit "call".
type StemSet struct {
	stems map[string]string
}

// NewStemSet builds a StemSet from base words.
func NewStemSet(words []string) StemSet {
	s := StemSet{stems: make(map[string]string, len(words))}
	for _, w := range words {
		if st := Stem(w); st != "" {
			s.stems[st] = Normalize(w)
		}
	}
	return s
}

// Len returns the number of distinct stems.
func (s StemSet) Len() int {
	return len(s.stems)
}

// Matches returns the base words whose stems occur in text, in order of
// appearance.
func (s StemSet) Matches(text string) []string {
	var out []string
	for _, w := range Words(text) {
		if base, ok := s.stems[Stem(w)]; ok {
			out = append(out, base)
		}
	}
	return out
}
