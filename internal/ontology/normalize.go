package ontology

import (
	"strings"
	"unicode"

	"github.com/kljensen/snowball/english"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

var apostrophes = strings.NewReplacer("’", "'", "‘", "'", "`", "'")

// Normalize folds a term into its lookup key: NFKC, typographic apostrophes
// unified, lowercase, punctuation other than in-word apostrophes, hyphens and
// colons dropped, whitespace collapsed.
func Normalize(s string) string {
	s = norm.NFKC.String(s)
	s = apostrophes.Replace(s)
	s = cases.Lower(language.English).String(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' || r == '-' || r == ':' {
			b.WriteRune(r)
			continue
		}
		b.WriteByte(' ')
	}

	fields := strings.Fields(b.String())
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, "'-:")
		if f != "" {
			out = append(out, f)
		}
	}
	return strings.Join(out, " ")
}

// Words splits a term into normalized words.
func Words(s string) []string {
	n := Normalize(s)
	if n == "" {
		return nil
	}
	return strings.Fields(n)
}

// Stem normalizes s and reduces every word to its Snowball English stem.
// Stop words are kept verbatim so "to be heard" stems to "to be heard".
func Stem(s string) string {
	words := Words(s)
	for i, w := range words {
		words[i] = english.Stem(w, false)
	}
	return strings.Join(words, " ")
}

// derivationalSuffixes turn a feeling into an adjective or noun about
// something else. The Snowball stemmer strips them.
var derivationalSuffixes = []string{"ful", "fully", "less", "ness", "ive", "ous", "ish", "able", "ible", "ment"}

// derived reports whether the last word of a normalized phrase carries a
// derivational suffix.
func derived(s string) bool {
	words := strings.Fields(s)
	if len(words) == 0 {
		return false
	}
	last := words[len(words)-1]
	for _, suf := range derivationalSuffixes {
		if len(last) > len(suf)+2 && strings.HasSuffix(last, suf) {
			return true
		}
	}
	return false
}
