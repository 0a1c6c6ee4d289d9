package ontology

import (
	"fmt"
	"regexp"
	"sort"
)

// PlatoElement is one of the five strategy markers.
type PlatoElement string

const (
	PlatoPerson   PlatoElement = "Person"
	PlatoLocation PlatoElement = "Location"
	PlatoAction   PlatoElement = "Action"
	PlatoTime     PlatoElement = "Time"
	PlatoObject   PlatoElement = "Object"
)

// PlatoElements lists the elements in canonical order.
var PlatoElements = []PlatoElement{PlatoPerson, PlatoLocation, PlatoAction, PlatoTime, PlatoObject}

func (e PlatoElement) valid() bool {
	for _, k := range PlatoElements {
		if e == k {
			return true
		}
	}
	return false
}

// PlatoMatch is one strategy marker found in a candidate need.
type PlatoMatch struct {
	Element PlatoElement `json:"element"`
	Text    string       `json:"text"`
}

type platoElement struct {
	element PlatoElement
	lex     *Lexicon
	regexes []*regexp.Regexp
}

// PlatoPatterns detects persons, locations, actions, times and objects.
type PlatoPatterns struct {
	elements []platoElement
	size     int
}

func newPlatoPatterns(tokens map[PlatoElement][]string, regexes map[PlatoElement][]string) (*PlatoPatterns, error) {
	p := &PlatoPatterns{}
	for _, el := range PlatoElements {
		if len(tokens[el]) == 0 && len(regexes[el]) == 0 {
			return nil, fmt.Errorf("element %s has no patterns", el)
		}
		phrases := make(map[string]string, len(tokens[el]))
		for _, t := range tokens[el] {
			phrases[t] = string(el)
		}
		lex, err := NewLexicon(phrases)
		if err != nil {
			return nil, fmt.Errorf("element %s: %w", el, err)
		}
		pe := platoElement{element: el, lex: lex}
		for _, expr := range regexes[el] {
			re, err := regexp.Compile("(?i)" + expr)
			if err != nil {
				return nil, fmt.Errorf("element %s: %w", el, err)
			}
			pe.regexes = append(pe.regexes, re)
		}
		p.elements = append(p.elements, pe)
		p.size += lex.Len() + len(pe.regexes)
	}
	return p, nil
}

// Len returns the number of tokens and regexes.
func (p *PlatoPatterns) Len() int {
	return p.size
}

// Match returns every strategy marker in text, ordered by position.
func (p *PlatoPatterns) Match(text string) []PlatoMatch {
	type hit struct {
		PlatoMatch
		start int
	}
	var hits []hit
	for _, pe := range p.elements {
		for _, m := range pe.lex.FindAll(text) {
			hits = append(hits, hit{PlatoMatch{Element: pe.element, Text: m.Text}, m.Start})
		}
		for _, re := range pe.regexes {
			for _, loc := range re.FindAllStringIndex(text, -1) {
				hits = append(hits, hit{PlatoMatch{Element: pe.element, Text: text[loc[0]:loc[1]]}, loc[0]})
			}
		}
	}
	if len(hits) == 0 {
		return nil
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].start < hits[b].start })
	out := make([]PlatoMatch, len(hits))
	for i, h := range hits {
		out[i] = h.PlatoMatch
	}
	return out
}

// Elements returns the distinct elements of matches in canonical order.
func Elements(matches []PlatoMatch) []PlatoElement {
	seen := make(map[PlatoElement]bool, len(PlatoElements))
	for _, m := range matches {
		seen[m.Element] = true
	}
	var out []PlatoElement
	for _, el := range PlatoElements {
		if seen[el] {
			out = append(out, el)
		}
	}
	return out
}
