// Package ofnr holds the shared data model of the validation engine: the
// mutable candidate extraction, the append-only diagnostic trail, the
// pipeline state machine and the error taxonomy.
package ofnr

import "strings"

// Field names a section of the OFNR object. Values match the JSON keys of
// the master schema so diagnostics can be reported by path.
type Field string

const (
	FieldObservations       Field = "observations"
	FieldFeelings           Field = "feelings"
	FieldNeeds              Field = "needs"
	FieldRequests           Field = "requests"
	FieldExplicitNeeds      Field = "explicit_needs"
	FieldUnverifiedFeelings Field = "unverified_feelings"
	FieldSomaticMarkers     Field = "metadata.somatic_markers"
)

// Source records where a candidate came from.
type Source struct {
	Corpus string `json:"corpus,omitempty"`
	File   string `json:"file,omitempty"`
	Line   int    `json:"line,omitempty"`
}

// Candidate is the working OFNR object. It is created per input transcript
// and mutated in place by each pipeline stage.
type Candidate struct {
	ID            string   `json:"id,omitempty"`
	Observations  []string `json:"observations"`
	Feelings      []string `json:"feelings"`
	Needs         []string `json:"needs"`
	Requests      []string `json:"requests"`
	ExplicitNeeds []string `json:"explicit_needs"`
	Language      string   `json:"language,omitempty"`
	Source        Source   `json:"source,omitempty"`
}

// Clone returns a deep copy so the pipeline never mutates the caller's value.
func (c Candidate) Clone() *Candidate {
	out := c
	out.Observations = cloneStrings(c.Observations)
	out.Feelings = cloneStrings(c.Feelings)
	out.Needs = cloneStrings(c.Needs)
	out.Requests = cloneStrings(c.Requests)
	out.ExplicitNeeds = cloneStrings(c.ExplicitNeeds)
	return &out
}

// Empty reports whether the candidate carries no content in any field.
func (c *Candidate) Empty() bool {
	return len(c.Observations) == 0 && len(c.Feelings) == 0 &&
		len(c.Needs) == 0 && len(c.Requests) == 0 && len(c.ExplicitNeeds) == 0
}

// Compact trims every entry and drops blanks in all fields.
func (c *Candidate) Compact() {
	c.Observations = compact(c.Observations)
	c.Feelings = compact(c.Feelings)
	c.Needs = compact(c.Needs)
	c.Requests = compact(c.Requests)
	c.ExplicitNeeds = compact(c.ExplicitNeeds)
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
