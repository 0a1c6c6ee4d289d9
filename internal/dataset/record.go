// Package dataset reads NVC-HH style JSONL records and writes pipeline
// results back as JSONL.
package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/hurttlocker/ofnr/internal/ofnr"
)

// Strings accepts a JSON array of strings, a single string or null.
// Extraction models are not consistent about which they emit.
type Strings []string

// UnmarshalJSON implements json.Unmarshaler.
func (s *Strings) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*s = nil
		return nil
	case len(data) > 0 && data[0] == '"':
		var one string
		if err := json.Unmarshal(data, &one); err != nil {
			return err
		}
		if one == "" {
			*s = nil
		} else {
			*s = Strings{one}
		}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("want string or array of strings: %w", err)
	}
	*s = many
	return nil
}

// Source is the provenance block of a record.
type Source struct {
	Corpus string `json:"corpus,omitempty"`
	Folder string `json:"folder,omitempty"`
	Split  string `json:"split,omitempty"`
	File   string `json:"file,omitempty"`
	LineID string `json:"line_id,omitempty"`
}

// Input is the transcript the candidate was extracted from. It is carried
// for provenance only.
type Input struct {
	Format            string `json:"format,omitempty"`
	Prompt            string `json:"prompt,omitempty"`
	Context           string `json:"context,omitempty"`
	Chosen            string `json:"chosen,omitempty"`
	Rejected          string `json:"rejected,omitempty"`
	AssistantResponse string `json:"assistant_response,omitempty"`
}

// OFNR is the candidate block. Both the dataset's singular keys
// (observation, need) and the validated output's plural keys are accepted.
type OFNR struct {
	Observation     Strings `json:"observation"`
	Observations    Strings `json:"observations"`
	Feelings        Strings `json:"feelings"`
	Need            Strings `json:"need"`
	Needs           Strings `json:"needs"`
	ExplicitNeeds   Strings `json:"explicit_needs"`
	ImplicitNeeds   Strings `json:"implicit_needs"`
	ExplicitRequest Strings `json:"explicit_request"`
	ImplicitRequest Strings `json:"implicit_request"`
	Requests        Strings `json:"requests"`
}

// Metadata is the part of the record metadata the pipeline reads.
type Metadata struct {
	Language string `json:"language,omitempty"`
}

// Record is one dataset line.
type Record struct {
	ID       string   `json:"id"`
	Source   Source   `json:"source"`
	Input    Input    `json:"input"`
	OFNR     OFNR     `json:"ofnr"`
	Metadata Metadata `json:"metadata"`

	// OntologyVersion is only present on lines that already went through
	// validation.
	OntologyVersion string `json:"ontology_version,omitempty"`

	// Line is the 1-based line number the record was read from.
	Line int `json:"-"`
}

// Validated reports whether the record is an already validated output.
func (r Record) Validated() bool {
	return r.OntologyVersion != ""
}

// Candidate maps the record onto a pipeline candidate. Implicit needs are
// treated as candidate needs; explicit and implicit requests are both
// candidate requests.
func (r Record) Candidate(file string) ofnr.Candidate {
	line := r.Line
	if line == 0 {
		line, _ = strconv.Atoi(r.Source.LineID)
	}
	return ofnr.Candidate{
		ID:            r.ID,
		Observations:  concat(r.OFNR.Observation, r.OFNR.Observations),
		Feelings:      concat(r.OFNR.Feelings),
		Needs:         concat(r.OFNR.Need, r.OFNR.Needs, r.OFNR.ImplicitNeeds),
		Requests:      concat(r.OFNR.ExplicitRequest, r.OFNR.ImplicitRequest, r.OFNR.Requests),
		ExplicitNeeds: concat(r.OFNR.ExplicitNeeds),
		Language:      r.Metadata.Language,
		Source: ofnr.Source{
			Corpus: r.Source.Corpus,
			File:   file,
			Line:   line,
		},
	}
}

func concat(parts ...Strings) []string {
	var out []string
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
