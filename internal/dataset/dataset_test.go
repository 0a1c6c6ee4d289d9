package dataset

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const nvcLine = `{"id":"hh-train-7","source":{"corpus":"hh-rlhf","folder":"helpful-base","split":"train","file":"train.jsonl","line_id":"7"},` +
	`"input":{"format":"pair","prompt":"My partner never calls.","chosen":"...","rejected":null,"conversation_turns":[]},` +
	`"ofnr":{"observation":["You didn't call last night."],"feelings":"betrayed","need":["trust"],"implicit_needs":["my partner calling me every night"],` +
	`"explicit_request":null,"implicit_request":["Would you be willing to call me tonight?"],"translation_notes":null},` +
	`"metadata":{"somatic_markers":null,"language":"en"},"quality":{"ofnr_compliance":null}}`

func TestRecordCandidate(t *testing.T) {
	var rec Record
	require.NoError(t, json.Unmarshal([]byte(nvcLine), &rec))
	assert.False(t, rec.Validated())

	c := rec.Candidate("in.jsonl")
	assert.Equal(t, "hh-train-7", c.ID)
	assert.Equal(t, []string{"You didn't call last night."}, c.Observations)
	assert.Equal(t, []string{"betrayed"}, c.Feelings)
	assert.Equal(t, []string{"trust", "my partner calling me every night"}, c.Needs)
	assert.Equal(t, []string{"Would you be willing to call me tonight?"}, c.Requests)
	assert.Equal(t, "en", c.Language)
	assert.Equal(t, "hh-rlhf", c.Source.Corpus)
	assert.Equal(t, "in.jsonl", c.Source.File)
	assert.Equal(t, 7, c.Source.Line)
}

func TestStrings(t *testing.T) {
	tests := []struct {
		in   string
		want Strings
		err  bool
	}{
		{`null`, nil, false},
		{`""`, nil, false},
		{`"sad"`, Strings{"sad"}, false},
		{`["sad","hurt"]`, Strings{"sad", "hurt"}, false},
		{`[1]`, nil, true},
	}
	for _, tt := range tests {
		var s Strings
		err := json.Unmarshal([]byte(tt.in), &s)
		if tt.err {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, s, tt.in)
	}
}

func TestReader(t *testing.T) {
	input := strings.Join([]string{
		nvcLine,
		"",
		`{"id":"broken",`,
		`{"id":"two","ofnr":{"feelings":["sad"]}}`,
		`{"id":"done","ontology_version":"1.2.0","ofnr":{"observations":["x"]}}`,
	}, "\n")

	r := NewReader(strings.NewReader(input), 0)
	var ids []string
	var lines []int
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		ids = append(ids, rec.ID)
		lines = append(lines, rec.Line)
	}
	assert.Equal(t, []string{"hh-train-7", "two", "done"}, ids)
	assert.Equal(t, []int{1, 4, 5}, lines)

	skipped := r.Skipped()
	require.Len(t, skipped, 1)
	assert.Equal(t, 3, skipped[0].Line)
	assert.Contains(t, skipped[0].Error(), "line 3")
}

func TestReaderLimitAndValidated(t *testing.T) {
	input := `{"id":"a"}` + "\n" + `{"id":"b","ontology_version":"1.2.0"}` + "\n" + `{"id":"c"}` + "\n"
	r := NewReader(strings.NewReader(input), 2)

	a, err := r.Next()
	require.NoError(t, err)
	assert.False(t, a.Validated())
	b, err := r.Next()
	require.NoError(t, err)
	assert.True(t, b.Validated())
	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.Write(map[string]string{"id": "a", "text": "<b>"}))
	require.NoError(t, w.Write(map[string]string{"id": "b"}))
	require.NoError(t, w.Flush())

	assert.Equal(t, 2, w.Count())
	assert.Equal(t, "{\"id\":\"a\",\"text\":\"<b>\"}\n{\"id\":\"b\"}\n", buf.String())
}
