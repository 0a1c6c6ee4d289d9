package assemble

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hurttlocker/ofnr/internal/ofnr"
	"github.com/hurttlocker/ofnr/internal/ontology"
	"github.com/hurttlocker/ofnr/internal/request"
)

func newAssembler(t *testing.T) *Assembler {
	t.Helper()
	store, err := ontology.Default()
	require.NoError(t, err)
	return New(store, request.DefaultConfig().Threshold)
}

func goodRequest() RequestScore {
	return RequestScore{
		Text:          "Would you be willing to call me tonight?",
		Original:      "You have to call me tonight.",
		Actionability: 1,
		Specificity:   0.75,
		Positivity:    1,
		Composite:     0.925,
		AntiPatterns:  []string{},
		Flags:         []string{},
	}
}

func fixture() (*ofnr.Candidate, *ofnr.Trail, Findings) {
	c := &ofnr.Candidate{
		Observations: []string{"You arrived at 9:40 this morning."},
		Feelings:     []string{"hurt"},
		Needs:        []string{"trust"},
		Requests:     []string{"Would you be willing to call me tonight?"},
	}
	trail := &ofnr.Trail{}
	trail.Add(
		ofnr.Diagnostic{Stage: ofnr.StageSanitize, Field: ofnr.FieldObservations, Original: c.Observations[0], Action: ofnr.ActionPass},
		ofnr.Diagnostic{Stage: ofnr.StageClassify, Field: ofnr.FieldFeelings, Original: "betrayed", Action: ofnr.ActionRewritten, Replacement: ofnr.Replaced("hurt")},
		ofnr.Diagnostic{Stage: ofnr.StageNeeds, Field: ofnr.FieldNeeds, Original: "trust", Action: ofnr.ActionPass},
		ofnr.Diagnostic{Stage: ofnr.StageRequests, Field: ofnr.FieldRequests, Original: "You have to call me tonight.", Action: ofnr.ActionRewritten, Replacement: ofnr.Replaced("Would you be willing to call me tonight?")},
	)
	f := Findings{
		PseudoFeelings:       []string{"betrayed"},
		Translations:         1,
		TranslationsAdmitted: 1,
		Requests:             []RequestScore{goodRequest()},
	}
	return c, trail, f
}

func TestAssemble(t *testing.T) {
	a := newAssembler(t)
	c, trail, f := fixture()

	out, err := a.Assemble("rec-1", c, trail, f)
	require.NoError(t, err)

	assert.Equal(t, "rec-1", out.ID)
	assert.Equal(t, "1.2.0", out.OntologyVersion)
	assert.Equal(t, []string{"hurt"}, out.OFNR.Feelings)
	assert.Equal(t, []string{"trust"}, out.OFNR.Needs)
	assert.NotNil(t, out.OFNR.ExplicitNeeds)

	assert.Equal(t, LabelRepaired, out.Safety.Label)
	wantCounts := map[ofnr.Action]int{
		ofnr.ActionPass: 2, ofnr.ActionRewritten: 2, ofnr.ActionRejected: 0, ofnr.ActionReclassified: 0,
	}
	if diff := cmp.Diff(wantCounts, out.Safety.Counts); diff != "" {
		t.Errorf("counts mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 1, out.Safety.ByStage[ofnr.StageClassify][ofnr.ActionRewritten])
	assert.Equal(t, RewriteInPlace, out.Safety.RewriteMode)
	assert.Equal(t, []string{"Would you be willing to call me tonight?"}, out.Safety.SafeAlternative)

	q := out.Quality
	assert.Equal(t, 1.0, q.Observations)
	assert.Equal(t, 0.75, q.Feelings)
	assert.True(t, q.ObservationIsNonjudgmental)
	assert.True(t, q.NeedsListMatch)
	assert.True(t, q.RequestIsActionable)
	assert.True(t, q.RequestIsNoncoercive)
	assert.Equal(t, 1.0, q.PseudoFeelingTranslationQuality)
	assert.Zero(t, q.StrategyLeakageScore)
	assert.InDelta(t, 0.9, q.OverallConfidence, 0.05)

	assert.Equal(t, ofnr.StateAssembled, out.Metadata.State)
	assert.Equal(t, "en", out.Metadata.Language)
	assert.Len(t, out.Diagnostics, 4)
}

func TestAssembleFlagged(t *testing.T) {
	a := newAssembler(t)
	c, trail, f := fixture()
	trail.Add(ofnr.Diagnostic{Stage: ofnr.StageSanitize, Field: ofnr.FieldObservations, Original: "You are so rude.", Action: ofnr.ActionRejected, Reason: "labeling"})

	out, err := a.Assemble("rec-2", c, trail, f)
	require.NoError(t, err)
	assert.Equal(t, LabelFlagged, out.Safety.Label)
	assert.Equal(t, []string{"observations:labeling"}, out.Flags.ErrorFlags)
	assert.Equal(t, RewriteAndDrop, out.Safety.RewriteMode)
	assert.Less(t, out.Quality.Observations, 1.0)
}

func TestMissingQualityIsViolation(t *testing.T) {
	a := newAssembler(t)
	c, trail, f := fixture()
	out, err := a.Assemble("rec-3", c, trail, f)
	require.NoError(t, err)

	t.Run("struct", func(t *testing.T) {
		broken := *out
		broken.Quality = nil
		err := a.Validate(&broken)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ofnr.ErrSchemaViolation))
		var sv *SchemaViolation
		require.True(t, errors.As(err, &sv))
		assert.Equal(t, "quality", sv.Path)
	})

	t.Run("document", func(t *testing.T) {
		data, err := json.Marshal(out)
		require.NoError(t, err)
		var doc map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(data, &doc))
		delete(doc, "quality")
		data, err = json.Marshal(doc)
		require.NoError(t, err)

		_, err = a.ValidateDocument(data)
		var sv *SchemaViolation
		require.True(t, errors.As(err, &sv), "got %v", err)
		assert.Equal(t, "quality", sv.Path)
	})
}

func TestValidateDocumentRoundTrip(t *testing.T) {
	a := newAssembler(t)
	c, trail, f := fixture()
	out, err := a.Assemble("rec-4", c, trail, f)
	require.NoError(t, err)

	data, err := json.Marshal(out)
	require.NoError(t, err)
	got, err := a.ValidateDocument(data)
	require.NoError(t, err)
	if diff := cmp.Diff(out, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	_, err = a.ValidateDocument([]byte(`{"id":"x","bogus":1}`))
	assert.True(t, errors.Is(err, ofnr.ErrSchemaViolation))
}

func TestInvariantViolations(t *testing.T) {
	a := newAssembler(t)
	tests := []struct {
		name   string
		mutate func(c *ofnr.Candidate, f *Findings)
		path   string
	}{
		{
			name:   "pseudo-feeling in feelings",
			mutate: func(c *ofnr.Candidate, f *Findings) { c.Feelings = []string{"hurt", "betrayed"} },
			path:   "ofnr.feelings[1]",
		},
		{
			name:   "unknown feeling",
			mutate: func(c *ofnr.Candidate, f *Findings) { c.Feelings = []string{"purple"} },
			path:   "ofnr.feelings[0]",
		},
		{
			name:   "strategy in needs",
			mutate: func(c *ofnr.Candidate, f *Findings) { c.Needs = []string{"my partner calling me every night"} },
			path:   "ofnr.needs[0]",
		},
		{
			name:   "judgment in observation",
			mutate: func(c *ofnr.Candidate, f *Findings) { c.Observations = []string{"You always ignore me."} },
			path:   "ofnr.observations[0]",
		},
		{
			name: "low quality request not flagged",
			mutate: func(c *ofnr.Candidate, f *Findings) {
				c.Requests = []string{"Be more considerate."}
				f.Requests = []RequestScore{{Text: "Be more considerate.", Composite: 0.375, AntiPatterns: []string{"vague_complaint"}}}
			},
			path: "ofnr.requests[0]",
		},
		{
			name:   "unscored request",
			mutate: func(c *ofnr.Candidate, f *Findings) { c.Requests = append(c.Requests, "Call me.") },
			path:   "ofnr.requests[1]",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, trail, f := fixture()
			tt.mutate(c, &f)
			out, err := a.Assemble("bad", c, trail, f)
			assert.Nil(t, out, "no partial output on failure")
			var sv *SchemaViolation
			require.True(t, errors.As(err, &sv), "got %v", err)
			assert.Equal(t, tt.path, sv.Path)
		})
	}
}

func TestLowQualityRequestFlagged(t *testing.T) {
	a := newAssembler(t)
	c, trail, f := fixture()
	c.Requests = []string{"Be more considerate."}
	f.Requests = []RequestScore{{
		Text:         "Be more considerate.",
		Composite:    0.375,
		AntiPatterns: []string{"vague_complaint"},
		Flags:        []string{request.FlagNeedsRevision, request.FlagLowQuality},
	}}
	out, err := a.Assemble("rec-5", c, trail, f)
	require.NoError(t, err)
	assert.Equal(t, LabelFlagged, out.Safety.Label)
	assert.False(t, out.Quality.RequestIsActionable)
	assert.True(t, out.Quality.RequestIsNoncoercive)
	assert.Contains(t, out.Flags.Warnings, `request "Be more considerate.": low_quality`)
}

func TestBadEnum(t *testing.T) {
	a := newAssembler(t)
	c, trail, f := fixture()
	out, err := a.Assemble("rec-6", c, trail, f)
	require.NoError(t, err)

	broken := *out
	s := *out.Safety
	s.Label = "fine"
	broken.Safety = &s
	var sv *SchemaViolation
	require.True(t, errors.As(a.Validate(&broken), &sv))
	assert.Equal(t, "safety.label", sv.Path)
}

func TestMasterSchema(t *testing.T) {
	data, err := MasterSchema()
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal(data, &schema))
	assert.Contains(t, string(data), `"quality"`)
	assert.Contains(t, string(data), `"request_scores"`)
	assert.Contains(t, string(data), `"repaired"`)
	assert.Contains(t, string(data), `"rewrite_and_drop"`)
}
