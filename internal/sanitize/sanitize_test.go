package sanitize

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hurttlocker/ofnr/internal/ofnr"
	"github.com/hurttlocker/ofnr/internal/ontology"
)

func newSanitizer(t *testing.T) *Sanitizer {
	t.Helper()
	store, err := ontology.Default()
	require.NoError(t, err)
	return New(store)
}

var rewriteCases = []struct {
	in    string
	want  string
	diags int
}{
	{"you always ignore me", "you often do not respond to me", 2},
	{"You never call on Sundays.", "You rarely call on Sundays.", 1},
	{"Obviously you left the dishes in the sink.", "You left the dishes in the sink.", 1},
	{"Always late, every single time.", "Often late, several times.", 2},
	{"He literally yelled at me in the kitchen.", "He spoke loudly to me in the kitchen.", 2},
}

func TestSanitizeRewrites(t *testing.T) {
	s := newSanitizer(t)
	for _, tt := range rewriteCases {
		t.Run(tt.in, func(t *testing.T) {
			got, diags, err := s.Sanitize(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			require.Len(t, diags, tt.diags)
			for _, d := range diags {
				assert.Equal(t, ofnr.ActionRewritten, d.Action)
				assert.Equal(t, ofnr.StageSanitize, d.Stage)
				assert.Equal(t, ofnr.FieldObservations, d.Field)
				require.NotNil(t, d.Replacement)
			}
		})
	}
}

func TestSanitizeAlwaysIsQualified(t *testing.T) {
	s := newSanitizer(t)
	got, _, err := s.Sanitize("you always ignore me")
	require.NoError(t, err)
	assert.NotContains(t, strings.ToLower(got), "always")
	assert.False(t, s.markers.Contains(got), "output %q still holds a marker", got)
}

func TestSanitizeRejects(t *testing.T) {
	s := newSanitizer(t)
	for _, in := range []string{
		"She is so lazy.",
		"You're being selfish again.",
		"You did that on purpose.",
		"You should have called.",
		"You are such an idiot",
	} {
		t.Run(in, func(t *testing.T) {
			got, diags, err := s.Sanitize(in)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ofnr.ErrObservationRejected))
			assert.Empty(t, got)
			require.Len(t, diags, 1)
			assert.Equal(t, ofnr.ActionRejected, diags[0].Action)
			assert.Equal(t, in, diags[0].Original)
			assert.Nil(t, diags[0].Replacement)
		})
	}
}

// Removing an intensifier can join the words around it into a reject-class
// pattern. The observation is rejected instead of returned half clean.
func TestSanitizeRejectsMarkerLeftAfterRewrite(t *testing.T) {
	s := newSanitizer(t)
	tests := []struct {
		in    string
		label string
	}{
		{"You were clearly being unfair.", "labeling"},
		{"You're clearly such a mess.", "labeling"},
		{"You are obviously so tired of it.", "labeling"},
		{"worse than literally everyone", "global_comparison"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, diags, err := s.Sanitize(tt.in)
			require.Error(t, err)
			assert.ErrorIs(t, err, ofnr.ErrObservationRejected)
			assert.Empty(t, got)
			require.Len(t, diags, 1)
			assert.Equal(t, ofnr.ActionRejected, diags[0].Action)
			assert.Equal(t, tt.in, diags[0].Original)
			assert.Contains(t, diags[0].Reason, tt.label)
			assert.Contains(t, diags[0].Reason, "left after rewrite")
		})
	}
}

func TestSanitizeIdempotent(t *testing.T) {
	s := newSanitizer(t)
	inputs := []string{"You arrived at 9:40 this morning.", ""}
	for _, tt := range rewriteCases {
		inputs = append(inputs, tt.in)
	}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			once, _, err := s.Sanitize(in)
			require.NoError(t, err)
			assert.False(t, s.markers.Contains(once), "output %q still holds a marker", once)
			twice, diags, err := s.Sanitize(once)
			require.NoError(t, err)
			assert.Equal(t, once, twice)
			assert.Empty(t, diags, "second pass over %q", once)
		})
	}
}

func TestApply(t *testing.T) {
	s := newSanitizer(t)
	c := &ofnr.Candidate{Observations: []string{
		"You arrived at 9:40 this morning.",
		"you always ignore me",
		"You are so rude.",
	}}
	var trail ofnr.Trail

	r := s.Apply(c, &trail)

	assert.Equal(t, []string{"You arrived at 9:40 this morning.", "you often do not respond to me"}, c.Observations)
	assert.Equal(t, 3, r.Total)
	assert.Equal(t, 1, r.Untouched)
	assert.Equal(t, 1, r.Rewritten)
	assert.Equal(t, 1, r.Rejected)
	assert.Contains(t, r.Evaluations, "always")
	assert.Contains(t, r.Evaluations, "ignore me")
	assert.Contains(t, r.Evaluations, "rude")

	counts := trail.Counts()
	assert.Equal(t, 1, counts[ofnr.ActionPass])
	assert.Equal(t, 2, counts[ofnr.ActionRewritten])
	assert.Equal(t, 1, counts[ofnr.ActionRejected])
}
