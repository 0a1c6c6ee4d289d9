package request

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hurttlocker/ofnr/internal/ofnr"
	"github.com/hurttlocker/ofnr/internal/ontology"
)

func newScorer(t *testing.T) *Scorer {
	t.Helper()
	store, err := ontology.Default()
	require.NoError(t, err)
	s, err := New(store, DefaultConfig())
	require.NoError(t, err)
	return s
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	bad := []Config{
		{Weights: Weights{0.5, 0.5, 0.5}, Threshold: 0.6},
		{Weights: Weights{1.2, -0.1, -0.1}, Threshold: 0.6},
		{Weights: Weights{0.4, 0.3, 0.3}, Threshold: 1.5},
	}
	for _, cfg := range bad {
		err := cfg.Validate()
		require.Error(t, err, "%+v", cfg)
		assert.True(t, errors.Is(err, ofnr.ErrConfig))
	}

	store, err := ontology.Default()
	require.NoError(t, err)
	_, err = New(store, bad[0])
	assert.True(t, errors.Is(err, ofnr.ErrConfig))
}

func TestScore(t *testing.T) {
	s := newScorer(t)
	tests := []struct {
		text string
		want Score
	}{
		{
			text: "Would you be willing to call me tonight?",
			want: Score{Actionability: 1, Specificity: 0.75, Positivity: 1, Composite: 0.925},
		},
		{
			text: "Stop yelling at me.",
			want: Score{Actionability: 0, Specificity: 0.5, Positivity: 0.5, Composite: 0.3},
		},
		{
			text: "Be more considerate.",
			want: Score{Actionability: 0, Specificity: 0.25, Positivity: 1, Composite: 0.375, AntiPatterns: []string{"vague_complaint"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, s.Score(tt.text))
		})
	}
}

func TestScoreWeightsAreConfigurable(t *testing.T) {
	store, err := ontology.Default()
	require.NoError(t, err)
	s, err := New(store, Config{Weights: Weights{Actionability: 1}, Threshold: 0.5})
	require.NoError(t, err)
	assert.Equal(t, 0.6, s.Score("Call me.").Composite)
}

func TestAssess(t *testing.T) {
	s := newScorer(t)
	tests := []struct {
		name      string
		text      string
		want      string
		rules     []string
		flags     []string
		rewritten bool
	}{
		{
			name: "good request untouched",
			text: "Would you be willing to call me tonight?",
			want: "Would you be willing to call me tonight?",
		},
		{
			name:      "demand becomes invitation",
			text:      "You have to call me tonight.",
			want:      "Would you be willing to call me tonight?",
			rules:     []string{"demand_to_invitation"},
			rewritten: true,
		},
		{
			name:      "negative phrasing",
			text:      "Stop yelling at me.",
			want:      "Speak to me in a calm voice.",
			rules:     []string{"stop_yelling"},
			rewritten: true,
		},
		{
			name:      "dont be late",
			text:      "Please don't be late",
			want:      "Please arrive on time",
			rules:     []string{"dont_be_late"},
			rewritten: true,
		},
		{
			name:  "no rule flags",
			text:  "Be more considerate.",
			want:  "Be more considerate.",
			flags: []string{FlagNeedsRevision, FlagLowQuality},
		},
		{
			name:  "threat without rule",
			text:  "Call me back tonight or else.",
			want:  "Call me back tonight or else.",
			flags: []string{FlagNeedsRevision},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := s.Assess(tt.text)
			assert.Equal(t, tt.want, a.Text)
			assert.Equal(t, tt.text, a.Original)
			assert.Equal(t, tt.rules, a.Rules)
			assert.Equal(t, tt.flags, a.Flags)
			assert.Equal(t, tt.rewritten, a.Rewritten)
			if !contains(a.Flags, FlagLowQuality) {
				assert.GreaterOrEqual(t, a.Composite, s.Config().Threshold)
			}
		})
	}
}

func TestApply(t *testing.T) {
	s := newScorer(t)
	c := &ofnr.Candidate{Requests: []string{
		"You have to call me tonight.",
		"Would you be willing to call me tonight?",
		"Be more considerate.",
	}}
	var trail ofnr.Trail

	r := s.Apply(c, &trail)

	assert.Equal(t, []string{"Would you be willing to call me tonight?", "Be more considerate."}, c.Requests)
	require.Len(t, r.Assessments, 2)
	assert.True(t, r.Assessments[0].Rewritten)

	counts := trail.Counts()
	assert.Equal(t, 1, counts[ofnr.ActionRewritten])
	assert.Equal(t, 2, counts[ofnr.ActionPass])
	assert.Zero(t, counts[ofnr.ActionRejected])
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
