package feeling

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hurttlocker/ofnr/internal/ofnr"
	"github.com/hurttlocker/ofnr/internal/ontology"
)

func newClassifier(t *testing.T) (*Classifier, *ontology.Store) {
	t.Helper()
	store, err := ontology.Default()
	require.NoError(t, err)
	return New(store), store
}

func TestClassify(t *testing.T) {
	c, _ := newClassifier(t)
	tests := []struct {
		term      string
		kind      Kind
		canonical string
	}{
		{"sad", KindTrueFeeling, "sad"},
		{"I feel frustrated", KindTrueFeeling, "frustrated"},
		{"I'm feeling really mad", KindTrueFeeling, "angry"},
		{"stressed out", KindTrueFeeling, "overwhelmed"},
		{"betrayed", KindPseudoFeeling, "betrayed"},
		{"I felt ignored.", KindPseudoFeeling, "ignored"},
		{"tight chest", KindSomatic, "tight chest"},
		{"butterflies", KindSomatic, "butterflies"},
		{"I feel like you don't care", KindUnknown, ""},
		{"purple", KindUnknown, ""},
		{"hurting", KindTrueFeeling, "hurt"},
		{"hurtful", KindUnknown, ""},
		{"hateful", KindUnknown, ""},
	}
	for _, tt := range tests {
		t.Run(tt.term, func(t *testing.T) {
			got := c.Classify(tt.term)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.canonical, got.Canonical)
			if tt.kind == KindUnknown {
				assert.Contains(t, got.Reason, "low_confidence")
			}
		})
	}
}

func TestClassifyBetrayed(t *testing.T) {
	c, _ := newClassifier(t)
	got := c.Classify("betrayed")
	require.Equal(t, KindPseudoFeeling, got.Kind)
	require.NotNil(t, got.Translation)
	assert.Equal(t, ontology.Translation{TrueFeeling: "hurt", UnderlyingNeed: "trust"}, *got.Translation)
}

func TestApply(t *testing.T) {
	c, store := newClassifier(t)
	cand := &ofnr.Candidate{Feelings: []string{"betrayed", "hurt", "Mad", "racing heart", "like a doormat"}}
	var trail ofnr.Trail

	r := c.Apply(cand, &trail)

	assert.Equal(t, []string{"hurt", "angry"}, cand.Feelings)
	assert.Equal(t, []ontology.Translation{{TrueFeeling: "hurt", UnderlyingNeed: "trust"}}, r.Translations)
	assert.Equal(t, []string{"betrayed"}, r.Pseudo)
	assert.Equal(t, []string{"racing heart"}, r.Somatic)
	assert.Equal(t, []string{"like a doormat"}, r.Unverified)

	for _, f := range cand.Feelings {
		assert.True(t, store.IsFeeling(f), "%q is not canonical", f)
		assert.False(t, store.IsPseudoFeeling(f), "%q is a pseudo-feeling", f)
	}

	counts := trail.Counts()
	assert.Equal(t, 5, trail.Len())
	assert.Equal(t, 2, counts[ofnr.ActionRewritten])
	assert.Equal(t, 1, counts[ofnr.ActionReclassified])
	assert.Equal(t, 2, counts[ofnr.ActionPass])
}

func TestApplyEveryPseudoFeeling(t *testing.T) {
	c, store := newClassifier(t)
	for _, token := range []string{"abandoned", "let down", "used", "smothered", "unheard"} {
		p, kind := store.LookupPseudoFeeling(token)
		require.NotEqual(t, ontology.MatchNone, kind, token)

		cand := &ofnr.Candidate{Feelings: []string{token}}
		r := c.Apply(cand, &ofnr.Trail{})
		assert.Equal(t, []string{p.Translation.TrueFeeling}, cand.Feelings, token)
		assert.Equal(t, []ontology.Translation{p.Translation}, r.Translations, token)
	}
}
