package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/hurttlocker/ofnr/internal/ofnr"
	"github.com/hurttlocker/ofnr/internal/ontology"
	"github.com/hurttlocker/ofnr/internal/request"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newPipeline(t *testing.T, cfg Config, opts ...Option) *Pipeline {
	t.Helper()
	store, err := ontology.Default()
	require.NoError(t, err)
	p, err := New(store, cfg, zap.NewNop(), opts...)
	require.NoError(t, err)
	return p
}

func sample() ofnr.Candidate {
	return ofnr.Candidate{
		ID:           "rec-1",
		Observations: []string{"You always ignore me when I get home."},
		Feelings:     []string{"betrayed", "tight chest"},
		Needs:        []string{"my partner calling me every night"},
		Requests:     []string{"You have to call me tonight."},
	}
}

func TestRunAssembles(t *testing.T) {
	p := newPipeline(t, DefaultConfig())
	in := sample()

	res, err := p.Run(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, ofnr.StateAssembled, res.State)
	require.NotNil(t, res.Output)
	out := res.Output

	// Pseudo-feeling translated, implied need admitted.
	assert.Equal(t, []string{"hurt"}, out.OFNR.Feelings)
	assert.Contains(t, out.OFNR.Needs, "trust")
	assert.Equal(t, []string{"betrayed"}, out.OFNR.PseudoFeelingsDetected)

	// Strategy moved out of needs.
	assert.NotContains(t, out.OFNR.Needs, "my partner calling me every night")
	assert.Contains(t, out.OFNR.StrategyLeakageDetected, "my partner calling me every night")
	assert.Contains(t, out.OFNR.Requests, "my partner calling me every night")

	// Observation downgraded and rewritten.
	require.Len(t, out.OFNR.Observations, 1)
	assert.NotContains(t, strings.ToLower(out.OFNR.Observations[0]), "always")
	assert.Equal(t, "You often do not respond to me when I get home.", out.OFNR.Observations[0])

	// Demand rewritten into an invitation.
	assert.Contains(t, out.OFNR.Requests, "Would you be willing to call me tonight?")

	assert.Equal(t, []string{"tight chest"}, out.Metadata.SomaticMarkers)
	assert.Equal(t, "repaired", out.Safety.Label)
	assert.Equal(t, "rewrite", out.Safety.RewriteMode)
	assert.Contains(t, out.Safety.SafeAlternative, "Would you be willing to call me tonight?")
	assert.Equal(t, len(res.Diagnostics), len(out.Diagnostics))

	// The caller's candidate is untouched.
	assert.Equal(t, sample(), in)
}

func TestRunInvariants(t *testing.T) {
	p := newPipeline(t, Config{Scoring: request.DefaultConfig(), DropUnlistedNeeds: true})
	store := p.Store()

	inputs := []ofnr.Candidate{
		sample(),
		{Feelings: []string{"ignored", "abandoned", "sad"}, Needs: []string{"support", "you helping me with the dishes"}},
		{Observations: []string{"Obviously you never help."}, Feelings: []string{"used", "mad"}, Needs: []string{"fairness", "a raise"}},
		{Feelings: []string{"I feel like nobody cares"}, Requests: []string{"Be more considerate."}},
		{Needs: []string{"time alone at home on weekends", "space"}, Requests: []string{"Don't interrupt me."}},
	}
	for i, in := range inputs {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			res, err := p.Run(context.Background(), in)
			require.NoError(t, err)
			out := res.Output
			for _, n := range out.OFNR.Needs {
				assert.True(t, store.IsNeed(n), "need %q not listed", n)
				assert.Empty(t, store.Plato().Match(n), "need %q is a strategy", n)
			}
			for _, f := range out.OFNR.Feelings {
				assert.True(t, store.IsFeeling(f), "feeling %q not canonical", f)
				assert.False(t, store.IsPseudoFeeling(f), "feeling %q is a pseudo-feeling", f)
			}
			for _, o := range out.OFNR.Observations {
				assert.False(t, store.Judgments().Contains(o), "observation %q holds a marker", o)
			}
			for _, rs := range out.Quality.RequestScores {
				if rs.Composite < p.cfg.Scoring.Threshold {
					assert.Contains(t, rs.Flags, request.FlagLowQuality)
				}
			}
		})
	}
}

func TestRunTranslationRoundTrip(t *testing.T) {
	p := newPipeline(t, DefaultConfig())
	store := p.Store()
	for _, token := range []string{"betrayed", "ignored", "judged", "trapped"} {
		pf, _ := store.LookupPseudoFeeling(token)
		res, err := p.Run(context.Background(), ofnr.Candidate{Feelings: []string{token}})
		require.NoError(t, err, token)
		assert.Contains(t, res.Output.OFNR.Feelings, pf.Translation.TrueFeeling, token)
		assert.Contains(t, res.Output.OFNR.Needs, pf.Translation.UnderlyingNeed, token)
		assert.NotContains(t, res.Output.OFNR.Feelings, token)
	}
}

func TestRunDropsObservationJoinedIntoJudgment(t *testing.T) {
	p := newPipeline(t, DefaultConfig())
	res, err := p.Run(context.Background(), ofnr.Candidate{
		ID:           "rec-joined",
		Observations: []string{"You were clearly being unfair.", "You left at 8 pm."},
		Feelings:     []string{"hurt"},
		Needs:        []string{"trust"},
	})
	require.NoError(t, err)
	require.Equal(t, ofnr.StateAssembled, res.State)
	assert.Equal(t, []string{"You left at 8 pm."}, res.Output.OFNR.Observations)
	assert.Equal(t, "flagged", res.Output.Safety.Label)
	assert.Equal(t, "drop", res.Output.Safety.RewriteMode)
	assert.Empty(t, res.Output.Safety.SafeAlternative)

	rejected := 0
	for _, d := range res.Diagnostics {
		if d.Stage == ofnr.StageSanitize && d.Action == ofnr.ActionRejected {
			rejected++
			assert.Equal(t, "You were clearly being unfair.", d.Original)
		}
	}
	assert.Equal(t, 1, rejected)
}

func TestRunRejectsUnlistedNeed(t *testing.T) {
	p := newPipeline(t, DefaultConfig())
	res, err := p.Run(context.Background(), ofnr.Candidate{
		Feelings: []string{"sad"},
		Needs:    []string{"trust", "validation"},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ofnr.ErrRejected))
	assert.True(t, errors.Is(err, ofnr.ErrNotInLockedList))
	require.NotNil(t, res)
	assert.Equal(t, ofnr.StateRejected, res.State)
	assert.Nil(t, res.Output)
	assert.Contains(t, res.Reason, "validation")
	assert.NotEmpty(t, res.Diagnostics)
}

func TestRunRejectsEmptyCandidate(t *testing.T) {
	p := newPipeline(t, DefaultConfig())
	res, err := p.Run(context.Background(), ofnr.Candidate{Feelings: []string{"  ", ""}})
	assert.True(t, errors.Is(err, ErrMalformed))
	assert.True(t, errors.Is(err, ofnr.ErrRejected))
	assert.Equal(t, ofnr.StateRejected, res.State)
}

func TestRunCancelled(t *testing.T) {
	obs := &recorder{}
	p := newPipeline(t, DefaultConfig(), WithObserver(obs))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := p.Run(ctx, sample())
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Zero(t, obs.count(), "abandoned run must not be observed")
}

func TestNewConfigErrors(t *testing.T) {
	store, err := ontology.Default()
	require.NoError(t, err)

	_, err = New(nil, DefaultConfig(), nil)
	assert.True(t, errors.Is(err, ofnr.ErrConfig))

	cfg := DefaultConfig()
	cfg.Scoring.Weights.Positivity = 0.9
	_, err = New(store, cfg, nil)
	assert.True(t, errors.Is(err, ofnr.ErrConfig))
}

func TestRunBatch(t *testing.T) {
	obs := &recorder{}
	n := 0
	var mu sync.Mutex
	p := newPipeline(t, DefaultConfig(), WithObserver(obs), WithIDFunc(func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("gen-%d", n)
	}))

	var cands []ofnr.Candidate
	for i := 0; i < 40; i++ {
		c := sample()
		c.ID = fmt.Sprintf("rec-%02d", i)
		if i%10 == 0 {
			c.Needs = append(c.Needs, "a pony")
		}
		cands = append(cands, c)
	}
	cands = append(cands, ofnr.Candidate{Feelings: []string{"sad"}})

	results, err := p.RunBatch(context.Background(), cands, 4)
	require.NoError(t, err)
	require.Len(t, results, len(cands))

	rejected := 0
	for i, res := range results[:40] {
		assert.Equal(t, fmt.Sprintf("rec-%02d", i), res.ID)
		if res.State == ofnr.StateRejected {
			rejected++
		}
	}
	assert.Equal(t, 4, rejected)
	assert.Equal(t, "gen-1", results[40].ID)
	assert.Equal(t, len(cands), obs.count())
}

func TestRunBatchCancelled(t *testing.T) {
	p := newPipeline(t, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.RunBatch(ctx, []ofnr.Candidate{sample(), sample()}, 2)
	assert.True(t, errors.Is(err, context.Canceled))
}

type recorder struct {
	mu     sync.Mutex
	states []ofnr.State
}

func (r *recorder) Observe(state ofnr.State, label string, counts map[ofnr.Action]int, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}
