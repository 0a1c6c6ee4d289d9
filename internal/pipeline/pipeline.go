// Package pipeline runs a candidate extraction through the validation
// stages: Raw → Sanitized → Classified → NeedValidated → RequestScored →
// Assembled, or Rejected on a hard failure.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hurttlocker/ofnr/internal/assemble"
	"github.com/hurttlocker/ofnr/internal/feeling"
	"github.com/hurttlocker/ofnr/internal/ofnr"
	"github.com/hurttlocker/ofnr/internal/ontology"
	"github.com/hurttlocker/ofnr/internal/plato"
	"github.com/hurttlocker/ofnr/internal/request"
	"github.com/hurttlocker/ofnr/internal/sanitize"
)

// Config controls pipeline behaviour.
type Config struct {
	Scoring           request.Config
	DropUnlistedNeeds bool
	Language          string
}

// DefaultConfig returns the default scoring config, strict needs and
// English.
func DefaultConfig() Config {
	return Config{Scoring: request.DefaultConfig(), Language: "en"}
}

// Observer receives one call per finished run.
type Observer interface {
	Observe(state ofnr.State, label string, counts map[ofnr.Action]int, elapsed time.Duration)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithObserver reports finished runs to o.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.observer = o }
}

// WithIDFunc overrides how ids are generated for candidates without one.
func WithIDFunc(fn func() string) Option {
	return func(p *Pipeline) { p.newID = fn }
}

// Pipeline validates candidates against one ontology release. It is safe
// for concurrent use; runs share nothing but the read-only store.
type Pipeline struct {
	store  *ontology.Store
	cfg    Config
	logger *zap.Logger

	sanitizer  *sanitize.Sanitizer
	classifier *feeling.Classifier
	gate       *plato.Gate
	scorer     *request.Scorer
	assembler  *assemble.Assembler

	observer Observer
	newID    func() string
}

// New builds a pipeline. A nil store or invalid scoring config is an
// ofnr.ErrConfig.
func New(store *ontology.Store, cfg Config, logger *zap.Logger, opts ...Option) (*Pipeline, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: nil ontology store", ofnr.ErrConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	scorer, err := request.New(store, cfg.Scoring)
	if err != nil {
		return nil, err
	}
	p := &Pipeline{
		store:      store,
		cfg:        cfg,
		logger:     logger,
		sanitizer:  sanitize.New(store),
		classifier: feeling.New(store),
		gate:       plato.New(store, plato.WithDropUnlisted(cfg.DropUnlistedNeeds)),
		scorer:     scorer,
		assembler:  assemble.New(store, cfg.Scoring.Threshold),
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Store returns the ontology release the pipeline validates against.
func (p *Pipeline) Store() *ontology.Store { return p.store }

// Sanitizer returns the observation stage.
func (p *Pipeline) Sanitizer() *sanitize.Sanitizer { return p.sanitizer }

// Classifier returns the feeling stage.
func (p *Pipeline) Classifier() *feeling.Classifier { return p.classifier }

// Gate returns the needs stage.
func (p *Pipeline) Gate() *plato.Gate { return p.gate }

// Scorer returns the request stage.
func (p *Pipeline) Scorer() *request.Scorer { return p.scorer }

// Assembler returns the schema stage.
func (p *Pipeline) Assembler() *assemble.Assembler { return p.assembler }

// Result is the outcome of one run. It always carries the final state and
// the diagnostic trail; Output is set only when State is Assembled.
type Result struct {
	ID          string                    `json:"id"`
	State       ofnr.State                `json:"state"`
	Output      *assemble.ValidatedOutput `json:"output,omitempty"`
	Reason      string                    `json:"reason,omitempty"`
	Diagnostics []ofnr.Diagnostic         `json:"diagnostics"`
	Source      ofnr.Source               `json:"source"`
}

func (r *Result) advance(to ofnr.State) error {
	next, err := r.State.Next(to)
	if err != nil {
		return err
	}
	r.State = next
	return nil
}

// ErrMalformed marks a candidate that cannot enter the pipeline.
var ErrMalformed = errors.New("malformed candidate")

// Run validates one candidate. The caller's value is never modified.
//
// A rejected record returns both a Result (State Rejected, with reason and
// diagnostics) and an error wrapping ofnr.ErrRejected and the cause. If ctx
// is done at a stage boundary Run returns ctx.Err() and no Result.
func (p *Pipeline) Run(ctx context.Context, cand ofnr.Candidate) (*Result, error) {
	start := time.Now()
	c := cand.Clone()
	c.Compact()
	if c.ID == "" {
		c.ID = p.newID()
	}
	if c.Language == "" {
		c.Language = p.cfg.Language
	}

	res := &Result{ID: c.ID, State: ofnr.StateRaw, Source: c.Source}
	trail := &ofnr.Trail{}
	log := p.logger.With(zap.String("id", c.ID))

	reject := func(cause error) (*Result, error) {
		_ = res.advance(ofnr.StateRejected)
		res.Reason = cause.Error()
		res.Diagnostics = trail.Entries()
		log.Debug("record rejected", zap.String("reason", res.Reason), zap.Int("diagnostics", len(res.Diagnostics)))
		p.observe(res, "", trail, start)
		return res, fmt.Errorf("%w: %w", ofnr.ErrRejected, cause)
	}

	if c.Empty() {
		return reject(fmt.Errorf("%w: no observations, feelings, needs or requests", ErrMalformed))
	}

	// Sanitize
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	obs := p.sanitizer.Apply(c, trail)
	if err := res.advance(ofnr.StateSanitized); err != nil {
		return nil, err
	}

	// Classify
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	feel := p.classifier.Apply(c, trail)
	if err := res.advance(ofnr.StateClassified); err != nil {
		return nil, err
	}

	// Needs
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	needs, err := p.gate.Apply(c, feel.Translations, trail)
	if err != nil {
		return reject(err)
	}
	if err := res.advance(ofnr.StateNeedValidated); err != nil {
		return nil, err
	}

	// Requests
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	reqs := p.scorer.Apply(c, trail)
	if err := res.advance(ofnr.StateRequestScored); err != nil {
		return nil, err
	}

	// Assemble
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	admitted := lo.CountBy(feel.Translations, func(t ontology.Translation) bool {
		return lo.Contains(c.Needs, t.UnderlyingNeed)
	})
	findings := assemble.Findings{
		Evaluations:          obs.Evaluations,
		PseudoFeelings:       feel.Pseudo,
		Strategies:           needs.Strategies,
		Unverified:           feel.Unverified,
		Somatic:              feel.Somatic,
		Translations:         len(feel.Translations),
		TranslationsAdmitted: admitted,
		Requests:             lo.Map(reqs.Assessments, toRequestScore),
		Language:             c.Language,
		Source:               c.Source,
		Warnings:             warnings(c, obs),
	}
	out, err := p.assembler.Assemble(c.ID, c, trail, findings)
	if err != nil {
		return reject(err)
	}
	if err := res.advance(ofnr.StateAssembled); err != nil {
		return nil, err
	}
	res.Output = out
	res.Diagnostics = out.Diagnostics

	log.Debug("record assembled",
		zap.String("label", out.Safety.Label),
		zap.Float64("overall_confidence", out.Quality.OverallConfidence),
		zap.Int("diagnostics", len(out.Diagnostics)),
	)
	p.observe(res, out.Safety.Label, trail, start)
	return res, nil
}

func toRequestScore(a request.Assessment, _ int) assemble.RequestScore {
	return assemble.RequestScore{
		Text:          a.Text,
		Original:      a.Original,
		Actionability: a.Actionability,
		Specificity:   a.Specificity,
		Positivity:    a.Positivity,
		Composite:     a.Composite,
		AntiPatterns:  a.AntiPatterns,
		Flags:         a.Flags,
	}
}

func warnings(c *ofnr.Candidate, obs sanitize.Report) []string {
	var w []string
	if obs.Total > 0 && len(c.Observations) == 0 {
		w = append(w, "every observation was rejected")
	}
	if len(c.Feelings) == 0 {
		w = append(w, "no canonical feelings")
	}
	if len(c.Needs) == 0 {
		w = append(w, "no needs")
	}
	if len(c.Requests) == 0 {
		w = append(w, "no requests")
	}
	return w
}

func (p *Pipeline) observe(res *Result, label string, trail *ofnr.Trail, start time.Time) {
	if p.observer == nil {
		return
	}
	p.observer.Observe(res.State, label, trail.Counts(), time.Since(start))
}

// RunBatch validates candidates in parallel with at most workers runs in
// flight. Results keep input order. Rejected records are results, not
// errors; the batch fails only when ctx is done.
func (p *Pipeline) RunBatch(ctx context.Context, cands []ofnr.Candidate, workers int) ([]*Result, error) {
	if workers < 1 {
		workers = 1
	}
	results := make([]*Result, len(cands))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range cands {
		g.Go(func() error {
			res, err := p.Run(gctx, cands[i])
			if err != nil && !errors.Is(err, ofnr.ErrRejected) {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
