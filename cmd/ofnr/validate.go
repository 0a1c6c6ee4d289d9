package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hurttlocker/ofnr/internal/dataset"
	"github.com/hurttlocker/ofnr/internal/metrics"
	"github.com/hurttlocker/ofnr/internal/ofnr"
	"github.com/hurttlocker/ofnr/internal/pipeline"
	"github.com/hurttlocker/ofnr/internal/store"
)

// batchSize is the number of records handed to one RunBatch call.
const batchSize = 256

type validateOptions struct {
	input     string
	output    string
	rejected  string
	limit     int
	workers   int
	threshold float64
	dropNeeds bool
	language  string
	force     bool
	noAudit   bool

	metricsFile string
}

// validateSummary is printed when a batch finishes.
type validateSummary struct {
	RunID           string `json:"run_id"`
	Input           string `json:"input"`
	Output          string `json:"output"`
	OntologyVersion string `json:"ontology_version"`
	Read            int    `json:"read"`
	Assembled       int    `json:"assembled"`
	Rejected        int    `json:"rejected"`
	Skipped         int    `json:"skipped"`
	Malformed       int    `json:"malformed"`
}

func newValidateCmd(a *app) *cobra.Command {
	o := &validateOptions{}
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a JSONL file of OFNR records",
		Long: `Read NVC dataset records from --input, run every record through the
pipeline and write one validated output document per assembled record to
--output. Rejected records go to --rejected when given. Records that
already carry an ontology_version are skipped unless --force.

Pipeline metrics are served on /metrics at --metrics-addr while the run
lasts, and --metrics-file writes the final values in Prometheus text format.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, a, o)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&o.input, "input", "i", "", "Input JSONL file (required)")
	f.StringVarP(&o.output, "output", "o", "", "Output JSONL file (required)")
	f.StringVar(&o.rejected, "rejected", "", "Write rejected records with their diagnostics here")
	f.IntVar(&o.limit, "limit", 0, "Process at most N records (0 = all)")
	f.IntVar(&o.workers, "workers", 0, "Parallel pipeline runs (default from config)")
	f.Float64Var(&o.threshold, "threshold", 0, "Request quality threshold (default from config)")
	f.BoolVar(&o.dropNeeds, "drop-unlisted-needs", false, "Drop unlisted needs instead of rejecting the record")
	f.StringVar(&o.language, "language", "", "Default language for records without one")
	f.BoolVar(&o.force, "force", false, "Re-validate records that already carry a validated block")
	f.BoolVar(&o.noAudit, "no-audit", false, "Do not write outcomes to the audit database")
	f.String("metrics-addr", "", "Serve Prometheus metrics on this address while validating")
	f.StringVar(&o.metricsFile, "metrics-file", "", "Write final metrics to this file in Prometheus text format")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func runValidate(cmd *cobra.Command, a *app, o *validateOptions) error {
	ctx := cmd.Context()

	// Config and ontology problems are fatal before any input is read.
	m := metrics.New()
	p, err := a.pipeline(pipeline.WithObserver(m))
	if err != nil {
		return err
	}
	m.SetOntology(p.Store().Summary())
	workers, err := a.cfg.WorkerCount()
	if err != nil {
		return err
	}

	in, err := os.Open(o.input)
	if err != nil {
		return fmt.Errorf("opening input: %w", err)
	}
	defer in.Close()

	out, err := os.Create(o.output)
	if err != nil {
		return fmt.Errorf("creating output: %w", err)
	}
	defer out.Close()
	outW := dataset.NewWriter(out)

	var rejW *dataset.Writer
	if o.rejected != "" {
		rej, err := os.Create(o.rejected)
		if err != nil {
			return fmt.Errorf("creating rejected file: %w", err)
		}
		defer rej.Close()
		rejW = dataset.NewWriter(rej)
	}

	var audit store.Store
	if !o.noAudit {
		audit, err = a.openStore()
		if err != nil {
			return err
		}
		defer audit.Close()
	}

	sum := validateSummary{
		RunID:           uuid.NewString(),
		Input:           o.input,
		Output:          o.output,
		OntologyVersion: p.Store().Version(),
	}
	if audit != nil {
		if err := audit.BeginRun(ctx, sum.RunID, o.input); err != nil {
			return err
		}
	}
	if addr := a.cfg.MetricsAddr.Value; addr != "" {
		stop := serveMetrics(ctx, addr, m, a.logger)
		defer stop()
	}
	log := a.logger.With(zap.String("run_id", sum.RunID))
	log.Info("validating", zap.String("input", o.input), zap.Int("workers", workers))

	reader := dataset.NewReader(in, o.limit)
	file := filepath.Base(o.input)
	batch := make([]ofnr.Candidate, 0, batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		results, err := p.RunBatch(ctx, batch, workers)
		if err != nil {
			return err
		}
		for i, res := range results {
			if err := record(ctx, audit, sum.RunID, batch[i], res); err != nil {
				return err
			}
			switch res.State {
			case ofnr.StateAssembled:
				sum.Assembled++
				if err := outW.Write(res.Output); err != nil {
					return err
				}
			default:
				sum.Rejected++
				log.Debug("record rejected", zap.String("id", res.ID), zap.String("reason", res.Reason))
				if rejW != nil {
					if err := rejW.Write(res); err != nil {
						return err
					}
				}
			}
		}
		batch = batch[:0]
		return nil
	}

	for {
		rec, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		sum.Read++
		if rec.Validated() && !o.force {
			sum.Skipped++
			continue
		}
		batch = append(batch, rec.Candidate(file))
		if len(batch) == batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}

	for _, le := range reader.Skipped() {
		log.Warn("skipped malformed line", zap.Int("line", le.Line), zap.Error(le.Err))
	}
	sum.Malformed = len(reader.Skipped())

	if err := outW.Flush(); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	if rejW != nil {
		if err := rejW.Flush(); err != nil {
			return fmt.Errorf("writing rejected file: %w", err)
		}
	}
	if audit != nil {
		if err := audit.FinishRun(ctx, sum.RunID, sum.Assembled, sum.Rejected, sum.Skipped); err != nil {
			return err
		}
	}

	if o.metricsFile != "" {
		if err := prometheus.WriteToTextfile(o.metricsFile, m.Registry()); err != nil {
			return fmt.Errorf("writing metrics file: %w", err)
		}
	}

	log.Info("validation finished",
		zap.Int("assembled", sum.Assembled),
		zap.Int("rejected", sum.Rejected),
		zap.Int("skipped", sum.Skipped),
		zap.Int("malformed", sum.Malformed),
	)
	return printJSON(cmd.OutOrStdout(), sum)
}

func record(ctx context.Context, audit store.Store, runID string, cand ofnr.Candidate, res *pipeline.Result) error {
	if audit == nil {
		return nil
	}
	return audit.SaveResult(ctx, runID, cand, res)
}
