package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hurttlocker/ofnr/internal/mcp"
	"github.com/hurttlocker/ofnr/internal/metrics"
	"github.com/hurttlocker/ofnr/internal/pipeline"
)

func newMCPCmd(a *app) *cobra.Command {
	var noAudit bool
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the OFNR tools over MCP stdio",
		Long: `Start a Model Context Protocol server on stdin/stdout exposing
ofnr_validate, ofnr_sanitize_observation, ofnr_classify_feeling,
ofnr_check_need, ofnr_score_request and ofnr_stats, plus the ofnr://schema
resource. With --metrics-addr, Prometheus metrics are served on /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			m := metrics.New()

			p, err := a.pipeline(pipeline.WithObserver(m))
			if err != nil {
				return err
			}
			m.SetOntology(p.Store().Summary())

			cfg := mcp.ServerConfig{
				Pipeline: p,
				Metrics:  m,
				Logger:   a.logger,
				Version:  version,
			}
			if !noAudit {
				st, err := a.openStore()
				if err != nil {
					return err
				}
				defer st.Close()
				cfg.Store = st
			}

			if addr := a.cfg.MetricsAddr.Value; addr != "" {
				stop := serveMetrics(ctx, addr, m, a.logger)
				defer stop()
			}

			a.logger.Info("mcp server starting", zap.String("ontology_version", p.Store().Version()))
			return mcp.Serve(ctx, mcp.NewServer(cfg), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9464)")
	cmd.Flags().BoolVar(&noAudit, "no-audit", false, "Do not write outcomes to the audit database")
	return cmd
}

// serveMetrics starts the /metrics listener and returns its shutdown func.
func serveMetrics(ctx context.Context, addr string, m *metrics.Metrics, logger *zap.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics listener failed", zap.String("addr", addr), zap.Error(err))
		}
	}()
	logger.Info("metrics endpoint enabled", zap.String("addr", addr))

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
}
