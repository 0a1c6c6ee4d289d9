package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hurttlocker/ofnr/internal/config"
	"github.com/hurttlocker/ofnr/internal/logging"
	"github.com/hurttlocker/ofnr/internal/ontology"
	"github.com/hurttlocker/ofnr/internal/pipeline"
	"github.com/hurttlocker/ofnr/internal/store"
)

const version = "0.1.0-dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// app carries the global flags and the state resolved from them.
type app struct {
	configPath  string
	envFile     string
	dbPath      string
	ontologyDir string
	logLevel    string
	verbose     bool
	logJSON     bool

	cfg    config.ResolvedConfig
	logger *zap.Logger

	ontoOnce sync.Once
	onto     *ontology.Store
	ontoErr  error
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "ofnr",
		Short: "Validate and normalize OFNR extractions",
		Long: `ofnr validates LLM-produced Observation / Feeling / Need / Request
extractions against a locked ontology release and emits schema-conformant,
diagnosed JSONL.

Pipeline:
  sanitize   strip judgment markers from observations
  classify   map feelings to canonical terms, translate pseudo-feelings
  needs      keep only listed needs, move PLATO strategies to requests
  requests   score and rewrite requests
  assemble   emit the validated document with safety, quality and flags`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "Config file (default: ~/.ofnr/config.yaml)")
	pf.StringVar(&a.envFile, "env-file", "", "Env file to load (default: ./.env when present)")
	pf.StringVar(&a.dbPath, "db", "", "Audit database path (default: ~/.ofnr/audit.db)")
	pf.StringVar(&a.ontologyDir, "ontology", "", "Ontology release directory (default: embedded release)")
	pf.StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")
	pf.BoolVar(&a.logJSON, "log-json", false, "Log as JSON")

	root.AddCommand(
		newValidateCmd(a),
		newCheckCmd(a),
		newClassifyCmd(a),
		newNeedCmd(a),
		newScoreCmd(a),
		newSanitizeCmd(a),
		newSchemaCmd(),
		newOntologyCmd(a),
		newStatsCmd(a),
		newConfigCmd(a),
		newMCPCmd(a),
	)
	return root
}

// setup resolves config and builds the logger. Flags of the running
// subcommand that map to config keys are passed through as CLI overrides.
func (a *app) setup(cmd *cobra.Command) error {
	opts := config.ResolveOptions{
		ConfigPath:     a.configPath,
		EnvFile:        a.envFile,
		CLIDBPath:      a.dbPath,
		CLIOntologyDir: a.ontologyDir,
		CLILogLevel:    a.logLevel,
	}
	if a.verbose {
		opts.CLILogLevel = "debug"
	}
	flags := cmd.Flags()
	if f := flags.Lookup("workers"); f != nil && f.Changed {
		opts.CLIWorkers = f.Value.String()
	}
	if f := flags.Lookup("threshold"); f != nil && f.Changed {
		opts.CLIThreshold = f.Value.String()
	}
	if f := flags.Lookup("drop-unlisted-needs"); f != nil && f.Changed {
		opts.CLIDropUnlisted = f.Value.String()
	}
	if f := flags.Lookup("language"); f != nil && f.Changed {
		opts.CLILanguage = f.Value.String()
	}
	if f := flags.Lookup("metrics-addr"); f != nil && f.Changed {
		opts.CLIMetricsAddress = f.Value.String()
	}

	cfg, err := config.ResolveConfig(opts)
	if err != nil {
		return fmt.Errorf("resolving config: %w", err)
	}
	a.cfg = cfg

	logger, err := logging.New(cfg.LogLevel.Value, a.logJSON)
	if err != nil {
		return err
	}
	a.logger = logger
	return nil
}

// ontology loads the configured release once.
func (a *app) ontology() (*ontology.Store, error) {
	a.ontoOnce.Do(func() {
		if dir := a.cfg.OntologyDir.Value; dir != "" {
			a.onto, a.ontoErr = ontology.LoadDir(dir)
		} else {
			a.onto, a.ontoErr = ontology.Default()
		}
		if a.ontoErr == nil {
			a.logger.Debug("ontology loaded",
				zap.String("version", a.onto.Version()),
				zap.String("dir", a.cfg.OntologyDir.Value),
			)
		}
	})
	return a.onto, a.ontoErr
}

// pipeline builds a pipeline over the configured release.
func (a *app) pipeline(opts ...pipeline.Option) (*pipeline.Pipeline, error) {
	onto, err := a.ontology()
	if err != nil {
		return nil, err
	}
	cfg, err := a.cfg.PipelineConfig()
	if err != nil {
		return nil, err
	}
	return pipeline.New(onto, cfg, a.logger, opts...)
}

func (a *app) openStore() (store.Store, error) {
	s, err := store.NewStore(store.StoreConfig{DBPath: a.cfg.DBPath.Value})
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return s, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
