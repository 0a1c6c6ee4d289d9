// Package config resolves engine settings from the config file, a .env
// file, OFNR_* environment variables and CLI flags, recording where each
// value came from.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/hurttlocker/ofnr/internal/ofnr"
	"github.com/hurttlocker/ofnr/internal/pipeline"
	"github.com/hurttlocker/ofnr/internal/request"
)

type ValueSource string

const (
	SourceUnknown ValueSource = "unknown"
	SourceConfig  ValueSource = "config"
	SourceEnv     ValueSource = "env"
	SourceCLI     ValueSource = "cli"
	SourceDefault ValueSource = "default"
)

type ResolvedValue struct {
	Value  string      `json:"value"`
	Source ValueSource `json:"source"`
	From   string      `json:"from,omitempty"`
}

// ResolveOptions carries the config path and CLI overrides. Empty strings
// mean the flag was not given.
type ResolveOptions struct {
	ConfigPath string
	EnvFile    string

	CLIDBPath         string
	CLIOntologyDir    string
	CLILogLevel       string
	CLIWorkers        string
	CLIThreshold      string
	CLIDropUnlisted   string
	CLILanguage       string
	CLIMetricsAddress string
}

type ResolvedConfig struct {
	ConfigPath string `json:"config_path"`
	EnvFile    string `json:"env_file,omitempty"`

	DBPath      ResolvedValue `json:"db_path"`
	OntologyDir ResolvedValue `json:"ontology_dir"`
	LogLevel    ResolvedValue `json:"log_level"`
	Workers     ResolvedValue `json:"workers"`
	MetricsAddr ResolvedValue `json:"metrics_addr"`

	Actionability ResolvedValue `json:"scoring_actionability"`
	Specificity   ResolvedValue `json:"scoring_specificity"`
	Positivity    ResolvedValue `json:"scoring_positivity"`
	Threshold     ResolvedValue `json:"scoring_threshold"`

	DropUnlistedNeeds ResolvedValue `json:"drop_unlisted_needs"`
	Language          ResolvedValue `json:"language"`
}

type fileConfig struct {
	DBPath      string `yaml:"db_path"`
	OntologyDir string `yaml:"ontology_dir"`
	LogLevel    string `yaml:"log_level"`
	Workers     string `yaml:"workers"`
	MetricsAddr string `yaml:"metrics_addr"`
	Scoring     struct {
		Weights struct {
			Actionability string `yaml:"actionability"`
			Specificity   string `yaml:"specificity"`
			Positivity    string `yaml:"positivity"`
		} `yaml:"weights"`
		Threshold string `yaml:"threshold"`
	} `yaml:"scoring"`
	Pipeline struct {
		DropUnlistedNeeds string `yaml:"drop_unlisted_needs"`
		Language          string `yaml:"language"`
	} `yaml:"pipeline"`
}

// Defaults applied when no other source sets a value.
const (
	DefaultDBPath   = "~/.ofnr/audit.db"
	DefaultLogLevel = "info"
	DefaultWorkers  = 4
)

func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".ofnr", "config.yaml")
}

// ResolveConfig merges sources with precedence default < config < env < cli.
// A .env file (opts.EnvFile, or ./.env when present) is loaded into the
// process environment first without overriding variables already set.
func ResolveConfig(opts ResolveOptions) (ResolvedConfig, error) {
	path := strings.TrimSpace(opts.ConfigPath)
	if path == "" {
		path = DefaultConfigPath()
	}
	out := ResolvedConfig{ConfigPath: path}

	envFile, err := loadEnvFile(opts.EnvFile)
	if err != nil {
		return out, err
	}
	out.EnvFile = envFile

	def := request.DefaultConfig()
	apply(&out.DBPath, DefaultDBPath, SourceDefault, "built-in default")
	apply(&out.LogLevel, DefaultLogLevel, SourceDefault, "built-in default")
	apply(&out.Workers, strconv.Itoa(DefaultWorkers), SourceDefault, "built-in default")
	apply(&out.Actionability, formatFloat(def.Weights.Actionability), SourceDefault, "built-in default")
	apply(&out.Specificity, formatFloat(def.Weights.Specificity), SourceDefault, "built-in default")
	apply(&out.Positivity, formatFloat(def.Weights.Positivity), SourceDefault, "built-in default")
	apply(&out.Threshold, formatFloat(def.Threshold), SourceDefault, "built-in default")
	apply(&out.DropUnlistedNeeds, "false", SourceDefault, "built-in default")
	apply(&out.Language, "en", SourceDefault, "built-in default")

	cfg, err := loadConfig(path)
	if err != nil {
		return out, err
	}
	if cfg != nil {
		apply(&out.DBPath, cfg.DBPath, SourceConfig, path)
		apply(&out.OntologyDir, cfg.OntologyDir, SourceConfig, path)
		apply(&out.LogLevel, cfg.LogLevel, SourceConfig, path)
		apply(&out.Workers, cfg.Workers, SourceConfig, path)
		apply(&out.MetricsAddr, cfg.MetricsAddr, SourceConfig, path)
		apply(&out.Actionability, cfg.Scoring.Weights.Actionability, SourceConfig, path)
		apply(&out.Specificity, cfg.Scoring.Weights.Specificity, SourceConfig, path)
		apply(&out.Positivity, cfg.Scoring.Weights.Positivity, SourceConfig, path)
		apply(&out.Threshold, cfg.Scoring.Threshold, SourceConfig, path)
		apply(&out.DropUnlistedNeeds, cfg.Pipeline.DropUnlistedNeeds, SourceConfig, path)
		apply(&out.Language, cfg.Pipeline.Language, SourceConfig, path)
	}

	applyEnv(&out.DBPath, "OFNR_DB")
	applyEnv(&out.DBPath, "OFNR_DB_PATH")
	applyEnv(&out.OntologyDir, "OFNR_ONTOLOGY_DIR")
	applyEnv(&out.LogLevel, "OFNR_LOG_LEVEL")
	applyEnv(&out.Workers, "OFNR_WORKERS")
	applyEnv(&out.MetricsAddr, "OFNR_METRICS_ADDR")
	applyEnv(&out.Actionability, "OFNR_WEIGHT_ACTIONABILITY")
	applyEnv(&out.Specificity, "OFNR_WEIGHT_SPECIFICITY")
	applyEnv(&out.Positivity, "OFNR_WEIGHT_POSITIVITY")
	applyEnv(&out.Threshold, "OFNR_THRESHOLD")
	applyEnv(&out.DropUnlistedNeeds, "OFNR_DROP_UNLISTED_NEEDS")
	applyEnv(&out.Language, "OFNR_LANGUAGE")

	apply(&out.DBPath, opts.CLIDBPath, SourceCLI, "--db")
	apply(&out.OntologyDir, opts.CLIOntologyDir, SourceCLI, "--ontology")
	apply(&out.LogLevel, opts.CLILogLevel, SourceCLI, "--log-level")
	apply(&out.Workers, opts.CLIWorkers, SourceCLI, "--workers")
	apply(&out.Threshold, opts.CLIThreshold, SourceCLI, "--threshold")
	apply(&out.DropUnlistedNeeds, opts.CLIDropUnlisted, SourceCLI, "--drop-unlisted-needs")
	apply(&out.Language, opts.CLILanguage, SourceCLI, "--language")
	apply(&out.MetricsAddr, opts.CLIMetricsAddress, SourceCLI, "--metrics-addr")

	if out.DBPath.Value != "" {
		out.DBPath.Value = expandUserPath(out.DBPath.Value)
	}
	if out.OntologyDir.Value != "" {
		out.OntologyDir.Value = expandUserPath(out.OntologyDir.Value)
	}
	return out, nil
}

// PipelineConfig parses the scoring and pipeline values. Malformed numbers
// or booleans, and weights that fail validation, are ofnr.ErrConfig.
func (r ResolvedConfig) PipelineConfig() (pipeline.Config, error) {
	cfg := pipeline.DefaultConfig()
	var errs []error
	parse := func(v ResolvedValue, name string) float64 {
		f, err := strconv.ParseFloat(v.Value, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %s=%q (from %s): not a number", ofnr.ErrConfig, name, v.Value, v.Source))
		}
		return f
	}
	cfg.Scoring.Weights.Actionability = parse(r.Actionability, "scoring.weights.actionability")
	cfg.Scoring.Weights.Specificity = parse(r.Specificity, "scoring.weights.specificity")
	cfg.Scoring.Weights.Positivity = parse(r.Positivity, "scoring.weights.positivity")
	cfg.Scoring.Threshold = parse(r.Threshold, "scoring.threshold")

	drop, err := strconv.ParseBool(r.DropUnlistedNeeds.Value)
	if err != nil {
		errs = append(errs, fmt.Errorf("%w: pipeline.drop_unlisted_needs=%q: not a boolean", ofnr.ErrConfig, r.DropUnlistedNeeds.Value))
	}
	cfg.DropUnlistedNeeds = drop
	if lang := strings.TrimSpace(r.Language.Value); lang != "" {
		cfg.Language = lang
	}

	if len(errs) > 0 {
		return cfg, errors.Join(errs...)
	}
	if err := cfg.Scoring.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// WorkerCount parses the workers value; it must be a positive integer.
func (r ResolvedConfig) WorkerCount() (int, error) {
	n, err := strconv.Atoi(r.Workers.Value)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: workers=%q (from %s): want a positive integer", ofnr.ErrConfig, r.Workers.Value, r.Workers.Source)
	}
	return n, nil
}

// Values lists every resolved value by config key, for display.
func (r ResolvedConfig) Values() map[string]ResolvedValue {
	return map[string]ResolvedValue{
		"db_path":                       r.DBPath,
		"ontology_dir":                  r.OntologyDir,
		"log_level":                     r.LogLevel,
		"workers":                       r.Workers,
		"metrics_addr":                  r.MetricsAddr,
		"scoring.weights.actionability": r.Actionability,
		"scoring.weights.specificity":   r.Specificity,
		"scoring.weights.positivity":    r.Positivity,
		"scoring.threshold":             r.Threshold,
		"pipeline.drop_unlisted_needs":  r.DropUnlistedNeeds,
		"pipeline.language":             r.Language,
	}
}

func apply(dst *ResolvedValue, raw string, source ValueSource, from string) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return
	}
	*dst = ResolvedValue{Value: v, Source: source, From: from}
}

func applyEnv(dst *ResolvedValue, envKey string) {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		*dst = ResolvedValue{Value: v, Source: SourceEnv, From: envKey}
	}
}

// loadEnvFile loads path, or ./.env if path is empty and the file exists.
// It returns the file that was loaded.
func loadEnvFile(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		if _, err := os.Stat(".env"); err != nil {
			return "", nil
		}
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		return "", fmt.Errorf("loading env file %s: %w", path, err)
	}
	return path, nil
}

func loadConfig(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %w", ofnr.ErrConfig, path, err)
	}
	return &cfg, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func expandUserPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
