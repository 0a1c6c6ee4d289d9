package main

import (
	"bufio"
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hurttlocker/ofnr/internal/assemble"
	"github.com/hurttlocker/ofnr/internal/ontology"
)

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the master JSON Schema of validated output",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := assemble.MasterSchema()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	}
}

type checkSummary struct {
	File       string   `json:"file"`
	Documents  int      `json:"documents"`
	Valid      int      `json:"valid"`
	Violations []string `json:"violations"`
}

func newCheckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check <out.jsonl>",
		Short: "Re-validate emitted output documents against the master schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.pipeline()
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("opening %s: %w", args[0], err)
			}
			defer f.Close()

			sum := checkSummary{File: args[0], Violations: []string{}}
			sc := bufio.NewScanner(f)
			sc.Buffer(make([]byte, 0, 1<<20), 16<<20)
			line := 0
			for sc.Scan() {
				line++
				raw := bytes.TrimSpace(sc.Bytes())
				if len(raw) == 0 {
					continue
				}
				sum.Documents++
				if _, err := p.Assembler().ValidateDocument(raw); err != nil {
					sum.Violations = append(sum.Violations, fmt.Sprintf("line %d: %v", line, err))
					a.logger.Debug("schema violation", zap.Int("line", line), zap.Error(err))
					continue
				}
				sum.Valid++
			}
			if err := sc.Err(); err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}

			if err := printJSON(cmd.OutOrStdout(), sum); err != nil {
				return err
			}
			if n := len(sum.Violations); n > 0 {
				return fmt.Errorf("%d of %d documents violate the schema", n, sum.Documents)
			}
			return nil
		},
	}
}

func newOntologyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ontology",
		Short: "Inspect ontology releases",
	}

	var dir string
	check := &cobra.Command{
		Use:   "check",
		Short: "Load and cross-check an ontology release",
		Long: `Load every ontology table from --dir (or the configured release, or the
embedded one), run the load-time cross checks and print the table sizes.
Any malformed or inconsistent table exits non-zero.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				onto *ontology.Store
				err  error
			)
			if dir != "" {
				onto, err = ontology.LoadDir(dir)
			} else {
				onto, err = a.ontology()
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), onto.Summary())
		},
	}
	check.Flags().StringVar(&dir, "dir", "", "Ontology release directory to check")

	cmd.AddCommand(check)
	return cmd
}
