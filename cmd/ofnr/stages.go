package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/hurttlocker/ofnr/internal/ofnr"
	"github.com/hurttlocker/ofnr/internal/plato"
)

// Single-stage commands. Each takes its text as the joined positional args and
// prints the stage's verdict as JSON.

func newClassifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "classify <term>",
		Short: "Classify one feeling term",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.pipeline()
			if err != nil {
				return err
			}
			r := p.Classifier().Classify(strings.Join(args, " "))
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"result": r,
				"match":  r.Match.String(),
			})
		},
	}
}

func newNeedCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "need <text>",
		Short: "Check one need candidate against the locked list and the PLATO filter",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.pipeline()
			if err != nil {
				return err
			}
			text := strings.Join(args, " ")
			out := map[string]any{"candidate": text}
			switch d := p.Gate().Validate(text).(type) {
			case plato.Accepted:
				out["decision"] = "Accepted"
				out["need"] = d.Need
				out["match"] = d.Match.String()
			case plato.ReclassifiedAsStrategy:
				out["decision"] = "ReclassifiedAsStrategy"
				out["target"] = d.Target
				out["elements"] = d.Elements
				out["matches"] = d.Matches
			case plato.Rejected:
				out["decision"] = "Rejected"
				out["reason"] = d.Reason
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func newScoreCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "score <request>",
		Short: "Score and rewrite one request",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.pipeline()
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"assessment": p.Scorer().Assess(strings.Join(args, " ")),
				"threshold":  p.Scorer().Config().Threshold,
			})
		},
	}
	cmd.Flags().Float64("threshold", 0, "Request quality threshold (default from config)")
	return cmd
}

func newSanitizeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sanitize <observation>",
		Short: "Strip judgment markers from one observation",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.pipeline()
			if err != nil {
				return err
			}
			text, diags, err := p.Sanitizer().Sanitize(strings.Join(args, " "))
			out := map[string]any{
				"text":        text,
				"rejected":    err != nil,
				"diagnostics": diags,
			}
			if diags == nil {
				out["diagnostics"] = []ofnr.Diagnostic{}
			}
			if err != nil {
				out["reason"] = err.Error()
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}
