package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"affordability-pipeline/internal/model"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func runCmd(flags *rootFlags) *cobra.Command {
	var (
		runID  string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one pipeline run over the configured sources",
		Long: `Execute one pipeline run: ingest, validate, anomaly check, transform,
derive features and compute slices. The command exits non-zero when the
run halts on a critical anomaly or fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			m, runErr := a.Run(cmd.Context(), runID)
			out := cmd.OutOrStdout()
			if asJSON {
				if err := writeJSON(out, m); err != nil {
					return err
				}
			} else {
				renderManifest(out, m)
			}

			var halt *model.AnomalyHalt
			if errors.As(runErr, &halt) {
				return fmt.Errorf("run %s halted: %d critical finding(s)", m.RunID, len(halt.Findings))
			}
			return runErr
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "run identifier (generated when empty)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the manifest as JSON")
	return cmd
}

func renderManifest(w io.Writer, m model.RunManifest) {
	fmt.Fprintf(w, "Run %s: %s\n", m.RunID, m.Status)
	if len(m.Degraded) > 0 {
		fmt.Fprintf(w, "Degraded sources: %s\n", strings.Join(m.Degraded, ", "))
	}
	if m.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", m.Error)
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Stage", "Status", "Reached", "Duration (ms)", "Outputs", "Findings"})
	var findings []model.AnomalyFinding
	for _, s := range m.Stages {
		refs := make([]string, 0, len(s.Outputs))
		for _, ref := range s.Outputs {
			refs = append(refs, fmt.Sprintf("%s v%d", ref.Stage, ref.Version))
		}
		t.AppendRow(table.Row{s.Name, s.Status, s.Transition, s.DurationMS, strings.Join(refs, ", "), len(s.Findings)})
		findings = append(findings, s.Findings...)
	}
	t.Render()

	if len(findings) > 0 {
		ft := table.NewWriter()
		ft.SetOutputMirror(w)
		ft.SetStyle(table.StyleLight)
		ft.AppendHeader(table.Row{"Severity", "Rule", "Kind", "Affected", "Description"})
		for _, f := range findings {
			ft.AppendRow(table.Row{f.Severity, f.RuleID, f.Kind, f.Affected(), f.Description})
		}
		ft.Render()
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
