package main

import (
	"fmt"
	"slices"
	"time"

	"affordability-pipeline/internal/checkpoint"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func runsCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "runs",
		Short: "List persisted runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			runs, err := a.DB.ListRuns(cmd.Context())
			if err != nil {
				return err
			}
			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"Run ID", "Status", "Created", "Updated"})
			for _, r := range runs {
				t.AppendRow(table.Row{r.RunID, r.Status, r.CreatedAt.Format(time.RFC3339), r.UpdatedAt.Format(time.RFC3339)})
			}
			t.AppendFooter(table.Row{"", "", "Total", len(runs)})
			t.Render()
			return nil
		},
	}
}

func manifestCmd(flags *rootFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "manifest <run-id>",
		Short: "Show the manifest of one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			m, err := a.DB.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), m)
			}
			renderManifest(cmd.OutOrStdout(), m)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the manifest as JSON")
	return cmd
}

func checkpointsCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "checkpoints [stage]",
		Short: "List checkpoint versions of one stage or of every stage",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stages := checkpoint.Stages
			if len(args) == 1 {
				if !slices.Contains(checkpoint.Stages, args[0]) {
					return fmt.Errorf("unknown checkpoint stage %q (want one of %v)", args[0], checkpoint.Stages)
				}
				stages = args[:1]
			}

			a, err := openApp(cmd, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"Stage", "Version", "Hash", "Size", "Created"})
			for _, stage := range stages {
				cps, err := a.Checkpoints.List(cmd.Context(), stage)
				if err != nil {
					return err
				}
				for _, cp := range cps {
					t.AppendRow(table.Row{cp.Stage, cp.Version, shortHash(cp.Hash), cp.Size, cp.CreatedAt.Format(time.RFC3339)})
				}
			}
			t.Render()
			return nil
		},
	}
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
