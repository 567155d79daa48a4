package main

import (
	"fmt"

	"affordability-pipeline/internal/model"
	"affordability-pipeline/internal/pipeline"
	"affordability-pipeline/pkg/utils"

	"github.com/spf13/cobra"
)

func exportCmd(flags *rootFlags) *cobra.Command {
	var (
		version int
		format  string
		outDir  string
		runID   string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a feature checkpoint, or the slices of a run, as CSV or JSON",
		Long: `Export a feature checkpoint as CSV or JSON.

Examples:
  pipeline export --format csv
  pipeline export --version 3 --format json --out exports
  pipeline export --run 6f1c... --format csv`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if version < 0 {
				return fmt.Errorf("--version must not be negative")
			}
			a, err := openApp(cmd, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			om := utils.NewOutputManager(outDir)
			var res pipeline.ExportResult
			if runID != "" {
				m, err := a.DB.GetRun(cmd.Context(), runID)
				if err != nil {
					return err
				}
				res, err = pipeline.ExportSlices(om, m, format)
				if err != nil {
					return err
				}
			} else {
				var (
					fs  model.FeatureSet
					cp  model.Checkpoint
					err error
				)
				if version == 0 {
					fs, cp, err = a.Checkpoints.LatestFeatureSet(cmd.Context())
				} else {
					fs, cp, err = a.Checkpoints.LoadFeatureSet(cmd.Context(), version)
				}
				if err != nil {
					return err
				}
				res, err = pipeline.ExportFeatures(om, fs, cp, format)
				if err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d record(s) to %s (%d bytes)\n", res.RecordCount, res.Path, res.Bytes)
			return nil
		},
	}
	cmd.Flags().IntVar(&version, "version", 0, "feature checkpoint version (0 = latest)")
	cmd.Flags().StringVarP(&format, "format", "f", "csv", "output format: csv or json")
	cmd.Flags().StringVarP(&outDir, "out", "o", "exports", "output directory")
	cmd.Flags().StringVar(&runID, "run", "", "export the slice statistics of this run instead of features")
	return cmd
}
