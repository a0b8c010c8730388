package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/inodb/zcall/internal/pipeline"
	"github.com/inodb/zcall/internal/threshold"
)

func newThresholdsCmd() *cobra.Command {
	var (
		manifestPath string
		egtPath      string
		outDir       string
		indexName    string
		zStart       int
		zTotal       int
		force        bool
		betasIn      string
		betasOut     string
		meanSDOut    string
	)

	cmd := &cobra.Command{
		Use:   "thresholds",
		Short: "Calibrate per-variant thresholds over a range of z scores",
		Long: `Fit the relations between common and minor homozygote clusters on the
cluster file, then write one thresholds table per z score and a JSON index
of the tables.`,
		Example: `  zcall thresholds --manifest chip.bpm.csv --egt chip.egt --out thresholds
  zcall thresholds --manifest chip.bpm.csv --egt chip.egt --zstart 3 --ztotal 13 --force`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return bindFlags(cmd, map[string]string{
				"calibration.min_intensity": "min-intensity",
				"calibration.digits":        "digits",
			})
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ds, err := pipeline.Load(manifestPath, egtPath)
			if err != nil {
				return err
			}
			ds.SetLogger(logger)

			if betasIn != "" {
				b, err := readBetas(betasIn)
				if err != nil {
					return err
				}
				ds.SetBetas(b)
			}
			if meanSDOut != "" {
				rows := threshold.ExtractMeanSD(ds.Clusters, threshold.DefaultFilter())
				if err := writeTo(meanSDOut, func(f *os.File) error { return threshold.WriteMeanSD(f, rows) }); err != nil {
					return err
				}
			}

			solver := threshold.OLS{}
			if betasOut != "" {
				b, err := ds.Betas(solver)
				if err != nil {
					return err
				}
				if err := writeTo(betasOut, func(f *os.File) error { return threshold.WriteBetas(f, b) }); err != nil {
					return err
				}
			}

			idx, err := pipeline.PrepareThresholds(ds, outDir, pipeline.ZRange(zStart, zTotal), pipeline.CalibrateOptions{
				Solver:       solver,
				MinIntensity: viper.GetFloat64("calibration.min_intensity"),
				Digits:       viper.GetInt("calibration.digits"),
				Force:        force,
			})
			if err != nil {
				return err
			}
			indexPath := filepath.Join(outDir, indexName)
			if err := pipeline.WriteIndex(indexPath, idx); err != nil {
				return err
			}
			logger.Info("wrote thresholds index",
				zap.String("path", indexPath),
				zap.Int("tables", len(idx)))
			return nil
		},
	}

	cmd.Flags().StringVar(&manifestPath, "manifest", "", "Manifest (.bpm.csv, optionally gzipped)")
	cmd.Flags().StringVar(&egtPath, "egt", "", "Cluster file (.egt)")
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "Output directory")
	cmd.Flags().StringVar(&indexName, "index-name", pipeline.DefaultIndexName, "File name of the thresholds index in the output directory")
	cmd.Flags().IntVar(&zStart, "zstart", 7, "First z score")
	cmd.Flags().IntVar(&zTotal, "ztotal", 1, "Number of consecutive z scores")
	cmd.Flags().BoolVar(&force, "force", false, "Recalibrate z scores whose thresholds file exists")
	cmd.Flags().Float64("min-intensity", threshold.DefaultMinIntensity, "Minimum common homozygote mean intensity for a defined threshold")
	cmd.Flags().Int("digits", -1, "Decimal digits in thresholds tables (-1 for shortest exact form)")
	cmd.Flags().StringVar(&betasIn, "betas-in", "", "Use betas from this file instead of fitting")
	cmd.Flags().StringVar(&betasOut, "betas-out", "", "Write the fitted betas to this file")
	cmd.Flags().StringVar(&meanSDOut, "meansd-out", "", "Write the training cluster means and deviations to this file")
	cmd.MarkFlagRequired("manifest")
	cmd.MarkFlagRequired("egt")
	return cmd
}

func readBetas(path string) (threshold.Betas, error) {
	f, err := os.Open(path)
	if err != nil {
		return threshold.Betas{}, fmt.Errorf("open betas: %w", err)
	}
	defer f.Close()
	return threshold.ReadBetas(f)
}

// writeTo creates path and passes it to fn.
func writeTo(path string, fn func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := fn(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
