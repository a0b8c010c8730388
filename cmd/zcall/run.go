package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/inodb/zcall/internal/duckdb"
	"github.com/inodb/zcall/internal/genotype"
	"github.com/inodb/zcall/internal/output"
	"github.com/inodb/zcall/internal/pipeline"
	"github.com/inodb/zcall/internal/plink"
	"github.com/inodb/zcall/internal/threshold"
)

func newRunCmd() *cobra.Command {
	var (
		manifestPath string
		egtPath      string
		samplesPath  string
		outDir       string
		stem         string
		indexName    string
		zStart       int
		zTotal       int
		force        bool
		dbPath       string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Calibrate, evaluate, choose the best z score and call in one step",
		Long: `Run the whole workflow on one sample list: write thresholds for each z
score, evaluate every sample against them, pick the smallest z whose mean
concordance exceeds its mean gain, and write the PLINK dataset called at
that z. All outputs go to the output directory.`,
		Example: `  zcall run --manifest chip.bpm.csv --egt chip.egt --samples samples.json \
    --zstart 3 --ztotal 13 --out results`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return bindFlags(cmd, map[string]string{
				"workers":                   "workers",
				"calibration.min_intensity": "min-intensity",
				"calibration.digits":        "digits",
				"call.mode":                 "mode",
				"call.layout":               "layout",
			})
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			policy, err := genotype.ParsePolicy(viper.GetString("call.mode"))
			if err != nil {
				return err
			}
			layout, err := plink.ParseMode(viper.GetString("call.layout"))
			if err != nil {
				return err
			}
			logger, err := newLogger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			samples, err := pipeline.ReadSampleList(samplesPath)
			if err != nil {
				return err
			}

			res, err := pipeline.Run(cmd.Context(), pipeline.RunConfig{
				ManifestPath: manifestPath,
				EGTPath:      egtPath,
				Samples:      samples,
				OutDir:       outDir,
				Stem:         stem,
				IndexName:    indexName,
				ZStart:       zStart,
				ZTotal:       zTotal,
				Calibrate: pipeline.CalibrateOptions{
					Solver:       threshold.OLS{},
					MinIntensity: viper.GetFloat64("calibration.min_intensity"),
					Digits:       viper.GetInt("calibration.digits"),
					Force:        force,
				},
				Workers: viper.GetInt("workers"),
				Policy:  policy,
				Mode:    layout,
				Logger:  logger,
			})
			if err != nil {
				return err
			}

			if err := writeTo(filepath.Join(outDir, "zcall_summary.txt"), func(f *os.File) error {
				return output.WriteSummary(f, res.Means, res.Best.Z)
			}); err != nil {
				return err
			}
			if dbPath != "" {
				store, err := duckdb.Open(dbPath)
				if err != nil {
					return err
				}
				defer store.Close()
				if err := checkStoreInputs(store, logger, true, map[string]string{
					"manifest": manifestPath,
					"egt":      egtPath,
					"index":    filepath.Join(outDir, indexName),
				}); err != nil {
					return err
				}
				if err := store.WriteMetrics(res.Metrics); err != nil {
					return err
				}
			}
			logger.Info("run complete",
				zap.Int("best_z", res.Best.Z),
				zap.String("plink", res.Stem))
			return nil
		},
	}

	cmd.Flags().StringVar(&manifestPath, "manifest", "", "Manifest (.bpm.csv, optionally gzipped)")
	cmd.Flags().StringVar(&egtPath, "egt", "", "Cluster file (.egt)")
	cmd.Flags().StringVar(&samplesPath, "samples", "", "Sample list (.json)")
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "Output directory")
	cmd.Flags().StringVar(&stem, "plink-name", "zcall", "File name stem of the PLINK dataset")
	cmd.Flags().StringVar(&indexName, "index-name", pipeline.DefaultIndexName, "File name of the thresholds index")
	cmd.Flags().IntVar(&zStart, "zstart", 7, "First z score")
	cmd.Flags().IntVar(&zTotal, "ztotal", 1, "Number of consecutive z scores")
	cmd.Flags().BoolVar(&force, "force", false, "Recalibrate z scores whose thresholds file exists")
	cmd.Flags().StringVar(&dbPath, "db", "", "Also store metrics in this DuckDB file")
	cmd.Flags().Float64("min-intensity", threshold.DefaultMinIntensity, "Minimum common homozygote mean intensity for a defined threshold")
	cmd.Flags().Int("digits", -1, "Decimal digits in thresholds tables (-1 for shortest exact form)")
	cmd.Flags().String("mode", "nocalls", "Variants to recall: nocalls, all or passthrough")
	cmd.Flags().String("layout", "snp-major", "Matrix layout of .bed output: snp-major or individual-major")
	cmd.Flags().Int("workers", 0, "Concurrent samples (0 for one per CPU)")
	for _, f := range []string{"manifest", "egt", "samples"} {
		cmd.MarkFlagRequired(f)
	}
	return cmd
}
