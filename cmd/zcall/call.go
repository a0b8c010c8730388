package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/inodb/zcall/internal/genotype"
	"github.com/inodb/zcall/internal/pipeline"
	"github.com/inodb/zcall/internal/plink"
)

func newCallCmd() *cobra.Command {
	var (
		manifestPath   string
		egtPath        string
		thresholdsPath string
		bestPath       string
		samplesPath    string
		start, end     int
		stem           string
		format         string
	)

	cmd := &cobra.Command{
		Use:   "call",
		Short: "Recall samples with a thresholds table and write a PLINK dataset",
		Long: `Recall the no-calls of each sample in the list and write stem.bed,
stem.bim and stem.fam (or stem.ped and stem.map with --format ped). The
thresholds come from --thresholds or from the best z chosen by
zcall evaluate --best.`,
		Example: `  zcall call --manifest chip.bpm.csv --egt chip.egt --best best.json \
    --samples samples.json --out calls/batch1
  zcall call --manifest chip.bpm.csv --egt chip.egt --thresholds t_z07.txt \
    --samples samples.json --mode passthrough --out original`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return bindFlags(cmd, map[string]string{
				"workers":     "workers",
				"call.mode":   "mode",
				"call.layout": "layout",
			})
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if (thresholdsPath == "") == (bestPath == "") {
				return fmt.Errorf("exactly one of --thresholds and --best is required")
			}
			policy, err := genotype.ParsePolicy(viper.GetString("call.mode"))
			if err != nil {
				return err
			}
			layout, err := plink.ParseMode(viper.GetString("call.layout"))
			if err != nil {
				return err
			}
			if format != "bed" && format != "ped" {
				return fmt.Errorf("unknown output format %q (want bed or ped)", format)
			}

			logger, err := newLogger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			if bestPath != "" {
				b, err := pipeline.ReadBest(bestPath)
				if err != nil {
					return err
				}
				thresholdsPath = b.ThresholdsPath
				logger.Info("using best z score", zap.Int("z", b.Z), zap.String("thresholds", thresholdsPath))
			}

			ds, err := pipeline.Load(manifestPath, egtPath)
			if err != nil {
				return err
			}
			ds.SetLogger(logger)

			samples, err := pipeline.ReadSampleList(samplesPath)
			if err != nil {
				return err
			}
			samples, err = pipeline.SliceSamples(samples, start, end)
			if err != nil {
				return err
			}
			ths, err := ds.LoadThresholds(thresholdsPath)
			if err != nil {
				return err
			}

			opts := pipeline.CallOptions{Policy: policy, Workers: viper.GetInt("workers")}
			if format == "ped" {
				tw, err := pipeline.NewTextWriter(stem, ds)
				if err != nil {
					return err
				}
				opts.OnSample = tw.Write
				if _, err := pipeline.Call(cmd.Context(), ds, ths, samples, opts); err != nil {
					tw.Abort()
					return err
				}
				return tw.Close()
			}

			mx, err := pipeline.Call(cmd.Context(), ds, ths, samples, opts)
			if err != nil {
				return err
			}
			if err := pipeline.WriteBinary(stem, ds, mx, samples, layout); err != nil {
				return err
			}
			logger.Info("wrote PLINK dataset",
				zap.String("stem", stem),
				zap.Stringer("layout", layout))
			return nil
		},
	}

	cmd.Flags().StringVar(&manifestPath, "manifest", "", "Manifest (.bpm.csv, optionally gzipped)")
	cmd.Flags().StringVar(&egtPath, "egt", "", "Cluster file (.egt)")
	cmd.Flags().StringVar(&thresholdsPath, "thresholds", "", "Thresholds table")
	cmd.Flags().StringVar(&bestPath, "best", "", "Best z file written by zcall evaluate --best")
	cmd.Flags().StringVar(&samplesPath, "samples", "", "Sample list (.json)")
	cmd.Flags().IntVar(&start, "start", 0, "Index of the first sample to call")
	cmd.Flags().IntVar(&end, "end", -1, "Index after the last sample to call (-1 for the end of the list)")
	cmd.Flags().StringVarP(&stem, "out", "o", "", "Output path without extension")
	cmd.Flags().StringVarP(&format, "format", "f", "bed", "Output format: bed or ped")
	cmd.Flags().String("mode", "nocalls", "Variants to recall: nocalls, all or passthrough")
	cmd.Flags().String("layout", "snp-major", "Matrix layout of .bed output: snp-major or individual-major")
	cmd.Flags().Int("workers", 0, "Concurrent samples (0 for one per CPU)")
	for _, f := range []string{"manifest", "egt", "samples", "out"} {
		cmd.MarkFlagRequired(f)
	}
	return cmd
}
