package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/inodb/zcall/internal/duckdb"
	"github.com/inodb/zcall/internal/genotype"
	"github.com/inodb/zcall/internal/output"
	"github.com/inodb/zcall/internal/pipeline"
)

func newEvaluateCmd() *cobra.Command {
	var (
		manifestPath string
		egtPath      string
		indexPath    string
		samplesPath  string
		start, end   int
		dbPath       string
		outPath      string
		summaryPath  string
		bestPath     string
		reset        bool
	)

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Measure concordance and gain of each z score on a batch of samples",
		Long: `Recall every variant of each sample at every indexed z score and compare
with the original calls. Metrics accumulate in a DuckDB store, so batches of
one sample list may be evaluated separately against the same store; the
best z is chosen from all metrics in the store.`,
		Example: `  zcall evaluate --manifest chip.bpm.csv --egt chip.egt \
    --thresholds thresholds/threshold_index.json --samples samples.json \
    --start 0 --end 100 --db metrics.duckdb --best best.json`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return bindFlags(cmd, map[string]string{
				"workers":            "workers",
				"calibration.digits": "digits",
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

			samples, err := pipeline.ReadSampleList(samplesPath)
			if err != nil {
				return err
			}
			samples, err = pipeline.SliceSamples(samples, start, end)
			if err != nil {
				return err
			}
			idx, err := pipeline.ReadIndex(indexPath)
			if err != nil {
				return err
			}
			byZ, err := ds.LoadIndexed(idx)
			if err != nil {
				return err
			}

			store, err := duckdb.Open(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := checkStoreInputs(store, logger, reset, map[string]string{
				"manifest":   manifestPath,
				"egt":        egtPath,
				"thresholds": indexPath,
			}); err != nil {
				return err
			}

			metrics, err := pipeline.Evaluate(cmd.Context(), ds, byZ, samples, viper.GetInt("workers"))
			if err != nil {
				return err
			}
			if err := store.WriteMetrics(metrics); err != nil {
				return err
			}

			if err := withOutput(outPath, func(w io.Writer) error {
				return writeMetrics(w, metrics, viper.GetInt("calibration.digits"))
			}); err != nil {
				return err
			}

			if summaryPath == "" && bestPath == "" {
				return nil
			}
			means, err := store.MeansByZ()
			if err != nil {
				return err
			}
			best, kind := genotype.BestZ(means)
			logger.Info("best z score so far", zap.Int("z", best), zap.Stringer("kind", kind))
			if summaryPath != "" {
				if err := withOutput(summaryPath, func(w io.Writer) error {
					return output.WriteSummary(w, means, best)
				}); err != nil {
					return err
				}
			}
			if bestPath != "" {
				all, err := store.Metrics()
				if err != nil {
					return err
				}
				b, err := pipeline.ChooseBest(means, idx, all)
				if err != nil {
					return err
				}
				if err := pipeline.WriteBest(bestPath, b); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&manifestPath, "manifest", "", "Manifest (.bpm.csv, optionally gzipped)")
	cmd.Flags().StringVar(&egtPath, "egt", "", "Cluster file (.egt)")
	cmd.Flags().StringVar(&indexPath, "thresholds", "", "Thresholds index (.json) written by zcall thresholds")
	cmd.Flags().StringVar(&samplesPath, "samples", "", "Sample list (.json)")
	cmd.Flags().IntVar(&start, "start", 0, "Index of the first sample to evaluate")
	cmd.Flags().IntVar(&end, "end", -1, "Index after the last sample to evaluate (-1 for the end of the list)")
	cmd.Flags().StringVar(&dbPath, "db", "", "DuckDB metrics store (in-memory if empty)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "-", "Per-sample metrics table ('-' for stdout)")
	cmd.Flags().StringVar(&summaryPath, "summary", "", "Write mean concordance and gain per z score")
	cmd.Flags().StringVar(&bestPath, "best", "", "Write the best z score and all metrics as JSON")
	cmd.Flags().BoolVar(&reset, "reset", false, "Clear a store built from other inputs instead of failing")
	cmd.Flags().Int("workers", 0, "Concurrent samples (0 for one per CPU)")
	cmd.Flags().Int("digits", -1, "Decimal digits of rates (-1 for shortest exact form)")
	for _, f := range []string{"manifest", "egt", "thresholds", "samples"} {
		cmd.MarkFlagRequired(f)
	}
	return cmd
}

// checkStoreInputs fails if store holds metrics computed from different
// input files, unless reset is set, in which case the old metrics are
// dropped. The current inputs are then recorded.
func checkStoreInputs(store *duckdb.Store, logger *zap.Logger, reset bool, paths map[string]string) error {
	inputs := make(map[string]duckdb.FileFingerprint, len(paths))
	for role, p := range paths {
		fp, err := duckdb.StatFile(p)
		if err != nil {
			return err
		}
		inputs[role] = fp
	}
	ok, err := store.InputsMatch(inputs)
	if err != nil {
		return err
	}
	if !ok {
		if !reset {
			return fmt.Errorf("metrics store %s was built from different inputs (use --reset to clear it)", store.Path())
		}
		logger.Warn("clearing metrics built from different inputs", zap.String("db", store.Path()))
		if err := store.ClearMetrics(); err != nil {
			return err
		}
	}
	return store.RecordInputs(inputs)
}

func writeMetrics(w io.Writer, metrics []genotype.SampleMetrics, digits int) error {
	tw := output.NewTabWriter(w, digits)
	if err := tw.WriteHeader(); err != nil {
		return err
	}
	for _, m := range metrics {
		if err := tw.Write(m); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// withOutput passes stdout for "-" and a created file otherwise.
func withOutput(path string, fn func(io.Writer) error) error {
	if path == "-" || path == "" {
		return fn(os.Stdout)
	}
	return writeTo(path, func(f *os.File) error { return fn(f) })
}
