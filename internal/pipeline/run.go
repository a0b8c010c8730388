package pipeline

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/inodb/zcall/internal/genotype"
	"github.com/inodb/zcall/internal/plink"
	"github.com/inodb/zcall/internal/threshold"
)

// RunConfig describes a complete run: calibrate over a range of z
// scores, evaluate every sample, pick the best z and call with it.
type RunConfig struct {
	ManifestPath string
	EGTPath      string
	Samples      []SampleEntry

	OutDir    string
	Stem      string
	IndexName string

	ZStart int
	ZTotal int

	Calibrate CalibrateOptions
	Workers   int
	Policy    genotype.Policy
	Mode      plink.Mode

	Logger *zap.Logger
}

// RunResult is what Run produced.
type RunResult struct {
	Index   threshold.Index
	Metrics []genotype.SampleMetrics
	Means   []genotype.ZMean
	Best    *Best
	Stem    string
}

// Run performs a complete run. All inputs are checked for a consistent
// variant set before any calibration.
func Run(ctx context.Context, cfg RunConfig) (*RunResult, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.ZTotal <= 0 {
		return nil, fmt.Errorf("run: need at least one z score, have %d", cfg.ZTotal)
	}
	if cfg.IndexName == "" {
		cfg.IndexName = DefaultIndexName
	}
	if cfg.Stem == "" {
		cfg.Stem = "zcall"
	}

	ds, err := Load(cfg.ManifestPath, cfg.EGTPath)
	if err != nil {
		return nil, err
	}
	ds.SetLogger(log)
	if err := ds.CheckSamples(Paths(cfg.Samples)); err != nil {
		return nil, err
	}

	idx, err := PrepareThresholds(ds, cfg.OutDir, ZRange(cfg.ZStart, cfg.ZTotal), cfg.Calibrate)
	if err != nil {
		return nil, err
	}
	if err := WriteIndex(filepath.Join(cfg.OutDir, cfg.IndexName), idx); err != nil {
		return nil, err
	}
	byZ, err := ds.LoadIndexed(idx)
	if err != nil {
		return nil, err
	}

	metrics, err := Evaluate(ctx, ds, byZ, cfg.Samples, cfg.Workers)
	if err != nil {
		return nil, err
	}
	means := Means(metrics)
	best, err := ChooseBest(means, idx, metrics)
	if err != nil {
		return nil, err
	}
	if err := WriteBest(filepath.Join(cfg.OutDir, "zcall_best.json"), best); err != nil {
		return nil, err
	}
	log.Info("chose z score", zap.Int("z", best.Z), zap.String("kind", best.Kind))

	mx, err := Call(ctx, ds, byZ[best.Z], cfg.Samples, CallOptions{Policy: cfg.Policy, Workers: cfg.Workers})
	if err != nil {
		return nil, err
	}
	stem := filepath.Join(cfg.OutDir, cfg.Stem)
	if err := WriteBinary(stem, ds, mx, cfg.Samples, cfg.Mode); err != nil {
		return nil, err
	}
	return &RunResult{Index: idx, Metrics: metrics, Means: means, Best: best, Stem: stem}, nil
}
