// Package pipeline ties the readers, calibrator, caller and matrix codec
// together: it loads a manifest and cluster file once, checks that every
// input agrees on the variant set, and runs threshold calibration,
// evaluation and calling over batches of samples.
package pipeline

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/inodb/zcall/internal/egt"
	"github.com/inodb/zcall/internal/gtc"
	"github.com/inodb/zcall/internal/manifest"
	"github.com/inodb/zcall/internal/threshold"
)

// Dataset is a manifest and cluster file describing the same variants.
// It is read-only after Load apart from the cached betas.
type Dataset struct {
	ManifestPath string
	EGTPath      string
	Manifest     *manifest.Manifest
	Clusters     *egt.ClusterFile

	normIDs []int
	logger  *zap.Logger

	mu     sync.Mutex
	fixed  *threshold.Betas
	fitted *threshold.Betas
}

// Load reads the manifest and cluster file and checks that they list the
// same variants in the same order.
func Load(manifestPath, egtPath string) (*Dataset, error) {
	m, err := manifest.Open(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("load manifest: %w", err)
	}
	c, err := egt.Open(egtPath)
	if err != nil {
		return nil, fmt.Errorf("load cluster file: %w", err)
	}
	return NewDataset(manifestPath, egtPath, m, c)
}

// NewDataset checks and wraps an already loaded manifest and cluster file.
func NewDataset(manifestPath, egtPath string, m *manifest.Manifest, c *egt.ClusterFile) (*Dataset, error) {
	if m.Len() != c.Len() {
		return nil, &ConsistencyError{
			Source: egtPath,
			Want:   m.Len(),
			Got:    c.Len(),
		}
	}
	for i, v := range m.Variants {
		if v.Name != c.Names[i] {
			return nil, &ConsistencyError{
				Source:  egtPath,
				Want:    m.Len(),
				Got:     c.Len(),
				Message: fmt.Sprintf("variant %d is %s in the manifest but %s in the cluster file", i, v.Name, c.Names[i]),
			}
		}
	}
	return &Dataset{
		ManifestPath: manifestPath,
		EGTPath:      egtPath,
		Manifest:     m,
		Clusters:     c,
		normIDs:      m.NormIDs(),
		logger:       zap.NewNop(),
	}, nil
}

// SetLogger sets the logger used for progress and warnings.
func (ds *Dataset) SetLogger(l *zap.Logger) {
	ds.logger = l
}

// Len returns the number of variants.
func (ds *Dataset) Len() int {
	return ds.Manifest.Len()
}

// LoadSample reads and normalizes one sample file.
func (ds *Dataset) LoadSample(path string) (*gtc.Sample, error) {
	return gtc.Open(path, ds.normIDs)
}

// CheckSamples verifies that every sample file holds one value per
// variant. Only the table of contents of each file is read.
func (ds *Dataset) CheckSamples(paths []string) error {
	for _, p := range paths {
		n, err := gtc.VariantCount(p)
		if err != nil {
			return err
		}
		if n != ds.Len() {
			return &ConsistencyError{Source: p, Want: ds.Len(), Got: n}
		}
	}
	return nil
}

// SetBetas makes every later calibration use b instead of fitting.
func (ds *Dataset) SetBetas(b threshold.Betas) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.fixed = &b
}

// Betas fits the relations between common and minor homozygote clusters
// on the well-behaved variants of the cluster file. The fit runs once per
// dataset; later calls return it whatever solver they pass.
func (ds *Dataset) Betas(solver threshold.RegressionSolver) (threshold.Betas, error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if ds.fixed != nil {
		return *ds.fixed, nil
	}
	if ds.fitted != nil {
		return *ds.fitted, nil
	}
	rows := threshold.ExtractMeanSD(ds.Clusters, threshold.DefaultFilter())
	ds.logger.Debug("fitting betas",
		zap.Int("training_variants", len(rows)),
		zap.Int("variants", ds.Len()))
	b, err := threshold.FitBetas(rows, solver)
	if err != nil {
		return threshold.Betas{}, fmt.Errorf("fit betas: %w", err)
	}
	ds.fitted = &b
	return b, nil
}

// Thresholds calibrates one threshold per variant at z.
func (ds *Dataset) Thresholds(z int, solver threshold.RegressionSolver, minIntensity float64) ([]threshold.Threshold, error) {
	if z <= 0 {
		return nil, &threshold.RangeError{Z: z}
	}
	b, err := ds.Betas(solver)
	if err != nil {
		return nil, err
	}
	c := &threshold.Calibrator{Betas: b, MinIntensity: minIntensity}
	ths, err := c.Calibrate(ds.Clusters.Records, z)
	if err != nil {
		return nil, err
	}

	defined := 0
	for _, t := range ths {
		if t.Defined {
			defined++
		}
	}
	ds.logger.Info("calibrated thresholds",
		zap.Int("z", z),
		zap.Int("defined", defined),
		zap.Int("variants", len(ths)))
	return ths, nil
}

// CheckTable verifies that a thresholds table matches the variants of
// the dataset and returns its thresholds.
func (ds *Dataset) CheckTable(t *threshold.Table, source string) ([]threshold.Threshold, error) {
	if len(t.Thresholds) != ds.Len() {
		return nil, &ConsistencyError{Source: source, Want: ds.Len(), Got: len(t.Thresholds)}
	}
	for i, name := range t.Names {
		if name != ds.Clusters.Names[i] {
			return nil, &ConsistencyError{
				Source:  source,
				Want:    ds.Len(),
				Got:     len(t.Thresholds),
				Message: fmt.Sprintf("variant %d is %s in the thresholds but %s in the cluster file", i, name, ds.Clusters.Names[i]),
			}
		}
	}
	return t.Thresholds, nil
}

// ConsistencyError reports inputs that disagree on the variant set.
type ConsistencyError struct {
	Source  string
	Want    int
	Got     int
	Message string
}

func (e *ConsistencyError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("inconsistent input %s: %s", e.Source, e.Message)
	}
	return fmt.Sprintf("inconsistent input %s: have %d variants, want %d", e.Source, e.Got, e.Want)
}
