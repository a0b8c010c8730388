package pipeline

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/inodb/zcall/internal/threshold"
)

// DefaultIndexName is the file name of the thresholds index written to
// the output directory.
const DefaultIndexName = "threshold_index.json"

// CalibrateOptions configures PrepareThresholds.
type CalibrateOptions struct {
	Solver       threshold.RegressionSolver
	MinIntensity float64
	Digits       int
	// Force recalibrates z scores whose thresholds file already exists.
	Force bool
}

// PrepareThresholds writes one thresholds table per z score into dir and
// returns the index of the files. Existing tables are kept unless
// opts.Force is set.
func PrepareThresholds(ds *Dataset, dir string, zs []int, opts CalibrateOptions) (threshold.Index, error) {
	if opts.Solver == nil {
		opts.Solver = threshold.OLS{}
	}
	for _, z := range zs {
		if z <= 0 {
			return nil, &threshold.RangeError{Z: z}
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	idx := make(threshold.Index, len(zs))
	for _, z := range zs {
		path, err := filepath.Abs(filepath.Join(dir, threshold.FileName(ds.EGTPath, z)))
		if err != nil {
			return nil, fmt.Errorf("resolve thresholds path: %w", err)
		}
		idx[z] = path

		if !opts.Force {
			if _, err := os.Stat(path); err == nil {
				ds.logger.Info("thresholds exist, skipping calibration",
					zap.Int("z", z), zap.String("path", path))
				continue
			} else if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("stat %s: %w", path, err)
			}
		}

		ths, err := ds.Thresholds(z, opts.Solver, opts.MinIntensity)
		if err != nil {
			return nil, err
		}
		if err := writeFile(path, func(w io.Writer) error {
			return threshold.WriteTable(w, ds.Clusters.Names, ths, opts.Digits)
		}); err != nil {
			return nil, err
		}
	}
	return idx, nil
}

// WriteIndex writes idx as path.
func WriteIndex(path string, idx threshold.Index) error {
	return writeFile(path, func(w io.Writer) error {
		return threshold.WriteIndex(w, idx)
	})
}

// ReadIndex reads a thresholds index file.
func ReadIndex(path string) (threshold.Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open thresholds index: %w", err)
	}
	defer f.Close()
	return threshold.ReadIndex(f)
}

// LoadThresholds reads a thresholds table and checks it against the
// dataset.
func (ds *Dataset) LoadThresholds(path string) ([]threshold.Threshold, error) {
	t, err := threshold.OpenTable(path)
	if err != nil {
		return nil, err
	}
	return ds.CheckTable(t, path)
}

// LoadIndexed reads every table named by idx.
func (ds *Dataset) LoadIndexed(idx threshold.Index) (map[int][]threshold.Threshold, error) {
	out := make(map[int][]threshold.Threshold, len(idx))
	for z, path := range idx {
		if z <= 0 {
			return nil, &threshold.RangeError{Z: z}
		}
		ths, err := ds.LoadThresholds(path)
		if err != nil {
			return nil, err
		}
		out[z] = ths
	}
	return out, nil
}

// ZRange returns total consecutive z scores starting at start.
func ZRange(start, total int) []int {
	zs := make([]int, 0, max(total, 0))
	for i := range max(total, 0) {
		zs = append(zs, start+i)
	}
	return zs
}
