package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"slices"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/inodb/zcall/internal/genotype"
	"github.com/inodb/zcall/internal/threshold"
)

// Evaluate measures concordance and gain of every sample against each
// set of thresholds. Each sample file is read once and evaluated at all z
// scores. Results are ordered by sample list order, then by z.
func Evaluate(ctx context.Context, ds *Dataset, thresholdsByZ map[int][]threshold.Threshold, samples []SampleEntry, workers int) ([]genotype.SampleMetrics, error) {
	zs := make([]int, 0, len(thresholdsByZ))
	for z, ths := range thresholdsByZ {
		if len(ths) != ds.Len() {
			return nil, &ConsistencyError{Source: fmt.Sprintf("thresholds z=%d", z), Want: ds.Len(), Got: len(ths)}
		}
		zs = append(zs, z)
	}
	slices.Sort(zs)
	if err := ds.CheckSamples(Paths(samples)); err != nil {
		return nil, err
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	perSample := make([][]genotype.SampleMetrics, len(samples))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, entry := range samples {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			s, err := ds.LoadSample(entry.Result)
			if err != nil {
				return fmt.Errorf("evaluate %s: %w", entry.Result, err)
			}
			rows := make([]genotype.SampleMetrics, 0, len(zs))
			for _, z := range zs {
				m, err := genotype.Evaluate(ds.Manifest, ds.Clusters.Records, thresholdsByZ[z], s)
				if err != nil {
					return fmt.Errorf("evaluate %s: %w", entry.Result, err)
				}
				rows = append(rows, genotype.SampleMetrics{Sample: sampleID(entry), Z: z, Metrics: m})
			}
			perSample[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]genotype.SampleMetrics, 0, len(samples)*len(zs))
	for _, rows := range perSample {
		out = append(out, rows...)
	}
	ds.logger.Info("evaluated samples",
		zap.Int("samples", len(samples)),
		zap.Ints("z", zs))
	return out, nil
}

func sampleID(s SampleEntry) string {
	if s.URI != "" {
		return s.URI
	}
	return s.Result
}

// Means averages concordance and gain per z over all metrics.
func Means(metrics []genotype.SampleMetrics) []genotype.ZMean {
	type sum struct {
		n                 int
		concordance, gain float64
	}
	sums := make(map[int]*sum)
	for _, m := range metrics {
		s, ok := sums[m.Z]
		if !ok {
			s = &sum{}
			sums[m.Z] = s
		}
		s.n++
		s.concordance += m.Concordance
		s.gain += m.Gain
	}
	out := make([]genotype.ZMean, 0, len(sums))
	for z, s := range sums {
		out = append(out, genotype.ZMean{
			Z:           z,
			Concordance: s.concordance / float64(s.n),
			Gain:        s.gain / float64(s.n),
		})
	}
	slices.SortFunc(out, func(a, b genotype.ZMean) int { return a.Z - b.Z })
	return out
}

// Best is the outcome of choosing a z score from evaluated metrics.
type Best struct {
	Z              int                   `json:"BEST_Z"`
	Kind           string                `json:"BEST_Z_TYPE"`
	ThresholdsPath string                `json:"BEST_THRESHOLDS"`
	SampleMetrics  []SampleMetricsRecord `json:"SAMPLE_METRICS"`
}

// SampleMetricsRecord is the JSON form of one sample evaluated at one z.
type SampleMetricsRecord struct {
	Sample      string    `json:"sample"`
	Z           int       `json:"z"`
	Concordance float64   `json:"concordance"`
	Gain        float64   `json:"gain"`
	Included    int       `json:"included"`
	Total       int       `json:"total"`
	Counts      [4][4]int `json:"counts"`
}

// ChooseBest picks the best z from per-z means and looks up its
// thresholds file in index.
func ChooseBest(means []genotype.ZMean, index threshold.Index, metrics []genotype.SampleMetrics) (*Best, error) {
	z, kind := genotype.BestZ(means)
	if kind == genotype.NoResult {
		return nil, fmt.Errorf("choose best z: no evaluation results")
	}
	path, ok := index[z]
	if !ok {
		return nil, fmt.Errorf("choose best z: no thresholds file for z=%d", z)
	}
	b := &Best{Z: z, Kind: kind.String(), ThresholdsPath: path}
	b.SampleMetrics = make([]SampleMetricsRecord, len(metrics))
	for i, m := range metrics {
		b.SampleMetrics[i] = SampleMetricsRecord{
			Sample:      m.Sample,
			Z:           m.Z,
			Concordance: m.Concordance,
			Gain:        m.Gain,
			Included:    m.Included,
			Total:       m.Total,
			Counts:      m.Counts,
		}
	}
	return b, nil
}

// WriteBest writes b as JSON through a temporary file.
func WriteBest(path string, b *Best) error {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("encode best z: %w", err)
	}
	return writeFile(path, func(w io.Writer) error {
		_, err := w.Write(append(data, '\n'))
		return err
	})
}

// ReadBest reads a file written by WriteBest.
func ReadBest(path string) (*Best, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read best z: %w", err)
	}
	var b Best
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parse best z %s: %w", path, err)
	}
	return &b, nil
}
