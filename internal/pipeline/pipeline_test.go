package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inodb/zcall/internal/egt"
	"github.com/inodb/zcall/internal/genotype"
	"github.com/inodb/zcall/internal/gtc"
	"github.com/inodb/zcall/internal/plink"
	"github.com/inodb/zcall/internal/threshold"
)

const testManifest = `Index,Name,Chromosome,Position,IlmnStrand,SNP,Customer Strand,Manifest,NormID
1,rs1,2,500,TOP,[A/G],TOP,Test,0
2,rs2,1,900,TOP,[C/T],TOP,Test,0
3,rs3,1,100,BOT,[A/C],BOT,Test,0
4,rs4,3,50,TOP,[G/T],TOP,Test,0
`

// countingSolver fits the identity line and counts invocations.
type countingSolver struct {
	calls atomic.Int32
}

func (s *countingSolver) Fit(x, y []float64) (threshold.Coefficients, error) {
	s.calls.Add(1)
	return threshold.Coefficients{Intercept: 0, Slope: 1}, nil
}

// weightedSolver is a value type that cannot be used as a map key. It
// fits a line through the origin whose slope is the first weight.
type weightedSolver struct {
	weights []float64
}

func (s weightedSolver) Fit(x, y []float64) (threshold.Coefficients, error) {
	return threshold.Coefficients{Slope: s.weights[0]}, nil
}

type fixture struct {
	dir      string
	manifest string
	egt      string
}

func writeFixture(t *testing.T, nClusters int) fixture {
	t.Helper()
	dir := t.TempDir()
	f := fixture{
		dir:      dir,
		manifest: filepath.Join(dir, "test.bpm.csv"),
		egt:      filepath.Join(dir, "test.egt"),
	}
	require.NoError(t, os.WriteFile(f.manifest, []byte(testManifest), 0o644))

	names := []string{"rs1", "rs2", "rs3", "rs4"}[:nClusters]
	c := &egt.ClusterFile{FileVersion: 3, DataVersion: 9, Names: names}
	for range names {
		c.Records = append(c.Records, egt.Record{
			NAA: 20, NAB: 20, NBB: 20,
			PolarAA: egt.Polar{MeanR: 1, DevR: 0.05, MeanTheta: 0.1, DevTheta: 0.01},
			PolarAB: egt.Polar{MeanR: 1, DevR: 0.05, MeanTheta: 0.5, DevTheta: 0.01},
			PolarBB: egt.Polar{MeanR: 1, DevR: 0.05, MeanTheta: 0.9, DevTheta: 0.01},
		})
	}
	data, err := c.MarshalBinary()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(f.egt, data, 0o644))
	return f
}

func writeSample(t *testing.T, dir, name string, x, y []uint16, codes []int8) string {
	t.Helper()
	f := &gtc.File{
		Version:    3,
		Name:       name,
		RawX:       x,
		RawY:       y,
		Transforms: []gtc.Transform{{ScaleX: 1, ScaleY: 1}},
		Genotypes:  codes,
	}
	data, err := f.MarshalBinary()
	require.NoError(t, err)
	path := filepath.Join(dir, name+".gtc")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// Variants land in the AA, BB, AB and no-call quadrants of a threshold at 100.
var (
	quadX = []uint16{200, 10, 200, 10}
	quadY = []uint16{10, 200, 200, 10}
)

func flatThresholds(n int) []threshold.Threshold {
	out := make([]threshold.Threshold, n)
	for i := range out {
		out[i] = threshold.Threshold{Tx: 100, Ty: 100, Defined: true}
	}
	return out
}

func twoSamples(t *testing.T, dir string) []SampleEntry {
	s1 := writeSample(t, dir, "s1", quadX, quadY, []int8{gtc.CodeAA, gtc.CodeNoCall, gtc.CodeAB, gtc.CodeNoCall})
	s2 := writeSample(t, dir, "s2", quadX, quadY, []int8{gtc.CodeAA, gtc.CodeBB, gtc.CodeAA, gtc.CodeNoCall})
	return []SampleEntry{
		{URI: "urn:s1", GenderCode: 1, Result: s1},
		{URI: "urn:s2", GenderCode: 2, Result: s2},
	}
}

func TestLoad(t *testing.T) {
	f := writeFixture(t, 4)
	ds, err := Load(f.manifest, f.egt)
	require.NoError(t, err)
	assert.Equal(t, 4, ds.Len())
	assert.Equal(t, []string{"rs1", "rs2", "rs3", "rs4"}, ds.Clusters.Names)
}

func TestLoad_CountMismatch(t *testing.T) {
	f := writeFixture(t, 3)
	_, err := Load(f.manifest, f.egt)
	var ce *ConsistencyError
	require.True(t, errors.As(err, &ce), "got %v", err)
	assert.Equal(t, 4, ce.Want)
	assert.Equal(t, 3, ce.Got)
}

func TestNewDataset_NameMismatch(t *testing.T) {
	f := writeFixture(t, 4)
	ds, err := Load(f.manifest, f.egt)
	require.NoError(t, err)

	c := *ds.Clusters
	c.Names = []string{"rs1", "rs2", "rsX", "rs4"}
	_, err = NewDataset(f.manifest, f.egt, ds.Manifest, &c)
	var ce *ConsistencyError
	require.True(t, errors.As(err, &ce))
	assert.Contains(t, ce.Error(), "rsX")
}

func TestRun_SampleMismatchBeforeCalibration(t *testing.T) {
	// Manifest and cluster file agree on three variants; the sample has two.
	f := writeFixture(t, 3)
	lines := strings.SplitAfter(testManifest, "\n")
	require.NoError(t, os.WriteFile(f.manifest, []byte(strings.Join(lines[:4], "")), 0o644))
	path := writeSample(t, f.dir, "short", []uint16{1, 2}, []uint16{1, 2}, []int8{0, 0})

	solver := &countingSolver{}
	_, err := Run(context.Background(), RunConfig{
		ManifestPath: f.manifest,
		EGTPath:      f.egt,
		Samples:      []SampleEntry{{URI: "short", Result: path}},
		OutDir:       filepath.Join(f.dir, "out"),
		ZStart:       7,
		ZTotal:       1,
		Calibrate:    CalibrateOptions{Solver: solver},
	})
	var ce *ConsistencyError
	require.True(t, errors.As(err, &ce), "got %v", err)
	assert.Equal(t, path, ce.Source)
	assert.Equal(t, 3, ce.Want)
	assert.Equal(t, 2, ce.Got)
	assert.Zero(t, solver.calls.Load())
	assert.NoDirExists(t, filepath.Join(f.dir, "out"))
}

func TestDataset_BetasCached(t *testing.T) {
	f := writeFixture(t, 4)
	ds, err := Load(f.manifest, f.egt)
	require.NoError(t, err)

	solver := &countingSolver{}
	ths, err := ds.Thresholds(3, solver, threshold.DefaultMinIntensity)
	require.NoError(t, err)
	assert.Len(t, ths, 4)
	_, err = ds.Thresholds(4, solver, threshold.DefaultMinIntensity)
	require.NoError(t, err)
	assert.Equal(t, int32(4), solver.calls.Load())

	_, err = ds.Thresholds(0, solver, threshold.DefaultMinIntensity)
	var re *threshold.RangeError
	assert.True(t, errors.As(err, &re))

	fresh := &countingSolver{}
	ds.SetBetas(threshold.IdentityBetas)
	b, err := ds.Betas(fresh)
	require.NoError(t, err)
	assert.Equal(t, threshold.IdentityBetas, b)
	assert.Zero(t, fresh.calls.Load())
}

func TestDataset_ValueSolverWithSlice(t *testing.T) {
	f := writeFixture(t, 4)
	ds, err := Load(f.manifest, f.egt)
	require.NoError(t, err)

	solver := weightedSolver{weights: []float64{1}}
	ths, err := ds.Thresholds(7, solver, 0.2)
	require.NoError(t, err)
	assert.Len(t, ths, 4)

	first, err := ds.Betas(solver)
	require.NoError(t, err)
	again, err := ds.Betas(weightedSolver{weights: []float64{2, 3}})
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Equal(t, 1.0, again[threshold.MeanYOnMeanX].Slope)
}

func TestCall(t *testing.T) {
	f := writeFixture(t, 4)
	ds, err := Load(f.manifest, f.egt)
	require.NoError(t, err)
	samples := twoSamples(t, f.dir)

	var seen []string
	mx, err := Call(context.Background(), ds, flatThresholds(4), samples, CallOptions{
		Policy:  genotype.RecallNoCallsOnly,
		Workers: 2,
		OnSample: func(s SampleEntry, calls []genotype.Call) error {
			seen = append(seen, s.URI)
			return nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"urn:s1", "urn:s2"}, seen)
	assert.Equal(t, 2, mx.Samples())

	stem := filepath.Join(f.dir, "calls")
	require.NoError(t, WriteBinary(stem, ds, mx, samples, plink.SNPMajor))

	bed, err := os.Open(stem + ".bed")
	require.NoError(t, err)
	defer bed.Close()
	d, err := plink.Decode(bed, len(samples), ds.Len())
	require.NoError(t, err)

	// Sorted order is rs3, rs2, rs1, rs4.
	assert.Equal(t, []genotype.Call{genotype.Het, genotype.HomB, genotype.HomA, genotype.NoCall}, d.Calls[0])
	// Original calls are kept for the second sample.
	assert.Equal(t, []genotype.Call{genotype.HomA, genotype.HomB, genotype.HomA, genotype.NoCall}, d.Calls[1])

	fam, err := os.ReadFile(stem + ".fam")
	require.NoError(t, err)
	assert.Equal(t, "urn:s1 urn:s1 -9 -9 1 -9\nurn:s2 urn:s2 -9 -9 2 -9\n", string(fam))

	leftovers, err := filepath.Glob(filepath.Join(f.dir, ".*tmp-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestWriteBinary_BimFollowsMatrixOrder(t *testing.T) {
	f := writeFixture(t, 4)
	ds, err := Load(f.manifest, f.egt)
	require.NoError(t, err)
	samples := []SampleEntry{{URI: "urn:s1", GenderCode: 1}}

	// An identity ordering keeps manifest order in the .bim file.
	mx := plink.NewMatrix(plink.SortMap{0, 1, 2, 3})
	require.NoError(t, mx.AddSample([]genotype.Call{genotype.HomA, genotype.Het, genotype.HomB, genotype.NoCall}))

	stem := filepath.Join(f.dir, "identity")
	require.NoError(t, WriteBinary(stem, ds, mx, samples, plink.SNPMajor))
	bim, err := os.Open(stem + ".bim")
	require.NoError(t, err)
	defer bim.Close()
	names, err := plink.ReadBimNames(bim)
	require.NoError(t, err)
	assert.Equal(t, []string{"rs1", "rs2", "rs3", "rs4"}, names)

	short := plink.NewMatrix(plink.SortMap{0, 1})
	require.NoError(t, short.AddSample([]genotype.Call{genotype.HomA, genotype.Het}))
	err = WriteBinary(filepath.Join(f.dir, "short"), ds, short, samples, plink.SNPMajor)
	var ce *ConsistencyError
	require.True(t, errors.As(err, &ce), "got %v", err)
	assert.Equal(t, 2, ce.Got)
	assert.NoFileExists(t, filepath.Join(f.dir, "short.bed"))
}

func TestCall_FailedSampleWritesNothing(t *testing.T) {
	f := writeFixture(t, 4)
	ds, err := Load(f.manifest, f.egt)
	require.NoError(t, err)
	samples := twoSamples(t, f.dir)

	// The table of contents is intact but the genotype array is cut short.
	bad := writeSample(t, f.dir, "bad", quadX, quadY, []int8{0, 0, 0, 0})
	data, err := os.ReadFile(bad)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(bad, data[:len(data)-1], 0o644))
	samples = append(samples, SampleEntry{URI: "urn:bad", Result: bad})

	stem := filepath.Join(f.dir, "failed")
	mx, err := Call(context.Background(), ds, flatThresholds(4), samples, CallOptions{Workers: 1})
	require.Error(t, err)
	assert.Nil(t, mx)
	assert.NoFileExists(t, stem+".bed")
}

func TestCall_ThresholdCountMismatch(t *testing.T) {
	f := writeFixture(t, 4)
	ds, err := Load(f.manifest, f.egt)
	require.NoError(t, err)

	_, err = Call(context.Background(), ds, flatThresholds(3), twoSamples(t, f.dir), CallOptions{})
	var ce *ConsistencyError
	assert.True(t, errors.As(err, &ce))
}

func TestTextWriter(t *testing.T) {
	f := writeFixture(t, 4)
	ds, err := Load(f.manifest, f.egt)
	require.NoError(t, err)
	samples := twoSamples(t, f.dir)

	stem := filepath.Join(f.dir, "text")
	tw, err := NewTextWriter(stem, ds)
	require.NoError(t, err)
	_, err = Call(context.Background(), ds, flatThresholds(4), samples[:1], CallOptions{
		Policy:   genotype.PassThrough,
		OnSample: tw.Write,
	})
	require.NoError(t, err)
	require.NoError(t, tw.Close())

	ped, err := os.ReadFile(stem + ".ped")
	require.NoError(t, err)
	assert.Equal(t, "urn:s1\turn:s1\t-9\t-9\t1\t-9\tA A\t0 0\tA C\t0 0\n", string(ped))

	mapData, err := os.ReadFile(stem + ".map")
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(mapData)), "\n"), 4)
}

func TestEvaluate(t *testing.T) {
	f := writeFixture(t, 4)
	ds, err := Load(f.manifest, f.egt)
	require.NoError(t, err)
	samples := twoSamples(t, f.dir)

	undefined := make([]threshold.Threshold, 4)
	got, err := Evaluate(context.Background(), ds, map[int][]threshold.Threshold{
		8: undefined,
		3: flatThresholds(4),
	}, samples, 2)
	require.NoError(t, err)
	require.Len(t, got, 4)

	assert.Equal(t, "urn:s1", got[0].Sample)
	assert.Equal(t, 3, got[0].Z)
	assert.Equal(t, 4, got[0].Included)
	assert.Equal(t, 1.0, got[0].Concordance)
	assert.Equal(t, 0.5, got[0].Gain)

	assert.Equal(t, 8, got[1].Z)
	assert.Equal(t, 0, got[1].Included)

	// s2: AA->AA, BB->BB, AA->AB, NC->NC.
	assert.Equal(t, "urn:s2", got[2].Sample)
	assert.InDelta(t, 2.0/3.0, got[2].Concordance, 1e-12)
	assert.Equal(t, 0.0, got[2].Gain)

	means := Means(got)
	require.Len(t, means, 2)
	assert.Equal(t, 3, means[0].Z)
	assert.InDelta(t, (1.0+2.0/3.0)/2, means[0].Concordance, 1e-12)
	assert.InDelta(t, 0.25, means[0].Gain, 1e-12)
}

func TestChooseBestAndWrite(t *testing.T) {
	metrics := []genotype.SampleMetrics{
		{Sample: "a", Z: 5, Metrics: genotype.Metrics{Concordance: 0.4, Gain: 0.6}},
		{Sample: "a", Z: 6, Metrics: genotype.Metrics{Concordance: 0.9, Gain: 0.5}},
		{Sample: "a", Z: 7, Metrics: genotype.Metrics{Concordance: 0.99, Gain: 0.1}},
	}
	idx := threshold.Index{5: "/t/z05", 6: "/t/z06", 7: "/t/z07"}
	b, err := ChooseBest(Means(metrics), idx, metrics)
	require.NoError(t, err)
	assert.Equal(t, 6, b.Z)
	assert.Equal(t, "/t/z06", b.ThresholdsPath)
	assert.Len(t, b.SampleMetrics, 3)

	path := filepath.Join(t.TempDir(), "best.json")
	require.NoError(t, WriteBest(path, b))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	for _, key := range []string{"BEST_Z", "BEST_THRESHOLDS", "SAMPLE_METRICS"} {
		assert.Contains(t, string(raw), key)
	}
	back, err := ReadBest(path)
	require.NoError(t, err)
	assert.Equal(t, b, back)

	_, err = ChooseBest(nil, idx, nil)
	assert.Error(t, err)
	_, err = ChooseBest(Means(metrics), threshold.Index{5: "x"}, metrics)
	assert.Error(t, err)
}

func TestPrepareThresholds(t *testing.T) {
	f := writeFixture(t, 4)
	ds, err := Load(f.manifest, f.egt)
	require.NoError(t, err)

	out := filepath.Join(f.dir, "thresholds")
	solver := &countingSolver{}
	idx, err := PrepareThresholds(ds, out, ZRange(7, 2), CalibrateOptions{Solver: solver, MinIntensity: 0.2, Digits: -1})
	require.NoError(t, err)
	require.Len(t, idx, 2)
	assert.Equal(t, "thresholds_test_z07.txt", filepath.Base(idx[7]))
	assert.Equal(t, "thresholds_test_z08.txt", filepath.Base(idx[8]))

	byZ, err := ds.LoadIndexed(idx)
	require.NoError(t, err)
	assert.Len(t, byZ[7], 4)
	for _, th := range byZ[7] {
		assert.True(t, th.Defined)
	}

	// Existing tables are kept unless forced.
	require.NoError(t, os.WriteFile(idx[7], []byte("SNP\tTx\tTy\n"), 0o644))
	_, err = PrepareThresholds(ds, out, []int{7}, CalibrateOptions{Solver: solver})
	require.NoError(t, err)
	_, err = ds.LoadThresholds(idx[7])
	var ce *ConsistencyError
	assert.True(t, errors.As(err, &ce))

	_, err = PrepareThresholds(ds, out, []int{7}, CalibrateOptions{Solver: solver, MinIntensity: 0.2, Force: true})
	require.NoError(t, err)
	_, err = ds.LoadThresholds(idx[7])
	assert.NoError(t, err)

	indexPath := filepath.Join(out, DefaultIndexName)
	require.NoError(t, WriteIndex(indexPath, idx))
	back, err := ReadIndex(indexPath)
	require.NoError(t, err)
	assert.Equal(t, idx, back)

	_, err = PrepareThresholds(ds, out, []int{0}, CalibrateOptions{Solver: solver})
	var re *threshold.RangeError
	assert.True(t, errors.As(err, &re))
}

func TestRun(t *testing.T) {
	f := writeFixture(t, 4)
	samples := twoSamples(t, f.dir)
	out := filepath.Join(f.dir, "out")

	res, err := Run(context.Background(), RunConfig{
		ManifestPath: f.manifest,
		EGTPath:      f.egt,
		Samples:      samples,
		OutDir:       out,
		ZStart:       6,
		ZTotal:       2,
		Calibrate:    CalibrateOptions{Solver: &countingSolver{}, MinIntensity: 0.2, Digits: -1},
		Workers:      2,
		Mode:         plink.SNPMajor,
	})
	require.NoError(t, err)
	assert.Len(t, res.Metrics, 4)
	assert.Contains(t, []int{6, 7}, res.Best.Z)
	assert.FileExists(t, filepath.Join(out, DefaultIndexName))
	assert.FileExists(t, filepath.Join(out, "zcall_best.json"))
	for _, ext := range []string{".bed", ".bim", ".fam"} {
		assert.FileExists(t, res.Stem+ext)
	}
}

func TestReadSampleList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "samples.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"uri": "urn:a", "gender_code": 1, "result": "/data/a.gtc"},
		{"uri": "urn:b", "gender_code": 2, "result": "/data/b.gtc"},
		{"uri": "urn:c", "gender_code": 0, "result": "/data/c.gtc"}
	]`), 0o644))

	samples, err := ReadSampleList(path)
	require.NoError(t, err)
	require.Len(t, samples, 3)
	assert.Equal(t, SampleEntry{URI: "urn:b", GenderCode: 2, Result: "/data/b.gtc"}, samples[1])
	assert.Equal(t, plink.Individual{ID: "urn:a", Sex: 1}, samples[0].Individual())

	sub, err := SliceSamples(samples, 1, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"/data/b.gtc", "/data/c.gtc"}, Paths(sub))
	_, err = SliceSamples(samples, 2, 1)
	assert.Error(t, err)
	_, err = SliceSamples(samples, 0, 4)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`[{"uri": "urn:a"}]`), 0o644))
	_, err = ReadSampleList(path)
	assert.Error(t, err)
}
