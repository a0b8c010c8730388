package duckdb

import (
	"database/sql/driver"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	goduckdb "github.com/marcboeker/go-duckdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inodb/zcall/internal/genotype"
)

func openInMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func metrics(sample string, z int, concord, gain float64) genotype.SampleMetrics {
	m := genotype.SampleMetrics{Sample: sample, Z: z}
	m.Included = 10
	m.Total = 12
	m.Concordance = concord
	m.Gain = gain
	m.Counts[genotype.HomA][genotype.HomA] = 7
	m.Counts[genotype.NoCall][genotype.Het] = 3
	return m
}

func TestOpenClose(t *testing.T) {
	s := openInMemory(t)
	assert.NotNil(t, s.DB())
	assert.Equal(t, "", s.Path())
}

func TestOpen_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "metrics.duckdb")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestWriteAndReadMetrics(t *testing.T) {
	s := openInMemory(t)

	require.NoError(t, s.WriteMetrics([]genotype.SampleMetrics{
		metrics("s2", 7, 0.99, 0.8),
		metrics("s1", 7, 0.98, 0.7),
		metrics("s1", 3, 0.9, 0.95),
	}))

	got, err := s.Metrics()
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "s1", got[0].Sample)
	assert.Equal(t, 3, got[0].Z)
	assert.Equal(t, 10, got[0].Included)
	assert.Equal(t, 12, got[0].Total)
	assert.Equal(t, 7, got[0].Counts[genotype.HomA][genotype.HomA])
	assert.Equal(t, 3, got[0].Counts[genotype.NoCall][genotype.Het])
	assert.Equal(t, 0, got[0].Counts[genotype.HomB][genotype.HomA])
	assert.Equal(t, metrics("s2", 7, 0.99, 0.8), got[2])
}

func TestWriteMetrics_ReplacesSameKey(t *testing.T) {
	s := openInMemory(t)

	require.NoError(t, s.WriteMetrics([]genotype.SampleMetrics{metrics("s1", 7, 0.5, 0.5)}))
	require.NoError(t, s.WriteMetrics([]genotype.SampleMetrics{
		metrics("s1", 7, 0.6, 0.6),
		metrics("s1", 7, 0.97, 0.4),
	}))

	got, err := s.Metrics()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 0.97, got[0].Concordance)
}

func TestWriteMetrics_FailedAppendKeepsStoredRows(t *testing.T) {
	s := openInMemory(t)
	require.NoError(t, s.WriteMetrics([]genotype.SampleMetrics{
		metrics("s1", 7, 0.5, 0.5),
		metrics("s2", 7, 0.6, 0.6),
	}))

	orig := appendRow
	t.Cleanup(func() { appendRow = orig })
	n := 0
	appendRow = func(a *goduckdb.Appender, row []driver.Value) error {
		if n++; n == 2 {
			return errors.New("disk full")
		}
		return orig(a, row)
	}

	err := s.WriteMetrics([]genotype.SampleMetrics{
		metrics("s1", 7, 0.9, 0.9),
		metrics("s2", 7, 0.9, 0.9),
	})
	require.ErrorContains(t, err, "disk full")

	got, err := s.Metrics()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 0.5, got[0].Concordance)
	assert.Equal(t, 0.6, got[1].Concordance)

	appendRow = orig
	require.NoError(t, s.WriteMetrics([]genotype.SampleMetrics{metrics("s1", 7, 0.9, 0.9)}))
	got, err = s.Metrics()
	require.NoError(t, err)
	assert.Equal(t, 0.9, got[0].Concordance)
	assert.Equal(t, 0.6, got[1].Concordance)
}

func TestWriteMetrics_Empty(t *testing.T) {
	s := openInMemory(t)
	require.NoError(t, s.WriteMetrics(nil))
}

func TestMeansByZ(t *testing.T) {
	s := openInMemory(t)
	require.NoError(t, s.WriteMetrics([]genotype.SampleMetrics{
		metrics("s1", 7, 0.9, 0.5),
		metrics("s2", 7, 1.0, 0.7),
		metrics("s1", 3, 0.5, 0.9),
		metrics("s2", 3, 0.7, 0.9),
	}))

	means, err := s.MeansByZ()
	require.NoError(t, err)
	require.Len(t, means, 2)
	assert.Equal(t, 3, means[0].Z)
	assert.InDelta(t, 0.6, means[0].Concordance, 1e-12)
	assert.InDelta(t, 0.9, means[0].Gain, 1e-12)
	assert.Equal(t, 7, means[1].Z)
	assert.InDelta(t, 0.95, means[1].Concordance, 1e-12)
	assert.InDelta(t, 0.6, means[1].Gain, 1e-12)

	z, kind := genotype.BestZ(means)
	assert.Equal(t, 7, z)
	assert.Equal(t, genotype.ConcordanceAboveGain, kind)
}

func TestClearMetrics(t *testing.T) {
	s := openInMemory(t)
	require.NoError(t, s.WriteMetrics([]genotype.SampleMetrics{metrics("s1", 7, 1, 1)}))
	require.NoError(t, s.ClearMetrics())

	got, err := s.Metrics()
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestInputsMatch(t *testing.T) {
	s := openInMemory(t)

	now := time.Now()
	inputs := map[string]FileFingerprint{
		"manifest": {Path: "/data/a.csv", Size: 1000, ModTime: now},
		"egt":      {Path: "/data/a.egt", Size: 2000, ModTime: now},
	}

	// Empty store → matches
	ok, err := s.InputsMatch(inputs)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.RecordInputs(inputs))
	stored, err := s.Inputs()
	require.NoError(t, err)
	assert.Len(t, stored, 2)
	assert.Equal(t, int64(2000), stored["egt"].Size)

	ok, err = s.InputsMatch(inputs)
	require.NoError(t, err)
	assert.True(t, ok)

	// Different size → stale
	changed := map[string]FileFingerprint{"manifest": inputs["manifest"], "egt": {Size: 9999, ModTime: now}}
	ok, err = s.InputsMatch(changed)
	require.NoError(t, err)
	assert.False(t, ok)

	// Different modtime → stale
	changed["egt"] = FileFingerprint{Size: 2000, ModTime: now.Add(time.Hour)}
	ok, err = s.InputsMatch(changed)
	require.NoError(t, err)
	assert.False(t, ok)

	// Missing role → stale
	ok, err = s.InputsMatch(map[string]FileFingerprint{"manifest": inputs["manifest"]})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStatFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0644))

	fp, err := StatFile(path)
	require.NoError(t, err)
	assert.Equal(t, path, fp.Path)
	assert.Equal(t, int64(5), fp.Size)

	_, err = StatFile(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
