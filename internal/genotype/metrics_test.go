package genotype

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inodb/zcall/internal/egt"
	"github.com/inodb/zcall/internal/gtc"
	"github.com/inodb/zcall/internal/manifest"
	"github.com/inodb/zcall/internal/threshold"
)

func TestMAF_Symmetric(t *testing.T) {
	for _, c := range [][3]int{{50, 10, 3}, {0, 0, 0}, {10, 80, 10}, {1, 0, 99}} {
		assert.Equal(t, MAF(c[0], c[1], c[2]), MAF(c[2], c[1], c[0]), "%v", c)
	}
	assert.InDelta(t, 16.0/126, MAF(50, 10, 3), 1e-12)
	assert.Equal(t, 0.0, MAF(0, 0, 0))
}

func TestInclude(t *testing.T) {
	def := threshold.Threshold{Tx: 1, Ty: 1, Defined: true}
	tests := []struct {
		name          string
		chrom         string
		nAA, nAB, nBB int
		th            threshold.Threshold
		want          bool
	}{
		{"common autosomal", "1", 40, 40, 20, def, true},
		{"sex chromosome", "X", 40, 40, 20, def, false},
		{"mitochondrial", "MT", 40, 40, 20, def, false},
		{"rare", "2", 500, 20, 10, def, false},
		{"few minor homozygotes", "2", 40, 40, 9, def, false},
		{"no threshold", "3", 40, 40, 20, threshold.NotApplicable, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Include(tt.chrom, tt.nAA, tt.nAB, tt.nBB, tt.th))
		})
	}
}

func TestCounts_Rates(t *testing.T) {
	var c Counts
	c.Add(HomA, HomA)
	c.Add(HomA, HomA)
	c.Add(Het, HomB)
	c.Add(HomB, HomB)
	c.Add(NoCall, Het)
	c.Add(NoCall, NoCall)
	c.Add(NoCall, NoCall)
	c.Add(NoCall, HomA)

	assert.InDelta(t, 0.75, c.Concordance(), 1e-12)
	assert.InDelta(t, 0.5, c.Gain(), 1e-12)
}

func TestCounts_ZeroDenominator(t *testing.T) {
	var c Counts
	assert.Equal(t, 0.0, c.Concordance())
	assert.Equal(t, 0.0, c.Gain())
}

func TestEvaluate(t *testing.T) {
	m := &manifest.Manifest{Variants: []manifest.Variant{
		{Name: "rs1", Chrom: "1"},
		{Name: "rs2", Chrom: "1"},
		{Name: "rs3", Chrom: "X"},
		{Name: "rs4", Chrom: "2"},
	}}
	common := egt.Record{NAA: 40, NAB: 40, NBB: 20}
	flipped := egt.Record{NAA: 20, NAB: 40, NBB: 40}
	records := []egt.Record{common, flipped, common, common}
	th := threshold.Threshold{Tx: 0.5, Ty: 0.5, Defined: true}
	ths := []threshold.Threshold{th, th, th, th}

	s := &gtc.Sample{
		File: gtc.File{
			RawX:      make([]uint16, 4),
			Genotypes: []int8{1, 3, 1, 0},
		},
		NormX: []float64{0.9, 0.1, 0.9, 0.9},
		NormY: []float64{0.1, 0.9, 0.1, 0.9},
	}

	met, err := Evaluate(m, records, ths, s)
	require.NoError(t, err)
	assert.Equal(t, 4, met.Total)
	assert.Equal(t, 3, met.Included)

	// rs2 is oriented so that its common homozygote BB counts as HomA.
	assert.Equal(t, 2, met.Counts[HomA][HomA])
	assert.Equal(t, 1, met.Counts[NoCall][Het])
	assert.Equal(t, 1.0, met.Concordance)
	assert.Equal(t, 1.0, met.Gain)
}

func TestEvaluate_LengthMismatch(t *testing.T) {
	m := &manifest.Manifest{Variants: []manifest.Variant{{Name: "rs1", Chrom: "1"}}}
	_, err := Evaluate(m, nil, nil, &gtc.Sample{})
	assert.Error(t, err)
}

func TestBestZ_ConcordanceAboveGain(t *testing.T) {
	z, kind := BestZ([]ZMean{
		{Z: 9, Concordance: 0.99, Gain: 0.5},
		{Z: 3, Concordance: 0.4, Gain: 0.9},
		{Z: 7, Concordance: 0.98, Gain: 0.6},
	})
	assert.Equal(t, 7, z)
	assert.Equal(t, ConcordanceAboveGain, kind)
}

func TestBestZ_LeastGap(t *testing.T) {
	z, kind := BestZ([]ZMean{
		{Z: 8, Concordance: 0.5, Gain: 0.7},
		{Z: 5, Concordance: 0.5, Gain: 0.6},
		{Z: 4, Concordance: 0.5, Gain: 0.6},
		{Z: 3, Concordance: 0.2, Gain: 0.9},
	})
	assert.Equal(t, 4, z)
	assert.Equal(t, LeastGap, kind)
}

func TestBestZ_Empty(t *testing.T) {
	z, kind := BestZ(nil)
	assert.Equal(t, 0, z)
	assert.Equal(t, NoResult, kind)
}
