package genotype

import (
	"fmt"

	"github.com/inodb/zcall/internal/egt"
	"github.com/inodb/zcall/internal/gtc"
	"github.com/inodb/zcall/internal/manifest"
	"github.com/inodb/zcall/internal/threshold"
)

// Inclusion limits for concordance evaluation.
const (
	MinMAF      = 0.05
	MinHomCount = 10
)

// MAF returns the minor allele frequency implied by cluster counts, or 0
// for an empty cluster.
func MAF(nAA, nAB, nBB int) float64 {
	total := nAA + nAB + nBB
	if total == 0 {
		return 0
	}
	return float64(nAB+2*min(nAA, nBB)) / float64(2*total)
}

// Include reports whether a variant takes part in concordance evaluation:
// autosomal, common, both homozygote clusters populated and a defined
// threshold.
func Include(chrom string, nAA, nAB, nBB int, t threshold.Threshold) bool {
	return t.Defined &&
		manifest.IsAutosome(chrom) &&
		nAA >= MinHomCount && nBB >= MinHomCount &&
		MAF(nAA, nAB, nBB) >= MinMAF
}

// Counts tallies (original call, new call) pairs after orientation.
type Counts [4][4]int

// Add records one pair.
func (c *Counts) Add(orig, recalled Call) {
	c[orig][recalled]++
}

// Concordance is the fraction of originally called variants whose new
// call matches. It is 0 when nothing was originally called.
func (c *Counts) Concordance() float64 {
	match, total := 0, 0
	for i := HomA; i <= HomB; i++ {
		for j := NoCall; j <= HomB; j++ {
			total += c[i][j]
		}
		match += c[i][i]
	}
	if total == 0 {
		return 0
	}
	return float64(match) / float64(total)
}

// Gain is the fraction of original no-calls that received a call. It is 0
// when there were no original no-calls.
func (c *Counts) Gain() float64 {
	gained, total := 0, 0
	for j := NoCall; j <= HomB; j++ {
		total += c[NoCall][j]
		if j != NoCall {
			gained += c[NoCall][j]
		}
	}
	if total == 0 {
		return 0
	}
	return float64(gained) / float64(total)
}

// Metrics summarizes one sample evaluated at one set of thresholds.
type Metrics struct {
	Included    int
	Total       int
	Counts      Counts
	Concordance float64
	Gain        float64
}

// SampleMetrics is the evaluation of one sample at one z score.
type SampleMetrics struct {
	Sample string
	Z      int
	Metrics
}

// Evaluate recalls every included variant of a sample and compares the
// result with the original call.
func Evaluate(m *manifest.Manifest, records []egt.Record, thresholds []threshold.Threshold, s *gtc.Sample) (Metrics, error) {
	n := len(records)
	if m.Len() != n || len(thresholds) != n {
		return Metrics{}, fmt.Errorf("evaluate: have %d manifest variants, %d records, %d thresholds", m.Len(), n, len(thresholds))
	}
	recalled, err := (&Caller{Thresholds: thresholds, Policy: RecallAll}).Recall(s)
	if err != nil {
		return Metrics{}, err
	}

	met := Metrics{Total: n}
	for i := range records {
		r := &records[i]
		if !Include(m.Variants[i].Chrom, r.NAA, r.NAB, r.NBB, thresholds[i]) {
			continue
		}
		met.Included++
		orig := NormalizeOrientation(Call(s.Genotypes[i]), r.NAA, r.NBB)
		met.Counts.Add(orig, NormalizeOrientation(recalled[i], r.NAA, r.NBB))
	}
	met.Concordance = met.Counts.Concordance()
	met.Gain = met.Counts.Gain()
	return met, nil
}

// ZMean is the mean concordance and gain over samples at one z score.
type ZMean struct {
	Z           int
	Concordance float64
	Gain        float64
}

// BestKind says how BestZ chose its z score.
type BestKind int

const (
	NoResult BestKind = iota
	ConcordanceAboveGain
	LeastGap
)

func (k BestKind) String() string {
	switch k {
	case ConcordanceAboveGain:
		return "concordance above gain"
	case LeastGap:
		return "least gain minus concordance"
	}
	return "no result"
}

// BestZ returns the smallest z whose mean concordance exceeds its mean
// gain. If there is none it returns the z with the least gain minus
// concordance, preferring the smaller z on ties.
func BestZ(means []ZMean) (int, BestKind) {
	if len(means) == 0 {
		return 0, NoResult
	}

	best, found := 0, false
	for _, m := range means {
		if m.Concordance > m.Gain && (!found || m.Z < best) {
			best, found = m.Z, true
		}
	}
	if found {
		return best, ConcordanceAboveGain
	}

	best = means[0].Z
	gap := means[0].Gain - means[0].Concordance
	for _, m := range means[1:] {
		g := m.Gain - m.Concordance
		if g < gap || (g == gap && m.Z < best) {
			best, gap = m.Z, g
		}
	}
	return best, LeastGap
}
