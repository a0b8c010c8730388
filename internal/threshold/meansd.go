package threshold

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/inodb/zcall/internal/egt"
)

// MeanSD holds the noise-dimension statistics of one well-clustered
// common variant: the Y statistics of the X-tagged homozygote and the X
// statistics of the Y-tagged homozygote.
type MeanSD struct {
	Name       string
	MeanX      float64
	MeanY      float64
	SDX        float64
	SDY        float64
	NMinorHom  int
	NCommonHom int
}

// Filter selects the variants used to fit the betas.
type Filter struct {
	MinCallRate float64
	MinHomCount int
	MinMAF      float64
	MinHWEP     float64
}

// DefaultFilter returns the standard training-set filter.
func DefaultFilter() Filter {
	return Filter{
		MinCallRate: 0.99,
		MinHomCount: 10,
		MinMAF:      0.05,
		MinHWEP:     1e-5,
	}
}

// ExtractMeanSD returns a row for every variant that passes f.
func ExtractMeanSD(c *egt.ClusterFile, f Filter) []MeanSD {
	numPoints := c.NumPoints()
	var rows []MeanSD
	for i := range c.Records {
		r := &c.Records[i]
		total := r.NTotal()
		if numPoints == 0 || float64(total)/float64(numPoints) < f.MinCallRate {
			continue
		}
		if r.NAA < f.MinHomCount || r.NBB < f.MinHomCount {
			continue
		}
		maf := minorAlleleFrequency(r.NAA, r.NAB, r.NBB)
		if maf < f.MinMAF {
			continue
		}
		if HWEPValue(r.NAA, r.NAB, r.NBB) < f.MinHWEP {
			continue
		}

		row := MeanSD{Name: c.Names[i]}
		if r.AA.MeanX >= r.AA.MeanY {
			row.MeanY, row.SDY = r.AA.MeanY, r.AA.DevY
			row.MeanX, row.SDX = r.BB.MeanX, r.BB.DevX
		} else {
			row.MeanY, row.SDY = r.BB.MeanY, r.BB.DevY
			row.MeanX, row.SDX = r.AA.MeanX, r.AA.DevX
		}
		if r.NAA >= r.NBB {
			row.NMinorHom, row.NCommonHom = r.NBB, r.NAA
		} else {
			row.NMinorHom, row.NCommonHom = r.NAA, r.NBB
		}
		rows = append(rows, row)
	}
	return rows
}

func minorAlleleFrequency(nAA, nAB, nBB int) float64 {
	total := nAA + nAB + nBB
	if total == 0 {
		return 0
	}
	minorHom := min(nAA, nBB)
	return float64(nAB+2*minorHom) / float64(2*total)
}

// HWEPValue returns the one degree of freedom chi-square p-value for
// Hardy-Weinberg equilibrium of the genotype counts. Monomorphic counts
// return 1.
func HWEPValue(nAA, nAB, nBB int) float64 {
	total := float64(nAA + nAB + nBB)
	q := minorAlleleFrequency(nAA, nAB, nBB)
	if total == 0 || q == 0 {
		return 1
	}
	p := 1 - q

	expCommon := p * p * total
	expHet := 2 * p * q * total
	expMinor := q * q * total
	common, minor := float64(nAA), float64(nBB)
	if nBB > nAA {
		common, minor = minor, common
	}

	chi := sq(common-expCommon)/expCommon + sq(float64(nAB)-expHet)/expHet + sq(minor-expMinor)/expMinor
	return distuv.ChiSquared{K: 1}.Survival(chi)
}

func sq(x float64) float64 { return x * x }

var meanSDHeader = []string{"SNP", "meanX", "meanY", "sdX", "sdY", "nMinorHom", "nCommonHom"}

// WriteMeanSD writes rows as a tab-delimited table.
func WriteMeanSD(w io.Writer, rows []MeanSD) error {
	bw := bufio.NewWriter(w)
	bw.WriteString(strings.Join(meanSDHeader, "\t") + "\n")
	for _, r := range rows {
		fmt.Fprintf(bw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\n", r.Name,
			formatFloat(r.MeanX, -1), formatFloat(r.MeanY, -1),
			formatFloat(r.SDX, -1), formatFloat(r.SDY, -1),
			r.NMinorHom, r.NCommonHom)
	}
	return bw.Flush()
}

// ReadMeanSD reads a table written by WriteMeanSD.
func ReadMeanSD(r io.Reader) ([]MeanSD, error) {
	var rows []MeanSD
	err := scanLines(r, func(line int, text string) error {
		if text == "" || strings.HasPrefix(text, "SNP\t") {
			return nil
		}
		fields := strings.Split(text, "\t")
		if len(fields) != len(meanSDHeader) {
			return &ParseError{Line: line, Message: fmt.Sprintf("expected %d fields, got %d", len(meanSDHeader), len(fields))}
		}
		row := MeanSD{Name: fields[0]}
		for i, dst := range []*float64{&row.MeanX, &row.MeanY, &row.SDX, &row.SDY} {
			v, err := strconv.ParseFloat(fields[i+1], 64)
			if err != nil {
				return &ParseError{Line: line, Message: fmt.Sprintf("invalid %s: %s", meanSDHeader[i+1], fields[i+1])}
			}
			*dst = v
		}
		for i, dst := range []*int{&row.NMinorHom, &row.NCommonHom} {
			v, err := strconv.Atoi(fields[i+5])
			if err != nil {
				return &ParseError{Line: line, Message: fmt.Sprintf("invalid %s: %s", meanSDHeader[i+5], fields[i+5])}
			}
			*dst = v
		}
		rows = append(rows, row)
		return nil
	})
	return rows, err
}
