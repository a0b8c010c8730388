package plink

import (
	"bufio"
	"cmp"
	"fmt"
	"io"
	"slices"

	"github.com/inodb/zcall/internal/genotype"
	"github.com/inodb/zcall/internal/manifest"
)

// SortMap maps a variant's manifest index to its position in
// (chromosome, position) order.
type SortMap []int

// NewSortMap orders variants by numeric chromosome, then position, then
// manifest index.
func NewSortMap(m *manifest.Manifest) (SortMap, error) {
	type coord struct {
		chrom int
		pos   int64
		orig  int
	}
	coords := make([]coord, m.Len())
	for i, v := range m.Variants {
		chrom, err := v.NumericChrom()
		if err != nil {
			return nil, fmt.Errorf("sort variant %s: %w", v.Name, err)
		}
		coords[i] = coord{chrom, v.Pos, i}
	}
	slices.SortFunc(coords, func(a, b coord) int {
		if c := cmp.Compare(a.chrom, b.chrom); c != 0 {
			return c
		}
		if c := cmp.Compare(a.pos, b.pos); c != 0 {
			return c
		}
		return cmp.Compare(a.orig, b.orig)
	})

	sm := make(SortMap, len(coords))
	for sorted, c := range coords {
		sm[c.orig] = sorted
	}
	return sm, nil
}

// Order returns the manifest indexes in sorted order.
func (sm SortMap) Order() []int {
	order := make([]int, len(sm))
	for orig, sorted := range sm {
		order[sorted] = orig
	}
	return order
}

// Matrix accumulates per-sample calls in sorted variant order.
type Matrix struct {
	sortMap SortMap
	rows    [][]byte
}

// NewMatrix returns an empty matrix over the variants of sm.
func NewMatrix(sm SortMap) *Matrix {
	return &Matrix{sortMap: sm}
}

// Samples returns the number of samples added.
func (mx *Matrix) Samples() int { return len(mx.rows) }

// SortMap returns the variant ordering the matrix was built with.
func (mx *Matrix) SortMap() SortMap { return mx.sortMap }

// Variants returns the number of variants per sample.
func (mx *Matrix) Variants() int { return len(mx.sortMap) }

// AddSample reorders calls from manifest order into sorted order and
// appends them as a packed row.
func (mx *Matrix) AddSample(calls []genotype.Call) error {
	if len(calls) != len(mx.sortMap) {
		return fmt.Errorf("add sample: have %d calls for %d variants", len(calls), len(mx.sortMap))
	}
	sorted := make([]genotype.Call, len(calls))
	for i, c := range calls {
		sorted[mx.sortMap[i]] = c
	}
	row, err := PackCalls(sorted)
	if err != nil {
		return err
	}
	mx.rows = append(mx.rows, row)
	return nil
}

// Encode writes the matrix as a .bed file in the given orientation.
func (mx *Matrix) Encode(w io.Writer, mode Mode) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.Write([]byte{Magic[0], Magic[1], byte(mode)}); err != nil {
		return err
	}

	switch mode {
	case IndividualMajor:
		for _, row := range mx.rows {
			if _, err := bw.Write(row); err != nil {
				return err
			}
		}
	case SNPMajor:
		nSamples := len(mx.rows)
		col := make([]genotype.Call, nSamples)
		buf := make([]byte, PackedLen(nSamples))
		for v := range mx.Variants() {
			for s, row := range mx.rows {
				col[s] = callAt(row, v)
			}
			if err := packInto(buf, col); err != nil {
				return err
			}
			if _, err := bw.Write(buf); err != nil {
				return err
			}
		}
	default:
		return &RangeError{Message: fmt.Sprintf("unknown mode %#02x", byte(mode))}
	}
	return bw.Flush()
}

// Decoded is a .bed matrix read back as calls indexed [sample][variant].
type Decoded struct {
	Mode  Mode
	Calls [][]genotype.Call
}

// Decode reads a .bed file holding nSamples × nVariants calls. Padding
// calls are dropped.
func Decode(r io.Reader, nSamples, nVariants int) (*Decoded, error) {
	if nSamples < 0 || nVariants < 0 {
		return nil, &RangeError{Message: fmt.Sprintf("invalid dimensions %d x %d", nSamples, nVariants)}
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read bed: %w", err)
	}
	if len(data) < 3 || data[0] != Magic[0] || data[1] != Magic[1] {
		return nil, &RangeError{Message: "missing .bed magic number"}
	}

	mode := Mode(data[2])
	rows, cols := nSamples, nVariants
	switch mode {
	case IndividualMajor:
	case SNPMajor:
		rows, cols = nVariants, nSamples
	default:
		return nil, &RangeError{Message: fmt.Sprintf("unknown mode %#02x", data[2])}
	}

	body := data[3:]
	stride := PackedLen(cols)
	if len(body) != rows*stride {
		return nil, &RangeError{Message: fmt.Sprintf("have %d bytes, want %d for %d x %d calls", len(body), rows*stride, nSamples, nVariants)}
	}

	d := &Decoded{Mode: mode, Calls: make([][]genotype.Call, nSamples)}
	for s := range d.Calls {
		d.Calls[s] = make([]genotype.Call, nVariants)
	}
	for i := range rows {
		row := body[i*stride : (i+1)*stride]
		for j := range cols {
			if mode == SNPMajor {
				d.Calls[j][i] = callAt(row, j)
			} else {
				d.Calls[i][j] = callAt(row, j)
			}
		}
	}
	return d, nil
}
