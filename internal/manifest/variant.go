// Package manifest provides parsing of the comma-delimited array manifest
// (.bpm.csv) that lists every assayed variant.
package manifest

import (
	"fmt"
	"strconv"
)

// Numeric codes used for the non-autosomal chromosomes.
const (
	ChromX  = 23
	ChromY  = 24
	ChromXY = 25
	ChromMT = 26
)

// Variant represents a single row of the manifest.
type Variant struct {
	Name    string // Variant identifier (e.g., rs ID or exm ID)
	Chrom   string // Chromosome label as written in the manifest (e.g., "1", "X")
	Pos     int64  // Genomic position
	AlleleA string // Allele tagged by the X intensity channel
	AlleleB string // Allele tagged by the Y intensity channel
	NormID  int    // Normalization bin id
}

// NumericChrom returns the numeric chromosome code for the variant.
func (v *Variant) NumericChrom() (int, error) {
	return NumericChrom(v.Chrom)
}

// Manifest is the ordered list of variants. Variant order is shared by the
// cluster file, every sample file, and the threshold table.
type Manifest struct {
	Variants []Variant
}

// Len returns the number of variants.
func (m *Manifest) Len() int {
	return len(m.Variants)
}

// NormIDs returns the normalization bin id of every variant, in manifest order.
func (m *Manifest) NormIDs() []int {
	ids := make([]int, len(m.Variants))
	for i := range m.Variants {
		ids[i] = m.Variants[i].NormID
	}
	return ids
}

// NumericChrom converts a chromosome label to the numeric code used by PLINK.
func NumericChrom(chrom string) (int, error) {
	switch chrom {
	case "X":
		return ChromX, nil
	case "Y":
		return ChromY, nil
	case "XY":
		return ChromXY, nil
	case "MT":
		return ChromMT, nil
	}
	n, err := strconv.Atoi(chrom)
	if err != nil {
		return 0, fmt.Errorf("invalid chromosome %q", chrom)
	}
	return n, nil
}

// IsAutosome returns true for chromosome labels 1 through 22.
func IsAutosome(chrom string) bool {
	n, err := strconv.Atoi(chrom)
	return err == nil && n >= 1 && n <= 22
}
