// Package genotype recalls genotypes from normalized intensities using
// per-variant thresholds and measures how the recalled genotypes compare
// with the original calls.
package genotype

import "fmt"

// Call is a genotype call code.
type Call int8

const (
	NoCall Call = 0
	HomA   Call = 1 // common homozygote, lower right quadrant
	Het    Call = 2
	HomB   Call = 3 // minor homozygote, upper left quadrant
)

func (c Call) String() string {
	switch c {
	case NoCall:
		return "NC"
	case HomA:
		return "AA"
	case Het:
		return "AB"
	case HomB:
		return "BB"
	}
	return fmt.Sprintf("Call(%d)", int8(c))
}

// Valid reports whether c is one of the four call codes.
func (c Call) Valid() bool {
	return c >= NoCall && c <= HomB
}

// FromCodes converts original genotype codes to calls.
func FromCodes(codes []int8) ([]Call, error) {
	out := make([]Call, len(codes))
	for i, code := range codes {
		c := Call(code)
		if !c.Valid() {
			return nil, fmt.Errorf("genotype code %d at variant %d out of range", code, i)
		}
		out[i] = c
	}
	return out, nil
}

// Classify assigns a call by the quadrant of (x, y) relative to the
// thresholds. Ties on Tx fall to the right and ties on Ty go to HomA
// before HomB.
func Classify(x, y, tx, ty float64) Call {
	switch {
	case x < tx && y < ty:
		return NoCall
	case x >= tx && y <= ty:
		return HomA
	case x < tx && y >= ty:
		return HomB
	default:
		return Het
	}
}

// NormalizeOrientation relabels c so that HomA is always the common
// homozygote: HomA and HomB swap when nBB > nAA.
func NormalizeOrientation(c Call, nAA, nBB int) Call {
	if nBB <= nAA {
		return c
	}
	switch c {
	case HomA:
		return HomB
	case HomB:
		return HomA
	}
	return c
}
