// Package plink encodes genotype calls as PLINK binary genotype matrices
// (.bed) with their variant (.bim) and sample (.fam) companions.
package plink

import (
	"fmt"

	"github.com/inodb/zcall/internal/genotype"
)

// Magic is the two-byte signature of a .bed file.
var Magic = [2]byte{0x6c, 0x1b}

// Mode is the third header byte: the matrix orientation.
type Mode byte

const (
	IndividualMajor Mode = 0x00
	SNPMajor        Mode = 0x01
)

func (m Mode) String() string {
	switch m {
	case IndividualMajor:
		return "individual-major"
	case SNPMajor:
		return "snp-major"
	}
	return fmt.Sprintf("Mode(%#02x)", byte(m))
}

// ParseMode parses the name returned by Mode.String.
func ParseMode(s string) (Mode, error) {
	for _, m := range []Mode{SNPMajor, IndividualMajor} {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown matrix layout %q (want snp-major or individual-major)", s)
}

// Two-bit codes, least significant pair first within each byte.
const (
	codeHomA   = 0b00
	codeNoCall = 0b01
	codeHet    = 0b10
	codeHomB   = 0b11
)

var callToCode = [4]byte{
	genotype.NoCall: codeNoCall,
	genotype.HomA:   codeHomA,
	genotype.Het:    codeHet,
	genotype.HomB:   codeHomB,
}

var codeToCall = [4]genotype.Call{
	codeHomA:   genotype.HomA,
	codeNoCall: genotype.NoCall,
	codeHet:    genotype.Het,
	codeHomB:   genotype.HomB,
}

// PackedLen returns the number of bytes holding n calls.
func PackedLen(n int) int {
	return (n + 3) / 4
}

// PackCalls packs four calls per byte, the i-th call of each group in
// bits 2i and 2i+1. The last byte is padded with no-calls.
func PackCalls(calls []genotype.Call) ([]byte, error) {
	out := make([]byte, PackedLen(len(calls)))
	if err := packInto(out, calls); err != nil {
		return nil, err
	}
	return out, nil
}

func packInto(dst []byte, calls []genotype.Call) error {
	for i := range dst {
		// Pad pairs default to no-call.
		dst[i] = 0b01010101
	}
	for i, c := range calls {
		if !c.Valid() {
			return &RangeError{Message: fmt.Sprintf("call %d at index %d out of range", c, i)}
		}
		shift := 2 * uint(i%4)
		dst[i/4] = dst[i/4]&^(0b11<<shift) | callToCode[c]<<shift
	}
	return nil
}

// UnpackCalls returns the first n calls packed in b.
func UnpackCalls(b []byte, n int) ([]genotype.Call, error) {
	if n < 0 || PackedLen(n) != len(b) {
		return nil, &RangeError{Message: fmt.Sprintf("%d bytes cannot hold exactly %d calls", len(b), n)}
	}
	out := make([]genotype.Call, n)
	for i := range out {
		out[i] = callAt(b, i)
	}
	return out, nil
}

func callAt(b []byte, i int) genotype.Call {
	return codeToCall[(b[i/4]>>(2*uint(i%4)))&0b11]
}

// RangeError reports an invalid call code, header or matrix size.
type RangeError struct {
	Message string
}

func (e *RangeError) Error() string {
	return "plink range error: " + e.Message
}
