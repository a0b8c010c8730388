// Package threshold derives per-variant intensity thresholds from a
// cluster model. The betas relating common to minor homozygote clusters
// are fitted on well-behaved common variants and then used to infer the
// minor cluster of every variant.
package threshold

import (
	"fmt"

	"github.com/inodb/zcall/internal/egt"
)

// DefaultMinIntensity is the smallest common homozygote mean intensity
// for which a threshold is computed.
const DefaultMinIntensity = 0.2

// Threshold is a pair of cut-offs on normalized X and Y intensity. The
// zero value is NotApplicable.
type Threshold struct {
	Tx      float64
	Ty      float64
	Defined bool
}

// NotApplicable marks a variant whose calls must never be changed.
var NotApplicable = Threshold{}

// Calibrator computes thresholds from fitted betas.
type Calibrator struct {
	Betas        Betas
	MinIntensity float64
}

// NewCalibrator returns a calibrator with the default intensity floor.
func NewCalibrator(b Betas) *Calibrator {
	return &Calibrator{Betas: b, MinIntensity: DefaultMinIntensity}
}

// Calibrate returns one threshold per record at the given z score.
func (c *Calibrator) Calibrate(records []egt.Record, z int) ([]Threshold, error) {
	if z <= 0 {
		return nil, &RangeError{Z: z}
	}
	out := make([]Threshold, len(records))
	for i := range records {
		out[i] = c.threshold(&records[i], float64(z))
	}
	return out, nil
}

func (c *Calibrator) threshold(r *egt.Record, z float64) Threshold {
	if r.NAA <= 2 && r.NBB <= 2 {
		return NotApplicable
	}

	if r.CommonIsAA() {
		if r.AA.MeanX < c.MinIntensity {
			return NotApplicable
		}
		ty := r.AA.MeanY + z*r.AA.DevY
		meanXBB := c.Betas[MeanXOnMeanY].Predict(r.AA.MeanY)
		devXBB := c.Betas[SDXOnSDY].Predict(r.AA.DevY)
		return Threshold{Tx: meanXBB + z*devXBB, Ty: ty, Defined: true}
	}

	if r.BB.MeanY < c.MinIntensity {
		return NotApplicable
	}
	tx := r.BB.MeanX + z*r.BB.DevX
	meanYAA := c.Betas[MeanYOnMeanX].Predict(r.BB.MeanX)
	devYAA := c.Betas[SDYOnSDX].Predict(r.BB.DevX)
	return Threshold{Tx: tx, Ty: meanYAA + z*devYAA, Defined: true}
}

// RangeError reports a z score that is not a positive integer.
type RangeError struct {
	Z int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("z score %d out of range: must be positive", e.Z)
}
