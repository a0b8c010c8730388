package gtc

import "math"

// Transform is an affine intensity normalization shared by every variant
// in one normalization bin.
type Transform struct {
	OffsetX float64
	OffsetY float64
	ScaleX  float64
	ScaleY  float64
	Shear   float64
	Theta   float64
}

// Apply normalizes one raw intensity pair: translate by the offsets,
// rotate by theta, remove shear, scale, and clamp at zero.
func (t Transform) Apply(rawX, rawY uint16) (x, y float64) {
	tx := float64(rawX) - t.OffsetX
	ty := float64(rawY) - t.OffsetY

	sin, cos := math.Sincos(t.Theta)
	rx := cos*tx + sin*ty
	ry := -sin*tx + cos*ty

	rx -= t.Shear * ry

	x = max(0, rx/t.ScaleX)
	y = max(0, ry/t.ScaleY)
	return x, y
}
