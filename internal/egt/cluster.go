// Package egt reads cluster-statistics (.egt) files: per-variant genotype
// cluster sizes and polar-coordinate cluster positions, converted to
// Cartesian intensity space.
package egt

import "math"

// Polar holds a cluster position as stored in the file: mean and standard
// deviation of the intensity radius R and of the normalized angle theta.
type Polar struct {
	MeanR     float64
	DevR      float64
	MeanTheta float64
	DevTheta  float64
}

// Cluster holds a cluster position in normalized X/Y intensity space.
type Cluster struct {
	MeanX float64
	MeanY float64
	DevX  float64
	DevY  float64
}

// Record holds the cluster statistics of a single variant.
type Record struct {
	NAA int // Points in the AA cluster
	NAB int // Points in the AB cluster
	NBB int // Points in the BB cluster

	PolarAA Polar
	PolarAB Polar
	PolarBB Polar

	AA Cluster
	AB Cluster
	BB Cluster
}

// NTotal returns the number of clustered points across all three clusters.
func (r *Record) NTotal() int {
	return r.NAA + r.NAB + r.NBB
}

// CommonIsAA reports whether AA is the common homozygote cluster.
// Ties resolve toward AA.
func (r *Record) CommonIsAA() bool {
	return r.NAA >= r.NBB
}

// PolarToCartesian converts a polar cluster position to X/Y intensity
// space. Standard deviations are propagated to first order:
//
//	A = -(f*R) * (1+tan(f*theta))^-2 * 1/cos(f*theta)^2,  f = pi/2
//	B = 1 / (1+tan(f*theta))
//	varX = A^2*varTheta + B^2*varR
//	varY = (-A)^2*varTheta + (1-B)^2*varR
func PolarToCartesian(p Polar) Cluster {
	varTheta := p.DevTheta * p.DevTheta
	varR := p.DevR * p.DevR

	f := math.Pi / 2
	tan := math.Tan(f * p.MeanTheta)
	cos := math.Cos(f * p.MeanTheta)

	a := -1 * (f * p.MeanR) * math.Pow(1+tan, -2) * (1 / (cos * cos))
	b := 1 / (1 + tan)
	varX := a*a*varTheta + b*b*varR
	c := -1 * a
	d := 1 - b
	varY := c*c*varTheta + d*d*varR

	meanX := p.MeanR / (1 + tan)
	meanY := p.MeanR - meanX

	return Cluster{
		MeanX: meanX,
		MeanY: meanY,
		DevX:  math.Sqrt(varX),
		DevY:  math.Sqrt(varY),
	}
}
