package threshold

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/stat"
)

// Relation indexes one of the four fitted linear relations between the
// common and minor homozygote cluster statistics.
type Relation int

const (
	MeanYOnMeanX Relation = iota // meanY ~ meanX
	MeanXOnMeanY                 // meanX ~ meanY
	SDYOnSDX                     // sdY ~ sdX
	SDXOnSDY                     // sdX ~ sdY
)

var relationNames = [...]string{"meanY~meanX", "meanX~meanY", "sdY~sdX", "sdX~sdY"}

func (r Relation) String() string {
	if r < 0 || int(r) >= len(relationNames) {
		return fmt.Sprintf("Relation(%d)", int(r))
	}
	return relationNames[r]
}

// Coefficients of a simple linear fit y = Intercept + Slope*x.
type Coefficients struct {
	Intercept float64
	Slope     float64
}

// Predict evaluates the fitted line at x.
func (c Coefficients) Predict(x float64) float64 {
	return c.Slope*x + c.Intercept
}

// Betas holds the four fitted relations indexed by Relation.
type Betas [4]Coefficients

// IdentityBetas maps every statistic onto itself.
var IdentityBetas = Betas{{0, 1}, {0, 1}, {0, 1}, {0, 1}}

// RegressionSolver fits y against x.
type RegressionSolver interface {
	Fit(x, y []float64) (Coefficients, error)
}

// ErrDegenerateFit is returned when a regression has too few points or
// no variance in x.
var ErrDegenerateFit = errors.New("degenerate regression")

// OLS is an ordinary least squares solver.
type OLS struct{}

// Fit returns the least squares line through (x, y).
func (OLS) Fit(x, y []float64) (Coefficients, error) {
	if len(x) != len(y) {
		return Coefficients{}, fmt.Errorf("have %d x values for %d y values", len(x), len(y))
	}
	if len(x) < 2 {
		return Coefficients{}, fmt.Errorf("%w: %d points", ErrDegenerateFit, len(x))
	}
	if stat.Variance(x, nil) == 0 {
		return Coefficients{}, fmt.Errorf("%w: x has zero variance", ErrDegenerateFit)
	}
	alpha, beta := stat.LinearRegression(x, y, nil, false)
	return Coefficients{Intercept: alpha, Slope: beta}, nil
}

// FitBetas fits the four relations over the extracted cluster rows.
func FitBetas(rows []MeanSD, solver RegressionSolver) (Betas, error) {
	meanX := make([]float64, len(rows))
	meanY := make([]float64, len(rows))
	sdX := make([]float64, len(rows))
	sdY := make([]float64, len(rows))
	for i, r := range rows {
		meanX[i], meanY[i], sdX[i], sdY[i] = r.MeanX, r.MeanY, r.SDX, r.SDY
	}

	var b Betas
	fits := [4]struct{ x, y []float64 }{
		MeanYOnMeanX: {meanX, meanY},
		MeanXOnMeanY: {meanY, meanX},
		SDYOnSDX:     {sdX, sdY},
		SDXOnSDY:     {sdY, sdX},
	}
	for rel, f := range fits {
		c, err := solver.Fit(f.x, f.y)
		if err != nil {
			return Betas{}, fmt.Errorf("fit %s: %w", Relation(rel), err)
		}
		b[rel] = c
	}
	return b, nil
}

// WriteBetas writes the fitted relations as a tab-delimited table with a
// "Beta0 Beta1" header.
func WriteBetas(w io.Writer, b Betas) error {
	bw := bufio.NewWriter(w)
	bw.WriteString("Relation\tBeta0\tBeta1\n")
	for rel, c := range b {
		fmt.Fprintf(bw, "%s\t%s\t%s\n", Relation(rel),
			strconv.FormatFloat(c.Intercept, 'g', -1, 64),
			strconv.FormatFloat(c.Slope, 'g', -1, 64))
	}
	return bw.Flush()
}

// ReadBetas reads a table written by WriteBetas. Rows are taken in order;
// the header line is any line containing "Beta0".
func ReadBetas(r io.Reader) (Betas, error) {
	var b Betas
	n := 0
	err := scanLines(r, func(line int, text string) error {
		if strings.Contains(text, "Beta0") || text == "" {
			return nil
		}
		fields := strings.Split(text, "\t")
		if len(fields) < 3 {
			return &ParseError{Line: line, Message: "expected 3 fields"}
		}
		if n >= len(b) {
			return &ParseError{Line: line, Message: "more than 4 relations"}
		}
		b0, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return &ParseError{Line: line, Message: "invalid Beta0: " + fields[1]}
		}
		b1, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return &ParseError{Line: line, Message: "invalid Beta1: " + fields[2]}
		}
		b[n] = Coefficients{Intercept: b0, Slope: b1}
		n++
		return nil
	})
	if err != nil {
		return Betas{}, err
	}
	if n != len(b) {
		return Betas{}, fmt.Errorf("read betas: have %d relations, want %d", n, len(b))
	}
	return b, nil
}
