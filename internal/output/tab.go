// Package output provides tab-delimited writers for evaluation results.
package output

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/inodb/zcall/internal/genotype"
)

// TabWriter writes per-sample evaluation metrics in tab-delimited format.
type TabWriter struct {
	w       *bufio.Writer
	columns []string
	digits  int
}

// NewTabWriter creates a new tab-delimited metrics writer. Rates are
// written with the given number of decimal places, or the shortest
// representation when digits < 0.
func NewTabWriter(w io.Writer, digits int) *TabWriter {
	columns := []string{
		"#Sample",
		"Z",
		"Included",
		"Total",
		"Concordance",
		"Gain",
	}
	for i := genotype.NoCall; i <= genotype.HomB; i++ {
		for j := genotype.NoCall; j <= genotype.HomB; j++ {
			columns = append(columns, i.String()+">"+j.String())
		}
	}
	return &TabWriter{w: bufio.NewWriter(w), columns: columns, digits: digits}
}

// WriteHeader writes the header line.
func (tw *TabWriter) WriteHeader() error {
	_, err := tw.w.WriteString(strings.Join(tw.columns, "\t") + "\n")
	return err
}

// Write writes the metrics of one sample at one z score.
func (tw *TabWriter) Write(m genotype.SampleMetrics) error {
	values := make([]string, 0, len(tw.columns))
	values = append(values,
		m.Sample,
		strconv.Itoa(m.Z),
		strconv.Itoa(m.Included),
		strconv.Itoa(m.Total),
		tw.rate(m.Concordance),
		tw.rate(m.Gain),
	)
	for _, row := range m.Counts {
		for _, n := range row {
			values = append(values, strconv.Itoa(n))
		}
	}

	_, err := tw.w.WriteString(strings.Join(values, "\t") + "\n")
	return err
}

// Flush flushes any buffered data to the underlying writer.
func (tw *TabWriter) Flush() error {
	return tw.w.Flush()
}

func (tw *TabWriter) rate(v float64) string {
	if tw.digits < 0 {
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strconv.FormatFloat(v, 'f', tw.digits, 64)
}

// WriteSummary writes mean concordance and gain per z score, marking the
// chosen z with an asterisk.
func WriteSummary(w io.Writer, means []genotype.ZMean, best int) error {
	bw := bufio.NewWriter(w)
	bw.WriteString("#Z\tMeanConcordance\tMeanGain\tBest\n")
	for _, m := range means {
		mark := ""
		if m.Z == best {
			mark = "*"
		}
		fmt.Fprintf(bw, "%d\t%.6f\t%.6f\t%s\n", m.Z, m.Concordance, m.Gain, mark)
	}
	return bw.Flush()
}
