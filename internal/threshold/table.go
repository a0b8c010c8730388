package threshold

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Table is a thresholds file: one named threshold per variant in cluster
// record order.
type Table struct {
	Names      []string
	Thresholds []Threshold
}

// WriteTable writes thresholds with a "SNP Tx Ty" header. Undefined
// thresholds are written as NA. digits < 0 uses the shortest
// representation.
func WriteTable(w io.Writer, names []string, thresholds []Threshold, digits int) error {
	if len(names) != len(thresholds) {
		return fmt.Errorf("have %d names for %d thresholds", len(names), len(thresholds))
	}
	bw := bufio.NewWriter(w)
	bw.WriteString("SNP\tTx\tTy\n")
	for i, t := range thresholds {
		tx, ty := "NA", "NA"
		if t.Defined {
			tx, ty = formatFloat(t.Tx, digits), formatFloat(t.Ty, digits)
		}
		bw.WriteString(names[i] + "\t" + tx + "\t" + ty + "\n")
	}
	return bw.Flush()
}

// ReadTable reads a thresholds file. Any line containing "Tx" is a header.
func ReadTable(r io.Reader) (*Table, error) {
	t := &Table{}
	err := scanLines(r, func(line int, text string) error {
		if text == "" || strings.Contains(text, "Tx") {
			return nil
		}
		fields := strings.Split(text, "\t")
		if len(fields) != 3 {
			return &ParseError{Line: line, Message: fmt.Sprintf("expected 3 fields, got %d", len(fields))}
		}
		th, err := parseThreshold(fields[1], fields[2])
		if err != nil {
			return &ParseError{Line: line, Message: err.Error()}
		}
		t.Names = append(t.Names, fields[0])
		t.Thresholds = append(t.Thresholds, th)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// OpenTable reads the thresholds file at path.
func OpenTable(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open thresholds: %w", err)
	}
	defer f.Close()

	t, err := ReadTable(f)
	if err != nil {
		return nil, fmt.Errorf("read thresholds %s: %w", path, err)
	}
	return t, nil
}

func parseThreshold(tx, ty string) (Threshold, error) {
	if tx == "NA" || ty == "NA" {
		if tx != ty {
			return Threshold{}, fmt.Errorf("partial NA threshold %s/%s", tx, ty)
		}
		return NotApplicable, nil
	}
	x, err := strconv.ParseFloat(tx, 64)
	if err != nil {
		return Threshold{}, fmt.Errorf("invalid Tx: %s", tx)
	}
	y, err := strconv.ParseFloat(ty, 64)
	if err != nil {
		return Threshold{}, fmt.Errorf("invalid Ty: %s", ty)
	}
	return Threshold{Tx: x, Ty: y, Defined: true}, nil
}

func formatFloat(v float64, digits int) string {
	if digits < 0 {
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strconv.FormatFloat(v, 'f', digits, 64)
}

// FileName returns the conventional thresholds file name for a cluster
// file and z score, e.g. thresholds_HumanExome_z07.txt.
func FileName(egtPath string, z int) string {
	base := filepath.Base(egtPath)
	if ext := filepath.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	return fmt.Sprintf("thresholds_%s_z%02d.txt", base, z)
}

// Index maps z scores to thresholds file paths.
type Index map[int]string

// WriteIndex writes idx as a JSON object keyed by z score.
func WriteIndex(w io.Writer, idx Index) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(idx); err != nil {
		return fmt.Errorf("encode threshold index: %w", err)
	}
	return nil
}

// ReadIndex reads an index written by WriteIndex.
func ReadIndex(r io.Reader) (Index, error) {
	var idx Index
	if err := json.NewDecoder(r).Decode(&idx); err != nil {
		return nil, fmt.Errorf("decode threshold index: %w", err)
	}
	return idx, nil
}

// scanLines calls fn with each line and its 1-based number, trimming a
// trailing carriage return.
func scanLines(r io.Reader, fn func(line int, text string) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if err := fn(line, strings.TrimSuffix(sc.Text(), "\r")); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read line %d: %w", line+1, err)
	}
	return nil
}

// ParseError reports a malformed line in a thresholds, betas or mean/sd table.
type ParseError struct {
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("threshold parse error at line %d: %s", e.Line, e.Message)
}
