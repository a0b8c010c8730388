package plink

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/inodb/zcall/internal/genotype"
	"github.com/inodb/zcall/internal/manifest"
)

// Missing is the placeholder for unknown parent, sex and phenotype fields.
const Missing = "-9"

// Individual is one sample row of a .fam or .ped file. The family and
// individual ids are both set to ID.
type Individual struct {
	ID  string
	Sex int
}

func (ind Individual) fields() []string {
	return []string{ind.ID, ind.ID, Missing, Missing, strconv.Itoa(ind.Sex), Missing}
}

// WriteBim writes one row per variant in sorted order with numeric
// chromosome codes: chrom, name, 0, position, allele A, allele B.
func WriteBim(w io.Writer, m *manifest.Manifest, sm SortMap) error {
	if len(sm) != m.Len() {
		return fmt.Errorf("write bim: sort map covers %d of %d variants", len(sm), m.Len())
	}
	bw := bufio.NewWriter(w)
	for _, i := range sm.Order() {
		v := &m.Variants[i]
		chrom, err := v.NumericChrom()
		if err != nil {
			return fmt.Errorf("write bim: %w", err)
		}
		fmt.Fprintf(bw, "%d\t%s\t0\t%d\t%s\t%s\n", chrom, v.Name, v.Pos, v.AlleleA, v.AlleleB)
	}
	return bw.Flush()
}

// WriteFam writes one space-delimited row per individual.
func WriteFam(w io.Writer, individuals []Individual) error {
	bw := bufio.NewWriter(w)
	for _, ind := range individuals {
		bw.WriteString(strings.Join(ind.fields(), " ") + "\n")
	}
	return bw.Flush()
}

// WriteMap writes the unsorted .map companion of a .ped file.
func WriteMap(w io.Writer, m *manifest.Manifest) error {
	bw := bufio.NewWriter(w)
	for _, v := range m.Variants {
		fmt.Fprintf(bw, "%s\t%s\t0\t%d\n", v.Chrom, v.Name, v.Pos)
	}
	return bw.Flush()
}

// PedWriter writes text genotype rows in manifest order, one individual
// per line, spelling each call with the manifest alleles.
type PedWriter struct {
	w *bufio.Writer
	m *manifest.Manifest
}

// NewPedWriter creates a .ped writer over the variants of m.
func NewPedWriter(w io.Writer, m *manifest.Manifest) *PedWriter {
	return &PedWriter{w: bufio.NewWriter(w), m: m}
}

// Write writes the calls of one individual.
func (pw *PedWriter) Write(ind Individual, calls []genotype.Call) error {
	if len(calls) != pw.m.Len() {
		return fmt.Errorf("write ped %s: have %d calls for %d variants", ind.ID, len(calls), pw.m.Len())
	}
	fields := ind.fields()
	for i, c := range calls {
		a, b := pw.m.Variants[i].AlleleA, pw.m.Variants[i].AlleleB
		switch c {
		case genotype.HomA:
			fields = append(fields, a+" "+a)
		case genotype.Het:
			fields = append(fields, a+" "+b)
		case genotype.HomB:
			fields = append(fields, b+" "+b)
		default:
			fields = append(fields, "0 0")
		}
	}
	_, err := pw.w.WriteString(strings.Join(fields, "\t") + "\n")
	return err
}

// Flush flushes any buffered data to the underlying writer.
func (pw *PedWriter) Flush() error {
	return pw.w.Flush()
}

// ReadFam reads the individuals of a .fam file.
func ReadFam(r io.Reader) ([]Individual, error) {
	var out []Individual
	err := readFields(r, func(line int, fields []string) error {
		if len(fields) < 6 {
			return fmt.Errorf("fam line %d: have %d fields, want 6", line, len(fields))
		}
		sex, err := strconv.Atoi(fields[4])
		if err != nil {
			return fmt.Errorf("fam line %d: invalid sex %q", line, fields[4])
		}
		out = append(out, Individual{ID: fields[1], Sex: sex})
		return nil
	})
	return out, err
}

// ReadBimNames reads the variant names of a .bim file in file order.
func ReadBimNames(r io.Reader) ([]string, error) {
	var out []string
	err := readFields(r, func(line int, fields []string) error {
		if len(fields) < 6 {
			return fmt.Errorf("bim line %d: have %d fields, want 6", line, len(fields))
		}
		out = append(out, fields[1])
		return nil
	})
	return out, err
}

// readFields calls fn with the whitespace-separated fields of each
// non-empty line.
func readFields(r io.Reader, fn func(line int, fields []string) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if err := fn(line, fields); err != nil {
			return err
		}
	}
	return sc.Err()
}
