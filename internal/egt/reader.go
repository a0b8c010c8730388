package egt

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

const (
	// recordSize is the size in bytes of one per-variant cluster record.
	recordSize = 30 * 4
	// qualitySize is the size in bytes of one per-variant quality score entry.
	qualitySize = 13
	// maxStringLen bounds length-prefixed strings.
	maxStringLen = 1 << 20
)

// ClusterFile holds the contents of a cluster-statistics file.
type ClusterFile struct {
	FileVersion          int32
	GcVersion            string
	ClusterVersion       string
	CallVersion          string
	NormalizationVersion string
	DateCreated          string
	Mode                 int8
	Manifest             string

	DataVersion int32
	OPA         string

	Records []Record
	Names   []string
}

// Len returns the number of variants in the file.
func (c *ClusterFile) Len() int {
	return len(c.Records)
}

// NumPoints estimates the number of samples used for clustering as the
// largest per-variant cluster total.
func (c *ClusterFile) NumPoints() int {
	n := 0
	for i := range c.Records {
		n = max(n, c.Records[i].NTotal())
	}
	return n
}

// Open reads the cluster file at path.
func Open(path string) (*ClusterFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open egt: %w", err)
	}
	defer f.Close()

	c, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("read egt %s: %w", path, err)
	}
	return c, nil
}

// Read parses a cluster file from r. Fields are read sequentially.
func Read(r io.Reader) (*ClusterFile, error) {
	br := &binReader{r: bufio.NewReader(r)}
	c := &ClusterFile{}

	c.FileVersion = br.readInt32("file version")
	c.GcVersion = br.readString("gc version")
	c.ClusterVersion = br.readString("cluster version")
	c.CallVersion = br.readString("call version")
	c.NormalizationVersion = br.readString("normalization version")
	c.DateCreated = br.readString("date created")
	c.Mode = br.readInt8("mode")
	c.Manifest = br.readString("manifest")

	c.DataVersion = br.readInt32("data version")
	c.OPA = br.readString("opa")
	n := br.readInt32("variant count")
	if br.err != nil {
		return nil, br.err
	}
	if n < 0 {
		return nil, &FormatError{Field: "variant count", Err: fmt.Errorf("negative count %d", n)}
	}

	c.Records = make([]Record, 0, min(int(n), 1<<20))
	buf := make([]byte, recordSize)
	for i := 0; i < int(n); i++ {
		br.read("cluster record", buf)
		if br.err != nil {
			return nil, br.err
		}
		rec, err := parseRecord(buf)
		if err != nil {
			return nil, fmt.Errorf("variant %d: %w", i, err)
		}
		c.Records = append(c.Records, rec)
	}

	// Quality scores and genotype score strings are not used.
	br.skip("quality scores", int64(n)*qualitySize)
	for i := 0; i < int(n) && br.err == nil; i++ {
		br.readString("genotype score")
	}

	c.Names = make([]string, 0, len(c.Records))
	for i := 0; i < int(n) && br.err == nil; i++ {
		c.Names = append(c.Names, br.readString("variant name"))
	}
	if br.err != nil {
		return nil, br.err
	}

	return c, nil
}

// parseRecord decodes one fixed-size cluster record. Cluster counts must
// not be negative.
func parseRecord(b []byte) (Record, error) {
	i32 := func(off int) int { return int(int32(binary.LittleEndian.Uint32(b[off:]))) }
	f32 := func(off int) float64 { return float64(math.Float32frombits(binary.LittleEndian.Uint32(b[off:]))) }

	rec := Record{
		NAA: i32(0),
		NAB: i32(4),
		NBB: i32(8),
		PolarAA: Polar{
			DevR: f32(12), MeanR: f32(24), DevTheta: f32(36), MeanTheta: f32(48),
		},
		PolarAB: Polar{
			DevR: f32(16), MeanR: f32(28), DevTheta: f32(40), MeanTheta: f32(52),
		},
		PolarBB: Polar{
			DevR: f32(20), MeanR: f32(32), DevTheta: f32(44), MeanTheta: f32(56),
		},
	}
	rec.AA = PolarToCartesian(rec.PolarAA)
	rec.AB = PolarToCartesian(rec.PolarAB)
	rec.BB = PolarToCartesian(rec.PolarBB)
	if rec.NAA < 0 || rec.NAB < 0 || rec.NBB < 0 {
		return Record{}, &FormatError{
			Field: "cluster record",
			Err:   fmt.Errorf("negative cluster count (AA %d, AB %d, BB %d)", rec.NAA, rec.NAB, rec.NBB),
		}
	}
	return rec, nil
}

// MarshalBinary encodes the cluster file in the layout Read expects.
// Quality scores are written as zeros and genotype score strings as empty.
func (c *ClusterFile) MarshalBinary() ([]byte, error) {
	if len(c.Names) != len(c.Records) {
		return nil, fmt.Errorf("have %d names for %d records", len(c.Names), len(c.Records))
	}

	var buf bytes.Buffer
	le := binary.LittleEndian
	putString := func(s string) {
		buf.Write(binary.AppendUvarint(nil, uint64(len(s))))
		buf.WriteString(s)
	}

	binary.Write(&buf, le, c.FileVersion)
	putString(c.GcVersion)
	putString(c.ClusterVersion)
	putString(c.CallVersion)
	putString(c.NormalizationVersion)
	putString(c.DateCreated)
	buf.WriteByte(byte(c.Mode))
	putString(c.Manifest)
	binary.Write(&buf, le, c.DataVersion)
	putString(c.OPA)
	binary.Write(&buf, le, int32(len(c.Records)))

	rec := make([]byte, recordSize)
	for i := range c.Records {
		r := &c.Records[i]
		clear(rec)
		le.PutUint32(rec[0:], uint32(int32(r.NAA)))
		le.PutUint32(rec[4:], uint32(int32(r.NAB)))
		le.PutUint32(rec[8:], uint32(int32(r.NBB)))
		for j, p := range []Polar{r.PolarAA, r.PolarAB, r.PolarBB} {
			le.PutUint32(rec[12+4*j:], math.Float32bits(float32(p.DevR)))
			le.PutUint32(rec[24+4*j:], math.Float32bits(float32(p.MeanR)))
			le.PutUint32(rec[36+4*j:], math.Float32bits(float32(p.DevTheta)))
			le.PutUint32(rec[48+4*j:], math.Float32bits(float32(p.MeanTheta)))
		}
		buf.Write(rec)
	}

	buf.Write(make([]byte, qualitySize*len(c.Records)))
	for range c.Records {
		putString("")
	}
	for _, name := range c.Names {
		putString(name)
	}
	return buf.Bytes(), nil
}

// binReader reads little-endian fields and keeps the first error.
type binReader struct {
	r   *bufio.Reader
	err error
}

func (b *binReader) read(field string, p []byte) {
	if b.err != nil {
		return
	}
	if _, err := io.ReadFull(b.r, p); err != nil {
		b.err = &FormatError{Field: field, Err: err}
	}
}

func (b *binReader) skip(field string, n int64) {
	if b.err != nil {
		return
	}
	if _, err := io.CopyN(io.Discard, b.r, n); err != nil {
		b.err = &FormatError{Field: field, Err: err}
	}
}

func (b *binReader) readInt32(field string) int32 {
	var p [4]byte
	b.read(field, p[:])
	return int32(binary.LittleEndian.Uint32(p[:]))
}

func (b *binReader) readInt8(field string) int8 {
	var p [1]byte
	b.read(field, p[:])
	return int8(p[0])
}

// readString reads a string prefixed by its 7-bit variable-length byte count.
func (b *binReader) readString(field string) string {
	if b.err != nil {
		return ""
	}
	n, err := binary.ReadUvarint(b.r)
	if err != nil {
		b.err = &FormatError{Field: field, Err: err}
		return ""
	}
	if n > maxStringLen {
		b.err = &FormatError{Field: field, Err: fmt.Errorf("string length %d too large", n)}
		return ""
	}
	p := make([]byte, n)
	b.read(field, p)
	return string(p)
}

// FormatError reports a malformed or truncated field in a cluster file.
type FormatError struct {
	Field string
	Err   error
}

func (e *FormatError) Error() string {
	if errors.Is(e.Err, io.EOF) || errors.Is(e.Err, io.ErrUnexpectedEOF) {
		return fmt.Sprintf("egt format error: truncated %s", e.Field)
	}
	return fmt.Sprintf("egt format error in %s: %v", e.Field, e.Err)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}
