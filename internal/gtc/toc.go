package gtc

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

const (
	headerSize   = 8 // magic, version, ToC count
	tocEntrySize = 6 // int16 id, uint32 offset

	maxTOCEntries = 1 << 16
)

// parseTOC reads the table of contents, mapping field id to byte offset.
func parseTOC(data []byte) (map[int]uint32, byte, error) {
	if len(data) < headerSize {
		return nil, 0, &FormatError{Message: "file too short for header"}
	}
	if string(data[:3]) != Magic {
		return nil, 0, &FormatError{Message: fmt.Sprintf("bad magic %q", data[:3])}
	}
	version := data[3]

	n := int32(binary.LittleEndian.Uint32(data[4:]))
	if n < 0 || int64(n)*tocEntrySize > int64(len(data)-headerSize) {
		return nil, 0, &FormatError{Message: fmt.Sprintf("invalid table of contents count %d", n)}
	}

	toc := make(map[int]uint32, n)
	p := data[headerSize:]
	for i := 0; i < int(n); i++ {
		id := int(int16(binary.LittleEndian.Uint16(p)))
		toc[id] = binary.LittleEndian.Uint32(p[2:])
		p = p[tocEntrySize:]
	}
	return toc, version, nil
}

// VariantCount returns the number of variants in the sample file at path,
// reading only the table of contents and the raw X array length.
func VariantCount(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open gtc: %w", err)
	}
	defer f.Close()

	n, err := ReadVariantCount(f)
	if err != nil {
		return 0, fmt.Errorf("read gtc %s: %w", path, err)
	}
	return n, nil
}

// ReadVariantCount reads the variant count from a sample file.
func ReadVariantCount(r io.ReaderAt) (int, error) {
	var hdr [headerSize]byte
	if _, err := r.ReadAt(hdr[:], 0); err != nil {
		return 0, &FormatError{Message: "file too short for header"}
	}
	if string(hdr[:3]) != Magic {
		return 0, &FormatError{Message: fmt.Sprintf("bad magic %q", hdr[:3])}
	}
	n := int32(binary.LittleEndian.Uint32(hdr[4:]))
	if n < 0 || n > maxTOCEntries {
		return 0, &FormatError{Message: fmt.Sprintf("invalid table of contents count %d", n)}
	}

	entries := make([]byte, int(n)*tocEntrySize)
	if _, err := r.ReadAt(entries, headerSize); err != nil {
		return 0, &FormatError{Message: "truncated table of contents"}
	}
	for i := 0; i < int(n); i++ {
		e := entries[i*tocEntrySize:]
		if int16(binary.LittleEndian.Uint16(e)) != IDRawX {
			continue
		}
		var cnt [4]byte
		if _, err := r.ReadAt(cnt[:], int64(binary.LittleEndian.Uint32(e[2:]))); err != nil {
			return 0, &FormatError{Field: IDRawX, Message: "offset out of range"}
		}
		c := int32(binary.LittleEndian.Uint32(cnt[:]))
		if c < 0 {
			return 0, &FormatError{Field: IDRawX, Message: fmt.Sprintf("negative count %d", c)}
		}
		return int(c), nil
	}
	return 0, &FormatError{Field: IDRawX, Message: "missing from table of contents"}
}

// decoder reads fields located through the table of contents and keeps
// the first error.
type decoder struct {
	data []byte
	toc  map[int]uint32
	err  error
}

// section returns the bytes starting at the offset of field id.
func (d *decoder) section(id int) []byte {
	if d.err != nil {
		return nil
	}
	off, ok := d.toc[id]
	if !ok {
		d.err = &FormatError{Field: id, Message: "missing from table of contents"}
		return nil
	}
	if int64(off) >= int64(len(d.data)) {
		d.err = &FormatError{Field: id, Message: fmt.Sprintf("offset %d out of range", off)}
		return nil
	}
	return d.data[off:]
}

// array returns the element count and body of a count-prefixed array.
func (d *decoder) array(id, elemSize int) (int, []byte) {
	p := d.section(id)
	if d.err != nil {
		return 0, nil
	}
	if len(p) < 4 {
		d.err = &FormatError{Field: id, Message: "truncated count"}
		return 0, nil
	}
	n := int32(binary.LittleEndian.Uint32(p))
	if n < 0 || int64(n)*int64(elemSize) > int64(len(p)-4) {
		d.err = &FormatError{Field: id, Message: fmt.Sprintf("count %d exceeds file size", n)}
		return 0, nil
	}
	return int(n), p[4 : 4+int(n)*elemSize]
}

func (d *decoder) optionalString(id int) string {
	if _, ok := d.toc[id]; !ok || d.err != nil {
		return ""
	}
	p := d.section(id)
	if d.err != nil {
		return ""
	}
	n, k := binary.Uvarint(p)
	if k <= 0 || n > uint64(len(p)-k) {
		d.err = &FormatError{Field: id, Message: "truncated string"}
		return ""
	}
	return string(p[k : k+int(n)])
}

func (d *decoder) uint16s(id int) []uint16 {
	n, p := d.array(id, 2)
	if d.err != nil {
		return nil
	}
	out := make([]uint16, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint16(p[2*i:])
	}
	return out
}

func (d *decoder) int8s(id int) []int8 {
	n, p := d.array(id, 1)
	if d.err != nil {
		return nil
	}
	out := make([]int8, n)
	for i := range out {
		out[i] = int8(p[i])
	}
	return out
}

func (d *decoder) baseCalls(id int) []string {
	n, p := d.array(id, 2)
	if d.err != nil {
		return nil
	}
	out := make([]string, n)
	for i := range out {
		out[i] = string(p[2*i : 2*i+2])
	}
	return out
}

func (d *decoder) transforms(id int) []Transform {
	n, p := d.array(id, transformSize)
	if d.err != nil {
		return nil
	}
	f32 := func(b []byte) float64 {
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	}
	out := make([]Transform, n)
	for i := range out {
		// Skip the 4-byte version of each entry.
		e := p[i*transformSize+4:]
		out[i] = Transform{
			OffsetX: f32(e[0:]),
			OffsetY: f32(e[4:]),
			ScaleX:  f32(e[8:]),
			ScaleY:  f32(e[12:]),
			Shear:   f32(e[16:]),
			Theta:   f32(e[20:]),
		}
	}
	return out
}

// FormatError reports a malformed field in a sample file. Field is the
// table of contents id, or 0 for the header.
type FormatError struct {
	Field   int
	Message string
}

func (e *FormatError) Error() string {
	if e.Field == 0 {
		return fmt.Sprintf("gtc format error: %s", e.Message)
	}
	return fmt.Sprintf("gtc format error in field %d: %s", e.Field, e.Message)
}
