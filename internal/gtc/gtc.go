// Package gtc reads per-sample genotype call (.gtc) files: a binary
// container indexed by a table of contents holding raw intensities,
// normalization transforms and the original genotype calls.
package gtc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sort"
)

// Magic is the three-byte signature at the start of every file.
const Magic = "gtc"

// Table of contents field ids.
const (
	IDSampleName              = 10
	IDSamplePlate             = 11
	IDSampleWell              = 12
	IDClusterFile             = 100
	IDSNPManifest             = 101
	IDImagingDate             = 200
	IDAutoCallDate            = 201
	IDAutoCallVersion         = 300
	IDNormalizationTransforms = 400
	IDRawX                    = 1000
	IDRawY                    = 1001
	IDGenotypes               = 1002
	IDBaseCalls               = 1003
)

// Original genotype codes.
const (
	CodeNoCall = 0
	CodeAA     = 1
	CodeAB     = 2
	CodeBB     = 3
)

// transformSize is the size in bytes of one normalization transform entry:
// a 4-byte version followed by 12 float32 values.
const transformSize = 4 + 12*4

// File holds the decoded fields of a sample file.
type File struct {
	Version byte

	Name            string
	Plate           string
	Well            string
	ClusterFile     string
	Manifest        string
	ImagingDate     string
	AutoCallDate    string
	AutoCallVersion string

	RawX       []uint16
	RawY       []uint16
	Transforms []Transform
	Genotypes  []int8
	BaseCalls  []string
}

// Len returns the number of variants in the file.
func (f *File) Len() int {
	return len(f.RawX)
}

// Sample is a decoded sample file together with its normalized intensities.
type Sample struct {
	File
	NormX []float64
	NormY []float64
}

// Open reads and normalizes the sample file at path. normIDs holds the
// normalization bin id of every variant in manifest order.
func Open(path string, normIDs []int) (*Sample, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read gtc: %w", err)
	}
	s, err := Parse(data, normIDs)
	if err != nil {
		return nil, fmt.Errorf("parse gtc %s: %w", path, err)
	}
	return s, nil
}

// Parse decodes a sample file and normalizes its intensities.
func Parse(data []byte, normIDs []int) (*Sample, error) {
	f, err := Decode(data)
	if err != nil {
		return nil, err
	}
	x, y, err := Normalize(f, normIDs)
	if err != nil {
		return nil, err
	}
	return &Sample{File: *f, NormX: x, NormY: y}, nil
}

// Decode decodes the fields of a sample file without normalizing.
func Decode(data []byte) (*File, error) {
	toc, version, err := parseTOC(data)
	if err != nil {
		return nil, err
	}
	d := &decoder{data: data, toc: toc}
	f := &File{Version: version}

	f.Name = d.optionalString(IDSampleName)
	f.Plate = d.optionalString(IDSamplePlate)
	f.Well = d.optionalString(IDSampleWell)
	f.ClusterFile = d.optionalString(IDClusterFile)
	f.Manifest = d.optionalString(IDSNPManifest)
	f.ImagingDate = d.optionalString(IDImagingDate)
	f.AutoCallDate = d.optionalString(IDAutoCallDate)
	f.AutoCallVersion = d.optionalString(IDAutoCallVersion)

	f.RawX = d.uint16s(IDRawX)
	f.RawY = d.uint16s(IDRawY)
	f.Transforms = d.transforms(IDNormalizationTransforms)
	f.Genotypes = d.int8s(IDGenotypes)
	if _, ok := toc[IDBaseCalls]; ok {
		f.BaseCalls = d.baseCalls(IDBaseCalls)
	}
	if d.err != nil {
		return nil, d.err
	}

	if len(f.RawY) != len(f.RawX) {
		return nil, &FormatError{Field: IDRawY, Message: fmt.Sprintf("have %d Y intensities for %d X intensities", len(f.RawY), len(f.RawX))}
	}
	if len(f.Genotypes) != len(f.RawX) {
		return nil, &FormatError{Field: IDGenotypes, Message: fmt.Sprintf("have %d genotypes for %d intensities", len(f.Genotypes), len(f.RawX))}
	}
	for i, g := range f.Genotypes {
		if g < CodeNoCall || g > CodeBB {
			return nil, &FormatError{Field: IDGenotypes, Message: fmt.Sprintf("genotype code %d at variant %d out of range", g, i)}
		}
	}
	return f, nil
}

// Normalize applies the per-bin normalization transforms to the raw
// intensities. Transform i belongs to the i-th smallest distinct bin id.
func Normalize(f *File, normIDs []int) (x, y []float64, err error) {
	if len(normIDs) != f.Len() {
		return nil, nil, fmt.Errorf("have %d normalization ids for %d variants", len(normIDs), f.Len())
	}

	distinct := distinctSorted(normIDs)
	if len(f.Transforms) < len(distinct) {
		return nil, nil, &FormatError{
			Field:   IDNormalizationTransforms,
			Message: fmt.Sprintf("have %d transforms for %d normalization bins", len(f.Transforms), len(distinct)),
		}
	}
	byID := make(map[int]Transform, len(distinct))
	for i, id := range distinct {
		byID[id] = f.Transforms[i]
	}

	x = make([]float64, f.Len())
	y = make([]float64, f.Len())
	for i := range f.RawX {
		x[i], y[i] = byID[normIDs[i]].Apply(f.RawX[i], f.RawY[i])
	}
	return x, y, nil
}

func distinctSorted(ids []int) []int {
	seen := make(map[int]bool)
	var out []int
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Ints(out)
	return out
}

// MarshalBinary encodes the file with a table of contents followed by
// each field. String fields are written only when non-empty.
func (f *File) MarshalBinary() ([]byte, error) {
	type entry struct {
		id   int16
		body []byte
	}
	le := binary.LittleEndian
	str := func(s string) []byte {
		return append(binary.AppendUvarint(nil, uint64(len(s))), s...)
	}
	count := func(n int) []byte {
		return le.AppendUint32(nil, uint32(int32(n)))
	}

	var entries []entry
	for _, s := range []struct {
		id int16
		v  string
	}{
		{IDSampleName, f.Name},
		{IDSamplePlate, f.Plate},
		{IDSampleWell, f.Well},
		{IDClusterFile, f.ClusterFile},
		{IDSNPManifest, f.Manifest},
		{IDImagingDate, f.ImagingDate},
		{IDAutoCallDate, f.AutoCallDate},
		{IDAutoCallVersion, f.AutoCallVersion},
	} {
		if s.v != "" {
			entries = append(entries, entry{s.id, str(s.v)})
		}
	}

	for _, arr := range []struct {
		id int16
		v  []uint16
	}{{IDRawX, f.RawX}, {IDRawY, f.RawY}} {
		b := count(len(arr.v))
		for _, v := range arr.v {
			b = le.AppendUint16(b, v)
		}
		entries = append(entries, entry{arr.id, b})
	}

	b := count(len(f.Transforms))
	for _, t := range f.Transforms {
		b = le.AppendUint32(b, 1)
		vals := [12]float32{
			float32(t.OffsetX), float32(t.OffsetY), float32(t.ScaleX),
			float32(t.ScaleY), float32(t.Shear), float32(t.Theta),
		}
		for _, v := range vals {
			b = le.AppendUint32(b, math.Float32bits(v))
		}
	}
	entries = append(entries, entry{IDNormalizationTransforms, b})

	b = count(len(f.Genotypes))
	for _, g := range f.Genotypes {
		b = append(b, byte(g))
	}
	entries = append(entries, entry{IDGenotypes, b})

	if f.BaseCalls != nil {
		b = count(len(f.BaseCalls))
		for _, c := range f.BaseCalls {
			if len(c) != 2 {
				return nil, fmt.Errorf("base call %q is not two bytes", c)
			}
			b = append(b, c...)
		}
		entries = append(entries, entry{IDBaseCalls, b})
	}

	var buf bytes.Buffer
	buf.WriteString(Magic)
	buf.WriteByte(f.Version)
	buf.Write(count(len(entries)))

	offset := uint32(buf.Len() + tocEntrySize*len(entries))
	for _, e := range entries {
		buf.Write(le.AppendUint16(nil, uint16(e.id)))
		buf.Write(le.AppendUint32(nil, offset))
		offset += uint32(len(e.body))
	}
	for _, e := range entries {
		buf.Write(e.body)
	}
	return buf.Bytes(), nil
}
