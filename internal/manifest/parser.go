package manifest

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Manifest column positions.
const (
	ColName    = 1
	ColChrom   = 2
	ColPos     = 3
	ColAlleles = 5
	ColNormID  = 8
)

// headerMarker identifies the header line.
const headerMarker = "Chromosome"

// Parser reads variants from a manifest file.
type Parser struct {
	reader     *bufio.Reader
	file       *os.File
	gzipReader *gzip.Reader
	lineNumber int
}

// NewParser creates a new manifest parser for the given file.
// Supports both plain and gzipped (.bpm.csv.gz) manifests.
func NewParser(path string) (*Parser, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}

	p := &Parser{file: file}

	buf := make([]byte, 2)
	n, err := file.Read(buf)
	if err != nil && err != io.EOF {
		file.Close()
		return nil, fmt.Errorf("read manifest header: %w", err)
	}

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		file.Close()
		return nil, fmt.Errorf("seek manifest: %w", err)
	}

	// Check for gzip magic number (0x1f, 0x8b)
	if n == 2 && buf[0] == 0x1f && buf[1] == 0x8b {
		p.gzipReader, err = gzip.NewReader(file)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("create gzip reader: %w", err)
		}
		p.reader = bufio.NewReader(p.gzipReader)
	} else {
		p.reader = bufio.NewReader(file)
	}

	return p, nil
}

// NewParserFromReader creates a parser from an io.Reader.
func NewParserFromReader(r io.Reader) *Parser {
	return &Parser{reader: bufio.NewReader(r)}
}

// Next reads the next variant from the manifest.
// Returns nil, nil when there are no more variants.
func (p *Parser) Next() (*Variant, error) {
	for {
		line, err := p.reader.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			if err == io.EOF {
				return nil, nil
			}
			return nil, fmt.Errorf("read manifest line: %w", err)
		}
		p.lineNumber++

		line = strings.TrimRight(line, "\r\n")
		if line == "" || strings.Contains(line, headerMarker) {
			continue
		}
		return p.parseLine(line)
	}
}

// parseLine parses a single data line into a Variant.
func (p *Parser) parseLine(line string) (*Variant, error) {
	fields := strings.Split(line, ",")
	if len(fields) <= ColNormID {
		return nil, &ParseError{
			Line:    p.lineNumber,
			Message: fmt.Sprintf("expected at least %d fields, found %d", ColNormID+1, len(fields)),
		}
	}

	pos, err := strconv.ParseInt(strings.TrimSpace(fields[ColPos]), 10, 64)
	if err != nil {
		return nil, &ParseError{
			Line:    p.lineNumber,
			Message: fmt.Sprintf("invalid position: %s", fields[ColPos]),
		}
	}

	a, b, ok := parseAlleles(fields[ColAlleles])
	if !ok {
		return nil, &ParseError{
			Line:    p.lineNumber,
			Message: fmt.Sprintf("invalid allele pair: %s", fields[ColAlleles]),
		}
	}

	normID, err := strconv.Atoi(strings.TrimSpace(fields[ColNormID]))
	if err != nil {
		return nil, &ParseError{
			Line:    p.lineNumber,
			Message: fmt.Sprintf("invalid normalization id: %s", fields[ColNormID]),
		}
	}

	return &Variant{
		Name:    fields[ColName],
		Chrom:   fields[ColChrom],
		Pos:     pos,
		AlleleA: a,
		AlleleB: b,
		NormID:  normID,
	}, nil
}

// parseAlleles splits a bracketed "[A/B]" allele pair.
func parseAlleles(s string) (a, b string, ok bool) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "[")
	s = strings.TrimSuffix(s, "]")
	a, b, ok = strings.Cut(s, "/")
	if !ok || a == "" || b == "" {
		return "", "", false
	}
	return a, b, true
}

// Close closes the parser and underlying file.
func (p *Parser) Close() error {
	if p.gzipReader != nil {
		p.gzipReader.Close()
	}
	if p.file != nil {
		return p.file.Close()
	}
	return nil
}

// Open reads the whole manifest at path.
func Open(path string) (*Manifest, error) {
	p, err := NewParser(path)
	if err != nil {
		return nil, err
	}
	defer p.Close()
	return readAll(p)
}

// Parse reads a whole manifest from r.
func Parse(r io.Reader) (*Manifest, error) {
	return readAll(NewParserFromReader(r))
}

func readAll(p *Parser) (*Manifest, error) {
	m := &Manifest{}
	for {
		v, err := p.Next()
		if err != nil {
			return nil, err
		}
		if v == nil {
			return m, nil
		}
		m.Variants = append(m.Variants, *v)
	}
}

// ParseError represents an error during manifest parsing with line context.
type ParseError struct {
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("manifest parse error at line %d: %s", e.Line, e.Message)
}
