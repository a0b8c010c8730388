package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/inodb/zcall/internal/genotype"
	"github.com/inodb/zcall/internal/plink"
	"github.com/inodb/zcall/internal/threshold"
)

// CallOptions configures a calling run.
type CallOptions struct {
	Policy  genotype.Policy
	Workers int

	// OnSample, if set, receives each sample's calls in manifest order,
	// in sample list order.
	OnSample func(s SampleEntry, calls []genotype.Call) error
}

// Call recalls every sample with thresholds and accumulates the results
// into a matrix in sample list order. Sample files are checked against
// the dataset before any of them is called.
func Call(ctx context.Context, ds *Dataset, thresholds []threshold.Threshold, samples []SampleEntry, opts CallOptions) (*plink.Matrix, error) {
	if len(thresholds) != ds.Len() {
		return nil, &ConsistencyError{Source: "thresholds", Want: ds.Len(), Got: len(thresholds)}
	}
	if err := ds.CheckSamples(Paths(samples)); err != nil {
		return nil, err
	}
	sm, err := plink.NewSortMap(ds.Manifest)
	if err != nil {
		return nil, err
	}
	mx := plink.NewMatrix(sm)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	items := make(chan genotype.WorkItem)
	go func() {
		defer close(items)
		for i, s := range samples {
			select {
			case items <- genotype.WorkItem{Seq: i, Path: s.Result}:
			case <-ctx.Done():
				return
			}
		}
	}()

	caller := &genotype.Caller{Thresholds: thresholds, Policy: opts.Policy}
	results := caller.ParallelCall(items, opts.Workers, ds.LoadSample)

	add := func(r genotype.WorkResult) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.Err != nil {
			return fmt.Errorf("call %s: %w", r.Path, r.Err)
		}
		if err := mx.AddSample(r.Calls); err != nil {
			return fmt.Errorf("call %s: %w", r.Path, err)
		}
		if opts.OnSample != nil {
			if err := opts.OnSample(samples[r.Seq], r.Calls); err != nil {
				return err
			}
		}
		ds.logger.Debug("called sample",
			zap.Int("seq", r.Seq),
			zap.String("sample", r.Sample),
			zap.String("path", r.Path))
		return nil
	}
	// Stop feeding workers as soon as one sample fails.
	err = genotype.OrderedCollect(results, func(r genotype.WorkResult) error {
		err := add(r)
		if err != nil {
			cancel()
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ds.logger.Info("called samples",
		zap.Int("samples", mx.Samples()),
		zap.Int("variants", mx.Variants()),
		zap.Stringer("policy", opts.Policy))
	return mx, nil
}

// WriteBinary writes stem.bed, stem.bim and stem.fam. Each file is
// written beside its destination and renamed into place once complete.
func WriteBinary(stem string, ds *Dataset, mx *plink.Matrix, samples []SampleEntry, mode plink.Mode) error {
	if mx.Samples() != len(samples) {
		return fmt.Errorf("write %s: matrix has %d samples, list has %d", stem, mx.Samples(), len(samples))
	}
	if mx.Variants() != ds.Len() {
		return &ConsistencyError{Source: stem + ".bed", Want: ds.Len(), Got: mx.Variants()}
	}
	sm := mx.SortMap()
	if err := writeFile(stem+".bed", func(w io.Writer) error {
		return mx.Encode(w, mode)
	}); err != nil {
		return err
	}
	if err := writeFile(stem+".bim", func(w io.Writer) error {
		return plink.WriteBim(w, ds.Manifest, sm)
	}); err != nil {
		return err
	}
	return writeFile(stem+".fam", func(w io.Writer) error {
		return plink.WriteFam(w, Individuals(samples))
	})
}

// TextWriter writes calls as stem.ped and stem.map. The .ped rows are
// written as samples arrive and the file is renamed into place by Close.
type TextWriter struct {
	ped  *pendingFile
	pw   *plink.PedWriter
	stem string
	ds   *Dataset
}

// NewTextWriter opens stem.ped for writing.
func NewTextWriter(stem string, ds *Dataset) (*TextWriter, error) {
	pf, err := createPending(stem + ".ped")
	if err != nil {
		return nil, err
	}
	return &TextWriter{ped: pf, pw: plink.NewPedWriter(pf.f, ds.Manifest), stem: stem, ds: ds}, nil
}

// Write appends one sample. It fits CallOptions.OnSample.
func (tw *TextWriter) Write(s SampleEntry, calls []genotype.Call) error {
	return tw.pw.Write(s.Individual(), calls)
}

// Close completes stem.ped and writes stem.map.
func (tw *TextWriter) Close() error {
	if err := tw.pw.Flush(); err != nil {
		tw.ped.abort()
		return fmt.Errorf("write %s.ped: %w", tw.stem, err)
	}
	if err := tw.ped.commit(); err != nil {
		return err
	}
	return writeFile(tw.stem+".map", func(w io.Writer) error {
		return plink.WriteMap(w, tw.ds.Manifest)
	})
}

// Abort discards the partial .ped file.
func (tw *TextWriter) Abort() {
	tw.ped.abort()
}

type pendingFile struct {
	f    *os.File
	path string
}

func createPending(path string) (*pendingFile, error) {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return &pendingFile{f: f, path: path}, nil
}

func (p *pendingFile) commit() error {
	if err := p.f.Close(); err != nil {
		os.Remove(p.f.Name())
		return fmt.Errorf("write %s: %w", p.path, err)
	}
	if err := os.Rename(p.f.Name(), p.path); err != nil {
		os.Remove(p.f.Name())
		return fmt.Errorf("rename %s: %w", p.path, err)
	}
	return nil
}

func (p *pendingFile) abort() {
	p.f.Close()
	os.Remove(p.f.Name())
}

// writeFile writes path through a temporary file so that a failure leaves
// no partial output.
func writeFile(path string, fn func(io.Writer) error) error {
	p, err := createPending(path)
	if err != nil {
		return err
	}
	if err := fn(p.f); err != nil {
		p.abort()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return p.commit()
}
