package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/inodb/zcall/internal/plink"
)

func newViewCmd() *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "view <stem>",
		Short: "Print the calls of a PLINK binary dataset",
		Long: `Decode stem.bed using the rows of stem.bim and stem.fam and print
one line per sample: the sample id followed by a call (AA, AB, BB or NC)
for each variant in .bim order.`,
		Example: `  zcall view calls/batch1 | head`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOutput(outPath, func(w io.Writer) error {
				return viewBinary(w, args[0])
			})
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "-", "Output file ('-' for stdout)")
	return cmd
}

func viewBinary(w io.Writer, stem string) error {
	names, err := readWith(stem+".bim", plink.ReadBimNames)
	if err != nil {
		return err
	}
	inds, err := readWith(stem+".fam", plink.ReadFam)
	if err != nil {
		return err
	}

	bed, err := os.Open(stem + ".bed")
	if err != nil {
		return fmt.Errorf("open bed: %w", err)
	}
	defer bed.Close()
	d, err := plink.Decode(bed, len(inds), len(names))
	if err != nil {
		return fmt.Errorf("decode %s.bed: %w", stem, err)
	}

	bw := bufio.NewWriter(w)
	bw.WriteString("#Sample\t" + strings.Join(names, "\t") + "\n")
	for s, calls := range d.Calls {
		fields := make([]string, 0, len(calls)+1)
		fields = append(fields, inds[s].ID)
		for _, c := range calls {
			fields = append(fields, c.String())
		}
		bw.WriteString(strings.Join(fields, "\t") + "\n")
	}
	return bw.Flush()
}

func readWith[T any](path string, read func(io.Reader) ([]T, error)) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	out, err := read(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return out, nil
}
