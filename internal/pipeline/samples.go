package pipeline

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"

	"github.com/inodb/zcall/internal/plink"
)

// SampleEntry is one sample of a genotyping run: its identifier, the
// gender code written to the .fam file and the path of its .gtc file.
type SampleEntry struct {
	URI        string `json:"uri"`
	GenderCode int    `json:"gender_code"`
	Result     string `json:"result"`
}

// Individual returns the .fam row for the sample.
func (s SampleEntry) Individual() plink.Individual {
	return plink.Individual{ID: s.URI, Sex: s.GenderCode}
}

// ReadSampleList reads a JSON array of sample entries.
func ReadSampleList(path string) ([]SampleEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sample list: %w", err)
	}
	var samples []SampleEntry
	if err := json.Unmarshal(data, &samples); err != nil {
		return nil, fmt.Errorf("parse sample list %s: %w", path, err)
	}
	for i, s := range samples {
		if s.Result == "" {
			return nil, fmt.Errorf("parse sample list %s: entry %d has no result path", path, i)
		}
	}
	return samples, nil
}

// SliceSamples returns samples[start:end]. A negative end means the end
// of the list.
func SliceSamples(samples []SampleEntry, start, end int) ([]SampleEntry, error) {
	if end < 0 {
		end = len(samples)
	}
	if start < 0 || start > end || end > len(samples) {
		return nil, fmt.Errorf("sample range [%d, %d) outside list of %d", start, end, len(samples))
	}
	return samples[start:end], nil
}

// Paths returns the .gtc path of every sample.
func Paths(samples []SampleEntry) []string {
	paths := make([]string, len(samples))
	for i, s := range samples {
		paths[i] = s.Result
	}
	return paths
}

// Individuals returns the .fam row of every sample.
func Individuals(samples []SampleEntry) []plink.Individual {
	out := make([]plink.Individual, len(samples))
	for i, s := range samples {
		out[i] = s.Individual()
	}
	return out
}
