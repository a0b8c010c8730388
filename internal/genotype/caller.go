package genotype

import (
	"fmt"

	"github.com/inodb/zcall/internal/gtc"
	"github.com/inodb/zcall/internal/threshold"
)

// Policy selects which variants are recalled.
type Policy int

const (
	// RecallNoCallsOnly replaces only original no-calls.
	RecallNoCallsOnly Policy = iota
	// RecallAll classifies every variant with a defined threshold.
	RecallAll
	// PassThrough emits the original calls unchanged.
	PassThrough
)

func (p Policy) String() string {
	switch p {
	case RecallNoCallsOnly:
		return "nocalls"
	case RecallAll:
		return "all"
	case PassThrough:
		return "passthrough"
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// ParsePolicy parses the name returned by Policy.String.
func ParsePolicy(s string) (Policy, error) {
	for _, p := range []Policy{RecallNoCallsOnly, RecallAll, PassThrough} {
		if p.String() == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown call mode %q (want nocalls, all or passthrough)", s)
}

// Caller recalls the genotypes of one sample at a time. Thresholds are
// shared read-only, so one Caller may be used from many goroutines.
type Caller struct {
	Thresholds []threshold.Threshold
	Policy     Policy
}

// NewCaller returns a caller for production recalling of no-calls.
func NewCaller(thresholds []threshold.Threshold) *Caller {
	return &Caller{Thresholds: thresholds, Policy: RecallNoCallsOnly}
}

// Recall returns the final calls for sample in variant order.
func (c *Caller) Recall(s *gtc.Sample) ([]Call, error) {
	n := len(c.Thresholds)
	if s.Len() != n || len(s.NormX) != n || len(s.NormY) != n {
		return nil, fmt.Errorf("recall sample %s: have %d variants for %d thresholds", s.Name, s.Len(), n)
	}
	orig, err := FromCodes(s.Genotypes)
	if err != nil {
		return nil, fmt.Errorf("recall sample %s: %w", s.Name, err)
	}
	if c.Policy == PassThrough {
		return orig, nil
	}

	out := orig
	for i, t := range c.Thresholds {
		if !t.Defined {
			continue
		}
		if c.Policy == RecallNoCallsOnly && orig[i] != NoCall {
			continue
		}
		out[i] = Classify(s.NormX[i], s.NormY[i], t.Tx, t.Ty)
	}
	return out, nil
}
