package genotype

import (
	"runtime"
	"sync"

	"github.com/inodb/zcall/internal/gtc"
)

// WorkItem names one sample file to call.
type WorkItem struct {
	Seq  int
	Path string
}

// WorkResult holds the calls for a single sample.
type WorkResult struct {
	Seq    int
	Path   string
	Sample string
	Calls  []Call
	Err    error
}

// LoadFunc reads and normalizes one sample file.
type LoadFunc func(path string) (*gtc.Sample, error)

// ParallelCall loads and recalls samples using a pool of workers.
// Results are sent to the returned channel in arrival order (not sequence order).
// Use OrderedCollect to consume results in sequence-number order.
// If workers is 0, runtime.NumCPU() is used.
func (c *Caller) ParallelCall(items <-chan WorkItem, workers int, load LoadFunc) <-chan WorkResult {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	results := make(chan WorkResult, 2*workers)

	var wg sync.WaitGroup
	wg.Add(workers)

	for range workers {
		go func() {
			defer wg.Done()
			for item := range items {
				res := WorkResult{Seq: item.Seq, Path: item.Path}
				s, err := load(item.Path)
				if err == nil {
					res.Sample = s.Name
					res.Calls, err = c.Recall(s)
				}
				res.Err = err
				results <- res
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	return results
}

// OrderedCollect calls fn for each result in sequence-number order.
// Out-of-order results wait in a pending map until their turn.
// Blocks until the results channel is closed.
func OrderedCollect(results <-chan WorkResult, fn func(WorkResult) error) error {
	pending := make(map[int]WorkResult)
	nextSeq := 0

	for r := range results {
		pending[r.Seq] = r

		for {
			rr, ok := pending[nextSeq]
			if !ok {
				break
			}
			delete(pending, nextSeq)
			nextSeq++
			if err := fn(rr); err != nil {
				// Drain remaining results to unblock workers.
				for range results {
				}
				return err
			}
		}
	}

	return nil
}
