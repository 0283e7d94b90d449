package opt

import (
	"github.com/johndpope/pix2latent/internal/variable"
)

// Scheduler splits a candidate population into ordered minibatches
// bounded by MaxBatchSize, dispatches evaluation, and reassembles the
// per-candidate results in the original order. Batching is purely a
// memory/throughput control: results are numerically identical to a
// single full-population pass up to floating-point association.
type Scheduler struct {
	MaxBatchSize int
}

// Evaluate runs the evaluator over ceil(N/M) chunks and merges results.
func (s Scheduler) Evaluate(e *Evaluator, m *variable.Manager, cands []*variable.Candidate, withGrad bool) (*EvalResult, error) {
	if s.MaxBatchSize < 1 {
		return nil, &variable.ConfigurationError{Param: "MaxBatchSize", Reason: "must be >= 1"}
	}
	n := len(cands)
	if n <= s.MaxBatchSize {
		return e.Evaluate(m, cands, withGrad)
	}

	merged := &EvalResult{}
	for lo := 0; lo < n; lo += s.MaxBatchSize {
		hi := lo + s.MaxBatchSize
		if hi > n {
			hi = n
		}
		res, err := e.Evaluate(m, cands[lo:hi], withGrad)
		if err != nil {
			return nil, err
		}
		merged.Costs = append(merged.Costs, res.Costs...)
		merged.Outputs = append(merged.Outputs, res.Outputs...)
		if withGrad {
			merged.Grads = append(merged.Grads, res.Grads...)
		}
	}
	return merged, nil
}
