package dist

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// CMAState is the per-seed state of a covariance-matrix-adaptation
// evolution strategy: distribution mean, step size, full covariance and
// the two evolution paths. One state is kept per (seed, variable).
//
// The update follows the standard CMA-ES formulation: rank-based mean
// shift, rank-one plus rank-mu covariance adaptation, and cumulative
// step-size control.
type CMAState struct {
	dim   int
	mean  []float64
	sigma float64

	cov    *mat.SymDense
	pc, ps []float64
	gen    int

	// strategy constants, fixed at construction
	lambda  int
	mu      int
	weights []float64
	muEff   float64
	cc, cs  float64
	c1, cmu float64
	damps   float64
	chiN    float64

	// eigendecomposition cache for sampling: cov = B diag(d^2) B^T
	eigB *mat.Dense
	eigD []float64
}

// NewCMAState initializes a state centred on mean with the given step
// size and population size per generation.
func NewCMAState(mean []float64, sigma float64, popSize int) (*CMAState, error) {
	dim := len(mean)
	if dim == 0 {
		return nil, fmt.Errorf("cma: empty mean")
	}
	if popSize < 2 {
		return nil, fmt.Errorf("cma: population size must be >= 2, got %d", popSize)
	}
	if sigma <= 0 {
		return nil, fmt.Errorf("cma: sigma must be positive, got %v", sigma)
	}

	s := &CMAState{
		dim:    dim,
		mean:   append([]float64{}, mean...),
		sigma:  sigma,
		lambda: popSize,
		mu:     popSize / 2,
		pc:     make([]float64, dim),
		ps:     make([]float64, dim),
		cov:    mat.NewSymDense(dim, nil),
	}
	for i := 0; i < dim; i++ {
		s.cov.SetSym(i, i, 1)
	}

	// Log-rank recombination weights over the better half.
	s.weights = make([]float64, s.mu)
	var wsum float64
	for i := 0; i < s.mu; i++ {
		s.weights[i] = math.Log(float64(s.mu)+0.5) - math.Log(float64(i+1))
		wsum += s.weights[i]
	}
	var w2 float64
	for i := range s.weights {
		s.weights[i] /= wsum
		w2 += s.weights[i] * s.weights[i]
	}
	s.muEff = 1 / w2

	n := float64(dim)
	s.cc = (4 + s.muEff/n) / (n + 4 + 2*s.muEff/n)
	s.cs = (s.muEff + 2) / (n + s.muEff + 5)
	s.c1 = 2 / ((n+1.3)*(n+1.3) + s.muEff)
	s.cmu = math.Min(1-s.c1, 2*(s.muEff-2+1/s.muEff)/((n+2)*(n+2)+s.muEff))
	s.damps = 1 + 2*math.Max(0, math.Sqrt((s.muEff-1)/(n+1))-1) + s.cs
	s.chiN = math.Sqrt(n) * (1 - 1/(4*n) + 1/(21*n*n))

	if err := s.refreshEigen(); err != nil {
		return nil, err
	}
	return s, nil
}

// Dim returns the search space dimensionality.
func (s *CMAState) Dim() int { return s.dim }

// Mean returns a copy of the current distribution mean.
func (s *CMAState) Mean() []float64 { return append([]float64{}, s.mean...) }

// Sigma returns the current step size.
func (s *CMAState) Sigma() float64 { return s.sigma }

// Mu returns the number of top-ranked samples used for recombination.
func (s *CMAState) Mu() int { return s.mu }

// SetMean recentres the distribution, e.g. on the candidate carried out
// of a gradient-refinement phase (basin hopping).
func (s *CMAState) SetMean(mean []float64) {
	copy(s.mean, mean)
}

// Sample draws n points from N(mean, sigma^2 C).
func (s *CMAState) Sample(rng *rand.Rand, n int) [][]float64 {
	out := make([][]float64, n)
	z := make([]float64, s.dim)
	for k := 0; k < n; k++ {
		for i := range z {
			z[i] = rng.NormFloat64() * s.eigD[i]
		}
		x := make([]float64, s.dim)
		for i := 0; i < s.dim; i++ {
			var v float64
			for j := 0; j < s.dim; j++ {
				v += s.eigB.At(i, j) * z[j]
			}
			x[i] = s.mean[i] + s.sigma*v
		}
		out[k] = x
	}
	return out
}

// RankUpdate advances mean, covariance, paths and step size from samples
// ranked by ascending cost. The costs are only used through the ranking
// the caller already applied; non-finite candidates must be filtered out
// before calling.
func (s *CMAState) RankUpdate(ranked [][]float64) error {
	if len(ranked) < s.mu {
		return fmt.Errorf("cma: need at least %d ranked samples, got %d", s.mu, len(ranked))
	}
	oldMean := append([]float64{}, s.mean...)

	// Weighted recombination of the better half.
	newMean := make([]float64, s.dim)
	for i := 0; i < s.mu; i++ {
		for j := 0; j < s.dim; j++ {
			newMean[j] += s.weights[i] * ranked[i][j]
		}
	}

	// Mean displacement in sigma units.
	yw := make([]float64, s.dim)
	for j := 0; j < s.dim; j++ {
		yw[j] = (newMean[j] - oldMean[j]) / s.sigma
	}

	// Step-size path uses the whitened displacement C^-1/2 yw.
	ywWhite := s.mulInvSqrtCov(yw)
	csFac := math.Sqrt(s.cs * (2 - s.cs) * s.muEff)
	var psNorm float64
	for j := 0; j < s.dim; j++ {
		s.ps[j] = (1-s.cs)*s.ps[j] + csFac*ywWhite[j]
		psNorm += s.ps[j] * s.ps[j]
	}
	psNorm = math.Sqrt(psNorm)

	s.gen++
	expNorm := math.Sqrt(1 - math.Pow(1-s.cs, 2*float64(s.gen)))
	hsig := 0.0
	if psNorm/expNorm/s.chiN < 1.4+2/(float64(s.dim)+1) {
		hsig = 1.0
	}

	ccFac := math.Sqrt(s.cc * (2 - s.cc) * s.muEff)
	for j := 0; j < s.dim; j++ {
		s.pc[j] = (1-s.cc)*s.pc[j] + hsig*ccFac*yw[j]
	}

	// Covariance: rank-one from pc plus rank-mu from the ranked samples.
	coldFac := 1 - s.c1 - s.cmu + (1-hsig)*s.c1*s.cc*(2-s.cc)
	y := make([]float64, s.dim)
	for i := 0; i < s.dim; i++ {
		for j := i; j < s.dim; j++ {
			v := coldFac * s.cov.At(i, j)
			v += s.c1 * s.pc[i] * s.pc[j]
			for k := 0; k < s.mu; k++ {
				for d := 0; d < s.dim; d++ {
					y[d] = (ranked[k][d] - oldMean[d]) / s.sigma
				}
				v += s.cmu * s.weights[k] * y[i] * y[j]
			}
			s.cov.SetSym(i, j, v)
		}
	}

	s.sigma *= math.Exp((s.cs / s.damps) * (psNorm/s.chiN - 1))
	copy(s.mean, newMean)
	return s.refreshEigen()
}

// mulInvSqrtCov computes C^-1/2 v through the eigendecomposition cache.
func (s *CMAState) mulInvSqrtCov(v []float64) []float64 {
	tmp := make([]float64, s.dim)
	for j := 0; j < s.dim; j++ {
		var acc float64
		for i := 0; i < s.dim; i++ {
			acc += s.eigB.At(i, j) * v[i]
		}
		tmp[j] = acc / s.eigD[j]
	}
	out := make([]float64, s.dim)
	for i := 0; i < s.dim; i++ {
		var acc float64
		for j := 0; j < s.dim; j++ {
			acc += s.eigB.At(i, j) * tmp[j]
		}
		out[i] = acc
	}
	return out
}

func (s *CMAState) refreshEigen() error {
	var eig mat.EigenSym
	if ok := eig.Factorize(s.cov, true); !ok {
		return fmt.Errorf("cma: covariance eigendecomposition failed")
	}
	vals := eig.Values(nil)
	if s.eigB == nil {
		s.eigB = mat.NewDense(s.dim, s.dim, nil)
	}
	eig.VectorsTo(s.eigB)
	if s.eigD == nil {
		s.eigD = make([]float64, s.dim)
	}
	for i, v := range vals {
		// Numerical floor keeps the sampler usable if the covariance
		// loses positive definiteness to rounding.
		if v < 1e-20 {
			v = 1e-20
		}
		s.eigD[i] = math.Sqrt(v)
	}
	return nil
}
