package variable

import "github.com/johndpope/pix2latent/internal/tensor"

// Candidate is one concrete assignment of values to all registered
// variables, for one seed, at one point in optimization.
type Candidate struct {
	Seed   int
	Values map[string]*tensor.Tensor
}

// Clone deep-copies the candidate.
func (c *Candidate) Clone() *Candidate {
	out := &Candidate{Seed: c.Seed, Values: make(map[string]*tensor.Tensor, len(c.Values))}
	for k, v := range c.Values {
		out.Values[k] = v.Clone()
	}
	return out
}

// Get returns the value for a variable name, or nil.
func (c *Candidate) Get(name string) *tensor.Tensor {
	return c.Values[name]
}

// Set replaces the value for a variable name.
func (c *Candidate) Set(name string, v *tensor.Tensor) {
	c.Values[name] = v
}
