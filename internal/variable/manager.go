// Package variable implements the registry of named optimizable tensors:
// descriptors with per-variable search strategy and hyperparameters,
// candidate instantiation, and composable post-update hooks.
package variable

import (
	"fmt"
	"math/rand"

	"github.com/johndpope/pix2latent/internal/tensor"
)

// Manager holds the ordered set of variable descriptors for a run.
// Registration order is preserved; hooks are applied in that order.
type Manager struct {
	order []string
	descs map[string]*Descriptor
}

// NewManager creates an empty registry.
func NewManager() *Manager {
	return &Manager{descs: make(map[string]*Descriptor)}
}

// Register validates and adds a descriptor.
func (m *Manager) Register(d Descriptor) error {
	if d.Name == "" {
		return &ValidationError{Field: "Name", Reason: "cannot be empty"}
	}
	if _, ok := m.descs[d.Name]; ok {
		return &ValidationError{Field: "Name", Reason: fmt.Sprintf("duplicate variable %q", d.Name)}
	}
	if len(d.Shape) == 0 {
		return &ValidationError{Field: "Shape", Reason: "cannot be empty"}
	}
	for _, s := range d.Shape {
		if s <= 0 {
			return &ValidationError{Field: "Shape", Reason: fmt.Sprintf("non-positive dimension in %v", d.Shape)}
		}
	}
	if d.Default != nil && d.Default.Len() != tensor.NumElems(d.Shape) {
		return &ValidationError{
			Field:  "Default",
			Reason: fmt.Sprintf("shape mismatch: declared %v, default has %d elements", d.Shape, d.Default.Len()),
		}
	}
	if d.Role == Output {
		if d.Default == nil {
			return &ValidationError{Field: "Default", Reason: "output variables require a default value"}
		}
		// Output variables are fixed targets; never tracked.
		d.RequiresGrad = false
	}
	if d.Role == Input && d.GradFree && d.Distribution == nil {
		return &ValidationError{Field: "Distribution", Reason: fmt.Sprintf("grad-free variable %q requires a distribution", d.Name)}
	}
	cp := d.clone()
	m.descs[d.Name] = cp
	m.order = append(m.order, d.Name)
	return nil
}

// Names returns variable names in registration order.
func (m *Manager) Names() []string {
	return append([]string{}, m.order...)
}

// Descriptor returns the descriptor for a name.
func (m *Manager) Descriptor(name string) (*Descriptor, bool) {
	d, ok := m.descs[name]
	return d, ok
}

// SetDefault overwrites a descriptor's default after construction. It is
// used to inject encoder warm starts or transform-search results.
func (m *Manager) SetDefault(name string, v *tensor.Tensor) error {
	d, ok := m.descs[name]
	if !ok {
		return &ConfigurationError{Param: "name", Reason: fmt.Sprintf("variable %q is not registered", name)}
	}
	if v.Len() != tensor.NumElems(d.Shape) {
		return &ValidationError{
			Field:  "Default",
			Reason: fmt.Sprintf("shape mismatch for %q: declared %v, got %d elements", name, d.Shape, v.Len()),
		}
	}
	d.Default = v.Clone()
	return nil
}

// InputNames returns input-role variable names in registration order.
func (m *Manager) InputNames() []string {
	var out []string
	for _, n := range m.order {
		if m.descs[n].Role == Input {
			out = append(out, n)
		}
	}
	return out
}

// GradFreeNames returns input-role variables searched derivative-free.
func (m *Manager) GradFreeNames() []string {
	var out []string
	for _, n := range m.order {
		d := m.descs[n]
		if d.Role == Input && d.GradFree && !d.Frozen {
			out = append(out, n)
		}
	}
	return out
}

// GradNames returns input-role variables optimized by gradient descent.
func (m *Manager) GradNames() []string {
	var out []string
	for _, n := range m.order {
		d := m.descs[n]
		if d.Role == Input && !d.GradFree && !d.Frozen {
			out = append(out, n)
		}
	}
	return out
}

// Freeze excludes an input variable from both search phases; its
// instantiated value is held fixed for the whole run.
func (m *Manager) Freeze(name string) error {
	d, ok := m.descs[name]
	if !ok {
		return &ConfigurationError{Param: "name", Reason: fmt.Sprintf("variable %q is not registered", name)}
	}
	d.Frozen = true
	return nil
}

// Instantiate produces numSeeds candidates. Input variables with a
// distribution are sampled from it, the rest broadcast their default
// (or zeros); output variables broadcast their fixed default.
func (m *Manager) Instantiate(numSeeds int, rng *rand.Rand) ([]*Candidate, error) {
	if numSeeds < 1 {
		return nil, &ConfigurationError{Param: "numSeeds", Reason: "must be >= 1"}
	}
	cands := make([]*Candidate, numSeeds)
	for s := 0; s < numSeeds; s++ {
		cands[s] = &Candidate{Seed: s, Values: make(map[string]*tensor.Tensor, len(m.order))}
	}
	for _, name := range m.order {
		d := m.descs[name]
		for s := 0; s < numSeeds; s++ {
			var v *tensor.Tensor
			switch {
			case d.Role == Input && d.Distribution != nil:
				// Sampled around the default when one was supplied
				// (e.g. an encoder warm start).
				v = d.Distribution.Sample(rng, d.Shape)
				if d.Default != nil {
					for i := range v.Data {
						v.Data[i] += d.Default.Data[i]
					}
				}
			case d.Default != nil:
				v = d.Default.Clone()
			default:
				v = tensor.New(d.Shape...)
			}
			cands[s].Values[name] = v
		}
	}
	return cands, nil
}

// ApplyHooks applies each variable's hook in registration order and
// returns the corrected candidate. Called after every optimizer update.
func (m *Manager) ApplyHooks(c *Candidate) *Candidate {
	for _, name := range m.order {
		d := m.descs[name]
		if d.Hook == nil {
			continue
		}
		if v, ok := c.Values[name]; ok {
			c.Values[name] = d.Hook(v)
		}
	}
	return c
}

// Snapshot is an immutable copy of the registry, used to rebuild an
// identical manager for a nested search without sharing state.
type Snapshot struct {
	order []string
	descs []*Descriptor
}

// Snapshot captures the current descriptor table.
func (m *Manager) Snapshot() Snapshot {
	s := Snapshot{order: append([]string{}, m.order...)}
	for _, n := range m.order {
		s.descs = append(s.descs, m.descs[n].clone())
	}
	return s
}

// FromSnapshot reconstructs a manager from a snapshot.
func FromSnapshot(s Snapshot) *Manager {
	m := NewManager()
	for i, n := range s.order {
		m.order = append(m.order, n)
		m.descs[n] = s.descs[i].clone()
	}
	return m
}
