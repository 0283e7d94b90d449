// Package tensor provides the flat float64 tensor type shared by the
// variable registry, the optimizers and the built-in renderer.
package tensor

import (
	"fmt"
	"math"
)

// Tensor is a dense float64 array with an explicit shape.
// Data is laid out row-major; len(Data) == product(Shape).
type Tensor struct {
	Shape []int
	Data  []float64
}

// New allocates a zero-filled tensor with the given shape.
func New(shape ...int) *Tensor {
	return &Tensor{
		Shape: append([]int{}, shape...),
		Data:  make([]float64, NumElems(shape)),
	}
}

// FromSlice wraps data in a tensor, validating that the shape matches.
func FromSlice(data []float64, shape ...int) (*Tensor, error) {
	if len(data) != NumElems(shape) {
		return nil, fmt.Errorf("tensor: data length %d does not match shape %v", len(data), shape)
	}
	return &Tensor{Shape: append([]int{}, shape...), Data: data}, nil
}

// NumElems returns the number of elements implied by a shape.
// An empty shape counts as a scalar.
func NumElems(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

// Len returns the number of elements in the tensor.
func (t *Tensor) Len() int {
	return len(t.Data)
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	c := &Tensor{
		Shape: append([]int{}, t.Shape...),
		Data:  make([]float64, len(t.Data)),
	}
	copy(c.Data, t.Data)
	return c
}

// Fill sets every element to v.
func (t *Tensor) Fill(v float64) {
	for i := range t.Data {
		t.Data[i] = v
	}
}

// Clamp limits every element to [lo, hi] in place.
func (t *Tensor) Clamp(lo, hi float64) {
	for i, v := range t.Data {
		t.Data[i] = math.Max(lo, math.Min(hi, v))
	}
}

// IsFinite reports whether every element is finite.
func (t *Tensor) IsFinite() bool {
	for _, v := range t.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// SameShape reports whether a and b have identical shapes.
func SameShape(a, b *Tensor) bool {
	if len(a.Shape) != len(b.Shape) {
		return false
	}
	for i := range a.Shape {
		if a.Shape[i] != b.Shape[i] {
			return false
		}
	}
	return true
}

// Stack concatenates tensors of identical shape along a new leading
// dimension. The result has shape (len(ts), shape...).
func Stack(ts []*Tensor) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, fmt.Errorf("tensor: cannot stack empty slice")
	}
	base := ts[0]
	for i, t := range ts[1:] {
		if !SameShape(base, t) {
			return nil, fmt.Errorf("tensor: stack shape mismatch at index %d: %v vs %v", i+1, base.Shape, t.Shape)
		}
	}
	out := New(append([]int{len(ts)}, base.Shape...)...)
	stride := base.Len()
	for i, t := range ts {
		copy(out.Data[i*stride:(i+1)*stride], t.Data)
	}
	return out, nil
}

// Split reverses Stack: it slices the leading dimension into views
// backed by fresh copies, so callers may mutate them independently.
func (t *Tensor) Split() []*Tensor {
	if len(t.Shape) == 0 {
		return []*Tensor{t.Clone()}
	}
	n := t.Shape[0]
	inner := append([]int{}, t.Shape[1:]...)
	stride := NumElems(inner)
	out := make([]*Tensor, n)
	for i := 0; i < n; i++ {
		c := New(inner...)
		copy(c.Data, t.Data[i*stride:(i+1)*stride])
		out[i] = c
	}
	return out
}
