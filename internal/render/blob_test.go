package render

import (
	"math"
	"math/rand"
	"testing"

	"github.com/johndpope/pix2latent/internal/tensor"
)

func randTensor(rng *rand.Rand, shape ...int) *tensor.Tensor {
	out := tensor.New(shape...)
	for i := range out.Data {
		out.Data[i] = rng.NormFloat64() * 0.5
	}
	return out
}

func TestForwardShapeAndRange(t *testing.T) {
	b := NewBlob(12, 10, 3)
	rng := rand.New(rand.NewSource(1))
	inputs := map[string]*tensor.Tensor{
		"z": randTensor(rng, 4, b.ZDim()),
		"c": randTensor(rng, 4, b.ClassDim()),
	}

	out, err := b.Forward(inputs)
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}
	want := []int{4, 3, 10, 12}
	for i, s := range want {
		if out.Shape[i] != s {
			t.Fatalf("unexpected output shape %v, want %v", out.Shape, want)
		}
	}
	for i, v := range out.Data {
		if v < -1 || v > 1 {
			t.Fatalf("pixel %d outside [-1, 1]: %v", i, v)
		}
	}
}

func TestForwardWithoutClassBias(t *testing.T) {
	b := NewBlob(8, 8, 2)
	rng := rand.New(rand.NewSource(2))
	out, err := b.Forward(map[string]*tensor.Tensor{"z": randTensor(rng, 1, b.ZDim())})
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}
	if out.Shape[0] != 1 {
		t.Fatalf("unexpected batch %v", out.Shape)
	}
}

func TestForwardValidatesShapes(t *testing.T) {
	b := NewBlob(8, 8, 2)
	if _, err := b.Forward(map[string]*tensor.Tensor{}); err == nil {
		t.Error("missing z accepted")
	}
	if _, err := b.Forward(map[string]*tensor.Tensor{"z": tensor.New(1, 5)}); err == nil {
		t.Error("wrong z width accepted")
	}
	bad := map[string]*tensor.Tensor{
		"z": tensor.New(1, b.ZDim()),
		"c": tensor.New(2, 3),
	}
	if _, err := b.Forward(bad); err == nil {
		t.Error("mismatched c batch accepted")
	}
}

func TestForwardIsDeterministic(t *testing.T) {
	b := NewBlob(16, 16, 4)
	rng := rand.New(rand.NewSource(3))
	inputs := map[string]*tensor.Tensor{
		"z": randTensor(rng, 6, b.ZDim()),
		"c": randTensor(rng, 6, b.ClassDim()),
	}
	a, err := b.Forward(inputs)
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}
	bb, err := b.Forward(inputs)
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}
	for i := range a.Data {
		if a.Data[i] != bb.Data[i] {
			t.Fatalf("concurrent render is not deterministic at %d", i)
		}
	}
}

func TestBackwardMatchesFiniteDifference(t *testing.T) {
	b := NewBlob(7, 6, 2)
	rng := rand.New(rand.NewSource(4))
	z := randTensor(rng, 1, b.ZDim())
	c := randTensor(rng, 1, b.ClassDim())
	up := randTensor(rng, 1, 3, 6, 7)

	inputs := map[string]*tensor.Tensor{"z": z, "c": c}
	grads, err := b.Backward(inputs, up)
	if err != nil {
		t.Fatalf("backward failed: %v", err)
	}

	cost := func(in map[string]*tensor.Tensor) float64 {
		out, err := b.Forward(in)
		if err != nil {
			t.Fatalf("forward failed: %v", err)
		}
		var s float64
		for i := range out.Data {
			s += out.Data[i] * up.Data[i]
		}
		return s
	}

	const h = 1e-6
	check := func(name string, v *tensor.Tensor) {
		for i := range v.Data {
			plus := v.Clone()
			plus.Data[i] += h
			minus := v.Clone()
			minus.Data[i] -= h
			inPlus := map[string]*tensor.Tensor{"z": z, "c": c}
			inMinus := map[string]*tensor.Tensor{"z": z, "c": c}
			inPlus[name] = plus
			inMinus[name] = minus
			num := (cost(inPlus) - cost(inMinus)) / (2 * h)
			got := grads[name].Data[i]
			if math.Abs(num-got) > 1e-4*math.Max(1, math.Abs(num)) {
				t.Errorf("%s[%d]: analytic %v vs numeric %v", name, i, got, num)
			}
		}
	}
	check("z", z)
	check("c", c)
}
