package variable

import (
	"math/rand"
	"testing"

	"github.com/johndpope/pix2latent/internal/tensor"
)

type fixedDist struct{ v float64 }

func (d fixedDist) Sample(rng *rand.Rand, shape []int) *tensor.Tensor {
	out := tensor.New(shape...)
	out.Fill(d.v)
	return out
}

func (d fixedDist) Sigma() float64 { return 1 }

func TestRegisterValidation(t *testing.T) {
	tests := []struct {
		name string
		desc Descriptor
	}{
		{"empty name", Descriptor{Shape: []int{2}}},
		{"empty shape", Descriptor{Name: "x"}},
		{"negative dim", Descriptor{Name: "x", Shape: []int{-1}}},
		{"output without default", Descriptor{Name: "x", Shape: []int{2}, Role: Output}},
		{"grad-free without distribution", Descriptor{Name: "x", Shape: []int{2}, GradFree: true}},
		{"default shape mismatch", Descriptor{Name: "x", Shape: []int{2}, Default: tensor.New(3)}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := NewManager()
			if err := m.Register(tc.desc); err == nil {
				t.Errorf("expected validation error")
			}
		})
	}
}

func TestRegisterDuplicateName(t *testing.T) {
	m := NewManager()
	d := Descriptor{Name: "x", Shape: []int{2}, GradFree: true, Distribution: fixedDist{}}
	if err := m.Register(d); err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	if err := m.Register(d); err == nil {
		t.Fatal("duplicate name accepted")
	}
}

func TestSetDefaultUnregistered(t *testing.T) {
	m := NewManager()
	if err := m.SetDefault("missing", tensor.New(2)); err == nil {
		t.Fatal("expected configuration error for unregistered variable")
	}
}

func TestInstantiateShapes(t *testing.T) {
	m := NewManager()
	def := tensor.New(3)
	def.Fill(7)
	mustRegister(t, m, Descriptor{Name: "z", Shape: []int{4}, GradFree: true, Distribution: fixedDist{v: 2}})
	mustRegister(t, m, Descriptor{Name: "c", Shape: []int{2}, RequiresGrad: true})
	mustRegister(t, m, Descriptor{Name: "target", Shape: []int{3}, Role: Output, Default: def})

	cands, err := m.Instantiate(5, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("instantiate failed: %v", err)
	}
	if len(cands) != 5 {
		t.Fatalf("expected 5 candidates, got %d", len(cands))
	}
	for s, c := range cands {
		if got := c.Get("z").Len(); got != 4 {
			t.Errorf("seed %d: z has %d elements", s, got)
		}
		if got := c.Get("z").Data[0]; got != 2 {
			t.Errorf("seed %d: grad-free variable not sampled, got %v", s, got)
		}
		if got := c.Get("c").Data[0]; got != 0 {
			t.Errorf("seed %d: gradient variable not zero-initialized, got %v", s, got)
		}
		if got := c.Get("target").Data[2]; got != 7 {
			t.Errorf("seed %d: output default not broadcast, got %v", s, got)
		}
	}
}

func TestInstantiateWarmStartOffset(t *testing.T) {
	m := NewManager()
	def := tensor.New(2)
	def.Fill(10)
	mustRegister(t, m, Descriptor{Name: "z", Shape: []int{2}, GradFree: true, Distribution: fixedDist{v: 1}, Default: def})

	cands, err := m.Instantiate(1, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("instantiate failed: %v", err)
	}
	if got := cands[0].Get("z").Data[0]; got != 11 {
		t.Errorf("expected sample + default = 11, got %v", got)
	}
}

func TestInstantiateInvalidSeeds(t *testing.T) {
	m := NewManager()
	if _, err := m.Instantiate(0, rand.New(rand.NewSource(1))); err == nil {
		t.Fatal("expected error for numSeeds < 1")
	}
}

func TestApplyHooksOrderAndIdempotence(t *testing.T) {
	m := NewManager()
	var order []string
	hook := func(name string) Hook {
		return func(v *tensor.Tensor) *tensor.Tensor {
			order = append(order, name)
			return v
		}
	}
	mustRegister(t, m, Descriptor{Name: "a", Shape: []int{1}, GradFree: true, Distribution: fixedDist{}, Hook: hook("a")})
	mustRegister(t, m, Descriptor{Name: "b", Shape: []int{1}, GradFree: true, Distribution: fixedDist{}, Hook: hook("b")})

	c := &Candidate{Values: map[string]*tensor.Tensor{"a": tensor.New(1), "b": tensor.New(1)}}
	m.ApplyHooks(c)
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Errorf("hooks not applied in registration order: %v", order)
	}

	// Clamping twice must equal clamping once.
	v, _ := tensor.FromSlice([]float64{-9, 0.3, 9}, 3)
	clamp := Clamp(2)
	once := clamp(v)
	twice := clamp(once)
	for i := range once.Data {
		if once.Data[i] != twice.Data[i] {
			t.Errorf("clamp not idempotent at %d: %v vs %v", i, once.Data[i], twice.Data[i])
		}
	}
}

func TestFreezeExcludesFromSearch(t *testing.T) {
	m := NewManager()
	mustRegister(t, m, Descriptor{Name: "z", Shape: []int{2}, GradFree: true, Distribution: fixedDist{}})
	mustRegister(t, m, Descriptor{Name: "c", Shape: []int{2}, RequiresGrad: true})

	if got := len(m.GradFreeNames()); got != 1 {
		t.Fatalf("expected 1 grad-free variable, got %d", got)
	}
	if err := m.Freeze("z"); err != nil {
		t.Fatalf("freeze failed: %v", err)
	}
	if got := len(m.GradFreeNames()); got != 0 {
		t.Errorf("frozen variable still listed for search")
	}
	if err := m.Freeze("missing"); err == nil {
		t.Error("freezing an unregistered variable should fail")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	m := NewManager()
	def := tensor.New(2)
	def.Fill(3)
	mustRegister(t, m, Descriptor{Name: "z", Shape: []int{2}, GradFree: true, Distribution: fixedDist{}, Default: def})

	snap := m.Snapshot()
	m2 := FromSnapshot(snap)

	// The rebuilt manager must not share descriptor state.
	if err := m2.SetDefault("z", tensor.New(2)); err != nil {
		t.Fatalf("set default on copy failed: %v", err)
	}
	d, _ := m.Descriptor("z")
	if d.Default.Data[0] != 3 {
		t.Error("snapshot copy shares default storage with the source")
	}
	if got := m2.Names(); len(got) != 1 || got[0] != "z" {
		t.Errorf("unexpected names after round trip: %v", got)
	}
}

func mustRegister(t *testing.T, m *Manager, d Descriptor) {
	t.Helper()
	if err := m.Register(d); err != nil {
		t.Fatalf("register %q failed: %v", d.Name, err)
	}
}
