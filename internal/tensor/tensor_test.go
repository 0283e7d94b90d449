package tensor

import (
	"math"
	"testing"
)

func TestNewZeroFilled(t *testing.T) {
	tt := New(2, 3)
	if tt.Len() != 6 {
		t.Fatalf("expected 6 elements, got %d", tt.Len())
	}
	for i, v := range tt.Data {
		if v != 0 {
			t.Errorf("element %d not zero: %v", i, v)
		}
	}
}

func TestFromSliceShapeMismatch(t *testing.T) {
	_, err := FromSlice([]float64{1, 2, 3}, 2, 2)
	if err == nil {
		t.Fatal("expected error for mismatched shape")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	a := New(4)
	a.Fill(1)
	b := a.Clone()
	b.Data[0] = 99
	if a.Data[0] != 1 {
		t.Error("clone mutation leaked into original")
	}
}

func TestClamp(t *testing.T) {
	tt, _ := FromSlice([]float64{-5, 0.5, 5}, 3)
	tt.Clamp(-1, 1)
	want := []float64{-1, 0.5, 1}
	for i, v := range tt.Data {
		if v != want[i] {
			t.Errorf("element %d: got %v, want %v", i, v, want[i])
		}
	}
}

func TestIsFinite(t *testing.T) {
	tt, _ := FromSlice([]float64{1, 2}, 2)
	if !tt.IsFinite() {
		t.Error("finite tensor reported non-finite")
	}
	tt.Data[1] = math.NaN()
	if tt.IsFinite() {
		t.Error("NaN not detected")
	}
	tt.Data[1] = math.Inf(1)
	if tt.IsFinite() {
		t.Error("Inf not detected")
	}
}

func TestStackSplitRoundTrip(t *testing.T) {
	a, _ := FromSlice([]float64{1, 2}, 2)
	b, _ := FromSlice([]float64{3, 4}, 2)
	s, err := Stack([]*Tensor{a, b})
	if err != nil {
		t.Fatalf("stack failed: %v", err)
	}
	if s.Shape[0] != 2 || s.Shape[1] != 2 {
		t.Fatalf("unexpected stacked shape %v", s.Shape)
	}

	parts := s.Split()
	if len(parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(parts))
	}
	for i, v := range []float64{3, 4} {
		if parts[1].Data[i] != v {
			t.Errorf("part 1 element %d: got %v, want %v", i, parts[1].Data[i], v)
		}
	}

	// Split copies; mutating a part must not touch the stack.
	parts[0].Data[0] = 42
	if s.Data[0] != 1 {
		t.Error("split part shares storage with the stacked tensor")
	}
}

func TestStackShapeMismatch(t *testing.T) {
	a := New(2)
	b := New(3)
	if _, err := Stack([]*Tensor{a, b}); err == nil {
		t.Fatal("expected shape mismatch error")
	}
}
