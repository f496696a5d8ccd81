package policy

import (
	"context"
	"errors"
	"math"
	"testing"
)

func sum(v []float64) float64 {
	s := 0.0
	for _, x := range v {
		s += x
	}
	return s
}

func TestUniform(t *testing.T) {
	r, err := Uniform{}.Split(context.Background(), make([][]float64, 4), nil)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	for i, v := range r {
		if v != 0.25 {
			t.Fatalf("ratio %d = %v, want 0.25", i, v)
		}
	}
	if _, err := (Uniform{}).Split(context.Background(), nil, nil); !errors.Is(err, ErrInvalidRatios) {
		t.Fatalf("empty err = %v, want ErrInvalidRatios", err)
	}
}

func TestSoftmaxPrefersBetterRoute(t *testing.T) {
	features := [][]float64{
		{0.3, 0.5, 0.9, 0.2},
		{0.8, 2.0, 0.6, 0.7},
		{1.0, 3.0, 0.5, 0.9},
	}
	r, err := NewSoftmax().Split(context.Background(), features, nil)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if err := Validate(r, 3); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !(r[0] > r[1] && r[1] >= r[2]) {
		t.Fatalf("ratios = %v, want descending", r)
	}
	// floor 0.1 survives renormalisation
	for i, v := range r {
		if v < 0.05 {
			t.Fatalf("ratio %d = %v collapsed below floor", i, v)
		}
	}
}

func TestSoftmaxRejectsShortFeatures(t *testing.T) {
	_, err := NewSoftmax().Split(context.Background(), [][]float64{{1, 2}}, nil)
	if !errors.Is(err, ErrInvalidRatios) {
		t.Fatalf("err = %v, want ErrInvalidRatios", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		ratios []float64
		n      int
		ok     bool
	}{
		{"exact", []float64{0.34, 0.33, 0.33}, 3, true},
		{"length", []float64{0.5, 0.5}, 3, false},
		{"negative", []float64{1.2, -0.2}, 2, false},
		{"sum", []float64{0.5, 0.4}, 2, false},
		{"nan", []float64{math.NaN(), 1}, 2, false},
	}
	for _, tt := range tests {
		err := Validate(tt.ratios, tt.n)
		if (err == nil) != tt.ok {
			t.Fatalf("%s: Validate = %v, want ok=%v", tt.name, err, tt.ok)
		}
		if err != nil && !errors.Is(err, ErrInvalidRatios) {
			t.Fatalf("%s: err = %v, want ErrInvalidRatios", tt.name, err)
		}
	}
}

func TestNormalize(t *testing.T) {
	r, err := Normalize([]float64{2, 1, 1})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if r[0] != 0.5 || math.Abs(sum(r)-1) > 1e-12 {
		t.Fatalf("Normalize = %v", r)
	}
	if _, err := Normalize([]float64{0, 0}); !errors.Is(err, ErrInvalidRatios) {
		t.Fatalf("zero err = %v, want ErrInvalidRatios", err)
	}
}

func TestReward(t *testing.T) {
	got := Reward(math.E*math.E, 1, 0.5)
	if math.Abs(got-1) > 1e-6 {
		t.Fatalf("Reward = %v, want 1", got)
	}
	if Reward(900, 0.01, 0.5) <= Reward(900, 0.1, 0.5) {
		t.Fatalf("lower delay did not raise reward")
	}
}

func TestByName(t *testing.T) {
	if _, err := ByName("uniform"); err != nil {
		t.Fatalf("ByName(uniform): %v", err)
	}
	if p, _ := ByName(""); p == nil {
		t.Fatalf("ByName(\"\") = nil")
	}
	if _, err := ByName("drl"); err == nil {
		t.Fatalf("ByName(drl) succeeded")
	}
}
