package centroid

import (
	"math"
	"math/rand/v2"
	"testing"
)

func approxEqual(a, b []float32, tol float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(float64(a[i])-float64(b[i])) > tol {
			return false
		}
	}
	return true
}

func TestMean(t *testing.T) {
	tests := []struct {
		name     string
		vectors  [][]float32
		expected []float32
	}{
		{"single vector", [][]float32{{1, 2, 3}}, []float32{1, 2, 3}},
		{"two vectors", [][]float32{{1, 0}, {0, 1}}, []float32{0.5, 0.5}},
		{"three vectors", [][]float32{{3, -3}, {0, 0}, {-3, 6}}, []float32{0, 1}},
		{"negative values", [][]float32{{-1, -2}, {-3, -4}}, []float32{-2, -3}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Mean(tc.vectors)
			if !approxEqual(got, tc.expected, 1e-6) {
				t.Errorf("Mean() = %v; want %v", got, tc.expected)
			}
		})
	}
}

func TestMean_SingleVectorIsCopy(t *testing.T) {
	in := []float32{0.25, 0.5}
	out := Mean([][]float32{in})
	out[0] = 99

	if in[0] != 0.25 {
		t.Error("expected Mean to return a fresh slice")
	}
}

func TestMean_PermutationInvariant(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	vectors := make([][]float32, 20)
	for i := range vectors {
		vectors[i] = make([]float32, 64)
		for j := range vectors[i] {
			vectors[i][j] = rng.Float32()*2 - 1
		}
	}

	want := Mean(vectors)
	for range 5 {
		shuffled := make([][]float32, len(vectors))
		copy(shuffled, vectors)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		if got := Mean(shuffled); !approxEqual(got, want, 1e-6) {
			t.Fatal("expected mean to be independent of input order")
		}
	}
}

func TestMean_PanicsOnEmpty(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for empty batch")
		}
	}()
	Mean(nil)
}

func TestMean_PanicsOnLengthMismatch(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for mismatched lengths")
		}
	}()
	Mean([][]float32{{1, 2}, {1, 2, 3}})
}

func TestTrimmedMean(t *testing.T) {
	vectors := [][]float32{{1}, {2}, {3}, {4}, {100}}

	// floor(5*0.2) = 1 value dropped from each end: mean(2,3,4) = 3
	got := TrimmedMean(vectors, 0.2)
	if !approxEqual(got, []float32{3}, 1e-6) {
		t.Errorf("TrimmedMean() = %v; want [3]", got)
	}
}

func TestTrimmedMean_FallsBackToMean(t *testing.T) {
	vectors := [][]float32{{1, 2}, {3, 4}}

	got := TrimmedMean(vectors, 0.1)
	if !approxEqual(got, Mean(vectors), 1e-9) {
		t.Errorf("expected fallback to Mean, got %v", got)
	}
}

func TestByName(t *testing.T) {
	tests := []struct {
		name    string
		trim    float64
		wantErr bool
	}{
		{"", 0, false},
		{"mean", 0, false},
		{"MEAN", 0, false},
		{"trimmed", 0.1, false},
		{"trimmed", 0.5, true},
		{"median", 0, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			strategy, err := ByName(tc.name, tc.trim)
			if tc.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := strategy([][]float32{{2, 4}}); !approxEqual(got, []float32{2, 4}, 1e-9) {
				t.Errorf("unexpected result %v", got)
			}
		})
	}
}
