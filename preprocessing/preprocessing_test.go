package preprocessing

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestStandardScaler(t *testing.T) {
	X := mat.NewDense(4, 2, []float64{
		1, 10,
		2, 10,
		3, 10,
		4, 10,
	})

	scaler := NewStandardScalerDefault()
	if _, err := scaler.Transform(X); err == nil {
		t.Fatal("Transform before Fit should fail")
	}

	Xs, err := scaler.FitTransform(X)
	if err != nil {
		t.Fatal(err)
	}

	// 定数列はスケール1、平均0へ
	if got := scaler.Scale[1]; got != 1.0 {
		t.Errorf("constant column scale = %v, want 1", got)
	}
	sum := 0.0
	for i := 0; i < 4; i++ {
		sum += Xs.At(i, 0)
		if Xs.At(i, 1) != 0 {
			t.Errorf("constant column should become 0, got %v", Xs.At(i, 1))
		}
	}
	if math.Abs(sum) > 1e-12 {
		t.Errorf("column mean after scaling = %v, want 0", sum/4)
	}
	wantFirst := (1 - 2.5) / math.Sqrt(1.25)
	if math.Abs(Xs.At(0, 0)-wantFirst) > 1e-12 {
		t.Errorf("Xs[0,0] = %v, want %v", Xs.At(0, 0), wantFirst)
	}

	back, err := scaler.InverseTransform(Xs)
	if err != nil {
		t.Fatal(err)
	}
	if !mat.EqualApprox(back, X, 1e-12) {
		t.Error("InverseTransform did not restore the input")
	}

	if _, err := scaler.Transform(mat.NewDense(1, 3, nil)); err == nil {
		t.Error("expected dimension error")
	}
}

func TestStandardScalerBinaryRoundTrip(t *testing.T) {
	X := mat.NewDense(3, 2, []float64{1, 2, 3, 4, 5, 9})
	scaler := NewStandardScalerDefault()
	if err := scaler.Fit(X); err != nil {
		t.Fatal(err)
	}
	data, err := scaler.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}

	var restored StandardScaler
	if err := restored.UnmarshalBinary(data); err != nil {
		t.Fatal(err)
	}
	a, _ := scaler.Transform(X)
	b, err := restored.Transform(X)
	if err != nil {
		t.Fatal(err)
	}
	if !mat.Equal(a, b) {
		t.Error("restored scaler transforms differently")
	}
}

func TestNormalizeTotalAndLog1p(t *testing.T) {
	counts := mat.NewDense(3, 3, []float64{
		1, 1, 2,
		0, 0, 0,
		10, 0, 30,
	})
	norm, err := NormalizeTotal(counts, 100)
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		i, j int
		want float64
	}{
		{0, 0, 25}, {0, 2, 50}, {1, 1, 0}, {2, 2, 75},
	}
	for _, tt := range tests {
		if got := norm.At(tt.i, tt.j); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("norm[%d,%d] = %v, want %v", tt.i, tt.j, got, tt.want)
		}
	}
	if counts.At(0, 0) != 1 {
		t.Error("NormalizeTotal must not modify its input")
	}

	logged := Log1p(norm)
	if math.Abs(logged.At(0, 0)-math.Log(26)) > 1e-12 {
		t.Errorf("log1p(25) = %v", logged.At(0, 0))
	}

	if _, err := NormalizeTotal(mat.NewDense(1, 2, []float64{1, -1}), 100); err == nil {
		t.Error("negative counts should be rejected")
	}
	if _, err := NormalizeTotal(counts, 0); err == nil {
		t.Error("non-positive target sum should be rejected")
	}
}
