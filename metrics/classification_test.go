package metrics

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestAUC(t *testing.T) {
	tests := []struct {
		name    string
		yTrue   []float64
		yPred   []float64
		want    float64
		wantErr bool
	}{
		{
			name:  "Perfect separation",
			yTrue: []float64{0, 0, 0, 1, 1, 1},
			yPred: []float64{0.1, 0.2, 0.3, 0.7, 0.8, 0.9},
			want:  1.0,
		},
		{
			name:  "Reversed",
			yTrue: []float64{0, 0, 0, 1, 1, 1},
			yPred: []float64{0.9, 0.8, 0.7, 0.3, 0.2, 0.1},
			want:  0.0,
		},
		{
			name:  "All ties",
			yTrue: []float64{0, 1, 0, 1},
			yPred: []float64{0.5, 0.5, 0.5, 0.5},
			want:  0.5,
		},
		{
			name:  "One inversion",
			yTrue: []float64{0, 0, 1, 1},
			yPred: []float64{0.1, 0.4, 0.35, 0.8},
			want:  0.75,
		},
		{
			name:  "Single class", // undefined, reported as 0.5
			yTrue: []float64{1, 1, 1, 1},
			yPred: []float64{0.1, 0.4, 0.35, 0.8},
			want:  0.5,
		},
		{
			name:    "Non-binary labels",
			yTrue:   []float64{0, 0.5, 1},
			yPred:   []float64{0.1, 0.5, 0.9},
			wantErr: true,
		},
		{
			name:    "Dimension mismatch",
			yTrue:   []float64{0, 1},
			yPred:   []float64{0.5},
			wantErr: true,
		},
		{
			name:    "Empty vectors",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var yTrue, yPred *mat.VecDense
			if len(tt.yTrue) > 0 {
				yTrue = mat.NewVecDense(len(tt.yTrue), tt.yTrue)
			}
			if len(tt.yPred) > 0 {
				yPred = mat.NewVecDense(len(tt.yPred), tt.yPred)
			}

			got, err := AUC(yTrue, yPred)
			if (err != nil) != tt.wantErr {
				t.Errorf("AUC() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("AUC() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOneVsRestAUC(t *testing.T) {
	truth := []string{"B", "T", "NK", "T"}
	got, err := OneVsRestAUC(truth, "T", []float64{0.1, 0.9, 0.3, 0.2})
	if err != nil {
		t.Fatalf("OneVsRestAUC() error = %v", err)
	}
	// T scores 0.9 and 0.2 against 0.1 and 0.3: three of four pairs ordered.
	if math.Abs(got-0.75) > 1e-12 {
		t.Errorf("OneVsRestAUC() = %v, want 0.75", got)
	}

	if got, _ := OneVsRestAUC(truth, "Mono", []float64{0.1, 0.2, 0.3, 0.4}); got != 0.5 {
		t.Errorf("absent label should give 0.5, got %v", got)
	}
	if _, err := OneVsRestAUC(truth, "T", []float64{0.1}); err == nil {
		t.Error("Expected dimension error")
	}
	if _, err := OneVsRestAUC(nil, "T", nil); err == nil {
		t.Error("Expected error for empty input")
	}
}

func TestAccuracy(t *testing.T) {
	tests := []struct {
		name    string
		truth   []string
		pred    []string
		want    float64
		wantErr bool
	}{
		{
			name:  "All correct",
			truth: []string{"B", "T", "NK"},
			pred:  []string{"B", "T", "NK"},
			want:  1.0,
		},
		{
			name:  "One of five wrong",
			truth: []string{"B", "T", "NK", "T", "B"},
			pred:  []string{"B", "T", "T", "T", "B"},
			want:  0.8,
		},
		{
			name:  "Unseen prediction",
			truth: []string{"B", "B"},
			pred:  []string{"Mono", "Mono"},
			want:  0.0,
		},
		{
			name:    "Empty",
			wantErr: true,
		},
		{
			name:    "Length mismatch",
			truth:   []string{"B", "T"},
			pred:    []string{"B"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Accuracy(tt.truth, tt.pred)
			if (err != nil) != tt.wantErr {
				t.Errorf("Accuracy() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Accuracy() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLogLoss(t *testing.T) {
	proba := mat.NewDense(3, 3, []float64{
		0.8, 0.1, 0.1,
		0.2, 0.5, 0.3,
		0, 0, 1,
	})
	got, err := LogLoss([]int{0, 1, 2}, proba)
	if err != nil {
		t.Fatalf("LogLoss() error = %v", err)
	}
	want := -(math.Log(0.8) + math.Log(0.5) + math.Log(1-logLossEps)) / 3
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("LogLoss() = %v, want %v", got, want)
	}

	// A zero probability on the true class is clipped, not infinite.
	got, err = LogLoss([]int{2, 2, 0}, proba)
	if err != nil || math.IsInf(got, 0) {
		t.Errorf("LogLoss() = %v, %v; want a finite value", got, err)
	}

	if _, err := LogLoss([]int{0, 1}, proba); err == nil {
		t.Error("Expected dimension error")
	}
	if _, err := LogLoss([]int{0, 1, 3}, proba); err == nil {
		t.Error("Expected error for out of range class")
	}
	if _, err := LogLoss(nil, proba); err == nil {
		t.Error("Expected error for empty input")
	}
}
