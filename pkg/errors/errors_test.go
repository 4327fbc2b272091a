package errors

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewModelError(t *testing.T) {
	tests := []struct {
		name    string
		op      string
		kind    string
		err     error
		wantMsg string
	}{
		{
			name:    "with original error",
			op:      "Fit",
			kind:    "invalid input",
			err:     fmt.Errorf("test error"),
			wantMsg: "besca: Fit: invalid input: test error",
		},
		{
			name:    "without original error",
			op:      "Predict",
			kind:    "not fitted",
			wantMsg: "besca: Predict: not fitted",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewModelError(tt.op, tt.kind, tt.err)

			if err.Error() != tt.wantMsg {
				t.Errorf("Error() = %v, want %v", err.Error(), tt.wantMsg)
			}

			// スタックトレースの存在確認
			formatted := fmt.Sprintf("%+v", err)
			if !strings.Contains(formatted, "errors_test.go") {
				t.Error("Expected stack trace to contain test file name")
			}

			var modelErr *ModelError
			if !As(err, &modelErr) {
				t.Error("Error should be castable to *ModelError")
			}
		})
	}
}

func TestNewDimensionError(t *testing.T) {
	err := NewDimensionError("Predict", 10, 8, 1)

	want := "besca: Predict: dimension mismatch on axis 1 (features). Expected 10, got 8"
	if err.Error() != want {
		t.Errorf("Error() = %v, want %v", err.Error(), want)
	}

	var dimErr *DimensionError
	if !As(err, &dimErr) {
		t.Error("Error should be castable to *DimensionError")
	}
}

func TestNewNotFittedError(t *testing.T) {
	err := NewNotFittedError("LinearSVC", "Predict")

	want := "besca: LinearSVC: this model is not fitted yet. Call Fit() before using Predict()"
	if err.Error() != want {
		t.Errorf("Error() = %v, want %v", err.Error(), want)
	}

	var notFittedErr *NotFittedError
	if !As(err, &notFittedErr) {
		t.Error("Error should be castable to *NotFittedError")
	}
}

func TestDomainErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		target  interface{}
		wantMsg string
	}{
		{
			name:    "malformed input",
			err:     NewMalformedInputError("expr.csv", "duplicate gene id \"CD3E\""),
			target:  new(*MalformedInputError),
			wantMsg: "besca: malformed input expr.csv: duplicate gene id \"CD3E\"",
		},
		{
			name:    "no shared features",
			err:     NewNoSharedFeaturesError("pbmc", "liver"),
			target:  new(*NoSharedFeaturesError),
			wantMsg: "besca: no shared genes between datasets [pbmc, liver]",
		},
		{
			name:    "insufficient classes",
			err:     NewInsufficientClassesError("celltype", 1, ""),
			target:  new(*InsufficientClassesError),
			wantMsg: "besca: label column \"celltype\" has 1 distinct classes, at least 2 are required",
		},
		{
			name:    "insufficient classes with reason",
			err:     NewInsufficientClassesError("celltype", 0, "column not found"),
			target:  new(*InsufficientClassesError),
			wantMsg: "besca: label column \"celltype\": column not found",
		},
		{
			name:    "probability unsupported",
			err:     NewProbabilityUnsupportedError("SGDClassifier"),
			target:  new(*ProbabilityUnsupportedError),
			wantMsg: "besca: SGDClassifier does not provide class probabilities",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Error() != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", tt.err.Error(), tt.wantMsg)
			}
			if !As(tt.err, tt.target) {
				t.Errorf("Error should be castable to %T", tt.target)
			}
			wrapped := Wrap(tt.err, "pipeline")
			if !As(wrapped, tt.target) {
				t.Error("wrapped error should still be castable")
			}
		})
	}
}

func TestGeneMismatchError(t *testing.T) {
	missing := []string{"g1", "g2", "g3", "g4", "g5", "g6", "g7"}
	err := NewGeneMismatchError(missing, 10, 4)

	var gm *GeneMismatchError
	if !As(err, &gm) {
		t.Fatal("Error should be castable to *GeneMismatchError")
	}
	if len(gm.Missing) != 7 {
		t.Errorf("Missing = %d genes, want 7", len(gm.Missing))
	}
	msg := err.Error()
	if !strings.Contains(msg, "7 of 10 training genes missing") {
		t.Errorf("unexpected message: %s", msg)
	}
	if !strings.Contains(msg, "g5, ...") || strings.Contains(msg, "g6") {
		t.Errorf("message should list the first five genes only: %s", msg)
	}
}

func TestMarshalZerologObject(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	var gm *GeneMismatchError
	_ = As(NewGeneMismatchError([]string{"CD4"}, 3, 2), &gm)
	logger.Error().Object("error", gm).Msg("prediction failed")

	out := buf.String()
	for _, want := range []string{`"type":"GeneMismatchError"`, `"missing":["CD4"]`, `"expected":3`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output %s does not contain %s", out, want)
		}
	}
}

func TestWarn(t *testing.T) {
	var got []error
	SetWarningHandler(func(w error) { got = append(got, w) })
	defer SetWarningHandler(func(w error) {})

	Warn(NewConvergenceWarning("LinearSVC", 1000, ""))
	Warn(NewBatchCorrectionWarning("batch2", "no mutual nearest neighbours"))

	if len(got) != 2 {
		t.Fatalf("expected 2 warnings, got %d", len(got))
	}
	want := "LinearSVC failed to converge after 1000 iterations. Consider increasing max_iter or adjusting parameters."
	if got[0].Error() != want {
		t.Errorf("Error() = %q, want %q", got[0].Error(), want)
	}
	if !strings.Contains(got[1].Error(), `"batch2" left uncorrected`) {
		t.Errorf("unexpected warning: %v", got[1])
	}
}

func TestWrapf(t *testing.T) {
	wrapped := Wrapf(ErrEmptyData, "in %s: expected %d, got %d", "Predict", 10, 5)

	if !Is(wrapped, ErrEmptyData) {
		t.Error("Expected Is(wrapped, ErrEmptyData) to be true")
	}
	if !strings.Contains(wrapped.Error(), "in Predict: expected 10, got 5") {
		t.Errorf("unexpected message %q", wrapped.Error())
	}
}

func TestNumericalHelpers(t *testing.T) {
	row := []float64{1000, 1000, 1000}
	Softmax(row)
	for _, v := range row {
		if math.Abs(v-1.0/3) > 1e-12 {
			t.Errorf("Softmax gave %v, want 1/3", v)
		}
	}

	zero := []float64{0, 0, 0, 0}
	NormalizeRow(zero)
	for _, v := range zero {
		if v != 0.25 {
			t.Errorf("NormalizeRow of zero row gave %v, want 0.25", v)
		}
	}

	if err := CheckScalar("platt_scaling", math.NaN(), 3); err == nil {
		t.Error("CheckScalar should reject NaN")
	}
	if SafeDivide(1, 0) != 0 {
		t.Error("SafeDivide(1, 0) should be 0")
	}
	if v := StabilizeExp(-1e6); v != 0 {
		t.Errorf("StabilizeExp(-1e6) = %v, want 0", v)
	}
	if v := StabilizeExp(1e6); math.IsInf(v, 1) {
		t.Error("StabilizeExp should not overflow")
	}
	if v := StabilizeExp(-2); math.Abs(v-math.Exp(-2)) > 1e-15 {
		t.Errorf("StabilizeExp(-2) = %v", v)
	}
}
