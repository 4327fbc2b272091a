package linear_model

import (
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/mariiabilous/besca/pkg/errors"
)

func TestSGDClassifier_Binary(t *testing.T) {
	X, y := separableWithNoise(25, 2, 1)

	sgd := NewSGDClassifier(WithSGDRandomState(42))
	if err := sgd.Fit(X, y); err != nil {
		t.Fatalf("Failed to fit: %v", err)
	}

	pred, err := sgd.Predict(X)
	if err != nil {
		t.Fatalf("Failed to predict: %v", err)
	}
	correct := 0
	for i := 0; i < 50; i++ {
		if pred.At(i, 0) == y.At(i, 0) {
			correct++
		}
	}
	if acc := float64(correct) / 50; acc < 0.95 {
		t.Errorf("Accuracy too low: %v", acc)
	}

	scores, err := sgd.DecisionFunction(X)
	if err != nil {
		t.Fatalf("Failed to compute decision function: %v", err)
	}
	if _, c := scores.Dims(); c != 1 {
		t.Errorf("Binary problem should have one score column, got %d", c)
	}
	if sgd.NIter() < 1 {
		t.Errorf("Expected at least one epoch, got %d", sgd.NIter())
	}
}

func TestSGDClassifier_Multiclass(t *testing.T) {
	X := mat.NewDense(12, 2, []float64{
		0, 0, 0.2, 0.1, 0.1, 0.3, 0.3, 0.2,
		5, 5, 5.2, 4.9, 4.8, 5.1, 5.1, 5.3,
		0, 5, 0.2, 5.1, 0.1, 4.8, 0.3, 5.2,
	})
	y := mat.NewDense(12, 1, []float64{3, 3, 3, 3, 7, 7, 7, 7, 9, 9, 9, 9})

	sgd := NewSGDClassifier(WithSGDRandomState(0))
	if err := sgd.Fit(X, y); err != nil {
		t.Fatalf("Failed to fit: %v", err)
	}
	if got := sgd.Classes(); len(got) != 3 || got[0] != 3 || got[2] != 9 {
		t.Errorf("Unexpected classes: %v", got)
	}

	pred, err := sgd.Predict(X)
	if err != nil {
		t.Fatalf("Failed to predict: %v", err)
	}
	correct := 0
	for i := 0; i < 12; i++ {
		if pred.At(i, 0) == y.At(i, 0) {
			correct++
		}
	}
	if correct < 11 {
		t.Errorf("Expected at least 11 of 12 correct, got %d", correct)
	}
}

func TestSGDClassifier_Deterministic(t *testing.T) {
	X, y := separableWithNoise(20, 3, 9)

	a := NewSGDClassifier(WithSGDRandomState(5))
	b := NewSGDClassifier(WithSGDRandomState(5))
	if err := a.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	if err := b.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	sa, _ := a.DecisionFunction(X)
	sb, _ := b.DecisionFunction(X)
	if !mat.Equal(sa, sb) {
		t.Error("Same seed should give identical models")
	}
}

func TestSGDClassifier_NoProbabilities(t *testing.T) {
	X, y := separableWithNoise(5, 0, 2)
	sgd := NewSGDClassifier()
	if err := sgd.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	_, err := sgd.PredictProba(X)
	var pu *errors.ProbabilityUnsupportedError
	if !errors.As(err, &pu) {
		t.Fatalf("Expected ProbabilityUnsupportedError, got %v", err)
	}
	if pu.ModelName != "SGDClassifier" {
		t.Errorf("Unexpected model name %q", pu.ModelName)
	}
}

func TestSGDClassifier_MarshalBinary(t *testing.T) {
	X, y := separableWithNoise(10, 1, 4)
	sgd := NewSGDClassifier(WithSGDLoss("modified_huber"))
	if err := sgd.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	data, err := sgd.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	restored := NewSGDClassifier()
	if err := restored.UnmarshalBinary(data); err != nil {
		t.Fatal(err)
	}
	want, _ := sgd.DecisionFunction(X)
	got, err := restored.DecisionFunction(X)
	if err != nil {
		t.Fatal(err)
	}
	if !mat.Equal(want, got) {
		t.Error("Restored model gives different scores")
	}
	if restored.GetParams()["loss"] != "modified_huber" {
		t.Errorf("Hyperparameters not restored: %v", restored.GetParams())
	}
}

func TestSGDClassifier_Params(t *testing.T) {
	sgd := NewSGDClassifier()
	if err := sgd.SetParams(map[string]interface{}{"alpha": 0.01, "max_iter": 50}); err != nil {
		t.Fatalf("Failed to set params: %v", err)
	}
	if sgd.alpha != 0.01 || sgd.maxIter != 50 {
		t.Errorf("Params not applied: %v", sgd.GetParams())
	}
	if err := sgd.SetParams(map[string]interface{}{"alpha": "big"}); err == nil {
		t.Error("Expected a type error")
	}
	if err := sgd.SetParams(map[string]interface{}{"eta0": 1.0}); err == nil {
		t.Error("Expected an unknown parameter error")
	}

	X := mat.NewDense(2, 1, []float64{0, 1})
	if _, err := NewSGDClassifier().Predict(X); err == nil {
		t.Error("Expected error when predicting without fitting")
	}
	bad := NewSGDClassifier(WithSGDLoss("perceptron"))
	if err := bad.Fit(X, mat.NewDense(2, 1, []float64{0, 1})); err == nil {
		t.Error("Expected validation error for unknown loss")
	}
}
