// Package model provides the interfaces, fitted-state bookkeeping and
// persistence helpers shared by every classifier backend.
package model

import (
	"encoding"

	"gonum.org/v1/gonum/mat"
)

// Fitter は学習可能なモデルのインターフェース
type Fitter interface {
	// Fit はモデルを訓練データで学習させる。y はクラス番号を float64 で持つ列ベクトル。
	Fit(X, y mat.Matrix) error
}

// Predictor は予測可能なモデルのインターフェース
type Predictor interface {
	Predict(X mat.Matrix) (mat.Matrix, error)
}

// Transformer はデータ変換のインターフェース
type Transformer interface {
	Fit(X mat.Matrix) error
	Transform(X mat.Matrix) (mat.Matrix, error)
	FitTransform(X mat.Matrix) (mat.Matrix, error)
}

// Classifier combines the operations every annotation backend implements.
// Predict returns class indices as float64 in an (n, 1) matrix; PredictProba
// returns an (n, len(Classes())) matrix whose columns follow Classes().
type Classifier interface {
	Fitter
	Predictor

	// PredictProba returns probability estimates for each class.
	PredictProba(X mat.Matrix) (mat.Matrix, error)

	// Classes returns the sorted class indices seen during fitting.
	Classes() []int
}

// DecisionFunctioner is implemented by margin based classifiers.
type DecisionFunctioner interface {
	// DecisionFunction returns one signed score per sample and class.
	DecisionFunction(X mat.Matrix) (*mat.Dense, error)
}

// ParameterGetter is the interface for models that expose their parameters.
type ParameterGetter interface {
	GetParams() map[string]interface{}
}

// ParameterSetter is the interface for models that allow parameter modification.
type ParameterSetter interface {
	SetParams(params map[string]interface{}) error
}

// BinaryModel is a Classifier that can serialize its fitted state.
type BinaryModel interface {
	Classifier
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}
