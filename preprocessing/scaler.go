package preprocessing

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/mariiabilous/besca/core/model"
	"github.com/mariiabilous/besca/pkg/errors"
)

// StandardScaler はscikit-learn互換の標準化スケーラー
// 遺伝子（列）ごとに平均0、標準偏差1に変換する
type StandardScaler struct {
	State *model.StateManager

	// Mean は各特徴量の平均値
	Mean []float64

	// Scale は各特徴量の標準偏差（ほぼ0の場合は1）
	Scale []float64

	// WithMean は平均を引くかどうか (デフォルト: true)
	WithMean bool

	// WithStd は標準偏差で割るかどうか (デフォルト: true)
	WithStd bool
}

// NewStandardScaler は新しいStandardScalerを作成する
//
//	scaler := preprocessing.NewStandardScaler(true, true)
//	XScaled, err := scaler.FitTransform(X)
func NewStandardScaler(withMean, withStd bool) *StandardScaler {
	return &StandardScaler{
		State:    model.NewStateManager(),
		WithMean: withMean,
		WithStd:  withStd,
	}
}

// NewStandardScalerDefault はデフォルト設定でStandardScalerを作成する
func NewStandardScalerDefault() *StandardScaler {
	return NewStandardScaler(true, true)
}

// Fit は訓練データから列ごとの平均と母標準偏差を計算する
func (s *StandardScaler) Fit(X mat.Matrix) error {
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return errors.NewModelError("StandardScaler.Fit", "empty data", errors.ErrEmptyData)
	}

	s.Mean = make([]float64, c)
	s.Scale = make([]float64, c)
	col := make([]float64, r)
	for j := 0; j < c; j++ {
		mat.Col(col, j, X)
		mean, std := stat.PopMeanStdDev(col, nil)
		if s.WithMean {
			s.Mean[j] = mean
		}
		s.Scale[j] = 1.0
		// 標準偏差が0に近い場合は1のまま（ゼロ除算を避ける）
		if s.WithStd && std >= 1e-8 {
			s.Scale[j] = std
		}
	}
	if err := errors.CheckMatrix("StandardScaler.Fit", mat.NewVecDense(c, s.Scale), c, 1, 0); err != nil {
		return err
	}

	if s.State == nil {
		s.State = model.NewStateManager()
	}
	s.State.SetDimensions(c, r)
	s.State.SetFitted()
	return nil
}

// Transform は学習済みの統計情報を使ってデータを標準化する
func (s *StandardScaler) Transform(X mat.Matrix) (mat.Matrix, error) {
	if s.State == nil {
		return nil, errors.NewNotFittedError("StandardScaler", "Transform")
	}
	if err := s.State.RequireFitted("StandardScaler", "Transform"); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	if err := s.State.CheckFeatures("StandardScaler.Transform", c); err != nil {
		return nil, err
	}

	result := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		row := result.RawRowView(i)
		for j := 0; j < c; j++ {
			row[j] = (X.At(i, j) - s.Mean[j]) / s.Scale[j]
		}
	}
	return result, nil
}

// FitTransform は訓練データで学習し、同じデータを変換する
func (s *StandardScaler) FitTransform(X mat.Matrix) (mat.Matrix, error) {
	if err := s.Fit(X); err != nil {
		return nil, err
	}
	return s.Transform(X)
}

// InverseTransform は標準化されたデータを元のスケールに戻す
func (s *StandardScaler) InverseTransform(X mat.Matrix) (mat.Matrix, error) {
	if s.State == nil || !s.State.IsFitted() {
		return nil, errors.NewNotFittedError("StandardScaler", "InverseTransform")
	}
	r, c := X.Dims()
	if err := s.State.CheckFeatures("StandardScaler.InverseTransform", c); err != nil {
		return nil, err
	}

	result := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		row := result.RawRowView(i)
		for j := 0; j < c; j++ {
			row[j] = X.At(i, j)*s.Scale[j] + s.Mean[j]
		}
	}
	return result, nil
}

// GetParams はスケーラーのパラメータを取得する
func (s *StandardScaler) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"with_mean": s.WithMean,
		"with_std":  s.WithStd,
	}
}

// String はスケーラーの文字列表現を返す
func (s *StandardScaler) String() string {
	if s.State == nil || !s.State.IsFitted() {
		return fmt.Sprintf("StandardScaler(with_mean=%t, with_std=%t)", s.WithMean, s.WithStd)
	}
	nFeatures, _ := s.State.GetDimensions()
	return fmt.Sprintf("StandardScaler(with_mean=%t, with_std=%t, n_features=%d)",
		s.WithMean, s.WithStd, nFeatures)
}

// MarshalBinary encodes the fitted statistics.
func (s *StandardScaler) MarshalBinary() ([]byte, error) {
	snap := scalerSnapshot{Mean: s.Mean, Scale: s.Scale, WithMean: s.WithMean, WithStd: s.WithStd}
	if s.State != nil {
		snap.State = s.State.GetState()
	}
	return model.EncodeGob(snap)
}

// UnmarshalBinary restores a scaler written by MarshalBinary.
func (s *StandardScaler) UnmarshalBinary(data []byte) error {
	var snap scalerSnapshot
	if err := model.DecodeGob(data, &snap); err != nil {
		return err
	}
	s.Mean, s.Scale = snap.Mean, snap.Scale
	s.WithMean, s.WithStd = snap.WithMean, snap.WithStd
	s.State = model.NewStateManager()
	s.State.SetState(snap.State)
	if len(s.Scale) != snap.State.NFeatures {
		return errors.NewValueError("StandardScaler.UnmarshalBinary", "corrupt scaler statistics")
	}
	for _, v := range s.Scale {
		if v == 0 || math.IsNaN(v) {
			return errors.NewValueError("StandardScaler.UnmarshalBinary", "corrupt scaler statistics")
		}
	}
	return nil
}

type scalerSnapshot struct {
	Mean, Scale       []float64
	WithMean, WithStd bool
	State             model.ModelState
}
