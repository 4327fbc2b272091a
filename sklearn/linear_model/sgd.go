package linear_model

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/mariiabilous/besca/core/model"
	"github.com/mariiabilous/besca/pkg/errors"
)

// SGDClassifier は確率的勾配降下法で学習する線形分類モデル
// scikit-learnのSGDClassifier(loss="hinge", learning_rate="optimal")と互換性を持つ
// 多クラスは one-vs-rest。確率出力は提供しない。
type SGDClassifier struct {
	state *model.StateManager

	// ハイパーパラメータ
	loss           string  // 損失関数: "hinge", "modified_huber", "log_loss"
	alpha          float64 // 正則化の強さ
	fitIntercept   bool    // 切片を学習するか
	maxIter        int     // 最大エポック数
	tol            float64 // 収束判定の許容誤差 (0以下で無効)
	nIterNoChange  int     // 改善なしで停止するまでのエポック数
	shuffle        bool    // 各エポックでデータをシャッフルするか
	randomState    int64   // 乱数シード

	// 学習パラメータ
	coef_      [][]float64 // 重み係数（マシン数 x 特徴数）
	intercept_ []float64   // 切片
	classes_   []int       // クラスラベル
	nIter_     int         // 実行されたエポック数（マシン間の最大）
	t_         int64       // 総ステップ数
}

// SGDOption は設定オプション
type SGDOption func(*SGDClassifier)

// NewSGDClassifier は新しいSGDClassifierを作成
func NewSGDClassifier(opts ...SGDOption) *SGDClassifier {
	s := &SGDClassifier{
		state:         model.NewStateManager(),
		loss:          "hinge",
		alpha:         1e-4,
		fitIntercept:  true,
		maxIter:       1000,
		tol:           1e-3,
		nIterNoChange: 5,
		shuffle:       true,
		randomState:   0,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithSGDLoss は損失関数を設定
func WithSGDLoss(loss string) SGDOption { return func(s *SGDClassifier) { s.loss = loss } }

// WithSGDAlpha は正則化の強さを設定
func WithSGDAlpha(alpha float64) SGDOption { return func(s *SGDClassifier) { s.alpha = alpha } }

// WithSGDMaxIter は最大エポック数を設定
func WithSGDMaxIter(n int) SGDOption { return func(s *SGDClassifier) { s.maxIter = n } }

// WithSGDTol は収束判定の許容誤差を設定
func WithSGDTol(tol float64) SGDOption { return func(s *SGDClassifier) { s.tol = tol } }

// WithSGDRandomState は乱数シードを設定
func WithSGDRandomState(seed int64) SGDOption { return func(s *SGDClassifier) { s.randomState = seed } }

// WithSGDShuffle は各エポックのシャッフル有無を設定
func WithSGDShuffle(shuffle bool) SGDOption { return func(s *SGDClassifier) { s.shuffle = shuffle } }

// dloss は損失のマージン p に関する微分 (y は ±1)
func (s *SGDClassifier) dloss(p, y float64) float64 {
	z := p * y
	switch s.loss {
	case "modified_huber":
		if z >= 1 {
			return 0
		}
		if z >= -1 {
			return 2 * (1 - z) * -y
		}
		return -4 * y
	case "log_loss":
		if z > 18 {
			return -y * math.Exp(-z)
		}
		if z < -18 {
			return -y
		}
		return -y / (math.Exp(z) + 1)
	default:
		if z < 1 {
			return -y
		}
		return 0
	}
}

// lossValue は停止判定に使う損失の値
func (s *SGDClassifier) lossValue(p, y float64) float64 {
	z := p * y
	switch s.loss {
	case "modified_huber":
		if z >= 1 {
			return 0
		}
		if z >= -1 {
			return (1 - z) * (1 - z)
		}
		return -4 * z
	case "log_loss":
		return softplus(-z)
	default:
		return math.Max(0, 1-z)
	}
}

func (s *SGDClassifier) validate() error {
	switch s.loss {
	case "hinge", "modified_huber", "log_loss":
	default:
		return errors.NewValidationError("loss", "must be hinge, modified_huber or log_loss", s.loss)
	}
	if s.alpha <= 0 {
		return errors.NewValidationError("alpha", "must be positive", s.alpha)
	}
	if s.maxIter < 1 {
		return errors.NewValidationError("max_iter", "must be positive", s.maxIter)
	}
	return nil
}

// Fit はバッチデータでモデルを訓練する
func (s *SGDClassifier) Fit(X, y mat.Matrix) error {
	if err := s.validate(); err != nil {
		return err
	}
	classes, yIdx, err := model.EncodeClasses("SGDClassifier.Fit", X, y)
	if err != nil {
		return err
	}
	Xd := mat.DenseCopyOf(X)
	nSamples, nFeatures := Xd.Dims()

	s.state.Reset()
	s.classes_ = classes
	s.coef_, s.intercept_ = nil, nil
	s.nIter_, s.t_ = 0, 0

	machines := len(classes)
	if machines == 2 {
		machines = 1
	}
	converged := true
	for m := 0; m < machines; m++ {
		positive := m
		if len(classes) == 2 {
			positive = 1
		}
		target := make([]float64, nSamples)
		for i, c := range yIdx {
			target[i] = -1
			if c == positive {
				target[i] = 1
			}
		}
		w, b, epochs, ok := s.fitBinary(Xd, target, s.randomState+int64(m))
		converged = converged && ok
		if epochs > s.nIter_ {
			s.nIter_ = epochs
		}
		s.coef_ = append(s.coef_, w)
		s.intercept_ = append(s.intercept_, b)
	}
	if !converged {
		errors.Warn(errors.NewConvergenceWarning("SGDClassifier", s.nIter_,
			"maximum number of epochs reached before the loss stopped improving"))
	}

	s.state.SetDimensions(nFeatures, nSamples)
	s.state.SetFitted()
	return nil
}

// fitBinary は ±1 ラベルに対する1つの線形マシンを学習する。
// 学習率は optimal スケジュール eta = 1 / (alpha * (t0 + t))。
func (s *SGDClassifier) fitBinary(X *mat.Dense, target []float64, seed int64) ([]float64, float64, int, bool) {
	nSamples, nFeatures := X.Dims()
	w := make([]float64, nFeatures)
	b := 0.0

	typw := math.Sqrt(1.0 / math.Sqrt(s.alpha))
	eta0 := typw / math.Max(1.0, s.dloss(-typw, 1.0))
	t0 := 1.0 / (eta0 * s.alpha)

	rng := rand.New(rand.NewSource(seed))
	order := make([]int, nSamples)
	for i := range order {
		order[i] = i
	}

	bestLoss := math.Inf(1)
	noImprovement := 0
	t := 1.0
	epoch := 0
	for epoch < s.maxIter {
		epoch++
		if s.shuffle {
			rng.Shuffle(nSamples, func(i, j int) { order[i], order[j] = order[j], order[i] })
		}
		sumLoss := 0.0
		for _, i := range order {
			row := X.RawRowView(i)
			p := floats.Dot(w, row) + b
			sumLoss += s.lossValue(p, target[i])

			eta := 1.0 / (s.alpha * (t0 + t - 1))
			d := s.dloss(p, target[i])
			floats.Scale(1-eta*s.alpha, w)
			if d != 0 {
				floats.AddScaled(w, -eta*d, row)
				if s.fitIntercept {
					b -= eta * d
				}
			}
			t++
			s.t_++
		}

		if s.tol > 0 {
			if sumLoss > bestLoss-s.tol*float64(nSamples) {
				noImprovement++
			} else {
				noImprovement = 0
			}
			if sumLoss < bestLoss {
				bestLoss = sumLoss
			}
			if noImprovement >= s.nIterNoChange {
				return w, b, epoch, true
			}
		}
	}
	return w, b, epoch, s.tol <= 0
}

// DecisionFunction は各マシンの符号付き距離を返す
func (s *SGDClassifier) DecisionFunction(X mat.Matrix) (*mat.Dense, error) {
	if err := s.state.RequireFitted("SGDClassifier", "DecisionFunction"); err != nil {
		return nil, err
	}
	nSamples, nCols := X.Dims()
	if err := s.state.CheckFeatures("SGDClassifier.DecisionFunction", nCols); err != nil {
		return nil, err
	}
	scores := mat.NewDense(nSamples, len(s.coef_), nil)
	row := make([]float64, nCols)
	for i := 0; i < nSamples; i++ {
		mat.Row(row, i, X)
		for k, w := range s.coef_ {
			scores.Set(i, k, floats.Dot(w, row)+s.intercept_[k])
		}
	}
	return scores, nil
}

// Predict はクラスラベルを予測する
func (s *SGDClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	scores, err := s.DecisionFunction(X)
	if err != nil {
		return nil, err
	}
	return model.MarginLabels(scores, s.classes_), nil
}

// PredictProba はヒンジ損失の分類器では利用できない
func (s *SGDClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	return nil, errors.NewProbabilityUnsupportedError("SGDClassifier")
}

// Classes は学習時のクラスラベルを返す
func (s *SGDClassifier) Classes() []int { return append([]int(nil), s.classes_...) }

// NIter は実行されたエポック数を返す
func (s *SGDClassifier) NIter() int { return s.nIter_ }

// GetParams はハイパーパラメータを返す
func (s *SGDClassifier) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"loss":              s.loss,
		"alpha":             s.alpha,
		"fit_intercept":     s.fitIntercept,
		"max_iter":          s.maxIter,
		"tol":               s.tol,
		"n_iter_no_change":  s.nIterNoChange,
		"shuffle":           s.shuffle,
		"random_state":      s.randomState,
	}
}

// SetParams はハイパーパラメータを設定する
func (s *SGDClassifier) SetParams(params map[string]interface{}) error {
	for key, value := range params {
		var ok bool
		switch key {
		case "loss":
			s.loss, ok = value.(string)
		case "alpha":
			s.alpha, ok = value.(float64)
		case "fit_intercept":
			s.fitIntercept, ok = value.(bool)
		case "max_iter":
			s.maxIter, ok = value.(int)
		case "tol":
			s.tol, ok = value.(float64)
		case "n_iter_no_change":
			s.nIterNoChange, ok = value.(int)
		case "shuffle":
			s.shuffle, ok = value.(bool)
		case "random_state":
			s.randomState, ok = value.(int64)
		default:
			return errors.NewValidationError(key, "unknown parameter", value)
		}
		if !ok {
			return errors.NewValidationError(key, fmt.Sprintf("unexpected type %T", value), value)
		}
	}
	return nil
}

type sgdSnapshot struct {
	Loss          string
	Alpha         float64
	FitIntercept  bool
	MaxIter       int
	Tol           float64
	NIterNoChange int
	Shuffle       bool
	RandomState   int64
	Coef          [][]float64
	Intercept     []float64
	Classes       []int
	NIter         int
	State         model.ModelState
}

// MarshalBinary はモデルをバイト列にエンコードする
func (s *SGDClassifier) MarshalBinary() ([]byte, error) {
	return model.EncodeGob(sgdSnapshot{
		Loss: s.loss, Alpha: s.alpha, FitIntercept: s.fitIntercept, MaxIter: s.maxIter,
		Tol: s.tol, NIterNoChange: s.nIterNoChange, Shuffle: s.shuffle, RandomState: s.randomState,
		Coef: s.coef_, Intercept: s.intercept_, Classes: s.classes_, NIter: s.nIter_,
		State: s.state.GetState(),
	})
}

// UnmarshalBinary はMarshalBinaryの出力からモデルを復元する
func (s *SGDClassifier) UnmarshalBinary(data []byte) error {
	var snap sgdSnapshot
	if err := model.DecodeGob(data, &snap); err != nil {
		return err
	}
	if len(snap.Coef) != len(snap.Intercept) {
		return errors.NewValueError("SGDClassifier.UnmarshalBinary", "coefficient and intercept counts differ")
	}
	s.loss, s.alpha, s.fitIntercept, s.maxIter = snap.Loss, snap.Alpha, snap.FitIntercept, snap.MaxIter
	s.tol, s.nIterNoChange, s.shuffle, s.randomState = snap.Tol, snap.NIterNoChange, snap.Shuffle, snap.RandomState
	s.coef_, s.intercept_, s.classes_, s.nIter_ = snap.Coef, snap.Intercept, snap.Classes, snap.NIter
	s.state = model.NewStateManager()
	s.state.SetState(snap.State)
	return nil
}
