// Package errors はプロジェクト全体のエラーハンドリングと警告システムを提供します。
// アノテーションパイプラインの各段階（読み込み、遺伝子の突き合わせ、統合、学習、予測）が
// 返す構造化されたエラー型と、cockroachdb/errors によるスタックトレース付与を担当します。
package errors

import (
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// ===========================================================================
//
//	グローバル警告ハンドリング
//
// ===========================================================================
var (
	warningMutex   sync.Mutex
	warningHandler = func(w error) {
		log.Printf("besca-warning: %v\n", w)
	}
	// zerologロガー（循環importを避けるため遅延初期化）
	zerologWarnFunc func(warning error)
)

// SetWarningHandler はライブラリ全体の警告ハンドラを設定します。
//
// 例:
//
//	errors.SetWarningHandler(func(w error) {
//	    // 警告を無視する
//	})
func SetWarningHandler(handler func(w error)) {
	warningMutex.Lock()
	defer warningMutex.Unlock()
	warningHandler = handler
}

// SetZerologWarnFunc はzerolog警告関数を設定します（循環importを避けるため）。
func SetZerologWarnFunc(warnFunc func(warning error)) {
	warningMutex.Lock()
	defer warningMutex.Unlock()
	zerologWarnFunc = warnFunc
}

// Warn は警告を発生させます。
// zerologが設定されている場合は構造化ログとして出力し、そうでなければ従来のハンドラを使用します。
func Warn(w error) {
	warningMutex.Lock()
	defer warningMutex.Unlock()

	if zerologWarnFunc != nil {
		zerologWarnFunc(w)
		return
	}

	if warningHandler != nil {
		warningHandler(w)
	}
}

// ===========================================================================
//
//	警告型
//
// ===========================================================================

// ConvergenceWarning は最適化アルゴリズムが収束しなかった場合に発生する警告です。
type ConvergenceWarning struct {
	Algorithm  string
	Iterations int
	Message    string
}

func (w *ConvergenceWarning) Error() string {
	if w.Message != "" {
		return fmt.Sprintf("%s failed to converge after %d iterations: %s", w.Algorithm, w.Iterations, w.Message)
	}
	return fmt.Sprintf("%s failed to converge after %d iterations. Consider increasing max_iter or adjusting parameters.", w.Algorithm, w.Iterations)
}

// MarshalZerologObject はzerologのイベントに構造化された警告情報を追加します。
func (w *ConvergenceWarning) MarshalZerologObject(e *zerolog.Event) {
	e.Str("algorithm", w.Algorithm).
		Int("iterations", w.Iterations).
		Str("message", w.Message).
		Str("type", "ConvergenceWarning")
}

// NewConvergenceWarning は新しいConvergenceWarningを作成します。
func NewConvergenceWarning(algorithm string, iterations int, message string) *ConvergenceWarning {
	return &ConvergenceWarning{Algorithm: algorithm, Iterations: iterations, Message: message}
}

// UndefinedMetricWarning は評価指標が計算できない場合に発生する警告です。
// 例えば、あるクラスの予測が一つもなく適合率(precision)が定義できない場合など。
type UndefinedMetricWarning struct {
	Metric    string
	Condition string
	Result    float64 // この条件で返される値
}

func (w *UndefinedMetricWarning) Error() string {
	return fmt.Sprintf("'%s' is ill-defined and being set to %f due to %s.", w.Metric, w.Result, w.Condition)
}

// MarshalZerologObject はzerologのイベントに構造化された警告情報を追加します。
func (w *UndefinedMetricWarning) MarshalZerologObject(e *zerolog.Event) {
	e.Str("metric", w.Metric).
		Str("condition", w.Condition).
		Float64("result", w.Result).
		Str("type", "UndefinedMetricWarning")
}

// NewUndefinedMetricWarning は新しいUndefinedMetricWarningを作成します。
func NewUndefinedMetricWarning(metric, condition string, result float64) *UndefinedMetricWarning {
	return &UndefinedMetricWarning{Metric: metric, Condition: condition, Result: result}
}

// BatchCorrectionWarning はバッチ補正でデータセットが補正されずに残った場合の警告です。
type BatchCorrectionWarning struct {
	Dataset string
	Reason  string
}

func (w *BatchCorrectionWarning) Error() string {
	return fmt.Sprintf("dataset %q left uncorrected: %s", w.Dataset, w.Reason)
}

// MarshalZerologObject はzerologのイベントに構造化された警告情報を追加します。
func (w *BatchCorrectionWarning) MarshalZerologObject(e *zerolog.Event) {
	e.Str("dataset", w.Dataset).
		Str("reason", w.Reason).
		Str("type", "BatchCorrectionWarning")
}

// NewBatchCorrectionWarning は新しいBatchCorrectionWarningを作成します。
func NewBatchCorrectionWarning(dataset, reason string) *BatchCorrectionWarning {
	return &BatchCorrectionWarning{Dataset: dataset, Reason: reason}
}

// ===========================================================================
//
//	パイプラインのエラー型
//
// ===========================================================================

// MalformedInputError は読み込んだデータの構造が不整合な場合のエラーです。
// 発現行列とメタデータの行数不一致、重複した遺伝子IDなど。
type MalformedInputError struct {
	Source string // ファイルパスまたは入力の名前
	Reason string
}

func (e *MalformedInputError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("besca: malformed input: %s", e.Reason)
	}
	return fmt.Sprintf("besca: malformed input %s: %s", e.Source, e.Reason)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *MalformedInputError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("source", e.Source).
		Str("reason", e.Reason).
		Str("type", "MalformedInputError")
}

// NewMalformedInputError は新しいMalformedInputErrorを作成し、スタックトレースを付与します。
func NewMalformedInputError(source, reason string) error {
	return errors.WithStack(&MalformedInputError{Source: source, Reason: reason})
}

// NewMalformedInputErrorf はフォーマット済みの理由でMalformedInputErrorを作成します。
func NewMalformedInputErrorf(source, format string, args ...interface{}) error {
	return NewMalformedInputError(source, fmt.Sprintf(format, args...))
}

// NoSharedFeaturesError は遺伝子の突き合わせで共通遺伝子が残らなかった場合のエラーです。
type NoSharedFeaturesError struct {
	Datasets []string
}

func (e *NoSharedFeaturesError) Error() string {
	if len(e.Datasets) == 0 {
		return "besca: no shared genes between datasets"
	}
	return fmt.Sprintf("besca: no shared genes between datasets [%s]", strings.Join(e.Datasets, ", "))
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *NoSharedFeaturesError) MarshalZerologObject(event *zerolog.Event) {
	event.Strs("datasets", e.Datasets).
		Str("type", "NoSharedFeaturesError")
}

// NewNoSharedFeaturesError は新しいNoSharedFeaturesErrorを作成し、スタックトレースを付与します。
func NewNoSharedFeaturesError(datasets ...string) error {
	return errors.WithStack(&NoSharedFeaturesError{Datasets: datasets})
}

// InsufficientClassesError はラベル列が無い、欠損がある、またはクラスが2未満の場合のエラーです。
type InsufficientClassesError struct {
	LabelColumn string
	NClasses    int
	Reason      string
}

func (e *InsufficientClassesError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("besca: label column %q: %s", e.LabelColumn, e.Reason)
	}
	return fmt.Sprintf("besca: label column %q has %d distinct classes, at least 2 are required", e.LabelColumn, e.NClasses)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *InsufficientClassesError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("label_column", e.LabelColumn).
		Int("n_classes", e.NClasses).
		Str("reason", e.Reason).
		Str("type", "InsufficientClassesError")
}

// NewInsufficientClassesError は新しいInsufficientClassesErrorを作成し、スタックトレースを付与します。
func NewInsufficientClassesError(labelColumn string, nClasses int, reason string) error {
	return errors.WithStack(&InsufficientClassesError{LabelColumn: labelColumn, NClasses: nClasses, Reason: reason})
}

// GeneMismatchError は予測対象の遺伝子が学習時の遺伝子順に揃えられない場合のエラーです。
type GeneMismatchError struct {
	Missing  []string // 学習時に存在し、入力に存在しない遺伝子
	Expected int
	Got      int
}

func (e *GeneMismatchError) Error() string {
	shown := e.Missing
	suffix := ""
	if len(shown) > 5 {
		shown = shown[:5]
		suffix = ", ..."
	}
	return fmt.Sprintf("besca: gene layout does not match the training genes: %d of %d training genes missing [%s%s] (input has %d genes)",
		len(e.Missing), e.Expected, strings.Join(shown, ", "), suffix, e.Got)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *GeneMismatchError) MarshalZerologObject(event *zerolog.Event) {
	event.Strs("missing", e.Missing).
		Int("expected", e.Expected).
		Int("got", e.Got).
		Str("type", "GeneMismatchError")
}

// NewGeneMismatchError は新しいGeneMismatchErrorを作成し、スタックトレースを付与します。
func NewGeneMismatchError(missing []string, expected, got int) error {
	return errors.WithStack(&GeneMismatchError{Missing: missing, Expected: expected, Got: got})
}

// ProbabilityUnsupportedError は確率を出力できないモデルに確率を要求した場合のエラーです。
type ProbabilityUnsupportedError struct {
	ModelName string
}

func (e *ProbabilityUnsupportedError) Error() string {
	return fmt.Sprintf("besca: %s does not provide class probabilities", e.ModelName)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *ProbabilityUnsupportedError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("model_name", e.ModelName).
		Str("type", "ProbabilityUnsupportedError")
}

// NewProbabilityUnsupportedError は新しいProbabilityUnsupportedErrorを作成し、スタックトレースを付与します。
func NewProbabilityUnsupportedError(modelName string) error {
	return errors.WithStack(&ProbabilityUnsupportedError{ModelName: modelName})
}

// ===========================================================================
//
//	汎用のエラー型
//
// ===========================================================================

// NotFittedError はモデルが未学習の状態で `Predict` を呼び出した場合のエラーです。
type NotFittedError struct {
	ModelName string
	Method    string
}

func (e *NotFittedError) Error() string {
	return fmt.Sprintf("besca: %s: this model is not fitted yet. Call Fit() before using %s()", e.ModelName, e.Method)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *NotFittedError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("model_name", e.ModelName).
		Str("method", e.Method).
		Str("type", "NotFittedError")
}

// NewNotFittedError は新しいNotFittedErrorを作成し、スタックトレースを付与します。
func NewNotFittedError(modelName, method string) error {
	err := &NotFittedError{ModelName: modelName, Method: method}
	return errors.WithStack(err)
}

// DimensionError は入力データの次元が期待値と異なる場合のエラーです。
type DimensionError struct {
	Op       string
	Expected int
	Got      int
	Axis     int // 0 for rows, 1 for columns/features
}

func (e *DimensionError) Error() string {
	axisName := "features"
	if e.Axis == 0 {
		axisName = "rows"
	}
	return fmt.Sprintf("besca: %s: dimension mismatch on axis %d (%s). Expected %d, got %d", e.Op, e.Axis, axisName, e.Expected, e.Got)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *DimensionError) MarshalZerologObject(event *zerolog.Event) {
	axisName := "features"
	if e.Axis == 0 {
		axisName = "rows"
	}
	event.Str("operation", e.Op).
		Int("expected", e.Expected).
		Int("got", e.Got).
		Int("axis", e.Axis).
		Str("axis_name", axisName).
		Str("type", "DimensionError")
}

// NewDimensionError は新しいDimensionErrorを作成し、スタックトレースを付与します。
func NewDimensionError(op string, expected, got, axis int) error {
	err := &DimensionError{Op: op, Expected: expected, Got: got, Axis: axis}
	return errors.WithStack(err)
}

// ValidationError は入力パラメータの検証に失敗した場合のエラーです。
type ValidationError struct {
	ParamName string
	Reason    string
	Value     interface{}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("besca: validation failed for parameter '%s': %s (got: %v)", e.ParamName, e.Reason, e.Value)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *ValidationError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("param_name", e.ParamName).
		Str("reason", e.Reason).
		Interface("value", e.Value).
		Str("type", "ValidationError")
}

// NewValidationError は新しいValidationErrorを作成し、スタックトレースを付与します。
func NewValidationError(param, reason string, value interface{}) error {
	err := &ValidationError{ParamName: param, Reason: reason, Value: value}
	return errors.WithStack(err)
}

// ValueError は引数の値が不適切または不正な場合に発生するエラーです。
type ValueError struct {
	Op      string
	Message string
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("besca: %s: %s", e.Op, e.Message)
}

// NewValueError は新しいValueErrorを作成し、スタックトレースを付与します。
func NewValueError(op, message string) error {
	err := &ValueError{Op: op, Message: message}
	return errors.WithStack(err)
}

// ModelError は機械学習モデルに関する一般的なエラーです。
type ModelError struct {
	Op   string
	Kind string
	Err  error
}

func (e *ModelError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("besca: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("besca: %s: %s", e.Op, e.Kind)
}

func (e *ModelError) Unwrap() error {
	return e.Err
}

// NewModelError は新しいModelErrorを作成し、スタックトレースを付与します。
func NewModelError(op, kind string, err error) error {
	modelErr := &ModelError{Op: op, Kind: kind, Err: err}
	return errors.WithStack(modelErr)
}

// NumericalInstabilityError は数値計算が不安定になった場合のエラーです。
type NumericalInstabilityError struct {
	Operation string    // 発生した操作（例: "softmax", "platt_scaling"）
	Values    []float64 // 問題のある値
	Iteration int       // 発生したイテレーション番号
}

func (e *NumericalInstabilityError) Error() string {
	var b strings.Builder
	for i, v := range e.Values {
		if i > 0 {
			b.WriteString(", ")
		}
		if i >= 5 {
			b.WriteString("...")
			break
		}
		fmt.Fprintf(&b, "%.6g", v)
	}
	return fmt.Sprintf("besca: numerical instability detected in %s at iteration %d. Values: [%s]",
		e.Operation, e.Iteration, b.String())
}

// NewNumericalInstabilityError は新しいNumericalInstabilityErrorを作成します。
func NewNumericalInstabilityError(operation string, values []float64, iteration int) error {
	err := &NumericalInstabilityError{
		Operation: operation,
		Values:    values,
		Iteration: iteration,
	}
	return errors.WithStack(err)
}

// ===========================================================================
//
//	cockroachdb/errors ラッパー関数
//
// ===========================================================================

// Is はエラーが特定のターゲットエラーかどうかを判定します。
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As はエラーが特定の型にキャスト可能かどうかを判定します。
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Wrap は既存のエラーをメッセージ付きでラップします。
func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

// Wrapf は既存のエラーをフォーマット文字列でラップします。
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// New は新しいエラーを作成します。
func New(message string) error {
	return errors.New(message)
}

// Newf は新しいフォーマット済みエラーを作成します。
func Newf(format string, args ...interface{}) error {
	return errors.Newf(format, args...)
}

// WithStack はエラーにスタックトレースを付与します。
func WithStack(err error) error {
	return errors.WithStack(err)
}

// ===========================================================================
//
//	共通エラー変数
//
// ===========================================================================

var (
	// ErrEmptyData は空のデータが渡された場合のエラーです。
	ErrEmptyData = New("empty data")

	// ErrUnknownKind は未知の分類器の種類が指定された場合のエラーです。
	ErrUnknownKind = New("unknown classifier kind")

	// ErrModelNotFound はレジストリに指定IDのモデルが存在しない場合のエラーです。
	ErrModelNotFound = New("model not found")
)
