// Package errors はプロジェクト全体のエラーハンドリングと警告システムを提供します。
// 設定ミス・入力検証・数値的な縮退を型付きエラーとして表現し、
// cockroachdb/errors によるスタックトレースを付与します。
package errors

import (
	"fmt"
	"log"
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
		// デフォルトのハンドラは標準エラー出力にログを出す
		log.Printf("crnn-warning: %v\n", w)
	}
	// zerologロガー（循環importを避けるため遅延初期化）
	zerologWarnFunc func(warning error)
)

// SetWarningHandler は警告ハンドラを設定します。
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

// NonFiniteLossWarning は学習ステップの損失が NaN / Inf になった場合の警告です。
// ラベル長がモデルの出力長を超えた場合などに発生します。
type NonFiniteLossWarning struct {
	Step  int
	Epoch int
	Loss  float64
}

func (w *NonFiniteLossWarning) Error() string {
	return fmt.Sprintf("non-finite loss %v at epoch %d step %d. Check that every label fits into the model's output length.", w.Loss, w.Epoch, w.Step)
}

// MarshalZerologObject はzerologのイベントに構造化された警告情報を追加します。
func (w *NonFiniteLossWarning) MarshalZerologObject(e *zerolog.Event) {
	e.Int("step", w.Step).
		Int("epoch", w.Epoch).
		Float64("loss", w.Loss).
		Str("type", "NonFiniteLossWarning")
}

// NewNonFiniteLossWarning は新しいNonFiniteLossWarningを作成します。
func NewNonFiniteLossWarning(epoch, step int, loss float64) *NonFiniteLossWarning {
	return &NonFiniteLossWarning{Epoch: epoch, Step: step, Loss: loss}
}

// ===========================================================================
//
//	構造化されたエラー型
//
// ===========================================================================

// ConfigError は設定ファイル・ディレクトリ・フラグの不備を表す致命的なエラーです。
// 語彙ファイルが読めない、復元対象のチェックポイントが存在しない、などが該当します。
type ConfigError struct {
	Item   string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("crnn: configuration error for %s: %s: %v", e.Item, e.Reason, e.Err)
	}
	return fmt.Sprintf("crnn: configuration error for %s: %s", e.Item, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *ConfigError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("item", e.Item).
		Str("reason", e.Reason).
		Str("type", "ConfigError")
	if e.Err != nil {
		event.Str("cause", e.Err.Error())
	}
}

// NewConfigError は新しいConfigErrorを作成し、スタックトレースを付与します。
func NewConfigError(item, reason string, err error) error {
	return errors.WithStack(&ConfigError{Item: item, Reason: reason, Err: err})
}

// DimensionError は入力データの次元が期待値と異なる場合のエラーです。
type DimensionError struct {
	Op       string
	Expected int
	Got      int
	Axis     int // 0: batch, 1: time, 2: classes / features
}

func axisName(axis int) string {
	switch axis {
	case 0:
		return "batch"
	case 1:
		return "time"
	default:
		return "features"
	}
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("crnn: %s: dimension mismatch on axis %d (%s). Expected %d, got %d", e.Op, e.Axis, axisName(e.Axis), e.Expected, e.Got)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *DimensionError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("operation", e.Op).
		Int("expected", e.Expected).
		Int("got", e.Got).
		Int("axis", e.Axis).
		Str("axis_name", axisName(e.Axis)).
		Str("type", "DimensionError")
}

// NewDimensionError は新しいDimensionErrorを作成し、スタックトレースを付与します。
func NewDimensionError(op string, expected, got, axis int) error {
	return errors.WithStack(&DimensionError{Op: op, Expected: expected, Got: got, Axis: axis})
}

// ValidationError は入力パラメータの検証に失敗した場合のエラーです。
type ValidationError struct {
	ParamName string
	Reason    string
	Value     interface{}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("crnn: validation failed for parameter '%s': %s (got: %v)", e.ParamName, e.Reason, e.Value)
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
	return errors.WithStack(&ValidationError{ParamName: param, Reason: reason, Value: value})
}

// LabelLengthError はラベルが CTC で表現できる長さを超えている場合のエラーです。
// Required は繰り返し文字の間に必要な blank を含めた最小フレーム数です。
type LabelLengthError struct {
	Sample    int
	Required  int
	TimeSteps int
}

func (e *LabelLengthError) Error() string {
	return fmt.Sprintf("crnn: label of sample %d needs at least %d time steps but the model emits %d", e.Sample, e.Required, e.TimeSteps)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *LabelLengthError) MarshalZerologObject(event *zerolog.Event) {
	event.Int("sample", e.Sample).
		Int("required", e.Required).
		Int("time_steps", e.TimeSteps).
		Str("type", "LabelLengthError")
}

// NewLabelLengthError は新しいLabelLengthErrorを作成し、スタックトレースを付与します。
func NewLabelLengthError(sample, required, timeSteps int) error {
	return errors.WithStack(&LabelLengthError{Sample: sample, Required: required, TimeSteps: timeSteps})
}

// ModelError はシーケンスモデルの実行に関する一般的なエラーです。
type ModelError struct {
	Op   string
	Kind string
	Err  error
}

func (e *ModelError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("crnn: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("crnn: %s: %s", e.Op, e.Kind)
}

func (e *ModelError) Unwrap() error {
	return e.Err
}

// NewModelError は新しいModelErrorを作成し、スタックトレースを付与します。
func NewModelError(op, kind string, err error) error {
	return errors.WithStack(&ModelError{Op: op, Kind: kind, Err: err})
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
//	数値計算のエラー型
//
// ===========================================================================

// NumericalInstabilityError は数値計算が不安定になった場合のエラーです。
// NaN、Inf などを検出します。
type NumericalInstabilityError struct {
	Operation string                 // 発生した操作（例: "ctc_loss", "adam_update"）
	Values    []float64              // 問題のある値
	Context   map[string]interface{} // デバッグ用の追加コンテキスト情報
	Iteration int                    // 発生したステップ番号
}

func (e *NumericalInstabilityError) Error() string {
	valStr := ""
	for i, v := range e.Values {
		if i > 0 {
			valStr += ", "
		}
		if i >= 5 {
			valStr += "..."
			break
		}
		valStr += fmt.Sprintf("%.6g", v)
	}
	return fmt.Sprintf("crnn: numerical instability detected in %s at iteration %d. Values: [%s]",
		e.Operation, e.Iteration, valStr)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *NumericalInstabilityError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("operation", e.Operation).
		Int("iteration", e.Iteration).
		Floats64("values", e.Values).
		Str("type", "NumericalInstabilityError")
}

// NewNumericalInstabilityError は新しいNumericalInstabilityErrorを作成します。
func NewNumericalInstabilityError(operation string, values []float64, iteration int) error {
	err := &NumericalInstabilityError{
		Operation: operation,
		Values:    values,
		Iteration: iteration,
		Context:   make(map[string]interface{}),
	}
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

	// ErrNoCheckpoint は復元可能なチェックポイントが見つからない場合のエラーです。
	ErrNoCheckpoint = New("no checkpoint found")
)
