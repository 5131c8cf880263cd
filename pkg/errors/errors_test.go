package errors

import (
	"fmt"
	"math"
	"strings"
	"testing"
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
			op:      "Forward",
			kind:    "invalid input",
			err:     fmt.Errorf("test error"),
			wantMsg: "crnn: Forward: invalid input: test error",
		},
		{
			name:    "without original error",
			op:      "Backward",
			kind:    "no cached activations",
			err:     nil,
			wantMsg: "crnn: Backward: no cached activations",
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
	err := NewDimensionError("Restore", 10, 12, 2)

	want := "crnn: Restore: dimension mismatch on axis 2 (features). Expected 10, got 12"
	if err.Error() != want {
		t.Errorf("Error() = %v, want %v", err.Error(), want)
	}

	var dimErr *DimensionError
	if !As(err, &dimErr) {
		t.Error("Error should be castable to *DimensionError")
	}
}

func TestNewConfigError(t *testing.T) {
	cause := fmt.Errorf("open table.txt: no such file or directory")
	err := NewConfigError("vocabulary", "cannot read file", cause)

	want := "crnn: configuration error for vocabulary: cannot read file: open table.txt: no such file or directory"
	if err.Error() != want {
		t.Errorf("Error() = %v, want %v", err.Error(), want)
	}

	var cfgErr *ConfigError
	if !As(err, &cfgErr) {
		t.Fatal("Error should be castable to *ConfigError")
	}
	if !Is(err, cause) {
		t.Error("ConfigError should unwrap to its cause")
	}
}

func TestNewLabelLengthError(t *testing.T) {
	err := NewLabelLengthError(3, 9, 7)

	want := "crnn: label of sample 3 needs at least 9 time steps but the model emits 7"
	if err.Error() != want {
		t.Errorf("Error() = %v, want %v", err.Error(), want)
	}

	var lenErr *LabelLengthError
	if !As(err, &lenErr) {
		t.Fatal("Error should be castable to *LabelLengthError")
	}
	if lenErr.Required != 9 || lenErr.TimeSteps != 7 {
		t.Errorf("unexpected fields: %+v", lenErr)
	}
}

func TestWarnUsesZerologFunc(t *testing.T) {
	var got []error
	SetZerologWarnFunc(func(w error) { got = append(got, w) })
	defer SetZerologWarnFunc(nil)

	Warn(NewNonFiniteLossWarning(1, 42, math.Inf(1)))

	if len(got) != 1 {
		t.Fatalf("expected 1 warning, got %d", len(got))
	}
	var w *NonFiniteLossWarning
	if !As(got[0], &w) || w.Step != 42 {
		t.Errorf("unexpected warning %v", got[0])
	}
}

func TestWrapf(t *testing.T) {
	wrapped := Wrapf(ErrNoCheckpoint, "restore from %s", "./ckpt/run")

	if !Is(wrapped, ErrNoCheckpoint) {
		t.Error("Expected Is(wrapped, ErrNoCheckpoint) to be true")
	}

	expectedMsg := "restore from ./ckpt/run"
	if !strings.Contains(wrapped.Error(), expectedMsg) {
		t.Errorf("Expected wrapped error to contain %q", expectedMsg)
	}
}

func TestCheckScalar(t *testing.T) {
	if err := CheckScalar("ctc_loss", 1.5, 0); err != nil {
		t.Errorf("finite value reported as unstable: %v", err)
	}
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		err := CheckScalar("ctc_loss", v, 3)
		var numErr *NumericalInstabilityError
		if !As(err, &numErr) {
			t.Fatalf("expected NumericalInstabilityError for %v, got %v", v, err)
		}
		if numErr.Iteration != 3 {
			t.Errorf("iteration = %d, want 3", numErr.Iteration)
		}
	}
}

func TestLogAddExp(t *testing.T) {
	tests := []struct {
		a, b, want float64
	}{
		{math.Log(1), math.Log(2), math.Log(3)},
		{math.Inf(-1), math.Log(5), math.Log(5)},
		{math.Log(5), math.Inf(-1), math.Log(5)},
		{-1000, -1000, -1000 + math.Log(2)},
	}
	for _, tt := range tests {
		if got := LogAddExp(tt.a, tt.b); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("LogAddExp(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
	if got := LogAddExp(math.Inf(-1), math.Inf(-1)); !math.IsInf(got, -1) {
		t.Errorf("LogAddExp(-Inf, -Inf) = %v, want -Inf", got)
	}
}

func TestLogSumExp(t *testing.T) {
	got := LogSumExp([]float64{math.Log(1), math.Log(2), math.Log(3)})
	if math.Abs(got-math.Log(6)) > 1e-12 {
		t.Errorf("LogSumExp = %v, want %v", got, math.Log(6))
	}
	if !math.IsInf(LogSumExp(nil), -1) {
		t.Error("LogSumExp(nil) should be -Inf")
	}
}

func TestClipGradient(t *testing.T) {
	g := []float64{3, 4}
	ClipGradient(g, 1)
	if math.Abs(g[0]-0.6) > 1e-12 || math.Abs(g[1]-0.8) > 1e-12 {
		t.Errorf("ClipGradient = %v, want [0.6 0.8]", g)
	}

	g = []float64{3, 4}
	ClipGradient(g, 0)
	if g[0] != 3 || g[1] != 4 {
		t.Errorf("maxNorm=0 should disable clipping, got %v", g)
	}
}
