package model

import (
	"encoding/json"
	"fmt"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/crnn/pkg/errors"
)

// SnapshotVersion はスナップショット形式のバージョン（互換性チェック用）
const SnapshotVersion = "1"

// ParamWeights は1つのパラメータ行列の値（シリアライゼーション用）
type ParamWeights struct {
	Name string    `json:"name"`
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	Data []float64 `json:"data"`
}

// Snapshot はある時点のモデルパラメータ全体を表す（チェックポイントの中身）
type Snapshot struct {
	// ModelType はモデルの種類（ColumnEncoder等）
	ModelType string `json:"model_type"`

	// Version はスナップショット形式のバージョン
	Version string `json:"version"`

	// Step はスナップショットに付与されたステップ/エポック番号
	Step int `json:"step"`

	// RunID / RunName はスナップショットを作成した実行
	RunID   string `json:"run_id,omitempty"`
	RunName string `json:"run_name,omitempty"`

	SavedAt time.Time `json:"saved_at"`

	// Params は Params() の順序で並んだパラメータ
	Params []ParamWeights `json:"params"`

	// Metadata は追加のメタデータ（ハイパーパラメータ等）
	Metadata map[string]string `json:"metadata,omitempty"`
}

// TakeSnapshot copies the current parameters of m.
func TakeSnapshot(m SequenceModel, step int) *Snapshot {
	params := m.Params()
	s := &Snapshot{
		ModelType: modelType(m),
		Version:   SnapshotVersion,
		Step:      step,
		SavedAt:   time.Now(),
		Params:    make([]ParamWeights, len(params)),
		Metadata:  make(map[string]string),
	}
	for i, p := range params {
		r, c := p.Value.Dims()
		data := make([]float64, 0, r*c)
		for row := 0; row < r; row++ {
			data = append(data, p.Value.RawRowView(row)...)
		}
		s.Params[i] = ParamWeights{Name: p.Name, Rows: r, Cols: c, Data: data}
	}
	return s
}

// Apply copies the snapshot's values into m's parameters, matched by name.
// Every parameter of m must be present with the same shape.
func (s *Snapshot) Apply(m SequenceModel) error {
	if err := s.Validate(); err != nil {
		return err
	}
	byName := make(map[string]ParamWeights, len(s.Params))
	for _, pw := range s.Params {
		byName[pw.Name] = pw
	}
	for _, p := range m.Params() {
		pw, ok := byName[p.Name]
		if !ok {
			return errors.NewValidationError("snapshot.params", "missing parameter", p.Name)
		}
		r, c := p.Value.Dims()
		if pw.Rows != r {
			return errors.Wrapf(errors.NewDimensionError("Snapshot.Apply", r, pw.Rows, 0), "parameter %s", p.Name)
		}
		if pw.Cols != c {
			return errors.Wrapf(errors.NewDimensionError("Snapshot.Apply", c, pw.Cols, 1), "parameter %s", p.Name)
		}
		p.Value.Copy(mat.NewDense(r, c, append([]float64(nil), pw.Data...)))
	}
	return nil
}

// ToJSON はSnapshotをJSON形式にシリアライズ
func (s *Snapshot) ToJSON() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// FromJSON はJSON形式からSnapshotをデシリアライズ
func (s *Snapshot) FromJSON(data []byte) error {
	return json.Unmarshal(data, s)
}

// Validate はSnapshotの妥当性を検証
func (s *Snapshot) Validate() error {
	if s.Version != SnapshotVersion {
		return errors.NewValidationError("snapshot.version", fmt.Sprintf("unsupported, want %s", SnapshotVersion), s.Version)
	}
	if len(s.Params) == 0 {
		return errors.NewValidationError("snapshot.params", "snapshot has no parameters", 0)
	}
	for _, pw := range s.Params {
		if pw.Rows*pw.Cols != len(pw.Data) {
			return errors.NewDimensionError("Snapshot.Validate", pw.Rows*pw.Cols, len(pw.Data), 0)
		}
	}
	return nil
}

func modelType(m SequenceModel) string {
	if n, ok := m.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", m)
}
