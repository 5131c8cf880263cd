// Package metrics はシーケンス認識の評価指標を提供する
//
// 編集距離の計算は github.com/agnivade/levenshtein に任せる。
// 文字列はルーン単位、クラスインデックス列は語彙シンボル単位で比較する。
package metrics

import (
	"slices"

	"github.com/agnivade/levenshtein"

	"github.com/YuminosukeSato/crnn/pkg/errors"
)

// EditDistance はルーン単位のLevenshtein距離（挿入・削除・置換のコスト1）を計算する
func EditDistance(ref, hyp string) int {
	return levenshtein.ComputeDistance(ref, hyp)
}

// SymbolDistance はクラスインデックス列のLevenshtein距離を計算する
//
// 各インデックスを1つのルーンに写してから比較するので、
// 複数ルーンからなる語彙シンボルも1単位として数えられる。
func SymbolDistance(ref, hyp []int) int {
	return levenshtein.ComputeDistance(symbolString(ref), symbolString(hyp))
}

// サロゲート領域はstringに変換するとU+FFFDに潰れるので飛ばす
const (
	surrogateMin = 0xD800
	surrogateLen = 0x800
)

func symbolString(seq []int) string {
	runes := make([]rune, len(seq))
	for i, s := range seq {
		r := rune(s)
		if r >= surrogateMin {
			r += surrogateLen
		}
		runes[i] = r
	}
	return string(runes)
}

// CER は文字誤り率（Character Error Rate）を計算する
//
// CER = Σ EditDistance(ref, hyp) / Σ len(ref)。文字はルーン単位で数える。
// 正解がすべて空文字列の場合、誤りがなければ0、あれば誤り数をそのまま返す。
func CER(refs, hyps []string) (float64, error) {
	if err := checkPairs("CER", len(refs), len(hyps)); err != nil {
		return 0, err
	}
	var edits, total int
	for i := range refs {
		edits += EditDistance(refs[i], hyps[i])
		total += len([]rune(refs[i]))
	}
	return ratio(edits, total), nil
}

// SymbolCER はCERをクラスインデックス列（語彙シンボル単位）で計算する
func SymbolCER(refs, hyps [][]int) (float64, error) {
	if err := checkPairs("SymbolCER", len(refs), len(hyps)); err != nil {
		return 0, err
	}
	var edits, total int
	for i := range refs {
		edits += SymbolDistance(refs[i], hyps[i])
		total += len(refs[i])
	}
	return ratio(edits, total), nil
}

// SequenceAccuracy は完全一致したシーケンスの割合を計算する
func SequenceAccuracy(refs, hyps []string) (float64, error) {
	if err := checkPairs("SequenceAccuracy", len(refs), len(hyps)); err != nil {
		return 0, err
	}
	correct := 0
	for i := range refs {
		if refs[i] == hyps[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(refs)), nil
}

func checkPairs(op string, refs, hyps int) error {
	if refs == 0 {
		return errors.Wrap(errors.ErrEmptyData, op)
	}
	if hyps != refs {
		return errors.NewDimensionError(op, refs, hyps, 0)
	}
	return nil
}

func ratio(edits, total int) float64 {
	if total == 0 {
		return float64(edits)
	}
	return float64(edits) / float64(total)
}

// Accumulator はバッチごとに結果を蓄積し、最後にまとめて指標を計算する
//
// 入力は正解と予測のクラスインデックス列（blankを含まない）。
type Accumulator struct {
	Samples int
	Correct int
	Edits   int
	Symbols int
}

// Add は正解と予測のペアを追加する
func (a *Accumulator) Add(ref, hyp []int) {
	a.Samples++
	a.Edits += SymbolDistance(ref, hyp)
	a.Symbols += len(ref)
	if slices.Equal(ref, hyp) {
		a.Correct++
	}
}

// AddBatch は複数のペアを追加する
func (a *Accumulator) AddBatch(refs, hyps [][]int) error {
	if len(hyps) != len(refs) {
		return errors.NewDimensionError("Accumulator.AddBatch", len(refs), len(hyps), 0)
	}
	for i := range refs {
		a.Add(refs[i], hyps[i])
	}
	return nil
}

// CER は蓄積されたシンボル単位の誤り率を返す
func (a *Accumulator) CER() float64 {
	return ratio(a.Edits, a.Symbols)
}

// SequenceAccuracy は蓄積された完全一致率を返す。サンプルがなければ0。
func (a *Accumulator) SequenceAccuracy() float64 {
	if a.Samples == 0 {
		return 0
	}
	return float64(a.Correct) / float64(a.Samples)
}
