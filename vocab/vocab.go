// Package vocab loads the character table and converts between class
// indices and display strings.
//
// The table is a newline-delimited list of symbols. The last line is always
// the CTC blank, so NumClasses equals the line count and BlankIndex equals
// NumClasses-1.
package vocab

import (
	"bufio"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/YuminosukeSato/crnn/pkg/errors"
)

// Vocabulary is an ordered symbol table with a trailing blank.
type Vocabulary struct {
	symbols []string
	index   map[string]int
	maxRune int
}

// New builds a vocabulary from symbols; the last symbol is the blank.
// At least one real symbol plus the blank are required.
func New(symbols []string) (*Vocabulary, error) {
	if len(symbols) < 2 {
		return nil, errors.NewValidationError("vocabulary", "needs at least one symbol and the blank", len(symbols))
	}
	v := &Vocabulary{
		symbols: append([]string(nil), symbols...),
		index:   make(map[string]int, len(symbols)),
	}
	for i, s := range v.symbols[:len(v.symbols)-1] {
		if _, dup := v.index[s]; dup {
			// The first occurrence wins for reverse lookup.
			continue
		}
		v.index[s] = i
		if n := utf8.RuneCountInString(s); n > v.maxRune {
			v.maxRune = n
		}
	}
	return v, nil
}

// Load reads a vocabulary file. Any failure is a configuration error.
func Load(path string) (*Vocabulary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.NewConfigError("vocabulary", "cannot open table file "+path, err)
	}
	defer f.Close()

	v, err := Read(f)
	if err != nil {
		return nil, errors.NewConfigError("vocabulary", "cannot parse table file "+path, err)
	}
	return v, nil
}

// Read parses newline-delimited symbols, stripping surrounding whitespace.
// Every line counts, so a whitespace-only line yields the empty symbol.
func Read(r io.Reader) (*Vocabulary, error) {
	var symbols []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		symbols = append(symbols, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "read vocabulary")
	}
	return New(symbols)
}

// NumClasses returns the number of classes including the blank.
func (v *Vocabulary) NumClasses() int {
	return len(v.symbols)
}

// BlankIndex returns the index of the blank class.
func (v *Vocabulary) BlankIndex() int {
	return len(v.symbols) - 1
}

// Symbol returns the symbol of class i.
func (v *Vocabulary) Symbol(i int) string {
	return v.symbols[i]
}

// Symbols returns a copy of the table.
func (v *Vocabulary) Symbols() []string {
	return append([]string(nil), v.symbols...)
}

// Index returns the class of symbol. The blank is not addressable.
func (v *Vocabulary) Index(symbol string) (int, bool) {
	i, ok := v.index[symbol]
	return i, ok
}

// MapToChars substitutes each index with its symbol and drops blanks.
// Indices outside [0, NumClasses) are dropped too, so padded decoder output
// can be passed directly.
func (v *Vocabulary) MapToChars(indices []int) string {
	var b strings.Builder
	blank := v.BlankIndex()
	for _, i := range indices {
		if i == blank || i < 0 || i >= len(v.symbols) {
			continue
		}
		b.WriteString(v.symbols[i])
	}
	return b.String()
}

// MapBatch applies MapToChars to every row.
func (v *Vocabulary) MapBatch(rows [][]int) []string {
	out := make([]string, len(rows))
	for i, row := range rows {
		out[i] = v.MapToChars(row)
	}
	return out
}

// Encode is the reverse of MapToChars: it splits text into symbols using
// greedy longest match and returns their classes.
func (v *Vocabulary) Encode(text string) ([]int, error) {
	var out []int
	rest := text
	for rest != "" {
		matched := false
		for n := v.maxRune; n > 0; n-- {
			prefix, ok := runePrefix(rest, n)
			if !ok {
				continue
			}
			if i, found := v.index[prefix]; found {
				out = append(out, i)
				rest = rest[len(prefix):]
				matched = true
				break
			}
		}
		if !matched {
			r, _ := utf8.DecodeRuneInString(rest)
			return nil, errors.NewValidationError("label", "symbol not in vocabulary", string(r))
		}
	}
	return out, nil
}

// runePrefix returns the first n runes of s, or false if s is shorter.
func runePrefix(s string, n int) (string, bool) {
	i := 0
	for k := 0; k < n; k++ {
		if i >= len(s) {
			return "", false
		}
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return s[:i], true
}
