package dataset

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/YuminosukeSato/crnn/pkg/errors"
)

// Sample is one annotated image.
type Sample struct {
	Path  string
	Label string
}

// LoadAnnotations reads an annotation file. Relative image paths resolve
// against the directory of the annotation file.
func LoadAnnotations(path string) ([]Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.NewConfigError("annotation_path", "cannot open annotation file "+path, err)
	}
	defer f.Close()

	samples, err := ParseAnnotations(f, filepath.Dir(path))
	if err != nil {
		return nil, errors.NewConfigError("annotation_path", "cannot parse annotation file "+path, err)
	}
	if len(samples) == 0 {
		return nil, errors.NewConfigError("annotation_path", "annotation file lists no samples", errors.ErrEmptyData)
	}
	return samples, nil
}

// ParseAnnotations parses lines of the form
//
//	<image path> [label]
//
// The path ends at the first whitespace rune, so space or tab separated
// files both work. Blank lines and lines starting with '#' are skipped. When the label is
// missing it is taken from an MJSynth-style file name <n>_<LABEL>_<m>.<ext>.
func ParseAnnotations(r io.Reader, baseDir string) ([]Sample, error) {
	var samples []Sample
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		imgPath, label := text, ""
		if i := strings.IndexFunc(text, unicode.IsSpace); i >= 0 {
			imgPath, label = text[:i], strings.TrimSpace(text[i:])
		}
		if label == "" {
			var ok bool
			label, ok = LabelFromFilename(imgPath)
			if !ok {
				return nil, errors.Newf("line %d: no label and %q is not named <n>_<label>_<m>.<ext>", line, imgPath)
			}
		}
		if !filepath.IsAbs(imgPath) && baseDir != "" {
			imgPath = filepath.Join(baseDir, imgPath)
		}
		samples = append(samples, Sample{Path: imgPath, Label: label})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "read annotations")
	}
	return samples, nil
}

// LabelFromFilename extracts LABEL from a file named <n>_<LABEL>_<m>.<ext>.
// The label itself may contain underscores.
func LabelFromFilename(path string) (string, bool) {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	first := strings.Index(base, "_")
	last := strings.LastIndex(base, "_")
	if first < 0 || last <= first+1 {
		return "", false
	}
	return base[first+1 : last], true
}
