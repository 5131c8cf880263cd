// Package run identifies one invocation of the trainer.
//
// A Run is created once at startup and passed explicitly to everything that
// writes per-run artifacts. Its name is the local start time, which keeps
// checkpoint and log directories of the same run side by side and sorted.
// Reserve claims those directories exclusively, adding a numeric suffix to
// the name when another run started in the same second.
package run

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/YuminosukeSato/crnn/pkg/errors"
)

// NameLayout formats the start time into the run name.
const NameLayout = "2006-01-02-15-04-05"

// Run is an immutable value describing one execution.
type Run struct {
	Name      string
	ID        uuid.UUID
	StartedAt time.Time
}

// New creates a run that started at t.
func New(t time.Time) Run {
	return Run{
		Name:      t.Format(NameLayout),
		ID:        uuid.New(),
		StartedAt: t,
	}
}

// Start creates a run that starts now.
func Start() Run {
	return New(time.Now())
}

// maxReserveAttempts bounds the suffixes Reserve tries for one name.
const maxReserveAttempts = 1000

// Reserve creates <root>/<name> under every root with os.Mkdir, so the
// directories belong to r alone. If any of them already exists the name
// becomes <name>-1, <name>-2 and so on. The returned Run carries the name
// that was claimed; its ID and start time are unchanged.
func Reserve(r Run, roots ...string) (Run, error) {
	for _, root := range roots {
		if err := os.MkdirAll(root, 0o755); err != nil {
			return r, errors.NewConfigError("run_root", "cannot create "+root, err)
		}
	}

	base := r.Name
	for i := 0; i < maxReserveAttempts; i++ {
		name := base
		if i > 0 {
			name = fmt.Sprintf("%s-%d", base, i)
		}
		claimed, err := claim(name, roots)
		if err != nil {
			return r, err
		}
		if claimed {
			r.Name = name
			return r, nil
		}
	}
	return r, errors.NewConfigError("run_root",
		fmt.Sprintf("no free directory for run %s after %d attempts", base, maxReserveAttempts), nil)
}

// claim creates name under every root. When one of them is taken the
// directories created so far are removed again and claimed is false.
func claim(name string, roots []string) (bool, error) {
	var created []string
	for _, root := range roots {
		dir := filepath.Join(root, name)
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			created = append(created, dir)
			continue
		}
		for _, c := range created {
			_ = os.Remove(c)
		}
		if errors.Is(err, os.ErrExist) {
			return false, nil
		}
		return false, errors.NewConfigError("run_root", "cannot create "+dir, err)
	}
	return true, nil
}

// CheckpointDir returns <root>/<name>.
func (r Run) CheckpointDir(root string) string {
	return filepath.Join(root, r.Name)
}

// LogDir returns <root>/<name>.
func (r Run) LogDir(root string) string {
	return filepath.Join(root, r.Name)
}

// MarshalZerologObject adds the run identity to a log event.
func (r Run) MarshalZerologObject(e *zerolog.Event) {
	e.Str("name", r.Name).
		Str("id", r.ID.String()).
		Time("started_at", r.StartedAt)
}
