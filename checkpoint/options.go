package checkpoint

import (
	"github.com/YuminosukeSato/crnn/core/run"
	"github.com/YuminosukeSato/crnn/pkg/log"
)

// Option configures a Manager.
type Option func(*Manager)

// WithRun stamps every snapshot and the metadata file with the run identity.
func WithRun(r run.Run) Option {
	return func(m *Manager) {
		m.runID = r.ID.String()
		m.runName = r.Name
	}
}

// WithMetadata attaches key/value pairs (hyperparameters, vocabulary path)
// to every snapshot.
func WithMetadata(md map[string]string) Option {
	return func(m *Manager) {
		for k, v := range md {
			m.metadata[k] = v
		}
	}
}

// WithLogger replaces the default logger.
func WithLogger(l log.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}
