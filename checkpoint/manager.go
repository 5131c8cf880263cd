// Package checkpoint saves and restores model snapshots under a run
// directory, keeping only the most recent few.
//
// Layout of a checkpoint directory:
//
//	ckpt-<step>.gob   gob-encoded model.Snapshot, one per save
//	checkpoint        JSON metadata naming the latest and retained files
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/YuminosukeSato/crnn/core/model"
	"github.com/YuminosukeSato/crnn/pkg/errors"
	"github.com/YuminosukeSato/crnn/pkg/log"
)

const (
	// MetadataFile is the name of the metadata file inside a checkpoint
	// directory.
	MetadataFile = "checkpoint"

	// DefaultMaxToKeep is the number of snapshots retained per run.
	DefaultMaxToKeep = 5
)

// Metadata is the content of the metadata file. Paths are file names
// relative to the checkpoint directory, oldest first.
type Metadata struct {
	Latest    string    `json:"latest"`
	Retained  []string  `json:"retained"`
	RunID     string    `json:"run_id,omitempty"`
	RunName   string    `json:"run_name,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Manager writes snapshots of one run and enforces FIFO retention.
type Manager struct {
	dir       string
	maxToKeep int

	runID    string
	runName  string
	metadata map[string]string

	state  Metadata
	logger log.Logger
}

// NewManager opens dir for writing, creating it when needed. An existing
// metadata file is resumed so retention continues across restarts. When
// WithRun is given, metadata written by a different run is a
// *errors.ConfigError, so two runs never evict each other's snapshots.
// maxToKeep <= 0 selects DefaultMaxToKeep.
func NewManager(dir string, maxToKeep int, opts ...Option) (*Manager, error) {
	if maxToKeep <= 0 {
		maxToKeep = DefaultMaxToKeep
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.NewConfigError("checkpoint_dir", "cannot create "+dir, err)
	}
	m := &Manager{
		dir:       dir,
		maxToKeep: maxToKeep,
		metadata:  make(map[string]string),
		logger:    log.GetLoggerWithName("checkpoint"),
	}
	for _, opt := range opts {
		opt(m)
	}

	state, err := readMetadata(dir)
	switch {
	case err == nil:
		if m.runID != "" && state.RunID != "" && state.RunID != m.runID {
			return nil, errors.NewConfigError("checkpoint_dir",
				fmt.Sprintf("%s belongs to run %s, not %s", dir, state.RunID, m.runID), nil)
		}
		m.state = *state
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, errors.NewConfigError("checkpoint_dir", "unreadable metadata in "+dir, err)
	}
	return m, nil
}

// Dir returns the checkpoint directory.
func (m *Manager) Dir() string {
	return m.dir
}

// Checkpoints returns the retained snapshot paths, oldest first.
func (m *Manager) Checkpoints() []string {
	out := make([]string, len(m.state.Retained))
	for i, name := range m.state.Retained {
		out[i] = filepath.Join(m.dir, name)
	}
	return out
}

// Save writes a snapshot of sm tagged with step and returns its path.
// When more than maxToKeep snapshots exist the oldest one is deleted.
func (m *Manager) Save(sm model.SequenceModel, step int) (string, error) {
	snap := model.TakeSnapshot(sm, step)
	snap.RunID = m.runID
	snap.RunName = m.runName
	for k, v := range m.metadata {
		snap.Metadata[k] = v
	}

	name := fmt.Sprintf("ckpt-%d.gob", step)
	path := filepath.Join(m.dir, name)
	if err := model.SaveSnapshot(snap, path); err != nil {
		return "", errors.Wrapf(err, "save checkpoint %s", path)
	}

	// Saving the same step twice replaces the file in place.
	// The current history stays untouched until the new metadata is written.
	retained := slices.DeleteFunc(slices.Clone(m.state.Retained), func(s string) bool { return s == name })
	retained = append(retained, name)
	for len(retained) > m.maxToKeep {
		oldest := retained[0]
		if err := os.Remove(filepath.Join(m.dir, oldest)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", errors.Wrapf(err, "remove old checkpoint %s", oldest)
		}
		m.logger.Debug("Old checkpoint removed", log.CheckpointPathKey, oldest)
		retained = retained[1:]
	}

	m.state = Metadata{
		Latest:    name,
		Retained:  retained,
		RunID:     m.runID,
		RunName:   m.runName,
		UpdatedAt: time.Now(),
	}
	if err := writeMetadata(m.dir, &m.state); err != nil {
		return "", err
	}

	m.logger.Info("Checkpoint saved",
		log.OperationKey, log.OperationSave,
		log.CheckpointPathKey, path,
		log.StepKey, step,
	)
	return path, nil
}

// Latest returns the path of the newest snapshot in dir. A missing
// directory, missing metadata or an empty history is a configuration error.
func Latest(dir string) (string, error) {
	if _, err := os.Stat(dir); err != nil {
		return "", errors.NewConfigError("checkpoint_path", "checkpoint directory "+dir+" does not exist", err)
	}
	state, err := readMetadata(dir)
	if err != nil {
		return "", errors.NewConfigError("checkpoint_path", "no checkpoint metadata in "+dir, err)
	}
	if state.Latest == "" {
		return "", errors.NewConfigError("checkpoint_path", "no checkpoint recorded in "+dir, errors.ErrNoCheckpoint)
	}
	path := filepath.Join(dir, state.Latest)
	if _, err := os.Stat(path); err != nil {
		return "", errors.NewConfigError("checkpoint_path", "latest checkpoint is missing", err)
	}
	return path, nil
}

// Restore loads the snapshot at path into sm, matching parameters by name.
// A parameter whose shape differs yields a *errors.DimensionError.
func Restore(sm model.SequenceModel, path string) (*model.Snapshot, error) {
	snap, err := model.LoadSnapshot(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errors.NewConfigError("checkpoint_path", "checkpoint "+path+" does not exist", err)
		}
		return nil, errors.Wrapf(err, "load checkpoint %s", path)
	}
	if err := snap.Apply(sm); err != nil {
		return nil, errors.Wrapf(err, "restore checkpoint %s", path)
	}
	log.GetLoggerWithName("checkpoint").Info("Checkpoint restored",
		log.OperationKey, log.OperationRestore,
		log.CheckpointPathKey, path,
		log.StepKey, snap.Step,
	)
	return snap, nil
}

// RestoreLatest restores the newest snapshot in dir.
func RestoreLatest(sm model.SequenceModel, dir string) (string, *model.Snapshot, error) {
	path, err := Latest(dir)
	if err != nil {
		return "", nil, err
	}
	snap, err := Restore(sm, path)
	if err != nil {
		return "", nil, err
	}
	return path, snap, nil
}

func readMetadata(dir string) (*Metadata, error) {
	data, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	if err != nil {
		return nil, err
	}
	var md Metadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, errors.Wrap(err, "decode checkpoint metadata")
	}
	return &md, nil
}

func writeMetadata(dir string, md *Metadata) error {
	data, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode checkpoint metadata")
	}
	tmp := filepath.Join(dir, "."+MetadataFile+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, "write checkpoint metadata")
	}
	if err := os.Rename(tmp, filepath.Join(dir, MetadataFile)); err != nil {
		return errors.Wrap(err, "write checkpoint metadata")
	}
	return nil
}
