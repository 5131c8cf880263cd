// Package model provides state management for sequence models.
package model

import (
	"sync"

	"github.com/YuminosukeSato/crnn/pkg/errors"
)

// StateManager tracks whether a model holds usable weights, either because
// it was trained in this process or restored from a checkpoint. Inference
// refuses to run on untrained weights.
type StateManager struct {
	mu sync.RWMutex

	Ready  bool   // Public for gob encoding
	Step   int    // last trained epoch or restored checkpoint number
	Source string // "trained" or the restored checkpoint path
}

// NewStateManager creates a new StateManager instance.
func NewStateManager() *StateManager {
	return &StateManager{}
}

// IsReady returns whether the model holds usable weights.
func (s *StateManager) IsReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Ready
}

// MarkTrained records that the model was trained up to step.
func (s *StateManager) MarkTrained(step int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Ready = true
	s.Step = step
	s.Source = "trained"
}

// MarkRestored records that the model was restored from path.
func (s *StateManager) MarkRestored(path string, step int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Ready = true
	s.Step = step
	s.Source = path
}

// Reset forgets the model state.
func (s *StateManager) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Ready = false
	s.Step = 0
	s.Source = ""
}

// RequireReady returns an error if the model holds no usable weights.
func (s *StateManager) RequireReady(op string) error {
	if !s.IsReady() {
		return errors.NewModelError(op, "model has neither been trained nor restored from a checkpoint", nil)
	}
	return nil
}
