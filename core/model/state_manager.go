package model

import (
	"sync"

	"github.com/mariiabilous/besca/pkg/errors"
)

// ModelState is what a classifier remembers about its training matrix.
// Snapshots embed it so a restored backend passes the same shape checks.
type ModelState struct {
	Fitted    bool `json:"fitted"`
	NFeatures int  `json:"n_features,omitempty"`
	NSamples  int  `json:"n_samples,omitempty"`
}

// StateManager guards a ModelState. Every classifier backend holds one by
// pointer; Predict paths may read it concurrently with a refit.
type StateManager struct {
	mu sync.RWMutex
	st ModelState
}

func NewStateManager() *StateManager { return &StateManager{} }

func (s *StateManager) IsFitted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.Fitted
}

func (s *StateManager) SetFitted() {
	s.mu.Lock()
	s.st.Fitted = true
	s.mu.Unlock()
}

// Reset forgets the training shape; called at the start of every Fit.
func (s *StateManager) Reset() { s.SetState(ModelState{}) }

// SetDimensions records the gene count and cell count of the training matrix.
func (s *StateManager) SetDimensions(nFeatures, nSamples int) {
	s.mu.Lock()
	s.st.NFeatures, s.st.NSamples = nFeatures, nSamples
	s.mu.Unlock()
}

func (s *StateManager) GetDimensions() (nFeatures, nSamples int) {
	st := s.GetState()
	return st.NFeatures, st.NSamples
}

// RequireFitted は未学習なら NotFittedError を返す。
func (s *StateManager) RequireFitted(model, method string) error {
	if s.IsFitted() {
		return nil
	}
	return errors.NewNotFittedError(model, method)
}

// CheckFeatures rejects a matrix whose column count differs from training.
func (s *StateManager) CheckFeatures(op string, nCols int) error {
	if want, _ := s.GetDimensions(); nCols != want {
		return errors.NewDimensionError(op, want, nCols, 1)
	}
	return nil
}

func (s *StateManager) GetState() ModelState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st
}

func (s *StateManager) SetState(st ModelState) {
	s.mu.Lock()
	s.st = st
	s.mu.Unlock()
}
