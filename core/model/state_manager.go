// Package model provides state management for estimators.
package model

import (
	"sync"

	"github.com/apoorvalal/Functional-GEL/pkg/errors"
)

// StateManager manages the training state of an estimator in a thread-safe
// manner. Train may start at most once per estimator; the trained flag goes
// from false to true exactly once.
type StateManager struct {
	mu sync.RWMutex

	started bool
	trained bool
	status  TrainStatus

	// Optional metadata
	NSamples int
	PsiDim   int
}

// NewStateManager creates a new StateManager instance.
func NewStateManager() *StateManager {
	return &StateManager{status: StatusUntrained}
}

// Begin records the start of a training run. It fails with
// ErrAlreadyTrained if a run was already started.
func (s *StateManager) Begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.WithStack(errors.ErrAlreadyTrained)
	}
	s.started = true
	return nil
}

// IsTrained returns whether training has completed.
func (s *StateManager) IsTrained() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trained
}

// MarkTrained marks the estimator as trained with the given status.
func (s *StateManager) MarkTrained(status TrainStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trained = true
	s.status = status
}

// SetStatus records the outcome of the last run without marking the
// estimator as trained.
func (s *StateManager) SetStatus(status TrainStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// Status returns the outcome of the last training run.
func (s *StateManager) Status() TrainStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// SetDimensions sets the number of samples and moments seen during training.
func (s *StateManager) SetDimensions(nSamples, psiDim int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.NSamples = nSamples
	s.PsiDim = psiDim
}

// GetDimensions returns the number of samples and moments seen during training.
func (s *StateManager) GetDimensions() (nSamples, psiDim int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.NSamples, s.PsiDim
}

// RequireTrained returns a NotFittedError if training has not completed.
func (s *StateManager) RequireTrained(modelName, method string) error {
	if !s.IsTrained() {
		return errors.NewNotFittedError(modelName, method)
	}
	return nil
}

// State represents the training state of an estimator for logging and
// debugging.
type State struct {
	Trained  bool   `json:"trained"`
	Status   string `json:"status"`
	NSamples int    `json:"n_samples,omitempty"`
	PsiDim   int    `json:"psi_dim,omitempty"`
}

// GetState returns the current state as a State struct.
func (s *StateManager) GetState() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return State{
		Trained:  s.trained,
		Status:   s.status.String(),
		NSamples: s.NSamples,
		PsiDim:   s.PsiDim,
	}
}
