package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/agoralabs/agora-crawler/internal/engine"
)

// State tracks a job through its API-visible lifecycle.
type State string

const (
	StateQueued          State = "queued"
	StateRunning         State = "running"
	StateCompleted       State = "completed"
	StatePartiallyFailed State = "partially_failed"
	StateCancelled       State = "cancelled"
	StateFailed          State = "failed"
)

// Terminal reports whether a job in this state will not change again.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StatePartiallyFailed, StateCancelled, StateFailed:
		return true
	default:
		return false
	}
}

// JobRecord is the stored view of a submitted crawl job.
type JobRecord struct {
	ID        string         `json:"job_id"`
	State     State          `json:"state"`
	Job       engine.Job     `json:"job"`
	Submitted time.Time      `json:"submitted_at"`
	Started   *time.Time     `json:"started_at,omitempty"`
	Finished  *time.Time     `json:"finished_at,omitempty"`
	ErrorText string         `json:"error,omitempty"`
	Report    *engine.Report `json:"-"`
}

// ErrJobNotFound is returned for lookups of unknown job IDs.
var ErrJobNotFound = errors.New("job not found")

// Store keeps job records and their cancel functions in memory.
type Store struct {
	mu      sync.RWMutex
	jobs    map[string]JobRecord
	cancels map[string]context.CancelFunc
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		jobs:    make(map[string]JobRecord),
		cancels: make(map[string]context.CancelFunc),
	}
}

// Create registers a queued job together with its cancel function.
func (s *Store) Create(rec JobRecord, cancel context.CancelFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[rec.ID]; exists {
		return errors.New("job already exists")
	}
	rec.State = StateQueued
	s.jobs[rec.ID] = rec
	s.cancels[rec.ID] = cancel
	return nil
}

// MarkRunning transitions a queued job to running.
func (s *Store) MarkRunning(jobID string, started time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	rec.State = StateRunning
	rec.Started = &started
	s.jobs[jobID] = rec
	return nil
}

// Finish records the terminal state and report of a job and drops its
// cancel function.
func (s *Store) Finish(jobID string, state State, report *engine.Report, errText string, finished time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	rec.State = state
	rec.Report = report
	rec.ErrorText = errText
	rec.Finished = &finished
	s.jobs[jobID] = rec
	delete(s.cancels, jobID)
	return nil
}

// Get fetches a job record by ID.
func (s *Store) Get(jobID string) (JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		return JobRecord{}, ErrJobNotFound
	}
	return rec, nil
}

// Cancel invokes the cancel function of a non-terminal job. It returns
// the record as of the call; the terminal state lands asynchronously
// once the run unwinds.
func (s *Store) Cancel(jobID string) (JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		return JobRecord{}, ErrJobNotFound
	}
	if cancel, ok := s.cancels[jobID]; ok {
		cancel()
	}
	return rec, nil
}
