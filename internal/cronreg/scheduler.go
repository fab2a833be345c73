// Package cronreg adapts robfig/cron into an idempotent registry of
// deployment cron jobs, grounded in the automation scheduler's
// register-by-removing-first pattern.
package cronreg

import (
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Job is invoked on the cron schedule for a deployment.
type Job func()

// Scheduler tracks one cron entry per deployment ID and keeps Register
// idempotent: registering an ID that already has an entry replaces it
// rather than adding a second trigger.
type Scheduler struct {
	cr  *cron.Cron
	log *logrus.Entry

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// New creates a Scheduler. Call Start to begin firing jobs.
func New(log *logrus.Entry) *Scheduler {
	return &Scheduler{
		cr:      cron.New(),
		log:     log,
		entries: make(map[string]cron.EntryID),
	}
}

// Start begins the scheduler's background goroutine.
func (s *Scheduler) Start() { s.cr.Start() }

// Stop halts the scheduler and waits for any running job to finish.
func (s *Scheduler) Stop() { <-s.cr.Stop().Done() }

// Register adds or replaces the cron entry for deploymentID with the given
// cron expression. It is safe to call repeatedly as deployments are
// redeployed with a changed schedule.
func (s *Scheduler) Register(deploymentID, expr string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.entries[deploymentID]; ok {
		s.cr.Remove(prev)
		delete(s.entries, deploymentID)
	}

	id, err := s.cr.AddFunc(expr, job)
	if err != nil {
		return err
	}
	s.entries[deploymentID] = id
	return nil
}

// Deregister removes the cron entry for deploymentID, if any.
func (s *Scheduler) Deregister(deploymentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[deploymentID]; ok {
		s.cr.Remove(id)
		delete(s.entries, deploymentID)
	}
}

// Has reports whether deploymentID currently has a registered entry.
func (s *Scheduler) Has(deploymentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[deploymentID]
	return ok
}
