package audit

import (
	"github.com/yairfalse/projaudit/internal/gcloud"
)

// RunState is everything a single run mutates. It is owned by the
// sequential audit flow and passed explicitly to each phase.
type RunState struct {
	Total       int
	Completed   int
	StillDenied int
	Retried     int

	retry   []gcloud.Project
	drained bool
}

// NewRunState creates the state for a run over total projects.
func NewRunState(total int) *RunState {
	return &RunState{Total: total}
}

// Defer queues a project for the retry pass. Deferring after the queue has
// been drained is a programming error and panics.
func (s *RunState) Defer(p gcloud.Project) {
	if s.drained {
		panic("audit: project deferred after retry queue was drained")
	}
	s.retry = append(s.retry, p)
}

// Pending returns the number of queued projects.
func (s *RunState) Pending() int {
	return len(s.retry)
}

// Drain empties the queue in insertion order. It may be called once.
func (s *RunState) Drain() []gcloud.Project {
	queue := s.retry
	s.retry = nil
	s.drained = true
	s.Retried = len(queue)
	return queue
}
