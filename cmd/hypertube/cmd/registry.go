package cmd

import (
	"sync"

	"github.com/angelasoler/hypertube/torrent/scheduler"
)

// schedulerRegistry tracks the active Scheduler for every in-flight
// download job, satisfying streaming.Availability so an in-progress
// download can be streamed before it reaches COMPLETED.
type schedulerRegistry struct {
	mu    sync.Mutex
	byJob map[string]*scheduler.Scheduler
}

func newSchedulerRegistry() *schedulerRegistry {
	return &schedulerRegistry{byJob: make(map[string]*scheduler.Scheduler)}
}

func (r *schedulerRegistry) put(jobID string, s *scheduler.Scheduler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byJob[jobID] = s
}

func (r *schedulerRegistry) remove(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byJob, jobID)
}

// ContiguousBytes implements streaming.Availability.
func (r *schedulerRegistry) ContiguousBytes(jobID string) (int64, bool) {
	r.mu.Lock()
	s, ok := r.byJob[jobID]
	r.mu.Unlock()
	if !ok {
		return 0, false
	}
	return s.ContiguousBytes(), true
}
