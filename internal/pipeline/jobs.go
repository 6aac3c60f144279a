package pipeline

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Jobs tracks jobs executing in the background. A run ID is either free,
// reserved while its job is being prepared, or held by an active job.
type Jobs struct {
	mu       sync.Mutex
	jobs     map[string]*Job
	reserved map[string]struct{}
	wg       sync.WaitGroup
}

// NewJobs returns an empty registry.
func NewJobs() *Jobs {
	return &Jobs{
		jobs:     make(map[string]*Job),
		reserved: make(map[string]struct{}),
	}
}

// Reserve claims runID before its job is prepared. It returns false when
// the run is already reserved or active. A successful reservation ends with
// Start or Release.
func (js *Jobs) Reserve(runID string) bool {
	js.mu.Lock()
	defer js.mu.Unlock()
	if _, ok := js.jobs[runID]; ok {
		return false
	}
	if _, ok := js.reserved[runID]; ok {
		return false
	}
	js.reserved[runID] = struct{}{}
	return true
}

// Release drops a reservation whose job was never started.
func (js *Jobs) Release(runID string) {
	js.mu.Lock()
	delete(js.reserved, runID)
	js.mu.Unlock()
}

// Start executes job in a new goroutine and tracks it until it finishes,
// taking over any reservation of its run ID. It returns false without
// starting when another job for the run is active. done, when set,
// receives the outcome.
func (js *Jobs) Start(ctx context.Context, job *Job, done func(*Result, error)) bool {
	js.mu.Lock()
	if _, ok := js.jobs[job.ID()]; ok {
		js.mu.Unlock()
		return false
	}
	delete(js.reserved, job.ID())
	js.jobs[job.ID()] = job
	js.mu.Unlock()

	js.wg.Add(1)
	go func() {
		defer js.wg.Done()
		defer job.Close()
		defer func() {
			js.mu.Lock()
			delete(js.jobs, job.ID())
			js.mu.Unlock()
		}()

		res, err := job.Execute(ctx)
		if err != nil {
			zap.L().Error("pipeline: background run failed", zap.String("run_id", job.ID()), zap.Error(err))
		}
		if done != nil {
			done(res, err)
		}
	}()
	return true
}

// Get returns the active job for runID.
func (js *Jobs) Get(runID string) (*Job, bool) {
	js.mu.Lock()
	defer js.mu.Unlock()
	j, ok := js.jobs[runID]
	return j, ok
}

// Stop requests a cooperative stop of runID. It reports whether the run was
// active.
func (js *Jobs) Stop(runID string) bool {
	j, ok := js.Get(runID)
	if ok {
		j.Stop()
	}
	return ok
}

// StopAll stops every active job.
func (js *Jobs) StopAll() {
	js.mu.Lock()
	defer js.mu.Unlock()
	for _, j := range js.jobs {
		j.Stop()
	}
}

// Active returns the number of running jobs.
func (js *Jobs) Active() int {
	js.mu.Lock()
	defer js.mu.Unlock()
	return len(js.jobs)
}

// Wait blocks until every started job has returned.
func (js *Jobs) Wait() {
	js.wg.Wait()
}
