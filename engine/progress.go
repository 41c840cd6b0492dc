package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"mediaconvert/logger"
	"mediaconvert/store"
)

// maxProcessingProgress keeps 100 reserved for completed jobs.
const maxProcessingProgress = 99

// progressTracker forwards monotonic progress for one job until the job has
// settled. Updates after settlement are dropped here, and the store rejects
// any that race past the check because the job is no longer processing.
type progressTracker struct {
	jobs    store.JobStore
	jobID   string
	settled *atomic.Bool

	mu   sync.Mutex
	last int
}

func newProgressTracker(jobs store.JobStore, jobID string, settled *atomic.Bool) *progressTracker {
	return &progressTracker{jobs: jobs, jobID: jobID, settled: settled}
}

func (p *progressTracker) report(pct float64) {
	if p.settled.Load() {
		return
	}
	v := min(max(int(pct), 0), maxProcessingProgress)

	p.mu.Lock()
	defer p.mu.Unlock()
	if v <= p.last {
		return
	}
	p.last = v

	ctx, cancel := context.WithTimeout(context.Background(), storeWriteTimeout)
	defer cancel()
	if _, err := p.jobs.UpdateProgress(ctx, p.jobID, v); err != nil {
		logger.Warnf("Job %s: failed to update progress to %d: %v", p.jobID, v, err)
	}
}
