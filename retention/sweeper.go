package retention

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mediaconvert/artifacts"
	"mediaconvert/logger"
	"mediaconvert/models"
	"mediaconvert/store"
)

const (
	DefaultStaleAfter      = 10 * time.Minute
	DefaultFailedRetention = time.Hour

	reasonStale    = "engine_timeout: no result after %s"
	reasonOrphaned = "engine_failure: interrupted by service restart"
)

// Sweeper force-fails stuck jobs and deletes failed and expired ones.
type Sweeper struct {
	purger
	staleAfter      time.Duration
	failedRetention time.Duration
	now             func() time.Time
}

func NewSweeper(jobs store.JobStore, blobs artifacts.Store, staleAfter, failedRetention time.Duration) *Sweeper {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	if failedRetention <= 0 {
		failedRetention = DefaultFailedRetention
	}
	return &Sweeper{
		purger:          purger{jobs: jobs, blobs: blobs},
		staleAfter:      staleAfter,
		failedRetention: failedRetention,
		now:             time.Now,
	}
}

// FailStale moves processing jobs older than the staleness threshold to
// failed. Each job is failed at most once; the store ignores repeats.
func (s *Sweeper) FailStale(ctx context.Context) (int, error) {
	jobs, err := s.jobs.List(ctx, store.Filter{
		Statuses:      []models.JobStatus{models.StatusProcessing},
		CreatedBefore: s.now().Add(-s.staleAfter),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list stale jobs: %w", err)
	}
	return s.failAll(ctx, jobs, fmt.Sprintf(reasonStale, s.staleAfter)), nil
}

// FailOrphaned fails every processing job. It runs once at startup, when no
// conversion in this process can own them.
func (s *Sweeper) FailOrphaned(ctx context.Context) (int, error) {
	jobs, err := s.jobs.List(ctx, store.Filter{Statuses: []models.JobStatus{models.StatusProcessing}})
	if err != nil {
		return 0, fmt.Errorf("failed to list processing jobs: %w", err)
	}
	return s.failAll(ctx, jobs, reasonOrphaned), nil
}

// RecoverOrphans runs FailOrphaned unless the job store is shared with other
// replicas. Their processing jobs are still owned, so a shared store leaves
// interrupted jobs to FailStale.
func (s *Sweeper) RecoverOrphans(ctx context.Context, shared bool) (int, error) {
	if shared {
		return 0, nil
	}
	return s.FailOrphaned(ctx)
}

func (s *Sweeper) failAll(ctx context.Context, jobs []*models.ConversionJob, reason string) int {
	failed := 0
	for _, job := range jobs {
		applied, err := s.jobs.Fail(ctx, job.ID, reason)
		if err != nil {
			logger.Errorf("Job %s: failed to force failure: %v", job.ID, err)
			continue
		}
		if applied {
			logger.Warnf("Job %s forced to failed: %s", job.ID, reason)
			failed++
		}
	}
	return failed
}

// PurgeFailed deletes failed jobs created before the failed-job retention window.
func (s *Sweeper) PurgeFailed(ctx context.Context) (int, error) {
	jobs, err := s.jobs.List(ctx, store.Filter{
		Statuses:      []models.JobStatus{models.StatusFailed},
		CreatedBefore: s.now().Add(-s.failedRetention),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list failed jobs: %w", err)
	}
	return s.purge(ctx, jobs), nil
}

// PurgeExpired deletes every job whose expiresAt has passed, whatever its status.
func (s *Sweeper) PurgeExpired(ctx context.Context) (int, error) {
	jobs, err := s.jobs.List(ctx, store.Filter{ExpiredBy: s.now()})
	if err != nil {
		return 0, fmt.Errorf("failed to list expired jobs: %w", err)
	}
	return s.purge(ctx, jobs), nil
}

// Report summarizes one cleanup run.
type Report struct {
	Failed  int
	Expired int
}

// Cleanup purges old failed jobs and expired jobs. An error in one step
// does not skip the other.
func (s *Sweeper) Cleanup(ctx context.Context) (Report, error) {
	var (
		r    Report
		errs []error
		err  error
	)
	if r.Failed, err = s.PurgeFailed(ctx); err != nil {
		errs = append(errs, err)
	}
	if r.Expired, err = s.PurgeExpired(ctx); err != nil {
		errs = append(errs, err)
	}
	if r.Failed+r.Expired > 0 {
		logger.Infof("Cleanup: %d failed purged, %d expired purged", r.Failed, r.Expired)
	}
	if len(errs) > 0 {
		return r, fmt.Errorf("cleanup incomplete: %w", errors.Join(errs...))
	}
	return r, nil
}
