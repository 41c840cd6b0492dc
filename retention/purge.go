package retention

import (
	"context"

	"mediaconvert/artifacts"
	"mediaconvert/logger"
	"mediaconvert/models"
	"mediaconvert/store"
)

// purger deletes jobs in two phases: first artifacts (best effort, with the
// job flagged as cleaned up either way), then the records.
type purger struct {
	jobs  store.JobStore
	blobs artifacts.Store
}

// purge returns how many job records were deleted.
func (p purger) purge(ctx context.Context, victims []*models.ConversionJob) int {
	for _, job := range victims {
		if !job.RetentionCleanedUp {
			if failed := artifacts.DeleteAll(ctx, p.blobs, job.ArtifactRefs()); failed > 0 {
				logger.Warnf("Job %s: %d artifact(s) could not be deleted", job.ID, failed)
			}
		}
		if err := p.jobs.MarkCleanedUp(ctx, job.ID); err != nil {
			logger.Debugf("Job %s: could not flag cleanup: %v", job.ID, err)
		}
	}

	deleted := 0
	for _, job := range victims {
		if err := p.jobs.Delete(ctx, job.ID); err != nil {
			logger.Errorf("Job %s: failed to delete record: %v", job.ID, err)
			continue
		}
		deleted++
	}
	return deleted
}
