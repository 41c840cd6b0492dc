package access

import (
	"context"
	"errors"

	"mediaconvert/identity"
	"mediaconvert/models"
	"mediaconvert/store"
)

var (
	ErrNotFound     = errors.New("conversion not found")
	ErrAccessDenied = errors.New("access denied")
	ErrNotReady     = errors.New("conversion not completed yet")
)

// Finder is the slice of the job store the guard needs.
type Finder interface {
	Get(ctx context.Context, id string) (*models.ConversionJob, error)
}

// Guard binds a request identity to a job's recorded owner.
type Guard struct {
	jobs Finder
}

func NewGuard(jobs Finder) *Guard {
	return &Guard{jobs: jobs}
}

// Owns reports whether id owns job. User-owned jobs are never matched by IP;
// anonymous jobs require a well-formed client IP equal to the recorded one.
func Owns(id identity.Identity, job *models.ConversionJob) bool {
	if !job.IsAnonymous() {
		return id.IsAuthenticated() && id.UserID == *job.OwnerUserID
	}
	if !identity.ValidIP(id.IPAddress) || !identity.ValidIP(job.OwnerIPAddress) {
		return false
	}
	return identity.NormalizeIP(id.IPAddress) == identity.NormalizeIP(job.OwnerIPAddress)
}

// Authorize returns the job when id owns it. Any status may be polled.
func (g *Guard) Authorize(ctx context.Context, jobID string, id identity.Identity) (*models.ConversionJob, error) {
	job, err := g.jobs.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !Owns(id, job) {
		return nil, ErrAccessDenied
	}
	return job, nil
}

// AuthorizeDownload additionally requires a completed job with a converted artifact.
func (g *Guard) AuthorizeDownload(ctx context.Context, jobID string, id identity.Identity) (*models.ConversionJob, error) {
	job, err := g.Authorize(ctx, jobID, id)
	if err != nil {
		return nil, err
	}
	if job.Status != models.StatusCompleted || job.ConvertedArtifactRef == nil || *job.ConvertedArtifactRef == "" {
		return nil, ErrNotReady
	}
	return job, nil
}
