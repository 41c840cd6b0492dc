package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"mediaconvert/models"
)

var ErrNotFound = errors.New("job not found")

// JobStore persists conversion jobs. Writers use the targeted updates below
// rather than whole-record replacement. Conditional updates report whether
// they applied; a job that is missing or no longer processing yields
// (false, nil).
type JobStore interface {
	Create(ctx context.Context, job *models.ConversionJob) error
	Get(ctx context.Context, id string) (*models.ConversionJob, error)

	// UpdateProgress raises progress while the job is processing. Lower or
	// equal values are ignored.
	UpdateProgress(ctx context.Context, id string, progress int) (bool, error)
	// Complete moves a processing job to completed with progress 100.
	Complete(ctx context.Context, id string, c models.Completion) (bool, error)
	// Fail moves a processing job to failed with progress 0.
	Fail(ctx context.Context, id string, reason string) (bool, error)

	IncrementDownloads(ctx context.Context, id string) (int, error)
	MarkCleanedUp(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error

	// List returns matching jobs, newest first.
	List(ctx context.Context, f Filter) ([]*models.ConversionJob, error)
	// CountAnonymousSince counts IP-owned jobs created at or after since.
	CountAnonymousSince(ctx context.Context, ip string, since time.Time) (int, error)

	Ping(ctx context.Context) error
	Close() error
}

// Filter selects jobs. Zero fields do not constrain. UserID and IPAddress are
// mutually exclusive selectors; IPAddress only ever matches anonymous jobs.
type Filter struct {
	UserID        string
	IPAddress     string
	Statuses      []models.JobStatus
	CreatedBefore time.Time
	CreatedSince  time.Time
	ExpiredBy     time.Time
	Limit         int
}

func (f Filter) validate() error {
	if f.UserID != "" && f.IPAddress != "" {
		return fmt.Errorf("filter cannot select by user id and ip address at once")
	}
	return nil
}

// Match applies the filter to a single job.
func (f Filter) Match(j *models.ConversionJob) bool {
	if f.UserID != "" && (j.OwnerUserID == nil || *j.OwnerUserID != f.UserID) {
		return false
	}
	if f.IPAddress != "" && (!j.IsAnonymous() || j.OwnerIPAddress != f.IPAddress) {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, j.Status) {
		return false
	}
	if !f.CreatedBefore.IsZero() && !j.CreatedAt.Before(f.CreatedBefore) {
		return false
	}
	if !f.CreatedSince.IsZero() && j.CreatedAt.Before(f.CreatedSince) {
		return false
	}
	if !f.ExpiredBy.IsZero() && j.ExpiresAt.After(f.ExpiredBy) {
		return false
	}
	return true
}

// Open returns the job store selected by driver ("pebble" or "postgres").
func Open(ctx context.Context, driver, pebblePath, databaseURL string) (JobStore, error) {
	switch driver {
	case "", "pebble":
		return OpenPebble(pebblePath)
	case "postgres", "postgresql":
		if databaseURL == "" {
			return nil, fmt.Errorf("postgres store requires DATABASE_URL")
		}
		return OpenPostgres(ctx, databaseURL)
	default:
		return nil, fmt.Errorf("unknown store driver '%s'", driver)
	}
}
