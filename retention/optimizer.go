package retention

import (
	"context"
	"fmt"

	"mediaconvert/artifacts"
	"mediaconvert/formats"
	"mediaconvert/identity"
	"mediaconvert/logger"
	"mediaconvert/models"
	"mediaconvert/store"
)

const DefaultKeepCount = 5

// Optimizer keeps only the most recent conversions per identity and media
// kind. Jobs still processing are never evicted.
type Optimizer struct {
	purger
	keep int
}

func NewOptimizer(jobs store.JobStore, blobs artifacts.Store, keepCount int) *Optimizer {
	if keepCount <= 0 {
		keepCount = DefaultKeepCount
	}
	return &Optimizer{purger: purger{jobs: jobs, blobs: blobs}, keep: keepCount}
}

var terminal = []models.JobStatus{models.StatusCompleted, models.StatusFailed}

// bucketOf infers the media kind a job counts against.
func bucketOf(job *models.ConversionJob) models.MediaKind {
	if kind := formats.KindOf(job.OriginalFormat); kind != models.KindOther {
		return kind
	}
	return formats.KindOf(job.TargetFormat)
}

// excess returns the jobs beyond keep in each bucket. jobs must be sorted
// newest first.
func excess(jobs []*models.ConversionJob, keep int) []*models.ConversionJob {
	seen := map[models.MediaKind]int{}
	var out []*models.ConversionJob
	for _, job := range jobs {
		kind := bucketOf(job)
		seen[kind]++
		if seen[kind] > keep {
			out = append(out, job)
		}
	}
	return out
}

func selector(id identity.Identity) store.Filter {
	if id.IsAuthenticated() {
		return store.Filter{UserID: id.UserID, Statuses: terminal}
	}
	return store.Filter{IPAddress: id.IPAddress, Statuses: terminal}
}

// Optimize deletes every job of id beyond the keepCount most recent in its
// bucket and returns the number of deleted jobs. keepCount <= 0 uses the
// optimizer's default. Only completed and failed jobs count toward
// keepCount, so processing jobs are kept on top of it.
func (o *Optimizer) Optimize(ctx context.Context, id identity.Identity, keepCount int) (int, error) {
	if keepCount <= 0 {
		keepCount = o.keep
	}
	if !id.IsAuthenticated() && id.IPAddress == "" {
		return 0, fmt.Errorf("identity has neither user id nor ip address")
	}

	jobs, err := o.jobs.List(ctx, selector(id))
	if err != nil {
		return 0, fmt.Errorf("failed to list jobs for %s: %w", id, err)
	}
	victims := excess(jobs, keepCount)
	if len(victims) == 0 {
		return 0, nil
	}

	deleted := o.purge(ctx, victims)
	logger.Infof("Retention: deleted %d of %d conversions for %s (keep %d per kind)", deleted, len(jobs), id, keepCount)
	return deleted, nil
}

// OptimizeAll runs Optimize once for every identity that exceeds the keep
// count in any bucket.
func (o *Optimizer) OptimizeAll(ctx context.Context) (int, error) {
	jobs, err := o.jobs.List(ctx, store.Filter{Statuses: terminal})
	if err != nil {
		return 0, fmt.Errorf("failed to list jobs: %w", err)
	}

	type bucketKey struct {
		owner identity.Identity
		kind  models.MediaKind
	}
	counts := map[bucketKey]int{}
	var over []identity.Identity
	flagged := map[identity.Identity]bool{}

	for _, job := range jobs {
		owner := ownerOf(job)
		k := bucketKey{owner: owner, kind: bucketOf(job)}
		counts[k]++
		if counts[k] > o.keep && !flagged[owner] {
			flagged[owner] = true
			over = append(over, owner)
		}
	}

	total := 0
	for _, owner := range over {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := o.Optimize(ctx, owner, o.keep)
		if err != nil {
			logger.Errorf("Retention for %s failed: %v", owner, err)
			continue
		}
		total += n
	}
	return total, nil
}

// ownerOf returns the single selector for a job's owner: the user id for
// user-owned jobs, the IP address otherwise.
func ownerOf(job *models.ConversionJob) identity.Identity {
	if !job.IsAnonymous() {
		return identity.User(*job.OwnerUserID)
	}
	return identity.Anonymous(job.OwnerIPAddress)
}
