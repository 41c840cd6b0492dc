package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"mediaconvert/artifacts"
	"mediaconvert/formats"
	"mediaconvert/identity"
	"mediaconvert/logger"
	"mediaconvert/models"
	"mediaconvert/store"
	"mediaconvert/transcode"
)

type Options struct {
	JobTimeout   time.Duration
	ImageTimeout time.Duration
	JobTTL       time.Duration
	ScratchDir   string
}

func (o *Options) setDefaults() {
	if o.JobTimeout <= 0 {
		o.JobTimeout = 10 * time.Minute
	}
	if o.ImageTimeout <= 0 {
		o.ImageTimeout = 5 * time.Minute
	}
	if o.JobTTL <= 0 {
		o.JobTTL = 24 * time.Hour
	}
	if o.ScratchDir == "" {
		o.ScratchDir = filepath.Join(os.TempDir(), "mediaconvert")
	}
}

// storeWriteTimeout bounds terminal writes, which run on a context detached
// from the (possibly cancelled) job context.
const storeWriteTimeout = 30 * time.Second

// Engine drives jobs from creation to a terminal state. Conversions run in
// background goroutines that outlive the request which started them.
type Engine struct {
	jobs       store.JobStore
	artifacts  artifacts.Store
	transcoder transcode.Transcoder
	opts       Options

	now   func() time.Time
	newID func() string

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(jobs store.JobStore, blobs artifacts.Store, transcoder transcode.Transcoder, opts Options) *Engine {
	opts.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		jobs:       jobs,
		artifacts:  blobs,
		transcoder: transcoder,
		opts:       opts,
		now:        time.Now,
		newID:      uuid.NewString,
		baseCtx:    ctx,
		cancel:     cancel,
	}
}

// Submission is an upload whose original artifact is already stored.
type Submission struct {
	OriginalArtifactRef string
	OriginalFileName    string
	MimeType            string
	TargetFormat        string
	FileSizeBytes       int64
	Owner               identity.Identity
}

// StartConversion classifies the submission, creates the processing job and
// starts the transcode in the background. Legacy inputs are normalized to
// mp4 before the job is created; when mp4 was the requested target the job
// is returned already completed. Classification errors and normalization
// failures are returned without creating a job.
func (e *Engine) StartConversion(ctx context.Context, sub Submission) (*models.ConversionJob, error) {
	classification, err := formats.Classify(sub.OriginalFileName, sub.MimeType)
	if err != nil {
		return nil, err
	}
	decision, err := formats.Route(classification, sub.TargetFormat)
	if err != nil {
		return nil, err
	}

	id := e.newID()
	originalRef := sub.OriginalArtifactRef
	var norm normalized

	if decision.NeedsNormalization() {
		norm, err = e.normalize(ctx, id, originalRef, decision)
		if err != nil {
			return nil, err
		}
		if delErr := e.artifacts.Delete(ctx, originalRef); delErr != nil {
			logger.Warnf("Failed to delete pre-normalization upload %s: %v", originalRef, delErr)
		}
		originalRef = norm.ref
	}

	now := e.now()
	job := &models.ConversionJob{
		ID:                  id,
		OriginalFileName:    sub.OriginalFileName,
		OriginalFormat:      classification.Format,
		TargetFormat:        decision.TargetFormat,
		FileSizeBytes:       sub.FileSizeBytes,
		OwnerIPAddress:      sub.Owner.IPAddress,
		Status:              models.StatusProcessing,
		CreatedAt:           now,
		UpdatedAt:           now,
		ExpiresAt:           now.Add(e.opts.JobTTL),
		OriginalArtifactRef: originalRef,
	}
	if sub.Owner.IsAuthenticated() {
		userID := sub.Owner.UserID
		job.OwnerUserID = &userID
	}

	if err := e.jobs.Create(ctx, job); err != nil {
		artifacts.DeleteAll(context.WithoutCancel(ctx), e.artifacts, norm.refs())
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	logger.Infof("Job %s created: %s %s -> %s (%s, owner %s)",
		id, sub.OriginalFileName, classification.Format, decision.TargetFormat, decision.Kind, sub.Owner)

	if decision.Kind == formats.NormalizeOnly {
		e.finalize(job.ID, outcome{completion: models.Completion{
			ConvertedArtifactRef: norm.ref,
			ConvertedMimeType:    formats.MimeType(formats.NormalizedFormat),
			ThumbnailArtifactRef: norm.thumbnailRef,
		}})
		return e.jobs.Get(ctx, id)
	}

	e.wg.Add(1)
	go e.run(*job, decision)
	return job, nil
}

type outcome struct {
	completion models.Completion
	err        error
}

// run executes one job. The pipeline and the job timeout race; whichever
// settles first decides the outcome and the loser's result is discarded.
func (e *Engine) run(job models.ConversionJob, d formats.RoutingDecision) {
	defer e.wg.Done()

	ctx, cancel := context.WithTimeout(e.baseCtx, e.opts.JobTimeout)
	defer cancel()

	var settled atomic.Bool
	progress := newProgressTracker(e.jobs, job.ID, &settled)
	result := make(chan outcome, 1)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		var out outcome
		func() {
			defer func() {
				if r := recover(); r != nil {
					out = outcome{err: failure(ErrEngineFailure, "panic: %v", r)}
				}
			}()
			out.completion, out.err = e.convert(ctx, job, d, progress.report)
		}()

		if !settled.CompareAndSwap(false, true) {
			if out.err == nil {
				logger.Warnf("Job %s finished after its timeout, discarding output", job.ID)
				e.discard(out.completion)
			}
			return
		}
		result <- out
	}()

	var out outcome
	select {
	case out = <-result:
	case <-ctx.Done():
		if settled.CompareAndSwap(false, true) {
			out = outcome{err: contextFailure(ctx)}
		} else {
			out = <-result
		}
	}
	e.finalize(job.ID, out)
}

func contextFailure(ctx context.Context) *FailureError {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &FailureError{Kind: ErrEngineTimeout}
	}
	return failure(ErrEngineFailure, "conversion cancelled: %v", ctx.Err())
}

// finalize writes the terminal state. It is a no-op for jobs that are already
// terminal, in which case a successful output is deleted again.
func (e *Engine) finalize(id string, out outcome) {
	ctx, cancel := context.WithTimeout(context.Background(), storeWriteTimeout)
	defer cancel()

	if out.err != nil {
		reason := failureReason(out.err)
		applied, err := e.jobs.Fail(ctx, id, reason)
		switch {
		case err != nil:
			logger.Errorf("Job %s: failed to record failure %q: %v", id, reason, err)
		case applied:
			logger.Warnf("Job %s failed: %s", id, reason)
		default:
			logger.Debugf("Job %s already terminal, ignoring failure %q", id, reason)
		}
		return
	}

	applied, err := e.jobs.Complete(ctx, id, out.completion)
	switch {
	case err != nil:
		logger.Errorf("Job %s: failed to record completion: %v", id, err)
		e.discard(out.completion)
	case applied:
		logger.Infof("Job %s completed: %s", id, out.completion.ConvertedArtifactRef)
	default:
		logger.Warnf("Job %s was finalized elsewhere, discarding converted output", id)
		e.discard(out.completion)
	}
}

// discard removes artifacts produced for a result nobody will record.
func (e *Engine) discard(c models.Completion) {
	ctx, cancel := context.WithTimeout(context.Background(), storeWriteTimeout)
	defer cancel()
	refs := []string{c.ConvertedArtifactRef, c.ThumbnailArtifactRef}
	var nonEmpty []string
	for _, ref := range refs {
		if ref != "" {
			nonEmpty = append(nonEmpty, ref)
		}
	}
	artifacts.DeleteAll(ctx, e.artifacts, nonEmpty)
}

// Wait blocks until every background conversion has returned.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Shutdown waits for in-flight conversions until ctx expires, then cancels
// them; cancelled jobs are recorded as failed.
func (e *Engine) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.cancel()
		return nil
	case <-ctx.Done():
		logger.Warn("Shutdown deadline reached, cancelling in-flight conversions")
		e.cancel()
		<-done
		return ctx.Err()
	}
}
