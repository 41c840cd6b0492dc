package conversions

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"mediaconvert/access"
	"mediaconvert/artifacts"
	"mediaconvert/engine"
	"mediaconvert/formats"
	"mediaconvert/identity"
	"mediaconvert/logger"
	"mediaconvert/models"
	"mediaconvert/quota"
	"mediaconvert/store"
)

// HistoryPerKind is how many jobs of each media kind History returns.
const HistoryPerKind = 5

// Starter is the engine entry point.
type Starter interface {
	StartConversion(ctx context.Context, sub engine.Submission) (*models.ConversionJob, error)
}

// Service implements the conversion operations exposed over HTTP.
type Service struct {
	jobs    store.JobStore
	blobs   artifacts.Store
	engine  Starter
	quota   *quota.Guard
	access  *access.Guard
	maxSize int64
	newKey  func() string
}

func NewService(jobs store.JobStore, blobs artifacts.Store, starter Starter, guard *quota.Guard, maxUploadBytes int64) *Service {
	return &Service{
		jobs:    jobs,
		blobs:   blobs,
		engine:  starter,
		quota:   guard,
		access:  access.NewGuard(jobs),
		maxSize: maxUploadBytes,
		newKey:  uuid.NewString,
	}
}

// Upload is one submitted file.
type Upload struct {
	FileName     string
	MimeType     string
	TargetFormat string
	Size         int64 // as declared by the client, 0 when unknown
	Body         io.Reader
}

// countingReader counts bytes and stops with an error past limit.
type countingReader struct {
	r     io.Reader
	n     int64
	limit int64
}

var errTooLarge = errors.New("upload too large")

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	if c.limit > 0 && c.n > c.limit {
		return n, errTooLarge
	}
	return n, err
}

// Upload gates the request on quota and format, stores the original and
// hands it to the engine. Rejections happen before anything is stored.
func (s *Service) Upload(ctx context.Context, id identity.Identity, up Upload) (*UploadResult, error) {
	if up.Body == nil || up.FileName == "" {
		return nil, invalid("file is required")
	}
	if s.maxSize > 0 && up.Size > s.maxSize {
		return nil, invalid("file is too large (%d bytes, limit %d)", up.Size, s.maxSize)
	}
	if _, err := formats.ParseTarget(up.TargetFormat); err != nil {
		return nil, err
	}

	st, err := s.quota.Check(ctx, id)
	if err != nil {
		return nil, err
	}
	if !st.Allowed {
		logger.Infof("Upload from %s rejected: %d/%d conversions used", id, st.Used, st.Limit)
		return nil, &QuotaExceededError{Status: st}
	}

	c, err := formats.Classify(up.FileName, up.MimeType)
	if err != nil {
		return nil, err
	}
	if _, err := formats.Route(c, up.TargetFormat); err != nil {
		return nil, err
	}

	body := &countingReader{r: up.Body, limit: s.maxSize}
	key := fmt.Sprintf("originals/%s.%s", s.newKey(), c.Format)
	ref, err := s.blobs.Put(ctx, key, body, formats.MimeType(c.Format))
	if err != nil {
		if errors.Is(err, errTooLarge) {
			return nil, invalid("file is too large (limit %d bytes)", s.maxSize)
		}
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	job, err := s.engine.StartConversion(ctx, engine.Submission{
		OriginalArtifactRef: ref,
		OriginalFileName:    up.FileName,
		MimeType:            up.MimeType,
		TargetFormat:        up.TargetFormat,
		FileSizeBytes:       body.n,
		Owner:               id,
	})
	if err != nil {
		if delErr := s.blobs.Delete(context.WithoutCancel(ctx), ref); delErr != nil {
			logger.Warnf("Failed to remove upload %s after rejected conversion: %v", ref, delErr)
		}
		return nil, err
	}

	result := &UploadResult{JobID: job.ID, Status: job.Status}
	if url, err := s.blobs.URL(ctx, job.OriginalArtifactRef); err == nil {
		result.OriginalArtifactURL = url
	} else {
		logger.Warnf("Job %s: no URL for original artifact: %v", job.ID, err)
	}
	return result, nil
}

// Status returns the job when id owns it.
func (s *Service) Status(ctx context.Context, id identity.Identity, jobID string) (*StatusView, error) {
	job, err := s.access.Authorize(ctx, jobID, id)
	if err != nil {
		return nil, err
	}
	v := statusView(job)
	return &v, nil
}

// Download resolves the converted artifact URL and counts the download.
func (s *Service) Download(ctx context.Context, id identity.Identity, jobID string) (*DownloadResult, error) {
	job, err := s.access.AuthorizeDownload(ctx, jobID, id)
	if err != nil {
		return nil, err
	}

	url, err := s.blobs.URL(ctx, *job.ConvertedArtifactRef)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve download url: %w", err)
	}
	count, err := s.jobs.IncrementDownloads(ctx, job.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, access.ErrNotFound
		}
		return nil, fmt.Errorf("failed to count download: %w", err)
	}

	logger.Debugf("Job %s downloaded (%d total)", job.ID, count)
	return &DownloadResult{URL: url, FileName: downloadName(job), DownloadCount: count}, nil
}

// downloadName swaps the original extension for the target format.
func downloadName(job *models.ConversionJob) string {
	name := strings.TrimSuffix(job.OriginalFileName, filepath.Ext(job.OriginalFileName))
	return name + "." + job.TargetFormat
}

// Limits reports the caller's quota position.
func (s *Service) Limits(ctx context.Context, id identity.Identity) (*LimitsView, error) {
	st, err := s.quota.Check(ctx, id)
	if err != nil {
		return nil, err
	}
	if st.Unlimited {
		return &LimitsView{IsAuthenticated: true, Unlimited: true, CanUpload: true}, nil
	}

	v := &LimitsView{
		IsAuthenticated: id.IsAuthenticated(),
		Limit:           &st.Limit,
		Used:            &st.Used,
		Remaining:       &st.Remaining,
		CanUpload:       st.Allowed,
	}
	if !st.ResetAt.IsZero() {
		v.ResetTime = &st.ResetAt
	}
	return v, nil
}

func ownerFilter(id identity.Identity) store.Filter {
	if id.IsAuthenticated() {
		return store.Filter{UserID: id.UserID}
	}
	return store.Filter{IPAddress: id.IPAddress}
}

// History returns the most recent processing or completed jobs per media kind.
func (s *Service) History(ctx context.Context, id identity.Identity) (*History, error) {
	f := ownerFilter(id)
	f.Statuses = []models.JobStatus{models.StatusProcessing, models.StatusCompleted}
	jobs, err := s.jobs.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}

	h := &History{Images: []HistoryItem{}, Videos: []HistoryItem{}, Other: []HistoryItem{}}
	for _, job := range jobs {
		var bucket *[]HistoryItem
		switch formats.KindOf(job.OriginalFormat) {
		case models.KindImage:
			bucket = &h.Images
		case models.KindVideo:
			bucket = &h.Videos
		default:
			bucket = &h.Other
		}
		if len(*bucket) >= HistoryPerKind {
			continue
		}
		*bucket = append(*bucket, s.historyItem(ctx, job))
	}
	return h, nil
}

func (s *Service) historyItem(ctx context.Context, job *models.ConversionJob) HistoryItem {
	item := HistoryItem{
		JobID:            job.ID,
		OriginalFileName: job.OriginalFileName,
		OriginalFormat:   job.OriginalFormat,
		TargetFormat:     job.TargetFormat,
		Status:           job.Status,
		FileSizeBytes:    job.FileSizeBytes,
		CreatedAt:        job.CreatedAt,
	}
	if job.ThumbnailArtifactRef != nil && *job.ThumbnailArtifactRef != "" {
		if url, err := s.blobs.URL(ctx, *job.ThumbnailArtifactRef); err == nil {
			item.ThumbnailURL = url
		}
	}
	return item
}
