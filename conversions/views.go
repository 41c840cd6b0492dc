package conversions

import (
	"time"

	"mediaconvert/models"
)

// UploadResult is returned once the job record exists.
type UploadResult struct {
	JobID               string           `json:"jobId"`
	Status              models.JobStatus `json:"status"`
	OriginalArtifactURL string           `json:"originalArtifactUrl,omitempty"`
}

// StatusView is the pollable state of one job.
type StatusView struct {
	JobID            string           `json:"jobId"`
	Status           models.JobStatus `json:"status"`
	OriginalFileName string           `json:"originalFileName"`
	OriginalFormat   string           `json:"originalFormat"`
	TargetFormat     string           `json:"targetFormat"`
	Progress         int              `json:"progress"`
	CreatedAt        time.Time        `json:"createdAt"`
	Error            string           `json:"error,omitempty"`
}

func statusView(job *models.ConversionJob) StatusView {
	return StatusView{
		JobID:            job.ID,
		Status:           job.Status,
		OriginalFileName: job.OriginalFileName,
		OriginalFormat:   job.OriginalFormat,
		TargetFormat:     job.TargetFormat,
		Progress:         job.Progress,
		CreatedAt:        job.CreatedAt,
		Error:            job.FailureReason,
	}
}

// DownloadResult carries where the converted artifact can be fetched.
type DownloadResult struct {
	URL           string
	FileName      string
	DownloadCount int
}

// LimitsView describes the caller's upload allowance. Anonymous-only fields
// are omitted for authenticated users.
type LimitsView struct {
	IsAuthenticated bool       `json:"isAuthenticated"`
	Unlimited       bool       `json:"unlimited,omitempty"`
	Limit           *int       `json:"limit,omitempty"`
	Used            *int       `json:"used,omitempty"`
	Remaining       *int       `json:"remaining,omitempty"`
	ResetTime       *time.Time `json:"resetTime,omitempty"`
	CanUpload       bool       `json:"canUpload"`
}

// HistoryItem summarizes one job in the history listing.
type HistoryItem struct {
	JobID            string           `json:"jobId"`
	OriginalFileName string           `json:"originalFileName"`
	OriginalFormat   string           `json:"originalFormat"`
	TargetFormat     string           `json:"targetFormat"`
	Status           models.JobStatus `json:"status"`
	FileSizeBytes    int64            `json:"fileSizeBytes"`
	CreatedAt        time.Time        `json:"createdAt"`
	ThumbnailURL     string           `json:"thumbnailUrl,omitempty"`
}

// History groups recent jobs by media kind.
type History struct {
	Images []HistoryItem `json:"images"`
	Videos []HistoryItem `json:"videos"`
	Other  []HistoryItem `json:"other"`
}
