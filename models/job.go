package models

import "time"

// MediaKind is the broad family a file belongs to.
type MediaKind string

const (
	KindImage MediaKind = "image"
	KindVideo MediaKind = "video"
	KindOther MediaKind = "other"
)

// JobStatus is the lifecycle state of a conversion.
type JobStatus string

const (
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transitions are allowed.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ConversionJob is the persisted record of one conversion request.
//
// Ownership is exclusive: when OwnerUserID is set the job belongs to that user
// and OwnerIPAddress is informational only.
type ConversionJob struct {
	ID               string `json:"id"`
	OriginalFileName string `json:"originalFileName"`
	OriginalFormat   string `json:"originalFormat"`
	TargetFormat     string `json:"targetFormat"`
	FileSizeBytes    int64  `json:"fileSizeBytes"`

	OwnerUserID    *string `json:"ownerUserId,omitempty"`
	OwnerIPAddress string  `json:"ownerIpAddress"`

	Status        JobStatus `json:"status"`
	Progress      int       `json:"progress"`
	FailureReason string    `json:"failureReason,omitempty"`
	DownloadCount int       `json:"downloadCount"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	ExpiresAt time.Time `json:"expiresAt"`

	OriginalArtifactRef  string  `json:"originalArtifactRef"`
	ConvertedArtifactRef *string `json:"convertedArtifactRef,omitempty"`
	ConvertedMimeType    string  `json:"convertedMimeType,omitempty"`
	ThumbnailArtifactRef *string `json:"thumbnailArtifactRef,omitempty"`

	RetentionCleanedUp bool `json:"retentionCleanedUp"`
}

// IsAnonymous reports whether the job is owned by an IP address rather than a user.
func (j *ConversionJob) IsAnonymous() bool {
	return j.OwnerUserID == nil || *j.OwnerUserID == ""
}

// ArtifactRefs returns every distinct artifact locator held by the job.
func (j *ConversionJob) ArtifactRefs() []string {
	seen := make(map[string]bool, 3)
	var refs []string
	add := func(ref string) {
		if ref == "" || seen[ref] {
			return
		}
		seen[ref] = true
		refs = append(refs, ref)
	}

	add(j.OriginalArtifactRef)
	if j.ConvertedArtifactRef != nil {
		add(*j.ConvertedArtifactRef)
	}
	if j.ThumbnailArtifactRef != nil {
		add(*j.ThumbnailArtifactRef)
	}
	return refs
}

// Completion carries the fields written when a job reaches completed.
type Completion struct {
	ConvertedArtifactRef string
	ConvertedMimeType    string
	ThumbnailArtifactRef string // empty when no preview could be produced
}
