package access

import (
	"context"
	"errors"
	"testing"

	"mediaconvert/identity"
	"mediaconvert/models"
	"mediaconvert/store"
)

type fakeFinder map[string]*models.ConversionJob

func (f fakeFinder) Get(_ context.Context, id string) (*models.ConversionJob, error) {
	job, ok := f[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return job, nil
}

func strPtr(s string) *string { return &s }

func testJobs() fakeFinder {
	return fakeFinder{
		"anon": {
			ID: "anon", OwnerIPAddress: "10.0.0.5", Status: models.StatusCompleted,
			ConvertedArtifactRef: strPtr("converted/anon.webp"),
		},
		"user": {
			ID: "user", OwnerUserID: strPtr("alice"), OwnerIPAddress: "10.0.0.5", Status: models.StatusCompleted,
			ConvertedArtifactRef: strPtr("converted/user.webp"),
		},
		"pending": {
			ID: "pending", OwnerIPAddress: "10.0.0.5", Status: models.StatusProcessing, Progress: 40,
		},
		"bad-ip": {
			ID: "bad-ip", OwnerIPAddress: "unknown", Status: models.StatusCompleted,
			ConvertedArtifactRef: strPtr("converted/bad-ip.webp"),
		},
	}
}

func TestAuthorize(t *testing.T) {
	g := NewGuard(testJobs())
	ctx := context.Background()

	tests := []struct {
		name  string
		jobID string
		id    identity.Identity
		want  error
	}{
		{"anonymous owner", "anon", identity.Anonymous("10.0.0.5"), nil},
		{"other address", "anon", identity.Anonymous("10.0.0.6"), ErrAccessDenied},
		{"user cannot claim anonymous job", "anon", identity.User("alice"), ErrAccessDenied},
		{"malformed address", "anon", identity.Anonymous("10.0.0.5 OR 1=1"), ErrAccessDenied},
		{"user owner", "user", identity.User("alice"), nil},
		{"other user", "user", identity.User("bob"), ErrAccessDenied},
		{"same ip never matches user job", "user", identity.Anonymous("10.0.0.5"), ErrAccessDenied},
		{"stored address malformed", "bad-ip", identity.Anonymous("unknown"), ErrAccessDenied},
		{"processing may be polled", "pending", identity.Anonymous("10.0.0.5"), nil},
		{"missing", "nope", identity.Anonymous("10.0.0.5"), ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job, err := g.Authorize(ctx, tt.jobID, tt.id)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if tt.want == nil && (job == nil || job.ID != tt.jobID) {
				t.Errorf("expected job %s", tt.jobID)
			}
		})
	}
}

func TestAuthorizeDownload(t *testing.T) {
	g := NewGuard(testJobs())
	ctx := context.Background()

	if _, err := g.AuthorizeDownload(ctx, "anon", identity.Anonymous("10.0.0.5")); err != nil {
		t.Errorf("expected download to be allowed, got %v", err)
	}
	if _, err := g.AuthorizeDownload(ctx, "pending", identity.Anonymous("10.0.0.5")); !errors.Is(err, ErrNotReady) {
		t.Errorf("expected ErrNotReady, got %v", err)
	}
	if _, err := g.AuthorizeDownload(ctx, "pending", identity.Anonymous("10.0.0.9")); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("ownership is checked before readiness, got %v", err)
	}
}

func TestOwnsNormalizesAddresses(t *testing.T) {
	job := &models.ConversionJob{OwnerIPAddress: "10.0.0.5"}
	if !Owns(identity.Anonymous("::ffff:10.0.0.5"), job) {
		t.Error("IPv4-mapped address should match its IPv4 form")
	}
}
