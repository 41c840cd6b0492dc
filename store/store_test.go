package store

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"mediaconvert/models"
)

func newTestStore(t *testing.T) *PebbleStore {
	t.Helper()
	s, err := OpenInMemory()
	if err != nil {
		t.Fatalf("Failed to open in-memory store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func strPtr(s string) *string { return &s }

func newJob(id string, created time.Time) *models.ConversionJob {
	return &models.ConversionJob{
		ID:                  id,
		OriginalFileName:    id + ".png",
		OriginalFormat:      "png",
		TargetFormat:        "webp",
		FileSizeBytes:       1024,
		OwnerIPAddress:      "10.0.0.5",
		Status:              models.StatusProcessing,
		CreatedAt:           created,
		ExpiresAt:           created.Add(24 * time.Hour),
		OriginalArtifactRef: "originals/" + id + ".png",
	}
}

func TestPebbleStore(t *testing.T) {
	runStoreContract(t, newTestStore(t))
}

// TestPostgresStore runs against a real database when MEDIACONVERT_TEST_DATABASE_URL is set.
func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("MEDIACONVERT_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("MEDIACONVERT_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := OpenPostgres(ctx, dsn)
	if err != nil {
		t.Fatalf("Failed to open postgres store: %v", err)
	}
	defer s.Close()
	if _, err := s.pool.Exec(ctx, `TRUNCATE conversion_jobs;`); err != nil {
		t.Fatalf("Failed to truncate: %v", err)
	}
	runStoreContract(t, s)
}

func runStoreContract(t *testing.T, s JobStore) {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	t.Run("create and get", func(t *testing.T) {
		job := newJob("create-get", base)
		if err := s.Create(ctx, job); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		got, err := s.Get(ctx, "create-get")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.OriginalFileName != job.OriginalFileName || got.Status != models.StatusProcessing {
			t.Errorf("unexpected job: %+v", got)
		}
		if got.OwnerUserID != nil {
			t.Errorf("expected anonymous job, got owner %q", *got.OwnerUserID)
		}
		if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("progress is monotonic", func(t *testing.T) {
		if err := s.Create(ctx, newJob("progress", base)); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		for _, p := range []int{10, 40, 30, 40, 75} {
			if _, err := s.UpdateProgress(ctx, "progress", p); err != nil {
				t.Fatalf("UpdateProgress(%d) failed: %v", p, err)
			}
		}
		got, _ := s.Get(ctx, "progress")
		if got.Progress != 75 {
			t.Errorf("expected progress 75, got %d", got.Progress)
		}
		applied, _ := s.UpdateProgress(ctx, "progress", 50)
		if applied {
			t.Error("lower progress should not apply")
		}
	})

	t.Run("complete is terminal", func(t *testing.T) {
		if err := s.Create(ctx, newJob("complete", base)); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		applied, err := s.Complete(ctx, "complete", models.Completion{
			ConvertedArtifactRef: "converted/complete.webp",
			ConvertedMimeType:    "image/webp",
			ThumbnailArtifactRef: "thumbnails/complete.webp",
		})
		if err != nil || !applied {
			t.Fatalf("Complete failed: applied=%v err=%v", applied, err)
		}

		// Late signals must not move a terminal job.
		if applied, _ := s.Fail(ctx, "complete", "engine_timeout"); applied {
			t.Error("Fail applied to a completed job")
		}
		if applied, _ := s.UpdateProgress(ctx, "complete", 100); applied {
			t.Error("UpdateProgress applied to a completed job")
		}

		got, _ := s.Get(ctx, "complete")
		if got.Status != models.StatusCompleted || got.Progress != 100 {
			t.Errorf("expected completed/100, got %s/%d", got.Status, got.Progress)
		}
		if got.ConvertedArtifactRef == nil || *got.ConvertedArtifactRef != "converted/complete.webp" {
			t.Errorf("unexpected converted ref: %v", got.ConvertedArtifactRef)
		}
		if got.ThumbnailArtifactRef == nil {
			t.Error("expected thumbnail ref")
		}
	})

	t.Run("fail is terminal", func(t *testing.T) {
		if err := s.Create(ctx, newJob("fail", base)); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		s.UpdateProgress(ctx, "fail", 60)
		if applied, err := s.Fail(ctx, "fail", "engine_failure: boom"); err != nil || !applied {
			t.Fatalf("Fail failed: applied=%v err=%v", applied, err)
		}
		if applied, _ := s.Fail(ctx, "fail", "again"); applied {
			t.Error("second Fail should be a no-op")
		}
		if applied, _ := s.Complete(ctx, "fail", models.Completion{ConvertedArtifactRef: "x"}); applied {
			t.Error("Complete applied to a failed job")
		}

		got, _ := s.Get(ctx, "fail")
		if got.Status != models.StatusFailed || got.Progress != 0 || got.ConvertedArtifactRef != nil {
			t.Errorf("unexpected failed job state: %+v", got)
		}
		if got.FailureReason != "engine_failure: boom" {
			t.Errorf("unexpected failure reason %q", got.FailureReason)
		}
	})

	t.Run("conditional update on missing job", func(t *testing.T) {
		applied, err := s.Fail(ctx, "nope", "x")
		if err != nil || applied {
			t.Errorf("expected (false, nil), got (%v, %v)", applied, err)
		}
	})

	t.Run("downloads and cleanup flag", func(t *testing.T) {
		if err := s.Create(ctx, newJob("downloads", base)); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		for want := 1; want <= 2; want++ {
			n, err := s.IncrementDownloads(ctx, "downloads")
			if err != nil || n != want {
				t.Fatalf("IncrementDownloads = (%d, %v), want %d", n, err, want)
			}
		}
		if _, err := s.IncrementDownloads(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if err := s.MarkCleanedUp(ctx, "downloads"); err != nil {
			t.Fatalf("MarkCleanedUp failed: %v", err)
		}
		got, _ := s.Get(ctx, "downloads")
		if !got.RetentionCleanedUp {
			t.Error("expected retentionCleanedUp")
		}
		if err := s.Delete(ctx, "downloads"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if err := s.Delete(ctx, "downloads"); err != nil {
			t.Errorf("second Delete should be a no-op, got %v", err)
		}
		if _, err := s.Get(ctx, "downloads"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
	})

	t.Run("list and count", func(t *testing.T) {
		owner := "10.9.9.9"
		for i, age := range []time.Duration{30 * time.Hour, 3 * time.Hour, time.Hour} {
			job := newJob("list-anon-"+string(rune('a'+i)), base.Add(-age))
			job.OwnerIPAddress = owner
			if err := s.Create(ctx, job); err != nil {
				t.Fatalf("Create failed: %v", err)
			}
		}
		userJob := newJob("list-user", base)
		userJob.OwnerIPAddress = owner
		userJob.OwnerUserID = strPtr("user-7")
		if err := s.Create(ctx, userJob); err != nil {
			t.Fatalf("Create failed: %v", err)
		}

		count, err := s.CountAnonymousSince(ctx, owner, base.Add(-24*time.Hour))
		if err != nil {
			t.Fatalf("CountAnonymousSince failed: %v", err)
		}
		if count != 2 {
			t.Errorf("expected 2 anonymous jobs in window, got %d", count)
		}

		byIP, err := s.List(ctx, Filter{IPAddress: owner})
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(byIP) != 3 {
			t.Fatalf("expected 3 anonymous jobs for ip, got %d", len(byIP))
		}
		if byIP[0].ID != "list-anon-c" || byIP[2].ID != "list-anon-a" {
			t.Errorf("expected newest first, got %s ... %s", byIP[0].ID, byIP[2].ID)
		}

		byUser, _ := s.List(ctx, Filter{UserID: "user-7"})
		if len(byUser) != 1 || byUser[0].ID != "list-user" {
			t.Errorf("unexpected user listing: %d jobs", len(byUser))
		}

		expired, _ := s.List(ctx, Filter{IPAddress: owner, ExpiredBy: base})
		if len(expired) != 1 || expired[0].ID != "list-anon-a" {
			t.Errorf("expected only list-anon-a to be expired, got %d jobs", len(expired))
		}

		limited, _ := s.List(ctx, Filter{IPAddress: owner, Limit: 1})
		if len(limited) != 1 {
			t.Errorf("expected limit 1, got %d", len(limited))
		}

		if _, err := s.List(ctx, Filter{UserID: "u", IPAddress: owner}); err == nil {
			t.Error("expected error when both selectors are set")
		}
	})
}

func TestPebbleConcurrentTerminalWrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.Create(ctx, newJob("race", time.Now())); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var ok bool
			if i%2 == 0 {
				ok, _ = s.Fail(ctx, "race", "engine_timeout")
			} else {
				ok, _ = s.Complete(ctx, "race", models.Completion{ConvertedArtifactRef: "converted/race.webp"})
			}
			if ok {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if applied != 1 {
		t.Errorf("expected exactly one terminal write to apply, got %d", applied)
	}
}

func TestPebbleStoreOnDisk(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenPebble(dir + "/jobs.db")
	if err != nil {
		t.Fatalf("OpenPebble failed: %v", err)
	}
	ctx := context.Background()
	if err := s.Create(ctx, newJob("persisted", time.Now())); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	s.Close()

	s, err = OpenPebble(dir + "/jobs.db")
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()
	if _, err := s.Get(ctx, "persisted"); err != nil {
		t.Errorf("expected job to survive reopen: %v", err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), "mongo", "", ""); err == nil {
		t.Error("expected error for unknown driver")
	}
	if _, err := Open(context.Background(), "postgres", "", ""); err == nil {
		t.Error("expected error for postgres without DATABASE_URL")
	}
}
