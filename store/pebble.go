package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	pebble "github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"mediaconvert/models"
)

const (
	jobKeyPrefix = "job/"
	// first key past the job/ range ('0' follows '/')
	jobKeyUpperBound = "job0"
)

// PebbleStore keeps jobs as JSON records keyed by id. Read-modify-write
// updates are serialized by mu so a progress write can never overwrite a
// concurrent terminal transition.
type PebbleStore struct {
	db  *pebble.DB
	mu  sync.Mutex
	now func() time.Time
}

// OpenPebble opens (or creates) the job database at path.
func OpenPebble(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open job store: %w", err)
	}
	return &PebbleStore{db: db, now: time.Now}, nil
}

// OpenInMemory opens a job store backed by an in-memory filesystem.
func OpenInMemory() (*PebbleStore, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory job store: %w", err)
	}
	return &PebbleStore{db: db, now: time.Now}, nil
}

func jobKey(id string) []byte {
	return []byte(jobKeyPrefix + id)
}

// Close closes the job store
func (s *PebbleStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *PebbleStore) Create(_ context.Context, job *models.ConversionJob) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.get(job.ID); err == nil {
		return fmt.Errorf("job %s already exists", job.ID)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.CreatedAt
	}
	return s.put(job)
}

func (s *PebbleStore) Get(_ context.Context, id string) (*models.ConversionJob, error) {
	return s.get(id)
}

func (s *PebbleStore) get(id string) (*models.ConversionJob, error) {
	data, closer, err := s.db.Get(jobKey(id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()

	var job models.ConversionJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job %s: %w", id, err)
	}
	return &job, nil
}

func (s *PebbleStore) put(job *models.ConversionJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job %s: %w", job.ID, err)
	}
	return s.db.Set(jobKey(job.ID), data, pebble.Sync)
}

// update runs fn on the current record under the store lock and writes the
// result back when fn reports a change.
func (s *PebbleStore) update(id string, fn func(*models.ConversionJob) bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.get(id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !fn(job) {
		return false, nil
	}
	job.UpdatedAt = s.now()
	if err := s.put(job); err != nil {
		return false, err
	}
	return true, nil
}

func (s *PebbleStore) UpdateProgress(_ context.Context, id string, progress int) (bool, error) {
	return s.update(id, func(j *models.ConversionJob) bool {
		if j.Status != models.StatusProcessing || progress <= j.Progress {
			return false
		}
		j.Progress = min(progress, 100)
		return true
	})
}

func (s *PebbleStore) Complete(_ context.Context, id string, c models.Completion) (bool, error) {
	if c.ConvertedArtifactRef == "" {
		return false, fmt.Errorf("completion of %s requires a converted artifact", id)
	}
	return s.update(id, func(j *models.ConversionJob) bool {
		if j.Status != models.StatusProcessing {
			return false
		}
		j.Status = models.StatusCompleted
		j.Progress = 100
		j.FailureReason = ""
		converted := c.ConvertedArtifactRef
		j.ConvertedArtifactRef = &converted
		j.ConvertedMimeType = c.ConvertedMimeType
		if c.ThumbnailArtifactRef != "" {
			thumb := c.ThumbnailArtifactRef
			j.ThumbnailArtifactRef = &thumb
		}
		return true
	})
}

func (s *PebbleStore) Fail(_ context.Context, id string, reason string) (bool, error) {
	return s.update(id, func(j *models.ConversionJob) bool {
		if j.Status != models.StatusProcessing {
			return false
		}
		j.Status = models.StatusFailed
		j.Progress = 0
		j.FailureReason = reason
		j.ConvertedArtifactRef = nil
		return true
	})
}

func (s *PebbleStore) IncrementDownloads(_ context.Context, id string) (int, error) {
	var count int
	applied, err := s.update(id, func(j *models.ConversionJob) bool {
		j.DownloadCount++
		count = j.DownloadCount
		return true
	})
	if err != nil {
		return 0, err
	}
	if !applied {
		return 0, ErrNotFound
	}
	return count, nil
}

func (s *PebbleStore) MarkCleanedUp(_ context.Context, id string) error {
	applied, err := s.update(id, func(j *models.ConversionJob) bool {
		j.RetentionCleanedUp = true
		return true
	})
	if err != nil {
		return err
	}
	if !applied {
		return ErrNotFound
	}
	return nil
}

// Delete removes a job record. Deleting a missing job is not an error.
func (s *PebbleStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Delete(jobKey(id), pebble.Sync)
}

func (s *PebbleStore) List(_ context.Context, f Filter) ([]*models.ConversionJob, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}

	var jobs []*models.ConversionJob
	err := s.scan(func(j *models.ConversionJob) {
		if f.Match(j) {
			jobs = append(jobs, j)
		}
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(jobs, func(a, b *models.ConversionJob) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if f.Limit > 0 && len(jobs) > f.Limit {
		jobs = jobs[:f.Limit]
	}
	return jobs, nil
}

func (s *PebbleStore) CountAnonymousSince(_ context.Context, ip string, since time.Time) (int, error) {
	f := Filter{IPAddress: ip, CreatedSince: since}
	count := 0
	err := s.scan(func(j *models.ConversionJob) {
		if f.Match(j) {
			count++
		}
	})
	return count, err
}

// scan visits every job record. Undecodable records are skipped.
func (s *PebbleStore) scan(visit func(*models.ConversionJob)) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(jobKeyPrefix),
		UpperBound: []byte(jobKeyUpperBound),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var job models.ConversionJob
		if err := json.Unmarshal(iter.Value(), &job); err != nil {
			continue
		}
		visit(&job)
	}
	return iter.Error()
}

// Ping performs a basic health check on the job database.
func (s *PebbleStore) Ping(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("job database not initialized")
	}
	_, closer, err := s.db.Get([]byte("__health_check__"))
	if err != nil && !errors.Is(err, pebble.ErrNotFound) {
		return fmt.Errorf("database health check failed: %w", err)
	}
	if closer != nil {
		closer.Close()
	}
	return nil
}
