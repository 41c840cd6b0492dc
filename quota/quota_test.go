package quota

import (
	"context"
	"errors"
	"testing"
	"time"

	"mediaconvert/identity"
	"mediaconvert/models"
	"mediaconvert/store"
)

type fakeCounter struct {
	count int
	err   error
	since time.Time
	calls int
}

func (f *fakeCounter) CountAnonymousSince(_ context.Context, _ string, since time.Time) (int, error) {
	f.calls++
	f.since = since
	return f.count, f.err
}

func TestAuthenticatedIsUnlimited(t *testing.T) {
	c := &fakeCounter{count: 100}
	st, err := NewGuard(c, 3).Check(context.Background(), identity.User("u1"))
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !st.Allowed || !st.Unlimited {
		t.Errorf("expected unlimited, got %+v", st)
	}
	if c.calls != 0 {
		t.Error("store should not be queried for authenticated users")
	}
}

func TestAnonymousLimit(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		used      int
		allowed   bool
		remaining int
	}{
		{0, true, 3},
		{2, true, 1},
		{3, false, 0},
		{5, false, 0},
	}

	for _, tt := range tests {
		c := &fakeCounter{count: tt.used}
		g := NewGuard(c, 3)
		g.now = func() time.Time { return now }

		st, err := g.Check(context.Background(), identity.Anonymous("10.0.0.5"))
		if err != nil {
			t.Fatalf("Check failed: %v", err)
		}
		if st.Allowed != tt.allowed || st.Remaining != tt.remaining || st.Used != tt.used || st.Limit != 3 {
			t.Errorf("used=%d: got %+v", tt.used, st)
		}
		if !c.since.Equal(now.Add(-24 * time.Hour)) {
			t.Errorf("expected window start %s, got %s", now.Add(-24*time.Hour), c.since)
		}
		if !tt.allowed && !st.ResetAt.Equal(now.Add(24*time.Hour)) {
			t.Errorf("expected resetAt now+24h, got %s", st.ResetAt)
		}
	}
}

func TestCounterError(t *testing.T) {
	g := NewGuard(&fakeCounter{err: errors.New("db down")}, 3)
	if _, err := g.Check(context.Background(), identity.Anonymous("10.0.0.5")); err == nil {
		t.Error("expected error")
	}
}

func TestWindowAgainstStore(t *testing.T) {
	s, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory failed: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	now := time.Now()
	ages := []time.Duration{23 * time.Hour, 2 * time.Hour, time.Hour}
	for i, age := range ages {
		job := &models.ConversionJob{
			ID:             string(rune('a' + i)),
			OwnerIPAddress: "10.0.0.5",
			Status:         models.StatusCompleted,
			CreatedAt:      now.Add(-age),
		}
		if err := s.Create(ctx, job); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	g := NewGuard(s, 3)
	clock := now
	g.now = func() time.Time { return clock }

	st, _ := g.Check(ctx, identity.Anonymous("10.0.0.5"))
	if st.Allowed || st.Remaining != 0 || st.Used != 3 {
		t.Fatalf("4th upload should be rejected, got %+v", st)
	}

	// the oldest job leaves the window
	clock = now.Add(90 * time.Minute)
	st, _ = g.Check(ctx, identity.Anonymous("10.0.0.5"))
	if !st.Allowed || st.Used != 2 || st.Remaining != 1 {
		t.Errorf("expected used to drop to 2, got %+v", st)
	}

	st, _ = g.Check(ctx, identity.Anonymous("10.0.0.6"))
	if !st.Allowed || st.Used != 0 {
		t.Errorf("other addresses are counted separately, got %+v", st)
	}
}
