package quota

import (
	"context"
	"fmt"
	"time"

	"mediaconvert/identity"
	"mediaconvert/store"
)

const (
	DefaultAnonymousLimit = 3
	Window                = 24 * time.Hour
)

// Counter is the slice of the job store the guard needs.
type Counter interface {
	CountAnonymousSince(ctx context.Context, ip string, since time.Time) (int, error)
}

// Status is the quota position of one identity at a single instant.
type Status struct {
	Allowed   bool
	Unlimited bool
	Used      int
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Guard limits anonymous uploads to Limit per trailing Window. Authenticated
// users are never limited. The count and the later job insert are not atomic,
// so concurrent uploads from one address can slightly exceed the limit.
type Guard struct {
	counter Counter
	limit   int
	now     func() time.Time
}

func NewGuard(counter Counter, limit int) *Guard {
	if limit <= 0 {
		limit = DefaultAnonymousLimit
	}
	return &Guard{counter: counter, limit: limit, now: time.Now}
}

var _ Counter = (store.JobStore)(nil)

// Check reports whether id may start another conversion.
func (g *Guard) Check(ctx context.Context, id identity.Identity) (Status, error) {
	if id.IsAuthenticated() {
		return Status{Allowed: true, Unlimited: true}, nil
	}

	now := g.now()
	used, err := g.counter.CountAnonymousSince(ctx, id.IPAddress, now.Add(-Window))
	if err != nil {
		return Status{}, fmt.Errorf("failed to count uploads for %s: %w", id.IPAddress, err)
	}

	st := Status{
		Allowed:   used < g.limit,
		Used:      used,
		Limit:     g.limit,
		Remaining: max(g.limit-used, 0),
	}
	if !st.Allowed {
		st.ResetAt = now.Add(Window)
	}
	return st, nil
}
