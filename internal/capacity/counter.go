// Package capacity tracks rolling assignment counts and manual availability
// per agent. The eligibility filter reads it; applied proposals write it.
package capacity

import (
	"context"
	"fmt"
	"time"

	"github.com/MikeSquared-Agency/LeadRouter/internal/store"
)

// Period is a rolling counter window.
type Period string

const (
	Day   Period = "d"
	Week  Period = "w"
	Month Period = "m"
)

var periods = []Period{Day, Week, Month}

// CounterStore persists counters and availability flags. Increment must be
// atomic per (tenant, agent, bucket).
type CounterStore interface {
	Increment(ctx context.Context, tenant, agentID string, now time.Time) (store.AssignmentCounts, error)
	Counts(ctx context.Context, tenant string, agentIDs []string, now time.Time) (map[string]store.AssignmentCounts, error)
	Reset(ctx context.Context, tenant, agentID string, now time.Time) error

	SetAvailability(ctx context.Context, tenant, agentID string, available bool) error
	// Unavailable returns the agents manually marked unavailable.
	Unavailable(ctx context.Context, tenant string) (map[string]bool, error)
}

// Bucket names the counter bucket containing t, in UTC.
func Bucket(p Period, t time.Time) string {
	t = t.UTC()
	switch p {
	case Day:
		return "d:" + t.Format("2006-01-02")
	case Week:
		year, week := t.ISOWeek()
		return fmt.Sprintf("w:%04d-W%02d", year, week)
	default:
		return "m:" + t.Format("2006-01")
	}
}

// ttl keeps a bucket a little past its window.
func ttl(p Period) time.Duration {
	switch p {
	case Day:
		return 48 * time.Hour
	case Week:
		return 8 * 24 * time.Hour
	default:
		return 32 * 24 * time.Hour
	}
}

func setCount(c *store.AssignmentCounts, p Period, n int) {
	switch p {
	case Day:
		c.Daily = n
	case Week:
		c.Weekly = n
	case Month:
		c.Monthly = n
	}
}
