package youtube

import (
	"sync"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"

	"ytupload/internal/metrics"
)

// DailyQuota is the default Data API quota of a project, in units.
const DailyQuota = 10000

// Quota cost of the calls the client makes.
const (
	costList   = 1
	costSearch = 100
	costDelete = 50
	costInsert = 1600
)

// quotaTracker estimates the remaining daily quota from the calls made by
// this process. The estimate resets a day after it started.
type quotaTracker struct {
	mu        sync.Mutex
	remaining int
	reserve   int
	resetAt   time.Time
	exhausted bool
	now       func() time.Time
	logger    log.Logger
}

func newQuotaTracker(reserve int, now func() time.Time, logger log.Logger) *quotaTracker {
	metrics.QuotaRemaining.Set(DailyQuota)
	return &quotaTracker{
		remaining: DailyQuota,
		reserve:   reserve,
		resetAt:   now(),
		now:       now,
		logger:    logger,
	}
}

// spend records units as used.
func (q *quotaTracker) spend(units int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.resetIfNewDay()
	q.remaining -= units
	metrics.QuotaRemaining.Set(float64(q.remaining))

	if q.remaining < q.reserve {
		if !q.exhausted {
			q.logger.Warnf("YouTube quota nearly exhausted (remaining: %d, reserve: %d)", q.remaining, q.reserve)
			q.exhausted = true
		}
		return
	}
	q.logger.Debugf("YouTube quota usage: %d units left", q.remaining)
}

// markExhausted records that the API refused a call for lack of quota.
func (q *quotaTracker) markExhausted() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.resetIfNewDay()
	if !q.exhausted {
		q.logger.Warnf("YouTube API reported the daily quota as exceeded")
	}
	q.exhausted = true
	q.remaining = 0
	metrics.QuotaRemaining.Set(0)
}

func (q *quotaTracker) resetIfNewDay() {
	if q.now().Sub(q.resetAt) <= 24*time.Hour {
		return
	}
	q.remaining = DailyQuota
	metrics.QuotaRemaining.Set(DailyQuota)
	q.resetAt = q.now()
	q.exhausted = false
	q.logger.Debugf("YouTube quota estimate reset (new day)")
}

// Remaining returns the estimated units left.
func (q *quotaTracker) Remaining() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.resetIfNewDay()
	return q.remaining
}

// Exhausted reports whether the estimate fell below the reserve.
func (q *quotaTracker) Exhausted() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.resetIfNewDay()
	return q.exhausted
}
