package youtube

import (
	"testing"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"ytupload/internal/metrics"
)

func TestQuotaTracker(t *testing.T) {
	now := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	q := newQuotaTracker(1000, func() time.Time { return now }, log.NewLogger())

	if got := q.Remaining(); got != DailyQuota {
		t.Fatalf("initial quota = %d, want %d", got, DailyQuota)
	}

	q.spend(costInsert)
	q.spend(costSearch)
	if got, want := q.Remaining(), DailyQuota-costInsert-costSearch; got != want {
		t.Errorf("remaining = %d, want %d", got, want)
	}
	if q.Exhausted() {
		t.Error("quota should not be exhausted yet")
	}

	for i := 0; i < 5; i++ {
		q.spend(costInsert)
	}
	if !q.Exhausted() {
		t.Errorf("quota should be exhausted below the reserve (remaining %d)", q.Remaining())
	}

	now = now.Add(25 * time.Hour)
	if q.Exhausted() {
		t.Error("quota should reset after a day")
	}
	if got := q.Remaining(); got != DailyQuota {
		t.Errorf("remaining after reset = %d, want %d", got, DailyQuota)
	}
}

func TestQuotaTrackerMarkExhausted(t *testing.T) {
	now := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	q := newQuotaTracker(0, func() time.Time { return now }, log.NewLogger())

	q.markExhausted()
	if !q.Exhausted() || q.Remaining() != 0 {
		t.Errorf("after markExhausted: exhausted=%v remaining=%d", q.Exhausted(), q.Remaining())
	}
	if got := testutil.ToFloat64(metrics.QuotaRemaining); got != 0 {
		t.Errorf("quota gauge = %v, want 0", got)
	}
}
