// Package schedule picks the next publishing slot for a scheduled upload
// from the videos already queued on the channel.
package schedule

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"

	"ytupload/upload"
)

// DefaultScanCount is how many recent uploads are inspected for publish times.
const DefaultScanCount = 50

// Slot is the outcome of a slot computation.
type Slot struct {
	// Items are the scheduled videos, oldest publish time first.
	Items []upload.ScheduledItem
	// Latest is the video with the furthest publish time. Nil on fallback.
	Latest *upload.ScheduledItem
	// Next is one calendar day after Latest in local time, or after the
	// fallback when nothing is scheduled.
	Next     time.Time
	Fallback bool
}

// ComputeNextSlot returns the slot one day after the latest scheduled item.
// Items with equal publish times keep their input order. The day is added
// on the local wall clock, so 12:00 stays 12:00 across a DST change.
func ComputeNextSlot(items []upload.ScheduledItem, fallback time.Time) Slot {
	if len(items) == 0 {
		return Slot{Next: fallback.AddDate(0, 0, 1), Fallback: true}
	}

	sorted := slices.Clone(items)
	slices.SortStableFunc(sorted, func(a, b upload.ScheduledItem) int {
		return a.PublishAt.UTC().Compare(b.PublishAt.UTC())
	})

	latest := sorted[len(sorted)-1]
	local := latest.PublishAtLocal
	if local.IsZero() {
		local = latest.PublishAt.In(time.Local)
	}
	return Slot{
		Items:  sorted,
		Latest: &latest,
		Next:   local.AddDate(0, 0, 1),
	}
}

// Lister lists the channel's recent uploads that carry a publish time.
type Lister interface {
	ListRecentScheduledItems(ctx context.Context, maxCount int) ([]upload.ScheduledItem, error)
}

// Planner fetches the channel schedule once and reuses it until Invalidate
// is called, typically after a new scheduled upload completes.
type Planner struct {
	lister    Lister
	scanCount int
	logger    log.Logger

	mu     sync.Mutex
	items  []upload.ScheduledItem
	loaded bool
	last   Slot
}

// NewPlanner creates a planner scanning up to scanCount recent uploads.
func NewPlanner(lister Lister, scanCount int, logger log.Logger) *Planner {
	if scanCount <= 0 {
		scanCount = DefaultScanCount
	}
	if logger == nil {
		logger = log.NewLogger()
	}
	return &Planner{lister: lister, scanCount: scanCount, logger: logger}
}

// NextSlot returns the next free slot. The schedule is fetched on the first
// call after construction or Invalidate.
func (p *Planner) NextSlot(ctx context.Context, fallback time.Time) (Slot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.loaded {
		items, err := p.lister.ListRecentScheduledItems(ctx, p.scanCount)
		if err != nil {
			return Slot{}, fmt.Errorf("list scheduled videos: %w", err)
		}
		p.items = items
		p.loaded = true
		p.logger.Debugf("Found %d scheduled videos in the last %d uploads", len(items), p.scanCount)
	}

	p.last = ComputeNextSlot(p.items, fallback)
	return p.last, nil
}

// Schedule returns the slot from the last NextSlot call, and false when
// nothing has been computed since the last Invalidate.
func (p *Planner) Schedule() (Slot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last, p.loaded
}

// Invalidate drops the cached schedule.
func (p *Planner) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items = nil
	p.loaded = false
	p.last = Slot{}
}

// Describe renders a slot as the lines shown by the "schedule" command.
func Describe(s Slot) []string {
	if s.Fallback {
		return []string{
			"No scheduled videos found.",
			"Suggested slot: " + upload.FormatScheduleTime(s.Next),
		}
	}
	lines := make([]string, 0, len(s.Items)+2)
	for i := len(s.Items) - 1; i >= 0; i-- {
		item := s.Items[i]
		lines = append(lines, fmt.Sprintf("%s  %s (%s)", upload.FormatScheduleTime(item.PublishAtLocal), item.Title, item.VideoID))
	}
	lines = append(lines, "", "Next slot: "+upload.FormatScheduleTime(s.Next))
	return lines
}
