package upload

import (
	"fmt"
	"time"
)

// Progress is a caller-facing progress report.
type Progress struct {
	Percent     float64
	Transferred int64
	Total       int64
	// Speed is the average rate in bytes per second since the first
	// non-zero progress report.
	Speed float64
	// ETA is the remaining time at Speed. It is meaningful only when HasETA
	// is set, which requires a non-zero speed.
	ETA    time.Duration
	HasETA bool
}

// String renders the progress the way the CLI prints it.
func (p Progress) String() string {
	s := fmt.Sprintf("%.1f%%  %s / %s", p.Percent, FormatSize(p.Transferred), FormatSize(p.Total))
	if p.Speed > 0 {
		s += fmt.Sprintf("  %s/s", FormatSize(int64(p.Speed)))
	}
	if p.HasETA {
		s += "  ETA " + FormatDuration(p.ETA)
	}
	return s
}

// Listener receives upload events from Controller.Poll. Calls happen on the
// goroutine that polls.
type Listener interface {
	ProgressChanged(p Progress)
	Completed(videoURL, objectID string)
	Cancelled(note string)
	Failed(err error)
}

// NopListener ignores every event.
type NopListener struct{}

func (NopListener) ProgressChanged(Progress) {}
func (NopListener) Completed(string, string) {}
func (NopListener) Cancelled(string) {}
func (NopListener) Failed(error) {}

// speedTracker derives speed and ETA from successive progress observations.
type speedTracker struct {
	firstAt time.Time
}

func (t *speedTracker) observe(now time.Time, transferred, total int64, percent float64) Progress {
	p := Progress{Percent: percent, Transferred: transferred, Total: total}
	if transferred <= 0 {
		return p
	}
	if t.firstAt.IsZero() {
		t.firstAt = now
	}

	elapsed := now.Sub(t.firstAt).Seconds()
	if elapsed <= 0 {
		return p
	}
	p.Speed = float64(transferred) / elapsed
	if p.Speed > 0 && transferred < total {
		remaining := float64(total - transferred)
		p.ETA = time.Duration(remaining / p.Speed * float64(time.Second))
		p.HasETA = true
	}
	return p
}
