package storage

import "time"

// HistoryKey identifies a history entry. It is the entry's creation time in
// RFC 3339 form with nanoseconds and is never reused for display.
type HistoryKey string

// NewHistoryKey builds the key for an entry created at t.
func NewHistoryKey(t time.Time) HistoryKey {
	return HistoryKey(t.Format(time.RFC3339Nano))
}

// Time parses the creation time encoded in the key.
func (k HistoryKey) Time() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, string(k))
}

// String returns the raw key.
func (k HistoryKey) String() string { return string(k) }

// HistoryStatus is the lifecycle status of an upload attempt.
type HistoryStatus string

// HistoryStatus values.
const (
	StatusUploading HistoryStatus = "uploading"
	StatusCompleted HistoryStatus = "completed"
	StatusCancelled HistoryStatus = "cancelled"
	StatusFailed    HistoryStatus = "failed"
)

// Terminal reports whether no further status change is expected.
func (s HistoryStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}

// HistoryEntry records one upload attempt.
type HistoryEntry struct {
	Key         HistoryKey    `json:"uploaded_at"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Tags        []string      `json:"tags"`
	Category    string        `json:"category"` // Category label as shown to the user
	Privacy     string        `json:"privacy"`  // Privacy mode as requested, including "scheduled"
	Filename    string        `json:"filename"` // Source file path
	PublishAt   string        `json:"publish_at,omitempty"`
	Status      HistoryStatus `json:"status"`
	Progress    float64       `json:"progress"`
	VideoURL    string        `json:"video_url,omitempty"`
	VideoID     string        `json:"video_id,omitempty"`
	Note        string        `json:"note,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// HistoryPatch holds the fields to merge into an existing entry. Nil fields
// are left unchanged.
type HistoryPatch struct {
	Status   *HistoryStatus
	Progress *float64
	VideoURL *string
	VideoID  *string
	Note     *string
	Error    *string
}

// Apply merges the patch into e.
func (p HistoryPatch) Apply(e *HistoryEntry) {
	if p.Status != nil {
		e.Status = *p.Status
	}
	if p.Progress != nil {
		e.Progress = *p.Progress
	}
	if p.VideoURL != nil {
		e.VideoURL = *p.VideoURL
	}
	if p.VideoID != nil {
		e.VideoID = *p.VideoID
	}
	if p.Note != nil {
		e.Note = *p.Note
	}
	if p.Error != nil {
		e.Error = *p.Error
	}
}

// Empty reports whether the patch changes nothing.
func (p HistoryPatch) Empty() bool {
	return p.Status == nil && p.Progress == nil && p.VideoURL == nil &&
		p.VideoID == nil && p.Note == nil && p.Error == nil
}

// Patch helpers keep call sites short.

// WithStatus sets the status field.
func (p HistoryPatch) WithStatus(s HistoryStatus) HistoryPatch {
	p.Status = &s
	return p
}

// WithProgress sets the progress field.
func (p HistoryPatch) WithProgress(v float64) HistoryPatch {
	p.Progress = &v
	return p
}

// WithVideo sets the video URL and id.
func (p HistoryPatch) WithVideo(url, id string) HistoryPatch {
	p.VideoURL = &url
	p.VideoID = &id
	return p
}

// WithVideoID sets only the video id.
func (p HistoryPatch) WithVideoID(id string) HistoryPatch {
	p.VideoID = &id
	return p
}

// WithNote sets the note field.
func (p HistoryPatch) WithNote(note string) HistoryPatch {
	p.Note = &note
	return p
}

// WithError sets the error field.
func (p HistoryPatch) WithError(msg string) HistoryPatch {
	p.Error = &msg
	return p
}

// prependAndTrim places entry at the head of entries and drops the oldest
// entries beyond limit.
func prependAndTrim(entries []HistoryEntry, entry HistoryEntry, limit int) []HistoryEntry {
	out := make([]HistoryEntry, 0, len(entries)+1)
	out = append(out, entry)
	out = append(out, entries...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// uniqueKey returns a key for t that is not already used in entries.
func uniqueKey(entries []HistoryEntry, t time.Time) HistoryKey {
	used := make(map[HistoryKey]struct{}, len(entries))
	for _, e := range entries {
		used[e.Key] = struct{}{}
	}
	key := NewHistoryKey(t)
	for {
		if _, exists := used[key]; !exists {
			return key
		}
		t = t.Add(time.Nanosecond)
		key = NewHistoryKey(t)
	}
}
