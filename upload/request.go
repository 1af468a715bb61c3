// Package upload drives resumable video uploads: request validation, the
// per-upload Session state machine, and the Controller that bridges a
// background Session with a polling caller and the history store.
package upload

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
)

// MaxTitleLength is the longest title YouTube accepts, in characters.
const MaxTitleLength = 100

// DefaultChunkSize is the resumable upload chunk size (4 MiB).
const DefaultChunkSize int64 = 4 * 1024 * 1024

// PublishAtLayout is the wire layout of scheduled publish times.
const PublishAtLayout = "2006-01-02T15:04:05.000Z"

// Privacy modes.
const (
	PrivacyPrivate   = "private"
	PrivacyUnlisted  = "unlisted"
	PrivacyPublic    = "public"
	PrivacyScheduled = "scheduled"
)

// VideoExtensions lists the file extensions treated as videos.
var VideoExtensions = map[string]bool{
	".mp4": true, ".avi": true, ".mov": true, ".mkv": true, ".wmv": true, ".flv": true,
	".webm": true, ".m4v": true, ".mpeg": true, ".mpg": true, ".3gp": true,
}

// Request describes one upload. It is not modified once Start accepts it.
type Request struct {
	FilePath      string
	Size          int64 // filled from the file when zero
	Title         string
	Description   string
	Tags          []string
	CategoryID    string
	CategoryLabel string
	Privacy       string
	MadeForKids   bool
	// PublishAt is required iff Privacy is PrivacyScheduled.
	PublishAt *time.Time
}

// ParseTags splits a comma separated tag list, dropping blanks.
func ParseTags(s string) []string {
	var tags []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return normalizeTags(tags)
}

// normalizeTags trims tags, drops empty ones and removes duplicates while
// keeping first-seen order.
func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// Prepare normalizes r, fills Size from the file and validates it against
// now. The returned request is what the upload uses.
func (r Request) Prepare(now time.Time) (Request, error) {
	r.FilePath = strings.TrimSpace(r.FilePath)
	r.Title = strings.TrimSpace(r.Title)
	r.Description = strings.TrimSpace(r.Description)
	r.Tags = normalizeTags(r.Tags)
	if r.Privacy == "" {
		r.Privacy = PrivacyPrivate
	}
	if r.PublishAt != nil {
		t := *r.PublishAt
		r.PublishAt = &t
	}

	if r.FilePath == "" {
		return r, &ValidationError{Field: "file", Reason: "no video file selected"}
	}
	info, err := os.Stat(r.FilePath)
	if err != nil {
		return r, &ValidationError{Field: "file", Reason: "video file does not exist"}
	}
	if !info.Mode().IsRegular() {
		return r, &ValidationError{Field: "file", Reason: "not a regular file"}
	}
	if r.Size == 0 {
		r.Size = info.Size()
	}
	if r.Size <= 0 {
		return r, &ValidationError{Field: "file", Reason: "video file is empty"}
	}

	if r.Title == "" {
		return r, &ValidationError{Field: "title", Reason: "a title is required"}
	}
	if n := utf8.RuneCountInString(r.Title); n > MaxTitleLength {
		return r, &ValidationError{Field: "title", Reason: fmt.Sprintf("must be %d characters or less, got %d", MaxTitleLength, n)}
	}

	switch r.Privacy {
	case PrivacyPrivate, PrivacyUnlisted, PrivacyPublic:
		if r.PublishAt != nil {
			return r, &ValidationError{Field: "publish_at", Reason: "a publish time requires scheduled privacy"}
		}
	case PrivacyScheduled:
		if r.PublishAt == nil {
			return r, &ValidationError{Field: "publish_at", Reason: "scheduled uploads need a publish time"}
		}
		if !r.PublishAt.After(now) {
			return r, &ValidationError{Field: "publish_at", Reason: "scheduled time must be in the future"}
		}
	default:
		return r, &ValidationError{Field: "privacy", Reason: fmt.Sprintf("unknown privacy mode %q", r.Privacy)}
	}

	return r, nil
}

// Warnings returns advisory problems that do not block the upload.
func (r Request) Warnings() []string {
	var warnings []string
	ext := strings.ToLower(filepath.Ext(r.FilePath))
	if !VideoExtensions[ext] {
		warnings = append(warnings, "file may not be a supported video format")
	} else if mt, err := mimetype.DetectFile(r.FilePath); err == nil && !mt.Is("application/octet-stream") && !isVideoType(mt) {
		warnings = append(warnings, fmt.Sprintf("file content looks like %s, not video", mt.String()))
	}
	return warnings
}

// Metadata builds the remote resource description for r. Scheduled uploads
// are sent as private with a publish time.
func (r Request) Metadata() Metadata {
	meta := Metadata{
		Title:         r.Title,
		Description:   r.Description,
		Tags:          append([]string(nil), r.Tags...),
		CategoryID:    r.CategoryID,
		PrivacyStatus: r.Privacy,
		MadeForKids:   r.MadeForKids,
		ContentType:   DetectContentType(r.FilePath),
	}
	if r.Privacy == PrivacyScheduled && r.PublishAt != nil {
		meta.PrivacyStatus = PrivacyPrivate
		meta.PublishAt = FormatPublishAt(*r.PublishAt)
	}
	return meta
}

// FormatPublishAt renders t in UTC with millisecond precision, the layout
// YouTube stores publish times in.
func FormatPublishAt(t time.Time) string {
	return t.UTC().Format(PublishAtLayout)
}

// DetectContentType sniffs the media type of the file at path. Content that
// is not recognized as video is announced as "video/*" so the server does
// its own detection.
func DetectContentType(path string) string {
	mt, err := mimetype.DetectFile(path)
	if err != nil || !isVideoType(mt) {
		return "video/*"
	}
	return mt.String()
}

func isVideoType(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "video/") {
			return true
		}
	}
	return false
}
