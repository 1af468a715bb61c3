package upload

import (
	"context"
	"os"
	"time"
)

// Metadata is the remote resource description sent when a resumable
// upload begins.
type Metadata struct {
	Title         string
	Description   string
	Tags          []string
	CategoryID    string
	PrivacyStatus string // private, unlisted or public
	MadeForKids   bool
	PublishAt     string // FormatPublishAt output, empty when not scheduled
	ContentType   string
}

// Handle is the state of one resumable upload as tracked by a Remote.
type Handle struct {
	// SessionURI is the upload session location returned by the server.
	SessionURI string
	File       *os.File
	Size       int64
	ChunkSize  int64
	// Offset is the number of bytes the server has acknowledged.
	Offset      int64
	ContentType string
}

// Step is the outcome of one Advance call.
type Step struct {
	// Fraction is the share of the file acknowledged by the server, 0 to 1.
	Fraction  float64
	BytesSent int64
	// ObjectID is set once the final chunk created the remote object.
	ObjectID string
}

// ScheduledItem is a channel video with a future publish time.
type ScheduledItem struct {
	Title          string
	VideoID        string
	PublishAt      time.Time // UTC
	PublishAtLocal time.Time
	// Raw is the publish time exactly as the API returned it.
	Raw string
}

// Remote is the set of remote capabilities an upload needs. Authentication
// is the implementation's concern.
type Remote interface {
	// BeginResumableUpload opens an upload session for file.
	BeginResumableUpload(ctx context.Context, meta Metadata, file *os.File, chunkSize int64) (*Handle, error)
	// Advance sends exactly one chunk. It returns *FatalError for
	// unrecoverable responses and *TransientError once its own retries
	// are exhausted.
	Advance(ctx context.Context, h *Handle) (Step, error)
	// FindRecentObjectMatching searches the account's most recent uploads for
	// one matching the given metadata and returns its id, or "".
	FindRecentObjectMatching(ctx context.Context, title, description, publishAt string) (string, error)
	// DeleteObject deletes a remote object. It returns ErrNotFound or
	// ErrPermissionDenied when applicable.
	DeleteObject(ctx context.Context, id string) error
	// ListRecentScheduledItems lists recent uploads that carry a publish time.
	ListRecentScheduledItems(ctx context.Context, maxCount int) ([]ScheduledItem, error)
}
