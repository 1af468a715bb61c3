package upload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"

	"ytupload/internal/metrics"
)

// Cancellation notes recorded on the terminal state.
const (
	NoteDeleted      = "Video deleted from YouTube"
	NoteNoRemote     = "No matching video was found on YouTube to delete"
	noteDeleteFailed = "Failed to delete video: %v"
)

// DefaultCleanupTimeout bounds the search and delete run after a cancel.
const DefaultCleanupTimeout = 2 * time.Minute

// SessionConfig tunes a Session.
type SessionConfig struct {
	ChunkSize      int64
	CleanupTimeout time.Duration
	Logger         log.Logger
}

// Session drives one resumable upload from Pending to a terminal phase.
//
// Run executes on a single worker goroutine and is the only caller of the
// Remote. Other goroutines observe it through Snapshot and steer it only
// through Cancel.
type Session struct {
	remote Remote
	req    Request
	meta   Metadata
	config SessionConfig
	logger log.Logger

	cancelled atomic.Bool
	done      chan struct{}

	mu    sync.Mutex
	state State
}

// NewSession creates a session for a prepared request.
func NewSession(remote Remote, req Request, cfg SessionConfig) *Session {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.CleanupTimeout <= 0 {
		cfg.CleanupTimeout = DefaultCleanupTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewLogger()
	}
	return &Session{
		remote: remote,
		req:    req,
		meta:   req.Metadata(),
		config: cfg,
		logger: cfg.Logger,
		done:   make(chan struct{}),
		state:  State{Phase: PhasePending, TotalBytes: req.Size},
	}
}

// Cancel asks the session to stop before its next chunk. It is safe to call
// at any time and more than once; the request is never withdrawn.
func (s *Session) Cancel() {
	s.cancelled.Store(true)
}

// CancelRequested reports whether Cancel was called.
func (s *Session) CancelRequested() bool {
	return s.cancelled.Load()
}

// Snapshot returns a consistent copy of the current state.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the session reached a terminal phase.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Run performs the upload. It returns once the session is terminal.
func (s *Session) Run(ctx context.Context) {
	defer close(s.done)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorf("Upload of %s panicked: %v", s.req.FilePath, r)
			s.fail(&FatalError{Op: "upload", Err: fmt.Errorf("internal error: %v", r)})
		}
	}()

	if s.cancelled.Load() {
		s.resolveCancel(ctx, false)
		return
	}

	file, err := os.Open(s.req.FilePath)
	if err != nil {
		s.fail(&FatalError{Op: "open", Err: err})
		return
	}
	defer file.Close()

	handle, err := s.remote.BeginResumableUpload(ctx, s.meta, file, s.config.ChunkSize)
	if err != nil {
		s.fail(err)
		return
	}
	s.transition(PhaseInFlight)
	s.logger.Debugf("Upload session opened for %s", s.req.FilePath)

	sent := false
	for {
		if s.cancelled.Load() {
			s.resolveCancel(ctx, sent)
			return
		}

		sent = true
		started := time.Now()
		step, err := s.remote.Advance(ctx, handle)
		metrics.ChunkDuration.Observe(time.Since(started).Seconds())
		if err != nil {
			metrics.ChunksTotal.WithLabelValues("error").Inc()
			// A cancel that raced with a failing chunk is still a cancel: the
			// server may have committed the object before the error.
			if s.cancelled.Load() {
				s.resolveCancel(ctx, true)
				return
			}
			s.fail(err)
			return
		}
		metrics.ChunksTotal.WithLabelValues("ok").Inc()

		if step.ObjectID == "" {
			s.recordStep(step)
			continue
		}
		if s.cancelled.Load() {
			s.recordStep(step)
			s.resolveCancel(ctx, true)
			return
		}
		s.complete(step)
		s.logger.Debugf("Upload of %s created video %s", s.req.FilePath, step.ObjectID)
		return
	}
}

// recordStep folds an Advance result into the state. Progress and byte
// counts never go backwards and the object id is never cleared.
func (s *Session) recordStep(step Step) {
	s.mu.Lock()
	defer s.mu.Unlock()

	progress := step.Fraction * 100
	if progress > 100 {
		progress = 100
	}
	if progress > s.state.Progress {
		s.state.Progress = progress
	}
	if step.BytesSent > s.state.BytesSent {
		metrics.BytesSentTotal.Add(float64(step.BytesSent - s.state.BytesSent))
		s.state.BytesSent = step.BytesSent
	}
	if step.ObjectID != "" {
		s.state.ObjectID = step.ObjectID
	}
}

// complete records the final step and enters Completed in one step, so no
// snapshot shows full progress on a session that is still in flight.
func (s *Session) complete(step Step) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.TotalBytes > s.state.BytesSent {
		metrics.BytesSentTotal.Add(float64(s.state.TotalBytes - s.state.BytesSent))
	}
	s.state.Progress = 100
	s.state.BytesSent = s.state.TotalBytes
	s.state.ObjectID = step.ObjectID
	s.state.Phase = PhaseCompleted
}

// resolveCancel moves to Cancelling, locates the remote object if one may
// exist, deletes it, and ends in Cancelled. Delete failures are reported as
// a warning on the cancelled state.
func (s *Session) resolveCancel(ctx context.Context, sent bool) {
	s.transition(PhaseCancelling)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.CleanupTimeout)
	defer cancel()

	id := s.Snapshot().ObjectID
	if id == "" && sent {
		found, err := s.remote.FindRecentObjectMatching(ctx, s.meta.Title, s.meta.Description, s.meta.PublishAt)
		if err != nil {
			metrics.CleanupTotal.WithLabelValues("search_failed").Inc()
			s.logger.Warnf("Could not search for the partial upload: %s", err)
			s.finishCancel(NoteNoRemote, fmt.Sprintf("search for partial upload failed: %v", err))
			return
		}
		if found != "" {
			s.mu.Lock()
			s.state.ObjectID = found
			s.mu.Unlock()
			id = found
		}
	}

	if id == "" {
		metrics.CleanupTotal.WithLabelValues("not_found").Inc()
		s.finishCancel(NoteNoRemote, "")
		return
	}

	if err := s.remote.DeleteObject(ctx, id); err != nil {
		metrics.CleanupTotal.WithLabelValues("delete_failed").Inc()
		note := fmt.Sprintf(noteDeleteFailed, err)
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrPermissionDenied) {
			s.logger.Warnf("Video %s was not deleted: %s", id, err)
		} else {
			s.logger.Errorf("Video %s was not deleted: %s", id, err)
		}
		s.finishCancel(note, note)
		return
	}

	metrics.CleanupTotal.WithLabelValues("deleted").Inc()
	s.finishCancel(NoteDeleted, "")
}

func (s *Session) finishCancel(note, warning string) {
	s.mu.Lock()
	s.state.Note = note
	s.state.DeleteWarning = warning
	s.mu.Unlock()
	s.transition(PhaseCancelled)
}

// fail records err and moves to Failed. A failure while cleaning up after a
// cancel keeps the cancelled outcome and reports the error as a warning.
func (s *Session) fail(err error) {
	s.mu.Lock()
	phase := s.state.Phase
	s.mu.Unlock()

	switch {
	case phase.Terminal():
		return
	case phase == PhaseCancelling:
		s.finishCancel(NoteNoRemote, fmt.Sprintf("cleanup aborted: %v", err))
		return
	}

	s.mu.Lock()
	s.state.Err = err
	s.mu.Unlock()
	s.transition(PhaseFailed)
	s.logger.Debugf("Upload of %s failed: %s", s.req.FilePath, err)
}

func (s *Session) transition(next Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Phase == next {
		return
	}
	if !s.state.Phase.CanTransition(next) {
		s.logger.Warnf("Ignoring upload transition %s -> %s", s.state.Phase, next)
		return
	}
	s.state.Phase = next
}
