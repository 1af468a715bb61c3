package upload

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/google/uuid"

	"ytupload/internal/metrics"
	"ytupload/storage"
)

// DefaultPollInterval is how often Run polls a session.
const DefaultPollInterval = 100 * time.Millisecond

// SessionID identifies an upload started by a Controller.
type SessionID string

// ControllerConfig configures a Controller.
type ControllerConfig struct {
	ChunkSize      int64
	CleanupTimeout time.Duration
	Logger         log.Logger
	Listener       Listener
	// Now is the clock used for validation and speed estimates.
	Now func() time.Time
}

// tracked is the controller's view of one upload.
type tracked struct {
	session      *Session
	req          Request
	key          storage.HistoryKey
	lastProgress float64
	speed        speedTracker
	final        State
}

// Controller runs one upload at a time on a background goroutine and
// mirrors its progress into the history store and a Listener.
//
// Start, Poll, Cancel and Run are meant to be called from a single control
// goroutine. The history store is only ever touched from those calls.
// Listener events are delivered on that goroutine without holding the
// controller's lock.
type Controller struct {
	remote   Remote
	store    storage.HistoryStore
	config   ControllerConfig
	logger   log.Logger
	listener Listener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	active   map[SessionID]*tracked
	finished map[SessionID]*tracked
}

// NewController creates a controller that uploads through remote and
// records attempts in store.
func NewController(remote Remote, store storage.HistoryStore, cfg ControllerConfig) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = log.NewLogger()
	}
	if cfg.Listener == nil {
		cfg.Listener = NopListener{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		remote:   remote,
		store:    store,
		config:   cfg,
		logger:   cfg.Logger,
		listener: cfg.Listener,
		ctx:      ctx,
		cancel:   cancel,
		active:   make(map[SessionID]*tracked),
		finished: make(map[SessionID]*tracked),
	}
}

// Start validates req, records it in the history as uploading and begins
// the upload in the background. Validation failures return a
// *ValidationError and leave no history entry.
func (c *Controller) Start(ctx context.Context, req Request) (SessionID, error) {
	prepared, err := req.Prepare(c.config.Now())
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.active) > 0 {
		return "", ErrBusy
	}

	for _, w := range prepared.Warnings() {
		c.logger.Warnf("%s: %s", prepared.FilePath, w)
	}

	entry := &storage.HistoryEntry{
		Title:       prepared.Title,
		Description: prepared.Description,
		Tags:        prepared.Tags,
		Category:    prepared.CategoryLabel,
		Privacy:     prepared.Privacy,
		Filename:    prepared.FilePath,
		Status:      storage.StatusUploading,
		Progress:    0,
	}
	if prepared.PublishAt != nil {
		entry.PublishAt = FormatPublishAt(*prepared.PublishAt)
	}
	key, err := c.store.Append(ctx, entry)
	if err != nil {
		metrics.HistoryWriteErrorsTotal.Inc()
		return "", err
	}

	session := NewSession(c.remote, prepared, SessionConfig{
		ChunkSize:      c.config.ChunkSize,
		CleanupTimeout: c.config.CleanupTimeout,
		Logger:         c.logger,
	})
	id := SessionID(uuid.NewString())
	c.active[id] = &tracked{session: session, req: prepared, key: key}

	metrics.UploadsStartedTotal.Inc()
	metrics.UploadSizeBytes.Observe(float64(prepared.Size))

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		session.Run(c.ctx)
	}()

	c.logger.Debugf("Started upload %s (history key %s)", id, key)
	return id, nil
}

// Poll returns the current state of an upload without blocking. When
// progress advanced since the previous poll the history entry is updated
// and ProgressChanged is emitted. The first poll that sees a terminal phase
// writes the final history update, emits the terminal event and releases
// the session; later polls return the same final state.
//
// History writes and listener calls happen after mu is released, so a
// listener may call back into the controller.
func (c *Controller) Poll(id SessionID) (State, error) {
	c.mu.Lock()
	t, ok := c.active[id]
	if !ok {
		defer c.mu.Unlock()
		if t, done := c.finished[id]; done {
			return t.final, nil
		}
		return State{}, ErrUnknownSession
	}

	st := t.session.Snapshot()

	var progress *Progress
	if st.Progress > t.lastProgress && !st.Phase.Terminal() {
		t.lastProgress = st.Progress
		p := t.speed.observe(c.config.Now(), st.BytesSent, st.TotalBytes, st.Progress)
		progress = &p
	}

	terminal := st.Phase.Terminal()
	if terminal {
		t.final = st
		delete(c.active, id)
		c.finished[id] = t
	}
	c.mu.Unlock()

	if progress != nil {
		c.updateHistory(t.key, storage.HistoryPatch{}.WithProgress(st.Progress))
		c.listener.ProgressChanged(*progress)
	}
	if terminal {
		c.finish(t, st)
	}
	return st, nil
}

// finish performs the single terminal history update and event.
func (c *Controller) finish(t *tracked, st State) {
	switch st.Phase {
	case PhaseCompleted:
		url := VideoURL(st.ObjectID)
		c.updateHistory(t.key, storage.HistoryPatch{}.
			WithStatus(storage.StatusCompleted).
			WithProgress(100).
			WithVideo(url, st.ObjectID))
		metrics.UploadsTotal.WithLabelValues(string(storage.StatusCompleted)).Inc()
		c.listener.Completed(url, st.ObjectID)

	case PhaseCancelled:
		patch := storage.HistoryPatch{}.
			WithStatus(storage.StatusCancelled).
			WithProgress(st.Progress).
			WithNote(st.Note)
		if st.DeleteWarning != "" && st.ObjectID != "" {
			patch = patch.WithVideoID(st.ObjectID)
		}
		c.updateHistory(t.key, patch)
		metrics.UploadsTotal.WithLabelValues(string(storage.StatusCancelled)).Inc()
		c.listener.Cancelled(st.Note)

	case PhaseFailed:
		msg := "unknown error"
		if st.Err != nil {
			msg = st.Err.Error()
		}
		c.updateHistory(t.key, storage.HistoryPatch{}.
			WithStatus(storage.StatusFailed).
			WithError(msg))
		metrics.UploadsTotal.WithLabelValues(string(storage.StatusFailed)).Inc()
		c.listener.Failed(st.Err)
	}
}

func (c *Controller) updateHistory(key storage.HistoryKey, patch storage.HistoryPatch) {
	ok, err := c.store.Update(c.ctx, key, patch)
	if err != nil {
		metrics.HistoryWriteErrorsTotal.Inc()
		c.logger.Errorf("Failed to update upload history %s: %s", key, err)
		return
	}
	if !ok {
		// Evicted by retention or removed from the file by hand.
		c.logger.Warnf("Upload history entry %s no longer exists", key)
	}
}

// Cancel requests cancellation of an upload. Unknown and finished uploads
// are ignored.
func (c *Controller) Cancel(id SessionID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.active[id]; ok {
		t.session.Cancel()
	}
}

// Run polls id every interval until it is terminal. Cancelling ctx cancels
// the upload, and Run keeps polling until the cleanup finished.
func (c *Controller) Run(ctx context.Context, id SessionID, interval time.Duration) (State, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	done := ctx.Done()
	for {
		st, err := c.Poll(id)
		if err != nil {
			return st, err
		}
		if st.Phase.Terminal() {
			return st, nil
		}

		select {
		case <-done:
			c.Cancel(id)
			done = nil
		case <-ticker.C:
		}
	}
}

// Active reports whether an upload is running.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active) > 0
}

// Close cancels running uploads, waits for their workers and records their
// outcome.
func (c *Controller) Close() error {
	c.mu.Lock()
	ids := make([]SessionID, 0, len(c.active))
	for id, t := range c.active {
		t.session.Cancel()
		ids = append(ids, id)
	}
	c.mu.Unlock()

	c.wg.Wait()
	defer c.cancel()

	var errs []error
	for _, id := range ids {
		if _, err := c.Poll(id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Request returns the prepared request behind id.
func (c *Controller) Request(id SessionID) (Request, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.active[id]; ok {
		return t.req, true
	}
	if t, ok := c.finished[id]; ok {
		return t.req, true
	}
	return Request{}, false
}
