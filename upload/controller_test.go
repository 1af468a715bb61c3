package upload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ytupload/storage"
)

type recordingListener struct {
	mu        sync.Mutex
	progress  []Progress
	completed []string
	cancelled []string
	failed    []error
}

func (l *recordingListener) ProgressChanged(p Progress) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.progress = append(l.progress, p)
}

func (l *recordingListener) Completed(videoURL, objectID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.completed = append(l.completed, videoURL)
}

func (l *recordingListener) Cancelled(note string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cancelled = append(l.cancelled, note)
}

func (l *recordingListener) Failed(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failed = append(l.failed, err)
}

func (l *recordingListener) terminalEvents() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.completed) + len(l.cancelled) + len(l.failed)
}

// countingStore counts status-changing updates on top of a real store.
type countingStore struct {
	storage.HistoryStore
	mu             sync.Mutex
	statusUpdates  int
	progressWrites int
}

func (s *countingStore) Update(ctx context.Context, key storage.HistoryKey, patch storage.HistoryPatch) (bool, error) {
	s.mu.Lock()
	if patch.Status != nil {
		s.statusUpdates++
	} else if patch.Progress != nil {
		s.progressWrites++
	}
	s.mu.Unlock()
	return s.HistoryStore.Update(ctx, key, patch)
}

func (s *countingStore) counts() (status, progress int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusUpdates, s.progressWrites
}

type controllerFixture struct {
	controller *Controller
	remote     *fakeRemote
	store      *countingStore
	listener   *recordingListener
}

func newControllerFixture(t *testing.T, remote *fakeRemote) *controllerFixture {
	t.Helper()
	json, err := storage.NewJSONHistoryStore(filepath.Join(t.TempDir(), "upload_history.json"))
	require.NoError(t, err)
	store := &countingStore{HistoryStore: json}
	listener := &recordingListener{}
	c := NewController(remote, store, ControllerConfig{
		ChunkSize:      256,
		CleanupTimeout: 5 * time.Second,
		Listener:       listener,
		Now:            func() time.Time { return testNow },
	})
	t.Cleanup(func() {
		_ = c.Close()
		_ = store.Close()
	})
	return &controllerFixture{controller: c, remote: remote, store: store, listener: listener}
}

func (f *controllerFixture) history(t *testing.T) []storage.HistoryEntry {
	t.Helper()
	entries, err := f.store.LoadAll(context.Background())
	require.NoError(t, err)
	return entries
}

func sessionOf(c *Controller, id SessionID) *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.active[id]; ok {
		return t.session
	}
	return nil
}

func TestController_Completes(t *testing.T) {
	f := newControllerFixture(t, &fakeRemote{steps: []Step{
		{Fraction: 0.5, BytesSent: 500},
		{Fraction: 1, BytesSent: 1000, ObjectID: "abc123"},
	}})
	ctx := context.Background()

	id, err := f.controller.Start(ctx, validRequest(t))
	require.NoError(t, err)

	entries := f.history(t)
	require.Len(t, entries, 1)

	st, err := f.controller.Run(ctx, id, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, PhaseCompleted, st.Phase)

	entries = f.history(t)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, storage.StatusCompleted, e.Status)
	assert.Equal(t, 100.0, e.Progress)
	assert.Equal(t, "https://www.youtube.com/watch?v=abc123", e.VideoURL)
	assert.Equal(t, "abc123", e.VideoID)
	assert.Equal(t, "My video", e.Title)
	assert.Equal(t, PrivacyUnlisted, e.Privacy)
	assert.Equal(t, "Entertainment", e.Category)
	assert.Equal(t, []string{"one", "two"}, e.Tags)
	assert.Empty(t, e.Error)
	assert.Empty(t, e.Note)

	assert.Equal(t, []string{"https://www.youtube.com/watch?v=abc123"}, f.listener.completed)
	assert.False(t, f.controller.Active())

	req, ok := f.controller.Request(id)
	require.True(t, ok)
	assert.Equal(t, int64(1000), req.Size)
}

func TestController_ProgressIsMirrored(t *testing.T) {
	remote := &fakeRemote{
		steps:       append(progressSteps(1000, 0.25, 0.5, 0.75), Step{Fraction: 1, BytesSent: 1000, ObjectID: "v"}),
		advanceGate: make(chan struct{}),
	}
	f := newControllerFixture(t, remote)
	ctx := context.Background()

	id, err := f.controller.Start(ctx, validRequest(t))
	require.NoError(t, err)

	for _, want := range []float64{25, 50, 75} {
		remote.advanceGate <- struct{}{}
		waitFor(t, func() bool {
			st, err := f.controller.Poll(id)
			return err == nil && st.Progress >= want
		})
		entries := f.history(t)
		assert.Equal(t, want, entries[0].Progress)
		assert.Equal(t, storage.StatusUploading, entries[0].Status)
	}

	st, err := f.controller.Poll(id)
	require.NoError(t, err)
	assert.Equal(t, PhaseInFlight, st.Phase)

	remote.advanceGate <- struct{}{}
	st, err = f.controller.Run(ctx, id, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, PhaseCompleted, st.Phase)

	_, progressWrites := f.store.counts()
	assert.Equal(t, 3, progressWrites, "one history write per progress increase")

	require.Len(t, f.listener.progress, 3)
	for i, p := range f.listener.progress {
		assert.Equal(t, float64(25*(i+1)), p.Percent)
		assert.Equal(t, int64(1000), p.Total)
	}
}

func TestController_ValidationLeavesNoEntry(t *testing.T) {
	f := newControllerFixture(t, &fakeRemote{})

	req := validRequest(t)
	req.Title = "   "
	_, err := f.controller.Start(context.Background(), req)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "title", verr.Field)
	assert.Empty(t, f.history(t))
	assert.False(t, f.controller.Active())
	assert.Zero(t, f.remote.beginCalls)
}

func TestController_OneUploadAtATime(t *testing.T) {
	remote := &fakeRemote{beginGate: make(chan struct{}), steps: []Step{{Fraction: 1, ObjectID: "v"}}}
	f := newControllerFixture(t, remote)
	ctx := context.Background()

	id, err := f.controller.Start(ctx, validRequest(t))
	require.NoError(t, err)

	_, err = f.controller.Start(ctx, validRequest(t))
	assert.ErrorIs(t, err, ErrBusy)
	assert.Len(t, f.history(t), 1)

	close(remote.beginGate)
	st, err := f.controller.Run(ctx, id, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, PhaseCompleted, st.Phase)

	_, err = f.controller.Start(ctx, validRequest(t))
	assert.NoError(t, err, "a finished upload frees the controller")
}

func TestController_CancelViaContext(t *testing.T) {
	tests := []struct {
		name        string
		deleteErr   error
		wantNote    string
		wantVideoID string
	}{
		{name: "deleted", wantNote: NoteDeleted},
		{
			name:        "delete forbidden",
			deleteErr:   ErrPermissionDenied,
			wantNote:    "Failed to delete video: upload: permission denied",
			wantVideoID: "partial",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			remote := &fakeRemote{
				steps:       progressSteps(1000, 0.3, 0.6, 0.9),
				advanceGate: make(chan struct{}),
				found:       "partial",
				deleteErr:   tt.deleteErr,
			}
			f := newControllerFixture(t, remote)

			id, err := f.controller.Start(context.Background(), validRequest(t))
			require.NoError(t, err)
			session := sessionOf(f.controller, id)
			require.NotNil(t, session)

			ctx, cancel := context.WithCancel(context.Background())
			type result struct {
				st  State
				err error
			}
			done := make(chan result, 1)
			go func() {
				st, err := f.controller.Run(ctx, id, time.Millisecond)
				done <- result{st, err}
			}()

			remote.advanceGate <- struct{}{}
			cancel()
			waitFor(t, session.CancelRequested)
			remote.advanceGate <- struct{}{}

			res := <-done
			require.NoError(t, res.err)
			assert.Equal(t, PhaseCancelled, res.st.Phase)
			assert.Equal(t, tt.wantNote, res.st.Note)

			e := f.history(t)[0]
			assert.Equal(t, storage.StatusCancelled, e.Status)
			assert.Equal(t, tt.wantNote, e.Note)
			assert.Equal(t, 60.0, e.Progress)
			assert.Equal(t, tt.wantVideoID, e.VideoID)
			assert.Empty(t, e.VideoURL)

			assert.Equal(t, []string{tt.wantNote}, f.listener.cancelled)
			_, _, deleted := remote.counts()
			assert.Equal(t, []string{"partial"}, deleted)
		})
	}
}

func TestController_Failure(t *testing.T) {
	f := newControllerFixture(t, &fakeRemote{
		beginErr: &FatalError{Op: "begin", Err: errors.New("quota exceeded")},
	})
	ctx := context.Background()

	id, err := f.controller.Start(ctx, validRequest(t))
	require.NoError(t, err)

	st, err := f.controller.Run(ctx, id, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, PhaseFailed, st.Phase)

	e := f.history(t)[0]
	assert.Equal(t, storage.StatusFailed, e.Status)
	assert.Equal(t, "begin: quota exceeded", e.Error)
	require.Len(t, f.listener.failed, 1)
	assert.True(t, IsFatal(f.listener.failed[0]))
}

func TestController_TerminalHandledOnce(t *testing.T) {
	f := newControllerFixture(t, &fakeRemote{steps: []Step{{Fraction: 1, ObjectID: "v"}}})
	ctx := context.Background()

	id, err := f.controller.Start(ctx, validRequest(t))
	require.NoError(t, err)
	first, err := f.controller.Run(ctx, id, time.Millisecond)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		st, err := f.controller.Poll(id)
		require.NoError(t, err)
		assert.Equal(t, first, st)
	}
	f.controller.Cancel(id)

	status, _ := f.store.counts()
	assert.Equal(t, 1, status)
	assert.Equal(t, 1, f.listener.terminalEvents())
}

func TestController_UnknownSession(t *testing.T) {
	f := newControllerFixture(t, &fakeRemote{})

	_, err := f.controller.Poll("missing")
	assert.ErrorIs(t, err, ErrUnknownSession)

	_, err = f.controller.Run(context.Background(), "missing", time.Millisecond)
	assert.ErrorIs(t, err, ErrUnknownSession)

	f.controller.Cancel("missing")
	_, ok := f.controller.Request("missing")
	assert.False(t, ok)
}

func TestController_CloseCancelsActiveUpload(t *testing.T) {
	remote := &fakeRemote{beginGate: make(chan struct{}), steps: []Step{{Fraction: 1, ObjectID: "v"}}}
	f := newControllerFixture(t, remote)

	id, err := f.controller.Start(context.Background(), validRequest(t))
	require.NoError(t, err)
	session := sessionOf(f.controller, id)

	go func() {
		for !session.CancelRequested() {
			time.Sleep(time.Millisecond)
		}
		close(remote.beginGate)
	}()
	require.NoError(t, f.controller.Close())

	e := f.history(t)[0]
	assert.Equal(t, storage.StatusCancelled, e.Status)
	assert.Equal(t, NoteNoRemote, e.Note)
	assert.Zero(t, remote.advanceCalls)
}

func TestController_HistoryEntryForScheduledUpload(t *testing.T) {
	f := newControllerFixture(t, &fakeRemote{steps: []Step{{Fraction: 1, ObjectID: "v"}}})
	ctx := context.Background()

	req := validRequest(t)
	req.Privacy = PrivacyScheduled
	publish := time.Date(2025, 6, 3, 18, 30, 0, 0, time.UTC)
	req.PublishAt = &publish

	id, err := f.controller.Start(ctx, req)
	require.NoError(t, err)
	_, err = f.controller.Run(ctx, id, time.Millisecond)
	require.NoError(t, err)

	e := f.history(t)[0]
	assert.Equal(t, PrivacyScheduled, e.Privacy)
	assert.Equal(t, "2025-06-03T18:30:00.000Z", e.PublishAt)
	assert.Equal(t, PrivacyPrivate, f.remote.meta.PrivacyStatus)
}

// controlListener calls back into the controller from its events.
type controlListener struct {
	recordingListener
	controller *Controller
	id         SessionID
	requestOK  bool
}

func (l *controlListener) ProgressChanged(p Progress) {
	l.recordingListener.ProgressChanged(p)
	if l.controller.Active() {
		l.controller.Cancel(l.id)
	}
}

func (l *controlListener) Cancelled(note string) {
	l.recordingListener.Cancelled(note)
	_, ok := l.controller.Request(l.id)
	l.mu.Lock()
	l.requestOK = ok
	l.mu.Unlock()
}

func TestController_ListenerMayCallController(t *testing.T) {
	remote := &fakeRemote{
		steps:       progressSteps(1000, 0.3, 0.6, 0.9),
		advanceGate: make(chan struct{}),
		found:       "partial",
	}
	json, err := storage.NewJSONHistoryStore(filepath.Join(t.TempDir(), "upload_history.json"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = json.Close() })

	listener := &controlListener{}
	c := NewController(remote, json, ControllerConfig{
		ChunkSize:      256,
		CleanupTimeout: 5 * time.Second,
		Listener:       listener,
		Now:            func() time.Time { return testNow },
	})
	t.Cleanup(func() { _ = c.Close() })
	listener.controller = c

	id, err := c.Start(context.Background(), validRequest(t))
	require.NoError(t, err)
	listener.id = id
	session := sessionOf(c, id)
	require.NotNil(t, session)

	type result struct {
		st  State
		err error
	}
	done := make(chan result, 1)
	go func() {
		st, err := c.Run(context.Background(), id, time.Millisecond)
		done <- result{st, err}
	}()

	remote.advanceGate <- struct{}{}
	waitFor(t, session.CancelRequested)
	remote.advanceGate <- struct{}{}

	select {
	case res := <-done:
		require.NoError(t, res.err)
		assert.Equal(t, PhaseCancelled, res.st.Phase)
		assert.Equal(t, NoteDeleted, res.st.Note)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after a listener cancelled the upload")
	}

	assert.Equal(t, []string{NoteDeleted}, listener.cancelled)
	assert.True(t, listener.requestOK)
	assert.False(t, c.Active())

	entries, err := json.LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, storage.StatusCancelled, entries[0].Status)
}

// warnLog collects warnings and forwards everything else.
type warnLog struct {
	log.Logger
	mu       sync.Mutex
	warnings []string
}

func (w *warnLog) Warnf(format string, v ...interface{}) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.warnings = append(w.warnings, fmt.Sprintf(format, v...))
}

func TestController_StartLogsWarningsOnce(t *testing.T) {
	json, err := storage.NewJSONHistoryStore(filepath.Join(t.TempDir(), "upload_history.json"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = json.Close() })

	logger := &warnLog{Logger: log.NewLogger()}
	c := NewController(&fakeRemote{steps: []Step{{Fraction: 1, ObjectID: "v"}}}, json, ControllerConfig{
		ChunkSize: 256,
		Logger:    logger,
		Now:       func() time.Time { return testNow },
	})
	t.Cleanup(func() { _ = c.Close() })

	req := validRequest(t)
	notes := filepath.Join(filepath.Dir(req.FilePath), "notes.txt")
	require.NoError(t, os.Rename(req.FilePath, notes))
	req.FilePath = notes

	id, err := c.Start(context.Background(), req)
	require.NoError(t, err)
	_, err = c.Run(context.Background(), id, time.Millisecond)
	require.NoError(t, err)

	logger.mu.Lock()
	defer logger.mu.Unlock()
	assert.Equal(t, []string{notes + ": file may not be a supported video format"}, logger.warnings)
}
