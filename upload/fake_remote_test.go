package upload

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// testNow is the clock used to validate requests in tests.
var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// fakeRemote is a scriptable Remote. Advance returns steps in order; the
// last step should carry an ObjectID.
type fakeRemote struct {
	mu sync.Mutex

	beginErr  error
	beginGate chan struct{}

	steps       []Step
	advanceErrs map[int]error
	// advanceGate, when set, is received from before each Advance returns.
	advanceGate chan struct{}
	// onAdvance runs at the start of each Advance call with its 1-based index.
	onAdvance func(call int)
	panicOn   int

	found     string
	findErr   error
	deleteErr error

	beginCalls   int
	advanceCalls int
	findCalls    int
	findArgs     [3]string
	deleted      []string
	meta         Metadata
}

func (f *fakeRemote) BeginResumableUpload(ctx context.Context, meta Metadata, file *os.File, chunkSize int64) (*Handle, error) {
	f.mu.Lock()
	f.beginCalls++
	f.meta = meta
	gate := f.beginGate
	err := f.beginErr
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	info, _ := file.Stat()
	return &Handle{SessionURI: "fake://session", File: file, Size: info.Size(), ChunkSize: chunkSize}, nil
}

func (f *fakeRemote) Advance(ctx context.Context, h *Handle) (Step, error) {
	f.mu.Lock()
	f.advanceCalls++
	call := f.advanceCalls
	hook := f.onAdvance
	gate := f.advanceGate
	f.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if call == f.panicOn {
		panic("remote exploded")
	}
	if err, ok := f.advanceErrs[call]; ok {
		return Step{}, err
	}
	if call > len(f.steps) {
		return Step{}, &FatalError{Op: "advance", Err: os.ErrInvalid}
	}
	return f.steps[call-1], nil
}

func (f *fakeRemote) FindRecentObjectMatching(ctx context.Context, title, description, publishAt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.findCalls++
	f.findArgs = [3]string{title, description, publishAt}
	return f.found, f.findErr
}

func (f *fakeRemote) DeleteObject(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return f.deleteErr
}

func (f *fakeRemote) ListRecentScheduledItems(ctx context.Context, maxCount int) ([]ScheduledItem, error) {
	return nil, nil
}

func (f *fakeRemote) counts() (advance, find int, deleted []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.advanceCalls, f.findCalls, append([]string(nil), f.deleted...)
}

// writeVideo creates a small file that passes request validation.
func writeVideo(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(path, make([]byte, size), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func validRequest(t *testing.T) Request {
	t.Helper()
	return Request{
		FilePath:      writeVideo(t, 1000),
		Title:         "My video",
		Description:   "About my video",
		Tags:          []string{"one", "two"},
		CategoryID:    "24",
		CategoryLabel: "Entertainment",
		Privacy:       PrivacyUnlisted,
	}
}

func progressSteps(total int64, fractions ...float64) []Step {
	steps := make([]Step, 0, len(fractions))
	for _, f := range fractions {
		steps = append(steps, Step{Fraction: f, BytesSent: int64(f * float64(total))})
	}
	return steps
}

// waitFor polls cond until it holds or the test times out.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}
