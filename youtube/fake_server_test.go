package youtube

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/require"

	ythttp "ytupload/http"
	"ytupload/internal/retry"
)

// chunkFault describes how the fake server answers one chunk PUT.
type chunkFault struct {
	status int
	// commit stores the chunk before failing, as if the response was lost.
	commit bool
}

// fakeYouTube emulates the resumable upload endpoint and the Data API
// routes the client uses. Data API handlers are registered per test.
type fakeYouTube struct {
	t      *testing.T
	server *httptest.Server

	mu           sync.Mutex
	videoID      string
	beginStatus  int
	noLocation   bool
	beginBody    []byte
	beginHeader  http.Header
	received     []byte
	size         int64
	chunkPuts    int
	statusChecks int
	faults       map[int]chunkFault
	alwaysFail   int

	api map[string]http.HandlerFunc
}

func newFakeYouTube(t *testing.T) *fakeYouTube {
	t.Helper()
	f := &fakeYouTube{
		t:       t,
		videoID: "vid-123",
		faults:  map[int]chunkFault{},
		api:     map[string]http.HandlerFunc{},
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeYouTube) serve(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/upload/youtube/v3/videos" && r.Method == http.MethodPost:
		f.begin(w, r)
	case r.URL.Path == "/upload/youtube/v3/videos" && r.Method == http.MethodPut:
		f.put(w, r)
	default:
		name := strings.TrimPrefix(r.URL.Path, "/youtube/v3/")
		f.mu.Lock()
		h, ok := f.api[r.Method+" "+name]
		f.mu.Unlock()
		if ok {
			h(w, r)
			return
		}
		f.t.Errorf("unexpected request %s %s", r.Method, r.URL)
		http.NotFound(w, r)
	}
}

func (f *fakeYouTube) begin(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	body, _ := io.ReadAll(r.Body)
	f.beginBody = body
	f.beginHeader = r.Header.Clone()
	f.size, _ = strconv.ParseInt(r.Header.Get("X-Upload-Content-Length"), 10, 64)

	if q := r.URL.Query(); q.Get("uploadType") != "resumable" || q.Get("part") != "snippet,status" {
		f.t.Errorf("unexpected begin query %q", r.URL.RawQuery)
	}
	if f.beginStatus != 0 {
		w.WriteHeader(f.beginStatus)
		fmt.Fprint(w, `{"error":{"code":401,"message":"Invalid Credentials"}}`)
		return
	}
	if !f.noLocation {
		w.Header().Set("Location", f.server.URL+"/upload/youtube/v3/videos?upload_id=session-1")
	}
	w.WriteHeader(http.StatusOK)
}

func (f *fakeYouTube) put(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.URL.Query().Get("upload_id") != "session-1" {
		f.t.Errorf("chunk sent to unknown session %q", r.URL.RawQuery)
	}
	body, _ := io.ReadAll(r.Body)
	cr := r.Header.Get("Content-Range")

	if f.alwaysFail != 0 {
		w.WriteHeader(f.alwaysFail)
		return
	}

	if strings.HasPrefix(cr, "bytes */") {
		f.statusChecks++
		f.reportOffset(w)
		return
	}

	f.chunkPuts++
	var start, end, total int64
	if _, err := fmt.Sscanf(cr, "bytes %d-%d/%d", &start, &end, &total); err != nil {
		f.t.Errorf("bad Content-Range %q", cr)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if start != int64(len(f.received)) {
		f.t.Errorf("chunk starts at %d, server holds %d bytes", start, len(f.received))
	}
	if int64(len(body)) != end-start+1 || total != f.size {
		f.t.Errorf("chunk %q carries %d bytes", cr, len(body))
	}

	fault, faulty := f.faults[f.chunkPuts]
	if !faulty || fault.commit {
		f.received = append(f.received[:start], body...)
	}
	if faulty {
		w.WriteHeader(fault.status)
		fmt.Fprintf(w, `{"error":{"code":%d,"message":"injected"}}`, fault.status)
		return
	}
	f.reportOffset(w)
}

// reportOffset must be called with mu held.
func (f *fakeYouTube) reportOffset(w http.ResponseWriter) {
	if int64(len(f.received)) == f.size && f.size > 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"kind":"youtube#video","id":%q,"status":{"uploadStatus":"uploaded"}}`, f.videoID)
		return
	}
	if len(f.received) > 0 {
		w.Header().Set("Range", fmt.Sprintf("bytes=0-%d", len(f.received)-1))
	}
	w.WriteHeader(http.StatusPermanentRedirect)
}

func (f *fakeYouTube) handle(method, name string, h http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.api[method+" "+name] = h
}

// set changes the server's behavior while holding its lock.
func (f *fakeYouTube) set(fn func(f *fakeYouTube)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

// begun returns what the session start request carried.
func (f *fakeYouTube) begun() ([]byte, http.Header) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.beginBody, f.beginHeader
}

// stored returns the bytes the server holds for the session.
func (f *fakeYouTube) stored() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.received...)
}

func (f *fakeYouTube) counts() (chunkPuts, statusChecks int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chunkPuts, f.statusChecks
}

func (f *fakeYouTube) client(t *testing.T) *Client {
	t.Helper()
	fast := retry.Config{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2,
	}
	httpCfg := ythttp.DefaultConfig()
	httpCfg.Timeout = 5 * time.Second
	httpCfg.Retry = fast
	httpCfg.RateLimiter.DataAPIRPS = 1000
	httpCfg.RateLimiter.EnableDynamicBackoff = false

	c, err := New(context.Background(), f.server.Client(), Config{
		UploadURL:   f.server.URL + "/upload/youtube/v3/videos",
		APIEndpoint: f.server.URL + "/",
		Retry:       fast,
		HTTP:        httpCfg,
	}, log.NewLogger())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func apiError(w http.ResponseWriter, code int, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"code":%d,"message":"%s","errors":[{"reason":%q,"message":"%s"}]}}`, code, reason, reason, reason)
}

// videoFile writes size bytes of patterned content.
func videoFile(t *testing.T, size int) *os.File {
	t.Helper()
	data := bytes.Repeat([]byte("0123456789abcdef"), size/16+1)[:size]
	path := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(path, data, 0600))
	file, err := os.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { file.Close() })
	return file
}
