package youtube

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	yt "google.golang.org/api/youtube/v3"

	ythttp "ytupload/http"
	"ytupload/internal/retry"
	"ytupload/upload"
)

// ErrSessionExpired indicates the resumable session URI is no longer valid
// and the upload has to start over.
var ErrSessionExpired = errors.New("youtube: upload session expired")

// BeginResumableUpload opens a resumable upload session for file.
func (c *Client) BeginResumableUpload(ctx context.Context, meta upload.Metadata, file *os.File, chunkSize int64) (*upload.Handle, error) {
	info, err := file.Stat()
	if err != nil {
		return nil, &upload.FatalError{Op: "begin", Err: err}
	}
	if chunkSize <= 0 {
		chunkSize = upload.DefaultChunkSize
	}
	contentType := meta.ContentType
	if contentType == "" {
		contentType = "video/*"
	}

	body, err := json.Marshal(videoResource(meta))
	if err != nil {
		return nil, &upload.FatalError{Op: "begin", Err: fmt.Errorf("encode video resource: %w", err)}
	}
	endpoint, err := resumableURL(c.config.UploadURL)
	if err != nil {
		return nil, &upload.FatalError{Op: "begin", Err: err}
	}

	resp, err := c.upload.Do(ctx, &ythttp.Request{
		Method: http.MethodPost,
		URL:    endpoint,
		Body:   body,
		Header: http.Header{
			"Content-Type":            {"application/json; charset=UTF-8"},
			"X-Upload-Content-Length": {strconv.FormatInt(info.Size(), 10)},
			"X-Upload-Content-Type":   {contentType},
		},
	})
	if err != nil {
		return nil, c.uploadError("begin", err)
	}
	c.quota.spend(costInsert)

	location := resp.Header.Get("Location")
	if location == "" {
		return nil, &upload.FatalError{Op: "begin", Err: errors.New("response carried no upload session URI")}
	}
	c.logger.Debugf("Opened resumable upload session for %s (%d bytes)", meta.Title, info.Size())

	return &upload.Handle{
		SessionURI:  location,
		File:        file,
		Size:        info.Size(),
		ChunkSize:   chunkSize,
		ContentType: contentType,
	}, nil
}

// Advance sends the next chunk of h. Transient failures are retried after
// asking the server how much it already holds, so a chunk is never sent
// from a stale offset.
func (c *Client) Advance(ctx context.Context, h *upload.Handle) (upload.Step, error) {
	var (
		step   upload.Step
		resync bool
	)
	err := retry.Do(ctx, c.retryConfig("advance"), isRetryableUploadError, func(ctx context.Context) error {
		if resync || h.Offset >= h.Size {
			s, err := c.queryStatus(ctx, h)
			if err != nil {
				return err
			}
			resync = false
			if s.ObjectID != "" || h.Offset >= h.Size {
				step = s
				return nil
			}
		}

		s, err := c.putChunk(ctx, h)
		if err != nil {
			resync = true
			return err
		}
		step = s
		return nil
	})
	if err != nil {
		return upload.Step{}, c.uploadError("advance", err)
	}
	return step, nil
}

func (c *Client) putChunk(ctx context.Context, h *upload.Handle) (upload.Step, error) {
	n := h.ChunkSize
	if remaining := h.Size - h.Offset; remaining < n {
		n = remaining
	}
	buf := make([]byte, n)
	read, err := h.File.ReadAt(buf, h.Offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return upload.Step{}, retry.Permanent(fmt.Errorf("read chunk at %d: %w", h.Offset, err))
	}
	if int64(read) < n {
		return upload.Step{}, retry.Permanent(fmt.Errorf("file shrank during upload: read %d of %d bytes at %d", read, n, h.Offset))
	}

	resp, err := c.upload.DoOnce(ctx, &ythttp.Request{
		Method: http.MethodPut,
		URL:    h.SessionURI,
		Body:   buf,
		Header: http.Header{
			"Content-Type":  {h.ContentType},
			"Content-Range": {fmt.Sprintf("bytes %d-%d/%d", h.Offset, h.Offset+n-1, h.Size)},
		},
		Accept: []int{http.StatusPermanentRedirect},
	})
	if err != nil {
		return upload.Step{}, err
	}
	return c.applyStatus(h, resp)
}

// queryStatus asks the server how many bytes of the session it holds.
func (c *Client) queryStatus(ctx context.Context, h *upload.Handle) (upload.Step, error) {
	resp, err := c.upload.DoOnce(ctx, &ythttp.Request{
		Method: http.MethodPut,
		URL:    h.SessionURI,
		Header: http.Header{"Content-Range": {fmt.Sprintf("bytes */%d", h.Size)}},
		Accept: []int{http.StatusPermanentRedirect},
	})
	if err != nil {
		return upload.Step{}, err
	}
	step, err := c.applyStatus(h, resp)
	if err == nil {
		c.logger.Debugf("Upload session resumed at byte %d of %d", h.Offset, h.Size)
	}
	return step, err
}

// applyStatus moves h to the offset acknowledged by resp.
func (c *Client) applyStatus(h *upload.Handle, resp *ythttp.Response) (upload.Step, error) {
	switch resp.StatusCode {
	case http.StatusPermanentRedirect:
		h.Offset = 0
		if end, ok := parseRangeEnd(resp.Header.Get("Range")); ok {
			h.Offset = end + 1
		}
		return upload.Step{Fraction: fraction(h.Offset, h.Size), BytesSent: h.Offset}, nil

	case http.StatusOK, http.StatusCreated:
		var video yt.Video
		if err := json.Unmarshal(resp.Body, &video); err != nil {
			return upload.Step{}, retry.Permanent(fmt.Errorf("decode uploaded video: %w", err))
		}
		if video.Id == "" {
			return upload.Step{}, retry.Permanent(errors.New("upload finished without a video id"))
		}
		h.Offset = h.Size
		return upload.Step{Fraction: 1, BytesSent: h.Size, ObjectID: video.Id}, nil

	default:
		return upload.Step{}, retry.Permanent(fmt.Errorf("unexpected upload status %d", resp.StatusCode))
	}
}

// uploadError maps a failed upload exchange onto the upload error taxonomy.
func (c *Client) uploadError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &upload.TransientError{Op: op, Err: err}
	}

	var httpErr *ythttp.HTTPError
	if errors.As(err, &httpErr) {
		if bytes.Contains(httpErr.Body, []byte("quotaExceeded")) {
			c.quota.markExhausted()
		}
		switch code := httpErr.StatusCode; {
		case op != "begin" && (code == http.StatusNotFound || code == http.StatusGone):
			return &upload.FatalError{Op: op, Err: fmt.Errorf("%w: %w", ErrSessionExpired, err)}
		case code >= 400 && code < 500 && code != http.StatusTooManyRequests:
			return &upload.FatalError{Op: op, Err: err}
		}
	}

	if !retry.IsRetryable(err) {
		return &upload.FatalError{Op: op, Err: err}
	}
	return &upload.TransientError{Op: op, Err: err}
}

func isRetryableUploadError(err error) bool {
	if !retry.IsRetryable(err) || errors.Is(err, ythttp.ErrCircuitOpen) {
		return false
	}
	switch ythttp.StatusCode(err) {
	case http.StatusNotFound, http.StatusGone:
		return false
	}
	return ythttp.IsTransientHTTPError(err)
}

func videoResource(meta upload.Metadata) *yt.Video {
	return &yt.Video{
		Snippet: &yt.VideoSnippet{
			Title:       meta.Title,
			Description: meta.Description,
			Tags:        meta.Tags,
			CategoryId:  meta.CategoryID,
		},
		Status: &yt.VideoStatus{
			PrivacyStatus:           meta.PrivacyStatus,
			PublishAt:               meta.PublishAt,
			SelfDeclaredMadeForKids: meta.MadeForKids,
			ForceSendFields:         []string{"SelfDeclaredMadeForKids"},
		},
	}
}

func resumableURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse upload url: %w", err)
	}
	q := u.Query()
	q.Set("uploadType", "resumable")
	q.Set("part", "snippet,status")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// parseRangeEnd returns the last byte index of a "bytes=0-N" header.
func parseRangeEnd(header string) (int64, bool) {
	rng, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !ok {
		return 0, false
	}
	_, last, ok := strings.Cut(rng, "-")
	if !ok {
		return 0, false
	}
	end, err := strconv.ParseInt(last, 10, 64)
	if err != nil || end < 0 {
		return 0, false
	}
	return end, true
}

func fraction(n, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(n) / float64(total)
}
