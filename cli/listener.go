package main

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/bitrise-io/go-utils/v2/log"

	"ytupload/upload"
)

// consoleListener redraws a single progress line on stderr.
type consoleListener struct {
	logger log.Logger
	out    io.Writer

	mu      sync.Mutex
	drawing bool
}

func (l *consoleListener) writer() io.Writer {
	if l.out == nil {
		return os.Stderr
	}
	return l.out
}

func (l *consoleListener) ProgressChanged(p upload.Progress) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.writer(), "\r\033[K%s", p)
	l.drawing = true
}

func (l *consoleListener) Completed(videoURL, objectID string) {
	l.endLine()
	l.logger.Donef("Upload complete: %s", videoURL)
}

func (l *consoleListener) Cancelled(note string) {
	l.endLine()
	if note == "" {
		l.logger.Warnf("Upload cancelled")
		return
	}
	l.logger.Warnf("Upload cancelled: %s", note)
}

func (l *consoleListener) Failed(err error) {
	l.endLine()
	l.logger.Errorf("Upload failed: %v", err)
}

// endLine terminates the progress line if one is drawn.
func (l *consoleListener) endLine() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.drawing {
		fmt.Fprintln(l.writer())
		l.drawing = false
	}
}
