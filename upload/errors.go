package upload

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrNotFound indicates the remote object does not exist.
	ErrNotFound = errors.New("upload: remote object not found")
	// ErrPermissionDenied indicates the account may not modify the remote object.
	ErrPermissionDenied = errors.New("upload: permission denied")
	// ErrBusy is returned by Start while another upload is still running.
	ErrBusy = errors.New("upload: another upload is in progress")
	// ErrUnknownSession is returned for session ids the controller does not track.
	ErrUnknownSession = errors.New("upload: unknown session")
)

// TransientError reports a remote failure that may succeed if repeated.
// Remote implementations retry these internally and only surface them once
// their own retry budget is spent.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient failure: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// FatalError reports an unrecoverable remote failure. The session aborts and
// the message is shown to the caller as is.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// ValidationError rejects a Request before any session or history entry is
// created.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsTransient reports whether err is, or wraps, a *TransientError.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// IsFatal reports whether err is, or wraps, a *FatalError.
func IsFatal(err error) bool {
	var f *FatalError
	return errors.As(err, &f)
}
