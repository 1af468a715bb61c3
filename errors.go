package ytupload

import (
	"ytupload/internal/retry"
	"ytupload/storage"
	"ytupload/upload"
	"ytupload/youtube"
)

// Error handling types exported for library users.
//
// All error types support the standard error handling patterns:
//
// Using errors.Is() for sentinel errors:
//
//	if errors.Is(err, ytupload.ErrBusy) {
//		fmt.Println("Another upload is still running")
//	}
//
// Using errors.As() for wrapped errors:
//
//	var verr *ytupload.ValidationError
//	if errors.As(err, &verr) {
//		fmt.Printf("Invalid %s: %s\n", verr.Field, verr.Reason)
//	}

// Exported error types from sub-packages:
//
// From upload package:
//   - upload.ErrNotFound: Remote video does not exist
//   - upload.ErrPermissionDenied: Account may not modify the remote video
//   - upload.ErrBusy: An upload is already running
//   - upload.ErrUnknownSession: Session id is not tracked
//   - upload.TransientError: Remote failure that may succeed if repeated
//   - upload.FatalError: Remote failure that will not succeed if repeated
//   - upload.ValidationError: Request rejected before any remote call
//
// From youtube package:
//   - youtube.ErrNoToken: No authorized OAuth token saved
//   - youtube.ErrSessionExpired: Resumable session no longer exists
//   - youtube.ErrNoChannel: Account has no channel
//
// From storage package:
//   - storage.ErrNotFound: Entity not found in storage
//   - storage.ErrInvalidInput: Invalid input provided
//   - storage.ErrStorageCorrupt: Data corruption detected
//   - storage.ErrLockTimeout: File lock timeout
//   - storage.StorageError: General storage operation error

// Type aliases for convenient error handling.
type (
	// TransientError wraps remote failures that may succeed if repeated.
	TransientError = upload.TransientError
	// FatalError wraps remote failures that will not succeed if repeated.
	FatalError = upload.FatalError
	// ValidationError reports an invalid upload request.
	ValidationError = upload.ValidationError
	// RetryableError wraps errors that occurred after retries were exhausted.
	RetryableError = retry.RetryableError
	// StorageError wraps errors during storage operations.
	StorageError = storage.StorageError
)

// Sentinel errors exported from sub-packages.
var (
	// ErrRemoteNotFound indicates the remote video does not exist.
	ErrRemoteNotFound = upload.ErrNotFound
	// ErrPermissionDenied indicates the account may not modify the video.
	ErrPermissionDenied = upload.ErrPermissionDenied
	// ErrBusy indicates another upload is in progress.
	ErrBusy = upload.ErrBusy
	// ErrUnknownSession indicates the session id is not tracked.
	ErrUnknownSession = upload.ErrUnknownSession

	// ErrNoToken indicates no authorized token is saved.
	ErrNoToken = youtube.ErrNoToken
	// ErrSessionExpired indicates the resumable session is gone.
	ErrSessionExpired = youtube.ErrSessionExpired
	// ErrNoChannel indicates the account has no channel.
	ErrNoChannel = youtube.ErrNoChannel

	// Storage errors
	// ErrNotFound indicates an entity was not found in storage.
	ErrNotFound = storage.ErrNotFound
	// ErrInvalidInput indicates invalid input was provided.
	ErrInvalidInput = storage.ErrInvalidInput
	// ErrStorageCorrupt indicates data corruption was detected.
	ErrStorageCorrupt = storage.ErrStorageCorrupt
	// ErrLockTimeout indicates a timeout acquiring a file lock.
	ErrLockTimeout = storage.ErrLockTimeout
)

// IsRetryable determines if an error should be retried.
func IsRetryable(err error) bool {
	return retry.IsRetryable(err)
}

// IsTransient reports whether err is an upload failure worth repeating.
func IsTransient(err error) bool {
	return upload.IsTransient(err)
}
