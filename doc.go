// Package ytupload uploads videos to YouTube through resumable, chunked
// upload sessions.
//
// Overview
//
// An upload is driven by a Controller from the upload package. The
// controller validates a Request, records it in a history store, and runs
// the transfer on a background goroutine while the caller polls for
// progress:
//
//	client, err := youtube.New(ctx, httpClient, youtube.DefaultConfig(), logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	store, err := storage.Open(storage.BackendJSON, "history.json")
//	if err != nil {
//		log.Fatal(err)
//	}
//	ctrl := upload.NewController(client, store, upload.ControllerConfig{})
//	defer ctrl.Close()
//
//	id, err := ctrl.Start(ctx, upload.Request{
//		FilePath: "clip.mp4",
//		Title:    "Launch day",
//		Privacy:  upload.PrivacyUnlisted,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	st, err := ctrl.Run(ctx, id, 0)
//
// Cancelling ctx while Run is polling cancels the upload. A video that was
// already created remotely is looked up and deleted.
//
// Scheduling
//
// The schedule package computes the next publishing slot, one calendar day
// after the latest video already scheduled on the channel:
//
//	planner := schedule.NewPlanner(client, 50, logger)
//	slot, err := planner.NextSlot(ctx, time.Now())
//
// Configuration
//
// ytupload uses a configuration system that loads settings from multiple sources:
//
//   1. Environment variables (highest priority)
//   2. .env.local and .env in the working directory
//   3. Config file (ytupload.json or ~/.config/ytupload/ytupload.json)
//   4. Default values (lowest priority)
//
// Environment variables:
//
//   - YTUPLOAD_HISTORY_PATH: Upload history file
//   - YTUPLOAD_HISTORY_BACKEND: History backend (json or sqlite)
//   - YTUPLOAD_CLIENT_SECRETS_PATH: OAuth client secrets file
//   - YTUPLOAD_TOKEN_PATH: Saved OAuth token
//   - YTUPLOAD_CHUNK_SIZE: Chunk size, e.g. 8MiB
//   - YTUPLOAD_REGION_CODE: Region for the category list
//   - YTUPLOAD_METRICS_ADDR: Address serving Prometheus metrics
//   - YTUPLOAD_MAX_RETRIES: Maximum retry attempts
//   - YTUPLOAD_INITIAL_BACKOFF: Initial retry backoff duration
//   - YTUPLOAD_MAX_BACKOFF: Maximum retry backoff duration
//
// Error Handling
//
// All operations return errors that implement standard Go error handling:
//
//	if errors.Is(err, ytupload.ErrBusy) {
//		fmt.Println("Another upload is still running")
//	}
//
//	var verr *ytupload.ValidationError
//	if errors.As(err, &verr) {
//		fmt.Printf("Invalid %s: %s\n", verr.Field, verr.Reason)
//	}
//
// Packages
//
//   - upload: Requests, the upload session state machine and the controller
//   - youtube: YouTube Data API and resumable upload client, OAuth tokens
//   - schedule: Next publishing slot
//   - storage: Upload history (JSON or SQLite) and the category cache
//   - http: Rate limited, retrying HTTP client with a circuit breaker
//   - config: Configuration management
//
package ytupload
