package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ytupload/config"
	"ytupload/schedule"
	"ytupload/storage"
	"ytupload/upload"
	"ytupload/youtube"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	var code int
	switch command {
	case "upload":
		code = cmdUpload(args)
	case "history":
		code = cmdHistory(args)
	case "schedule":
		code = cmdSchedule(args)
	case "categories":
		code = cmdCategories(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n", command)
		printUsage()
		code = 1
	}
	os.Exit(code)
}

// exitCancelled is the exit code after an interrupted upload.
const exitCancelled = 130

func printUsage() {
	fmt.Fprintf(os.Stderr, `ytupload - resumable YouTube video uploader

Usage:
  ytupload upload [flags] <video-file>  Upload a video
  ytupload history [flags]              Show recent uploads
  ytupload schedule                     Show scheduled videos and the next free slot
  ytupload categories [flags]           List video categories
  ytupload help                         Show this help message

Examples:
  ytupload upload --title "Launch" clip.mp4                          # Private upload
  ytupload upload --title "Launch" --privacy unlisted clip.mp4       # Unlisted upload
  ytupload upload --title "Launch" --publish-at "2025-07-01 18:00" clip.mp4
  ytupload upload --title "Launch" --next-slot clip.mp4              # Schedule a day after the last one
  ytupload categories --refresh                                      # Refresh the category cache

Configuration is read from ytupload.json, .env files and YTUPLOAD_* variables.

For help on specific command: ytupload <command> -h
`)
}

// loadConfig loads the configuration and a logger. Errors are printed.
func loadConfig(verbose bool) (*config.Config, log.Logger, bool) {
	logger := log.NewLogger()
	logger.EnableDebugLog(verbose)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return nil, nil, false
	}
	return cfg, logger, true
}

// connect authenticates and creates the YouTube client. Errors are printed
// and reported as nil.
func connect(ctx context.Context, cfg *config.Config, logger log.Logger) *youtube.Client {
	httpClient, err := youtube.Authenticate(ctx, cfg.ClientSecretsPath, cfg.TokenPath, logger)
	if err != nil {
		if errors.Is(err, youtube.ErrNoToken) {
			fmt.Fprintf(os.Stderr, "Error: no authorized token at %s\n", cfg.TokenPath)
			fmt.Fprintf(os.Stderr, "Authorize the OAuth client in %s and save the token there first.\n", cfg.ClientSecretsPath)
		} else {
			fmt.Fprintf(os.Stderr, "Error authenticating: %v\n", err)
		}
		return nil
	}

	ycfg := youtube.DefaultConfig()
	ycfg.SearchMaxResults = cfg.SearchMaxResults
	ycfg.QuotaReserve = cfg.QuotaReserve
	ycfg.Retry = cfg.RetryConfig()
	ycfg.HTTP.Retry = cfg.RetryConfig()

	client, err := youtube.New(ctx, httpClient, ycfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating YouTube client: %v\n", err)
		return nil
	}
	return client
}

func openHistory(cfg *config.Config, logger log.Logger) storage.HistoryStore {
	store, err := storage.Open(cfg.HistoryBackend, cfg.HistoryPath,
		storage.WithLimit(cfg.HistoryLimit),
		storage.WithLogger(logger),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening history: %v\n", err)
		return nil
	}
	return store
}

// serveMetrics exposes Prometheus metrics on addr until the returned stop
// function is called. An empty addr disables the endpoint.
func serveMetrics(addr string, logger log.Logger) (stop func()) {
	if addr == "" {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warnf("Metrics server stopped: %v", err)
		}
	}()
	logger.Debugf("Serving metrics on %s/metrics", addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func cmdUpload(args []string) int {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	title := fs.String("title", "", "Video title (required, max 100 characters)")
	description := fs.String("description", "", "Video description")
	tags := fs.String("tags", "", "Comma-separated tags")
	category := fs.String("category", "Entertainment", "Category label (see 'ytupload categories')")
	privacy := fs.String("privacy", upload.PrivacyPrivate, "Privacy: private, unlisted, public or scheduled")
	publishAt := fs.String("publish-at", "", `Publish time, RFC3339 or local "2006-01-02 15:04"; implies scheduled privacy`)
	nextSlot := fs.Bool("next-slot", false, "Schedule one day after the latest scheduled video")
	madeForKids := fs.Bool("made-for-kids", false, "Mark the video as made for kids")
	chunkSize := fs.String("chunk-size", "", "Chunk size, e.g. 8MiB (default from config)")
	verbose := fs.Bool("verbose", false, "Enable debug logging")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: ytupload upload [flags] <video-file>\n\nFlags:\n")
		fs.PrintDefaults()
	}
	fs.Parse(args)

	argv := fs.Args()
	if len(argv) == 0 {
		fmt.Fprintf(os.Stderr, "Error: missing video-file\n")
		fs.Usage()
		return 1
	}
	if *publishAt != "" && *nextSlot {
		fmt.Fprintf(os.Stderr, "Error: --publish-at and --next-slot are mutually exclusive\n")
		return 1
	}

	cfg, logger, ok := loadConfig(*verbose)
	if !ok {
		return 1
	}
	if *chunkSize != "" {
		n, err := units.RAMInBytes(*chunkSize)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing --chunk-size: %v\n", err)
			return 1
		}
		cfg.ChunkSize = n
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
	}

	req := upload.Request{
		FilePath:      argv[0],
		Title:         *title,
		Description:   *description,
		Tags:          upload.ParseTags(*tags),
		CategoryLabel: *category,
		Privacy:       *privacy,
		MadeForKids:   *madeForKids,
	}
	if *publishAt != "" {
		at, err := parsePublishAt(*publishAt, time.Local)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing --publish-at: %v\n", err)
			return 1
		}
		req.PublishAt = &at
		req.Privacy = upload.PrivacyScheduled
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stopMetrics := serveMetrics(cfg.MetricsAddr, logger)
	defer stopMetrics()

	client := connect(ctx, cfg, logger)
	if client == nil {
		return 1
	}
	defer client.Close()

	categories := storage.NewCategoryCache(cfg.CategoriesCachePath, cfg.CategoriesTTL)
	if refreshed, err := categories.RefreshIfStale(ctx, cfg.RegionCode, client.FetchCategories); err != nil {
		logger.Warnf("Using built-in categories: %v", err)
	} else if refreshed {
		logger.Debugf("Refreshed categories for %s", cfg.RegionCode)
	}
	cats, _ := categories.Categories()
	if _, ok := cats[req.CategoryLabel]; !ok {
		logger.Warnf("Unknown category %q, using Entertainment", req.CategoryLabel)
	}
	req.CategoryID = cats.IDFor(req.CategoryLabel)

	if *nextSlot {
		planner := schedule.NewPlanner(client, cfg.ScheduleScanCount, logger)
		slot, err := planner.NextSlot(ctx, time.Now())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error computing next slot: %v\n", err)
			return 1
		}
		req.PublishAt = &slot.Next
		req.Privacy = upload.PrivacyScheduled
		logger.Infof("Scheduling for %s", upload.FormatScheduleTime(slot.Next))
	}

	if client.QuotaExhausted() {
		fmt.Fprintf(os.Stderr, "Error: daily API quota is exhausted, try again tomorrow\n")
		return 1
	}

	store := openHistory(cfg, logger)
	if store == nil {
		return 1
	}
	defer store.Close()

	listener := &consoleListener{logger: logger}
	controller := upload.NewController(client, store, upload.ControllerConfig{
		ChunkSize: cfg.ChunkSize,
		Logger:    logger,
		Listener:  listener,
	})
	defer controller.Close()

	id, err := controller.Start(ctx, req)
	if err != nil {
		var verr *upload.ValidationError
		if errors.As(err, &verr) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", verr)
		} else {
			fmt.Fprintf(os.Stderr, "Error starting upload: %v\n", err)
		}
		return 1
	}
	prepared, _ := controller.Request(id)

	fmt.Fprintf(os.Stderr, "Uploading %s (%s)... press Ctrl+C to cancel\n", prepared.FilePath, upload.FormatSize(prepared.Size))
	st, err := controller.Run(ctx, id, cfg.PollInterval)
	if err != nil {
		fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
		return 1
	}
	listener.endLine()

	switch st.Phase {
	case upload.PhaseCompleted:
		fmt.Print(upload.Summary(prepared, st.ObjectID))
	case upload.PhaseCancelled:
		if st.DeleteWarning != "" {
			fmt.Fprintf(os.Stderr, "Warning: %s\nRemove it manually: %s\n", st.DeleteWarning, upload.StudioURL(st.ObjectID))
		}
		return exitCancelled
	default:
		return 1
	}
	return 0
}

func cmdHistory(args []string) int {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	limit := fs.Int("max", 20, "Maximum entries to show (0 = all)")
	verbose := fs.Bool("verbose", false, "Enable debug logging")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: ytupload history [flags]\n\nFlags:\n")
		fs.PrintDefaults()
	}
	fs.Parse(args)

	cfg, logger, ok := loadConfig(*verbose)
	if !ok {
		return 1
	}
	store := openHistory(cfg, logger)
	if store == nil {
		return 1
	}
	defer store.Close()

	entries, err := store.LoadAll(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading history: %v\n", err)
		return 1
	}
	if len(entries) == 0 {
		fmt.Println("No uploads yet.")
		return 0
	}
	if *limit > 0 && len(entries) > *limit {
		entries = entries[:*limit]
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "UPLOADED\tSTATUS\tPROGRESS\tPRIVACY\tTITLE\tVIDEO")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%.0f%%\t%s\t%s\t%s\n",
			formatKey(e.Key),
			e.Status,
			e.Progress,
			e.Privacy,
			truncate(e.Title, 40),
			e.VideoURL,
		)
	}
	w.Flush()

	fmt.Fprintf(os.Stderr, "\nTotal: %d entries\n", len(entries))
	return 0
}

func cmdSchedule(args []string) int {
	fs := flag.NewFlagSet("schedule", flag.ExitOnError)
	verbose := fs.Bool("verbose", false, "Enable debug logging")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: ytupload schedule [flags]\n\nFlags:\n")
		fs.PrintDefaults()
	}
	fs.Parse(args)

	cfg, logger, ok := loadConfig(*verbose)
	if !ok {
		return 1
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	client := connect(ctx, cfg, logger)
	if client == nil {
		return 1
	}
	defer client.Close()

	planner := schedule.NewPlanner(client, cfg.ScheduleScanCount, logger)
	fmt.Fprintf(os.Stderr, "Scanning the last %d uploads...\n", cfg.ScheduleScanCount)
	if _, err := planner.NextSlot(ctx, time.Now()); err != nil {
		fmt.Fprintf(os.Stderr, "Error fetching schedule: %v\n", err)
		return 1
	}
	slot, _ := planner.Schedule()
	for _, line := range schedule.Describe(slot) {
		fmt.Println(line)
	}
	return 0
}

func cmdCategories(args []string) int {
	fs := flag.NewFlagSet("categories", flag.ExitOnError)
	refresh := fs.Bool("refresh", false, "Fetch the category list from YouTube even if the cache is fresh")
	verbose := fs.Bool("verbose", false, "Enable debug logging")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: ytupload categories [flags]\n\nFlags:\n")
		fs.PrintDefaults()
	}
	fs.Parse(args)

	cfg, logger, ok := loadConfig(*verbose)
	if !ok {
		return 1
	}
	cache := storage.NewCategoryCache(cfg.CategoriesCachePath, cfg.CategoriesTTL)

	if *refresh {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		client := connect(ctx, cfg, logger)
		if client == nil {
			return 1
		}
		defer client.Close()

		cats, err := client.FetchCategories(ctx, cfg.RegionCode)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error fetching categories: %v\n", err)
			return 1
		}
		if err := cache.Save(cfg.RegionCode, cats); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving categories: %v\n", err)
			return 1
		}
		logger.Donef("Saved %d categories for %s", len(cats), cfg.RegionCode)
	}

	cats, cached := cache.Categories()
	if !cached {
		fmt.Fprintln(os.Stderr, "Showing built-in categories; run with --refresh to fetch the current list.")
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCATEGORY")
	for _, label := range cats.Labels() {
		fmt.Fprintf(w, "%s\t%s\n", cats[label], label)
	}
	w.Flush()
	return 0
}

// parsePublishAt accepts RFC3339 or a wall clock time in loc.
func parsePublishAt(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02 15:04", "2006-01-02T15:04"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

func formatKey(k storage.HistoryKey) string {
	t, err := k.Time()
	if err != nil {
		return k.String()
	}
	return t.Local().Format("2006-01-02 15:04")
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
