// Package youtube implements upload.Remote against the YouTube Data API v3.
//
// Resumable upload traffic goes through the repo's http client so that each
// chunk is retried and rate limited individually, while metadata calls
// (search, videos, channels, playlist items and categories) use the
// generated API client.
package youtube

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	ythttp "ytupload/http"
	"ytupload/internal/metrics"
	"ytupload/internal/retry"
	"ytupload/upload"
)

// DefaultUploadURL is the resumable upload endpoint for videos.insert.
const DefaultUploadURL = "https://www.googleapis.com/upload/youtube/v3/videos"

// Defaults for listing calls.
const (
	DefaultSearchMaxResults  = 10
	DefaultScheduleScanCount = 50
	maxPageSize              = 50
)

// Config configures a Client.
type Config struct {
	// UploadURL overrides the resumable upload endpoint.
	UploadURL string
	// APIEndpoint overrides the Data API base URL. Empty uses the default.
	APIEndpoint string
	// SearchMaxResults bounds the search used to find a partial upload.
	SearchMaxResults int
	// Retry governs chunk and API call retries.
	Retry retry.Config
	// HTTP configures the upload transport.
	HTTP *ythttp.Config
	// QuotaReserve is the number of quota units below which the client
	// reports the quota as exhausted.
	QuotaReserve int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		UploadURL:        DefaultUploadURL,
		SearchMaxResults: DefaultSearchMaxResults,
		Retry:            retry.DefaultConfig(),
		HTTP:             ythttp.DefaultConfig(),
	}
}

// Client talks to YouTube on behalf of one authenticated account.
type Client struct {
	service *yt.Service
	upload  *ythttp.Client
	config  Config
	logger  log.Logger
	quota   *quotaTracker
}

var _ upload.Remote = (*Client)(nil)

// New creates a client that authenticates every request through
// httpClient, normally the result of Authenticate.
func New(ctx context.Context, httpClient *http.Client, cfg Config, logger log.Logger) (*Client, error) {
	if httpClient == nil {
		return nil, fmt.Errorf("youtube: http client required")
	}
	if logger == nil {
		logger = log.NewLogger()
	}
	if cfg.UploadURL == "" {
		cfg.UploadURL = DefaultUploadURL
	}
	if cfg.SearchMaxResults <= 0 {
		cfg.SearchMaxResults = DefaultSearchMaxResults
	}
	if cfg.HTTP == nil {
		cfg.HTTP = ythttp.DefaultConfig()
	}

	httpCfg := *cfg.HTTP
	if httpCfg.CircuitBreaker.OnStateChange == nil {
		httpCfg.CircuitBreaker.OnStateChange = func(endpoint string, from, to ythttp.CircuitState) {
			logger.Warnf("Circuit for %s changed from %s to %s", endpoint, from, to)
		}
	}

	opts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if cfg.APIEndpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.APIEndpoint))
	}
	service, err := yt.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create youtube service: %w", err)
	}

	return &Client{
		service: service,
		upload:  ythttp.New(&httpCfg, ythttp.WithHTTPClient(httpClient)),
		config:  cfg,
		logger:  logger,
		quota:   newQuotaTracker(cfg.QuotaReserve, time.Now, logger),
	}, nil
}

// EstimatedQuota returns the estimated remaining daily quota units.
func (c *Client) EstimatedQuota() int {
	return c.quota.Remaining()
}

// QuotaExhausted reports whether the estimated quota fell below the
// reserve, or the API rejected a call for lack of quota.
func (c *Client) QuotaExhausted() bool {
	return c.quota.Exhausted()
}

// retryConfig returns the retry policy for op, reporting each retry.
func (c *Client) retryConfig(op string) retry.Config {
	cfg := c.config.Retry
	cfg.OnRetry = func(attempt int, err error, wait time.Duration) {
		metrics.RetriesTotal.WithLabelValues(op).Inc()
		c.logger.Debugf("%s failed (attempt %d), retrying in %s: %v", op, attempt, wait.Round(time.Millisecond), err)
	}
	return cfg
}

// Close releases idle upload connections.
func (c *Client) Close() error {
	return c.upload.Close()
}
