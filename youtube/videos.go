package youtube

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"google.golang.org/api/googleapi"
	yt "google.golang.org/api/youtube/v3"

	"ytupload/internal/retry"
	"ytupload/storage"
	"ytupload/upload"
)

// descriptionPrefixRunes is how much of a description is compared when
// matching search results, which return descriptions truncated.
const descriptionPrefixRunes = 100

// ErrNoChannel indicates the authenticated account has no channel.
var ErrNoChannel = errors.New("youtube: no channel for the authenticated account")

// FindRecentObjectMatching searches the account's most recent uploads for a
// video with the given title whose description starts like description.
// When publishAt is set the video's scheduled time must match as well. It
// returns "" when nothing matches.
func (c *Client) FindRecentObjectMatching(ctx context.Context, title, description, publishAt string) (string, error) {
	var results []*yt.SearchResult
	err := c.call(ctx, "search.list", costSearch, func(ctx context.Context) error {
		resp, err := c.service.Search.List([]string{"snippet"}).
			ForMine(true).
			Type("video").
			Order("date").
			MaxResults(int64(c.config.SearchMaxResults)).
			Context(ctx).
			Do()
		if err != nil {
			return err
		}
		results = resp.Items
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("search recent uploads: %w", err)
	}

	prefix := runePrefix(description, descriptionPrefixRunes)
	for _, item := range results {
		if item.Id == nil || item.Id.VideoId == "" || item.Snippet == nil {
			continue
		}
		if item.Snippet.Title != title {
			continue
		}
		if description != "" && !strings.HasPrefix(item.Snippet.Description, prefix) {
			continue
		}
		if publishAt != "" {
			scheduled, err := c.publishAt(ctx, item.Id.VideoId)
			if err != nil {
				return "", err
			}
			if normalizePublishAt(scheduled) != normalizePublishAt(publishAt) {
				continue
			}
		}
		return item.Id.VideoId, nil
	}
	return "", nil
}

func (c *Client) publishAt(ctx context.Context, id string) (string, error) {
	var publishAt string
	err := c.call(ctx, "videos.list", costList, func(ctx context.Context) error {
		resp, err := c.service.Videos.List([]string{"status"}).Id(id).Context(ctx).Do()
		if err != nil {
			return err
		}
		if len(resp.Items) > 0 && resp.Items[0].Status != nil {
			publishAt = resp.Items[0].Status.PublishAt
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("get status of video %s: %w", id, err)
	}
	return publishAt, nil
}

// DeleteObject deletes a video. It returns upload.ErrNotFound when the
// video does not exist and upload.ErrPermissionDenied when the account may
// not delete it.
func (c *Client) DeleteObject(ctx context.Context, id string) error {
	err := c.call(ctx, "videos.delete", costDelete, func(ctx context.Context) error {
		return c.service.Videos.Delete(id).Context(ctx).Do()
	})
	switch apiStatus(err) {
	case 0:
		if err != nil {
			return fmt.Errorf("delete video %s: %w", id, err)
		}
		c.logger.Debugf("Deleted video %s", id)
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("delete video %s: %w", id, upload.ErrNotFound)
	case http.StatusForbidden:
		return fmt.Errorf("delete video %s: %w", id, upload.ErrPermissionDenied)
	default:
		return fmt.Errorf("delete video %s: %w", id, err)
	}
}

// ListRecentScheduledItems returns the scheduled videos among the latest
// maxCount uploads of the account, in upload order.
func (c *Client) ListRecentScheduledItems(ctx context.Context, maxCount int) ([]upload.ScheduledItem, error) {
	if maxCount <= 0 {
		maxCount = DefaultScheduleScanCount
	}

	playlistID, err := c.uploadsPlaylist(ctx)
	if err != nil {
		return nil, err
	}
	ids, err := c.playlistVideoIDs(ctx, playlistID, maxCount)
	if err != nil {
		return nil, err
	}

	var items []upload.ScheduledItem
	for start := 0; start < len(ids); start += maxPageSize {
		end := min(start+maxPageSize, len(ids))
		var videos []*yt.Video
		err := c.call(ctx, "videos.list", costList, func(ctx context.Context) error {
			resp, err := c.service.Videos.List([]string{"status", "snippet"}).Id(ids[start:end]...).Context(ctx).Do()
			if err != nil {
				return err
			}
			videos = resp.Items
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("list videos: %w", err)
		}

		for _, v := range videos {
			if v.Status == nil || v.Status.PublishAt == "" {
				continue
			}
			at, err := ParsePublishAt(v.Status.PublishAt)
			if err != nil {
				c.logger.Warnf("Skipping video %s with unreadable publish time %q: %s", v.Id, v.Status.PublishAt, err)
				continue
			}
			item := upload.ScheduledItem{
				VideoID:        v.Id,
				PublishAt:      at,
				PublishAtLocal: at.In(time.Local),
				Raw:            v.Status.PublishAt,
			}
			if v.Snippet != nil {
				item.Title = v.Snippet.Title
			}
			items = append(items, item)
		}
	}
	return items, nil
}

func (c *Client) uploadsPlaylist(ctx context.Context) (string, error) {
	var playlistID string
	err := c.call(ctx, "channels.list", costList, func(ctx context.Context) error {
		resp, err := c.service.Channels.List([]string{"contentDetails"}).Mine(true).Context(ctx).Do()
		if err != nil {
			return err
		}
		if len(resp.Items) == 0 || resp.Items[0].ContentDetails == nil || resp.Items[0].ContentDetails.RelatedPlaylists == nil {
			return retry.Permanent(ErrNoChannel)
		}
		playlistID = resp.Items[0].ContentDetails.RelatedPlaylists.Uploads
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("get uploads playlist: %w", err)
	}
	return playlistID, nil
}

// playlistVideoIDs pages through a playlist until limit ids were read.
func (c *Client) playlistVideoIDs(ctx context.Context, playlistID string, limit int) ([]string, error) {
	var ids []string
	pageToken := ""
	for len(ids) < limit {
		var next string
		err := c.call(ctx, "playlistItems.list", costList, func(ctx context.Context) error {
			resp, err := c.service.PlaylistItems.List([]string{"contentDetails"}).
				PlaylistId(playlistID).
				MaxResults(int64(min(maxPageSize, limit-len(ids)))).
				PageToken(pageToken).
				Context(ctx).
				Do()
			if err != nil {
				return err
			}
			for _, item := range resp.Items {
				if item.ContentDetails != nil && item.ContentDetails.VideoId != "" {
					ids = append(ids, item.ContentDetails.VideoId)
				}
			}
			next = resp.NextPageToken
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("list uploads playlist: %w", err)
		}
		if next == "" {
			break
		}
		pageToken = next
	}
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// FetchCategories returns the assignable video categories of a region,
// keyed by label. It satisfies storage.CategoryFetcher.
func (c *Client) FetchCategories(ctx context.Context, regionCode string) (storage.Categories, error) {
	cats := storage.Categories{}
	err := c.call(ctx, "videoCategories.list", costList, func(ctx context.Context) error {
		resp, err := c.service.VideoCategories.List([]string{"snippet"}).RegionCode(regionCode).Context(ctx).Do()
		if err != nil {
			return err
		}
		for _, item := range resp.Items {
			if item.Snippet == nil || !item.Snippet.Assignable {
				continue
			}
			cats[item.Snippet.Title] = item.Id
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list video categories for %s: %w", regionCode, err)
	}
	return cats, nil
}

// call runs fn with the API retry policy and charges its quota cost once it
// succeeds.
func (c *Client) call(ctx context.Context, op string, cost int, fn func(context.Context) error) error {
	err := retry.Do(ctx, c.retryConfig(op), apiErrorClassifier, fn)
	if err != nil {
		if isQuotaError(err) {
			c.quota.markExhausted()
		}
		return err
	}
	c.quota.spend(cost)
	return nil
}

// apiErrorClassifier reports whether a Data API error is worth retrying.
func apiErrorClassifier(err error) bool {
	if err == nil || !retry.IsRetryable(err) {
		return false
	}
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		// Network errors and timeouts of a single attempt.
		return true
	}
	if apiErr.Code >= 500 || apiErr.Code == http.StatusTooManyRequests {
		return true
	}
	for _, item := range apiErr.Errors {
		switch item.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded":
			return true
		}
	}
	return false
}

func isQuotaError(err error) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	for _, item := range apiErr.Errors {
		if item.Reason == "quotaExceeded" || item.Reason == "dailyLimitExceeded" {
			return true
		}
	}
	return false
}

// apiStatus returns the HTTP status of a Data API error, or 0.
func apiStatus(err error) int {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}

// ParsePublishAt parses a publishAt value with or without fractional
// seconds and returns it in UTC.
func ParsePublishAt(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// normalizePublishAt makes "...00.000Z" and "...00Z" compare equal.
func normalizePublishAt(s string) string {
	if t, err := ParsePublishAt(s); err == nil {
		return t.Format(time.RFC3339Nano)
	}
	return strings.Replace(s, ".000Z", "Z", 1)
}

func runePrefix(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
