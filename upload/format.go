package upload

import (
	"fmt"
	"strings"
	"time"

	"github.com/docker/go-units"
)

// VideoURL returns the watch page of a video.
func VideoURL(id string) string {
	return "https://www.youtube.com/watch?v=" + id
}

// StudioURL returns the YouTube Studio edit page of a video.
func StudioURL(id string) string {
	return "https://studio.youtube.com/video/" + id + "/edit"
}

// FormatSize renders a byte count for humans.
func FormatSize(n int64) string {
	return units.HumanSizeWithPrecision(float64(n), 3)
}

// FormatDuration renders d as "Xs", "Xm Ys" or "Xh Ym".
func FormatDuration(d time.Duration) string {
	secs := int64(d / time.Second)
	switch {
	case secs < 60:
		return fmt.Sprintf("%ds", secs)
	case secs < 3600:
		return fmt.Sprintf("%dm %ds", secs/60, secs%60)
	default:
		return fmt.Sprintf("%dh %dm", secs/3600, (secs%3600)/60)
	}
}

// FormatScheduleTime renders a local publish time for messages.
func FormatScheduleTime(t time.Time) string {
	return t.Local().Format("January 02, 2006 at 03:04 PM")
}

// Summary describes a completed upload for the user.
func Summary(req Request, objectID string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", req.Title)
	if req.Privacy == PrivacyScheduled && req.PublishAt != nil {
		fmt.Fprintf(&b, "Scheduled to publish: %s\n", FormatScheduleTime(*req.PublishAt))
	} else {
		fmt.Fprintf(&b, "Privacy: %s\n", req.Privacy)
	}
	fmt.Fprintf(&b, "Video URL: %s\n", VideoURL(objectID))
	fmt.Fprintf(&b, "Studio URL: %s\n", StudioURL(objectID))
	return b.String()
}
