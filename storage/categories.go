package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"
)

// DefaultCategoryTTL is how long a fetched category list stays fresh.
const DefaultCategoryTTL = 7 * 24 * time.Hour

// DefaultCategoryID is used when a category label is unknown (Entertainment).
const DefaultCategoryID = "24"

// Categories maps a category label to its YouTube category id.
type Categories map[string]string

// DefaultCategories returns the built-in category list used when no fresh
// cache is available.
func DefaultCategories() Categories {
	return Categories{
		"Film & Animation":      "1",
		"Autos & Vehicles":      "2",
		"Music":                 "10",
		"Pets & Animals":        "15",
		"Sports":                "17",
		"Travel & Events":       "19",
		"Gaming":                "20",
		"People & Blogs":        "22",
		"Comedy":                "23",
		"Entertainment":         "24",
		"News & Politics":       "25",
		"Howto & Style":         "26",
		"Education":             "27",
		"Science & Technology":  "28",
		"Nonprofits & Activism": "29",
	}
}

// Labels returns the category labels in sorted order.
func (c Categories) Labels() []string {
	labels := make([]string, 0, len(c))
	for label := range c {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// IDFor returns the id for label, falling back to DefaultCategoryID.
func (c Categories) IDFor(label string) string {
	if id, ok := c[label]; ok && id != "" {
		return id
	}
	return DefaultCategoryID
}

// categoryFile is the on-disk layout of the cache.
type categoryFile struct {
	FetchedAt  time.Time  `json:"fetched_at"`
	RegionCode string     `json:"region_code"`
	Categories Categories `json:"categories"`
}

// CategoryFetcher retrieves the assignable categories for a region.
type CategoryFetcher func(ctx context.Context, regionCode string) (Categories, error)

// CategoryCache is a file-backed cache of the category list.
type CategoryCache struct {
	path string
	ttl  time.Duration
	now  func() time.Time
	mu   sync.Mutex
}

// NewCategoryCache creates a cache at path. A non-positive ttl selects
// DefaultCategoryTTL.
func NewCategoryCache(path string, ttl time.Duration) *CategoryCache {
	if ttl <= 0 {
		ttl = DefaultCategoryTTL
	}
	return &CategoryCache{path: path, ttl: ttl, now: time.Now}
}

// SetClock overrides the cache clock. Used by tests.
func (c *CategoryCache) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

func (c *CategoryCache) load() (*categoryFile, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &StorageError{Op: "read", Entity: "categories", Err: ErrNotFound}
		}
		return nil, &StorageError{Op: "read", Entity: "categories", Err: err}
	}
	var f categoryFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, &StorageError{Op: "read", Entity: "categories", Err: fmt.Errorf("%w: %v", ErrStorageCorrupt, err)}
	}
	return &f, nil
}

func (c *CategoryCache) fresh(f *categoryFile) bool {
	return f != nil && len(f.Categories) > 0 && c.now().Sub(f.FetchedAt) < c.ttl
}

// Categories returns the cached list when it is fresh, and
// DefaultCategories otherwise. The second result reports whether the cache
// was used.
func (c *CategoryCache) Categories() (Categories, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := c.load()
	if err != nil || !c.fresh(f) {
		return DefaultCategories(), false
	}
	return f.Categories, true
}

// Stale reports whether the cache is missing, unreadable or expired.
func (c *CategoryCache) Stale() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := c.load()
	return err != nil || !c.fresh(f)
}

// Save writes categories to the cache with the current time.
func (c *CategoryCache) Save(regionCode string, categories Categories) error {
	if len(categories) == 0 {
		return &StorageError{Op: "write", Entity: "categories", Err: ErrInvalidInput}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	err := WriteJSONFile(c.path, categoryFile{
		FetchedAt:  c.now(),
		RegionCode: regionCode,
		Categories: categories,
	})
	if err != nil {
		return &StorageError{Op: "write", Entity: "categories", Err: err}
	}
	return nil
}

// RefreshIfStale fetches and saves the category list when the cache is stale.
// It reports whether a refresh happened. Fetch errors are returned to the
// caller, who may keep using Categories() and its fallback.
func (c *CategoryCache) RefreshIfStale(ctx context.Context, regionCode string, fetch CategoryFetcher) (bool, error) {
	if !c.Stale() {
		return false, nil
	}
	categories, err := fetch(ctx, regionCode)
	if err != nil {
		return false, fmt.Errorf("fetch categories: %w", err)
	}
	if len(categories) == 0 {
		return false, fmt.Errorf("fetch categories: %w", ErrNotFound)
	}
	if err := c.Save(regionCode, categories); err != nil {
		return false, err
	}
	return true, nil
}
