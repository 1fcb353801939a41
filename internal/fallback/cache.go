package fallback

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/schoolhub/schoolhub/internal/core"
	"github.com/schoolhub/schoolhub/internal/notifications"
	"github.com/schoolhub/schoolhub/internal/store"
)

// KeyNotifications is the query key for the notification list.
const KeyNotifications = "notifications"

// FetchFunc loads a query and pushes the result wherever it belongs.
type FetchFunc func(ctx context.Context) error

type query struct {
	fetch     FetchFunc
	mu        sync.Mutex
	fetchedAt time.Time
	lastErr   error
}

// QueryCache tracks named fetches so a mutation can invalidate them by key.
type QueryCache struct {
	// StaleTime is how long a successful Fetch stays fresh.
	StaleTime time.Duration
	Now       func() time.Time

	mu      sync.RWMutex
	queries map[string]*query
}

// NewQueryCache creates an empty cache.
func NewQueryCache(staleTime time.Duration) *QueryCache {
	return &QueryCache{
		StaleTime: staleTime,
		queries:   make(map[string]*query),
	}
}

func (c *QueryCache) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Register binds key to fetch, replacing any previous binding.
func (c *QueryCache) Register(key string, fetch FetchFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queries[key] = &query{fetch: fetch}
}

// Keys lists registered keys.
func (c *QueryCache) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.queries))
	for k := range c.queries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (c *QueryCache) lookup(key string) (*query, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.queries[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownQuery, key)
	}
	return q, nil
}

// Fetch runs the query unless it was fetched successfully within StaleTime.
func (c *QueryCache) Fetch(ctx context.Context, key string) error {
	q, err := c.lookup(key)
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.fetchedAt.IsZero() && q.lastErr == nil && c.now().Sub(q.fetchedAt) < c.StaleTime {
		return nil
	}
	return c.run(ctx, q)
}

// Invalidate refetches key now, whatever its age.
func (c *QueryCache) Invalidate(ctx context.Context, key string) error {
	q, err := c.lookup(key)
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return c.run(ctx, q)
}

// FetchedAt is the time of the last successful fetch of key.
func (c *QueryCache) FetchedAt(key string) (time.Time, bool) {
	q, err := c.lookup(key)
	if err != nil {
		return time.Time{}, false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.lastErr != nil || q.fetchedAt.IsZero() {
		return time.Time{}, false
	}
	return q.fetchedAt, true
}

func (c *QueryCache) run(ctx context.Context, q *query) error {
	err := q.fetch(ctx)
	q.lastErr = err
	if err == nil {
		q.fetchedAt = c.now()
	}
	return err
}

// Lister is the read side of the notifications API.
type Lister interface {
	ListNotifications(ctx context.Context, unreadOnly bool) ([]notifications.Record, error)
}

// NotificationsQuery fetches the list over REST and loads it into the store.
func NotificationsQuery(src Lister, d store.Dispatcher, z notifications.Normalizer) FetchFunc {
	return func(ctx context.Context) error {
		records, err := src.ListNotifications(ctx, false)
		if err != nil {
			return err
		}
		d.Dispatch(store.LoadNotifications{Notifications: z.FromRecords(records)})
		return nil
	}
}
