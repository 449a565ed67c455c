package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"breathe/internal/config"
	"breathe/internal/metrics"
	"breathe/internal/models"
)

// Runner produces a fresh snapshot for one zone.
type Runner interface {
	Run(ctx context.Context, zone config.Zone) (*models.ZoneSnapshot, error)
}

// SnapshotPublisher receives every successfully refreshed snapshot.
type SnapshotPublisher interface {
	Publish(ctx context.Context, snap *models.ZoneSnapshot) error
}

// Cache memoizes the last successful snapshot per zone with bounded
// staleness. Entries are replaced whole; a failed refresh serves the
// previous entry when one exists.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*models.ZoneSnapshot

	runner Runner
	zones  []config.Zone
	ttl    time.Duration
	pause  time.Duration

	// Publisher, when set, receives refreshed snapshots. Now is
	// overridable for tests.
	Publisher SnapshotPublisher
	Now       func() time.Time
}

func NewCache(runner Runner, zones []config.Zone, ttl, pause time.Duration) *Cache {
	return &Cache{
		entries: make(map[string]*models.ZoneSnapshot),
		runner:  runner,
		zones:   zones,
		ttl:     ttl,
		pause:   pause,
		Now:     time.Now,
	}
}

// Get returns the zone's snapshot, refreshing when the cached entry is
// missing, expired, or a refresh is forced. On refresh failure the stale
// entry is served when present.
func (c *Cache) Get(ctx context.Context, zoneID string, forceRefresh bool) (*models.ZoneSnapshot, error) {
	zone, ok := c.zoneByID(zoneID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownZone, zoneID)
	}

	cached := c.lookup(zoneID)
	if cached != nil && !forceRefresh && c.Now().Unix()-cached.TimestampUnix < int64(c.ttl.Seconds()) {
		metrics.CacheRequestsTotal.WithLabelValues("hit").Inc()
		return cached, nil
	}

	metrics.CacheRequestsTotal.WithLabelValues("miss").Inc()
	snap, err := c.runner.Run(ctx, zone)
	if err != nil {
		if cached != nil {
			log.Printf("Refresh failed for %s, serving cached snapshot: %v", zoneID, err)
			metrics.CacheRequestsTotal.WithLabelValues("stale_serve").Inc()
			return cached, nil
		}
		metrics.CacheRequestsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	c.mu.Lock()
	c.entries[zoneID] = snap
	c.mu.Unlock()

	if c.Publisher != nil {
		if err := c.Publisher.Publish(ctx, snap); err != nil {
			log.Printf("Failed to publish snapshot for %s: %v", zoneID, err)
		}
	}

	return snap, nil
}

func (c *Cache) lookup(zoneID string) *models.ZoneSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[zoneID]
}

func (c *Cache) zoneByID(id string) (config.Zone, bool) {
	for _, z := range c.zones {
		if z.ID == id {
			return z, true
		}
	}
	return config.Zone{}, false
}

// Start drives periodic background refreshes of every zone until the
// context is cancelled. The first cycle runs immediately.
func (c *Cache) Start(ctx context.Context) {
	log.Printf("--- Background refresh started (interval %s) ---", c.ttl)
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()

	for {
		c.RefreshAll(ctx)
		select {
		case <-ctx.Done():
			log.Printf("Background refresh stopped: %v", ctx.Err())
			return
		case <-ticker.C:
		}
	}
}

// RefreshAll force-refreshes every configured zone sequentially, pausing
// briefly between zones so upstream sources are not hammered.
func (c *Cache) RefreshAll(ctx context.Context) {
	for _, zone := range c.zones {
		if ctx.Err() != nil {
			return
		}
		if _, err := c.Get(ctx, zone.ID, true); err != nil {
			log.Printf("Failed to refresh %s: %v", zone.ID, err)
		} else {
			log.Printf("✓ Refreshed %s", zone.ID)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.pause):
		}
	}
}
