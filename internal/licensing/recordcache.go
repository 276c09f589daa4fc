package licensing

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"licsvc/internal/directory"
	"licsvc/pkg/contracts/domain"
)

// RecordCacheConfig holds the two-tier cache settings.
type RecordCacheConfig struct {
	OnlineTTL  time.Duration
	OfflineTTL time.Duration
	MaxEntries int
}

// RecordCacheStats is a point-in-time snapshot of cache counters, surfaced
// through the health detail endpoint.
type RecordCacheStats struct {
	OnlineEntries  int     `json:"online_entries"`
	OfflineEntries int     `json:"offline_entries"`
	Hits           int64   `json:"hits"`
	StaleHits      int64   `json:"stale_hits"`
	Misses         int64   `json:"misses"`
	HitRatio       float64 `json:"hit_ratio"`
}

// RecordCache is the two-tier entitlement cache. The online tier is a
// short-TTL freshness signal; the offline tier is the long-TTL
// stale-but-usable copy. The tiers are two independent TTL+LRU stores kept
// equal on write; the deliberate asymmetry is the cold fill, which
// populates only the offline tier so the next read immediately triggers a
// background refresh cycle.
type RecordCache struct {
	online  *expirable.LRU[string, *domain.EntitlementRecord]
	offline *expirable.LRU[string, *domain.EntitlementRecord]
	repo    Repository
	pool    *RefreshPool
	logger  *slog.Logger
	metrics *Metrics

	hits      atomic.Int64
	staleHits atomic.Int64
	misses    atomic.Int64
}

// NewRecordCache builds the cache around a repository and a refresh pool.
func NewRecordCache(cfg RecordCacheConfig, repo Repository, pool *RefreshPool, logger *slog.Logger, metrics *Metrics) *RecordCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecordCache{
		online:  expirable.NewLRU[string, *domain.EntitlementRecord](cfg.MaxEntries, nil, cfg.OnlineTTL),
		offline: expirable.NewLRU[string, *domain.EntitlementRecord](cfg.MaxEntries, nil, cfg.OfflineTTL),
		repo:    repo,
		pool:    pool,
		logger:  logger.With(slog.String("component", "recordcache")),
		metrics: metrics,
	}
}

// Get returns the entitlement record for userID.
//
// Offline hit + online hit: fresh; the offline copy is returned.
// Offline hit + online miss: the freshness window lapsed; the possibly
// stale offline copy is returned immediately and a background refresh is
// scheduled. The caller never blocks on the directory once a value has been
// seen at least once.
// Offline miss: synchronous directory fetch; on success only the offline
// tier is populated, on failure the error propagates.
func (c *RecordCache) Get(ctx context.Context, userID string) (*domain.EntitlementRecord, error) {
	if record, ok := c.offline.Get(userID); ok {
		if _, fresh := c.online.Get(userID); fresh {
			c.hits.Add(1)
			c.observeHit("online")
			return record.Clone(), nil
		}
		c.staleHits.Add(1)
		c.observeHit("offline")
		c.scheduleRefresh(userID)
		return record.Clone(), nil
	}

	c.misses.Add(1)
	c.observeMiss()

	record, err := c.repo.GetEntitlement(ctx, userID)
	if err != nil {
		return nil, err
	}
	c.offline.Add(userID, record.Clone())
	return record, nil
}

// Put writes a record into both tiers. Used after a successful policy
// evaluation that mutated the record server-side.
func (c *RecordCache) Put(record *domain.EntitlementRecord) {
	snapshot := record.Clone()
	c.online.Add(record.UserID, snapshot)
	c.offline.Add(record.UserID, snapshot)
}

// Evict removes a user's record from both tiers.
func (c *RecordCache) Evict(userID string) {
	c.online.Remove(userID)
	c.offline.Remove(userID)
}

// Offline returns the offline-tier record if present, bypassing the
// refresh-ahead machinery. This is the stale-but-available degradation path
// used when the directory is unreachable.
func (c *RecordCache) Offline(userID string) (*domain.EntitlementRecord, bool) {
	record, ok := c.offline.Get(userID)
	if !ok {
		return nil, false
	}
	return record.Clone(), true
}

// Stats returns current cache counters.
func (c *RecordCache) Stats() RecordCacheStats {
	hits := c.hits.Load()
	stale := c.staleHits.Load()
	misses := c.misses.Load()
	total := hits + stale + misses
	ratio := float64(0)
	if total > 0 {
		ratio = float64(hits+stale) / float64(total)
	}
	return RecordCacheStats{
		OnlineEntries:  c.online.Len(),
		OfflineEntries: c.offline.Len(),
		Hits:           hits,
		StaleHits:      stale,
		Misses:         misses,
		HitRatio:       ratio,
	}
}

// scheduleRefresh submits a fire-and-forget directory refresh. Concurrent
// submissions for the same key are tolerated rather than deduplicated:
// directory reads are side-effect-free and the overwrite is idempotent.
func (c *RecordCache) scheduleRefresh(userID string) {
	c.pool.Submit(userID, func(ctx context.Context) {
		record, err := c.repo.GetEntitlement(ctx, userID)
		switch {
		case err == nil:
			c.Put(record)
		case errors.Is(err, directory.ErrNotFound):
			// The entity no longer exists; drop it from both tiers so the
			// next request takes the cold path and fails authoritatively.
			c.Evict(userID)
			c.logger.Info("entitlement gone, evicted from cache",
				slog.String("user_id", userID))
		default:
			// Leave both tiers untouched. The stale value keeps serving
			// until the directory recovers or the offline TTL lapses.
			c.logger.Warn("background refresh failed",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
	})
}

func (c *RecordCache) observeHit(tier string) {
	if c.metrics != nil {
		c.metrics.CacheHits.WithLabelValues(tier).Inc()
	}
}

func (c *RecordCache) observeMiss() {
	if c.metrics != nil {
		c.metrics.CacheMisses.Inc()
	}
}
