package media

import (
	"context"
	"time"

	"github.com/socialnet/backend/internal/cache"
	"github.com/socialnet/backend/internal/logger"
)

const (
	keyRecord = "media:record:"

	DefaultCacheTTL = 30 * time.Second
)

// CachedStore fronts a Store with Redis for the enricher's batch lookups.
// Records still transcoding are never cached: the completion flip is the only
// change a record sees, so a cached copy can never be stale. MarkTranscoded
// writes through and evicts anyway.
type CachedStore struct {
	Store
	cache *cache.Cache
	ttl   time.Duration
	log   *logger.Logger
}

func NewCachedStore(store Store, c *cache.Cache, ttl time.Duration) *CachedStore {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedStore{
		Store: store,
		cache: c,
		ttl:   ttl,
		log:   logger.Default().WithComponent("media-cache"),
	}
}

// FindByPublicIDs serves hits from Redis and loads the misses from the
// backing store in one call. Redis errors fall back to the store.
func (s *CachedStore) FindByPublicIDs(ctx context.Context, publicIDs []string) (map[string]*Record, error) {
	keys := make([]string, len(publicIDs))
	for i, id := range publicIDs {
		keys[i] = keyRecord + id
	}

	hits, err := cache.GetJSONMulti[Record](ctx, s.cache, keys)
	if err != nil {
		s.log.Warn(ctx, "media cache read failed", err)
		return s.Store.FindByPublicIDs(ctx, publicIDs)
	}

	out := make(map[string]*Record, len(publicIDs))
	var misses []string
	for _, id := range publicIDs {
		if rec, ok := hits[keyRecord+id]; ok {
			rec := rec
			out[id] = &rec
			continue
		}
		misses = append(misses, id)
	}
	if len(misses) == 0 {
		return out, nil
	}

	loaded, err := s.Store.FindByPublicIDs(ctx, misses)
	if err != nil {
		return nil, err
	}

	fill := make(map[string]Record, len(loaded))
	for id, rec := range loaded {
		out[id] = rec
		if !rec.IsTranscoding {
			fill[keyRecord+id] = *rec
		}
	}
	if len(fill) == 0 {
		return out, nil
	}
	if err := cache.SetJSONMulti(ctx, s.cache, fill, s.ttl); err != nil {
		s.log.Warn(ctx, "media cache fill failed", err)
	}
	return out, nil
}

func (s *CachedStore) MarkTranscoded(ctx context.Context, jobID, url string) (*Record, error) {
	rec, err := s.Store.MarkTranscoded(ctx, jobID, url)
	if err != nil {
		return nil, err
	}
	s.evict(ctx, rec.PublicID)
	return rec, nil
}

func (s *CachedStore) evict(ctx context.Context, publicID string) {
	if err := s.cache.Delete(ctx, keyRecord+publicID); err != nil {
		s.log.Warn(ctx, "media cache eviction failed", err, logger.Fields{"public_id": publicID})
	}
}
