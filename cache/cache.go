package cache

import (
	"errors"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/wjorgensen/StreamDroplets/api/models"
	"github.com/wjorgensen/StreamDroplets/config"
)

var errMiss = errors.New("lru cache miss")

// LruCache holds api responses. Snapshot responses never change once a day is
// finalized and use the list settings; per-address responses move every day
// and use the detail settings.
type LruCache struct {
	lruSnapshot     *lru.LRU[string, *models.SnapshotResponse]
	lruUserSnapshot *lru.LRU[string, *models.UserSnapshotResponse]
	lruBalances     *lru.LRU[string, *models.BalancesResponse]
	lruIntegrations *lru.LRU[string, *models.IntegrationsResponse]
	lruEvents       *lru.LRU[string, *models.EventsResponse]
}

func NewLruCache(cfg config.CacheConfig) *LruCache {
	return &LruCache{
		lruSnapshot:     lru.NewLRU[string, *models.SnapshotResponse](cfg.ListSize, nil, cfg.ListExpireTime),
		lruUserSnapshot: lru.NewLRU[string, *models.UserSnapshotResponse](cfg.DetailSize, nil, cfg.ListExpireTime),
		lruBalances:     lru.NewLRU[string, *models.BalancesResponse](cfg.DetailSize, nil, cfg.DetailExpireTime),
		lruIntegrations: lru.NewLRU[string, *models.IntegrationsResponse](cfg.DetailSize, nil, cfg.DetailExpireTime),
		lruEvents:       lru.NewLRU[string, *models.EventsResponse](cfg.DetailSize, nil, cfg.DetailExpireTime),
	}
}

func get[V any](c *lru.LRU[string, V], key string) (V, error) {
	v, ok := c.Get(key)
	if !ok {
		var zero V
		return zero, errMiss
	}
	return v, nil
}

func (lc *LruCache) GetSnapshot(key string) (*models.SnapshotResponse, error) {
	return get(lc.lruSnapshot, key)
}

func (lc *LruCache) AddSnapshot(key string, data *models.SnapshotResponse) {
	lc.lruSnapshot.Add(key, data)
}

func (lc *LruCache) GetUserSnapshot(key string) (*models.UserSnapshotResponse, error) {
	return get(lc.lruUserSnapshot, key)
}

func (lc *LruCache) AddUserSnapshot(key string, data *models.UserSnapshotResponse) {
	lc.lruUserSnapshot.Add(key, data)
}

func (lc *LruCache) GetBalances(key string) (*models.BalancesResponse, error) {
	return get(lc.lruBalances, key)
}

func (lc *LruCache) AddBalances(key string, data *models.BalancesResponse) {
	lc.lruBalances.Add(key, data)
}

func (lc *LruCache) GetIntegrations(key string) (*models.IntegrationsResponse, error) {
	return get(lc.lruIntegrations, key)
}

func (lc *LruCache) AddIntegrations(key string, data *models.IntegrationsResponse) {
	lc.lruIntegrations.Add(key, data)
}

func (lc *LruCache) GetEvents(key string) (*models.EventsResponse, error) {
	return get(lc.lruEvents, key)
}

func (lc *LruCache) AddEvents(key string, data *models.EventsResponse) {
	lc.lruEvents.Add(key, data)
}
