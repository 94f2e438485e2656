package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/wfmiles/miles-ledger/internal/model"
	"github.com/wfmiles/miles-ledger/pkg/logger"
	"github.com/wfmiles/miles-ledger/pkg/prom"
	"github.com/wfmiles/miles-ledger/pkg/redis"
)

const defaultTTL = 5 * time.Minute

// CpmCache keeps the per-pair position answer in redis so the balance read
// path skips the checkpoint-plus-delta scan on repeat lookups. Every writer
// invalidates the pairs it touched; entries also expire on their own, so a
// missed invalidation degrades to staleness, never to a wrong permanent
// answer.
type CpmCache struct {
	rdb redis.RedisAdapter
	ttl time.Duration
}

func NewCpmCache(rdb redis.RedisAdapter, ttl time.Duration) *CpmCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &CpmCache{rdb: rdb, ttl: ttl}
}

func key(accountID, programID int64) string {
	return fmt.Sprintf("cpm:%d:%d", accountID, programID)
}

func (c *CpmCache) Get(_ context.Context, accountID, programID int64) (*model.CpmPosition, bool) {
	raw, err := c.rdb.Get(key(accountID, programID))
	if err != nil {
		if !errors.Is(err, redis.NilError) {
			logger.Warn("cpm cache read failed", "error", err)
		}
		prom.IncCpmCacheLookup("miss")
		return nil, false
	}
	var pos model.CpmPosition
	if err := json.Unmarshal(raw, &pos); err != nil {
		// Corrupt entry, drop it and fall through to the store.
		_ = c.rdb.Del(key(accountID, programID))
		prom.IncCpmCacheLookup("miss")
		return nil, false
	}
	prom.IncCpmCacheLookup("hit")
	return &pos, true
}

func (c *CpmCache) Set(_ context.Context, accountID, programID int64, pos *model.CpmPosition) {
	raw, err := json.Marshal(pos)
	if err != nil {
		return
	}
	if err := c.rdb.Set(key(accountID, programID), raw, c.ttl); err != nil {
		logger.Warn("cpm cache write failed", "error", err)
	}
}

func (c *CpmCache) Invalidate(_ context.Context, accountID, programID int64) {
	if err := c.rdb.Del(key(accountID, programID)); err != nil {
		logger.Warn("cpm cache invalidation failed", "error", err)
	}
}
