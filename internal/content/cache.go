package content

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	logx "syndicate/pkg/logx"
)

const cacheKeyPrefix = "syndicate:content:"

// CachedProvider keeps recently fetched items in redis so a bulk run over the
// same content ids does not hammer the CMS. Cache errors never fail a lookup;
// they fall through to the wrapped provider.
type CachedProvider struct {
	next Provider
	rdb  redis.UniversalClient
	ttl  time.Duration
	log  logx.Logger
}

func NewCachedProvider(next Provider, rdb redis.UniversalClient, ttl time.Duration, log logx.Logger) *CachedProvider {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &CachedProvider{next: next, rdb: rdb, ttl: ttl, log: log}
}

func (p *CachedProvider) GetContent(ctx context.Context, id string) (Item, error) {
	key := cacheKeyPrefix + id

	b, err := p.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var it Item
		if jerr := json.Unmarshal(b, &it); jerr == nil {
			return it, nil
		}
		p.log.Debug("content cache entry corrupt; refetching", logx.String("id", id))
	case !errors.Is(err, redis.Nil):
		p.log.Debug("content cache read failed", logx.String("id", id), logx.Err(err))
	}

	it, err := p.next.GetContent(ctx, id)
	if err != nil {
		return Item{}, err
	}
	if b, err := json.Marshal(it); err == nil {
		if err := p.rdb.Set(ctx, key, b, p.ttl).Err(); err != nil {
			p.log.Debug("content cache write failed", logx.String("id", id), logx.Err(err))
		}
	}
	return it, nil
}

// Invalidator is implemented by providers that keep a local copy of items.
type Invalidator interface {
	Invalidate(ctx context.Context, id string) error
}

var _ Invalidator = (*CachedProvider)(nil)

// Invalidate drops the cached copy of id, e.g. after the CMS republishes it.
func (p *CachedProvider) Invalidate(ctx context.Context, id string) error {
	return p.rdb.Del(ctx, cacheKeyPrefix+id).Err()
}
