package storage

import (
	"context"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

// generationTTL bounds how long an untouched sprint keeps its eviction
// counter. A read spanning longer than this may repopulate a stale board.
const generationTTL = 24 * time.Hour

// storeIfCurrent writes the board snapshot only while the sprint generation
// still matches the one the reader started from.
var storeIfCurrent = redis.NewScript(`
local gen = redis.call("GET", KEYS[1]) or "0"
if gen ~= ARGV[1] then
	return 0
end
redis.call("SET", KEYS[2], ARGV[2], "PX", ARGV[3])
return 1
`)

// BoardCache keeps the issue list of recently viewed sprint boards in redis.
// Every eviction bumps a per-sprint generation, and snapshots read before
// the bump are never written back.
type BoardCache struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewBoardCache creates a BoardCache using the provided Redis client and TTL.
// A zero TTL disables storing.
func NewBoardCache(client *redis.Client, ttl time.Duration) *BoardCache {
	if ttl < 0 {
		ttl = 0
	}
	return &BoardCache{redis: client, ttl: ttl}
}

// LoadBoard returns the cached board of a sprint. On a miss it returns the
// generation to pass to StoreBoard; -1 means the snapshot must not be stored.
func (c *BoardCache) LoadBoard(ctx context.Context, sprintID string) ([]domain.Issue, int64, bool) {
	if c.redis == nil {
		return nil, -1, false
	}
	vals, err := c.redis.MGet(ctx, generationKey(sprintID), boardCacheKey(sprintID)).Result()
	if err != nil {
		// On redis errors fall back to the backing storage without failing.
		return nil, -1, false
	}
	gen := int64(0)
	if raw, ok := vals[0].(string); ok {
		if gen, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return nil, -1, false
		}
	}
	data, ok := vals[1].(string)
	if !ok {
		return nil, gen, false
	}
	var issues []domain.Issue
	if err := sonic.UnmarshalString(data, &issues); err != nil {
		_ = c.redis.Del(ctx, boardCacheKey(sprintID)).Err()
		return nil, gen, false
	}
	return issues, gen, true
}

// StoreBoard caches issues read at generation gen, unless the sprint was
// evicted in the meantime.
func (c *BoardCache) StoreBoard(ctx context.Context, sprintID string, gen int64, issues []domain.Issue) {
	if c.redis == nil || c.ttl == 0 || gen < 0 {
		return
	}
	data, err := sonic.Marshal(issues)
	if err != nil {
		return
	}
	keys := []string{generationKey(sprintID), boardCacheKey(sprintID)}
	stored, err := storeIfCurrent.Run(ctx, c.redis, keys, strconv.FormatInt(gen, 10), data, c.ttl.Milliseconds()).Int()
	if err != nil {
		log.WithError(err).WithField("sprint", sprintID).Debug("board cache store failed")
		return
	}
	if stored == 0 {
		log.WithField("sprint", sprintID).Debug("board changed while reading, snapshot not cached")
	}
}

func (c *BoardCache) Evict(ctx context.Context, sprintIDs ...string) {
	if c.redis == nil || len(sprintIDs) == 0 {
		return
	}
	_, err := c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range sprintIDs {
			pipe.Incr(ctx, generationKey(id))
			pipe.Expire(ctx, generationKey(id), generationTTL)
			pipe.Del(ctx, boardCacheKey(id))
		}
		return nil
	})
	if err != nil {
		log.WithError(err).WithField("sprints", sprintIDs).Warn("board cache eviction failed")
	}
}

func boardCacheKey(sprintID string) string {
	return "board:" + sprintID
}

func generationKey(sprintID string) string {
	return "board-gen:" + sprintID
}
