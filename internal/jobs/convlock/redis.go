package convlock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a lease lock: SET NX PX with a random token, released only by the
// holder. TTL must exceed the longest critical section.
type Redis struct {
	rdb    *goredis.Client
	prefix string
	ttl    time.Duration
	retry  time.Duration
}

func NewRedis(rdb *goredis.Client, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = "convlock:"
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Redis{rdb: rdb, prefix: prefix, ttl: ttl, retry: 100 * time.Millisecond}
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	if r == nil || r.rdb == nil {
		return nil, errors.New("convlock: redis not configured")
	}
	full := r.prefix + key
	token := uuid.NewString()

	for {
		ok, err := r.rdb.SetNX(ctx, full, token, r.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		t := time.NewTimer(r.retry)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			rctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = releaseScript.Run(rctx, r.rdb, []string{full}, token).Err()
		})
	}, nil
}
