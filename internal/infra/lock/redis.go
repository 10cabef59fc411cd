package lock

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned when another replica holds the lock.
var ErrNotAcquired = errors.New("lock is held by another process")

// Only the holder's token may delete the key.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisOpts struct {
	Addr        string
	Password    string
	DB          int
	DialTimeout time.Duration // default 5s
}

// NewRedisClient connects and pings Redis.
func NewRedisClient(opts RedisOpts) (*redis.Client, error) {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: opts.DialTimeout,
	})
	ctx, cancel := context.WithTimeout(context.Background(), opts.DialTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}

// RedisTickLock is a single-key lease that keeps notifier replicas from running
// the same tick concurrently.
type RedisTickLock struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

func NewRedisTickLock(client redis.UniversalClient, key string, ttl time.Duration) *RedisTickLock {
	key = strings.TrimSpace(key)
	if key == "" {
		key = "gymnotifier:tick"
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisTickLock{client: client, key: key, ttl: ttl}
}

// Acquire takes the lease or returns ErrNotAcquired. The returned release func
// removes the key only if it still carries this holder's token.
func (l *RedisTickLock) Acquire(ctx context.Context) (func(context.Context) error, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotAcquired
	}
	return func(ctx context.Context) error {
		return releaseScript.Run(ctx, l.client, []string{l.key}, token).Err()
	}, nil
}
