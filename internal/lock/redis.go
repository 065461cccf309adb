package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "postsearch:lock:"

// releaseScript deletes the key only when it still holds our token, so an
// expired lock re-acquired by another replica is never released by us.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// Redis is a Locker backed by SET NX PX with an owner token.
type Redis struct {
	client  *redis.Client
	ownerID string
}

// NewRedis returns a Redis locker using client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client, ownerID: generateOwnerID()}
}

// generateOwnerID identifies this process: hostname:pid:random.
func generateOwnerID() string {
	hostname, _ := os.Hostname()
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return fmt.Sprintf("%s:%d:%s", hostname, os.Getpid(), hex.EncodeToString(b))
}

// Acquire sets the lock key if absent. The key expires after ttl so a
// crashed holder cannot wedge the lock.
func (l *Redis) Acquire(ctx context.Context, name string, ttl time.Duration) (ReleaseFunc, bool, error) {
	if ttl <= 0 {
		return nil, false, fmt.Errorf("lock: acquire %s: ttl must be positive", name)
	}
	key := keyPrefix + name
	token := l.ownerID + ":" + randomSuffix()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("lock: acquire %s: %w", name, err)
	}
	if !ok {
		return nil, false, nil
	}

	var once sync.Once
	var relErr error
	release := func(ctx context.Context) error {
		once.Do(func() {
			_, err := releaseScript.Run(ctx, l.client, []string{key}, token).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				relErr = fmt.Errorf("lock: release %s: %w", name, err)
			}
		})
		return relErr
	}
	return release, true, nil
}

// Name implements the readiness Pinger.
func (l *Redis) Name() string { return "redis" }

// Ping checks the Redis connection.
func (l *Redis) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// OwnerID returns the process identifier embedded in lock tokens.
func (l *Redis) OwnerID() string { return l.ownerID }

func randomSuffix() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
