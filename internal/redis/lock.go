package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if it still holds the caller's token,
// so an expired lock re-acquired by someone else is never released.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lock is a held lock. Release it with LockStore.Release.
type Lock struct {
	Key   string
	Token string
}

// LockStore handles distributed locking in Redis.
type LockStore struct {
	client *redis.Client
}

// NewLockStore creates a new LockStore.
func NewLockStore(client *redis.Client) *LockStore {
	return &LockStore{client: client}
}

// AcquireCheckoutLock serializes checkout creation for one customer.
// Returns nil if the lock is already held.
func (s *LockStore) AcquireCheckoutLock(ctx context.Context, customerID string, ttl time.Duration) (*Lock, error) {
	return s.acquire(ctx, fmt.Sprintf("lock:checkout:%s", customerID), ttl)
}

// AcquirePollerLock elects the instance running the next poll cycle.
// Returns nil if another instance holds it.
func (s *LockStore) AcquirePollerLock(ctx context.Context, ttl time.Duration) (*Lock, error) {
	return s.acquire(ctx, "lock:poller", ttl)
}

// Release releases a lock previously acquired by this store.
func (s *LockStore) Release(ctx context.Context, lock *Lock) error {
	if lock == nil {
		return nil
	}
	return releaseScript.Run(ctx, s.client, []string{lock.Key}, lock.Token).Err()
}

func (s *LockStore) acquire(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	token := uuid.NewString()

	ok, err := s.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	return &Lock{Key: key, Token: token}, nil
}
