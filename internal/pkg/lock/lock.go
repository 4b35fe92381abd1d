// Package lock implements a TTL-bounded mutual-exclusion primitive over
// Redis: SET NX with a unique owner token to acquire, an atomic
// compare-and-delete script to release.
package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "lock:"

// unlockScript deletes the key only while it still holds our token. A plain
// read-then-delete is unsafe: the lock could expire and be re-acquired
// between the two calls, and the delete would remove the new holder's lock.
var unlockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

type Client struct {
	rdb redis.UniversalClient
}

func NewClient(rdb redis.UniversalClient) *Client {
	return &Client{rdb: rdb}
}

// Mutex is one acquisition attempt's handle. Each Mutex carries its own
// owner token, so releasing never affects a lock acquired by someone else.
type Mutex struct {
	rdb   redis.UniversalClient
	key   string
	token string
}

func (c *Client) NewMutex(name string) *Mutex {
	return &Mutex{
		rdb:   c.rdb,
		key:   keyPrefix + name,
		token: uuid.NewString(),
	}
}

// TryLock attempts to take ownership for ttl. False means another holder
// currently owns the key; that is a normal outcome, not an error.
func (m *Mutex) TryLock(ctx context.Context, ttl time.Duration) (bool, error) {
	return m.rdb.SetNX(ctx, m.key, m.token, ttl).Result()
}

// Unlock releases the lock if this Mutex still owns it. Releasing after the
// TTL already expired, or a lock held by someone else, is a no-op.
func (m *Mutex) Unlock(ctx context.Context) error {
	return unlockScript.Run(ctx, m.rdb, []string{m.key}, m.token).Err()
}
