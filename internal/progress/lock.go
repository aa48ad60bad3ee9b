package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// ErrLocked is returned when another worker holds the book's stage lock
var ErrLocked = errors.New("stage lock held by another worker")

// ErrLockLost is returned when the lock expired or was taken over
var ErrLockLost = errors.New("stage lock lost")

var refreshScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LockKey is the Redis key of a book's stage lock
func LockKey(bookID string) string {
	return "book:" + bookID + ":stage-lock"
}

// Locker hands out per-book stage locks
type Locker struct {
	rdb *goredis.Client
}

// NewLocker creates a new Locker
func NewLocker(rdb *goredis.Client) *Locker {
	return &Locker{rdb: rdb}
}

// Lock is a held stage lock
type Lock struct {
	rdb   *goredis.Client
	key   string
	token string
	ttl   time.Duration
}

// Acquire takes the book's stage lock for ttl or returns ErrLocked
func (l *Locker) Acquire(ctx context.Context, bookID string, ttl time.Duration) (*Lock, error) {
	lock := &Lock{
		rdb:   l.rdb,
		key:   LockKey(bookID),
		token: uuid.NewString(),
		ttl:   ttl,
	}

	ok, err := l.rdb.SetNX(ctx, lock.key, lock.token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire stage lock: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}

	return lock, nil
}

// Refresh extends the lock by its ttl
func (lk *Lock) Refresh(ctx context.Context) error {
	n, err := refreshScript.Run(ctx, lk.rdb, []string{lk.key}, lk.token, lk.ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("failed to refresh stage lock: %w", err)
	}
	if n == 0 {
		return ErrLockLost
	}
	return nil
}

// Release frees the lock if it is still ours
func (lk *Lock) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, lk.rdb, []string{lk.key}, lk.token).Int64()
	if err != nil {
		return fmt.Errorf("failed to release stage lock: %w", err)
	}
	if n == 0 {
		return ErrLockLost
	}
	return nil
}
