package rediscache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/mmeshcher/campusmart/internal/ids"
)

// Locker выдаёт короткие эксклюзивные блокировки по ключу.
type Locker struct {
	c *redis.Client
}

// NewLocker создаёт Locker поверх клиента c.
func NewLocker(c *redis.Client) *Locker {
	return &Locker{c: c}
}

// Lock описывает захваченную блокировку.
type Lock struct {
	key   string
	token string
}

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// TryLock пытается захватить ключ на ttl. ok=false, если ключ уже занят.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (*Lock, bool, error) {
	token := ids.NewID()
	ok, err := l.c.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, errors.Wrap(err, "redis lock")
	}
	if !ok {
		return nil, false, nil
	}
	return &Lock{key: key, token: token}, true, nil
}

// Unlock освобождает блокировку, если она ещё принадлежит владельцу.
func (l *Locker) Unlock(ctx context.Context, lock *Lock) error {
	if lock == nil {
		return nil
	}
	if err := unlockScript.Run(ctx, l.c, []string{lock.key}, lock.token).Err(); err != nil {
		return errors.Wrap(err, "redis unlock")
	}
	return nil
}
