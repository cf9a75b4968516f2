package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tradewell-labs/updownbot/internal/domain"
)

// renewLua extends the lease TTL only when the key still carries the caller's
// token, so an expired-and-reacquired lease can never be renewed by the old
// holder.
const renewLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// releaseLua deletes the lease key only when it still carries the caller's
// token.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// Lease implements domain.Lease with Redis SETNX plus token-checked Lua
// renewal and release. One lease key guards one trading identity: while held,
// this process is the only one allowed to place orders for the wallet.
type Lease struct {
	rdb       *redis.Client
	key       string
	ttl       time.Duration
	renewSc   *redis.Script
	releaseSc *redis.Script

	mu    sync.Mutex
	token string // non-empty while held
}

// NewLease creates a lease on the given key with the given TTL. The lease is
// not acquired until Acquire is called.
func NewLease(c *Client, key string, ttl time.Duration) *Lease {
	return &Lease{
		rdb:       c.Underlying(),
		key:       "lease:" + key,
		ttl:       ttl,
		renewSc:   redis.NewScript(renewLua),
		releaseSc: redis.NewScript(releaseLua),
	}
}

// Acquire takes the lease. It returns domain.ErrLockHeld when another holder
// owns the key.
func (l *Lease) Acquire(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.token != "" {
		return nil
	}

	token := uuid.New().String()
	ok, err := l.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis: acquire lease %s: %w", l.key, err)
	}
	if !ok {
		return domain.ErrLockHeld
	}
	l.token = token
	return nil
}

// Renew extends the TTL of a held lease. It returns domain.ErrLeaseLost when
// the key expired or was taken over since the last successful renewal; the
// caller must stop placing orders.
func (l *Lease) Renew(ctx context.Context) error {
	l.mu.Lock()
	token := l.token
	l.mu.Unlock()

	if token == "" {
		return domain.ErrLeaseLost
	}

	res, err := l.renewSc.Run(ctx, l.rdb, []string{l.key}, token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("redis: renew lease %s: %w", l.key, err)
	}
	if res == 0 {
		l.mu.Lock()
		l.token = ""
		l.mu.Unlock()
		return domain.ErrLeaseLost
	}
	return nil
}

// Release gives the lease up. Safe to call when not held, and safe to call
// more than once.
func (l *Lease) Release() {
	l.mu.Lock()
	token := l.token
	l.token = ""
	l.mu.Unlock()

	if token == "" {
		return
	}

	// Background context so release lands even when the caller is shutting
	// down with a cancelled context.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = l.releaseSc.Run(ctx, l.rdb, []string{l.key}, token).Err()
}

// Held reports whether the lease was held as of the last Acquire/Renew.
func (l *Lease) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.token != ""
}

// Compile-time interface check.
var _ domain.Lease = (*Lease)(nil)
