package redis

import (
	"context"
	_ "embed"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/mmengine/internal/domain"
)

var (
	//go:embed scripts/lock_release.lua
	lockReleaseLua string
	//go:embed scripts/lock_extend.lua
	lockExtendLua string
)

// LockManager implements domain.LockManager with SET NX PX and token-checked
// release. A held lock is extended in the background at a third of its TTL
// until released, so a symbol stays owned for as long as its worker runs.
type LockManager struct {
	c       *Client
	release *redis.Script
	extend  *redis.Script
}

// NewLockManager creates a LockManager backed by c.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		c:       c,
		release: redis.NewScript(lockReleaseLua),
		extend:  redis.NewScript(lockExtendLua),
	}
}

// Acquire takes the lock for key or returns domain.ErrLockHeld. The lease
// reports Lost when an extension finds another token on the key or when no
// extension has succeeded for a full TTL.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (domain.Lease, error) {
	token := uuid.NewString()
	lk := lm.c.key("lock", key)

	ok, err := lm.c.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("redis: lock %s: %w", key, domain.ErrLockHeld)
	}

	l := newLease()
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		lm.keepAlive(l, lk, token, ttl)
	}()
	l.onRelease = func() {
		// The caller's context may already be cancelled at shutdown.
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = lm.release.Run(rctx, lm.c.rdb, []string{lk}, token).Err()
	}
	return l, nil
}

func (lm *LockManager) keepAlive(l *lease, lk, token string, ttl time.Duration) {
	ticker := time.NewTicker(ttl / 3)
	defer ticker.Stop()
	lastOK := time.Now()
	for {
		select {
		case <-l.stop:
			return
		case now := <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), ttl/3)
			n, err := lm.extend.Run(ctx, lm.c.rdb, []string{lk}, token, ttl.Milliseconds()).Int64()
			cancel()
			switch {
			case err == nil && n == 0:
				l.markLost()
				return
			case err == nil:
				lastOK = now
			case now.Sub(lastOK) >= ttl:
				l.markLost()
				return
			}
		}
	}
}

type lease struct {
	stop      chan struct{}
	lost      chan struct{}
	wg        sync.WaitGroup
	onRelease func()

	lostOnce    sync.Once
	releaseOnce sync.Once
}

func newLease() *lease {
	return &lease{stop: make(chan struct{}), lost: make(chan struct{})}
}

func (l *lease) Lost() <-chan struct{} { return l.lost }

func (l *lease) markLost() {
	l.lostOnce.Do(func() { close(l.lost) })
}

func (l *lease) Release() {
	l.releaseOnce.Do(func() {
		close(l.stop)
		l.wg.Wait()
		if l.onRelease != nil {
			l.onRelease()
		}
	})
}

var _ domain.LockManager = (*LockManager)(nil)
var _ domain.Lease = (*lease)(nil)
