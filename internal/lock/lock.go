// Package lock provides named mutual exclusion for periodic jobs.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned when another holder owns the lock.
var ErrNotAcquired = errors.New("lock not acquired")

// Locker acquires a named lock for at most ttl. The returned function
// releases it.
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (release func(), err error)
}

// Local is a process-wide Locker for single-node deployments.
type Local struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocal creates an in-process locker.
func NewLocal() *Local {
	return &Local{held: make(map[string]struct{})}
}

func (l *Local) TryLock(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[name]; ok {
		return nil, ErrNotAcquired
	}
	l.held[name] = struct{}{}
	return func() {
		l.mu.Lock()
		delete(l.held, name)
		l.mu.Unlock()
	}, nil
}

// Redsync is a Locker shared across nodes through Redis.
type Redsync struct {
	rs *redsync.Redsync
}

// NewRedsync creates a distributed locker on client.
func NewRedsync(client redis.UniversalClient) *Redsync {
	return &Redsync{rs: redsync.New(goredis.NewPool(client))}
}

func (r *Redsync) TryLock(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	mutex := r.rs.NewMutex("lock:"+name, redsync.WithExpiry(ttl), redsync.WithTries(1))
	if err := mutex.TryLockContext(ctx); err != nil {
		var taken *redsync.ErrTaken
		if errors.As(err, &taken) || errors.Is(err, redsync.ErrFailed) {
			return nil, ErrNotAcquired
		}
		return nil, fmt.Errorf("acquire %s: %w", name, err)
	}
	return func() {
		_, _ = mutex.UnlockContext(context.Background())
	}, nil
}
