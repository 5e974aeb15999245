package calls

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ai-receptionist/pkg/utils"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker serializes work for one carrier call id. Distinct keys never block
// each other. The returned unlock func is safe to call more than once.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// LocalLocker is a keyed in-process mutex. It is only correct when a single
// instance serves all webhooks for a call.
type LocalLocker struct {
	timeout time.Duration

	mu    sync.Mutex
	locks map[string]*localLock
}

type localLock struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker(timeout time.Duration) *LocalLocker {
	return &LocalLocker{timeout: timeout, locks: make(map[string]*localLock)}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	lk, ok := l.locks[key]
	if !ok {
		lk = &localLock{ch: make(chan struct{}, 1)}
		l.locks[key] = lk
	}
	lk.refs++
	l.mu.Unlock()

	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	select {
	case lk.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, lk)
		return nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-lk.ch
			l.release(key, lk)
		})
	}, nil
}

func (l *LocalLocker) release(key string, lk *localLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, key)
	}
}

// held reports how many callers hold or wait on key.
func (l *LocalLocker) held(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lk, ok := l.locks[key]; ok {
		return lk.refs
	}
	return 0
}

// RedisLocker is a lease lock shared by every instance. The lease is extended
// while held so a slow turn does not lose it; a crashed holder loses it after ttl.
type RedisLocker struct {
	rdb     *redis.Client
	ttl     time.Duration
	timeout time.Duration
	poll    time.Duration
	log     *slog.Logger
}

func NewRedisLocker(rdb *redis.Client, ttl, timeout time.Duration, log *slog.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &RedisLocker{rdb: rdb, ttl: ttl, timeout: timeout, poll: 10 * time.Millisecond, log: log}
}

func lockKey(key string) string { return "receptionist:lock:call:" + key }

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	k := lockKey(key)
	owner := uuid.NewString()
	wait := l.poll
	for {
		ok, err := utils.AcquireLease(ctx, l.rdb, k, owner, l.ttl)
		if err != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("acquire call lock: %w", err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
		case <-time.After(wait):
		}
		if wait < 100*time.Millisecond {
			wait *= 2
		}
	}

	stop := make(chan struct{})
	stopped := make(chan struct{})
	go l.keepAlive(k, owner, stop, stopped)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-stopped
			rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if _, err := utils.ReleaseLease(rctx, l.rdb, k, owner); err != nil {
				l.log.Warn("release call lock failed", "key", key, "err", err)
			}
		})
	}, nil
}

func (l *RedisLocker) keepAlive(key, owner string, stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	t := time.NewTicker(l.ttl / 3)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
			ok, err := utils.ExtendLease(ctx, l.rdb, key, owner, l.ttl)
			cancel()
			if err != nil || !ok {
				l.log.Warn("call lock lease lost", "key", key, "err", err)
				return
			}
		}
	}
}
