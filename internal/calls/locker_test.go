package calls

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestLocalLockerExclusivePerKey(t *testing.T) {
	l := NewLocalLocker(0)
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "CA1")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	short, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	_, err = l.Lock(short, "CA1")
	cancel()
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected timeout on held key, got %v", err)
	}

	other, err := l.Lock(ctx, "CA2")
	if err != nil {
		t.Fatalf("distinct key must not block: %v", err)
	}
	other()

	acquired := make(chan struct{})
	go func() {
		u, err := l.Lock(ctx, "CA1")
		if err == nil {
			u()
			close(acquired)
		}
	}()
	unlock()
	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatalf("waiter never acquired the lock")
	}
	if n := l.held("CA1"); n != 0 {
		t.Fatalf("expected lock entry released, got %d", n)
	}
}

func TestLocalLockerTimeout(t *testing.T) {
	l := NewLocalLocker(20 * time.Millisecond)
	unlock, err := l.Lock(context.Background(), "CA1")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	defer unlock()
	if _, err := l.Lock(context.Background(), "CA1"); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected lock timeout, got %v", err)
	}
}

func TestRedisLocker(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	l := NewRedisLocker(rdb, 30*time.Second, 50*time.Millisecond, nil)
	unlock, err := l.Lock(context.Background(), "CA1")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if !mr.Exists(lockKey("CA1")) {
		t.Fatalf("expected lease key set")
	}

	peer := NewRedisLocker(rdb, 30*time.Second, 50*time.Millisecond, nil)
	if _, err := peer.Lock(context.Background(), "CA1"); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected peer to time out, got %v", err)
	}
	other, err := peer.Lock(context.Background(), "CA2")
	if err != nil {
		t.Fatalf("distinct key must not block: %v", err)
	}
	other()

	unlock()
	if mr.Exists(lockKey("CA1")) {
		t.Fatalf("expected lease released")
	}
	again, err := peer.Lock(context.Background(), "CA1")
	if err != nil {
		t.Fatalf("lock after release: %v", err)
	}
	again()
}

func TestRedisLockerTakesOverExpiredLease(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	// A holder that died without releasing.
	mr.Set(lockKey("CA1"), "dead-owner")
	mr.SetTTL(lockKey("CA1"), time.Second)

	l := NewRedisLocker(rdb, 30*time.Second, 50*time.Millisecond, nil)
	if _, err := l.Lock(context.Background(), "CA1"); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected held lease to block, got %v", err)
	}
	mr.FastForward(2 * time.Second)
	unlock, err := l.Lock(context.Background(), "CA1")
	if err != nil {
		t.Fatalf("expected expired lease taken over, got %v", err)
	}
	unlock()
}
