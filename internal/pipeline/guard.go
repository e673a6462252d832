package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Guard admits at most one run at a time across every orchestration path.
type Guard interface {
	// Acquire returns ErrRunInProgress when another holder is active. The
	// release function is safe to call more than once.
	Acquire(ctx context.Context, holder Kind) (release func(), err error)
}

// LocalGuard serialises runs inside one process.
type LocalGuard struct {
	mu     sync.Mutex
	holder Kind
}

func NewLocalGuard() *LocalGuard {
	return &LocalGuard{}
}

func (g *LocalGuard) Acquire(_ context.Context, holder Kind) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.holder != "" {
		return nil, fmt.Errorf("%w: %s is running", ErrRunInProgress, g.holder)
	}
	g.holder = holder

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			g.holder = ""
			g.mu.Unlock()
		})
	}, nil
}

// RedisGuard shares the run lock between every process pointed at the same
// redis, so two API replicas cannot migrate the same store concurrently.
// The lock is refreshed at half its TTL while held.
type RedisGuard struct {
	locker *redislock.Client
	key    string
	ttl    time.Duration
}

func NewRedisGuard(client redis.UniversalClient, key string, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisGuard{
		locker: redislock.New(client),
		key:    key,
		ttl:    ttl,
	}
}

func (g *RedisGuard) Acquire(ctx context.Context, holder Kind) (func(), error) {
	lock, err := g.locker.Obtain(ctx, g.key, g.ttl, &redislock.Options{Metadata: string(holder)})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: lock %s is held", ErrRunInProgress, g.key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to obtain run lock: %w", err)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go g.refresh(lock, holder, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			if err := lock.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				log.Warn().Err(err).Str("key", g.key).Str("holder", string(holder)).Msg("failed to release run lock")
			}
		})
	}, nil
}

func (g *RedisGuard) refresh(lock *redislock.Lock, holder Kind, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(g.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := lock.Refresh(context.Background(), g.ttl, nil); err != nil {
				log.Error().Err(err).Str("key", g.key).Str("holder", string(holder)).Msg("run lock refresh failed")
				return
			}
		}
	}
}
