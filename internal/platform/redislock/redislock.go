// Package redislock serializes bookings across server instances with a
// single-key Redis lock.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ErrLockTimeout is returned when the lock could not be taken within the
// configured wait.
var ErrLockTimeout = errors.New("redislock: timed out waiting for lock")

// releaseScript deletes the key only if it still holds our token, so an
// expired holder cannot free a lock someone else has since taken.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshScript extends the key's TTL only while it still holds our token.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

type Config struct {
	// Prefix namespaces lock keys, e.g. "hms:lock:".
	Prefix string
	// TTL bounds how long a crashed holder can block others. A live holder
	// refreshes it every TTL/3 until release.
	TTL time.Duration
	// Wait is the longest Lock blocks before giving up.
	Wait time.Duration
	// RetryInterval is the pause between acquisition attempts.
	RetryInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		Prefix:        "hms:lock:",
		TTL:           10 * time.Second,
		Wait:          5 * time.Second,
		RetryInterval: 25 * time.Millisecond,
	}
}

type Locker struct {
	client redis.UniversalClient
	cfg    Config
}

func New(client redis.UniversalClient, cfg Config) *Locker {
	def := DefaultConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.Wait <= 0 {
		cfg.Wait = def.Wait
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = def.RetryInterval
	}
	return &Locker{client: client, cfg: cfg}
}

// NewClient parses a redis:// URL and verifies the server is reachable.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// Lock blocks until key is held, ctx is done or the wait elapses.
func (l *Locker) Lock(ctx context.Context, key string) (context.Context, func(), error) {
	redisKey := l.cfg.Prefix + key
	token := uuid.NewString()

	deadline := time.NewTimer(l.cfg.Wait)
	defer deadline.Stop()
	ticker := time.NewTicker(l.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.cfg.TTL).Result()
		if err != nil {
			return nil, nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			return ctx, l.hold(redisKey, token), nil
		}

		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-deadline.C:
			return nil, nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
		case <-ticker.C:
		}
	}
}

// hold keeps the key alive until the returned release func is called, then
// deletes it if we still own it.
func (l *Locker) hold(redisKey, token string) func() {
	stop := make(chan struct{})
	done := make(chan struct{})
	go l.refresh(redisKey, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			// The request context may already be cancelled; release regardless.
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Err(); err != nil {
				log.Warn().Err(err).Str("key", redisKey).Msg("release booking lock")
			}
		})
	}
}

func (l *Locker) refresh(redisKey, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	interval := max(l.cfg.TTL/3, time.Millisecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), interval)
		n, err := refreshScript.Run(ctx, l.client, []string{redisKey}, token, max(l.cfg.TTL.Milliseconds(), 1)).Int()
		cancel()
		switch {
		case err != nil:
			log.Warn().Err(err).Str("key", redisKey).Msg("refresh booking lock")
		case n == 0:
			log.Error().Str("key", redisKey).Msg("booking lock lost before release")
			return
		}
	}
}
