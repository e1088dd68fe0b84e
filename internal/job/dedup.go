package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrDuplicate is returned when an event was already claimed within the dedup window.
var ErrDuplicate = errors.New("duplicate event")

// Deduper suppresses repeated deliveries of the same file share.
type Deduper interface {
	// Claim records key and reports whether this is its first claim within
	// the window.
	Claim(ctx context.Context, key string) (bool, error)
	// Release forgets key so that a later delivery is processed again.
	Release(ctx context.Context, key string) error
}

// dedupKey identifies one share of one file.
func dedupKey(fileID, channelID string) string {
	return fileID + ":" + channelID
}

// Compile-time checks that both dedupers implement Deduper.
var (
	_ Deduper = (*MemoryDeduper)(nil)
	_ Deduper = (*RedisDeduper)(nil)
)

// MemoryDeduper is an in-memory implementation of Deduper.
// It uses a map with a mutex for thread-safe access and forgets keys once
// their window passes. Claims are not shared between replicas.
type MemoryDeduper struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[string]time.Time
	now  func() time.Time
}

// NewMemoryDeduper creates a new in-memory deduper with the given window.
func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	return &MemoryDeduper{
		ttl:  ttl,
		seen: make(map[string]time.Time),
		now:  time.Now,
	}
}

// Claim records key if it is not already held.
func (d *MemoryDeduper) Claim(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.evict(now)

	if _, ok := d.seen[key]; ok {
		return false, nil
	}
	d.seen[key] = now.Add(d.ttl)
	return true, nil
}

// Release drops key from the window.
func (d *MemoryDeduper) Release(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, key)
	return nil
}

// Len returns the number of keys currently held.
func (d *MemoryDeduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.evict(d.now())
	return len(d.seen)
}

func (d *MemoryDeduper) evict(now time.Time) {
	for k, expires := range d.seen {
		if !now.Before(expires) {
			delete(d.seen, k)
		}
	}
}

// RedisDeduper implements Deduper with SET NX so that claims are shared
// across replicas.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// RedisOptions configures the Redis connection for RedisDeduper.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisDeduper connects to Redis and verifies the connection with PING.
func NewRedisDeduper(ctx context.Context, opts RedisOptions, ttl time.Duration) (*RedisDeduper, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}

	return &RedisDeduper{
		client: client,
		ttl:    ttl,
		prefix: "slack-video-frames:seen:",
	}, nil
}

// Claim sets key with the window as expiry only if it does not exist yet.
func (d *RedisDeduper) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := d.client.SetNX(ctx, d.prefix+key, time.Now().Unix(), d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

// Release deletes key.
func (d *RedisDeduper) Release(ctx context.Context, key string) error {
	if err := d.client.Del(ctx, d.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (d *RedisDeduper) Close() error {
	return d.client.Close()
}
