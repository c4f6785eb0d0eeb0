package kvs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// changeChannelPrefix is the pub/sub channel prefix used to announce writes.
// Every Set/Delete publishes on "<prefix><full key>" so that peers watching
// the key are notified without relying on server-side keyspace notifications
// (which require server configuration and are unavailable on some providers).
const changeChannelPrefix = "sessionguard:changes:"

// Change message framing on the pub/sub channel: one marker byte followed by
// the raw value. Deletions carry no value.
const (
	changeMarkerSet    = 'v'
	changeMarkerDelete = 'd'
)

// RedisStore is a Redis-based implementation of Store.
// It provides distributed storage shared by session peers on different hosts.
// Watch is backed by Redis pub/sub: only changes made through this package
// are announced, which holds for all sessionguard keys by construction.
type RedisStore struct {
	namespace string // Stored as "namespace:" prefix for Redis keys
	client    *redis.Client
	closed    bool
	mu        sync.RWMutex
	stop      chan struct{}
	watchWG   sync.WaitGroup
}

// NewRedisStore creates a new Redis KVS store for the given namespace.
// Namespace isolation is achieved using key prefixes.
func NewRedisStore(namespace string, cfg RedisConfig) (*RedisStore, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}

	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("kvs/redis: failed to connect to %s: %w", cfg.Addr, err)
	}

	prefix := ""
	if namespace != "" {
		prefix = namespace + ":"
	}

	return &RedisStore{
		namespace: prefix,
		client:    client,
		stop:      make(chan struct{}),
	}, nil
}

// prefixedKey returns the key with namespace prefix prepended.
func (r *RedisStore) prefixedKey(key string) string {
	if r.namespace == "" {
		return key
	}
	return r.namespace + key
}

// changeChannel returns the pub/sub channel announcing writes to a key.
func (r *RedisStore) changeChannel(key string) string {
	return changeChannelPrefix + r.prefixedKey(key)
}

// Get retrieves a value by key.
func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return nil, ErrClosed
	}
	r.mu.RUnlock()

	result, err := r.client.Get(ctx, r.prefixedKey(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("kvs/redis: get failed: %w", err)
	}

	return result, nil
}

// Set stores a value with optional TTL and announces the change.
func (r *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return ErrClosed
	}
	r.mu.RUnlock()

	err := r.client.Set(ctx, r.prefixedKey(key), value, ttl).Err()
	if err != nil {
		return fmt.Errorf("kvs/redis: set failed: %w", err)
	}

	payload := make([]byte, 1+len(value))
	payload[0] = changeMarkerSet
	copy(payload[1:], value)
	// Change announcement is best-effort; a missed publish only delays
	// observers until the next write.
	_ = r.client.Publish(ctx, r.changeChannel(key), payload).Err()

	return nil
}

// Delete removes a key and announces the change.
func (r *RedisStore) Delete(ctx context.Context, key string) error {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return ErrClosed
	}
	r.mu.RUnlock()

	err := r.client.Del(ctx, r.prefixedKey(key)).Err()
	if err != nil {
		return fmt.Errorf("kvs/redis: delete failed: %w", err)
	}

	_ = r.client.Publish(ctx, r.changeChannel(key), []byte{changeMarkerDelete}).Err()

	return nil
}

// Exists checks if a key exists and has not expired.
func (r *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return false, ErrClosed
	}
	r.mu.RUnlock()

	count, err := r.client.Exists(ctx, r.prefixedKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("kvs/redis: exists check failed: %w", err)
	}

	return count > 0, nil
}

// Watch subscribes to the key's change announcement channel.
func (r *RedisStore) Watch(ctx context.Context, key string) (<-chan Change, error) {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return nil, ErrClosed
	}
	r.mu.RUnlock()

	pubsub := r.client.Subscribe(ctx, r.changeChannel(key))

	// Wait for the subscription to be confirmed so callers do not miss
	// changes written immediately after Watch returns.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("kvs/redis: subscribe failed: %w", err)
	}

	ch := make(chan Change, 16)

	r.watchWG.Add(1)
	go func() {
		defer r.watchWG.Done()
		defer close(ch)
		defer pubsub.Close()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stop:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}

				payload := []byte(msg.Payload)
				if len(payload) == 0 {
					continue
				}

				change := Change{Key: key, At: time.Now()}
				switch payload[0] {
				case changeMarkerSet:
					change.Value = payload[1:]
				case changeMarkerDelete:
					change.Deleted = true
				default:
					continue
				}

				select {
				case ch <- change:
				default:
				}
			}
		}
	}()

	return ch, nil
}

// Close closes the Redis connection.
func (r *RedisStore) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.closed = true
	r.mu.Unlock()

	close(r.stop)
	r.watchWG.Wait()

	err := r.client.Close()
	if err != nil {
		return fmt.Errorf("kvs/redis: close failed: %w", err)
	}

	return nil
}
