package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the fixed pub/sub channel name shared by all peers of a
// deployment.
const DefaultChannel = "sessionguard.events"

// RedisBroadcasterConfig configures the Redis pub/sub transport.
type RedisBroadcasterConfig struct {
	// Addr is the Redis server address (host:port)
	Addr string `yaml:"addr"`

	// Password is the Redis password (optional)
	Password string `yaml:"password"`

	// DB is the Redis database number (0-15)
	DB int `yaml:"db"`

	// Channel overrides the pub/sub channel name. Default: DefaultChannel.
	Channel string `yaml:"channel"`
}

// RedisBroadcaster delivers payloads through Redis pub/sub on a single fixed
// channel. Every peer of the deployment subscribes to the same channel;
// senders also receive their own payloads, which the bus filters out.
type RedisBroadcaster struct {
	client  *redis.Client
	channel string

	mu       sync.RWMutex
	handlers map[int]func([]byte)
	nextID   int
	closed   bool

	stop    chan struct{}
	recvWG  sync.WaitGroup
	started bool
}

// NewRedisBroadcaster connects to Redis and subscribes to the event channel.
func NewRedisBroadcaster(cfg RedisBroadcasterConfig) (*RedisBroadcaster, error) {
	channel := cfg.Channel
	if channel == "" {
		channel = DefaultChannel
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("bus/redis: failed to connect to %s: %w", cfg.Addr, err)
	}

	b := &RedisBroadcaster{
		client:   client,
		channel:  channel,
		handlers: make(map[int]func([]byte)),
		stop:     make(chan struct{}),
	}

	if err := b.startReceiving(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return b, nil
}

// startReceiving subscribes and dispatches incoming payloads to handlers.
func (b *RedisBroadcaster) startReceiving() error {
	ctx := context.Background()
	pubsub := b.client.Subscribe(ctx, b.channel)

	// Confirm the subscription so payloads sent right after construction
	// are not missed.
	confirmCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := pubsub.Receive(confirmCtx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("bus/redis: subscribe failed: %w", err)
	}

	b.recvWG.Add(1)
	go func() {
		defer b.recvWG.Done()
		defer pubsub.Close()

		msgs := pubsub.Channel()
		for {
			select {
			case <-b.stop:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				b.dispatch([]byte(msg.Payload))
			}
		}
	}()

	return nil
}

// dispatch fans an incoming payload out to all registered handlers.
func (b *RedisBroadcaster) dispatch(payload []byte) {
	b.mu.RLock()
	handlers := make([]func([]byte), 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(payload)
	}
}

// Send publishes the payload on the event channel.
func (b *RedisBroadcaster) Send(payload []byte) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("bus/redis: broadcaster is closed")
	}
	b.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("bus/redis: publish failed: %w", err)
	}
	return nil
}

// Receive registers a handler for payloads published by any peer.
func (b *RedisBroadcaster) Receive(handler func([]byte)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = handler
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}
}

// Close unsubscribes and closes the Redis connection.
func (b *RedisBroadcaster) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	close(b.stop)
	b.recvWG.Wait()

	if err := b.client.Close(); err != nil {
		return fmt.Errorf("bus/redis: close failed: %w", err)
	}
	return nil
}
