package kvs

import (
	"context"
	"sync"
	"time"
)

// memoryItem represents a stored item with expiration.
type memoryItem struct {
	value     []byte
	expiresAt time.Time // Zero value means no expiration
}

// memoryWatcher is a single registered Watch channel for one key.
type memoryWatcher struct {
	key string
	ch  chan Change
}

// MemoryStore is an in-memory implementation of Store.
// It stores data in a map and runs a background goroutine to clean up expired
// items. Watch notifications are delivered synchronously from Set/Delete with
// non-blocking sends; a full watcher channel drops the notification, which is
// safe because consumers re-read the key on every change.
type MemoryStore struct {
	prefix          string
	items           map[string]*memoryItem
	watchers        map[*memoryWatcher]struct{}
	mu              sync.RWMutex
	closed          bool
	cleanupInterval time.Duration
	stop            chan struct{}
	cleanupDone     chan struct{}
}

// NewMemoryStore creates a new in-memory KVS store.
func NewMemoryStore(prefix string, cfg MemoryConfig) (*MemoryStore, error) {
	cleanupInterval := cfg.CleanupInterval
	if cleanupInterval == 0 {
		cleanupInterval = 5 * time.Minute
	}

	store := &MemoryStore{
		prefix:          prefix,
		items:           make(map[string]*memoryItem),
		watchers:        make(map[*memoryWatcher]struct{}),
		cleanupInterval: cleanupInterval,
		stop:            make(chan struct{}),
		cleanupDone:     make(chan struct{}),
	}

	go store.cleanupLoop()

	return store, nil
}

// prefixedKey returns the key with prefix prepended.
func (m *MemoryStore) prefixedKey(key string) string {
	if m.prefix == "" {
		return key
	}
	return m.prefix + key
}

// Get retrieves a value by key.
func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	item, exists := m.items[m.prefixedKey(key)]
	if !exists {
		return nil, ErrNotFound
	}

	if !item.expiresAt.IsZero() && time.Now().After(item.expiresAt) {
		return nil, ErrNotFound
	}

	// Return a copy to prevent external modifications
	value := make([]byte, len(item.value))
	copy(value, item.value)
	return value, nil
}

// Set stores a value with optional TTL.
func (m *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()

	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}

	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)

	item := &memoryItem{
		value: valueCopy,
	}

	if ttl > 0 {
		item.expiresAt = time.Now().Add(ttl)
	}

	m.items[m.prefixedKey(key)] = item
	m.notifyLocked(key, valueCopy, false)
	m.mu.Unlock()

	return nil
}

// Delete removes a key.
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()

	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}

	pk := m.prefixedKey(key)
	if _, exists := m.items[pk]; exists {
		delete(m.items, pk)
		m.notifyLocked(key, nil, true)
	}
	m.mu.Unlock()

	return nil
}

// Exists checks if a key exists and has not expired.
func (m *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return false, ErrClosed
	}

	item, exists := m.items[m.prefixedKey(key)]
	if !exists {
		return false, nil
	}

	if !item.expiresAt.IsZero() && time.Now().After(item.expiresAt) {
		return false, nil
	}

	return true, nil
}

// Watch registers a channel receiving changes of the given key.
func (m *MemoryStore) Watch(ctx context.Context, key string) (<-chan Change, error) {
	m.mu.Lock()

	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}

	w := &memoryWatcher{
		key: key,
		ch:  make(chan Change, 16),
	}
	m.watchers[w] = struct{}{}
	m.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-m.stop:
		}
		m.mu.Lock()
		if _, ok := m.watchers[w]; ok {
			delete(m.watchers, w)
			close(w.ch)
		}
		m.mu.Unlock()
	}()

	return w.ch, nil
}

// notifyLocked fans a change out to matching watchers. Caller holds m.mu.
func (m *MemoryStore) notifyLocked(key string, value []byte, deleted bool) {
	change := Change{
		Key:     key,
		Value:   value,
		Deleted: deleted,
		At:      time.Now(),
	}
	for w := range m.watchers {
		if w.key != key {
			continue
		}
		select {
		case w.ch <- change:
		default:
			// Watcher is not keeping up; it will re-read on the next change.
		}
	}
}

// Close closes the store and stops the cleanup goroutine.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.closed = true

	for w := range m.watchers {
		delete(m.watchers, w)
		close(w.ch)
	}
	m.mu.Unlock()

	close(m.stop)
	<-m.cleanupDone

	m.mu.Lock()
	m.items = nil
	m.mu.Unlock()

	return nil
}

// cleanupLoop runs periodically to remove expired items.
func (m *MemoryStore) cleanupLoop() {
	defer close(m.cleanupDone)

	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanup()
		case <-m.stop:
			return
		}
	}
}

// cleanup removes expired items from the store.
func (m *MemoryStore) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	now := time.Now()
	for key, item := range m.items {
		if !item.expiresAt.IsZero() && now.After(item.expiresAt) {
			delete(m.items, key)
		}
	}
}
