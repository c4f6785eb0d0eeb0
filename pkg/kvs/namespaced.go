package kvs

import (
	"context"
	"time"
)

// NamespacedStore wraps a Store and prepends a prefix to all keys.
// This allows multiple logical stores to share a single physical KVS backend
// while maintaining isolation. sessionguard uses this to scope all session
// coordination keys under one "admin.session." namespace.
//
// Example:
//
//	baseKVS, _ := kvs.New(kvs.Config{Type: "redis", ...})
//	sessionKVS := kvs.NewNamespacedStore(baseKVS, "admin.session.")
type NamespacedStore struct {
	store  Store
	prefix string
}

// NewNamespacedStore creates a new namespaced store wrapper.
// If prefix is empty, it returns the underlying store as-is for efficiency.
func NewNamespacedStore(store Store, prefix string) Store {
	if prefix == "" {
		return store
	}
	return &NamespacedStore{
		store:  store,
		prefix: prefix,
	}
}

// prefixKey prepends the namespace prefix to a key.
func (n *NamespacedStore) prefixKey(key string) string {
	return n.prefix + key
}

// Get retrieves a value by key (with prefix prepended).
func (n *NamespacedStore) Get(ctx context.Context, key string) ([]byte, error) {
	return n.store.Get(ctx, n.prefixKey(key))
}

// Set stores a value with optional TTL (with prefix prepended).
func (n *NamespacedStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return n.store.Set(ctx, n.prefixKey(key), value, ttl)
}

// Delete removes a key (with prefix prepended).
func (n *NamespacedStore) Delete(ctx context.Context, key string) error {
	return n.store.Delete(ctx, n.prefixKey(key))
}

// Exists checks if a key exists (with prefix prepended).
func (n *NamespacedStore) Exists(ctx context.Context, key string) (bool, error) {
	return n.store.Exists(ctx, n.prefixKey(key))
}

// Watch watches the prefixed key. Changes are rewritten to carry the
// caller-visible key so the namespace stays transparent.
func (n *NamespacedStore) Watch(ctx context.Context, key string) (<-chan Change, error) {
	inner, err := n.store.Watch(ctx, n.prefixKey(key))
	if err != nil {
		return nil, err
	}

	ch := make(chan Change, 16)
	go func() {
		defer close(ch)
		for change := range inner {
			change.Key = key
			select {
			case ch <- change:
			default:
			}
		}
	}()

	return ch, nil
}

// Close closes the underlying store.
//
// IMPORTANT: If multiple NamespacedStore instances share the same underlying
// store, closing one will close the store for all. Typically, you should only
// call Close() on the base store itself, not on the namespaced wrappers.
func (n *NamespacedStore) Close() error {
	return n.store.Close()
}
