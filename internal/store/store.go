package store

import "context"

// Store is a durable key-value binding for serialized conversation history.
// Implementations are last-write-wins at the single-key level; there is no
// read-modify-write atomicity across Get and Put, which the cache accepts.
type Store interface {
	// Get returns the value for key, reporting absence without error.
	Get(ctx context.Context, key string) (string, bool, error)
	// Put overwrites the value for key.
	Put(ctx context.Context, key, value string) error
	Close() error
}
