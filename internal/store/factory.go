package store

import (
	"context"
	"strings"
)

// NewStore returns a postgres-backed store when a database URL is configured.
// Without one it returns nil: the conversation cache treats a nil binding as
// "no persistence" and runs pure in-memory.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, nil
	}
	return NewPostgresStore(ctx, databaseURL)
}
