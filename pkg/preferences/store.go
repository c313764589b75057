package preferences

import (
	"context"
)

// Store is a flat key-value store for user preferences.
type Store interface {
	// Get returns the value for key. found is false when the key is unset.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	Del(ctx context.Context, key string) error
}
