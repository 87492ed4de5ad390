package repository

import (
	"context"
	"strings"

	"github.com/noah-isme/sma-notify-engine/internal/models"
)

const sessionKeyPrefix = "session:"

// Keyspace maps collections to store keys under an optional prefix.
type Keyspace struct {
	Prefix string
}

// Collection returns the key holding a shared collection.
func (k Keyspace) Collection(c models.Collection) string {
	return k.Prefix + string(c)
}

// Session returns the key holding a user's session record.
func (k Keyspace) Session(username string) string {
	return k.Prefix + sessionKeyPrefix + username
}

// Lookup resolves a key back to its collection. Session keys resolve to
// CollectionSessions.
func (k Keyspace) Lookup(key string) (models.Collection, bool) {
	if !strings.HasPrefix(key, k.Prefix) {
		return "", false
	}
	name := strings.TrimPrefix(key, k.Prefix)
	if strings.HasPrefix(name, sessionKeyPrefix) {
		return models.CollectionSessions, true
	}
	for _, c := range models.Collections {
		if string(c) == name {
			return c, true
		}
	}
	return "", false
}

type keyWatcher interface {
	Watch(ctx context.Context, fn func(key string)) error
}

// KeyChangeSource turns raw key writes observed on a shared store into
// collection change signals.
type KeyChangeSource struct {
	watcher keyWatcher
	keys    Keyspace
}

// NewKeyChangeSource wraps a key watcher such as the file store.
func NewKeyChangeSource(watcher keyWatcher, keys Keyspace) *KeyChangeSource {
	return &KeyChangeSource{watcher: watcher, keys: keys}
}

// Listen reports collection changes until ctx is done. Session writes are not
// shared state and are ignored.
func (s *KeyChangeSource) Listen(ctx context.Context, fn func(models.Collection)) error {
	return s.watcher.Watch(ctx, func(key string) {
		c, ok := s.keys.Lookup(key)
		if !ok || c == models.CollectionSessions {
			return
		}
		fn(c)
	})
}
