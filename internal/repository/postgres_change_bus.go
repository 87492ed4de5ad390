package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-notify-engine/internal/models"
)

const listenerPingInterval = 90 * time.Second

// PostgresChangeBus carries change signals over LISTEN/NOTIFY for processes
// sharing the kv_store table. Payloads use the same shape as the Redis bus.
type PostgresChangeBus struct {
	db      *sqlx.DB
	dsn     string
	channel string
	origin  string
	logger  *zap.Logger
}

// NewPostgresChangeBus publishes through db and listens on a dedicated
// connection opened from dsn.
func NewPostgresChangeBus(db *sqlx.DB, dsn, channel string, logger *zap.Logger) *PostgresChangeBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresChangeBus{db: db, dsn: dsn, channel: channel, origin: uuid.NewString(), logger: logger}
}

// Publish announces that a collection changed.
func (b *PostgresChangeBus) Publish(ctx context.Context, collection models.Collection) error {
	payload, err := json.Marshal(changeMessage{Collection: collection, Origin: b.origin})
	if err != nil {
		return fmt.Errorf("marshal change message: %w", err)
	}
	if _, err := b.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, b.channel, string(payload)); err != nil {
		return fmt.Errorf("pg_notify %s: %w", b.channel, err)
	}
	return nil
}

// Listen delivers changes published by other processes until ctx is done.
func (b *PostgresChangeBus) Listen(ctx context.Context, fn func(models.Collection)) error {
	listener := pq.NewListener(b.dsn, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			b.logger.Warn("postgres listener event", zap.Int("event", int(ev)), zap.Error(err))
		}
	})
	defer listener.Close() //nolint:errcheck

	if err := listener.Listen(b.channel); err != nil {
		return fmt.Errorf("postgres listen %s: %w", b.channel, err)
	}
	return b.relay(ctx, listener.Notify, listener.Ping, fn)
}

// relay forwards notifications until ctx is done. A nil notification means
// the connection was re-established and notifications may have been missed,
// so every shared collection is reported.
func (b *PostgresChangeBus) relay(ctx context.Context, notifications <-chan *pq.Notification, ping func() error, fn func(models.Collection)) error {
	ticker := time.NewTicker(listenerPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-notifications:
			if !ok {
				return nil
			}
			if n == nil {
				for _, c := range models.Collections {
					fn(c)
				}
				continue
			}
			var change changeMessage
			if err := json.Unmarshal([]byte(n.Extra), &change); err != nil {
				b.logger.Warn("ignoring malformed change message", zap.String("payload", n.Extra), zap.Error(err))
				continue
			}
			if change.Origin == b.origin || change.Collection == "" {
				continue
			}
			fn(change.Collection)
		case <-ticker.C:
			if ping != nil {
				if err := ping(); err != nil {
					b.logger.Warn("postgres listener ping failed", zap.Error(err))
				}
			}
		}
	}
}
