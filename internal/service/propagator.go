package service

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-notify-engine/internal/models"
)

// ChangeBroadcaster publishes a change to other processes.
type ChangeBroadcaster interface {
	Publish(ctx context.Context, collection models.Collection) error
}

// ChangeSource delivers changes made by other processes until ctx ends.
type ChangeSource interface {
	Listen(ctx context.Context, fn func(models.Collection)) error
}

// ChangePropagator fans collection changes out to subscribers. Signals carry
// only the collection name; subscribers must re-read the store.
type ChangePropagator struct {
	broadcaster ChangeBroadcaster
	metrics     *MetricsService
	logger      *zap.Logger

	mu     sync.RWMutex
	nextID int
	subs   map[int]func(models.ChangeSignal)
}

// NewChangePropagator constructs a propagator. broadcaster may be nil when
// the engine runs as a single process.
func NewChangePropagator(broadcaster ChangeBroadcaster, metrics *MetricsService, logger *zap.Logger) *ChangePropagator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChangePropagator{
		broadcaster: broadcaster,
		metrics:     metrics,
		logger:      logger,
		subs:        make(map[int]func(models.ChangeSignal)),
	}
}

// Subscribe registers fn and returns a function removing it. fn runs on the
// writer's goroutine and must not block.
func (p *ChangePropagator) Subscribe(fn func(models.ChangeSignal)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.subs[id] = fn
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, id)
			p.mu.Unlock()
		})
	}
}

// Subscribers reports how many subscribers are registered.
func (p *ChangePropagator) Subscribers() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subs)
}

// Notify is called after a local write. Local subscribers learn of it
// immediately; other processes through the broadcaster.
func (p *ChangePropagator) Notify(ctx context.Context, collection models.Collection) {
	p.dispatch(models.ChangeSignal{Collection: collection})
	if p.broadcaster == nil {
		return
	}
	if err := p.broadcaster.Publish(ctx, collection); err != nil {
		p.logger.Warn("change broadcast failed", zap.String("collection", string(collection)), zap.Error(err))
	}
}

// Run relays changes from source until ctx is done.
func (p *ChangePropagator) Run(ctx context.Context, source ChangeSource) error {
	return source.Listen(ctx, func(collection models.Collection) {
		p.dispatch(models.ChangeSignal{Collection: collection, Remote: true})
	})
}

func (p *ChangePropagator) dispatch(signal models.ChangeSignal) {
	p.mu.RLock()
	subs := make([]func(models.ChangeSignal), 0, len(p.subs))
	for _, fn := range p.subs {
		subs = append(subs, fn)
	}
	p.mu.RUnlock()

	p.metrics.RecordChangeSignal(signal)
	for _, fn := range subs {
		fn(signal)
	}
}
