package repository

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-notify-engine/internal/models"
	"github.com/noah-isme/sma-notify-engine/internal/normalizer"
	appErrors "github.com/noah-isme/sma-notify-engine/pkg/errors"
	"github.com/noah-isme/sma-notify-engine/pkg/storage"
)

// ChangeNotifier is told after every successful collection write.
type ChangeNotifier interface {
	Notify(ctx context.Context, collection models.Collection)
}

// MalformedRecorder counts records skipped by the normalizer.
type MalformedRecorder interface {
	RecordMalformed(collection string)
}

// CollectionRepository is the single typed access point to the shared
// collections. Reads always pass through the normalizer. Writes replace the
// whole collection; an in-process lock serialises read-modify-write cycles but
// nothing protects against other processes writing the same key.
type CollectionRepository struct {
	kv       KVStore
	keys     Keyspace
	logger   *zap.Logger
	notifier ChangeNotifier
	metrics  MalformedRecorder

	locksMu sync.Mutex
	locks   map[models.Collection]*sync.Mutex
}

// CollectionRepositoryOption configures the repository.
type CollectionRepositoryOption func(*CollectionRepository)

// WithChangeNotifier registers the change propagator.
func WithChangeNotifier(n ChangeNotifier) CollectionRepositoryOption {
	return func(r *CollectionRepository) { r.notifier = n }
}

// WithMalformedRecorder registers a metrics sink for skipped records.
func WithMalformedRecorder(m MalformedRecorder) CollectionRepositoryOption {
	return func(r *CollectionRepository) { r.metrics = m }
}

// NewCollectionRepository constructs the repository.
func NewCollectionRepository(kv KVStore, keys Keyspace, logger *zap.Logger, opts ...CollectionRepositoryOption) *CollectionRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &CollectionRepository{
		kv:     kv,
		keys:   keys,
		logger: logger,
		locks:  make(map[models.Collection]*sync.Mutex),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Keys exposes the keyspace for change watchers.
func (r *CollectionRepository) Keys() Keyspace {
	return r.keys
}

func (r *CollectionRepository) LoadTasks(ctx context.Context) ([]models.Task, error) {
	return load(ctx, r, models.CollectionTasks, normalizer.Tasks)
}

func (r *CollectionRepository) SaveTasks(ctx context.Context, tasks []models.Task) error {
	return r.locked(models.CollectionTasks, func() error {
		return save(ctx, r, models.CollectionTasks, tasks)
	})
}

// UpdateTasks runs a read-modify-write cycle; fn reports whether it changed anything.
func (r *CollectionRepository) UpdateTasks(ctx context.Context, fn func([]models.Task) ([]models.Task, bool, error)) error {
	return update(ctx, r, models.CollectionTasks, normalizer.Tasks, fn)
}

func (r *CollectionRepository) LoadComments(ctx context.Context) ([]models.Comment, error) {
	return load(ctx, r, models.CollectionComments, normalizer.Comments)
}

func (r *CollectionRepository) SaveComments(ctx context.Context, comments []models.Comment) error {
	return r.locked(models.CollectionComments, func() error {
		return save(ctx, r, models.CollectionComments, comments)
	})
}

func (r *CollectionRepository) UpdateComments(ctx context.Context, fn func([]models.Comment) ([]models.Comment, bool, error)) error {
	return update(ctx, r, models.CollectionComments, normalizer.Comments, fn)
}

func (r *CollectionRepository) LoadNotifications(ctx context.Context) ([]models.Notification, error) {
	return load(ctx, r, models.CollectionNotifications, normalizer.Notifications)
}

func (r *CollectionRepository) SaveNotifications(ctx context.Context, notifications []models.Notification) error {
	return r.locked(models.CollectionNotifications, func() error {
		return save(ctx, r, models.CollectionNotifications, notifications)
	})
}

func (r *CollectionRepository) UpdateNotifications(ctx context.Context, fn func([]models.Notification) ([]models.Notification, bool, error)) error {
	return update(ctx, r, models.CollectionNotifications, normalizer.Notifications, fn)
}

func (r *CollectionRepository) LoadCompletions(ctx context.Context) ([]models.CompletionRecord, error) {
	return load(ctx, r, models.CollectionCompletions, normalizer.Completions)
}

func (r *CollectionRepository) SaveCompletions(ctx context.Context, records []models.CompletionRecord) error {
	return r.locked(models.CollectionCompletions, func() error {
		return save(ctx, r, models.CollectionCompletions, records)
	})
}

func (r *CollectionRepository) UpdateCompletions(ctx context.Context, fn func([]models.CompletionRecord) ([]models.CompletionRecord, bool, error)) error {
	return update(ctx, r, models.CollectionCompletions, normalizer.Completions, fn)
}

func (r *CollectionRepository) LoadUsers(ctx context.Context) ([]models.User, error) {
	return load(ctx, r, models.CollectionUsers, normalizer.Users)
}

func (r *CollectionRepository) SaveUsers(ctx context.Context, users []models.User) error {
	return r.locked(models.CollectionUsers, func() error {
		return save(ctx, r, models.CollectionUsers, users)
	})
}

func (r *CollectionRepository) UpdateUsers(ctx context.Context, fn func([]models.User) ([]models.User, bool, error)) error {
	return update(ctx, r, models.CollectionUsers, normalizer.Users, fn)
}

// LoadSnapshot reads every shared collection. The reads are independent, so
// the snapshot may straddle a concurrent writer.
func (r *CollectionRepository) LoadSnapshot(ctx context.Context) (*models.Snapshot, error) {
	var (
		snap models.Snapshot
		err  error
	)
	if snap.Tasks, err = r.LoadTasks(ctx); err != nil {
		return nil, err
	}
	if snap.Comments, err = r.LoadComments(ctx); err != nil {
		return nil, err
	}
	if snap.Notifications, err = r.LoadNotifications(ctx); err != nil {
		return nil, err
	}
	if snap.Users, err = r.LoadUsers(ctx); err != nil {
		return nil, err
	}
	if snap.Completions, err = r.LoadCompletions(ctx); err != nil {
		return nil, err
	}
	return &snap, nil
}

// LoadSession returns the stored session, or nil when none exists.
func (r *CollectionRepository) LoadSession(ctx context.Context, username string) (*models.Session, error) {
	raw, err := r.kv.Get(ctx, r.keys.Session(username))
	if err != nil {
		if isAbsent(err) {
			return nil, nil
		}
		return nil, appErrors.StoreUnavailable(err, "read session")
	}
	var session models.Session
	if err := json.Unmarshal(raw, &session); err != nil || session.Username == "" {
		r.logger.Warn("discarding unreadable session", zap.String("username", username), zap.Error(err))
		return nil, nil
	}
	return &session, nil
}

// SaveSession overwrites the user's session record.
func (r *CollectionRepository) SaveSession(ctx context.Context, session models.Session) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return appErrors.StoreUnavailable(err, "encode session")
	}
	if err := r.kv.Set(ctx, r.keys.Session(session.Username), payload); err != nil {
		return appErrors.StoreUnavailable(err, "write session")
	}
	return nil
}

func (r *CollectionRepository) lockFor(c models.Collection) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	mu, ok := r.locks[c]
	if !ok {
		mu = &sync.Mutex{}
		r.locks[c] = mu
	}
	return mu
}

func (r *CollectionRepository) locked(c models.Collection, fn func() error) error {
	mu := r.lockFor(c)
	mu.Lock()
	defer mu.Unlock()
	return fn()
}

func load[T any](ctx context.Context, r *CollectionRepository, c models.Collection, decode func([]byte) ([]T, []error, error)) ([]T, error) {
	raw, err := r.kv.Get(ctx, r.keys.Collection(c))
	if err != nil {
		if isAbsent(err) {
			return []T{}, nil
		}
		r.logger.Error("store read failed", zap.String("collection", string(c)), zap.Error(err))
		return nil, appErrors.StoreUnavailable(err, "read "+string(c))
	}
	records, skipped, err := decode(raw)
	if err != nil {
		r.logger.Error("collection unreadable", zap.String("collection", string(c)), zap.Error(err))
		return nil, appErrors.StoreUnavailable(err, "decode "+string(c))
	}
	for _, skip := range skipped {
		var malformed *appErrors.MalformedRecordError
		field, index := "", -1
		if errors.As(skip, &malformed) {
			field, index = malformed.Field, malformed.Index
		}
		r.logger.Warn("skipping malformed record",
			zap.String("collection", string(c)),
			zap.Int("index", index),
			zap.String("field", field),
			zap.Error(skip))
		if r.metrics != nil {
			r.metrics.RecordMalformed(string(c))
		}
	}
	return records, nil
}

func save[T any](ctx context.Context, r *CollectionRepository, c models.Collection, records []T) error {
	if records == nil {
		records = []T{}
	}
	payload, err := json.Marshal(records)
	if err != nil {
		return appErrors.StoreUnavailable(err, "encode "+string(c))
	}
	if err := r.kv.Set(ctx, r.keys.Collection(c), payload); err != nil {
		r.logger.Error("store write failed", zap.String("collection", string(c)), zap.Error(err))
		return appErrors.StoreUnavailable(err, "write "+string(c))
	}
	if r.notifier != nil {
		r.notifier.Notify(ctx, c)
	}
	return nil
}

func update[T any](ctx context.Context, r *CollectionRepository, c models.Collection, decode func([]byte) ([]T, []error, error), fn func([]T) ([]T, bool, error)) error {
	return r.locked(c, func() error {
		current, err := load(ctx, r, c, decode)
		if err != nil {
			return err
		}
		next, changed, err := fn(current)
		if err != nil || !changed {
			return err
		}
		return save(ctx, r, c, next)
	})
}

func isAbsent(err error) bool {
	return errors.Is(err, ErrKeyNotFound) || errors.Is(err, storage.ErrNotExist)
}
