package loreline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DB is the local-first consistency core: an in-memory entity store with
// a relationship index, backed by a durable mutation queue that a sync
// engine drains to the remote service when connectivity allows.
//
// Every mutation is applied locally first and enqueued for remote
// replay before the call returns. Reads never touch the network.
type DB struct {
	config  Config
	store   *EntityStore
	index   *RelationshipIndex
	queue   *MutationQueue
	backend StorageBackend
	codec   *recordCodec
	monitor *NetworkMonitor
	engine  *SyncEngine
	hub     *NotificationHub
	metrics *SyncMetrics
	closed  atomic.Bool
}

// Open creates or reopens the database. Queue records persisted by a
// prior process lifetime are recovered before Open returns, so pending
// mutations survive restarts.
func Open(cfg Config) (*DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	backend, err := openBackend(&cfg)
	if err != nil {
		return nil, err
	}

	encryptor, err := openEncryptor(backend, cfg.Encryption)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	codec := newRecordCodec(cfg.compressionEnabled(), encryptor)

	queue, err := NewMutationQueue(backend, codec)
	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("recover mutation queue: %w", err)
	}

	index := NewRelationshipIndex()
	db := &DB{
		config:  cfg,
		store:   NewEntityStore(index),
		index:   index,
		queue:   queue,
		backend: backend,
		codec:   codec,
		monitor: NewNetworkMonitor(cfg.Network),
		hub:     NewNotificationHub(cfg.Notifications),
	}
	if cfg.Metrics {
		db.metrics = NewSyncMetrics(prometheus.DefaultRegisterer)
	}

	remote := cfg.RemoteClient
	if remote == nil && cfg.Remote.Endpoint != "" {
		remote, err = NewHTTPRemoteClient(cfg.Remote)
		if err != nil {
			_ = backend.Close()
			return nil, err
		}
	}
	if remote != nil {
		db.engine = NewSyncEngine(cfg.Sync, queue, remote, db.monitor, db.hub, db.metrics)
		db.monitor.Start()
		db.engine.Start()
	}

	slog.Info("loreline opened",
		"driver", cfg.Driver, "pending", queue.PendingCount(), "remote", remote != nil)
	return db, nil
}

func openBackend(cfg *Config) (StorageBackend, error) {
	if cfg.Backend != nil {
		return cfg.Backend, nil
	}
	switch cfg.Driver {
	case DriverMemory:
		return NewMemoryBackend(), nil
	case DriverFile:
		return NewFileBackend(filepath.Join(cfg.DataDir, "queue"))
	case "", DriverSQLite:
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		return NewSQLiteBackend(DefaultSQLiteBackendConfig(filepath.Join(cfg.DataDir, "loreline.db")))
	case DriverS3:
		return NewS3Backend(*cfg.S3)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

const saltKey = "meta/salt"

// openEncryptor builds the at-rest encryptor. Password-derived keys need
// the same salt across process lifetimes, so the salt is persisted next
// to the queue records on first use.
func openEncryptor(backend StorageBackend, cfg *EncryptionConfig) (*Encryptor, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}
	if len(cfg.Key) > 0 || cfg.KeyPassword == "" {
		return NewEncryptor(*cfg)
	}

	ctx := context.Background()
	salt, err := backend.Read(ctx, saltKey)
	switch {
	case err == nil:
		return NewEncryptorWithSalt(cfg.KeyPassword, salt)
	case errors.Is(err, os.ErrNotExist):
		enc, err := NewEncryptor(*cfg)
		if err != nil {
			return nil, err
		}
		if err := backend.Write(ctx, saltKey, enc.Salt()); err != nil {
			return nil, newStorageError(StorageErrorTypeWrite, "persist key salt", saltKey, err)
		}
		return enc, nil
	default:
		return nil, newStorageError(StorageErrorTypeRead, "read key salt", saltKey, err)
	}
}

// Close stops background work and releases the storage backend. Pending
// operations stay durable and are recovered on the next Open.
func (db *DB) Close() error {
	if !db.closed.CompareAndSwap(false, true) {
		return nil
	}

	if db.engine != nil {
		db.engine.Stop()
	}
	db.monitor.Stop()
	return db.backend.Close()
}

// Store exposes read access to projects and elements.
func (db *DB) Store() *EntityStore { return db.store }

// Index exposes relationship queries.
func (db *DB) Index() *RelationshipIndex { return db.index }

// Queue exposes the durable mutation queue, mainly for inspection.
func (db *DB) Queue() *MutationQueue { return db.queue }

// Monitor exposes the network monitor so hosts can feed their own
// reachability signal via SetOnline.
func (db *DB) Monitor() *NetworkMonitor { return db.monitor }

// Subscribe returns a subscription to sync events (conflicts, dead
// letters, degraded mode).
func (db *DB) Subscribe() *EventSubscription { return db.hub.Subscribe() }

// Hub exposes the notification hub. Its ServeWS method streams sync
// events over WebSocket.
func (db *DB) Hub() *NotificationHub { return db.hub }

// SyncNow forces an immediate queue drain. Returns ErrDegraded if the
// engine has halted, and nil if no engine is configured.
func (db *DB) SyncNow(ctx context.Context) error {
	if db.engine == nil {
		return nil
	}
	return db.engine.SyncNow(ctx)
}

// SyncStats returns sync engine counters, or the zero value if no remote
// is configured.
func (db *DB) SyncStats() SyncStats {
	if db.engine == nil {
		return SyncStats{Pending: db.queue.PendingCount()}
	}
	return db.engine.Stats()
}

// DeadLetters returns operations that failed terminally.
func (db *DB) DeadLetters(ctx context.Context) ([]Operation, error) {
	return db.queue.DeadLetters(ctx)
}

// checkWritable rejects mutations while the sync engine is degraded:
// with queue storage failing, a new edit could be applied locally but
// silently lost on restart.
func (db *DB) checkWritable() error {
	if db.engine != nil && db.engine.Degraded() {
		return ErrDegraded
	}
	return nil
}

// enqueue records a confirmed local mutation for remote replay. The
// local apply has already happened; updatedAt is the timestamp the apply
// stamped on the entity, which the remote uses for last-write-wins
// comparison. An enqueue failure means the edit stands locally but is
// not durably queued, which the caller must surface.
func (db *DB) enqueue(ctx context.Context, kind EntityKind, verb Verb, entityID string, updatedAt time.Time, payload any) error {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
		raw = data
	}
	_, err := db.queue.Enqueue(ctx, Operation{
		Kind:      kind,
		EntityID:  entityID,
		Verb:      verb,
		Payload:   raw,
		UpdatedAt: updatedAt,
	})
	if err != nil {
		return err
	}

	// Submit promptly while online instead of waiting for the ticker.
	// Overlapping triggers coalesce into a single drain.
	if db.engine != nil && db.monitor.IsOnline() {
		go func() { _ = db.engine.SyncNow(context.Background()) }()
	}
	return nil
}

// CreateProject creates a project locally and queues it for sync.
func (db *DB) CreateProject(ctx context.Context, name string) (Project, error) {
	if err := db.checkWritable(); err != nil {
		return Project{}, err
	}
	p := db.store.CreateProject(name)
	if err := db.enqueue(ctx, KindProject, VerbCreate, p.ID, p.UpdatedAt, p); err != nil {
		return p, err
	}
	return p, nil
}

// RenameProject renames a project locally and queues the update.
func (db *DB) RenameProject(ctx context.Context, id, name string) (Project, error) {
	if err := db.checkWritable(); err != nil {
		return Project{}, err
	}
	p, err := db.store.RenameProject(id, name)
	if err != nil {
		return Project{}, err
	}
	if err := db.enqueue(ctx, KindProject, VerbUpdate, p.ID, p.UpdatedAt, p); err != nil {
		return p, err
	}
	return p, nil
}

// DeleteProject deletes a project and all its elements locally. A single
// delete operation is queued; the remote cascades the same way.
func (db *DB) DeleteProject(ctx context.Context, id string) error {
	if err := db.checkWritable(); err != nil {
		return err
	}
	deleted, err := db.store.DeleteProject(id)
	if err != nil {
		return err
	}
	slog.Debug("project deleted", "project", id, "elements", len(deleted))
	return db.enqueue(ctx, KindProject, VerbDelete, id, time.Time{}, nil)
}

// CreateElement creates a world element locally and queues it for sync.
func (db *DB) CreateElement(ctx context.Context, projectID string, category ElementCategory, name string) (WorldElement, error) {
	if err := db.checkWritable(); err != nil {
		return WorldElement{}, err
	}
	el, err := db.store.CreateElement(projectID, category, name)
	if err != nil {
		return WorldElement{}, err
	}
	if err := db.enqueue(ctx, KindElement, VerbCreate, el.ID, el.UpdatedAt, el); err != nil {
		return el, err
	}
	return el, nil
}

// UpdateElement applies a partial update locally and queues it.
func (db *DB) UpdateElement(ctx context.Context, id string, update ElementUpdate) (WorldElement, error) {
	if err := db.checkWritable(); err != nil {
		return WorldElement{}, err
	}
	el, err := db.store.UpdateElement(id, update)
	if err != nil {
		return WorldElement{}, err
	}
	if err := db.enqueue(ctx, KindElement, VerbUpdate, el.ID, el.UpdatedAt, update); err != nil {
		return el, err
	}
	return el, nil
}

// DeleteElement deletes an element locally, detaching its relationships
// on both sides, and queues the delete.
func (db *DB) DeleteElement(ctx context.Context, id string) error {
	if err := db.checkWritable(); err != nil {
		return err
	}
	if err := db.store.DeleteElement(id); err != nil {
		return err
	}
	return db.enqueue(ctx, KindElement, VerbDelete, id, time.Time{}, nil)
}

// AddRelationship creates a typed edge between two elements locally and
// queues it. The operation is ordered with other edits to the owning
// (from) element.
func (db *DB) AddRelationship(ctx context.Context, fromID, toID string, relType RelationshipType) (Relationship, error) {
	if err := db.checkWritable(); err != nil {
		return Relationship{}, err
	}
	rel, err := db.store.AddRelationship(fromID, toID, relType)
	if err != nil {
		return Relationship{}, err
	}
	if err := db.enqueue(ctx, KindRelationship, VerbCreate, rel.FromID, rel.CreatedAt, rel); err != nil {
		return rel, err
	}
	return rel, nil
}

// RemoveRelationship removes an edge locally and queues the delete.
func (db *DB) RemoveRelationship(ctx context.Context, id string) error {
	if err := db.checkWritable(); err != nil {
		return err
	}
	rel, ok := db.index.GetRelationship(id)
	if !ok {
		return ErrUnknownRelation
	}
	if err := db.store.RemoveRelationship(id); err != nil {
		return err
	}
	payload := struct {
		ID string `json:"id"`
	}{ID: id}
	return db.enqueue(ctx, KindRelationship, VerbDelete, rel.FromID, time.Time{}, payload)
}

// UpdateAnswer sets or clears one questionnaire answer locally and
// queues the update, ordered with other edits to the element.
func (db *DB) UpdateAnswer(ctx context.Context, elementID, question, answer string) (WorldElement, error) {
	if err := db.checkWritable(); err != nil {
		return WorldElement{}, err
	}
	el, err := db.store.UpdateAnswer(elementID, question, answer)
	if err != nil {
		return WorldElement{}, err
	}
	payload := struct {
		Question string `json:"question"`
		Answer   string `json:"answer,omitempty"`
	}{Question: question, Answer: answer}
	if err := db.enqueue(ctx, KindAnswer, VerbUpdate, el.ID, el.UpdatedAt, payload); err != nil {
		return el, err
	}
	return el, nil
}
