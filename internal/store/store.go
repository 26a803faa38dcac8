// Package store holds the authoritative in-process state for the four
// record collections, written through to durable storage on every mutation.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/farmseedhq/farmseed/internal/identity"
	"github.com/farmseedhq/farmseed/internal/model"
	"github.com/farmseedhq/farmseed/internal/storage"
)

const (
	keyEntries        = "farmseed_entries"
	keyFields         = "farmseed_fields"
	keyInventory      = "farmseed_inventory"
	keyInventoryUsage = "farmseed_inventory_usage"
	keyPendingDeletes = "farmseed_pending_deletes"
)

var (
	errMissingStorage    = errors.New("durable storage is required")
	errMissingIDProvider = errors.New("id provider is required")

	// ErrInsufficientStock rejects a consumption that exceeds the current
	// quantity. No mutation is performed when it is returned.
	ErrInsufficientStock = errors.New("store: insufficient stock")
	// ErrInventoryItemNotFound rejects a consumption against an unknown item.
	ErrInventoryItemNotFound = errors.New("store: inventory item not found")
)

// Config describes the dependencies of the record store.
type Config struct {
	Storage storage.KV
	Clock   func() time.Time
	IDs     identity.Provider
	Logger  *zap.Logger
}

// Store owns the in-memory collections and the pending deletion log. All
// reads and writes by callers and by the sync engine go through it.
type Store struct {
	mu     sync.RWMutex
	kv     storage.KV
	clock  func() time.Time
	ids    identity.Provider
	logger *zap.Logger

	entries        []model.Entry
	fields         []model.Field
	inventory      []model.InventoryItem
	usage          []model.InventoryUsage
	pendingDeletes []string
}

// New constructs the store and loads all collections from durable storage.
// Missing keys load as empty collections.
func New(cfg Config) (*Store, error) {
	if cfg.Storage == nil {
		return nil, errMissingStorage
	}
	if cfg.IDs == nil {
		return nil, errMissingIDProvider
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Store{
		kv:     cfg.Storage,
		clock:  clock,
		ids:    cfg.IDs,
		logger: logger,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	if err := loadCollection(s.kv, keyEntries, &s.entries); err != nil {
		return fmt.Errorf("load entries: %w", err)
	}
	if err := loadCollection(s.kv, keyFields, &s.fields); err != nil {
		return fmt.Errorf("load fields: %w", err)
	}
	if err := loadCollection(s.kv, keyInventory, &s.inventory); err != nil {
		return fmt.Errorf("load inventory: %w", err)
	}
	if err := loadCollection(s.kv, keyInventoryUsage, &s.usage); err != nil {
		return fmt.Errorf("load inventory usage: %w", err)
	}
	if err := loadCollection(s.kv, keyPendingDeletes, &s.pendingDeletes); err != nil {
		return fmt.Errorf("load pending deletes: %w", err)
	}
	return nil
}

func loadCollection[T any](kv storage.KV, key string, target *[]T) error {
	raw, found, err := kv.Get(key)
	if err != nil {
		return err
	}
	if !found || raw == "" {
		*target = nil
		return nil
	}
	return json.Unmarshal([]byte(raw), target)
}

// persistCollection writes one collection through to durable storage. A
// persistence failure is logged and returned; the in-memory state is never
// rolled back, accepting a memory/disk divergence risk on storage I/O
// failure.
func (s *Store) persistCollection(key string, collection any) error {
	payload, err := json.Marshal(collection)
	if err != nil {
		s.logError("store.persist", "marshal_failed", err, zap.String("key", key))
		return err
	}
	if err := s.kv.Set(key, string(payload)); err != nil {
		s.logError("store.persist", "write_failed", err, zap.String("key", key))
		return err
	}
	return nil
}

// ReplaceAll swaps all four collections at once and persists them. This is
// the primitive the sync engine commits merged results through, and the
// primitive behind purge-and-resync.
func (s *Store) ReplaceAll(entries []model.Entry, fields []model.Field, inventory []model.InventoryItem, usage []model.InventoryUsage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = entries
	s.fields = fields
	s.inventory = inventory
	s.usage = usage

	var firstErr error
	for _, write := range []struct {
		key        string
		collection any
	}{
		{keyEntries, s.entries},
		{keyFields, s.fields},
		{keyInventory, s.inventory},
		{keyInventoryUsage, s.usage},
	} {
		if err := s.persistCollection(write.key, write.collection); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Snapshot returns copies of all four collections.
func (s *Store) Snapshot() ([]model.Entry, []model.Field, []model.InventoryItem, []model.InventoryUsage) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copySlice(s.entries), copySlice(s.fields), copySlice(s.inventory), copySlice(s.usage)
}

// Entries returns a copy of the entry collection.
func (s *Store) Entries() []model.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copySlice(s.entries)
}

// Fields returns a copy of the field collection.
func (s *Store) Fields() []model.Field {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copySlice(s.fields)
}

// Inventory returns a copy of the inventory collection.
func (s *Store) Inventory() []model.InventoryItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copySlice(s.inventory)
}

// Usage returns a copy of the usage event collection.
func (s *Store) Usage() []model.InventoryUsage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copySlice(s.usage)
}

func copySlice[T any](source []T) []T {
	if source == nil {
		return nil
	}
	out := make([]T, len(source))
	copy(out, source)
	return out
}

func (s *Store) newID() (string, error) {
	id, err := s.ids.NewID()
	if err != nil {
		s.logError("store.new_id", "generation_failed", err)
		return "", err
	}
	return id, nil
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("record store error", attrs...)
}
