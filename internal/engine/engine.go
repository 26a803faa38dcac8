// Package engine orchestrates upload, pull, merge and tombstone handling
// between the local record store and the remote data service. One engine
// instance owns all sync state for the process.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/farmseedhq/farmseed/internal/model"
	"github.com/farmseedhq/farmseed/internal/remote"
	"github.com/farmseedhq/farmseed/internal/storage"
	"github.com/farmseedhq/farmseed/internal/store"
)

const (
	defaultSyncInterval = 2 * time.Minute
	defaultBatchSize    = 500

	keyLastSync = "farmseed_last_sync"
)

var (
	errMissingStore   = errors.New("record store is required")
	errMissingData    = errors.New("remote data service is required")
	errMissingStorage = errors.New("durable storage is required")
)

// EngineError is the coded error surfaced at the sync boundary.
type EngineError struct {
	code string
	err  error
}

func (e *EngineError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *EngineError) Unwrap() error {
	return e.err
}

// Code returns the operation.reason code of the failure.
func (e *EngineError) Code() string {
	return e.code
}

func newEngineError(operation, reason string, cause error) error {
	return &EngineError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

const (
	opSync  = "engine.sync"
	opAdmin = "engine.admin"
)

// State labels the engine's connection lifecycle.
type State string

const (
	StateDisconnected State = "disconnected"
	StateIdle         State = "idle"
	StateSyncing      State = "syncing"
	StateError        State = "error"
)

// Config describes the engine's dependencies.
type Config struct {
	Store   *store.Store
	Data    remote.DataService
	Storage storage.KV
	Clock   func() time.Time
	Logger  *zap.Logger
	// Interval between scheduled syncs; defaults to two minutes.
	Interval time.Duration
	// BatchSize caps rows per upsert call; defaults to 500.
	BatchSize int
}

// Engine runs the cooperative sync schedule with a single-flight guard:
// a trigger arriving while a sync is in flight is dropped, not queued, and
// the next periodic tick catches up.
type Engine struct {
	store     *store.Store
	data      remote.DataService
	kv        storage.KV
	clock     func() time.Time
	logger    *zap.Logger
	interval  time.Duration
	batchSize int

	mu         sync.Mutex
	farmID     string
	lastSyncAt time.Time
	lastError  string

	syncing      atomic.Bool
	syncsStarted atomic.Int64
	trigger      chan struct{}
}

// New constructs the engine and restores the last-sync timestamp from
// durable storage.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Data == nil {
		return nil, errMissingData
	}
	if cfg.Storage == nil {
		return nil, errMissingStorage
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultSyncInterval
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	e := &Engine{
		store:     cfg.Store,
		data:      cfg.Data,
		kv:        cfg.Storage,
		clock:     clock,
		logger:    logger,
		interval:  interval,
		batchSize: batchSize,
		trigger:   make(chan struct{}),
	}

	if raw, found, err := e.kv.Get(keyLastSync); err == nil && found {
		if parsed, parseErr := time.Parse(time.RFC3339, raw); parseErr == nil {
			e.lastSyncAt = parsed
		}
	}

	return e, nil
}

// Bind connects the engine to a farm. Subsequent triggers sync that farm.
func (e *Engine) Bind(farmID string) {
	e.mu.Lock()
	e.farmID = farmID
	e.lastError = ""
	e.mu.Unlock()
	e.logger.Info("sync engine bound", zap.String("farm_id", farmID))
}

// Unbind disconnects the engine. Local records are retained but no longer
// sync; the persisted last-sync marker is discarded.
func (e *Engine) Unbind() {
	e.mu.Lock()
	e.farmID = ""
	e.lastError = ""
	e.lastSyncAt = time.Time{}
	e.mu.Unlock()
	if err := e.kv.Remove(keyLastSync); err != nil {
		e.logger.Warn("failed to clear last sync marker", zap.Error(err))
	}
	e.logger.Info("sync engine unbound")
}

// FarmID returns the currently bound farm id, empty when disconnected.
func (e *Engine) FarmID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.farmID
}

// Run drives the sync schedule until ctx is cancelled: one sync right
// away, then on every tick. Foreground and manual triggers arrive through
// TriggerSync.
func (e *Engine) Run(ctx context.Context) {
	e.syncScheduled(ctx)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.syncScheduled(ctx)
		case <-e.trigger:
			e.syncScheduled(ctx)
		}
	}
}

// TriggerSync requests an immediate sync, as the app-foreground event does.
// The request is dropped when the engine is mid-sync or no run loop is
// listening.
func (e *Engine) TriggerSync() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// syncScheduled swallows errors at the sync boundary: transient failures
// are recorded for display and retried on the next trigger.
func (e *Engine) syncScheduled(ctx context.Context) {
	if err := e.SyncNow(ctx); err != nil {
		e.logger.Warn("scheduled sync failed", zap.Error(err))
	}
}

// SyncNow performs one sync invocation. It is a no-op returning nil when no
// farm is bound or when a sync is already in flight.
func (e *Engine) SyncNow(ctx context.Context) error {
	if !e.syncing.CompareAndSwap(false, true) {
		return nil
	}
	defer e.syncing.Store(false)

	e.mu.Lock()
	farmID := e.farmID
	e.mu.Unlock()
	if farmID == "" {
		return nil
	}

	// A previously recorded error stays visible while the retry is in
	// flight; only recordSuccess clears it.
	e.syncsStarted.Add(1)
	started := e.clock().UTC()
	if err := e.syncFarm(ctx, farmID); err != nil {
		e.recordError(err)
		return err
	}

	e.recordSuccess(started)
	return nil
}

// syncFarm executes the five sync steps strictly in order. Any failure
// aborts the remaining steps, leaving whatever already committed in place.
func (e *Engine) syncFarm(ctx context.Context, farmID string) error {
	tombstones := e.store.PendingDeletes()
	if err := e.drainTombstones(ctx, farmID, tombstones); err != nil {
		return newEngineError(opSync, "drain_tombstones_failed", err)
	}

	if err := e.upload(ctx, farmID); err != nil {
		return newEngineError(opSync, "upload_failed", err)
	}

	rows, err := e.data.SelectAll(ctx, farmID)
	if err != nil {
		return newEngineError(opSync, "pull_failed", err)
	}

	if err := e.mergeAndCommit(farmID, rows, tombstones); err != nil {
		return err
	}

	e.logger.Info("sync completed",
		zap.String("farm_id", farmID),
		zap.Int("tombstones_drained", len(tombstones)),
		zap.Int("rows_pulled", len(rows)))
	return nil
}

// drainTombstones deletes every queued id remotely, then removes exactly
// those ids from the log. A single failure leaves the whole log intact so
// no pending deletion is silently forgotten; an id queued mid-drain stays
// behind for the next cycle.
func (e *Engine) drainTombstones(ctx context.Context, farmID string, tombstones []string) error {
	if len(tombstones) == 0 {
		return nil
	}
	for _, id := range tombstones {
		if err := e.data.Delete(ctx, id, farmID); err != nil {
			return fmt.Errorf("delete %s: %w", id, err)
		}
	}
	if err := e.store.ClearPendingDeletes(tombstones); err != nil {
		return fmt.Errorf("clear pending deletes: %w", err)
	}
	e.logger.Info("tombstones drained", zap.Int("count", len(tombstones)))
	return nil
}

// upload serializes every local record into the uniform row shape and
// upserts it in fixed-size batches. Local content overwrites the remote
// unconditionally here; conflict resolution happens on the pull that
// follows.
func (e *Engine) upload(ctx context.Context, farmID string) error {
	entries, fields, inventory, usage := e.store.Snapshot()
	rows, err := buildRows(farmID, entries, fields, inventory, usage)
	if err != nil {
		return err
	}

	for start := 0; start < len(rows); start += e.batchSize {
		end := start + e.batchSize
		if end > len(rows) {
			end = len(rows)
		}
		if err := e.data.Upsert(ctx, rows[start:end]); err != nil {
			return fmt.Errorf("upsert batch %d-%d: %w", start, end, err)
		}
	}
	return nil
}

// mergeAndCommit resolves the pulled snapshot against current local state
// and replaces the store wholesale. The commit is skipped when the farm
// binding changed mid-sync so a stale sync cannot write another farm's
// data back.
func (e *Engine) mergeAndCommit(farmID string, rows []model.Row, tombstones []string) error {
	pulled := partitionRows(rows, e.logger)

	// Re-read local state: edits made while the pull was in flight take
	// part in the merge instead of being overwritten by the commit.
	entries, fields, inventory, usage := e.store.Snapshot()

	mergedEntries := dropIDs(mergeByID(entries, pulled.entries), tombstones)
	mergedFields := dropIDs(mergeByID(fields, pulled.fields), tombstones)
	mergedInventory := dropIDs(mergeByID(inventory, pulled.inventory), tombstones)
	mergedUsage := mergeUsageByID(usage, pulled.usage)

	e.mu.Lock()
	boundFarm := e.farmID
	e.mu.Unlock()
	if boundFarm != farmID {
		e.logger.Warn("farm binding changed mid-sync, skipping commit",
			zap.String("sync_farm_id", farmID),
			zap.String("bound_farm_id", boundFarm))
		return nil
	}

	if err := e.store.ReplaceAll(mergedEntries, mergedFields, mergedInventory, mergedUsage); err != nil {
		return newEngineError(opSync, "commit_failed", err)
	}
	return nil
}

func (e *Engine) recordSuccess(at time.Time) {
	e.mu.Lock()
	e.lastSyncAt = at
	e.lastError = ""
	e.mu.Unlock()
	if err := e.kv.Set(keyLastSync, at.Format(time.RFC3339)); err != nil {
		e.logger.Warn("failed to persist last sync marker", zap.Error(err))
	}
}

func (e *Engine) recordError(err error) {
	e.mu.Lock()
	e.lastError = err.Error()
	e.mu.Unlock()
	e.logger.Error("sync failed",
		zap.String("operation", opSync),
		zap.Error(err))
}

// Status is a point-in-time view of the engine for display.
type Status struct {
	State        State
	FarmID       string
	LastSyncAt   time.Time
	LastError    string
	SyncsStarted int64
}

// Status reports the lifecycle state and bookkeeping for display. A
// recorded error keeps the engine schedulable: the state returns to error
// only for display, and the next trigger retries.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	state := StateIdle
	switch {
	case e.farmID == "":
		state = StateDisconnected
	case e.syncing.Load():
		state = StateSyncing
	case e.lastError != "":
		state = StateError
	}

	return Status{
		State:        state,
		FarmID:       e.farmID,
		LastSyncAt:   e.lastSyncAt,
		LastError:    e.lastError,
		SyncsStarted: e.syncsStarted.Load(),
	}
}
