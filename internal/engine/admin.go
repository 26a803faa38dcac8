package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/farmseedhq/farmseed/internal/model"
)

// ForceDeleteAllInventory bulk-deletes every inventory and usage row for
// the bound farm remotely, then empties both local collections. Entries and
// fields are untouched. A no-op when disconnected.
func (e *Engine) ForceDeleteAllInventory(ctx context.Context) error {
	e.mu.Lock()
	farmID := e.farmID
	e.mu.Unlock()
	if farmID == "" {
		return nil
	}

	if err := e.data.DeleteByType(ctx, farmID, model.DataTypeInventory); err != nil {
		return newEngineError(opAdmin, "delete_inventory_failed", err)
	}
	if err := e.data.DeleteByType(ctx, farmID, model.DataTypeInventoryUsage); err != nil {
		return newEngineError(opAdmin, "delete_inventory_usage_failed", err)
	}

	entries, fields, _, _ := e.store.Snapshot()
	if err := e.store.ReplaceAll(entries, fields, nil, nil); err != nil {
		return newEngineError(opAdmin, "replace_local_failed", err)
	}

	e.logger.Info("all inventory force deleted", zap.String("farm_id", farmID))
	return nil
}

// PurgeAndResync discards all local collections and the tombstone queue,
// then repopulates from the remote snapshot with no merge: the remote is
// treated as the sole source of truth. Used to recover from suspected
// local corruption. A no-op when disconnected.
func (e *Engine) PurgeAndResync(ctx context.Context) error {
	e.mu.Lock()
	farmID := e.farmID
	e.mu.Unlock()
	if farmID == "" {
		return nil
	}

	if err := e.store.ReplaceAll(nil, nil, nil, nil); err != nil {
		return newEngineError(opAdmin, "purge_local_failed", err)
	}
	if err := e.store.DiscardPendingDeletes(); err != nil {
		return newEngineError(opAdmin, "clear_tombstones_failed", err)
	}

	rows, err := e.data.SelectAll(ctx, farmID)
	if err != nil {
		return newEngineError(opAdmin, "pull_failed", err)
	}

	pulled := partitionRows(rows, e.logger)
	if err := e.store.ReplaceAll(pulled.entries, pulled.fields, pulled.inventory, pulled.usage); err != nil {
		return newEngineError(opAdmin, "commit_failed", err)
	}

	e.recordSuccess(e.clock().UTC())
	e.logger.Info("purged local state and resynced",
		zap.String("farm_id", farmID),
		zap.Int("rows_pulled", len(rows)))
	return nil
}

// LastSyncAt reports when the last successful sync finished.
func (e *Engine) LastSyncAt() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSyncAt
}
