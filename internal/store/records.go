package store

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/farmseedhq/farmseed/internal/model"
)

// AddEntry assigns identity and timestamps to the payload and appends it.
// EntryDate and EntryTime record the local capture moment.
func (s *Store) AddEntry(payload model.Entry) (model.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.newID()
	if err != nil {
		return model.Entry{}, err
	}

	now := s.clock().UTC()
	payload.ID = id
	payload.EntryDate = now.Format("2006-01-02")
	payload.EntryTime = now.Format("15:04:05")
	payload.CreatedAt = now
	payload.UpdatedAt = now

	s.entries = append(s.entries, payload)
	s.logger.Debug("entry added", zap.String("entry_id", id))
	return payload, s.persistCollection(keyEntries, s.entries)
}

// UpdateEntry applies mutate to the entry with the given id and bumps its
// UpdatedAt. An unknown id is a silent no-op reported via the boolean.
func (s *Store) UpdateEntry(id string, mutate func(*model.Entry)) (model.Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.entries {
		if s.entries[i].ID != id {
			continue
		}
		mutate(&s.entries[i])
		s.entries[i].ID = id
		s.entries[i].UpdatedAt = s.clock().UTC()
		return s.entries[i], true, s.persistCollection(keyEntries, s.entries)
	}
	return model.Entry{}, false, nil
}

// DeleteEntry removes the entry immediately and queues its id for remote
// deletion on the next sync.
func (s *Store) DeleteEntry(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = removeByID(s.entries, id, func(e model.Entry) string { return e.ID })
	if err := s.persistCollection(keyEntries, s.entries); err != nil {
		return err
	}
	return s.appendPendingDelete(id)
}

// GetEntryByID looks up an entry, reporting absence via the boolean.
func (s *Store) GetEntryByID(id string) (model.Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, entry := range s.entries {
		if entry.ID == id {
			return entry, true
		}
	}
	return model.Entry{}, false
}

// AddField assigns identity and timestamps to the payload and appends it.
func (s *Store) AddField(payload model.Field) (model.Field, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	created, err := s.stampFields([]model.Field{payload})
	if err != nil {
		return model.Field{}, err
	}
	return created[0], s.persistCollection(keyFields, s.fields)
}

// AddFields appends a batch of fields in one write, as the boundary upload
// screen produces.
func (s *Store) AddFields(payloads []model.Field) ([]model.Field, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	created, err := s.stampFields(payloads)
	if err != nil {
		return nil, err
	}
	return created, s.persistCollection(keyFields, s.fields)
}

func (s *Store) stampFields(payloads []model.Field) ([]model.Field, error) {
	now := s.clock().UTC()
	created := make([]model.Field, 0, len(payloads))
	for _, payload := range payloads {
		id, err := s.newID()
		if err != nil {
			return nil, err
		}
		payload.ID = id
		payload.CreatedAt = now
		payload.UpdatedAt = now
		s.fields = append(s.fields, payload)
		created = append(created, payload)
	}
	return created, nil
}

// UpdateField applies mutate to the field with the given id and bumps its
// UpdatedAt. An unknown id is a silent no-op reported via the boolean.
func (s *Store) UpdateField(id string, mutate func(*model.Field)) (model.Field, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.fields {
		if s.fields[i].ID != id {
			continue
		}
		mutate(&s.fields[i])
		s.fields[i].ID = id
		s.fields[i].UpdatedAt = s.clock().UTC()
		return s.fields[i], true, s.persistCollection(keyFields, s.fields)
	}
	return model.Field{}, false, nil
}

// DeleteField removes the field immediately and queues its id for remote
// deletion on the next sync.
func (s *Store) DeleteField(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fields = removeByID(s.fields, id, func(f model.Field) string { return f.ID })
	if err := s.persistCollection(keyFields, s.fields); err != nil {
		return err
	}
	return s.appendPendingDelete(id)
}

// GetFieldByID looks up a field, reporting absence via the boolean.
func (s *Store) GetFieldByID(id string) (model.Field, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, field := range s.fields {
		if field.ID == id {
			return field, true
		}
	}
	return model.Field{}, false
}

// AddInventoryItem assigns identity and timestamps to the payload and
// appends it.
func (s *Store) AddInventoryItem(payload model.InventoryItem) (model.InventoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	created, err := s.stampInventoryItems([]model.InventoryItem{payload})
	if err != nil {
		return model.InventoryItem{}, err
	}
	return created[0], s.persistCollection(keyInventory, s.inventory)
}

// AddInventoryItems appends a batch of inventory items in one write.
func (s *Store) AddInventoryItems(payloads []model.InventoryItem) ([]model.InventoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	created, err := s.stampInventoryItems(payloads)
	if err != nil {
		return nil, err
	}
	return created, s.persistCollection(keyInventory, s.inventory)
}

func (s *Store) stampInventoryItems(payloads []model.InventoryItem) ([]model.InventoryItem, error) {
	now := s.clock().UTC()
	created := make([]model.InventoryItem, 0, len(payloads))
	for _, payload := range payloads {
		id, err := s.newID()
		if err != nil {
			return nil, err
		}
		payload.ID = id
		payload.CreatedAt = now
		payload.UpdatedAt = now
		s.inventory = append(s.inventory, payload)
		created = append(created, payload)
	}
	return created, nil
}

// UpdateInventoryItem applies mutate to the item with the given id and
// bumps its UpdatedAt. An unknown id is a silent no-op reported via the
// boolean.
func (s *Store) UpdateInventoryItem(id string, mutate func(*model.InventoryItem)) (model.InventoryItem, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateInventoryItemLocked(id, mutate)
}

func (s *Store) updateInventoryItemLocked(id string, mutate func(*model.InventoryItem)) (model.InventoryItem, bool, error) {
	for i := range s.inventory {
		if s.inventory[i].ID != id {
			continue
		}
		mutate(&s.inventory[i])
		s.inventory[i].ID = id
		s.inventory[i].UpdatedAt = s.clock().UTC()
		return s.inventory[i], true, s.persistCollection(keyInventory, s.inventory)
	}
	return model.InventoryItem{}, false, nil
}

// DeleteInventoryItem removes the item immediately and queues its id for
// remote deletion on the next sync.
func (s *Store) DeleteInventoryItem(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inventory = removeByID(s.inventory, id, func(i model.InventoryItem) string { return i.ID })
	if err := s.persistCollection(keyInventory, s.inventory); err != nil {
		return err
	}
	return s.appendPendingDelete(id)
}

// GetInventoryItemByID looks up an item, reporting absence via the boolean.
func (s *Store) GetInventoryItemByID(id string) (model.InventoryItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, item := range s.inventory {
		if item.ID == id {
			return item, true
		}
	}
	return model.InventoryItem{}, false
}

// Consume decrements an inventory item's quantity and records a usage event
// linking it to an entry. The decrement and the usage append happen inside
// one critical section so no caller observes one without the other. A
// request exceeding the available quantity returns ErrInsufficientStock
// with no mutation.
func (s *Store) Consume(inventoryItemID, entryID string, quantity float64) (model.InventoryUsage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var available float64
	found := false
	for _, item := range s.inventory {
		if item.ID == inventoryItemID {
			available = item.Quantity
			found = true
			break
		}
	}
	if !found {
		return model.InventoryUsage{}, fmt.Errorf("%w: %s", ErrInventoryItemNotFound, inventoryItemID)
	}
	if quantity > available {
		return model.InventoryUsage{}, fmt.Errorf("%w: %g available, %g requested", ErrInsufficientStock, available, quantity)
	}

	usageID, err := s.newID()
	if err != nil {
		return model.InventoryUsage{}, err
	}

	if _, _, err := s.updateInventoryItemLocked(inventoryItemID, func(item *model.InventoryItem) {
		item.Quantity = available - quantity
	}); err != nil {
		return model.InventoryUsage{}, err
	}

	usage := model.InventoryUsage{
		ID:              usageID,
		InventoryItemID: inventoryItemID,
		EntryID:         entryID,
		QuantityUsed:    quantity,
		UsedAt:          s.clock().UTC(),
	}
	s.usage = append(s.usage, usage)
	s.logger.Debug("inventory consumed",
		zap.String("inventory_item_id", inventoryItemID),
		zap.String("entry_id", entryID),
		zap.Float64("quantity", quantity))
	return usage, s.persistCollection(keyInventoryUsage, s.usage)
}

// UsageForItem returns the usage events recorded against one item.
func (s *Store) UsageForItem(inventoryItemID string) []model.InventoryUsage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.InventoryUsage
	for _, usage := range s.usage {
		if usage.InventoryItemID == inventoryItemID {
			out = append(out, usage)
		}
	}
	return out
}

// TotalUsedForItem sums the quantity consumed from one item.
func (s *Store) TotalUsedForItem(inventoryItemID string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0.0
	for _, usage := range s.usage {
		if usage.InventoryItemID == inventoryItemID {
			total += usage.QuantityUsed
		}
	}
	return total
}

func removeByID[T any](collection []T, id string, idOf func(T) string) []T {
	out := collection[:0]
	for _, record := range collection {
		if idOf(record) != id {
			out = append(out, record)
		}
	}
	return out
}
