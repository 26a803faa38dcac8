package store

// The pending deletion log tracks ids deleted locally but not yet confirmed
// deleted remotely. It is a flat set of ids with no per-kind distinction:
// the remote delete is issued against the single composite data table.

// appendPendingDelete requires s.mu to be held.
func (s *Store) appendPendingDelete(id string) error {
	for _, pending := range s.pendingDeletes {
		if pending == id {
			return nil
		}
	}
	s.pendingDeletes = append(s.pendingDeletes, id)
	return s.persistCollection(keyPendingDeletes, s.pendingDeletes)
}

// PendingDeletes returns a copy of the queued tombstone ids.
func (s *Store) PendingDeletes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copySlice(s.pendingDeletes)
}

// ClearPendingDeletes removes the drained ids from the tombstone queue.
// The sync engine calls this only after every remote delete in the batch
// succeeded; an id queued while those deletes were in flight stays pending
// for the next cycle.
func (s *Store) ClearPendingDeletes(drained []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(drained) == 0 {
		return nil
	}
	drainedSet := make(map[string]struct{}, len(drained))
	for _, id := range drained {
		drainedSet[id] = struct{}{}
	}
	var remaining []string
	for _, id := range s.pendingDeletes {
		if _, ok := drainedSet[id]; !ok {
			remaining = append(remaining, id)
		}
	}
	s.pendingDeletes = remaining
	return s.persistCollection(keyPendingDeletes, s.pendingDeletes)
}

// DiscardPendingDeletes wipes the tombstone queue unconditionally. Only the
// purge-and-resync recovery path uses this.
func (s *Store) DiscardPendingDeletes() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingDeletes = nil
	return s.persistCollection(keyPendingDeletes, s.pendingDeletes)
}
