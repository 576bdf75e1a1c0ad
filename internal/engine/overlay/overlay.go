// Package overlay stages uncommitted edits on top of a store.Store.
//
// Each entity id has at most one overlay. An overlay holds a full copy of the
// entity taken from the store when editing began, with staged fields applied.
// Overlays are independent: staging one id never reads or writes another
// id's overlay, and nothing here writes to the store.
package overlay

import (
	"fmt"
	"sync"

	"taskdesk/internal/domain"
	"taskdesk/internal/engine/store"
)

type entry struct {
	value  domain.Resource
	staged map[string]struct{}
	epoch  uint64
	gen    uint64
}

type Manager struct {
	mu      sync.Mutex
	store   *store.Store
	entries map[string]*entry
	gen     uint64
}

func New(s *store.Store) *Manager {
	return &Manager{store: s, entries: make(map[string]*entry)}
}

// live returns the entry for id, dropping it if a full reload happened since
// it was created. Caller holds m.mu.
func (m *Manager) live(id string) (*entry, bool) {
	e, ok := m.entries[id]
	if !ok {
		return nil, false
	}
	if e.epoch != m.store.Epoch() {
		delete(m.entries, id)
		return nil, false
	}
	return e, true
}

func (m *Manager) create(id string) (*entry, error) {
	cur, ok := m.store.Get(id)
	if !ok {
		return nil, fmt.Errorf("begin edit %s: %w", id, store.ErrNotFound)
	}
	m.gen++
	e := &entry{
		value:  cur,
		staged: make(map[string]struct{}),
		epoch:  m.store.Epoch(),
		gen:    m.gen,
	}
	m.entries[id] = e
	return e, nil
}

// Begin snapshots the stored entity into an overlay unless one exists.
func (m *Manager) Begin(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.live(id); ok {
		return nil
	}
	_, err := m.create(id)
	return err
}

// Stage sets one field, creating the overlay from the store if needed. An
// invalid field or value leaves every overlay as it was.
func (m *Manager) Stage(id, field string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(id)
	if !ok {
		cur, found := m.store.Get(id)
		if !found {
			return fmt.Errorf("stage %s.%s: %w", id, field, store.ErrNotFound)
		}
		if _, err := cur.WithField(field, value); err != nil {
			return err
		}
		var err error
		if e, err = m.create(id); err != nil {
			return err
		}
	}
	next, err := e.value.WithField(field, value)
	if err != nil {
		return err
	}
	m.gen++
	e.value = next
	e.staged[field] = struct{}{}
	e.gen = m.gen
	return nil
}

// Peek returns what the presentation layer shows: the overlay when one
// exists, otherwise the stored value.
func (m *Manager) Peek(id string) (domain.Resource, bool) {
	m.mu.Lock()
	e, ok := m.live(id)
	if ok {
		v := e.value
		m.mu.Unlock()
		return v, true
	}
	m.mu.Unlock()
	return m.store.Get(id)
}

// Cancel discards the overlay for id.
func (m *Manager) Cancel(id string) {
	m.mu.Lock()
	delete(m.entries, id)
	m.mu.Unlock()
}

// HasPendingChanges reports whether id has an overlay. An overlay is dirty
// from Begin or Stage until it is saved or cancelled, even when its values
// equal the stored ones.
func (m *Manager) HasPendingChanges(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.live(id)
	return ok
}

// Pending returns the staged fields with their overlay values and the
// overlay generation they belong to.
func (m *Manager) Pending(id string) (domain.Fields, uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(id)
	if !ok {
		return nil, 0, false
	}
	all := e.value.Fields()
	out := make(domain.Fields, len(e.staged))
	for name := range e.staged {
		out[name] = all[name]
	}
	return out, e.gen, true
}

// ClearIf removes the overlay only if nothing was staged since generation
// gen, so edits typed while a save was in flight survive its commit.
func (m *Manager) ClearIf(id string, gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(id)
	if !ok {
		return false
	}
	if e.gen != gen {
		return false
	}
	delete(m.entries, id)
	return true
}

// Rebase overwrites field with a server-confirmed value and unstages it. An
// overlay left with nothing staged is removed.
func (m *Manager) Rebase(id, field string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(id)
	if !ok {
		return nil
	}
	next, err := e.value.Merge(domain.Fields{field: value})
	if err != nil {
		return err
	}
	e.value = next
	delete(e.staged, field)
	if len(e.staged) == 0 {
		delete(m.entries, id)
	}
	return nil
}
