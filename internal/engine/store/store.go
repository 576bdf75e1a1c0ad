// Package store holds the last values the authoritative server reported for
// one resource collection. It never holds anything the server has not
// confirmed: in-progress edits live in the overlay package.
package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"taskdesk/internal/domain"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	mu    sync.RWMutex
	items map[string]domain.Resource
	epoch uint64
}

func New() *Store {
	return &Store{items: make(map[string]domain.Resource)}
}

// Load replaces the whole collection. It advances the epoch, which discards
// every overlay staged against the previous contents.
func (s *Store) Load(list []domain.Resource) {
	items := make(map[string]domain.Resource, len(list))
	for _, r := range list {
		if r == nil {
			continue
		}
		items[r.ResourceID()] = r
	}
	s.mu.Lock()
	s.items = items
	s.epoch++
	s.mu.Unlock()
}

// Epoch identifies the current full load.
func (s *Store) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

func (s *Store) Get(id string) (domain.Resource, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.items[id]
	return r, ok
}

// List returns the collection newest first, ties broken by id.
func (s *Store) List() []domain.Resource {
	s.mu.RLock()
	out := make([]domain.Resource, 0, len(s.items))
	for _, r := range s.items {
		out = append(out, r)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		ci, cj := createdAt(out[i]), createdAt(out[j])
		if ci != cj {
			return ci > cj
		}
		return out[i].ResourceID() < out[j].ResourceID()
	})
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Put inserts a resource the server just created.
func (s *Store) Put(r domain.Resource) {
	if r == nil {
		return
	}
	s.mu.Lock()
	s.items[r.ResourceID()] = r
	s.mu.Unlock()
}

// ApplyCommitted merges server-confirmed fields into the stored entity and
// returns the result.
func (s *Store) ApplyCommitted(id string, fields domain.Fields) (domain.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("apply committed %s: %w", id, ErrNotFound)
	}
	next, err := cur.Merge(fields)
	if err != nil {
		return nil, fmt.Errorf("apply committed %s: %w", id, err)
	}
	s.items[id] = next
	return next, nil
}

// Remove deletes id and reports whether it was present.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.items[id]
	delete(s.items, id)
	return ok
}

func createdAt(r domain.Resource) string {
	switch v := r.(type) {
	case domain.Task:
		return v.CreatedAt
	case domain.Account:
		return v.CreatedAt
	}
	return ""
}
