// Package tracker records which mutating operations are in flight so that a
// duplicate submit is refused locally instead of reaching the server twice.
package tracker

import (
	"sort"
	"sync"
	"time"
)

type Kind string

const (
	KindSave             Kind = "save"
	KindDelete           Kind = "delete"
	KindRoleChange       Kind = "role-change"
	KindDepartmentChange Kind = "department-change"
	KindCreate           Kind = "create"
)

// Token marks one live operation.
type Token struct {
	EntityID  string    `json:"entity_id"`
	Kind      Kind      `json:"kind"`
	StartedAt time.Time `json:"started_at"`
}

type key struct {
	id   string
	kind Kind
}

type Tracker struct {
	mu     sync.Mutex
	tokens map[key]Token
	Now    func() time.Time
}

func New() *Tracker {
	return &Tracker{tokens: make(map[key]Token), Now: time.Now}
}

func (t *Tracker) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

// TryBegin claims (id, kind). It returns false when that pair is already in
// flight; the caller must not issue the remote call.
func (t *Tracker) TryBegin(id string, kind Kind) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := key{id, kind}
	if _, busy := t.tokens[k]; busy {
		return false
	}
	t.tokens[k] = Token{EntityID: id, Kind: kind, StartedAt: t.now()}
	return true
}

// End releases (id, kind). Ending a pair that is not live is a no-op.
func (t *Tracker) End(id string, kind Kind) {
	t.mu.Lock()
	delete(t.tokens, key{id, kind})
	t.mu.Unlock()
}

// Acquire is TryBegin returning a release func that may be called any
// number of times; only the first call ends the token.
func (t *Tracker) Acquire(id string, kind Kind) (release func(), ok bool) {
	if !t.TryBegin(id, kind) {
		return func() {}, false
	}
	var once sync.Once
	return func() { once.Do(func() { t.End(id, kind) }) }, true
}

func (t *Tracker) IsBusy(id string, kind Kind) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, busy := t.tokens[key{id, kind}]
	return busy
}

// Busy reports whether id has any operation in flight.
func (t *Tracker) Busy(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k := range t.tokens {
		if k.id == id {
			return true
		}
	}
	return false
}

// Tokens returns the live tokens ordered by start time.
func (t *Tracker) Tokens() []Token {
	t.mu.Lock()
	out := make([]Token, 0, len(t.tokens))
	for _, tok := range t.tokens {
		out = append(out, tok)
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		if out[i].EntityID != out[j].EntityID {
			return out[i].EntityID < out[j].EntityID
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}
