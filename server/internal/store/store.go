package store

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/ulanzi/decksim/pkg/deckctx"
)

// Entry is a stored configuration payload together with the time it was
// last written.
type Entry struct {
	Context   string
	Param     json.RawMessage
	UpdatedAt time.Time
}

// Assignment records which action occupies a key. Raw keeps the object the
// deck sent, which carries rendering data the hub never interprets.
type Assignment struct {
	deckctx.Identity
	Raw json.RawMessage
}

// MarshalJSON returns the deck's original object when there is one.
func (a Assignment) MarshalJSON() ([]byte, error) {
	if len(a.Raw) > 0 {
		return a.Raw, nil
	}
	return json.Marshal(a.Identity)
}

// Matches reports whether the assignment names exactly uuid and actionID.
func (a Assignment) Matches(uuid, actionID string) bool {
	return a.UUID == uuid && a.ActionID == actionID
}

// Store is the in-memory session state: the last configuration payload per
// context and the current key → action assignment map. Params are opaque
// JSON and are never validated. Nothing expires; entries live until Clear
// or process exit.
//
// Store is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	params map[string]*Entry
	keys   map[string]Assignment
	now    func() time.Time // injectable for deterministic tests
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		params: make(map[string]*Entry),
		keys:   make(map[string]Assignment),
		now:    time.Now,
	}
}

// SetParam stores or replaces the payload for context.
// Callers must not modify param after calling SetParam.
func (s *Store) SetParam(context string, param json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params[context] = &Entry{
		Context:   context,
		Param:     param,
		UpdatedAt: s.now(),
	}
}

// GetParam returns the payload last stored for context.
func (s *Store) GetParam(context string) (json.RawMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.params[context]
	if !ok {
		return nil, false
	}
	return e.Param, true
}

// Get returns the full entry for context.
func (s *Store) Get(context string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.params[context]
	return e, ok
}

// List returns all param entries sorted by context.
func (s *Store) List() []*Entry {
	s.mu.RLock()
	out := make([]*Entry, 0, len(s.params))
	for _, e := range s.params {
		out = append(out, e)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Context < out[j].Context })
	return out
}

// Clear removes the payload for context and reports whether one existed.
// Active-key entries are left to Unassign.
func (s *Store) Clear(context string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.params[context]
	delete(s.params, context)
	return ok
}

// Count returns the number of stored params.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.params)
}

// ActiveKeys returns a copy of the key assignment map.
func (s *Store) ActiveKeys() map[string]Assignment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Assignment, len(s.keys))
	for k, a := range s.keys {
		out[k] = a
	}
	return out
}

// SetActiveKeys replaces the whole key assignment map.
func (s *Store) SetActiveKeys(keys map[string]Assignment) {
	next := make(map[string]Assignment, len(keys))
	for k, a := range keys {
		next[k] = a
	}
	s.mu.Lock()
	s.keys = next
	s.mu.Unlock()
}

// Assign puts a on its key, replacing whatever was there, and returns the
// previous assignment.
func (s *Store) Assign(a Assignment) (Assignment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.keys[a.Key]
	s.keys[a.Key] = a
	return prev, ok
}

// Assigned returns the assignment for key.
func (s *Store) Assigned(key string) (Assignment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.keys[key]
	return a, ok
}

// IsKeyAssignedTo reports whether key is currently occupied by exactly the
// action (uuid, actionID).
func (s *Store) IsKeyAssignedTo(key, uuid, actionID string) bool {
	a, ok := s.Assigned(key)
	return ok && a.Matches(uuid, actionID)
}

// Unassign removes the assignment for id.Key if it names id exactly and
// reports whether it did.
func (s *Store) Unassign(id deckctx.Identity) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.keys[id.Key]
	if !ok || !a.Matches(id.UUID, id.ActionID) {
		return false
	}
	delete(s.keys, id.Key)
	return true
}
