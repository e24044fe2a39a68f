package registry

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
)

// ErrStaleConnection is returned by Conn.Send when the underlying socket has
// already closed. Callers treat it as a silent drop.
var ErrStaleConnection = errors.New("stale connection")

// Conn is an open, writable connection handle. Handles are compared by
// identity, so implementations must be pointer types.
type Conn interface {
	// Send queues one frame. It must not block and must not panic on a
	// closed connection.
	Send(data []byte) error

	// Alive reports whether the socket is still open.
	Alive() bool
}

// Kind tells which map an entry lives in.
type Kind string

const (
	KindMain   Kind = "main"
	KindAction Kind = "action"
	KindDeck   Kind = "deck"
)

// Entry is one registered connection.
type Entry struct {
	Kind Kind
	Key  string // main-service uuid or action context; empty for the deck
	Conn Conn
}

// Registry maps main-service UUIDs and action contexts to live connections,
// plus a single slot for the virtual deck. At most one entry exists per key;
// registering again replaces the previous handle without closing it.
//
// Registry is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	mains   map[string]Conn
	actions map[string]Conn
	deck    Conn
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		mains:   make(map[string]Conn),
		actions: make(map[string]Conn),
	}
}

// RegisterMain stores c as the main service for uuid and returns the handle
// it replaced, if any.
func (r *Registry) RegisterMain(uuid string, c Conn) Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.mains[uuid]
	r.mains[uuid] = c
	return prev
}

// RegisterAction stores c as the action instance for context and returns
// the handle it replaced, if any.
func (r *Registry) RegisterAction(context string, c Conn) Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.actions[context]
	r.actions[context] = c
	return prev
}

// LookupMain returns the live main-service connection for uuid.
func (r *Registry) LookupMain(uuid string) (Conn, bool) {
	return r.lookup(r.mains, KindMain, uuid)
}

// LookupAction returns the live action-instance connection for context.
func (r *Registry) LookupAction(context string) (Conn, bool) {
	return r.lookup(r.actions, KindAction, context)
}

// lookup returns the entry for key if it is alive. A dead entry is removed
// on the way out so the next lookup does not see it.
func (r *Registry) lookup(m map[string]Conn, kind Kind, key string) (Conn, bool) {
	r.mu.RLock()
	c, ok := m[key]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.Alive() {
		return c, true
	}

	r.mu.Lock()
	if m[key] == c {
		delete(m, key)
		slog.Debug("registry: dropped stale entry", "kind", kind, "key", key)
	}
	r.mu.Unlock()
	return nil, false
}

// IsMain reports whether c is the handle currently registered as the main
// service for uuid. This is the only trusted way to tell who sent a message.
func (r *Registry) IsMain(uuid string, c Conn) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.mains[uuid]
	return ok && m == c
}

// Remove deletes every entry holding c, including the deck slot, and returns
// the removed entries. Close events carry no reliable identity, so removal
// goes by handle rather than by key; a newer connection registered under the
// same key is left alone.
func (r *Registry) Remove(c Conn) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []Entry
	for k, v := range r.mains {
		if v == c {
			delete(r.mains, k)
			removed = append(removed, Entry{Kind: KindMain, Key: k, Conn: c})
		}
	}
	for k, v := range r.actions {
		if v == c {
			delete(r.actions, k)
			removed = append(removed, Entry{Kind: KindAction, Key: k, Conn: c})
		}
	}
	if r.deck != nil && r.deck == c {
		r.deck = nil
		removed = append(removed, Entry{Kind: KindDeck, Conn: c})
	}
	return removed
}

// SetDeck installs c as the virtual deck and returns the previous one.
func (r *Registry) SetDeck(c Conn) Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.deck
	r.deck = c
	return prev
}

// Deck returns the live virtual-deck connection.
func (r *Registry) Deck() (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.deck == nil || !r.deck.Alive() {
		return nil, false
	}
	return r.deck, true
}

// Entries returns all registered connections sorted by kind then key.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.mains)+len(r.actions)+1)
	for k, c := range r.mains {
		out = append(out, Entry{Kind: KindMain, Key: k, Conn: c})
	}
	for k, c := range r.actions {
		out = append(out, Entry{Kind: KindAction, Key: k, Conn: c})
	}
	if r.deck != nil {
		out = append(out, Entry{Kind: KindDeck, Conn: r.deck})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Count returns the number of registered entries per kind.
func (r *Registry) Count() map[Kind]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := map[Kind]int{
		KindMain:   len(r.mains),
		KindAction: len(r.actions),
		KindDeck:   0,
	}
	if r.deck != nil {
		n[KindDeck] = 1
	}
	return n
}
