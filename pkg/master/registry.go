package master

import (
	"sort"
	"sync"
	"time"

	"github.com/baxromumarov/ha-master/pkg/protocol"
)

// Entry is one registered master-local transaction
type Entry struct {
	Handle       TransactionHandle
	Context      protocol.RequestContext
	AdmittedAt   time.Time
	LastActivity time.Time
}

// Registry maps a request key to the transaction begun for it. A single
// mutex guards the map; no method performs I/O while holding it.
type Registry struct {
	mu      sync.Mutex
	entries map[protocol.ContextKey]*Entry
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[protocol.ContextKey]*Entry),
	}
}

// Put files e under key. An existing entry is never replaced: the call
// fails with ErrDuplicateRequest and the caller still owns e.Handle.
func (r *Registry) Put(key protocol.ContextKey, e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[key]; exists {
		return ErrDuplicateRequest
	}
	r.entries[key] = &e
	return nil
}

// Get returns a copy of the entry for key
func (r *Registry) Get(key protocol.ContextKey) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Remove deletes and returns the entry for key. Ownership of the handle
// passes to the caller.
func (r *Registry) Remove(key protocol.ContextKey) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok {
		return Entry{}, false
	}
	delete(r.entries, key)
	return *e, true
}

// RemoveHandle removes the entry for key only if it still holds h.
func (r *Registry) RemoveHandle(key protocol.ContextKey, h TransactionHandle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok || e.Handle != h {
		return false
	}
	delete(r.entries, key)
	return true
}

// RemoveIfIdle removes the entry for key only if it is still idle past
// timeout at now. Activity between Idle and this call keeps the entry.
func (r *Registry) RemoveIfIdle(key protocol.ContextKey, now time.Time, timeout time.Duration) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok || now.Sub(e.LastActivity) <= timeout {
		return Entry{}, false
	}
	delete(r.entries, key)
	return *e, true
}

// Touch records activity on key so the reaper leaves it alone.
func (r *Registry) Touch(key protocol.ContextKey, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if ok {
		e.LastActivity = now
	}
	return ok
}

// Len returns the number of live entries
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Keys returns all live keys ordered by session then event identifier
func (r *Registry) Keys() []protocol.ContextKey {
	r.mu.Lock()
	keys := make([]protocol.ContextKey, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	r.mu.Unlock()

	sortKeys(keys)
	return keys
}

// Idle returns the keys whose last activity is older than timeout at now.
func (r *Registry) Idle(now time.Time, timeout time.Duration) []protocol.ContextKey {
	r.mu.Lock()
	var keys []protocol.ContextKey
	for k, e := range r.entries {
		if now.Sub(e.LastActivity) > timeout {
			keys = append(keys, k)
		}
	}
	r.mu.Unlock()

	sortKeys(keys)
	return keys
}

// Snapshot returns copies of all entries in key order
func (r *Registry) Snapshot() []Entry {
	r.mu.Lock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, *e)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return keyLess(out[i].Context.Key(), out[j].Context.Key())
	})
	return out
}

func sortKeys(keys []protocol.ContextKey) {
	sort.Slice(keys, func(i, j int) bool { return keyLess(keys[i], keys[j]) })
}

func keyLess(a, b protocol.ContextKey) bool {
	if a.SessionID != b.SessionID {
		return a.SessionID < b.SessionID
	}
	return a.EventIdentifier < b.EventIdentifier
}
