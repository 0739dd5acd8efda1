package presence

import (
	"slices"
	"sync"

	"github.com/chilledoj/atmosphere/internal/protocol"
)

// Registry maps live connections that have reported a location to their last
// coordinates. Only the room loop mutates it; the lock lets HTTP handlers
// read snapshots concurrently.
type Registry struct {
	mu      sync.RWMutex
	records map[string]entry
	nextSeq uint64
}

type entry struct {
	record protocol.UserRecord
	seq    uint64
}

// Snapshot is the broadcastable view of the registry.
type Snapshot struct {
	Users []protocol.UserRecord `json:"users"`
	Count int                   `json:"count"`
}

func NewRegistry() *Registry {
	return &Registry{records: make(map[string]entry)}
}

// Update inserts or overwrites the record for id. It reports whether the
// record was created.
func (r *Registry) Update(id string, lat, lng float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.records[id]
	if !ok {
		r.nextSeq++
		e.seq = r.nextSeq
	}
	e.record = protocol.UserRecord{ID: id, Lat: lat, Lng: lng}
	r.records[id] = e
	return !ok
}

// Remove deletes the record for id and reports whether one existed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[id]; !ok {
		return false
	}
	delete(r.records, id)
	return true
}

func (r *Registry) Get(id string) (protocol.UserRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.records[id]
	return e.record, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Snapshot returns the records in the order their connections first reported
// a location. Users is never nil.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	entries := make([]entry, 0, len(r.records))
	for _, e := range r.records {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	slices.SortFunc(entries, func(a, b entry) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		default:
			return 0
		}
	})
	users := make([]protocol.UserRecord, len(entries))
	for i, e := range entries {
		users[i] = e.record
	}
	return Snapshot{Users: users, Count: len(users)}
}
