package session

import (
	"io"
	"sort"
	"sync"
	"time"
)

// Registry is the inventory of live relay sessions, keyed by browser
// connection id. Each entry is written only by the session that owns it; the
// registry never coordinates between sessions.
type Registry struct {
	mu        sync.RWMutex
	queues    map[string]*Queue
	upstreams map[string]io.Closer
	infos     map[string]*Info
}

func NewRegistry() *Registry {
	return &Registry{
		queues:    make(map[string]*Queue),
		upstreams: make(map[string]io.Closer),
		infos:     make(map[string]*Info),
	}
}

// Open creates the queue and (empty) upstream entries for a newly accepted
// browser connection and returns its queue.
func (r *Registry) Open(id, remoteAddr string) *Queue {
	q := NewQueue()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queues[id] = q
	r.upstreams[id] = nil
	r.infos[id] = &Info{
		ID:          id,
		RemoteAddr:  remoteAddr,
		State:       Connecting,
		ConnectedAt: time.Now(),
	}
	return q
}

// AttachUpstream records the upstream handle for id. It returns false if the
// entry has already been removed.
func (r *Registry) AttachUpstream(id string, up io.Closer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.upstreams[id]; !ok {
		return false
	}
	r.upstreams[id] = up
	return true
}

func (r *Registry) SetState(id string, st State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.infos[id]
	if !ok {
		return
	}
	info.State = st
	if st == Active && info.ActiveAt.IsZero() {
		info.ActiveAt = time.Now()
	}
}

func (r *Registry) Queue(id string) (*Queue, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	q, ok := r.queues[id]
	return q, ok
}

// Upstream returns the upstream handle for id. ok is true while the entry
// exists, even before a handle has been attached.
func (r *Registry) Upstream(id string) (io.Closer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	up, ok := r.upstreams[id]
	return up, ok
}

func (r *Registry) Get(id string) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.infos[id]
	if !ok {
		return Info{}, false
	}
	return r.snapshotLocked(info), true
}

// GetAll returns snapshots of every entry, oldest connection first.
func (r *Registry) GetAll() []Info {
	r.mu.RLock()
	result := make([]Info, 0, len(r.infos))
	for _, info := range r.infos {
		result = append(result, r.snapshotLocked(info))
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].ConnectedAt.Equal(result[j].ConnectedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].ConnectedAt.Before(result[j].ConnectedAt)
	})
	return result
}

func (r *Registry) snapshotLocked(info *Info) Info {
	c := *info
	if q, ok := r.queues[info.ID]; ok {
		c.Pending = q.Len()
	}
	c.Upstream = r.upstreams[info.ID] != nil
	return c
}

// Remove deletes every entry for id.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.queues, id)
	delete(r.upstreams, id)
	delete(r.infos, id)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.infos)
}

// ActiveCount returns the number of sessions currently relaying.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, info := range r.infos {
		if info.State == Active {
			count++
		}
	}
	return count
}
