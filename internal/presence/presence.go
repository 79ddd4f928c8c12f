package presence

import (
	"sync"
	"time"
)

// StaleAfter is how long a bridge may stay silent before it is reported
// offline. Bridges poll every few seconds, so three missed minutes means
// the workstation is gone.
const StaleAfter = 3 * time.Minute

// Bridge is one known bridge workstation, tracked by its self-assigned id.
type Bridge struct {
	ID           string    `json:"id"`
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
	RemoteAddr   string    `json:"remote_addr,omitempty"`
	CurrentJobID string    `json:"current_job_id,omitempty"`
	JobsDone     int       `json:"jobs_done"`
	JobsFailed   int       `json:"jobs_failed"`
}

// Online reports whether the bridge has polled recently.
func (b *Bridge) Online(now time.Time) bool {
	return now.Sub(b.LastSeen) < StaleAfter
}

// Registry tracks which bridge workstations are polling. Bridges never
// register explicitly; they are created on first contact and age out by
// silence.
type Registry struct {
	mu      sync.RWMutex
	bridges map[string]*Bridge
	now     func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		bridges: make(map[string]*Bridge),
		now:     time.Now,
	}
}

// Touch records a poll from a bridge, creating it on first contact.
func (r *Registry) Touch(id, remoteAddr string) {
	if id == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bridges[id]
	if !ok {
		b = &Bridge{ID: id, FirstSeen: r.now().UTC()}
		r.bridges[id] = b
	}
	b.LastSeen = r.now().UTC()
	if remoteAddr != "" {
		b.RemoteAddr = remoteAddr
	}
}

// SetWorking marks the job a bridge is currently carrying.
func (r *Registry) SetWorking(id, jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.bridges[id]; ok {
		b.CurrentJobID = jobID
	}
}

// JobDone clears the current job and bumps the outcome counter.
func (r *Registry) JobDone(id string, failed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bridges[id]
	if !ok {
		return
	}
	b.CurrentJobID = ""
	if failed {
		b.JobsFailed++
	} else {
		b.JobsDone++
	}
}

// Online reports whether any bridge has polled recently. The dispatcher
// uses this to warn when jobs queue up with nothing to carry them.
func (r *Registry) Online() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := r.now()
	for _, b := range r.bridges {
		if b.Online(now) {
			return true
		}
	}
	return false
}

// List returns a snapshot of all known bridges.
func (r *Registry) List() []Bridge {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Bridge, 0, len(r.bridges))
	for _, b := range r.bridges {
		out = append(out, *b)
	}
	return out
}
