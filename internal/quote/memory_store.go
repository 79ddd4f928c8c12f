package quote

import (
	"fmt"
	"sync"
	"time"
)

// MemoryStore keeps quotes in a mutex-guarded map. Used by tests and by
// deployments that do not need durability across restarts.
type MemoryStore struct {
	mu     sync.RWMutex
	quotes map[string]*Quote
	order  []string // insertion order, claim ties broken by UpdatedAt
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		quotes: make(map[string]*Quote),
		order:  make([]string, 0),
	}
}

func (s *MemoryStore) Add(q *Quote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[q.ID] = q
	s.order = append(s.order, q.ID)
	return nil
}

func (s *MemoryStore) Get(id string) (*Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quotes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return q, nil
}

func (s *MemoryStore) GetByReference(ref string) (*Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.order {
		if q := s.quotes[id]; q.Reference == ref {
			return q, nil
		}
	}
	return nil, fmt.Errorf("%w: reference %s", ErrNotFound, ref)
}

func (s *MemoryStore) Update(q *Quote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.quotes[q.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, q.ID)
	}
	q.UpdatedAt = time.Now().UTC()
	s.quotes[q.ID] = q
	return nil
}

func (s *MemoryStore) List(limit, offset int, status string) ([]*Quote, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var filtered []*Quote
	for _, id := range s.order {
		q := s.quotes[id]
		if status == "" || string(q.Status) == status {
			filtered = append(filtered, q)
		}
	}

	total := len(filtered)
	if offset >= total {
		return []*Quote{}, total
	}

	end := offset + limit
	if end > total {
		end = total
	}

	return filtered[offset:end], total
}

func (s *MemoryStore) ClaimNext() (*Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var oldest *Quote
	for _, id := range s.order {
		q := s.quotes[id]
		if !q.Status.Pending() {
			continue
		}
		if oldest == nil || q.UpdatedAt.Before(oldest.UpdatedAt) {
			oldest = q
		}
	}
	if oldest == nil {
		return nil, ErrNoPending
	}

	now := time.Now().UTC()
	oldest.Status = StatusClaimed
	oldest.FailReason = ""
	oldest.ClaimedAt = &now
	oldest.UpdatedAt = now
	return oldest, nil
}

func (s *MemoryStore) MarkHandoff(id, filename string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quotes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	now := time.Now().UTC()
	q.HandoffAt = &now
	q.UpdatedAt = now
	return nil
}

func (s *MemoryStore) Complete(id string, lines []Line, total float64, artifacts []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quotes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	now := time.Now().UTC()
	q.Lines = lines
	q.TotalAmount = total
	if len(artifacts) > 0 {
		q.ArtifactPaths = artifacts
	}
	q.Status = StatusCompleted
	q.FailReason = ""
	q.CompletedAt = &now
	q.UpdatedAt = now
	return nil
}

func (s *MemoryStore) Fail(id string, reason FailReason) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quotes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	now := time.Now().UTC()
	q.Status = StatusFailed
	q.FailReason = reason
	q.CompletedAt = &now
	q.UpdatedAt = now
	return nil
}

func (s *MemoryStore) Requeue(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quotes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if q.Status != StatusFailed {
		return fmt.Errorf("%w: %s is %s", ErrNotClaimable, id, q.Status)
	}
	q.Status = StatusPendingDispatch
	if q.Kind == KindReintegrate {
		q.Status = StatusPendingReimport
	}
	q.FailReason = ""
	q.ClaimedAt = nil
	q.HandoffAt = nil
	q.CompletedAt = nil
	q.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) Stats() (pending, claimed, completed, failed int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, q := range s.quotes {
		switch {
		case q.Status.Pending():
			pending++
		case q.Status == StatusClaimed:
			claimed++
		case q.Status == StatusCompleted:
			completed++
		case q.Status == StatusFailed:
			failed++
		}
	}
	return
}
