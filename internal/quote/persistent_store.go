package quote

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/granitex/quotebridge/internal/db"
)

const keyPrefix = "quotes/"

// PersistentStore keeps each quote as a single badger record. Lines live
// inside the record, so replacing them together with the status is one
// atomic write and a concurrent reader never observes a half-applied
// ingest.
type PersistentStore struct {
	dbStore *db.Store

	// claimMu serializes the read-check-write of ClaimNext. One
	// dispatcher process owns the database, so a process-local mutex is
	// what makes the claim a real test-and-set.
	claimMu sync.Mutex
}

func NewPersistentStore(dbStore *db.Store) *PersistentStore {
	return &PersistentStore{dbStore: dbStore}
}

func (s *PersistentStore) key(id string) string {
	return keyPrefix + id
}

func (s *PersistentStore) Add(q *Quote) error {
	return s.put(q)
}

func (s *PersistentStore) put(q *Quote) error {
	if err := s.dbStore.PutRecord(s.key(q.ID), q); err != nil {
		return fmt.Errorf("store quote: %w", err)
	}
	return nil
}

func (s *PersistentStore) Get(id string) (*Quote, error) {
	var q Quote
	if err := s.dbStore.GetRecord(s.key(id), &q); err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("get quote: %w", err)
	}
	return &q, nil
}

func (s *PersistentStore) GetByReference(ref string) (*Quote, error) {
	all, err := s.all()
	if err != nil {
		return nil, err
	}
	for _, q := range all {
		if q.Reference == ref {
			return q, nil
		}
	}
	return nil, fmt.Errorf("%w: reference %s", ErrNotFound, ref)
}

func (s *PersistentStore) Update(q *Quote) error {
	q.UpdatedAt = time.Now().UTC()
	return s.put(q)
}

func (s *PersistentStore) all() ([]*Quote, error) {
	keys, err := s.dbStore.Keys(keyPrefix)
	if err != nil {
		return nil, err
	}

	var quotes []*Quote
	for _, key := range keys {
		id := strings.TrimPrefix(key, keyPrefix)
		if id == "" || id == key {
			continue
		}
		q, err := s.Get(id)
		if err != nil {
			continue
		}
		quotes = append(quotes, q)
	}
	return quotes, nil
}

func (s *PersistentStore) List(limit, offset int, status string) ([]*Quote, int) {
	all, err := s.all()
	if err != nil {
		return []*Quote{}, 0
	}

	var filtered []*Quote
	for _, q := range all {
		if status == "" || string(q.Status) == status {
			filtered = append(filtered, q)
		}
	}

	// Most recent first for listings.
	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].UpdatedAt.After(filtered[j].UpdatedAt)
	})

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

func (s *PersistentStore) ClaimNext() (*Quote, error) {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	all, err := s.all()
	if err != nil {
		return nil, err
	}

	var pending []*Quote
	for _, q := range all {
		if q.Status.Pending() {
			pending = append(pending, q)
		}
	}
	if len(pending) == 0 {
		return nil, ErrNoPending
	}

	// Oldest last-modified first.
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].UpdatedAt.Before(pending[j].UpdatedAt)
	})

	q := pending[0]
	now := time.Now().UTC()
	q.Status = StatusClaimed
	q.FailReason = ""
	q.ClaimedAt = &now
	q.UpdatedAt = now
	if err := s.put(q); err != nil {
		return nil, err
	}
	return q, nil
}

func (s *PersistentStore) MarkHandoff(id, filename string) error {
	q, err := s.Get(id)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	q.HandoffAt = &now
	q.UpdatedAt = now
	return s.put(q)
}

func (s *PersistentStore) Complete(id string, lines []Line, total float64, artifacts []string) error {
	q, err := s.Get(id)
	if err != nil {
		return err
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
	return s.put(q)
}

func (s *PersistentStore) Fail(id string, reason FailReason) error {
	q, err := s.Get(id)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	q.Status = StatusFailed
	q.FailReason = reason
	q.CompletedAt = &now
	q.UpdatedAt = now
	return s.put(q)
}

func (s *PersistentStore) Requeue(id string) error {
	q, err := s.Get(id)
	if err != nil {
		return err
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
	return s.put(q)
}

func (s *PersistentStore) Stats() (pending, claimed, completed, failed int) {
	all, err := s.all()
	if err != nil {
		return 0, 0, 0, 0
	}
	for _, q := range all {
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
