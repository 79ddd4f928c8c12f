package db

import (
	"errors"
	"testing"
)

type record struct {
	Name  string  `json:"name"`
	Total float64 `json:"total"`
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_RecordRoundTrip(t *testing.T) {
	s := newTestStore(t)

	if err := s.PutRecord("quotes/q1", record{Name: "Q-001", Total: 230}); err != nil {
		t.Fatalf("put: %v", err)
	}

	var got record
	if err := s.GetRecord("quotes/q1", &got); err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "Q-001" || got.Total != 230 {
		t.Errorf("got %+v", got)
	}

	// Puts replace the value whole.
	if err := s.PutRecord("quotes/q1", record{Name: "Q-001"}); err != nil {
		t.Fatalf("second put: %v", err)
	}
	if err := s.GetRecord("quotes/q1", &got); err != nil {
		t.Fatalf("get after replace: %v", err)
	}
	if got.Total != 0 {
		t.Errorf("total = %v, want the replaced value", got.Total)
	}
}

func TestStore_GetMissingKey(t *testing.T) {
	s := newTestStore(t)

	var got record
	if err := s.GetRecord("quotes/nope", &got); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("err = %v, want ErrKeyNotFound", err)
	}
}

func TestStore_KeysByPrefix(t *testing.T) {
	s := newTestStore(t)
	s.PutRecord("quotes/a", record{})
	s.PutRecord("quotes/b", record{})
	s.PutRecord("other/c", record{})

	keys, err := s.Keys("quotes/")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("got %d keys under quotes/, want 2: %v", len(keys), keys)
	}
}
