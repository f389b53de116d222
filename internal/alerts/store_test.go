package alerts

import (
	"testing"
	"time"

	"cortexsoc/internal/model"
)

func TestStoreEvictsOldest(t *testing.T) {
	s := NewStore(2)
	s.Add(model.Alert{ID: "a"})
	s.Add(model.Alert{ID: "b"})
	s.Add(model.Alert{ID: "c"})
	got := s.List(0)
	if len(got) != 2 || got[0].ID != "b" || got[1].ID != "c" {
		t.Fatalf("unexpected list: %+v", got)
	}
	if last := s.List(1); len(last) != 1 || last[0].ID != "c" {
		t.Fatalf("unexpected limited list: %+v", last)
	}
}

func TestStoreSince(t *testing.T) {
	s := NewStore(10)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.Add(model.Alert{ID: "old", CreatedAt: base})
	s.Add(model.Alert{ID: "new", CreatedAt: base.Add(time.Minute)})
	got := s.Since(base.Add(time.Second))
	if len(got) != 1 || got[0].ID != "new" {
		t.Fatalf("unexpected since result: %+v", got)
	}
	s.Clear()
	if s.Len() != 0 {
		t.Fatalf("expected empty store after clear")
	}
}
