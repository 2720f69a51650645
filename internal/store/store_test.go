package store

import (
	"encoding/json"
	"path/filepath"
	"testing"
)

type doc struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_GetPut(t *testing.T) {
	s := newTestStore(t)

	var got doc
	ok, err := s.Get("stats", &got)
	if err != nil || ok {
		t.Fatalf("missing key: ok=%v err=%v", ok, err)
	}

	if err := s.Put("stats", doc{Name: "a", Count: 1}); err != nil {
		t.Fatal(err)
	}
	if err := s.Put("stats", doc{Name: "a", Count: 2}); err != nil {
		t.Fatal(err)
	}
	ok, err = s.Get("stats", &got)
	if err != nil || !ok || got.Count != 2 {
		t.Errorf("got %+v ok=%v err=%v", got, ok, err)
	}

	if err := s.Delete("stats", "never-set"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.Get("stats", &got); ok {
		t.Error("key should be gone")
	}
}

func TestStore_PutAll(t *testing.T) {
	s := newTestStore(t)
	if err := s.PutAll(map[string]any{"a": doc{Count: 1}, "b": doc{Count: 2}}); err != nil {
		t.Fatal(err)
	}
	var a, b doc
	if ok, _ := s.Get("a", &a); !ok || a.Count != 1 {
		t.Errorf("a = %+v", a)
	}
	if ok, _ := s.Get("b", &b); !ok || b.Count != 2 {
		t.Errorf("b = %+v", b)
	}
}

func TestStore_HistoryCapped(t *testing.T) {
	s := newTestStore(t)
	for i := 1; i <= 7; i++ {
		if err := s.AppendHistory(doc{Count: i}, 5); err != nil {
			t.Fatal(err)
		}
	}
	raw, err := s.History(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(raw))
	}
	for i, r := range raw {
		var d doc
		if err := json.Unmarshal(r, &d); err != nil {
			t.Fatal(err)
		}
		if want := 7 - i; d.Count != want {
			t.Errorf("entry %d = %d, want %d (newest first)", i, d.Count, want)
		}
	}

	top, err := s.History(2)
	if err != nil || len(top) != 2 {
		t.Errorf("History(2) = %d entries, err %v", len(top), err)
	}

	if err := s.ClearHistory(); err != nil {
		t.Fatal(err)
	}
	if raw, _ := s.History(0); len(raw) != 0 {
		t.Errorf("history not cleared: %d", len(raw))
	}
}

func TestStore_PersistsToDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spendshield.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Put("profile", doc{Name: "alex"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	var got doc
	if ok, err := s.Get("profile", &got); !ok || err != nil || got.Name != "alex" {
		t.Errorf("reopened: %+v ok=%v err=%v", got, ok, err)
	}
}
