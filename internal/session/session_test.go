package session

import (
	"testing"

	"github.com/example/storesheet/internal/dataset"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	if r.Len() != 0 {
		t.Fatalf("new registry len = %d", r.Len())
	}

	s := &Session{ID: "sess-1", Filename: "inventory.xlsx", Records: dataset.New(nil)}
	r.Add(s)

	got, ok := r.Get("sess-1")
	if !ok || got.Filename != "inventory.xlsx" {
		t.Fatalf("Get = %+v ok=%v", got, ok)
	}
	if _, ok := r.Get("other"); ok {
		t.Fatal("unknown id must miss")
	}

	removed, ok := r.Remove("sess-1")
	if !ok || removed.ID != "sess-1" {
		t.Fatalf("Remove = %+v ok=%v", removed, ok)
	}
	if _, ok := r.Remove("sess-1"); ok {
		t.Fatal("second Remove must report a miss")
	}
	if r.Len() != 0 {
		t.Fatalf("len after remove = %d", r.Len())
	}
}
