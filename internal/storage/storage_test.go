package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestObjectKey(t *testing.T) {
	owner := uuid.MustParse("7c8a3e1e-0000-4000-8000-000000000001")
	now := time.UnixMilli(1700000000123)
	got := ObjectKey(owner, "../../etc/orden.pdf", now)
	want := owner.String() + "/1700000000123-orden.pdf"
	if got != want {
		t.Fatalf("ObjectKey = %q, want %q", got, want)
	}
	if !strings.HasSuffix(ObjectKey(owner, "", now), "-document.pdf") {
		t.Fatalf("empty names need a fallback")
	}
}

func TestMemoryStoreServesStoredObjects(t *testing.T) {
	store := NewMemoryStore("", "recetas")
	srv := httptest.NewServer(store)
	defer srv.Close()
	store.SetBaseURL(srv.URL)

	obj, err := store.Put(context.Background(), []byte("%PDF-1.4 hi"), "a.pdf", uuid.New())
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if !strings.HasPrefix(obj.URL, srv.URL+"/recetas/") {
		t.Fatalf("unexpected url %q", obj.URL)
	}
	resp, err := http.Get(obj.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "%PDF-1.4 hi" {
		t.Fatalf("unexpected response %d %q", resp.StatusCode, body)
	}

	miss, err := http.Get(srv.URL + "/recetas/nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	miss.Body.Close()
	if miss.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", miss.StatusCode)
	}
}
