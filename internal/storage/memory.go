package storage

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/recetas-tracker/constants"
)

var ErrObjectNotFound = errors.New("object not found")

// MemoryStore keeps objects in process. It doubles as an http.Handler serving
// "/<bucket>/<key>" so URLs it hands out can be fetched.
type MemoryStore struct {
	bucket  string
	baseURL string

	mu      sync.RWMutex
	objects map[string][]byte
	now     func() time.Time

	// FailPut, when set, is returned by Put.
	FailPut error
}

func NewMemoryStore(baseURL, bucket string) *MemoryStore {
	if bucket == "" {
		bucket = "recetas"
	}
	return &MemoryStore{bucket: bucket, baseURL: baseURL, objects: make(map[string][]byte), now: time.Now}
}

// SetBaseURL points generated URLs at the server hosting this store.
func (s *MemoryStore) SetBaseURL(base string) {
	s.mu.Lock()
	s.baseURL = base
	s.mu.Unlock()
}

func (s *MemoryStore) Put(ctx context.Context, data []byte, name string, ownerID uuid.UUID) (Object, error) {
	if s.FailPut != nil {
		return Object{}, s.FailPut
	}
	key := ObjectKey(ownerID, name, s.now())
	s.mu.Lock()
	s.objects[key] = append([]byte(nil), data...)
	s.mu.Unlock()
	url, _ := s.PublicURL(ctx, key)
	return Object{Key: key, URL: url}, nil
}

func (s *MemoryStore) PublicURL(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return joinURL(s.baseURL, s.bucket, key), nil
}

// Get returns a copy of the stored bytes.
func (s *MemoryStore) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.objects[key]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return append([]byte(nil), b...), nil
}

// Replace overwrites an existing object.
func (s *MemoryStore) Replace(key string, data []byte) {
	s.mu.Lock()
	s.objects[key] = append([]byte(nil), data...)
	s.mu.Unlock()
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

func (s *MemoryStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key, ok := strings.CutPrefix(r.URL.Path, "/"+s.bucket+"/")
	if !ok {
		http.NotFound(w, r)
		return
	}
	b, err := s.Get(key)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", constants.PDFMimeType)
	_, _ = w.Write(b)
}
