package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var samplePDF = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n<< /Root 1 0 R >>\n%%EOF\n")

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/doc", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(samplePDF)
	})
	mux.HandleFunc("/redirect", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/doc", http.StatusFound)
	})
	mux.HandleFunc("/html", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("<html><body>Sesión expirada</body></html>"))
	})
	mux.HandleFunc("/loop", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/loop", http.StatusFound)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchFollowsRedirects(t *testing.T) {
	srv := newServer(t)
	f := NewFetcher(Config{}, nil)
	data, err := f.Fetch(context.Background(), srv.URL+"/redirect")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(data) != string(samplePDF) {
		t.Fatalf("unexpected body %q", data)
	}
}

func TestFetchNon2xx(t *testing.T) {
	srv := newServer(t)
	f := NewFetcher(Config{}, nil)
	_, err := f.Fetch(context.Background(), srv.URL+"/missing")
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if fe.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", fe.StatusCode)
	}
}

func TestFetchRejectsNonPDF(t *testing.T) {
	srv := newServer(t)
	f := NewFetcher(Config{}, nil)
	_, err := f.Fetch(context.Background(), srv.URL+"/html")
	if !errors.Is(err, ErrNotPDF) {
		t.Fatalf("expected ErrNotPDF, got %v", err)
	}
}

func TestFetchSizeLimitAndRedirectLoop(t *testing.T) {
	srv := newServer(t)
	f := NewFetcher(Config{MaxBytes: 10}, nil)
	if _, err := f.Fetch(context.Background(), srv.URL+"/doc"); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
	f = NewFetcher(Config{MaxRedirects: 3, Timeout: 5 * time.Second}, nil)
	var fe *FetchError
	if _, err := f.Fetch(context.Background(), srv.URL+"/loop"); !errors.As(err, &fe) || fe.StatusCode != 0 {
		t.Fatalf("expected transport FetchError, got %v", err)
	}
}

func TestFetchNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	_, err := NewFetcher(Config{}, nil).Fetch(context.Background(), url+"/doc")
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FetchError, got %v", err)
	}
}

func TestIsPDF(t *testing.T) {
	if !IsPDF(samplePDF) || IsPDF(nil) || IsPDF([]byte("hello")) {
		t.Fatalf("IsPDF sniffing wrong")
	}
}
