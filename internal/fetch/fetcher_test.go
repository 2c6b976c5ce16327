package fetch

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPFetcherGetReturnsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello playlist"))
	}))
	defer srv.Close()

	f, err := NewHTTPFetcher(DefaultConfig())
	if err != nil {
		t.Fatalf("NewHTTPFetcher: %v", err)
	}

	body, err := f.Get(t.Context(), srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(body) != "hello playlist" {
		t.Fatalf("unexpected body: %q", body)
	}
}

func TestHTTPFetcherPersistsCookiesAcrossRequests(t *testing.T) {
	var sawCookie bool
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.SetCookie(w, &http.Cookie{Name: "sid", Value: "abc123"})
			w.Write([]byte("master"))
			return
		}
		if c, err := r.Cookie("sid"); err == nil && c.Value == "abc123" {
			sawCookie = true
		}
		w.Write([]byte("media"))
	}))
	defer srv.Close()

	f, err := NewHTTPFetcher(DefaultConfig())
	if err != nil {
		t.Fatalf("NewHTTPFetcher: %v", err)
	}

	if _, err := f.Get(t.Context(), srv.URL); err != nil {
		t.Fatalf("first Get: %v", err)
	}
	if _, err := f.Get(t.Context(), srv.URL); err != nil {
		t.Fatalf("second Get: %v", err)
	}
	if !sawCookie {
		t.Fatal("expected cookie set on first response to be sent on second request")
	}
}

func TestHTTPFetcherOpenStreamsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 188*5))
	}))
	defer srv.Close()

	f, err := NewHTTPFetcher(DefaultConfig())
	if err != nil {
		t.Fatalf("NewHTTPFetcher: %v", err)
	}

	rc, err := f.Open(t.Context(), srv.URL)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()

	n, err := io.Copy(io.Discard, rc)
	if err != nil {
		t.Fatalf("copy: %v", err)
	}
	if n != 188*5 {
		t.Fatalf("expected %d bytes, got %d", 188*5, n)
	}
}

func TestHTTPFetcherGetNonOKStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f, err := NewHTTPFetcher(DefaultConfig())
	if err != nil {
		t.Fatalf("NewHTTPFetcher: %v", err)
	}

	if _, err := f.Get(t.Context(), srv.URL); err == nil {
		t.Fatal("expected an error for a 404 response")
	}
}
