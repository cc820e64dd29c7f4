package images

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestHTTPFetcher_WritesSpoolFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("jpeg-bytes"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	f, err := NewHTTPFetcher(filepath.Join(dir, "spool"), 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}

	f.Fetch(7, srv.URL+"/image.jpg")

	data, err := os.ReadFile(filepath.Join(dir, "spool", "7.jpg"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "jpeg-bytes" {
		t.Fatalf("spool content: %q", data)
	}
}

func TestHTTPFetcher_EmptyURLIsIgnored(t *testing.T) {
	dir := t.TempDir()
	f, err := NewHTTPFetcher(dir, time.Second)
	if err != nil {
		t.Fatal(err)
	}

	f.Fetch(7, "")

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("nothing should be written, got %v", entries)
	}
}

func TestHTTPFetcher_UpstreamErrorNeverPanics(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	f, err := NewHTTPFetcher(t.TempDir(), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	// Failures are logged, never returned.
	f.Fetch(7, srv.URL+"/missing.jpg")
}
