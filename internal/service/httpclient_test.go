package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bundleup/bundleup/internal/logger"
)

func TestMain(m *testing.M) {
	logger.UseTestMode()
	os.Exit(m.Run())
}

func TestDownloadToFile_WritesContent(t *testing.T) {
	content := []byte("streamed payload")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(content)
	}))
	defer srv.Close()

	dst := filepath.Join(t.TempDir(), "out.bin")
	if err := DownloadToFile(context.Background(), NewHTTPClient(5*time.Second), srv.URL, dst, 0); err != nil {
		t.Fatalf("DownloadToFile: %v", err)
	}

	data, err := os.ReadFile(dst)
	if err != nil || string(data) != string(content) {
		t.Errorf("got %q err=%v", data, err)
	}
	if _, err := os.Stat(dst + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind after success")
	}
}

// A transfer that dies mid-stream must leave nothing at dst: no truncated
// final file and no temp file.
func TestDownloadToFile_InterruptedLeavesNoPartialFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000")
		_, _ = w.Write([]byte("only a fragment"))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		// Handler returns early; the client sees an unexpected EOF.
	}))
	defer srv.Close()

	dst := filepath.Join(t.TempDir(), "out.bin")
	err := DownloadToFile(context.Background(), NewHTTPClient(5*time.Second), srv.URL, dst, 0)
	if err == nil {
		t.Fatal("expected error from interrupted transfer")
	}

	if _, serr := os.Stat(dst); !os.IsNotExist(serr) {
		t.Error("truncated file left at destination")
	}
	if _, serr := os.Stat(dst + ".tmp"); !os.IsNotExist(serr) {
		t.Error("temp file left behind after failure")
	}
}

func TestFetchBytes_RespectsMaxSize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("0123456789"))
	}))
	defer srv.Close()

	data, err := FetchBytes(context.Background(), NewHTTPClient(5*time.Second), srv.URL, 4)
	if err != nil {
		t.Fatalf("FetchBytes: %v", err)
	}
	if string(data) != "0123" {
		t.Errorf("got %q, want first 4 bytes", data)
	}
}
